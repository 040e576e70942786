package pipeline

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/veesix-networks/osvnsh/pkg/tunnel"
)

// DropReason classifies why the pipeline discarded a packet.
type DropReason uint8

const (
	DropProtocol DropReason = iota
	DropLookupMiss
	DropEncapsulation
	DropRouting
	DropResource
	DropTransmit
	numDropReasons
)

var dropReasonNames = [numDropReasons]string{
	DropProtocol:      "protocol_error",
	DropLookupMiss:    "lookup_miss",
	DropEncapsulation: "encapsulation_error",
	DropRouting:       "routing_error",
	DropResource:      "resource_error",
	DropTransmit:      "transmit_error",
}

func (r DropReason) String() string {
	if r < numDropReasons {
		return dropReasonNames[r]
	}
	return fmt.Sprintf("drop(%d)", uint8(r))
}

// DropReasons lists every reason in counter order.
func DropReasons() []DropReason {
	out := make([]DropReason, numDropReasons)
	for i := range out {
		out[i] = DropReason(i)
	}
	return out
}

var (
	ErrProtocol   = errors.New("pipeline: malformed nsh header")
	ErrLookupMiss = errors.New("pipeline: no usable forwarding entry")
	ErrResource   = errors.New("pipeline: out of buffer space")
	ErrClosed     = errors.New("pipeline: closed")
	ErrNotHandled = tunnel.ErrNotHandled
)

// classify maps a transport failure to its drop reason.
func classify(err error) DropReason {
	switch {
	case errors.Is(err, tunnel.ErrRouting):
		return DropRouting
	case errors.Is(err, tunnel.ErrEncapsulation):
		return DropEncapsulation
	case errors.Is(err, tunnel.ErrResource), errors.Is(err, ErrResource):
		return DropResource
	default:
		return DropTransmit
	}
}

type dropCounters [numDropReasons]atomic.Uint64

func (d *dropCounters) snapshot() map[DropReason]uint64 {
	out := make(map[DropReason]uint64, numDropReasons)
	for i := range d {
		out[DropReason(i)] = d[i].Load()
	}
	return out
}

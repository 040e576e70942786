// Package tunnel carries NSH framed packets between hosts.
//
// Encapsulation is a strategy per fib.EncapType. Only VXLAN-GPE is
// implemented; the other types are registered as explicit stubs that fail
// every packet, so a path configured with them drops traffic visibly
// instead of silently.
package tunnel

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/gopacket"
	"github.com/veesix-networks/osvnsh/pkg/fib"
	"github.com/veesix-networks/osvnsh/pkg/logger"
	"github.com/veesix-networks/osvnsh/pkg/vxlangpe"
)

var (
	ErrRouting       = errors.New("tunnel: no route to remote")
	ErrEncapsulation = errors.New("tunnel: encapsulation failed")
	ErrResource      = errors.New("tunnel: cannot reserve header space")
	ErrNotHandled    = errors.New("tunnel: datagram not handled")
)

// Encapsulator prepends the tunnel headers for a remote next hop to buf and
// transmits the result.
type Encapsulator interface {
	Encapsulate(buf gopacket.SerializeBuffer, remote *fib.Remote) error
}

// EncapsulatorFunc adapts a function to Encapsulator.
type EncapsulatorFunc func(buf gopacket.SerializeBuffer, remote *fib.Remote) error

func (f EncapsulatorFunc) Encapsulate(buf gopacket.SerializeBuffer, remote *fib.Remote) error {
	return f(buf, remote)
}

// Unsupported returns an Encapsulator that rejects every packet.
func Unsupported(t fib.EncapType) Encapsulator {
	return EncapsulatorFunc(func(gopacket.SerializeBuffer, *fib.Remote) error {
		return fmt.Errorf("%w: %s not implemented", ErrEncapsulation, t)
	})
}

type Transport struct {
	mu     sync.RWMutex
	encaps map[fib.EncapType]Encapsulator
	logger *slog.Logger
}

// NewTransport registers VXLAN-GPE over router and sock, and stubs for the
// remaining encapsulation types.
func NewTransport(router Router, sock Socket) *Transport {
	t := &Transport{
		encaps: make(map[fib.EncapType]Encapsulator),
		logger: logger.Get(logger.Tunnel),
	}
	t.Register(fib.EncapVXLANGPE, NewVXLANGPE(router, sock))
	for _, et := range []fib.EncapType{fib.EncapEthernet, fib.EncapGRE, fib.EncapGUE} {
		t.Register(et, Unsupported(et))
	}
	return t
}

// Register installs or replaces the strategy for et.
func (t *Transport) Register(et fib.EncapType, e Encapsulator) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.encaps[et] = e
}

// Encapsulate dispatches on the remote's encapsulation type.
func (t *Transport) Encapsulate(buf gopacket.SerializeBuffer, remote *fib.Remote) error {
	t.mu.RLock()
	e, ok := t.encaps[remote.Encap]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: unknown type %s", ErrEncapsulation, remote.Encap)
	}
	return e.Encapsulate(buf, remote)
}

// Decapsulate strips the VXLAN-GPE header. Datagrams whose flags word is
// not exactly the NSH pattern are not handled and must be left to other
// consumers of the port.
func (t *Transport) Decapsulate(datagram []byte) ([]byte, vxlangpe.Header, bool) {
	h, err := vxlangpe.Decode(datagram)
	if err != nil {
		return nil, h, false
	}
	return datagram[vxlangpe.HeaderLen:], h, true
}

package fib

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/veesix-networks/osvnsh/pkg/nsh"
)

var (
	ErrDuplicateKey  = errors.New("fib: entry already exists")
	ErrInvalidTarget = errors.New("fib: target must be exactly one of local or remote")
	ErrInvalidKey    = errors.New("fib: path key is unassigned")
	ErrNotFound      = errors.New("fib: entry not found")
	ErrClosed        = errors.New("fib: table destroyed")
)

// EncapType selects the tunnel encapsulation towards a remote next hop.
type EncapType uint8

const (
	EncapVXLANGPE EncapType = iota
	EncapEthernet
	EncapGRE
	EncapGUE
)

func (e EncapType) String() string {
	switch e {
	case EncapVXLANGPE:
		return "vxlan-gpe"
	case EncapEthernet:
		return "ethernet"
	case EncapGRE:
		return "gre"
	case EncapGUE:
		return "gue"
	default:
		return fmt.Sprintf("encap(%d)", uint8(e))
	}
}

func ParseEncapType(s string) (EncapType, error) {
	switch strings.ToLower(s) {
	case "", "vxlan-gpe", "vxlan", "vxlangpe":
		return EncapVXLANGPE, nil
	case "ethernet", "eth":
		return EncapEthernet, nil
	case "gre":
		return EncapGRE, nil
	case "gue", "udp-gue":
		return EncapGUE, nil
	default:
		return 0, fmt.Errorf("unknown encap type %q", s)
	}
}

// Remote is the next hop of a path on another host.
type Remote struct {
	Encap      EncapType
	VNI        uint32
	RemoteAddr netip.Addr
	LocalAddr  netip.Addr
}

func (r Remote) String() string {
	return fmt.Sprintf("%s vni %d %s -> %s", r.Encap, r.VNI, r.LocalAddr, r.RemoteAddr)
}

// Target is the next hop of an entry: a local device or a remote tunnel
// endpoint, never both.
type Target struct {
	Device uuid.UUID
	Remote *Remote
}

func LocalTarget(id uuid.UUID) Target {
	return Target{Device: id}
}

func RemoteTarget(r Remote) Target {
	return Target{Remote: &r}
}

func (t Target) IsLocal() bool {
	return t.Device != uuid.Nil
}

func (t Target) IsRemote() bool {
	return t.Remote != nil
}

func (t Target) Validate() error {
	if t.IsLocal() == t.IsRemote() {
		return ErrInvalidTarget
	}
	return nil
}

func (t Target) String() string {
	switch {
	case t.IsLocal() && !t.IsRemote():
		return "local " + t.Device.String()
	case t.IsRemote() && !t.IsLocal():
		return "remote " + t.Remote.String()
	default:
		return "invalid"
	}
}

// Entry is published once and never modified afterwards.
type Entry struct {
	Key     nsh.PathKey
	Target  Target
	Updated time.Time
}

func (e *Entry) SPI() uint32 {
	return e.Key.SPI()
}

func (e *Entry) SI() uint8 {
	return e.Key.SI()
}

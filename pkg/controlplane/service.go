// Package controlplane is the control surface of the dataplane: it
// creates and destroys devices, binds them to path keys and manages
// forwarding entries. Every request is validated before anything is
// changed, so a failed request leaves no partial state behind.
//
// Changes are checkpointed to the operational store, when one is set, and
// announced on the event bus.
package controlplane

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"

	"github.com/veesix-networks/osvnsh/pkg/device"
	"github.com/veesix-networks/osvnsh/pkg/events"
	"github.com/veesix-networks/osvnsh/pkg/fib"
	"github.com/veesix-networks/osvnsh/pkg/logger"
	"github.com/veesix-networks/osvnsh/pkg/opdb"
	"github.com/veesix-networks/osvnsh/pkg/pipeline"
	"inet.af/netaddr"
)

var (
	ErrInvalidRequest = errors.New("controlplane: invalid request")
	ErrLocalAddress   = errors.New("controlplane: local address not configured")
)

// Host binds devices to the host.
type Host interface {
	// Open creates the host side of a device of the given kind.
	Open(name, kind string) (device.Port, error)
	// Attach starts feeding frames the host transmits on d into egress.
	Attach(d *device.Device)
}

// DropSource reports pipeline drop counters.
type DropSource interface {
	Drops() map[pipeline.DropReason]uint64
}

type Service struct {
	mu sync.Mutex

	table   *fib.Table
	devices *device.Registry
	host    Host

	store  opdb.Store
	bus    events.Publisher
	drops  DropSource
	locals *netaddr.IPSet

	logger *slog.Logger
}

func New(table *fib.Table, devices *device.Registry, host Host) *Service {
	return &Service{
		table:   table,
		devices: devices,
		host:    host,
		logger:  logger.Get(logger.ControlPlane),
	}
}

func (s *Service) SetStore(store opdb.Store) {
	s.store = store
}

func (s *Service) SetEventBus(bus events.Publisher) {
	s.bus = bus
}

func (s *Service) SetDropSource(src DropSource) {
	s.drops = src
}

// SetLocalNetworks restricts the local address of remote paths to the
// given prefixes or addresses. An empty list lifts the restriction.
func (s *Service) SetLocalNetworks(networks []string) error {
	if len(networks) == 0 {
		s.locals = nil
		return nil
	}

	var b netaddr.IPSetBuilder
	for _, n := range networks {
		if p, err := netaddr.ParseIPPrefix(n); err == nil {
			b.AddPrefix(p)
			continue
		}
		ip, err := netaddr.ParseIP(n)
		if err != nil {
			return fmt.Errorf("local network %q: %w", n, err)
		}
		b.Add(ip)
	}

	set, err := b.IPSet()
	if err != nil {
		return fmt.Errorf("build local networks: %w", err)
	}
	s.locals = set
	s.logger.Info("Restricted local tunnel addresses", "networks", networks)
	return nil
}

func (s *Service) localAllowed(a netip.Addr) bool {
	if s.locals == nil {
		return true
	}
	return s.locals.Contains(netaddr.IPFrom4(a.As4()))
}

func (s *Service) publish(topic string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(topic, events.Event{Source: logger.ControlPlane, Data: data})
}

func invalid(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
}

// IsNotFound reports whether err means the addressed device or path does
// not exist.
func IsNotFound(err error) bool {
	return !IsInvalid(err) && (errors.Is(err, device.ErrNotFound) || errors.Is(err, fib.ErrNotFound))
}

// IsConflict reports whether err means the object already exists.
func IsConflict(err error) bool {
	return errors.Is(err, device.ErrExists) || errors.Is(err, fib.ErrDuplicateKey)
}

func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, device.ErrUnbound) ||
		errors.Is(err, fib.ErrInvalidTarget) ||
		errors.Is(err, fib.ErrInvalidKey)
}

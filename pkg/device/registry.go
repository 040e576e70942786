package device

import (
	"cmp"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/veesix-networks/osvnsh/pkg/logger"
	"github.com/veesix-networks/osvnsh/pkg/nsh"
)

// Unbinder removes forwarding state that points at a device.
type Unbinder interface {
	UnbindDevice(id uuid.UUID) []nsh.PathKey
}

// Registry owns the set of local devices. Lookups by ID are served from an
// immutable snapshot and never block; changes serialize on a mutex.
type Registry struct {
	mu     sync.Mutex
	byID   atomic.Pointer[map[ID]*Device]
	byName map[string]*Device

	table  Unbinder
	logger *slog.Logger
}

func NewRegistry(table Unbinder) *Registry {
	r := &Registry{
		byName: make(map[string]*Device),
		table:  table,
		logger: logger.Get(logger.Device),
	}
	empty := make(map[ID]*Device)
	r.byID.Store(&empty)
	return r
}

func (r *Registry) publishLocked() {
	snap := make(map[ID]*Device, len(r.byName))
	for _, d := range r.byName {
		snap[d.id] = d
	}
	r.byID.Store(&snap)
}

// Create registers a device. port may be nil for a device without a host
// binding.
func (r *Registry) Create(name, kind string, port Port) (*Device, error) {
	if name == "" {
		return nil, ErrInvalidName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrExists, name)
	}

	d := newDevice(name, kind, port)
	r.byName[name] = d
	r.publishLocked()

	r.logger.Info("Created device", "device", name, "id", d.id.String(), "kind", kind)
	return d, nil
}

// Get resolves a device by ID without locking.
func (r *Registry) Get(id ID) (*Device, bool) {
	d, ok := (*r.byID.Load())[id]
	return d, ok
}

func (r *Registry) ByName(name string) (*Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byName[name]
	return d, ok
}

// Bind sets the path key the device transmits on. Rebinding replaces the
// previous key.
func (r *Registry) Bind(name string, key nsh.PathKey) (*Device, error) {
	if key.IsZero() {
		return nil, fmt.Errorf("%w: %s", ErrUnbound, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	prev := d.Key()
	d.setKey(key)

	r.logger.Info("Bound device", "device", name, "key", key.String(), "previous", prev.String())
	return d, nil
}

// Unbind clears the device's path key. Frames it transmits afterwards are
// dropped.
func (r *Registry) Unbind(name string) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	d.setKey(0)

	r.logger.Info("Unbound device", "device", name)
	return d, nil
}

// Destroy unregisters a device. Its key is cleared and every forwarding
// entry delivering to it is removed before the port is released, so no
// new lookup resolves to it. The removed keys are returned.
func (r *Registry) Destroy(name string) ([]nsh.PathKey, error) {
	r.mu.Lock()
	d, ok := r.byName[name]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	d.setKey(0)

	var removed []nsh.PathKey
	if r.table != nil {
		removed = r.table.UnbindDevice(d.id)
	}

	delete(r.byName, name)
	r.publishLocked()
	r.mu.Unlock()

	if c, ok := d.port.(io.Closer); ok {
		if err := c.Close(); err != nil {
			r.logger.Warn("Failed to close device port", "device", name, "error", err)
		}
	}

	r.logger.Info("Destroyed device", "device", name, "id", d.id.String(), "entries_removed", len(removed))
	return removed, nil
}

// List returns all devices ordered by name.
func (r *Registry) List() []*Device {
	devs := slices.Collect(maps.Values(*r.byID.Load()))
	slices.SortFunc(devs, func(a, b *Device) int { return cmp.Compare(a.name, b.name) })
	return devs
}

func (r *Registry) Len() int {
	return len(*r.byID.Load())
}

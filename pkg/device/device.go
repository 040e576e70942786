// Package device models the local attachment points of service chains.
//
// The dataplane only reads a device's path key and updates its counters;
// frames reach the host through the device's Port, which is provided by
// whatever created the device (a TAP interface, a test harness, ...).
package device

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/veesix-networks/osvnsh/pkg/nsh"
)

type ID = uuid.UUID

var (
	ErrExists      = errors.New("device: already exists")
	ErrNotFound    = errors.New("device: not found")
	ErrInvalidName = errors.New("device: invalid name")
	ErrUnbound     = errors.New("device: no path key bound")
)

// Port delivers frames to the host side of a device.
type Port interface {
	Deliver(frame []byte) error
}

// PortFunc adapts a function to Port.
type PortFunc func(frame []byte) error

func (f PortFunc) Deliver(frame []byte) error {
	return f(frame)
}

// Discard is a Port for devices without a host binding.
var Discard Port = PortFunc(func([]byte) error { return nil })

type Device struct {
	id       ID
	name     string
	kind     string
	key      atomic.Uint32
	port     Port
	counters *Counters
	created  time.Time
}

func newDevice(name, kind string, port Port) *Device {
	if port == nil {
		port = Discard
	}
	return &Device{
		id:       uuid.New(),
		name:     name,
		kind:     kind,
		port:     port,
		counters: NewCounters(),
		created:  time.Now(),
	}
}

func (d *Device) ID() ID {
	return d.id
}

func (d *Device) Name() string {
	return d.name
}

// Kind names the host binding, e.g. "tap" or "none".
func (d *Device) Kind() string {
	return d.kind
}

// Key returns the path key stamped on frames the device transmits, zero
// when unbound.
func (d *Device) Key() nsh.PathKey {
	return nsh.PathKey(d.key.Load())
}

func (d *Device) setKey(k nsh.PathKey) {
	d.key.Store(uint32(k))
}

func (d *Device) Deliver(frame []byte) error {
	return d.port.Deliver(frame)
}

func (d *Device) Port() Port {
	return d.port
}

func (d *Device) Counters() *Counters {
	return d.counters
}

func (d *Device) Stats() Stats {
	return d.counters.Snapshot()
}

func (d *Device) Created() time.Time {
	return d.created
}

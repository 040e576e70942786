// Package pipeline moves frames between local devices and tunnels.
//
// Ingress takes an NSH framed payload, resolves its path key and hands the
// inner frame to a local device. Egress takes a frame a device transmits,
// resolves the device's path key and either loops it back into ingress or
// pushes an NSH header and hands it to the tunnel transport. Both run
// concurrently from any number of workers. Failures are drops: they are
// counted and logged at debug level, never retried.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/veesix-networks/osvnsh/pkg/device"
	"github.com/veesix-networks/osvnsh/pkg/fib"
	"github.com/veesix-networks/osvnsh/pkg/logger"
	"github.com/veesix-networks/osvnsh/pkg/nsh"
	"github.com/veesix-networks/osvnsh/pkg/vxlangpe"
)

// Devices resolves forwarding targets to devices.
type Devices interface {
	Get(id device.ID) (*device.Device, bool)
}

type Transport interface {
	Encapsulate(buf gopacket.SerializeBuffer, remote *fib.Remote) error
	Decapsulate(datagram []byte) ([]byte, vxlangpe.Header, bool)
}

type Pipeline struct {
	table     *fib.Table
	devices   Devices
	transport Transport

	drops    dropCounters
	inflight atomic.Int64
	closed   atomic.Bool

	buffers sync.Pool
	logger  *slog.Logger
}

func New(table *fib.Table, devices Devices, transport Transport) *Pipeline {
	return &Pipeline{
		table:     table,
		devices:   devices,
		transport: transport,
		buffers: sync.Pool{
			New: func() any {
				return gopacket.NewSerializeBufferExpectedSize(vxlangpe.Headroom, 0)
			},
		},
		logger: logger.Get(logger.Pipeline),
	}
}

func (p *Pipeline) enter() bool {
	p.inflight.Add(1)
	if p.closed.Load() {
		p.inflight.Add(-1)
		return false
	}
	return true
}

func (p *Pipeline) exit() {
	p.inflight.Add(-1)
}

// Close stops admitting packets and waits for those in flight. After it
// returns nil no worker references the table or the transport.
func (p *Pipeline) Close(ctx context.Context) error {
	p.closed.Store(true)

	t := time.NewTicker(time.Millisecond)
	defer t.Stop()
	for p.inflight.Load() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("quiesce pipeline: %d packets in flight: %w", p.inflight.Load(), ctx.Err())
		case <-t.C:
		}
	}
	p.logger.Debug("Pipeline quiesced")
	return nil
}

func (p *Pipeline) drop(reason DropReason, err error, args ...any) error {
	p.drops[reason].Add(1)
	if p.logger.Enabled(context.Background(), slog.LevelDebug) {
		p.logger.Debug("Dropped packet", append([]any{"reason", reason.String(), "error", err}, args...)...)
	}
	return err
}

// Drops returns the number of packets dropped per reason.
func (p *Pipeline) Drops() map[DropReason]uint64 {
	return p.drops.snapshot()
}

// Receive handles a datagram from the tunnel socket. ErrNotHandled means
// it does not carry NSH and was left untouched.
func (p *Pipeline) Receive(datagram []byte) error {
	payload, _, ok := p.transport.Decapsulate(datagram)
	if !ok {
		return ErrNotHandled
	}
	return p.Ingress(payload)
}

// Ingress processes an NSH framed payload. The inner frame is only valid
// for the duration of the delivery.
func (p *Pipeline) Ingress(data []byte) error {
	if !p.enter() {
		return ErrClosed
	}
	defer p.exit()

	h, err := nsh.Decode(data)
	if err != nil {
		return p.drop(DropProtocol, fmt.Errorf("%w: %w", ErrProtocol, err))
	}
	return p.deliver(h.Key, data[h.HeaderLen():])
}

func (p *Pipeline) deliver(key nsh.PathKey, frame []byte) error {
	e, ok := p.table.Lookup(key)
	if !ok || !e.Target.IsLocal() {
		return p.drop(DropLookupMiss, fmt.Errorf("%w: %s", ErrLookupMiss, key), "key", key.String())
	}
	return p.deliverEntry(e, frame)
}

func (p *Pipeline) deliverEntry(e *fib.Entry, frame []byte) error {
	dev, ok := p.devices.Get(e.Target.Device)
	if !ok {
		return p.drop(DropLookupMiss, fmt.Errorf("%w: device %s gone", ErrLookupMiss, e.Target.Device), "key", e.Key.String())
	}

	if err := dev.Deliver(frame); err != nil {
		return p.drop(DropResource, fmt.Errorf("%w: deliver to %s: %w", ErrResource, dev.Name(), err), "key", e.Key.String())
	}
	dev.Counters().AddRx(len(frame))
	return nil
}

// Egress transmits a frame on behalf of dev. It never reports failure to
// the caller; drops show up in the device and pipeline counters.
func (p *Pipeline) Egress(dev *device.Device, frame []byte) {
	if !p.enter() {
		dev.Counters().AddTxDropped()
		return
	}
	defer p.exit()

	_ = p.egress(dev, frame)
}

func (p *Pipeline) egress(dev *device.Device, frame []byte) error {
	key := dev.Key()
	e, ok := p.table.Lookup(key)
	if key.IsZero() || !ok {
		return p.drop(DropLookupMiss, fmt.Errorf("%w: %s", ErrLookupMiss, key), "device", dev.Name())
	}

	counters := dev.Counters()

	if e.Target.IsLocal() {
		if err := p.deliverEntry(e, frame); err != nil {
			counters.AddTxError()
			return err
		}
		counters.AddTx(len(frame))
		return nil
	}

	buf := p.buffers.Get().(gopacket.SerializeBuffer)
	defer func() {
		_ = buf.Clear()
		p.buffers.Put(buf)
	}()

	txLen, err := p.push(buf, key, frame)
	if err != nil {
		counters.AddTxError()
		return p.drop(DropResource, err, "device", dev.Name())
	}

	if err := p.transport.Encapsulate(buf, e.Target.Remote); err != nil {
		reason := classify(err)
		if reason == DropRouting {
			counters.AddCarrierError()
		}
		counters.AddTxError()
		return p.drop(reason, err, "device", dev.Name(), "remote", e.Target.Remote.RemoteAddr.String())
	}

	counters.AddTx(txLen)
	return nil
}

// push copies frame into buf behind an MD type 2 header carrying key and
// returns the resulting length.
func (p *Pipeline) push(buf gopacket.SerializeBuffer, key nsh.PathKey, frame []byte) (int, error) {
	b, err := buf.AppendBytes(len(frame))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrResource, err)
	}
	copy(b, frame)

	hdr := &nsh.NSH{Header: nsh.Header{Key: key, NextProtocol: nsh.NextProtocolEthernet}}
	if err := hdr.SerializeTo(buf, gopacket.SerializeOptions{}); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrResource, err)
	}
	return len(buf.Bytes()), nil
}

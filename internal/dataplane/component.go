//go:build linux

// Package dataplane runs the packet path of one instance: the tunnel
// socket readers feeding ingress and the TAP readers feeding egress.
package dataplane

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/veesix-networks/osvnsh/pkg/component"
	"github.com/veesix-networks/osvnsh/pkg/config"
	"github.com/veesix-networks/osvnsh/pkg/device"
	"github.com/veesix-networks/osvnsh/pkg/device/tap"
	"github.com/veesix-networks/osvnsh/pkg/fib"
	"github.com/veesix-networks/osvnsh/pkg/logger"
	"github.com/veesix-networks/osvnsh/pkg/pipeline"
	"github.com/veesix-networks/osvnsh/pkg/tunnel"
)

const maxDatagram = 1 << 16

type Component struct {
	*component.Base

	logger *slog.Logger
	cfg    config.DataplaneConfig

	table     *fib.Table
	devices   *device.Registry
	ns        *namespace
	taps      *tap.Manager
	sock      *tunnel.UDPSocket
	transport *tunnel.Transport
	pipeline  *pipeline.Pipeline

	mu      sync.Mutex
	started bool
	pending []*device.Device

	received   atomic.Uint64
	notHandled atomic.Uint64
}

// New opens the tunnel socket, inside the configured namespace if any, and
// assembles the pipeline over table and devices. Packets flow once the
// component is started.
func New(cfg *config.Config, table *fib.Table, devices *device.Registry) (*Component, error) {
	log := logger.Get(logger.Dataplane)

	ns, err := openNamespace(cfg.Dataplane.Namespace)
	if err != nil {
		return nil, err
	}

	var sock *tunnel.UDPSocket
	addr := cfg.ListenAddrPort()
	err = ns.run(func() error {
		var err error
		sock, err = tunnel.ListenUDP(addr)
		return err
	})
	if err != nil {
		ns.Close()
		return nil, fmt.Errorf("open tunnel socket: %w", err)
	}
	if cfg.Dataplane.ReadBuffer > 0 {
		if err := sock.SetReadBuffer(cfg.Dataplane.ReadBuffer); err != nil {
			log.Warn("Failed to size tunnel socket receive buffer", "bytes", cfg.Dataplane.ReadBuffer, "error", err)
		}
	}

	taps := tap.NewManager()
	if ns.nl != nil {
		taps.SetNetlinkHandle(ns.nl)
	}

	transport := tunnel.NewTransport(tunnel.NewNetlinkRouter(ns.nl), sock)

	c := &Component{
		Base:      component.NewBase("dataplane"),
		logger:    log,
		cfg:       cfg.Dataplane,
		table:     table,
		devices:   devices,
		ns:        ns,
		taps:      taps,
		sock:      sock,
		transport: transport,
		pipeline:  pipeline.New(table, devices, transport),
	}

	log.Info("Opened tunnel socket", "addr", sock.LocalAddr().String(), "netns", cfg.Dataplane.Namespace)
	return c, nil
}

func (c *Component) Pipeline() *pipeline.Pipeline {
	return c.pipeline
}

func (c *Component) LocalAddr() string {
	return c.sock.LocalAddr().String()
}

func (c *Component) Start(ctx context.Context) error {
	c.StartContext(ctx)
	c.logger.Info("Starting dataplane component", "workers", c.cfg.Workers)

	workers := c.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		c.Go(c.readLoop)
	}
	c.Go(c.statsLoop)

	c.mu.Lock()
	c.started = true
	for _, d := range c.pending {
		c.startReader(d)
	}
	c.pending = nil
	c.mu.Unlock()

	return nil
}

// Stop quiesces the pipeline, closes the socket and every device port so
// the readers return, then releases the forwarding table.
func (c *Component) Stop(ctx context.Context) error {
	c.logger.Info("Stopping dataplane component")

	timeout := c.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error
	if err := c.pipeline.Close(qctx); err != nil {
		errs = append(errs, err)
	}
	if err := c.sock.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close tunnel socket: %w", err))
	}
	for _, d := range c.devices.List() {
		if cl, ok := d.Port().(io.Closer); ok {
			if err := cl.Close(); err != nil {
				c.logger.Warn("Failed to close device port", "device", d.Name(), "error", err)
			}
		}
	}

	if err := c.StopContext(qctx); err != nil {
		errs = append(errs, err)
	}
	c.table.Destroy()
	c.ns.Close()

	c.logger.Info("Dataplane stopped", "received", c.received.Load(), "not_handled", c.notHandled.Load())
	return errors.Join(errs...)
}

func (c *Component) readLoop() {
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := c.sock.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			c.logger.Warn("Failed to read tunnel socket", "error", err)
			continue
		}
		c.received.Add(1)

		err = c.pipeline.Receive(buf[:n])
		switch {
		case err == nil:
		case errors.Is(err, pipeline.ErrNotHandled):
			c.notHandled.Add(1)
			c.logger.Debug("Ignored datagram without NSH", "from", from.String(), "len", n)
		case errors.Is(err, pipeline.ErrClosed):
			return
		}
	}
}

func (c *Component) statsLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	var last uint64
	for {
		select {
		case <-c.Ctx.Done():
			return
		case <-ticker.C:
			n := c.received.Load()
			if n != last {
				c.logger.Debug("Tunnel receive stats", "total", n, "per_sec", (n-last)/10, "not_handled", c.notHandled.Load())
				last = n
			}
		}
	}
}

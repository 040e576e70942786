// Package exporter serves dataplane counters in the Prometheus exposition
// format.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/veesix-networks/osvnsh/pkg/component"
	"github.com/veesix-networks/osvnsh/pkg/config"
	"github.com/veesix-networks/osvnsh/pkg/controlplane"
	"github.com/veesix-networks/osvnsh/pkg/events"
	"github.com/veesix-networks/osvnsh/pkg/logger"
	"github.com/veesix-networks/osvnsh/pkg/opdb"
)

const Namespace = "exporter.prometheus"

func init() {
	component.Register(Namespace, New)
}

// Source provides a point-in-time view of the dataplane.
type Source interface {
	Stats() controlplane.Stats
}

type Component struct {
	*component.Base
	logger        *slog.Logger
	source        Source
	bus           events.Bus
	store         opdb.Store
	addr          string
	path          string
	server        *http.Server
	mu            sync.RWMutex
	serverRunning bool
	bound         string
}

func New(deps component.Dependencies) (component.Component, error) {
	if deps.Config == nil || !deps.Config.Exporter.Enabled {
		return nil, nil
	}
	if deps.Control == nil {
		return nil, fmt.Errorf("%s: control plane service not provided", Namespace)
	}

	addr := config.DefaultExporterAddress
	if deps.Config.Exporter.ListenAddress != "" {
		addr = deps.Config.Exporter.ListenAddress
	}
	path := config.DefaultExporterPath
	if deps.Config.Exporter.Path != "" {
		path = deps.Config.Exporter.Path
	}
	c := NewComponent(addr, path, deps.Control)
	c.bus = deps.EventBus
	c.store = deps.Store
	return c, nil
}

func NewComponent(addr, path string, source Source) *Component {
	return &Component{
		Base:   component.NewBase(Namespace),
		logger: logger.Get(logger.Exporter),
		source: source,
		addr:   addr,
		path:   path,
	}
}

func (c *Component) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.bound != "" {
		return c.bound
	}
	return c.addr
}

// Registry returns a registry holding the dataplane collector and the Go
// runtime collectors.
func (c *Component) Registry() *prometheus.Registry {
	collector := NewCollector(c.source, c.logger)
	collector.SetEventBus(c.bus)
	collector.SetStore(c.store)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collector,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

func (c *Component) Start(ctx context.Context) error {
	c.StartContext(ctx)
	c.logger.Info("Starting Prometheus exporter", "addr", c.addr, "path", c.path)

	ln, err := net.Listen("tcp", c.addr)
	if err != nil {
		_ = c.StopContext(ctx)
		return fmt.Errorf("listen %s: %w", c.addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle(c.path, promhttp.HandlerFor(c.Registry(), promhttp.HandlerOpts{}))

	c.mu.Lock()
	c.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	c.bound = ln.Addr().String()
	c.serverRunning = true
	c.mu.Unlock()

	c.Go(func() {
		c.serve(ln)
	})

	return nil
}

func (c *Component) Stop(ctx context.Context) error {
	c.logger.Info("Stopping Prometheus exporter")

	c.mu.RLock()
	server := c.server
	c.mu.RUnlock()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			c.logger.Warn("Prometheus HTTP server shutdown", "error", err)
		}
	}

	c.mu.Lock()
	c.serverRunning = false
	c.mu.Unlock()

	return c.StopContext(ctx)
}

func (c *Component) serve(ln net.Listener) {
	c.logger.Info("Prometheus HTTP server listening", "addr", ln.Addr().String())
	if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		c.logger.Error("Prometheus HTTP server error", "error", err)
		c.mu.Lock()
		c.serverRunning = false
		c.mu.Unlock()
	}
}

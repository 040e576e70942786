// Package northbound serves the REST control API of the daemon.
package northbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/veesix-networks/osvnsh/pkg/component"
	"github.com/veesix-networks/osvnsh/pkg/config"
	"github.com/veesix-networks/osvnsh/pkg/controlplane"
	"github.com/veesix-networks/osvnsh/pkg/logger"
	"github.com/veesix-networks/osvnsh/pkg/nsh"
	"github.com/veesix-networks/osvnsh/pkg/version"
)

const Namespace = "northbound.api"

func init() {
	component.Register(Namespace, New)
}

// Service is the control surface the API exposes.
type Service interface {
	CreateDevice(ctx context.Context, req controlplane.DeviceRequest) (controlplane.DeviceInfo, error)
	DestroyDevice(ctx context.Context, name string) error
	BindDevice(ctx context.Context, name string, key nsh.PathKey) (controlplane.DeviceInfo, error)
	UnbindDevice(ctx context.Context, name string) (controlplane.DeviceInfo, error)
	GetDevice(name string) (controlplane.DeviceInfo, error)
	ListDevices() []controlplane.DeviceInfo

	AddPath(ctx context.Context, req controlplane.PathRequest) (controlplane.PathInfo, error)
	DeletePath(ctx context.Context, key nsh.PathKey) error
	GetPath(key nsh.PathKey) (controlplane.PathInfo, error)
	ListPaths() []controlplane.PathInfo

	Stats() controlplane.Stats
}

type Component struct {
	*component.Base
	logger  *slog.Logger
	svc     Service
	addr    string
	server  *http.Server
	mu      sync.RWMutex
	running bool
	bound   string
}

func New(deps component.Dependencies) (component.Component, error) {
	if deps.Config == nil || !deps.Config.API.Enabled {
		return nil, nil
	}
	if deps.Control == nil {
		return nil, fmt.Errorf("%s: control plane service not provided", Namespace)
	}

	addr := config.DefaultAPIAddress
	if deps.Config.API.ListenAddress != "" {
		addr = deps.Config.API.ListenAddress
	}
	return NewComponent(addr, deps.Control), nil
}

func NewComponent(addr string, svc Service) *Component {
	return &Component{
		Base:   component.NewBase(Namespace),
		logger: logger.Get(logger.Northbound),
		svc:    svc,
		addr:   addr,
	}
}

// Addr returns the bound listen address once started, the configured one
// before.
func (c *Component) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.bound != "" {
		return c.bound
	}
	return c.addr
}

func (c *Component) Start(ctx context.Context) error {
	c.StartContext(ctx)
	c.logger.Info("Starting API server", "addr", c.addr)

	ln, err := net.Listen("tcp", c.addr)
	if err != nil {
		_ = c.StopContext(ctx)
		return fmt.Errorf("listen %s: %w", c.addr, err)
	}

	c.mu.Lock()
	c.server = &http.Server{
		Handler:           c.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	c.bound = ln.Addr().String()
	c.running = true
	c.mu.Unlock()

	c.Go(func() {
		c.serve(ln)
	})

	return nil
}

func (c *Component) Stop(ctx context.Context) error {
	c.logger.Info("Stopping API server")

	c.mu.RLock()
	server := c.server
	c.mu.RUnlock()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			c.logger.Warn("API server shutdown", "error", err)
		}
	}

	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	return c.StopContext(ctx)
}

func (c *Component) GetStatus() *Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	state := "stopped"
	if c.running {
		state = "running"
	}

	return &Status{
		State:         state,
		ListenAddress: c.addr,
		Running:       c.running,
		Version:       version.Get(),
	}
}

// Handler returns the API routes.
func (c *Component) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/devices", c.handleListDevices)
	mux.HandleFunc("POST /api/devices", c.handleCreateDevice)
	mux.HandleFunc("GET /api/devices/{name}", c.handleGetDevice)
	mux.HandleFunc("DELETE /api/devices/{name}", c.handleDestroyDevice)
	mux.HandleFunc("PUT /api/devices/{name}/binding", c.handleBindDevice)
	mux.HandleFunc("DELETE /api/devices/{name}/binding", c.handleUnbindDevice)

	mux.HandleFunc("GET /api/paths", c.handleListPaths)
	mux.HandleFunc("POST /api/paths", c.handleAddPath)
	mux.HandleFunc("GET /api/paths/{spi}/{si}", c.handleGetPath)
	mux.HandleFunc("DELETE /api/paths/{spi}/{si}", c.handleDeletePath)

	mux.HandleFunc("GET /api/stats", c.handleStats)
	mux.HandleFunc("GET /api/status", c.handleStatus)
	mux.HandleFunc("GET /api/openapi.json", c.handleOpenAPI)

	return mux
}

func (c *Component) serve(ln net.Listener) {
	c.logger.Info("API server listening", "addr", ln.Addr().String())
	if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		c.logger.Error("API server error", "error", err)
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}
}

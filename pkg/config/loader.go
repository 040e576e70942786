// Package config loads the daemon configuration file.
package config

import (
	"fmt"
	"net/netip"
	"os"
	"runtime"
	"time"

	"github.com/veesix-networks/osvnsh/pkg/fib"
	"github.com/veesix-networks/osvnsh/pkg/nsh"
	"github.com/veesix-networks/osvnsh/pkg/vxlangpe"
	"gopkg.in/yaml.v3"
)

const (
	DefaultListenAddress   = "0.0.0.0"
	DefaultReadBuffer      = 4 << 20
	DefaultMTU             = 1500
	DefaultShutdownTimeout = 5 * time.Second
	DefaultAPIAddress      = "127.0.0.1:8080"
	DefaultExporterAddress = ":9464"
	DefaultExporterPath    = "/metrics"
	DefaultStorePath       = "/var/lib/osvnsh/state.db"

	DeviceKindTap  = "tap"
	DeviceKindNone = "none"

	// maxIfNameLen is IFNAMSIZ without the terminator.
	maxIfNameLen = 15
)

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	dp := &c.Dataplane
	if dp.ListenAddress == "" {
		dp.ListenAddress = DefaultListenAddress
	}
	if dp.Port == 0 {
		dp.Port = vxlangpe.Port
	}
	if dp.Workers == 0 {
		dp.Workers = runtime.NumCPU()
	}
	if dp.ReadBuffer == 0 {
		dp.ReadBuffer = DefaultReadBuffer
	}
	if dp.MTU == 0 {
		dp.MTU = DefaultMTU
	}
	if dp.ShutdownTimeout == 0 {
		dp.ShutdownTimeout = DefaultShutdownTimeout
	}

	if c.API.ListenAddress == "" {
		c.API.ListenAddress = DefaultAPIAddress
	}
	if c.Exporter.ListenAddress == "" {
		c.Exporter.ListenAddress = DefaultExporterAddress
	}
	if c.Exporter.Path == "" {
		c.Exporter.Path = DefaultExporterPath
	}
	if c.Store.Path == "" {
		c.Store.Path = DefaultStorePath
	}

	for i := range c.Devices {
		if c.Devices[i].Kind == "" {
			c.Devices[i].Kind = DeviceKindTap
		}
	}
}

// ListenAddrPort is the tunnel socket address.
func (c *Config) ListenAddrPort() string {
	return netip.AddrPortFrom(netip.MustParseAddr(c.Dataplane.ListenAddress), uint16(c.Dataplane.Port)).String()
}

func (c *Config) Validate() error {
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format: unknown format %q", c.Logging.Format)
	}

	dp := c.Dataplane
	if a, err := netip.ParseAddr(dp.ListenAddress); err != nil || !a.Is4() {
		return fmt.Errorf("dataplane.listen_address: %q is not an IPv4 address", dp.ListenAddress)
	}
	if dp.Port != vxlangpe.Port {
		return fmt.Errorf("dataplane.port: %d, tunnel peers always send to %d", dp.Port, vxlangpe.Port)
	}
	if dp.Workers < 1 {
		return fmt.Errorf("dataplane.workers: must be at least 1")
	}
	if dp.MTU <= vxlangpe.Headroom {
		return fmt.Errorf("dataplane.mtu: %d leaves no room for tunnel headers", dp.MTU)
	}

	for i, n := range c.Tunnel.LocalNetworks {
		if _, err := netip.ParsePrefix(n); err != nil {
			if _, err := netip.ParseAddr(n); err != nil {
				return fmt.Errorf("tunnel.local_networks[%d]: %q is not a prefix or address", i, n)
			}
		}
	}

	names := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		if err := ValidateDeviceName(d.Name); err != nil {
			return fmt.Errorf("devices[%d].name: %w", i, err)
		}
		if names[d.Name] {
			return fmt.Errorf("devices[%d].name: duplicate device %q", i, d.Name)
		}
		names[d.Name] = true

		switch d.Kind {
		case DeviceKindTap, DeviceKindNone:
		default:
			return fmt.Errorf("devices[%d].kind: unknown kind %q", i, d.Kind)
		}
		if d.Key != "" {
			if _, err := nsh.ParsePathKey(d.Key); err != nil {
				return fmt.Errorf("devices[%d].key: %w", i, err)
			}
		}
	}

	for i, p := range c.Paths {
		if _, err := nsh.NewPathKey(p.SPI, p.SI); err != nil {
			return fmt.Errorf("paths[%d]: %w", i, err)
		}
		if (p.Device == "") == (p.Remote == nil) {
			return fmt.Errorf("paths[%d]: exactly one of device or remote must be set", i)
		}
		if p.Remote == nil {
			continue
		}
		if _, err := fib.ParseEncapType(p.Remote.Encap); err != nil {
			return fmt.Errorf("paths[%d].remote.encap: %w", i, err)
		}
		if p.Remote.VNI > vxlangpe.MaxVNI {
			return fmt.Errorf("paths[%d].remote.vni: %d exceeds 24 bits", i, p.Remote.VNI)
		}
		if a, err := netip.ParseAddr(p.Remote.Address); err != nil || !a.Is4() {
			return fmt.Errorf("paths[%d].remote.address: %q is not an IPv4 address", i, p.Remote.Address)
		}
		if p.Remote.Local != "" {
			if a, err := netip.ParseAddr(p.Remote.Local); err != nil || !a.Is4() {
				return fmt.Errorf("paths[%d].remote.local: %q is not an IPv4 address", i, p.Remote.Local)
			}
		}
	}

	return nil
}

// ValidateDeviceName checks that name can be used as a Linux interface
// name.
func ValidateDeviceName(name string) error {
	if name == "" {
		return fmt.Errorf("name is empty")
	}
	if len(name) > maxIfNameLen {
		return fmt.Errorf("name %q longer than %d bytes", name, maxIfNameLen)
	}
	for _, r := range name {
		if r == '/' || r == ':' || r <= ' ' || r > '~' {
			return fmt.Errorf("name %q contains %q", name, r)
		}
	}
	if name == "." || name == ".." {
		return fmt.Errorf("name %q is reserved", name)
	}
	return nil
}

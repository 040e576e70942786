package config

import "time"

type Config struct {
	Logging   LoggingConfig   `json:"logging,omitempty" yaml:"logging,omitempty"`
	Dataplane DataplaneConfig `json:"dataplane,omitempty" yaml:"dataplane,omitempty"`
	Tunnel    TunnelConfig    `json:"tunnel,omitempty" yaml:"tunnel,omitempty"`
	API       APIConfig       `json:"api,omitempty" yaml:"api,omitempty"`
	Exporter  ExporterConfig  `json:"exporter,omitempty" yaml:"exporter,omitempty"`
	Store     StoreConfig     `json:"store,omitempty" yaml:"store,omitempty"`
	Events    EventsConfig    `json:"events,omitempty" yaml:"events,omitempty"`
	Devices   []DeviceConfig  `json:"devices,omitempty" yaml:"devices,omitempty"`
	Paths     []PathConfig    `json:"paths,omitempty" yaml:"paths,omitempty"`
}

type LoggingConfig struct {
	Format     string            `json:"format,omitempty" yaml:"format,omitempty"`
	Level      string            `json:"level,omitempty" yaml:"level,omitempty"`
	Components map[string]string `json:"components,omitempty" yaml:"components,omitempty"`
}

type DataplaneConfig struct {
	ListenAddress string `json:"listen_address,omitempty" yaml:"listen_address,omitempty"`
	// Port must be vxlangpe.Port, the source and destination of all
	// tunnel traffic.
	Port int `json:"port,omitempty" yaml:"port,omitempty"`
	// Workers is the number of goroutines reading the tunnel socket.
	Workers    int `json:"workers,omitempty" yaml:"workers,omitempty"`
	ReadBuffer int `json:"read_buffer,omitempty" yaml:"read_buffer,omitempty"`
	// Namespace pins the tunnel socket and TAP devices to a named network
	// namespace.
	Namespace       string        `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	MTU             int           `json:"mtu,omitempty" yaml:"mtu,omitempty"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout,omitempty" yaml:"shutdown_timeout,omitempty"`
}

type TunnelConfig struct {
	// LocalNetworks restricts the local address of remote paths. Empty
	// allows any address.
	LocalNetworks []string `json:"local_networks,omitempty" yaml:"local_networks,omitempty"`
}

type APIConfig struct {
	Enabled       bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	ListenAddress string `json:"listen_address,omitempty" yaml:"listen_address,omitempty"`
}

type ExporterConfig struct {
	Enabled       bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	ListenAddress string `json:"listen_address,omitempty" yaml:"listen_address,omitempty"`
	Path          string `json:"path,omitempty" yaml:"path,omitempty"`
}

type StoreConfig struct {
	Enabled bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
}

type EventsConfig struct {
	DebugTopics []string `json:"debug_topics,omitempty" yaml:"debug_topics,omitempty"`
}

// DeviceConfig provisions a device at startup.
type DeviceConfig struct {
	Name string `json:"name" yaml:"name"`
	Kind string `json:"kind,omitempty" yaml:"kind,omitempty"`
	// Key binds the device, "spi:si".
	Key string `json:"key,omitempty" yaml:"key,omitempty"`
}

// PathConfig provisions a forwarding entry at startup. Exactly one of
// Device and Remote is set.
type PathConfig struct {
	SPI    uint32        `json:"spi" yaml:"spi"`
	SI     uint8         `json:"si" yaml:"si"`
	Device string        `json:"device,omitempty" yaml:"device,omitempty"`
	Remote *RemoteConfig `json:"remote,omitempty" yaml:"remote,omitempty"`
}

type RemoteConfig struct {
	Encap   string `json:"encap,omitempty" yaml:"encap,omitempty"`
	VNI     uint32 `json:"vni" yaml:"vni"`
	Address string `json:"address" yaml:"address"`
	Local   string `json:"local,omitempty" yaml:"local,omitempty"`
}

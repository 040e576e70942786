package controlplane

import (
	"time"

	"github.com/veesix-networks/osvnsh/pkg/device"
	"github.com/veesix-networks/osvnsh/pkg/pipeline"
)

type DeviceRequest struct {
	Name string `json:"name"`
	// Kind is "tap" or "none".
	Kind string `json:"kind,omitempty"`
	// Key optionally binds the new device, "spi:si".
	Key string `json:"key,omitempty"`
}

type PathRequest struct {
	SPI    uint32         `json:"spi"`
	SI     uint8          `json:"si"`
	Device string         `json:"device,omitempty"`
	Remote *RemoteRequest `json:"remote,omitempty"`
}

type RemoteRequest struct {
	Encap   string `json:"encap,omitempty"`
	VNI     uint32 `json:"vni"`
	Address string `json:"address"`
	Local   string `json:"local,omitempty"`
}

type DeviceInfo struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Kind    string       `json:"kind"`
	Key     string       `json:"key,omitempty"`
	Created time.Time    `json:"created"`
	Stats   device.Stats `json:"stats"`
}

type PathInfo struct {
	Key     string         `json:"key"`
	SPI     uint32         `json:"spi"`
	SI      uint8          `json:"si"`
	Device  string         `json:"device,omitempty"`
	Remote  *RemoteRequest `json:"remote,omitempty"`
	Updated time.Time      `json:"updated"`
}

type Stats struct {
	Devices []DeviceInfo      `json:"devices"`
	Paths   int               `json:"paths"`
	Drops   map[string]uint64 `json:"drops"`
}

func dropNames(m map[pipeline.DropReason]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(m))
	for r, n := range m {
		out[r.String()] = n
	}
	return out
}

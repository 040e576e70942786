package northbound

import "github.com/veesix-networks/osvnsh/pkg/version"

type ErrorResponse struct {
	Error string `json:"error"`
}

// BindingRequest sets the path key a device transmits on, "spi:si".
type BindingRequest struct {
	Key string `json:"key"`
}

type Status struct {
	State         string       `json:"state"`
	ListenAddress string       `json:"listen_address"`
	Running       bool         `json:"running"`
	Version       version.Info `json:"version"`
}

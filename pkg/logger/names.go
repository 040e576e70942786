package logger

const (
	Main         = "main"
	Dataplane    = "dataplane"
	Pipeline     = "pipeline"
	Tunnel       = "tunnel"
	FIB          = "fib"
	Device       = "device"
	Tap          = "tap"
	ControlPlane = "controlplane"
	Northbound   = "nb"
	Exporter     = "exporter"
	Events       = "events"
	OpDB         = "opdb"
	Config       = "config"
)

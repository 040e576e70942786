package events

type Action string

const (
	ActionCreated   Action = "created"
	ActionDestroyed Action = "destroyed"
	ActionBound     Action = "bound"
	ActionUnbound   Action = "unbound"
	ActionAdded     Action = "added"
	ActionRemoved   Action = "removed"
)

type DeviceEvent struct {
	Action Action `json:"action"`
	Name   string `json:"name"`
	ID     string `json:"id"`
	// Key is the path key after the change, empty when unbound.
	Key string `json:"key,omitempty"`
}

type PathEvent struct {
	Action Action `json:"action"`
	Key    string `json:"key"`
	Target string `json:"target,omitempty"`
	// Cause names the device whose destruction removed the path.
	Cause string `json:"cause,omitempty"`
}

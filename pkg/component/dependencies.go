package component

import (
	"github.com/veesix-networks/osvnsh/pkg/config"
	"github.com/veesix-networks/osvnsh/pkg/controlplane"
	"github.com/veesix-networks/osvnsh/pkg/events"
	"github.com/veesix-networks/osvnsh/pkg/opdb"
)

type Dependencies struct {
	Config   *config.Config
	EventBus events.Bus
	// Store is nil when persistence is disabled.
	Store   opdb.Store
	Control *controlplane.Service
}

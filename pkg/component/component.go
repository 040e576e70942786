// Package component provides the lifecycle shared by the daemon's parts:
// each is started in registration order and stopped in reverse.
package component

import "context"

type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

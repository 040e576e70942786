package component

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Base carries the lifecycle state shared by daemon components: a context
// cancelled on stop and the goroutines that must finish before Stop
// returns. Embed it and call StartContext/StopContext from Start/Stop.
type Base struct {
	name    string
	Ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

func NewBase(name string) *Base {
	return &Base{name: name}
}

func (b *Base) Name() string {
	return b.name
}

// Running reports whether the component is between StartContext and
// StopContext.
func (b *Base) Running() bool {
	return b.running.Load()
}

func (b *Base) StartContext(parent context.Context) {
	if parent == nil {
		parent = context.Background()
	}
	b.Ctx, b.cancel = context.WithCancel(parent)
	b.running.Store(true)
}

// StopContext cancels Ctx and waits for every goroutine started with Go.
// If ctx ends first the goroutines are abandoned and an error is returned.
func (b *Base) StopContext(ctx context.Context) error {
	b.running.Store(false)
	if b.cancel != nil {
		b.cancel()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: goroutines still running: %w", b.name, ctx.Err())
	}
}

// Go runs fn in a goroutine tracked by StopContext.
func (b *Base) Go(fn func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
}

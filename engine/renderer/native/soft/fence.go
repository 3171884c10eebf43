package soft

import (
	"context"
	"sync"

	"github.com/spaghettifunk/dozen/engine/core"
)

type fence struct {
	mu      sync.Mutex
	value   uint64
	changed chan struct{}
}

func newFence(initial uint64) *fence {
	return &fence{value: initial, changed: make(chan struct{})}
}

func (f *fence) CompletedValue() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

func (f *fence) Signal(value uint64) error {
	f.mu.Lock()
	f.value = value
	close(f.changed)
	f.changed = make(chan struct{})
	f.mu.Unlock()
	return nil
}

func (f *fence) Wait(ctx context.Context, value uint64) error {
	for {
		f.mu.Lock()
		if f.value >= value {
			f.mu.Unlock()
			return nil
		}
		changed := f.changed
		f.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return core.Mark(ctx.Err(), core.ErrTimeout)
		}
	}
}

func (f *fence) Release() {}

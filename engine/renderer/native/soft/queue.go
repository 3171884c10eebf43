package soft

import (
	"context"

	"github.com/spaghettifunk/dozen/engine/core"
	"github.com/spaghettifunk/dozen/engine/renderer/native"
)

const queueDepth = 1024

type taskKind uint8

const (
	taskWait taskKind = iota
	taskExecute
	taskSignal
)

type task struct {
	kind  taskKind
	fence *fence
	value uint64
	lists []*commandList
}

// queue executes work in submission order on its own goroutine.
type queue struct {
	dev    *Device
	tasks  chan task
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newQueue(dev *Device) *queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &queue{
		dev:    dev,
		tasks:  make(chan task, queueDepth),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *queue) stop() {
	q.cancel()
	<-q.done
}

func (q *queue) push(t task) error {
	if err := q.dev.RemovedReason(); err != nil {
		return err
	}
	select {
	case q.tasks <- t:
		return nil
	case <-q.ctx.Done():
		return core.Errorf(core.ErrDeviceLost, "soft: queue stopped")
	}
}

func asFence(f native.Fence) (*fence, error) {
	sf, ok := f.(*fence)
	if !ok {
		return nil, core.Errorf(core.ErrInvalidState, "soft: foreign fence %T", f)
	}
	return sf, nil
}

func (q *queue) Wait(f native.Fence, value uint64) error {
	sf, err := asFence(f)
	if err != nil {
		return err
	}
	return q.push(task{kind: taskWait, fence: sf, value: value})
}

func (q *queue) Signal(f native.Fence, value uint64) error {
	sf, err := asFence(f)
	if err != nil {
		return err
	}
	return q.push(task{kind: taskSignal, fence: sf, value: value})
}

func (q *queue) ExecuteCommandLists(lists []native.CommandList) error {
	out := make([]*commandList, 0, len(lists))
	for _, l := range lists {
		cl, ok := l.(*commandList)
		if !ok {
			return core.Errorf(core.ErrInvalidState, "soft: foreign command list %T", l)
		}
		if !cl.closed {
			return core.Errorf(core.ErrInvalidState, "soft: executing an open command list")
		}
		out = append(out, cl)
	}
	return q.push(task{kind: taskExecute, lists: out})
}

func (q *queue) run() {
	defer close(q.done)
	for {
		var t task
		select {
		case t = <-q.tasks:
		case <-q.ctx.Done():
			return
		}

		switch t.kind {
		case taskWait:
			if err := t.fence.Wait(q.ctx, t.value); err != nil {
				return
			}
		case taskSignal:
			_ = t.fence.Signal(t.value)
		case taskExecute:
			if q.dev.RemovedReason() != nil {
				continue
			}
			for _, l := range t.lists {
				if err := q.dev.execute(l); err != nil {
					q.dev.Remove(err)
					break
				}
			}
		}
	}
}

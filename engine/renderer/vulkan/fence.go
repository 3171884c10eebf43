package vulkan

import (
	"context"
	"sync"
	"time"

	vk "github.com/goki/vulkan"
	"golang.org/x/sync/errgroup"

	"github.com/spaghettifunk/dozen/engine/core"
	"github.com/spaghettifunk/dozen/engine/renderer/native"
)

/**
 * @brief A host-waitable fence. The native fence is a counter: the fence is
 * signaled once the counter reaches the current epoch, and a reset moves the
 * epoch past the counter.
 */
type VulkanFence struct {
	native native.Fence

	mu    sync.Mutex
	epoch uint64
	// submitted and not yet observed as signaled
	pending bool
}

func NewFence(device *VulkanDevice, createSignaled bool) (*VulkanFence, error) {
	var initial uint64
	if createSignaled {
		initial = 1
	}
	var f native.Fence
	err := device.locks.SafeCall(SynchronizationManagement, func() error {
		var err error
		f, err = device.Native.CreateFence(initial)
		return err
	})
	if err != nil {
		return nil, resultError("failed to create fence", err)
	}
	return &VulkanFence{native: f, epoch: 1}, nil
}

func (vf *VulkanFence) Destroy() {
	if vf.native != nil {
		vf.native.Release()
		vf.native = nil
	}
}

func (vf *VulkanFence) target() uint64 {
	vf.mu.Lock()
	defer vf.mu.Unlock()
	return vf.epoch
}

// Status returns vk.Success when the fence is signaled, vk.NotReady
// otherwise.
func (vf *VulkanFence) Status() vk.Result {
	vf.mu.Lock()
	defer vf.mu.Unlock()
	if vf.native.CompletedValue() >= vf.epoch {
		vf.pending = false
		return vk.Success
	}
	return vk.NotReady
}

// Wait blocks until the fence is signaled or ctx is done.
func (vf *VulkanFence) Wait(ctx context.Context) error {
	if err := vf.native.Wait(ctx, vf.target()); err != nil {
		if core.IsTimeout(err) {
			return err
		}
		return core.Mark(err, core.ErrDeviceLost)
	}
	vf.mu.Lock()
	vf.pending = false
	vf.mu.Unlock()
	return nil
}

// Reset makes a signaled fence unsignaled. Resetting a pending fence is an
// error.
func (vf *VulkanFence) Reset() error {
	vf.mu.Lock()
	defer vf.mu.Unlock()
	completed := vf.native.CompletedValue()
	if completed < vf.epoch {
		if vf.pending {
			return core.Errorf(core.ErrInvalidState, "fence reset while pending")
		}
		return nil
	}
	vf.epoch = completed + 1
	vf.pending = false
	return nil
}

// arm marks the fence as submitted and returns the value the queue signals.
func (vf *VulkanFence) arm() (uint64, error) {
	vf.mu.Lock()
	defer vf.mu.Unlock()
	if vf.pending || vf.native.CompletedValue() >= vf.epoch {
		return 0, core.Errorf(core.ErrInvalidState, "fence submitted while signaled or pending")
	}
	vf.pending = true
	return vf.epoch, nil
}

// WaitForFences waits for all fences, or for any of them when waitAll is
// false. A zero timeout only polls.
func WaitForFences(ctx context.Context, fences []*VulkanFence, waitAll bool, timeout time.Duration) error {
	if len(fences) == 0 {
		return nil
	}
	if timeout == 0 {
		ready := 0
		for _, f := range fences {
			if f.Status() == vk.Success {
				ready++
			}
		}
		if (waitAll && ready == len(fences)) || (!waitAll && ready > 0) {
			return nil
		}
		return core.Errorf(core.ErrTimeout, "fences not signaled")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if waitAll {
		g, gctx := errgroup.WithContext(ctx)
		for _, f := range fences {
			g.Go(func() error {
				return f.Wait(gctx)
			})
		}
		return g.Wait()
	}

	// any: the first fence to signal cancels the other waits
	anyCtx, stop := context.WithCancel(ctx)
	defer stop()
	var g errgroup.Group
	var once sync.Once
	signaled := false
	for _, f := range fences {
		g.Go(func() error {
			if err := f.Wait(anyCtx); err != nil {
				return err
			}
			once.Do(func() {
				signaled = true
				stop()
			})
			return nil
		})
	}
	err := g.Wait()
	if signaled {
		return nil
	}
	return err
}

type VulkanSemaphoreType int

const (
	SEMAPHORE_TYPE_BINARY VulkanSemaphoreType = iota
	SEMAPHORE_TYPE_TIMELINE
)

/**
 * @brief A queue-to-queue synchronization primitive. Binary semaphores count
 * signals on the native fence and every wait consumes one; timeline
 * semaphores expose the counter directly.
 */
type VulkanSemaphore struct {
	Type   VulkanSemaphoreType
	native native.Fence

	mu sync.Mutex
	// binary: number of signals submitted and waits submitted
	signals uint64
	waits   uint64
}

func NewSemaphore(device *VulkanDevice, typ VulkanSemaphoreType, initialValue uint64) (*VulkanSemaphore, error) {
	if typ == SEMAPHORE_TYPE_BINARY {
		initialValue = 0
	}
	f, err := device.Native.CreateFence(initialValue)
	if err != nil {
		return nil, resultError("failed to create semaphore", err)
	}
	return &VulkanSemaphore{Type: typ, native: f}, nil
}

func (s *VulkanSemaphore) Destroy() {
	if s.native != nil {
		s.native.Release()
		s.native = nil
	}
}

type binaryCounts struct {
	signals uint64
	waits   uint64
}

// semaphorePlan holds the values every submit info waits for and signals,
// resolved before anything is executed.
type semaphorePlan struct {
	waits   [][]uint64
	signals [][]uint64
	binary  map[*VulkanSemaphore]binaryCounts
}

// planSemaphores resolves the semaphore values of a submission. Binary
// semaphores get their next count; a wait with no pending signal or a
// second signal with no wait in between rejects the whole submission.
// Submissions are serialized, so the counters cannot move until commit.
func planSemaphores(submits []VulkanSubmitInfo) (*semaphorePlan, error) {
	plan := &semaphorePlan{
		waits:   make([][]uint64, len(submits)),
		signals: make([][]uint64, len(submits)),
		binary:  make(map[*VulkanSemaphore]binaryCounts),
	}
	counts := func(sem *VulkanSemaphore) binaryCounts {
		if c, ok := plan.binary[sem]; ok {
			return c
		}
		sem.mu.Lock()
		defer sem.mu.Unlock()
		return binaryCounts{signals: sem.signals, waits: sem.waits}
	}
	for n, s := range submits {
		for i, sem := range s.WaitSemaphores {
			v := valueAt(s.WaitValues, i)
			if sem.Type == SEMAPHORE_TYPE_BINARY {
				c := counts(sem)
				if c.waits >= c.signals {
					return nil, core.Errorf(core.ErrInvalidState, "submit %d: binary semaphore waited without a pending signal", n)
				}
				c.waits++
				plan.binary[sem] = c
				v = c.waits
			}
			plan.waits[n] = append(plan.waits[n], v)
		}
		for i, sem := range s.SignalSemaphores {
			v := valueAt(s.SignalValues, i)
			if sem.Type == SEMAPHORE_TYPE_BINARY {
				c := counts(sem)
				if c.signals > c.waits {
					return nil, core.Errorf(core.ErrInvalidState, "submit %d: binary semaphore signaled twice without a wait", n)
				}
				c.signals++
				plan.binary[sem] = c
				v = c.signals
			}
			plan.signals[n] = append(plan.signals[n], v)
		}
	}
	return plan, nil
}

// commit stores the binary semaphore counters of the plan.
func (p *semaphorePlan) commit() {
	for sem, c := range p.binary {
		sem.mu.Lock()
		sem.signals, sem.waits = c.signals, c.waits
		sem.mu.Unlock()
	}
}

// CounterValue returns the current value of a timeline semaphore.
func (s *VulkanSemaphore) CounterValue() uint64 {
	return s.native.CompletedValue()
}

// Signal sets a timeline semaphore from the host.
func (s *VulkanSemaphore) Signal(value uint64) error {
	if s.Type != SEMAPHORE_TYPE_TIMELINE {
		return core.Errorf(core.ErrInvalidState, "host signal of a binary semaphore")
	}
	if value <= s.native.CompletedValue() {
		return core.Errorf(core.ErrInvalidState, "timeline semaphore value must increase")
	}
	return s.native.Signal(value)
}

// Wait blocks until a timeline semaphore reaches value.
func (s *VulkanSemaphore) Wait(ctx context.Context, value uint64) error {
	if s.Type != SEMAPHORE_TYPE_TIMELINE {
		return core.Errorf(core.ErrInvalidState, "host wait on a binary semaphore")
	}
	return s.native.Wait(ctx, value)
}

/**
 * @brief An event is a fence holding 1 while set and 0 while reset. It can be
 * set from the host or from a batch and waited on by later batches.
 */
type VulkanEvent struct {
	native native.Fence
}

func NewEvent(device *VulkanDevice) (*VulkanEvent, error) {
	f, err := device.Native.CreateFence(0)
	if err != nil {
		return nil, resultError("failed to create event", err)
	}
	return &VulkanEvent{native: f}, nil
}

func (e *VulkanEvent) Destroy() {
	if e.native != nil {
		e.native.Release()
		e.native = nil
	}
}

func (e *VulkanEvent) Set() error {
	return e.native.Signal(1)
}

func (e *VulkanEvent) Reset() error {
	return e.native.Signal(0)
}

// Status returns vk.EventSet or vk.EventReset.
func (e *VulkanEvent) Status() vk.Result {
	if e.native.CompletedValue() >= 1 {
		return vk.EventSet
	}
	return vk.EventReset
}

package vulkan

import (
	"context"
	"sync"

	"github.com/spaghettifunk/dozen/engine/containers"
	"github.com/spaghettifunk/dozen/engine/core"
	"github.com/spaghettifunk/dozen/engine/renderer/native"
)

const defaultInFlightDepth = 16

type VulkanSubmitInfo struct {
	WaitSemaphores []*VulkanSemaphore
	// Values waited on timeline semaphores, ignored for binary ones.
	WaitValues       []uint64
	CommandBuffers   []*VulkanCommandBuffer
	SignalSemaphores []*VulkanSemaphore
	SignalValues     []uint64
}

type inflightSubmission struct {
	value   uint64
	buffers []*VulkanCommandBuffer
}

/**
 * @brief The device queue. Every submission ends by signaling a progress
 * fence; command buffers stay pending until the progress fence passes the
 * value of their submission.
 */
type VulkanQueue struct {
	device   *VulkanDevice
	native   native.CommandQueue
	progress native.Fence

	mu        sync.Mutex
	lastValue uint64
	inflight  *containers.RingQueue[inflightSubmission]
}

func newVulkanQueue(device *VulkanDevice, depth int) (*VulkanQueue, error) {
	if depth <= 0 {
		depth = defaultInFlightDepth
	}
	progress, err := device.Native.CreateFence(0)
	if err != nil {
		return nil, err
	}
	return &VulkanQueue{
		device:   device,
		native:   device.Native.Queue(),
		progress: progress,
		inflight: containers.NewRingQueue[inflightSubmission](depth),
	}, nil
}

func (q *VulkanQueue) destroy() {
	q.progress.Release()
}

// CompletedValue returns the last submission known to be complete.
func (q *VulkanQueue) CompletedValue() uint64 {
	return q.progress.CompletedValue()
}

func valueAt(values []uint64, i int) uint64 {
	if i < len(values) {
		return values[i]
	}
	return 0
}

// Submit executes the batches of every command buffer in order, with the
// semaphore waits before and the semaphore signals after each submit info.
// fence, when set, is signaled once everything completed.
func (q *VulkanQueue) Submit(submits []VulkanSubmitInfo, fence *VulkanFence) error {
	if q.device.IsLost() {
		return core.Errorf(core.ErrDeviceLost, "submit to a lost device")
	}
	if err := q.device.Native.RemovedReason(); err != nil {
		return q.device.markLost(err)
	}
	for _, s := range submits {
		for _, cb := range s.CommandBuffers {
			if cb.State != COMMAND_BUFFER_STATE_EXECUTABLE {
				return core.Errorf(core.ErrInvalidState, "submitting command buffer %s in state %s", cb.Label, cb.State)
			}
			if cb.IsPending() && !cb.isSimultaneousUse() {
				return core.Errorf(core.ErrInvalidState, "command buffer %s is already pending", cb.Label)
			}
		}
	}
	return q.device.locks.SafeCall(QueueManagement, func() error {
		return q.submit(submits, fence)
	})
}

func (q *VulkanQueue) submit(submits []VulkanSubmitInfo, fence *VulkanFence) error {
	plan, err := planSemaphores(submits)
	if err != nil {
		return err
	}
	var fenceValue uint64
	if fence != nil {
		v, err := fence.arm()
		if err != nil {
			return err
		}
		fenceValue = v
	}
	if err := q.makeRoom(); err != nil {
		if fence != nil {
			fence.mu.Lock()
			fence.pending = false
			fence.mu.Unlock()
		}
		return err
	}

	plan.commit()

	var buffers []*VulkanCommandBuffer
	for n, s := range submits {
		for i, sem := range s.WaitSemaphores {
			if err := q.native.Wait(sem.native, plan.waits[n][i]); err != nil {
				return q.device.markLost(err)
			}
		}
		for _, cb := range s.CommandBuffers {
			if err := q.executeBatches(cb); err != nil {
				return q.device.markLost(err)
			}
			buffers = append(buffers, cb)
		}
		for i, sem := range s.SignalSemaphores {
			if err := q.native.Signal(sem.native, plan.signals[n][i]); err != nil {
				return q.device.markLost(err)
			}
		}
	}

	// submissions are serialized, lastValue only moves once the signal is
	// queued so that WaitIdle never waits for a value that is not coming
	q.mu.Lock()
	value := q.lastValue + 1
	q.mu.Unlock()
	if err := q.native.Signal(q.progress, value); err != nil {
		return q.device.markLost(err)
	}
	q.mu.Lock()
	q.lastValue = value
	q.mu.Unlock()
	if fence != nil {
		if err := q.native.Signal(fence.native, fenceValue); err != nil {
			return q.device.markLost(err)
		}
	}

	for _, cb := range buffers {
		cb.pending.Add(1)
		for _, s := range cb.queries {
			s.pool.stamp(s, value)
		}
		if cb.isOneTimeSubmit() {
			cb.State = COMMAND_BUFFER_STATE_INVALID
		}
	}
	q.mu.Lock()
	// makeRoom left a free slot and submissions are serialized
	_ = q.inflight.Enqueue(inflightSubmission{value: value, buffers: buffers})
	q.mu.Unlock()

	core.Metrics().Submissions.Add(1)
	core.LogDebug("submission %d: %d command buffers", value, len(buffers))
	return nil
}

func (q *VulkanQueue) executeBatches(cb *VulkanCommandBuffer) error {
	for _, b := range cb.batches {
		for _, w := range b.Waits {
			if err := q.native.Wait(w.fence, w.value); err != nil {
				return err
			}
		}
		if err := q.native.ExecuteCommandLists([]native.CommandList{b.List}); err != nil {
			return err
		}
		for _, s := range b.Signals {
			if err := q.native.Signal(s.fence, s.value); err != nil {
				return err
			}
		}
	}
	return nil
}

// makeRoom retires completed submissions and, when the in-flight ring is
// still full, waits for the oldest one.
func (q *VulkanQueue) makeRoom() error {
	for {
		q.mu.Lock()
		q.retireLocked()
		if !q.inflight.IsFull() {
			q.mu.Unlock()
			return nil
		}
		oldest, _ := q.inflight.Peek()
		q.mu.Unlock()

		core.LogDebug("in-flight ring full, waiting for submission %d", oldest.value)
		if err := q.progress.Wait(context.Background(), oldest.value); err != nil {
			return q.device.markLost(err)
		}
	}
}

// retire releases the command buffers of completed submissions.
func (q *VulkanQueue) retire() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retireLocked()
}

func (q *VulkanQueue) retireLocked() {
	completed := q.progress.CompletedValue()
	for !q.inflight.IsEmpty() {
		s, _ := q.inflight.Peek()
		if s.value > completed {
			return
		}
		_, _ = q.inflight.Dequeue()
		for _, cb := range s.buffers {
			cb.pending.Add(-1)
		}
	}
}

// WaitIdle blocks until every submission completed.
func (q *VulkanQueue) WaitIdle(ctx context.Context) error {
	q.mu.Lock()
	target := q.lastValue
	q.mu.Unlock()
	if err := q.progress.Wait(ctx, target); err != nil {
		if core.IsTimeout(err) {
			return err
		}
		return q.device.markLost(err)
	}
	q.retire()
	if err := q.device.Native.RemovedReason(); err != nil {
		return q.device.markLost(err)
	}
	return nil
}

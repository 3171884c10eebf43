package vulkan

import (
	"sync/atomic"
	"time"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/dozen/engine/core"
	"github.com/spaghettifunk/dozen/engine/renderer/native"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_INITIAL VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_EXECUTABLE
	COMMAND_BUFFER_STATE_INVALID
)

func (s VulkanCommandBufferState) String() string {
	switch s {
	case COMMAND_BUFFER_STATE_INITIAL:
		return "INITIAL"
	case COMMAND_BUFFER_STATE_RECORDING:
		return "RECORDING"
	case COMMAND_BUFFER_STATE_EXECUTABLE:
		return "EXECUTABLE"
	case COMMAND_BUFFER_STATE_INVALID:
		return "INVALID"
	}
	return "UNKNOWN"
}

// CommandBufferStats counts the native work produced by one recording.
type CommandBufferStats struct {
	Batches           uint32
	Splits            uint32
	HeapUpdates       uint32
	PipelineUpdates   uint32
	RewriteDispatches uint32
	Draws             uint32
	Dispatches        uint32
}

/**
 * @brief A command buffer. Commands are translated as they are recorded into
 * a sequence of batches of native command lists.
 */
type VulkanCommandBuffer struct {
	Handle core.Handle
	Label  string
	// Command buffer state.
	State VulkanCommandBufferState
	Stats CommandBufferStats

	device *VulkanDevice
	pool   *VulkanCommandPool
	usage  vk.CommandBufferUsageFlags

	batches []*VulkanBatch
	// recording state, only set while RECORDING
	rec            *recording
	recordingStart time.Duration

	internal    []*internalBuffer
	heapPools   [DESCRIPTOR_CLASS_COUNT]*descriptorHeapPool
	attachments attachmentViews
	queries     []queryStamp

	// number of submissions not yet retired by the queue
	pending atomic.Int32
}

func newVulkanCommandBuffer(device *VulkanDevice, pool *VulkanCommandPool) *VulkanCommandBuffer {
	cb := &VulkanCommandBuffer{
		State:  COMMAND_BUFFER_STATE_INITIAL,
		device: device,
		pool:   pool,
	}
	cb.heapPools[DESCRIPTOR_CLASS_VIEW] = newDescriptorHeapPool(device, DESCRIPTOR_CLASS_VIEW, device.Config.Descriptors.ViewHeapBlockSize)
	cb.heapPools[DESCRIPTOR_CLASS_SAMPLER] = newDescriptorHeapPool(device, DESCRIPTOR_CLASS_SAMPLER, device.Config.Descriptors.SamplerHeapBlockSize)
	cb.attachments.device = device
	cb.Handle, cb.Label = device.Handles.Acquire(cb)
	return cb
}

// IsPending tells whether a submission of the command buffer is still
// executing.
func (cb *VulkanCommandBuffer) IsPending() bool {
	return cb.pending.Load() > 0
}

// Batches returns the batches recorded so far.
func (cb *VulkanCommandBuffer) Batches() []*VulkanBatch {
	return cb.batches
}

func (cb *VulkanCommandBuffer) Begin(flags vk.CommandBufferUsageFlags) error {
	if cb.State == COMMAND_BUFFER_STATE_RECORDING {
		return core.Errorf(core.ErrInvalidState, "command buffer %s is already recording", cb.Label)
	}
	if cb.State != COMMAND_BUFFER_STATE_INITIAL {
		if err := cb.Reset(); err != nil {
			return err
		}
	}
	cb.usage = flags
	cb.State = COMMAND_BUFFER_STATE_RECORDING
	cb.rec = newRecording()
	cb.recordingStart = core.RecordingStart()

	// a failed allocation leaves the first batch to be opened lazily
	if _, err := cb.openBatch(); err != nil {
		core.LogError("command buffer %s: failed to open the first batch", cb.Label)
		return err
	}
	return nil
}

func (cb *VulkanCommandBuffer) End() error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	if cb.rec.pass != nil {
		return core.Errorf(core.ErrInvalidState, "command buffer %s ended inside a render pass", cb.Label)
	}
	if cb.rec.batch == nil && len(cb.batches) == 0 {
		if _, err := cb.openBatch(); err != nil {
			return err
		}
	}
	if err := cb.restoreInternalStates(); err != nil {
		return err
	}
	if b := cb.rec.batch; b != nil {
		if err := b.close(); err != nil {
			cb.State = COMMAND_BUFFER_STATE_INVALID
			return resultError("failed to close command list", err)
		}
	}
	cb.rec = nil
	cb.State = COMMAND_BUFFER_STATE_EXECUTABLE
	core.RecordingDone(cb.recordingStart)
	core.LogDebug("command buffer %s recorded: %d batches, %d heap updates, %d pipeline updates, %d rewrite dispatches",
		cb.Label, cb.Stats.Batches, cb.Stats.HeapUpdates, cb.Stats.PipelineUpdates, cb.Stats.RewriteDispatches)
	return nil
}

// Reset returns the command buffer to the initial state and recycles its
// internal resources.
func (cb *VulkanCommandBuffer) Reset() error {
	if cb.IsPending() {
		return core.Errorf(core.ErrInvalidState, "command buffer %s reset while pending", cb.Label)
	}
	cb.batches = nil
	cb.rec = nil
	for _, b := range cb.internal {
		cb.device.internal.release(b)
	}
	cb.internal = nil
	for _, p := range cb.heapPools {
		p.reset()
	}
	cb.attachments.reset()
	cb.queries = nil
	cb.Stats = CommandBufferStats{}
	cb.State = COMMAND_BUFFER_STATE_INITIAL
	return nil
}

// destroy releases everything the command buffer owns. A pending buffer is
// left untouched since the queue may still read its heaps.
func (cb *VulkanCommandBuffer) destroy() error {
	if err := cb.Reset(); err != nil {
		return err
	}
	for _, p := range cb.heapPools {
		p.destroy()
	}
	cb.attachments.destroy()
	return cb.device.Handles.Release(cb.Handle)
}

func (cb *VulkanCommandBuffer) isOneTimeSubmit() bool {
	return cb.usage&vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit) != 0
}

func (cb *VulkanCommandBuffer) isSimultaneousUse() bool {
	return cb.usage&vk.CommandBufferUsageFlags(vk.CommandBufferUsageSimultaneousUseBit) != 0
}

func (cb *VulkanCommandBuffer) checkRecording() error {
	if cb.State != COMMAND_BUFFER_STATE_RECORDING {
		return core.Errorf(core.ErrInvalidState, "command buffer %s is %s, not recording", cb.Label, cb.State)
	}
	return nil
}

// openBatch starts a new batch. Every piece of state set on the previous
// native list has to be set again.
func (cb *VulkanCommandBuffer) openBatch() (*VulkanBatch, error) {
	b, err := newBatch(cb.device)
	if err != nil {
		return nil, err
	}
	cb.batches = append(cb.batches, b)
	cb.rec.batch = b
	cb.rec.invalidateList()
	cb.Stats.Batches++
	return b, nil
}

// closeBatch closes the current batch; the next command opens a new one.
func (cb *VulkanCommandBuffer) closeBatch() error {
	b := cb.rec.batch
	if b == nil {
		return nil
	}
	cb.rec.batch = nil
	if err := b.close(); err != nil {
		cb.State = COMMAND_BUFFER_STATE_INVALID
		return resultError("failed to close command list", err)
	}
	cb.Stats.Splits++
	core.Metrics().BatchSplits.Add(1)
	return nil
}

// getBatch returns the batch new commands go to. A batch whose end signals
// events cannot take more work, unless the caller is adding a signal too.
func (cb *VulkanCommandBuffer) getBatch(requiresSignal bool) (*VulkanBatch, error) {
	r := cb.rec
	if r.batch != nil && len(r.batch.Signals) > 0 && !requiresSignal {
		if err := cb.closeBatch(); err != nil {
			return nil, err
		}
	}
	if r.batch != nil {
		return r.batch, nil
	}
	return cb.openBatch()
}

// allocateInternal gets a scratch buffer owned by this recording.
func (cb *VulkanCommandBuffer) allocateInternal(heap native.HeapKind, size uint64) (*internalBuffer, error) {
	b, err := cb.device.allocateInternalBuffer(heap, size)
	if err != nil {
		return nil, resultError("failed to allocate internal buffer", err)
	}
	cb.internal = append(cb.internal, b)
	return b, nil
}

// transition records a state change of an internal buffer.
func (cb *VulkanCommandBuffer) transition(batch *VulkanBatch, buffers []*internalBuffer, to native.ResourceState) {
	barriers := make([]native.ResourceBarrier, 0, len(buffers))
	for _, b := range buffers {
		if b == nil {
			continue
		}
		if b.state == to {
			if to == native.ResourceStateUnorderedAccess {
				barriers = append(barriers, native.ResourceBarrier{Type: native.BarrierTypeUAV, Resource: b.Resource})
			}
			continue
		}
		barriers = append(barriers, native.ResourceBarrier{
			Type:        native.BarrierTypeTransition,
			Resource:    b.Resource,
			Subresource: native.AllSubresources,
			StateBefore: b.state,
			StateAfter:  to,
		})
		b.state = to
	}
	if len(barriers) > 0 {
		batch.List.ResourceBarrier(barriers)
		batch.hasWork = true
	}
}

// restoreInternalStates moves the internal buffers back to the state they
// are expected in when the command buffer starts executing.
func (cb *VulkanCommandBuffer) restoreInternalStates() error {
	var barriers []native.ResourceBarrier
	for _, b := range cb.internal {
		if b.state == b.homeState() {
			continue
		}
		barriers = append(barriers, native.ResourceBarrier{
			Type:        native.BarrierTypeTransition,
			Resource:    b.Resource,
			Subresource: native.AllSubresources,
			StateBefore: b.state,
			StateAfter:  b.homeState(),
		})
		b.state = b.homeState()
	}
	if len(barriers) == 0 {
		return nil
	}
	batch, err := cb.getBatch(false)
	if err != nil {
		return err
	}
	batch.List.ResourceBarrier(barriers)
	batch.hasWork = true
	return nil
}

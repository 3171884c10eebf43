package vulkan

import (
	"context"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/dozen/engine/core"
)

/**
 * @brief Owns command buffers. Buffers of one pool must not be recorded from
 * several goroutines at once; different pools can.
 */
type VulkanCommandPool struct {
	Handle core.Handle
	Label  string

	device  *VulkanDevice
	mu      sync.Mutex
	buffers map[*VulkanCommandBuffer]struct{}
}

func NewVulkanCommandPool(device *VulkanDevice) *VulkanCommandPool {
	p := &VulkanCommandPool{
		device:  device,
		buffers: make(map[*VulkanCommandBuffer]struct{}),
	}
	p.Handle, p.Label = device.Handles.Acquire(p)
	return p
}

func (p *VulkanCommandPool) AllocateCommandBuffers(count int) []*VulkanCommandBuffer {
	out := make([]*VulkanCommandBuffer, count)
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range out {
		cb := newVulkanCommandBuffer(p.device, p)
		p.buffers[cb] = struct{}{}
		out[i] = cb
	}
	return out
}

// FreeCommandBuffers destroys command buffers. Completed submissions are
// retired first; buffers still pending after that are refused.
func (p *VulkanCommandPool) FreeCommandBuffers(buffers ...*VulkanCommandBuffer) error {
	p.device.queue.retire()
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, cb := range buffers {
		if cb == nil {
			continue
		}
		if _, ok := p.buffers[cb]; !ok {
			return core.Errorf(core.ErrInvalidState, "command buffer %s does not belong to pool %s", cb.Label, p.Label)
		}
		if err := cb.destroy(); err != nil {
			core.LogWarn("command buffer %s not freed: %s", cb.Label, err)
			return err
		}
		delete(p.buffers, cb)
	}
	return nil
}

// Reset returns every command buffer of the pool to the initial state.
func (p *VulkanCommandPool) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for cb := range p.buffers {
		if err := cb.Reset(); err != nil {
			return err
		}
	}
	return nil
}

func (p *VulkanCommandPool) Destroy() error {
	p.device.queue.retire()
	p.mu.Lock()
	defer p.mu.Unlock()
	for cb := range p.buffers {
		if cb.IsPending() {
			return core.Errorf(core.ErrInvalidState, "command pool %s destroyed with pending command buffer %s", p.Label, cb.Label)
		}
	}
	for cb := range p.buffers {
		if err := cb.destroy(); err != nil {
			return err
		}
		delete(p.buffers, cb)
	}
	return p.device.Handles.Release(p.Handle)
}

// AllocateAndBeginSingleUse allocates a command buffer and begins recording
// it for a single submission.
func (p *VulkanCommandPool) AllocateAndBeginSingleUse() (*VulkanCommandBuffer, error) {
	cb := p.AllocateCommandBuffers(1)[0]
	if err := cb.Begin(vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)); err != nil {
		_ = p.FreeCommandBuffers(cb)
		return nil, err
	}
	return cb, nil
}

// EndSingleUse ends recording, submits the command buffer, waits for it to
// complete and frees it.
func (p *VulkanCommandPool) EndSingleUse(ctx context.Context, cb *VulkanCommandBuffer) error {
	if err := cb.End(); err != nil {
		_ = p.FreeCommandBuffers(cb)
		return err
	}
	fence, err := NewFence(p.device, false)
	if err != nil {
		_ = p.FreeCommandBuffers(cb)
		return err
	}
	defer fence.Destroy()

	if err := p.device.queue.Submit([]VulkanSubmitInfo{{CommandBuffers: []*VulkanCommandBuffer{cb}}}, fence); err != nil {
		_ = p.FreeCommandBuffers(cb)
		return err
	}
	if err := fence.Wait(ctx); err != nil {
		return err
	}
	// the queue retires completed submissions lazily
	p.device.queue.retire()
	return p.FreeCommandBuffers(cb)
}

package vulkan

import (
	"context"
	"sync/atomic"

	"github.com/spaghettifunk/dozen/engine/core"
	"github.com/spaghettifunk/dozen/engine/renderer/native"
)

// VulkanDevice is the logical device: it owns the native device, the single
// hardware queue and the device-wide caches shared by command buffers.
type VulkanDevice struct {
	Native  native.Device
	Config  core.Config
	Handles *core.Handles

	locks    *VulkanLockPool
	meta     *metaCache
	internal *internalBufferCache
	queue    *VulkanQueue

	lost atomic.Bool
}

func NewVulkanDevice(dev native.Device, cfg core.Config) (*VulkanDevice, error) {
	d := &VulkanDevice{
		Native:  dev,
		Config:  cfg,
		Handles: core.NewHandles(),
		locks:   NewVulkanLockPool(),
	}
	d.meta = newMetaCache(d)
	d.internal = newInternalBufferCache()

	q, err := newVulkanQueue(d, cfg.Queue.InFlightDepth)
	if err != nil {
		return nil, resultError("failed to create queue", err)
	}
	d.queue = q

	core.LogInfo("Vulkan device created (view heap block %d, sampler heap block %d, in-flight depth %d)",
		cfg.Descriptors.ViewHeapBlockSize, cfg.Descriptors.SamplerHeapBlockSize, cfg.Queue.InFlightDepth)
	return d, nil
}

func (d *VulkanDevice) Queue() *VulkanQueue {
	return d.queue
}

// WaitIdle blocks until every submitted batch completed.
func (d *VulkanDevice) WaitIdle(ctx context.Context) error {
	return d.queue.WaitIdle(ctx)
}

// Destroy waits for the queue and releases device-wide caches.
func (d *VulkanDevice) Destroy(ctx context.Context) error {
	err := d.queue.WaitIdle(ctx)
	d.internal.Trim()
	d.meta.destroy()
	d.queue.destroy()
	return err
}

func (d *VulkanDevice) IsLost() bool {
	return d.lost.Load()
}

// markLost flags the device as lost and returns err classified as such.
func (d *VulkanDevice) markLost(err error) error {
	if d.lost.CompareAndSwap(false, true) {
		core.LogError("device lost: %s", err.Error())
		var ctx core.EventContext
		ctx.Data.C[0] = err.Error()
		core.EventFire(core.EVENT_CODE_DEVICE_LOST, d, ctx)
	}
	return core.Mark(err, core.ErrDeviceLost)
}

// CommandBuffer resolves a command buffer handle.
func (d *VulkanDevice) CommandBuffer(h core.Handle) (*VulkanCommandBuffer, error) {
	return core.Lookup[*VulkanCommandBuffer](d.Handles, h)
}

// DescriptorSet resolves a descriptor set handle.
func (d *VulkanDevice) DescriptorSet(h core.Handle) (*VulkanDescriptorSet, error) {
	return core.Lookup[*VulkanDescriptorSet](d.Handles, h)
}

// TrimInternalBuffers releases every recycled internal buffer.
func (d *VulkanDevice) TrimInternalBuffers() {
	d.internal.Trim()
}

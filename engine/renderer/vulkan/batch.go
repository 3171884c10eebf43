package vulkan

import (
	"github.com/spaghettifunk/dozen/engine/core"
	"github.com/spaghettifunk/dozen/engine/renderer/native"
)

// syncPoint is a fence value waited on or signaled around a batch.
type syncPoint struct {
	fence native.Fence
	value uint64
}

/**
 * @brief A native command list together with the fence waits executed before
 * it and the fence signals executed after it. A command buffer records into a
 * sequence of batches, split where events need to be signaled or waited.
 */
type VulkanBatch struct {
	List    native.CommandList
	Waits   []syncPoint
	Signals []syncPoint

	hasWork bool
	closed  bool
}

func newBatch(device *VulkanDevice) (*VulkanBatch, error) {
	list, err := device.Native.CreateCommandList()
	if err != nil {
		return nil, resultError("failed to create command list", err)
	}
	core.Metrics().BatchesOpened.Add(1)
	return &VulkanBatch{List: list}, nil
}

func (b *VulkanBatch) close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	return b.List.Close()
}

// HasWork tells whether any GPU command was recorded into the batch.
func (b *VulkanBatch) HasWork() bool {
	return b.hasWork
}

package vulkan

import (
	vk "github.com/goki/vulkan"
)

// SetEvent sets ev once the commands recorded so far completed. The batch
// ends with the signal: later commands go to a new batch.
func (cb *VulkanCommandBuffer) SetEvent(ev *VulkanEvent, stages vk.PipelineStageFlags) error {
	return cb.signalEvent(ev, 1)
}

func (cb *VulkanCommandBuffer) ResetEvent(ev *VulkanEvent, stages vk.PipelineStageFlags) error {
	return cb.signalEvent(ev, 0)
}

func (cb *VulkanCommandBuffer) signalEvent(ev *VulkanEvent, value uint64) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	batch, err := cb.getBatch(true)
	if err != nil {
		return err
	}
	batch.Signals = append(batch.Signals, syncPoint{fence: ev.native, value: value})
	return nil
}

// WaitEvents makes the following commands wait until every event is set.
// Waits happen between batches, so the current batch is closed unless
// nothing was recorded into it yet.
func (cb *VulkanCommandBuffer) WaitEvents(events []*VulkanEvent, srcStages, dstStages vk.PipelineStageFlags, memory []VulkanMemoryBarrier, buffers []VulkanBufferMemoryBarrier, images []VulkanImageMemoryBarrier) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	r := cb.rec
	if r.batch != nil && (r.batch.hasWork || len(r.batch.Signals) > 0) {
		if err := cb.closeBatch(); err != nil {
			return err
		}
	}
	batch, err := cb.getBatch(false)
	if err != nil {
		return err
	}
	for _, ev := range events {
		batch.Waits = append(batch.Waits, syncPoint{fence: ev.native, value: 1})
	}
	return cb.PipelineBarrier(srcStages, dstStages, memory, buffers, images)
}

package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/dozen/engine/renderer/native"
)

type VulkanMemoryBarrier struct {
	SrcAccessMask vk.AccessFlags
	DstAccessMask vk.AccessFlags
}

type VulkanBufferMemoryBarrier struct {
	SrcAccessMask vk.AccessFlags
	DstAccessMask vk.AccessFlags
	Buffer        *VulkanBuffer
	Offset        uint64
	Size          uint64
}

type VulkanImageMemoryBarrier struct {
	SrcAccessMask    vk.AccessFlags
	DstAccessMask    vk.AccessFlags
	OldLayout        vk.ImageLayout
	NewLayout        vk.ImageLayout
	Image            *VulkanImage
	SubresourceRange ImageSubresourceRange
}

// appendImageBarriers appends one transition per subresource of rng. A
// range covering the whole image collapses into a single barrier.
func appendImageBarriers(out []native.ResourceBarrier, img *VulkanImage, rng ImageSubresourceRange, before, after native.ResourceState) []native.ResourceBarrier {
	if before == after {
		return out
	}
	rng = rng.resolve(img)
	planes := img.planes(rng.AspectMask)
	if len(planes) == 0 {
		planes = []uint32{0}
	}
	whole := rng.BaseMipLevel == 0 && rng.LevelCount == img.MipLevels &&
		rng.BaseArrayLayer == 0 && rng.LayerCount == img.layers() &&
		uint32(len(planes)) == img.nativeFormat().PlaneCount()
	if whole {
		return append(out, native.ResourceBarrier{
			Type:        native.BarrierTypeTransition,
			Resource:    img.Resource,
			Subresource: native.AllSubresources,
			StateBefore: before,
			StateAfter:  after,
		})
	}
	for _, plane := range planes {
		for layer := rng.BaseArrayLayer; layer < rng.BaseArrayLayer+rng.LayerCount; layer++ {
			for mip := rng.BaseMipLevel; mip < rng.BaseMipLevel+rng.LevelCount; mip++ {
				out = append(out, native.ResourceBarrier{
					Type:        native.BarrierTypeTransition,
					Resource:    img.Resource,
					Subresource: img.subresource(mip, layer, plane),
					StateBefore: before,
					StateAfter:  after,
				})
			}
		}
	}
	return out
}

// translateBarriers converts a pipeline barrier into native barriers.
// Global memory barriers become a UAV barrier on every resource followed by
// an aliasing barrier. Buffers only need a UAV barrier when they can be
// written by shaders. Images transition each selected subresource from the
// old to the new layout.
func translateBarriers(memory []VulkanMemoryBarrier, buffers []VulkanBufferMemoryBarrier, images []VulkanImageMemoryBarrier) []native.ResourceBarrier {
	var out []native.ResourceBarrier
	if len(memory) > 0 {
		out = append(out,
			native.ResourceBarrier{Type: native.BarrierTypeUAV},
			native.ResourceBarrier{Type: native.BarrierTypeAliasing},
		)
	}
	for _, b := range buffers {
		if b.Buffer == nil || !hasStorageUsage(b.Buffer.Usage) {
			continue
		}
		out = append(out, native.ResourceBarrier{Type: native.BarrierTypeUAV, Resource: b.Buffer.Resource})
	}
	for _, b := range images {
		if b.Image == nil {
			continue
		}
		before := translateLayout(b.OldLayout)
		if layoutIsUndefined(b.OldLayout) {
			before = b.Image.InitialState
		}
		after := translateLayout(b.NewLayout)
		if before == after {
			if after == native.ResourceStateUnorderedAccess {
				out = append(out, native.ResourceBarrier{Type: native.BarrierTypeUAV, Resource: b.Image.Resource})
			}
			continue
		}
		out = appendImageBarriers(out, b.Image, b.SubresourceRange, before, after)
	}
	return out
}

// PipelineBarrier records an execution and memory dependency. The stage
// masks have no native equivalent: native barriers order all prior work.
func (cb *VulkanCommandBuffer) PipelineBarrier(srcStages, dstStages vk.PipelineStageFlags, memory []VulkanMemoryBarrier, buffers []VulkanBufferMemoryBarrier, images []VulkanImageMemoryBarrier) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	barriers := translateBarriers(memory, buffers, images)
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

package vulkan

import (
	"github.com/spaghettifunk/dozen/engine/core"
	"github.com/spaghettifunk/dozen/engine/renderer/native"
)

// DescriptorClass splits descriptors between the two shader-visible heap
// types of the native API.
type DescriptorClass uint8

const (
	DESCRIPTOR_CLASS_VIEW DescriptorClass = iota
	DESCRIPTOR_CLASS_SAMPLER
	DESCRIPTOR_CLASS_COUNT
)

func (c DescriptorClass) heapType() native.DescriptorHeapType {
	if c == DESCRIPTOR_CLASS_SAMPLER {
		return native.DescriptorHeapTypeSampler
	}
	return native.DescriptorHeapTypeCBVSRVUAV
}

func (c DescriptorClass) String() string {
	if c == DESCRIPTOR_CLASS_SAMPLER {
		return "sampler"
	}
	return "view"
}

/**
 * @brief A contiguous array of native descriptor slots of one class.
 */
type VulkanDescriptorHeap struct {
	/** @brief The native heap. */
	Native native.DescriptorHeap
	/** @brief The class of descriptors stored in the heap. */
	Class DescriptorClass
	/** @brief The number of slots. */
	Capacity uint32
	/** @brief Indicates if the heap can be bound to a command list. */
	ShaderVisible bool
}

func NewVulkanDescriptorHeap(device *VulkanDevice, class DescriptorClass, capacity uint32, shaderVisible bool) (*VulkanDescriptorHeap, error) {
	h, err := device.Native.CreateDescriptorHeap(native.DescriptorHeapDesc{
		Type:           class.heapType(),
		NumDescriptors: capacity,
		ShaderVisible:  shaderVisible,
	})
	if err != nil {
		return nil, resultError("failed to create descriptor heap", err)
	}
	return &VulkanDescriptorHeap{Native: h, Class: class, Capacity: capacity, ShaderVisible: shaderVisible}, nil
}

// newAttachmentHeap creates a host-only heap for render target or depth-stencil
// views.
func newAttachmentHeap(device *VulkanDevice, typ native.DescriptorHeapType, capacity uint32) (native.DescriptorHeap, error) {
	h, err := device.Native.CreateDescriptorHeap(native.DescriptorHeapDesc{Type: typ, NumDescriptors: capacity})
	if err != nil {
		return nil, resultError("failed to create attachment view heap", err)
	}
	return h, nil
}

func (h *VulkanDescriptorHeap) CPUHandle(index uint32) native.CPUDescriptorHandle {
	return native.CPUDescriptorHandle{Heap: h.Native, Index: index}
}

func (h *VulkanDescriptorHeap) GPUHandle(index uint32) uint64 {
	return h.Native.GPUHandle(index)
}

func (h *VulkanDescriptorHeap) Write(index uint32, d native.Descriptor) {
	if index >= h.Capacity {
		core.LogError("descriptor write at %d past the end of a %s heap of %d slots", index, h.Class, h.Capacity)
		return
	}
	h.Native.Write(index, d)
}

func (h *VulkanDescriptorHeap) Destroy() {
	if h.Native != nil {
		h.Native.Release()
		h.Native = nil
	}
}

// copyDescriptors copies count slots between two heaps of the same class.
func copyDescriptors(device *VulkanDevice, count uint32, dst *VulkanDescriptorHeap, dstIndex uint32, src *VulkanDescriptorHeap, srcIndex uint32) {
	if count == 0 {
		return
	}
	device.Native.CopyDescriptorsSimple(count, dst.CPUHandle(dstIndex), src.CPUHandle(srcIndex), src.Class.heapType())
}

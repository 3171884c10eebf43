package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/dozen/engine/core"
	"github.com/spaghettifunk/dozen/engine/renderer/native"
)

type VulkanBuffer struct {
	Resource native.Resource
	Size     uint64
	Usage    vk.BufferUsageFlags
	// Host visible buffers live in an upload heap and can be mapped.
	HostVisible bool
}

// NewVulkanBuffer creates a buffer backed by a committed native resource.
func NewVulkanBuffer(device *VulkanDevice, size uint64, usage vk.BufferUsageFlags, hostVisible bool) (*VulkanBuffer, error) {
	heap, state := native.HeapKindDefault, native.ResourceStateCommon
	if hostVisible {
		heap, state = native.HeapKindUpload, native.ResourceStateGenericRead
	}
	var flags native.ResourceFlags
	if hasStorageUsage(usage) {
		flags |= native.ResourceFlagAllowUnorderedAccess
	}
	res, err := device.Native.CreateCommittedResource(heap, native.ResourceDesc{
		Dimension: native.ResourceDimensionBuffer,
		Width:     alignUp(max(size, 1), uint64(constantBufferAlignment)),
		Flags:     flags,
	}, state)
	if err != nil {
		return nil, resultError("failed to create buffer", err)
	}
	return &VulkanBuffer{Resource: res, Size: size, Usage: usage, HostVisible: hostVisible}, nil
}

func (b *VulkanBuffer) Destroy() {
	if b.Resource != nil {
		b.Resource.Release()
		b.Resource = nil
	}
}

// Address returns the GPU virtual address of offset.
func (b *VulkanBuffer) Address(offset uint64) uint64 {
	return b.Resource.GPUVirtualAddress() + offset
}

// Write copies data at offset of a host visible buffer.
func (b *VulkanBuffer) Write(offset uint64, data []byte) error {
	if !b.HostVisible {
		return core.Errorf(core.ErrInvalidState, "buffer is not host visible")
	}
	mem, err := b.Resource.Map()
	if err != nil {
		return err
	}
	defer b.Resource.Unmap()
	if offset+uint64(len(data)) > b.Size {
		return core.Errorf(core.ErrInvalidState, "write of %d bytes at %d overflows buffer of %d", len(data), offset, b.Size)
	}
	copy(mem[offset:], data)
	return nil
}

// rangeSize resolves WholeSize against the buffer size.
func (b *VulkanBuffer) rangeSize(offset, size uint64) uint64 {
	if size == WholeSize {
		return b.Size - offset
	}
	return size
}

func hasStorageUsage(usage vk.BufferUsageFlags) bool {
	return usage&vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit|vk.BufferUsageStorageTexelBufferBit) != 0
}

type VulkanBufferView struct {
	Buffer *VulkanBuffer
	Format vk.Format
	Offset uint64
	Range  uint64
}

func NewVulkanBufferView(buffer *VulkanBuffer, format vk.Format, offset, size uint64) *VulkanBufferView {
	return &VulkanBufferView{Buffer: buffer, Format: format, Offset: offset, Range: buffer.rangeSize(offset, size)}
}

func (v *VulkanBufferView) descriptor(kind native.DescriptorKind) native.Descriptor {
	return native.Descriptor{
		Kind:      kind,
		Resource:  v.Buffer.Resource,
		Address:   v.Buffer.Address(v.Offset),
		Size:      v.Range,
		Format:    translateFormat(v.Format),
		Dimension: native.ViewDimensionBuffer,
	}
}

type VulkanSamplerCreateInfo struct {
	MagFilter        vk.Filter
	MinFilter        vk.Filter
	MipmapMode       vk.SamplerMipmapMode
	AddressModeU     vk.SamplerAddressMode
	AddressModeV     vk.SamplerAddressMode
	AddressModeW     vk.SamplerAddressMode
	MipLodBias       float32
	AnisotropyEnable bool
	MaxAnisotropy    float32
	CompareEnable    bool
	CompareOp        vk.CompareOp
	MinLod           float32
	MaxLod           float32
	BorderColor      [4]float32
}

type VulkanSampler struct {
	Desc native.SamplerDesc
}

func NewVulkanSampler(info VulkanSamplerCreateInfo) *VulkanSampler {
	desc := native.SamplerDesc{
		Filter:      translateFilter(info.MinFilter, info.MagFilter, info.MipmapMode, info.AnisotropyEnable),
		AddressU:    translateAddressMode(info.AddressModeU),
		AddressV:    translateAddressMode(info.AddressModeV),
		AddressW:    translateAddressMode(info.AddressModeW),
		MipLODBias:  info.MipLodBias,
		BorderColor: info.BorderColor,
		MinLOD:      info.MinLod,
		MaxLOD:      info.MaxLod,
	}
	if info.AnisotropyEnable {
		desc.MaxAnisotropy = uint32(info.MaxAnisotropy)
	}
	if info.CompareEnable {
		desc.Comparison = translateCompareOp(info.CompareOp)
	}
	return &VulkanSampler{Desc: desc}
}

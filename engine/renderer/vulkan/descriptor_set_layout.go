package vulkan

import (
	"sort"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/dozen/engine/core"
	"github.com/spaghettifunk/dozen/engine/renderer/native"
)

// BindingUsage tells how the shaders of the pipelines using a layout access
// a storage binding. When unknown, both a read-only and a read-write view
// are kept for every element.
type BindingUsage uint8

const (
	BINDING_USAGE_UNKNOWN BindingUsage = iota
	BINDING_USAGE_READ_ONLY
	BINDING_USAGE_READ_WRITE
)

/**
 * @brief The layout of one binding of a descriptor set.
 */
type VulkanDescriptorSetLayoutBinding struct {
	/** @brief The binding number, also used as base shader register. */
	Binding uint32
	/** @brief The type of descriptors in the binding. */
	DescriptorType vk.DescriptorType
	/** @brief The number of array elements. */
	DescriptorCount uint32
	/** @brief The stages accessing the binding. */
	StageFlags vk.ShaderStageFlags
	/** @brief Samplers baked into the layout, one per element, or nil. */
	ImmutableSamplers []*VulkanSampler
	/** @brief How storage descriptors are accessed by shaders. */
	Usage BindingUsage
}

// descriptorSlots is the number of native slots one array element of a
// binding consumes.
type descriptorSlots struct {
	views    uint32
	samplers uint32
	dynamic  uint32
}

// slotsFor maps a binding onto native slots. Storage descriptors accessed
// by unknown shaders get two views per element: a read-only one followed,
// after every element of the binding, by a read-write one.
func slotsFor(t vk.DescriptorType, usageDependent bool, immutableSampler bool) descriptorSlots {
	storageViews := uint32(1)
	if usageDependent {
		storageViews = 2
	}
	switch t {
	case vk.DescriptorTypeSampler:
		if immutableSampler {
			return descriptorSlots{}
		}
		return descriptorSlots{samplers: 1}
	case vk.DescriptorTypeCombinedImageSampler:
		if immutableSampler {
			return descriptorSlots{views: 1}
		}
		return descriptorSlots{views: 1, samplers: 1}
	case vk.DescriptorTypeSampledImage, vk.DescriptorTypeUniformTexelBuffer,
		vk.DescriptorTypeUniformBuffer, vk.DescriptorTypeInputAttachment:
		return descriptorSlots{views: 1}
	case vk.DescriptorTypeStorageImage, vk.DescriptorTypeStorageTexelBuffer, vk.DescriptorTypeStorageBuffer:
		return descriptorSlots{views: storageViews}
	case vk.DescriptorTypeUniformBufferDynamic:
		return descriptorSlots{dynamic: 1}
	case vk.DescriptorTypeStorageBufferDynamic:
		return descriptorSlots{dynamic: storageViews}
	}
	return descriptorSlots{}
}

func isStorageType(t vk.DescriptorType) bool {
	switch t {
	case vk.DescriptorTypeStorageImage, vk.DescriptorTypeStorageTexelBuffer,
		vk.DescriptorTypeStorageBuffer, vk.DescriptorTypeStorageBufferDynamic:
		return true
	}
	return false
}

func isDynamicType(t vk.DescriptorType) bool {
	return t == vk.DescriptorTypeUniformBufferDynamic || t == vk.DescriptorTypeStorageBufferDynamic
}

// bindingLayout is a binding with its precomputed position in the set.
type bindingLayout struct {
	VulkanDescriptorSetLayoutBinding
	slots descriptorSlots
	// first slot of the binding in the set's view, sampler and dynamic
	// ranges
	viewOffset    uint32
	samplerOffset uint32
	dynamicOffset uint32
}

func (b *bindingLayout) usageDependent() bool {
	return isStorageType(b.DescriptorType) && b.Usage == BINDING_USAGE_UNKNOWN
}

func (b *bindingLayout) immutable() bool {
	return len(b.ImmutableSamplers) > 0
}

/**
 * @brief Describes the bindings of a descriptor set and the number of native
 * slots a set of this layout occupies in each heap class.
 */
type VulkanDescriptorSetLayout struct {
	core.RefCount

	Bindings []bindingLayout
	/** @brief Slots per descriptor class. */
	SlotCount [DESCRIPTOR_CLASS_COUNT]uint32
	/** @brief Number of dynamic buffer descriptors. */
	DynamicCount uint32
}

func NewVulkanDescriptorSetLayout(bindings []VulkanDescriptorSetLayoutBinding) (*VulkanDescriptorSetLayout, error) {
	l := &VulkanDescriptorSetLayout{Bindings: make([]bindingLayout, 0, len(bindings))}
	for _, b := range bindings {
		if len(b.ImmutableSamplers) > 0 && len(b.ImmutableSamplers) != int(b.DescriptorCount) {
			return nil, core.Errorf(core.ErrInvalidState, "binding %d has %d immutable samplers for %d descriptors",
				b.Binding, len(b.ImmutableSamplers), b.DescriptorCount)
		}
		l.Bindings = append(l.Bindings, bindingLayout{VulkanDescriptorSetLayoutBinding: b})
	}
	sort.Slice(l.Bindings, func(i, j int) bool { return l.Bindings[i].Binding < l.Bindings[j].Binding })

	for i := range l.Bindings {
		b := &l.Bindings[i]
		if i > 0 && l.Bindings[i-1].Binding == b.Binding {
			return nil, core.Errorf(core.ErrInvalidState, "binding %d declared twice", b.Binding)
		}
		b.slots = slotsFor(b.DescriptorType, b.usageDependent(), b.immutable())
		b.viewOffset = l.SlotCount[DESCRIPTOR_CLASS_VIEW]
		b.samplerOffset = l.SlotCount[DESCRIPTOR_CLASS_SAMPLER]
		b.dynamicOffset = l.DynamicCount
		l.SlotCount[DESCRIPTOR_CLASS_VIEW] += b.slots.views * b.DescriptorCount
		l.SlotCount[DESCRIPTOR_CLASS_SAMPLER] += b.slots.samplers * b.DescriptorCount
		l.DynamicCount += b.slots.dynamic * b.DescriptorCount
	}
	l.InitRefCount(nil)
	return l, nil
}

// Destroy drops the application reference. Sets and pipeline layouts built
// from the layout keep it alive.
func (l *VulkanDescriptorSetLayout) Destroy() {
	l.Unref()
}

// binding returns the layout of binding number n.
func (l *VulkanDescriptorSetLayout) binding(n uint32) (*bindingLayout, bool) {
	i := sort.Search(len(l.Bindings), func(i int) bool { return l.Bindings[i].Binding >= n })
	if i < len(l.Bindings) && l.Bindings[i].Binding == n {
		return &l.Bindings[i], true
	}
	return nil, false
}

// bindingIndex returns the position of binding number n in Bindings.
func (l *VulkanDescriptorSetLayout) bindingIndex(n uint32) (int, bool) {
	i := sort.Search(len(l.Bindings), func(i int) bool { return l.Bindings[i].Binding >= n })
	return i, i < len(l.Bindings) && l.Bindings[i].Binding == n
}

// viewRanges appends the descriptor ranges of the set's views to a table
// whose set range starts at base.
func (l *VulkanDescriptorSetLayout) viewRanges(space, base uint32, out []native.DescriptorRange) []native.DescriptorRange {
	for i := range l.Bindings {
		b := &l.Bindings[i]
		if b.slots.views == 0 {
			continue
		}
		switch {
		case b.usageDependent():
			out = append(out,
				native.DescriptorRange{Type: native.DescriptorRangeTypeSRV, NumDescriptors: b.DescriptorCount,
					BaseShaderRegister: b.Binding, RegisterSpace: space, OffsetInTable: base + b.viewOffset},
				native.DescriptorRange{Type: native.DescriptorRangeTypeUAV, NumDescriptors: b.DescriptorCount,
					BaseShaderRegister: b.Binding, RegisterSpace: space, OffsetInTable: base + b.viewOffset + b.DescriptorCount})
		default:
			out = append(out, native.DescriptorRange{Type: viewRangeType(b), NumDescriptors: b.DescriptorCount,
				BaseShaderRegister: b.Binding, RegisterSpace: space, OffsetInTable: base + b.viewOffset})
		}
	}
	return out
}

func (l *VulkanDescriptorSetLayout) samplerRanges(space, base uint32, out []native.DescriptorRange) []native.DescriptorRange {
	for i := range l.Bindings {
		b := &l.Bindings[i]
		if b.slots.samplers == 0 {
			continue
		}
		out = append(out, native.DescriptorRange{Type: native.DescriptorRangeTypeSampler, NumDescriptors: b.DescriptorCount,
			BaseShaderRegister: b.Binding, RegisterSpace: space, OffsetInTable: base + b.samplerOffset})
	}
	return out
}

func (l *VulkanDescriptorSetLayout) staticSamplers(space uint32, out []native.StaticSampler) []native.StaticSampler {
	for i := range l.Bindings {
		b := &l.Bindings[i]
		for e, s := range b.ImmutableSamplers {
			out = append(out, native.StaticSampler{
				Sampler:        s.Desc,
				ShaderRegister: b.Binding + uint32(e),
				RegisterSpace:  space,
			})
		}
	}
	return out
}

func viewRangeType(b *bindingLayout) native.DescriptorRangeType {
	switch b.DescriptorType {
	case vk.DescriptorTypeUniformBuffer, vk.DescriptorTypeUniformBufferDynamic:
		return native.DescriptorRangeTypeCBV
	case vk.DescriptorTypeStorageImage, vk.DescriptorTypeStorageTexelBuffer,
		vk.DescriptorTypeStorageBuffer, vk.DescriptorTypeStorageBufferDynamic:
		if b.Usage == BINDING_USAGE_READ_ONLY {
			return native.DescriptorRangeTypeSRV
		}
		return native.DescriptorRangeTypeUAV
	}
	return native.DescriptorRangeTypeSRV
}

// dynamicRanges appends the ranges of the dynamic buffers, which are written
// at bind time after the static views of every set.
func (l *VulkanDescriptorSetLayout) dynamicRanges(space, base uint32, out []native.DescriptorRange) []native.DescriptorRange {
	for i := range l.Bindings {
		b := &l.Bindings[i]
		if b.slots.dynamic == 0 {
			continue
		}
		if b.usageDependent() {
			out = append(out,
				native.DescriptorRange{Type: native.DescriptorRangeTypeSRV, NumDescriptors: b.DescriptorCount,
					BaseShaderRegister: b.Binding, RegisterSpace: space, OffsetInTable: base + b.dynamicOffset},
				native.DescriptorRange{Type: native.DescriptorRangeTypeUAV, NumDescriptors: b.DescriptorCount,
					BaseShaderRegister: b.Binding, RegisterSpace: space, OffsetInTable: base + b.dynamicOffset + b.DescriptorCount})
			continue
		}
		out = append(out, native.DescriptorRange{Type: viewRangeType(b), NumDescriptors: b.DescriptorCount,
			BaseShaderRegister: b.Binding, RegisterSpace: space, OffsetInTable: base + b.dynamicOffset})
	}
	return out
}

// dynamicElements is the number of dynamic offsets consumed when a set of
// this layout is bound.
func (l *VulkanDescriptorSetLayout) dynamicElements() int {
	n := 0
	for i := range l.Bindings {
		if l.Bindings[i].slots.dynamic > 0 {
			n += int(l.Bindings[i].DescriptorCount)
		}
	}
	return n
}

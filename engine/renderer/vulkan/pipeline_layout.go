package vulkan

import (
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/dozen/engine/core"
	"github.com/spaghettifunk/dozen/engine/renderer/native"
)

// rootParamNone marks a root parameter the layout does not need.
const rootParamNone = ^uint32(0)

// Register spaces of the root constants. Descriptor sets use their index as
// register space.
const (
	sysvalRegisterSpace       = VULKAN_MAX_SETS
	pushConstantRegisterSpace = VULKAN_MAX_SETS + 1
)

type VulkanPushConstantRange struct {
	StageFlags vk.ShaderStageFlags
	Offset     uint32
	Size       uint32
}

/**
 * @brief The position of one descriptor set in the descriptor tables of a
 * pipeline layout.
 */
type pipelineLayoutSet struct {
	/** @brief The set layout, nil for unused set indices. */
	Layout *VulkanDescriptorSetLayout
	/** @brief First slot of the set in each class table. */
	HeapOffset [DESCRIPTOR_CLASS_COUNT]uint32
	/** @brief First slot of the set's dynamic buffers in the view table. */
	DynamicOffset uint32
}

/**
 * @brief Merges descriptor set layouts and push constants into one root
 * signature: a view table, a sampler table, the system values and the push
 * constants, in that order.
 */
type VulkanPipelineLayout struct {
	core.RefCount

	Sets []pipelineLayoutSet
	/** @brief Shader-visible slots needed per class when every set is bound. */
	DescCount [DESCRIPTOR_CLASS_COUNT]uint32
	/** @brief Number of dynamic buffers, stored after the static views. */
	DynamicCount       uint32
	PushConstantDwords uint32

	Root native.RootSignature

	tableParam        [DESCRIPTOR_CLASS_COUNT]uint32
	sysvalParam       uint32
	pushConstantParam uint32

	// execute-indirect signatures, built on first indirect command
	sigMu      sync.Mutex
	signatures map[indirectKind]native.CommandSignature
}

func NewVulkanPipelineLayout(device *VulkanDevice, setLayouts []*VulkanDescriptorSetLayout, pushConstants []VulkanPushConstantRange) (*VulkanPipelineLayout, error) {
	if uint32(len(setLayouts)) > VULKAN_MAX_SETS {
		return nil, core.Errorf(core.ErrInvalidState, "pipeline layout with %d sets, at most %d supported", len(setLayouts), VULKAN_MAX_SETS)
	}
	pl := &VulkanPipelineLayout{
		Sets:              make([]pipelineLayoutSet, len(setLayouts)),
		tableParam:        [DESCRIPTOR_CLASS_COUNT]uint32{rootParamNone, rootParamNone},
		pushConstantParam: rootParamNone,
		signatures:        make(map[indirectKind]native.CommandSignature),
	}

	for i, l := range setLayouts {
		pl.Sets[i].Layout = l
		if l == nil {
			continue
		}
		for c := range pl.DescCount {
			pl.Sets[i].HeapOffset[c] = pl.DescCount[c]
			pl.DescCount[c] += l.SlotCount[c]
		}
	}
	dynamicBase := pl.DescCount[DESCRIPTOR_CLASS_VIEW]
	for i, l := range setLayouts {
		if l == nil {
			continue
		}
		pl.Sets[i].DynamicOffset = dynamicBase + pl.DynamicCount
		pl.DynamicCount += l.DynamicCount
	}
	if pl.DynamicCount > VULKAN_MAX_DYNAMIC_BUFFERS {
		return nil, core.Errorf(core.ErrInvalidState, "pipeline layout with %d dynamic buffers, at most %d supported", pl.DynamicCount, VULKAN_MAX_DYNAMIC_BUFFERS)
	}
	pl.DescCount[DESCRIPTOR_CLASS_VIEW] += pl.DynamicCount

	for _, r := range pushConstants {
		pl.PushConstantDwords = max(pl.PushConstantDwords, divRoundUp(r.Offset+r.Size, 4))
	}
	if pl.PushConstantDwords > VULKAN_MAX_PUSH_CONSTANT_DWORDS {
		return nil, core.Errorf(core.ErrInvalidState, "push constant block of %d dwords, at most %d supported", pl.PushConstantDwords, VULKAN_MAX_PUSH_CONSTANT_DWORDS)
	}

	desc := pl.rootSignatureDesc()
	if err := device.locks.SafeCall(PipelineManagement, func() error {
		root, err := device.Native.CreateRootSignature(desc)
		if err != nil {
			return resultError("failed to create root signature", err)
		}
		pl.Root = root
		return nil
	}); err != nil {
		return nil, err
	}

	for _, l := range setLayouts {
		if l != nil {
			l.Ref()
		}
	}
	pl.InitRefCount(func() {
		pl.sigMu.Lock()
		for k, sig := range pl.signatures {
			sig.Release()
			delete(pl.signatures, k)
		}
		pl.sigMu.Unlock()
		pl.Root.Release()
		for _, s := range pl.Sets {
			if s.Layout != nil {
				s.Layout.Unref()
			}
		}
	})
	core.LogDebug("pipeline layout created: %d sets, %d view slots, %d sampler slots, %d push constant dwords",
		len(setLayouts), pl.DescCount[DESCRIPTOR_CLASS_VIEW], pl.DescCount[DESCRIPTOR_CLASS_SAMPLER], pl.PushConstantDwords)
	return pl, nil
}

func (pl *VulkanPipelineLayout) rootSignatureDesc() native.RootSignatureDesc {
	var desc native.RootSignatureDesc
	var views, samplers []native.DescriptorRange
	for i, s := range pl.Sets {
		if s.Layout == nil {
			continue
		}
		space := uint32(i)
		views = s.Layout.viewRanges(space, s.HeapOffset[DESCRIPTOR_CLASS_VIEW], views)
		views = s.Layout.dynamicRanges(space, s.DynamicOffset, views)
		samplers = s.Layout.samplerRanges(space, s.HeapOffset[DESCRIPTOR_CLASS_SAMPLER], samplers)
		desc.StaticSamplers = s.Layout.staticSamplers(space, desc.StaticSamplers)
	}
	if len(views) > 0 {
		pl.tableParam[DESCRIPTOR_CLASS_VIEW] = uint32(len(desc.Parameters))
		desc.Parameters = append(desc.Parameters, native.RootParameter{Type: native.RootParameterTypeDescriptorTable, Ranges: views})
	}
	if len(samplers) > 0 {
		pl.tableParam[DESCRIPTOR_CLASS_SAMPLER] = uint32(len(desc.Parameters))
		desc.Parameters = append(desc.Parameters, native.RootParameter{Type: native.RootParameterTypeDescriptorTable, Ranges: samplers})
	}
	pl.sysvalParam = uint32(len(desc.Parameters))
	desc.Parameters = append(desc.Parameters, native.RootParameter{
		Type:           native.RootParameterType32BitConstants,
		RegisterSpace:  sysvalRegisterSpace,
		Num32BitValues: VULKAN_SYSVAL_DWORDS,
	})
	if pl.PushConstantDwords > 0 {
		pl.pushConstantParam = uint32(len(desc.Parameters))
		desc.Parameters = append(desc.Parameters, native.RootParameter{
			Type:           native.RootParameterType32BitConstants,
			RegisterSpace:  pushConstantRegisterSpace,
			Num32BitValues: pl.PushConstantDwords,
		})
	}
	return desc
}

// Destroy drops the application reference. Pipelines keep the layout alive.
func (pl *VulkanPipelineLayout) Destroy() {
	pl.Unref()
}

// TableParam returns the root parameter of the descriptor table of class c,
// or false when the layout has no descriptor of that class.
func (pl *VulkanPipelineLayout) TableParam(c DescriptorClass) (uint32, bool) {
	return pl.tableParam[c], pl.tableParam[c] != rootParamNone
}

func (pl *VulkanPipelineLayout) SysvalParam() uint32 {
	return pl.sysvalParam
}

func (pl *VulkanPipelineLayout) PushConstantParam() (uint32, bool) {
	return pl.pushConstantParam, pl.pushConstantParam != rootParamNone
}

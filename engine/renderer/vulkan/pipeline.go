package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/dozen/engine/core"
	"github.com/spaghettifunk/dozen/engine/renderer/native"
)

/**
 * @brief Holds a compiled native pipeline state, its layout and the fixed
 * function state that the native API sets on the command list.
 */
type VulkanPipeline struct {
	/** @brief The bind point the pipeline is used on. */
	BindPoint vk.PipelineBindPoint
	/** @brief The compiled pipeline state. */
	Native native.PipelineState
	/** @brief The pipeline layout. */
	Layout *VulkanPipelineLayout
	/** @brief The input topology as declared by the application. */
	Topology vk.PrimitiveTopology
	/** @brief The stride of each vertex buffer binding. */
	VertexStrides [VULKAN_MAX_VERTEX_BUFFERS]uint32
	/** @brief Static viewports and scissors, unused when dynamic. */
	Viewports []vk.Viewport
	Scissors  []vk.Rect2D
	/** @brief Static blend constants and stencil reference. */
	BlendConstants   [4]float32
	StencilReference uint32

	dynamic map[vk.DynamicState]bool
}

type VulkanVertexBinding struct {
	Binding uint32
	Stride  uint32
}

type VulkanPipelineConfig struct {
	/** @brief The pipeline state compiled from the shader stages. */
	Native native.PipelineState
	/** @brief The pipeline layout. */
	Layout *VulkanPipelineLayout
	/** @brief The primitive topology. */
	Topology vk.PrimitiveTopology
	/** @brief The vertex buffer bindings. */
	VertexBindings []VulkanVertexBinding
	/** @brief The initial viewport configuration. */
	Viewports []vk.Viewport
	/** @brief The initial scissor configuration. */
	Scissors         []vk.Rect2D
	BlendConstants   [4]float32
	StencilReference uint32
	/** @brief States set with commands instead of taken from the pipeline. */
	DynamicStates []vk.DynamicState
}

func NewGraphicsPipeline(device *VulkanDevice, config *VulkanPipelineConfig) (*VulkanPipeline, error) {
	if config.Native == nil || config.Layout == nil {
		return nil, core.Errorf(core.ErrInvalidState, "graphics pipeline without pipeline state or layout")
	}
	if uint32(len(config.Viewports)) > VULKAN_MAX_VIEWPORTS || uint32(len(config.Scissors)) > VULKAN_MAX_VIEWPORTS {
		return nil, core.Errorf(core.ErrInvalidState, "at most %d viewports and scissors supported", VULKAN_MAX_VIEWPORTS)
	}
	outPipeline := &VulkanPipeline{
		BindPoint:        vk.PipelineBindPointGraphics,
		Native:           config.Native,
		Layout:           config.Layout,
		Topology:         config.Topology,
		Viewports:        append([]vk.Viewport(nil), config.Viewports...),
		Scissors:         append([]vk.Rect2D(nil), config.Scissors...),
		BlendConstants:   config.BlendConstants,
		StencilReference: config.StencilReference,
		dynamic:          make(map[vk.DynamicState]bool, len(config.DynamicStates)),
	}
	for _, b := range config.VertexBindings {
		if b.Binding >= VULKAN_MAX_VERTEX_BUFFERS {
			return nil, core.Errorf(core.ErrInvalidState, "vertex binding %d out of range", b.Binding)
		}
		outPipeline.VertexStrides[b.Binding] = b.Stride
	}
	for _, s := range config.DynamicStates {
		outPipeline.dynamic[s] = true
	}
	config.Layout.Ref()

	core.LogDebug("Graphics pipeline %s created!", config.Native.Label())
	return outPipeline, nil
}

func NewComputePipeline(device *VulkanDevice, state native.PipelineState, layout *VulkanPipelineLayout) (*VulkanPipeline, error) {
	if state == nil || layout == nil {
		return nil, core.Errorf(core.ErrInvalidState, "compute pipeline without pipeline state or layout")
	}
	layout.Ref()
	core.LogDebug("Compute pipeline %s created!", state.Label())
	return &VulkanPipeline{
		BindPoint: vk.PipelineBindPointCompute,
		Native:    state,
		Layout:    layout,
	}, nil
}

func (pipeline *VulkanPipeline) Destroy(device *VulkanDevice) error {
	return device.locks.SafeCall(PipelineManagement, func() error {
		if pipeline.Native != nil {
			pipeline.Native.Release()
			pipeline.Native = nil
		}
		if pipeline.Layout != nil {
			pipeline.Layout.Unref()
			pipeline.Layout = nil
		}
		return nil
	})
}

func (pipeline *VulkanPipeline) IsDynamic(state vk.DynamicState) bool {
	return pipeline.dynamic[state]
}

func (pipeline *VulkanPipeline) isTriangleFan() bool {
	return pipeline.Topology == vk.PrimitiveTopologyTriangleFan
}

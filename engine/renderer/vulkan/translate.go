package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/dozen/engine/renderer/native"
)

// translateLayout maps an image layout onto the native resource state. The
// undefined and preinitialized layouts have no state of their own: callers
// substitute the initial state of the image.
func translateLayout(layout vk.ImageLayout) native.ResourceState {
	switch layout {
	case vk.ImageLayoutColorAttachmentOptimal:
		return native.ResourceStateRenderTarget
	case vk.ImageLayoutDepthStencilAttachmentOptimal:
		return native.ResourceStateDepthWrite
	case vk.ImageLayoutDepthStencilReadOnlyOptimal:
		return native.ResourceStateDepthRead
	case vk.ImageLayoutShaderReadOnlyOptimal:
		return native.ResourceStateAllShaderResource
	case vk.ImageLayoutTransferSrcOptimal:
		return native.ResourceStateCopySource
	case vk.ImageLayoutTransferDstOptimal:
		return native.ResourceStateCopyDest
	case vk.ImageLayoutPresentSrc:
		return native.ResourceStatePresent
	default:
		return native.ResourceStateCommon
	}
}

func layoutIsUndefined(layout vk.ImageLayout) bool {
	return layout == vk.ImageLayoutUndefined || layout == vk.ImageLayoutPreinitialized
}

func translateTopology(topology vk.PrimitiveTopology) native.PrimitiveTopology {
	switch topology {
	case vk.PrimitiveTopologyPointList:
		return native.PrimitiveTopologyPointList
	case vk.PrimitiveTopologyLineList:
		return native.PrimitiveTopologyLineList
	case vk.PrimitiveTopologyLineStrip:
		return native.PrimitiveTopologyLineStrip
	case vk.PrimitiveTopologyTriangleList, vk.PrimitiveTopologyTriangleFan:
		// fans are rewritten into lists
		return native.PrimitiveTopologyTriangleList
	case vk.PrimitiveTopologyTriangleStrip:
		return native.PrimitiveTopologyTriangleStrip
	case vk.PrimitiveTopologyLineListWithAdjacency:
		return native.PrimitiveTopologyLineListAdj
	case vk.PrimitiveTopologyLineStripWithAdjacency:
		return native.PrimitiveTopologyLineStripAdj
	case vk.PrimitiveTopologyTriangleListWithAdjacency:
		return native.PrimitiveTopologyTriangleListAdj
	case vk.PrimitiveTopologyTriangleStripWithAdjacency:
		return native.PrimitiveTopologyTriangleStripAdj
	case vk.PrimitiveTopologyPatchList:
		return native.PrimitiveTopologyPatchList
	}
	return native.PrimitiveTopologyUndefined
}

func translateIndexFormat(t vk.IndexType) native.Format {
	if t == vk.IndexTypeUint16 {
		return native.FormatR16Uint
	}
	return native.FormatR32Uint
}

func indexSize(t vk.IndexType) uint32 {
	if t == vk.IndexTypeUint16 {
		return 2
	}
	return 4
}

func translateFormat(f vk.Format) native.Format {
	switch f {
	case vk.FormatR16Uint:
		return native.FormatR16Uint
	case vk.FormatR32Uint:
		return native.FormatR32Uint
	case vk.FormatR8g8b8a8Unorm, vk.FormatR8g8b8a8Srgb:
		return native.FormatR8G8B8A8Unorm
	case vk.FormatB8g8r8a8Unorm, vk.FormatB8g8r8a8Srgb:
		return native.FormatB8G8R8A8Unorm
	case vk.FormatR16g16b16a16Sfloat:
		return native.FormatR16G16B16A16Float
	case vk.FormatR32g32b32a32Sfloat:
		return native.FormatR32G32B32A32Float
	case vk.FormatD16Unorm:
		return native.FormatD16Unorm
	case vk.FormatD32Sfloat:
		return native.FormatD32Float
	case vk.FormatD24UnormS8Uint:
		return native.FormatD24UnormS8Uint
	case vk.FormatD32SfloatS8Uint:
		return native.FormatD32FloatS8X24Uint
	}
	return native.FormatUnknown
}

func translateFilter(min, mag vk.Filter, mip vk.SamplerMipmapMode, anisotropy bool) native.Filter {
	switch {
	case anisotropy:
		return native.FilterAnisotropic
	case min == vk.FilterLinear && mag == vk.FilterLinear && mip == vk.SamplerMipmapModeLinear:
		return native.FilterMinMagMipLinear
	case min == vk.FilterLinear && mag == vk.FilterLinear:
		return native.FilterMinMagLinearMipPoint
	}
	return native.FilterMinMagMipPoint
}

func translateAddressMode(m vk.SamplerAddressMode) native.AddressMode {
	switch m {
	case vk.SamplerAddressModeMirroredRepeat:
		return native.AddressModeMirror
	case vk.SamplerAddressModeClampToEdge:
		return native.AddressModeClamp
	case vk.SamplerAddressModeClampToBorder:
		return native.AddressModeBorder
	}
	return native.AddressModeWrap
}

func translateCompareOp(op vk.CompareOp) native.ComparisonFunc {
	switch op {
	case vk.CompareOpNever:
		return native.ComparisonFuncNever
	case vk.CompareOpLess:
		return native.ComparisonFuncLess
	case vk.CompareOpEqual:
		return native.ComparisonFuncEqual
	case vk.CompareOpLessOrEqual:
		return native.ComparisonFuncLessEqual
	case vk.CompareOpGreater:
		return native.ComparisonFuncGreater
	case vk.CompareOpNotEqual:
		return native.ComparisonFuncNotEqual
	case vk.CompareOpGreaterOrEqual:
		return native.ComparisonFuncGreaterEqual
	}
	return native.ComparisonFuncAlways
}

func translateViewport(v vk.Viewport) native.Viewport {
	return native.Viewport{
		TopLeftX: v.X,
		TopLeftY: v.Y,
		Width:    v.Width,
		Height:   v.Height,
		MinDepth: v.MinDepth,
		MaxDepth: v.MaxDepth,
	}
}

func translateRect(r vk.Rect2D) native.Rect {
	return native.Rect{
		Left:   r.Offset.X,
		Top:    r.Offset.Y,
		Right:  r.Offset.X + int32(r.Extent.Width),
		Bottom: r.Offset.Y + int32(r.Extent.Height),
	}
}

// Package native describes the command-list based API the Vulkan layer is
// translated onto. Only interfaces and plain data live here; implementations
// are provided by backends such as native/soft.
package native

import "fmt"

type DescriptorHeapType uint8

const (
	DescriptorHeapTypeCBVSRVUAV DescriptorHeapType = iota
	DescriptorHeapTypeSampler
	DescriptorHeapTypeRTV
	DescriptorHeapTypeDSV
)

func (t DescriptorHeapType) String() string {
	switch t {
	case DescriptorHeapTypeCBVSRVUAV:
		return "CBV_SRV_UAV"
	case DescriptorHeapTypeSampler:
		return "SAMPLER"
	case DescriptorHeapTypeRTV:
		return "RTV"
	case DescriptorHeapTypeDSV:
		return "DSV"
	}
	return fmt.Sprintf("DescriptorHeapType(%d)", uint8(t))
}

// ResourceState mirrors the bit layout of the native resource states.
type ResourceState uint32

const (
	ResourceStateCommon                  ResourceState = 0
	ResourceStateVertexAndConstantBuffer ResourceState = 0x1
	ResourceStateIndexBuffer             ResourceState = 0x2
	ResourceStateRenderTarget            ResourceState = 0x4
	ResourceStateUnorderedAccess         ResourceState = 0x8
	ResourceStateDepthWrite              ResourceState = 0x10
	ResourceStateDepthRead               ResourceState = 0x20
	ResourceStateNonPixelShaderResource  ResourceState = 0x40
	ResourceStatePixelShaderResource     ResourceState = 0x80
	ResourceStateIndirectArgument        ResourceState = 0x200
	ResourceStateCopyDest                ResourceState = 0x400
	ResourceStateCopySource              ResourceState = 0x800
	ResourceStateResolveDest             ResourceState = 0x1000
	ResourceStateResolveSource           ResourceState = 0x2000

	ResourceStateGenericRead = ResourceStateVertexAndConstantBuffer |
		ResourceStateIndexBuffer |
		ResourceStateNonPixelShaderResource |
		ResourceStatePixelShaderResource |
		ResourceStateIndirectArgument |
		ResourceStateCopySource
	ResourceStateAllShaderResource = ResourceStateNonPixelShaderResource | ResourceStatePixelShaderResource
	ResourceStatePresent           = ResourceStateCommon
)

func (s ResourceState) String() string {
	names := []struct {
		bit  ResourceState
		name string
	}{
		{ResourceStateVertexAndConstantBuffer, "VERTEX_AND_CONSTANT_BUFFER"},
		{ResourceStateIndexBuffer, "INDEX_BUFFER"},
		{ResourceStateRenderTarget, "RENDER_TARGET"},
		{ResourceStateUnorderedAccess, "UNORDERED_ACCESS"},
		{ResourceStateDepthWrite, "DEPTH_WRITE"},
		{ResourceStateDepthRead, "DEPTH_READ"},
		{ResourceStateNonPixelShaderResource, "NON_PIXEL_SHADER_RESOURCE"},
		{ResourceStatePixelShaderResource, "PIXEL_SHADER_RESOURCE"},
		{ResourceStateIndirectArgument, "INDIRECT_ARGUMENT"},
		{ResourceStateCopyDest, "COPY_DEST"},
		{ResourceStateCopySource, "COPY_SOURCE"},
		{ResourceStateResolveDest, "RESOLVE_DEST"},
		{ResourceStateResolveSource, "RESOLVE_SOURCE"},
	}
	if s == ResourceStateCommon {
		return "COMMON"
	}
	out := ""
	for _, n := range names {
		if s&n.bit != 0 {
			if out != "" {
				out += "|"
			}
			out += n.name
		}
	}
	return out
}

type HeapKind uint8

const (
	HeapKindDefault HeapKind = iota
	HeapKindUpload
	HeapKindReadback
)

type ResourceDimension uint8

const (
	ResourceDimensionBuffer ResourceDimension = iota
	ResourceDimensionTexture1D
	ResourceDimensionTexture2D
	ResourceDimensionTexture3D
)

type ResourceFlags uint32

const (
	ResourceFlagNone                 ResourceFlags = 0
	ResourceFlagAllowRenderTarget    ResourceFlags = 0x1
	ResourceFlagAllowDepthStencil    ResourceFlags = 0x2
	ResourceFlagAllowUnorderedAccess ResourceFlags = 0x4
)

type Format uint32

const (
	FormatUnknown Format = iota
	FormatR16Uint
	FormatR32Uint
	FormatR32Typeless
	FormatR8G8B8A8Unorm
	FormatB8G8R8A8Unorm
	FormatR16G16B16A16Float
	FormatR32G32B32A32Float
	FormatD16Unorm
	FormatD32Float
	FormatD24UnormS8Uint
	FormatD32FloatS8X24Uint
)

// BytesPerTexel returns the size of one texel, or of one index for the index
// formats. Depth-stencil formats report the size of the depth plane.
func (f Format) BytesPerTexel() uint32 {
	switch f {
	case FormatR16Uint, FormatD16Unorm:
		return 2
	case FormatR32Uint, FormatR32Typeless, FormatR8G8B8A8Unorm, FormatB8G8R8A8Unorm,
		FormatD32Float, FormatD24UnormS8Uint:
		return 4
	case FormatR16G16B16A16Float, FormatD32FloatS8X24Uint:
		return 8
	case FormatR32G32B32A32Float:
		return 16
	}
	return 0
}

func (f Format) IsDepthStencil() bool {
	switch f {
	case FormatD16Unorm, FormatD32Float, FormatD24UnormS8Uint, FormatD32FloatS8X24Uint:
		return true
	}
	return false
}

// PlaneCount is 2 for formats carrying a separate stencil plane.
func (f Format) PlaneCount() uint32 {
	switch f {
	case FormatD24UnormS8Uint, FormatD32FloatS8X24Uint:
		return 2
	}
	return 1
}

type ResourceDesc struct {
	Dimension        ResourceDimension
	Width            uint64
	Height           uint32
	DepthOrArraySize uint32
	MipLevels        uint32
	Format           Format
	Flags            ResourceFlags
}

// AllSubresources selects every subresource of a resource in a barrier.
const AllSubresources uint32 = 0xffffffff

// CalcSubresource computes the flat subresource index of (mip, layer, plane).
func CalcSubresource(mip, layer, plane, mipLevels, arraySize uint32) uint32 {
	return mip + layer*mipLevels + plane*mipLevels*arraySize
}

type BarrierType uint8

const (
	BarrierTypeTransition BarrierType = iota
	BarrierTypeAliasing
	BarrierTypeUAV
)

type ResourceBarrier struct {
	Type BarrierType
	// Transition and UAV barriers. A nil resource on a UAV barrier covers
	// every resource.
	Resource    Resource
	Subresource uint32
	StateBefore ResourceState
	StateAfter  ResourceState
	// Aliasing barriers. Both nil means any placed resource.
	AliasBefore Resource
	AliasAfter  Resource
}

type DescriptorKind uint8

const (
	DescriptorKindNone DescriptorKind = iota
	DescriptorKindCBV
	DescriptorKindSRV
	DescriptorKindUAV
	DescriptorKindSampler
	DescriptorKindRTV
	DescriptorKindDSV
)

func (k DescriptorKind) String() string {
	return [...]string{"NONE", "CBV", "SRV", "UAV", "SAMPLER", "RTV", "DSV"}[k]
}

type ViewDimension uint8

const (
	ViewDimensionBuffer ViewDimension = iota
	ViewDimensionTexture1D
	ViewDimensionTexture2D
	ViewDimensionTexture2DArray
	ViewDimensionTexture3D
	ViewDimensionTextureCube
)

type Filter uint8

const (
	FilterMinMagMipPoint Filter = iota
	FilterMinMagMipLinear
	FilterMinMagLinearMipPoint
	FilterAnisotropic
)

type AddressMode uint8

const (
	AddressModeWrap AddressMode = iota + 1
	AddressModeMirror
	AddressModeClamp
	AddressModeBorder
)

type ComparisonFunc uint8

const (
	ComparisonFuncNone ComparisonFunc = iota
	ComparisonFuncNever
	ComparisonFuncLess
	ComparisonFuncEqual
	ComparisonFuncLessEqual
	ComparisonFuncGreater
	ComparisonFuncNotEqual
	ComparisonFuncGreaterEqual
	ComparisonFuncAlways
)

type SamplerDesc struct {
	Filter        Filter
	AddressU      AddressMode
	AddressV      AddressMode
	AddressW      AddressMode
	MipLODBias    float32
	MaxAnisotropy uint32
	Comparison    ComparisonFunc
	BorderColor   [4]float32
	MinLOD        float32
	MaxLOD        float32
}

// Descriptor is the content of one heap slot.
type Descriptor struct {
	Kind     DescriptorKind
	Resource Resource
	// Buffer views: GPU address of the first byte and the byte size.
	Address         uint64
	Size            uint64
	StructureStride uint32
	Raw             bool

	Format     Format
	Dimension  ViewDimension
	FirstMip   uint32
	MipCount   uint32
	FirstLayer uint32
	LayerCount uint32
	Plane      uint32

	Sampler SamplerDesc
}

type DescriptorHeapDesc struct {
	Type           DescriptorHeapType
	NumDescriptors uint32
	ShaderVisible  bool
}

// CPUDescriptorHandle addresses one slot of a heap on the host side.
type CPUDescriptorHandle struct {
	Heap  DescriptorHeap
	Index uint32
}

type ShaderVisibility uint8

const (
	ShaderVisibilityAll ShaderVisibility = iota
	ShaderVisibilityVertex
	ShaderVisibilityPixel
)

type DescriptorRangeType uint8

const (
	DescriptorRangeTypeSRV DescriptorRangeType = iota
	DescriptorRangeTypeUAV
	DescriptorRangeTypeCBV
	DescriptorRangeTypeSampler
)

type DescriptorRange struct {
	Type               DescriptorRangeType
	NumDescriptors     uint32
	BaseShaderRegister uint32
	RegisterSpace      uint32
	OffsetInTable      uint32
}

type RootParameterType uint8

const (
	RootParameterTypeDescriptorTable RootParameterType = iota
	RootParameterType32BitConstants
	RootParameterTypeCBV
	RootParameterTypeSRV
	RootParameterTypeUAV
)

type RootParameter struct {
	Type       RootParameterType
	Visibility ShaderVisibility
	// Descriptor tables.
	Ranges []DescriptorRange
	// Constants and root descriptors.
	ShaderRegister uint32
	RegisterSpace  uint32
	Num32BitValues uint32
}

type StaticSampler struct {
	Sampler        SamplerDesc
	ShaderRegister uint32
	RegisterSpace  uint32
	Visibility     ShaderVisibility
}

type RootSignatureDesc struct {
	Parameters     []RootParameter
	StaticSamplers []StaticSampler
}

type ComputePipelineDesc struct {
	RootSignature RootSignature
	// SPIR-V words; translation to the native bytecode is the
	// responsibility of the device.
	SPIRV      []uint32
	EntryPoint string
	Label      string
}

type PrimitiveTopology uint8

const (
	PrimitiveTopologyUndefined PrimitiveTopology = iota
	PrimitiveTopologyPointList
	PrimitiveTopologyLineList
	PrimitiveTopologyLineStrip
	PrimitiveTopologyTriangleList
	PrimitiveTopologyTriangleStrip
	PrimitiveTopologyLineListAdj
	PrimitiveTopologyLineStripAdj
	PrimitiveTopologyTriangleListAdj
	PrimitiveTopologyTriangleStripAdj
	PrimitiveTopologyPatchList
)

type IndirectArgumentType uint8

const (
	IndirectArgumentTypeDraw IndirectArgumentType = iota
	IndirectArgumentTypeDrawIndexed
	IndirectArgumentTypeDispatch
	IndirectArgumentTypeVertexBufferView
	IndirectArgumentTypeIndexBufferView
	IndirectArgumentTypeConstant
)

// Sizes, in bytes, of the records consumed by ExecuteIndirect.
const (
	DrawArgumentsSize        = 16
	DrawIndexedArgumentsSize = 20
	DispatchArgumentsSize    = 12
	IndexBufferViewSize      = 16
	VertexBufferViewSize     = 16
)

type IndirectArgumentDesc struct {
	Type IndirectArgumentType
	// Vertex buffer slot.
	Slot uint32
	// Root constants.
	RootParameterIndex      uint32
	DestOffsetIn32BitValues uint32
	Num32BitValuesToSet     uint32
}

// Size returns the number of bytes this argument occupies in a record.
func (a IndirectArgumentDesc) Size() uint32 {
	switch a.Type {
	case IndirectArgumentTypeDraw:
		return DrawArgumentsSize
	case IndirectArgumentTypeDrawIndexed:
		return DrawIndexedArgumentsSize
	case IndirectArgumentTypeDispatch:
		return DispatchArgumentsSize
	case IndirectArgumentTypeVertexBufferView:
		return VertexBufferViewSize
	case IndirectArgumentTypeIndexBufferView:
		return IndexBufferViewSize
	case IndirectArgumentTypeConstant:
		return 4 * a.Num32BitValuesToSet
	}
	return 0
}

type CommandSignatureDesc struct {
	ByteStride uint32
	Arguments  []IndirectArgumentDesc
}

type IndexBufferView struct {
	BufferLocation uint64
	SizeInBytes    uint32
	Format         Format
}

type VertexBufferView struct {
	BufferLocation uint64
	SizeInBytes    uint32
	StrideInBytes  uint32
}

type Viewport struct {
	TopLeftX float32
	TopLeftY float32
	Width    float32
	Height   float32
	MinDepth float32
	MaxDepth float32
}

type Rect struct {
	Left   int32
	Top    int32
	Right  int32
	Bottom int32
}

type Box struct {
	Left   uint32
	Top    uint32
	Front  uint32
	Right  uint32
	Bottom uint32
	Back   uint32
}

type PlacedFootprint struct {
	Offset   uint64
	Format   Format
	Width    uint32
	Height   uint32
	Depth    uint32
	RowPitch uint32
}

type TextureCopyType uint8

const (
	TextureCopyTypeSubresourceIndex TextureCopyType = iota
	TextureCopyTypePlacedFootprint
)

type TextureCopyLocation struct {
	Resource         Resource
	Type             TextureCopyType
	SubresourceIndex uint32
	Footprint        PlacedFootprint
}

type ClearFlags uint8

const (
	ClearFlagDepth   ClearFlags = 0x1
	ClearFlagStencil ClearFlags = 0x2
)

type QueryHeapType uint8

const (
	QueryHeapTypeOcclusion QueryHeapType = iota
	QueryHeapTypeTimestamp
)

type QueryType uint8

const (
	QueryTypeOcclusion QueryType = iota
	QueryTypeBinaryOcclusion
	QueryTypeTimestamp
)

package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/dozen/engine/core"
	"github.com/spaghettifunk/dozen/engine/renderer/native"
)

type VulkanImageCreateInfo struct {
	Format      vk.Format
	Width       uint32
	Height      uint32
	Depth       uint32
	MipLevels   uint32
	ArrayLayers uint32
	Usage       vk.ImageUsageFlags
}

type VulkanImage struct {
	Resource    native.Resource
	Format      vk.Format
	Width       uint32
	Height      uint32
	Depth       uint32
	MipLevels   uint32
	ArrayLayers uint32
	Usage       vk.ImageUsageFlags
	// State the native resource was created in. Barriers from the
	// undefined layout start from here.
	InitialState native.ResourceState
}

func imageInitialState(info VulkanImageCreateInfo) native.ResourceState {
	switch {
	case info.Usage&vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit) != 0:
		return native.ResourceStateDepthWrite
	case info.Usage&vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit) != 0:
		return native.ResourceStateRenderTarget
	}
	return native.ResourceStateCommon
}

// NewVulkanImage creates an image backed by a committed native resource.
func NewVulkanImage(device *VulkanDevice, info VulkanImageCreateInfo) (*VulkanImage, error) {
	format := translateFormat(info.Format)
	if format == native.FormatUnknown {
		return nil, core.Errorf(core.ErrFeatureNotPresent, "unsupported image format %d", info.Format)
	}
	dim := native.ResourceDimensionTexture2D
	depthOrLayers := max(info.ArrayLayers, 1)
	if info.Depth > 1 {
		dim = native.ResourceDimensionTexture3D
		depthOrLayers = info.Depth
	}
	var flags native.ResourceFlags
	if info.Usage&vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit) != 0 {
		flags |= native.ResourceFlagAllowRenderTarget
	}
	if info.Usage&vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit) != 0 {
		flags |= native.ResourceFlagAllowDepthStencil
	}
	if info.Usage&vk.ImageUsageFlags(vk.ImageUsageStorageBit) != 0 {
		flags |= native.ResourceFlagAllowUnorderedAccess
	}

	initial := imageInitialState(info)
	res, err := device.Native.CreateCommittedResource(native.HeapKindDefault, native.ResourceDesc{
		Dimension:        dim,
		Width:            uint64(info.Width),
		Height:           max(info.Height, 1),
		DepthOrArraySize: depthOrLayers,
		MipLevels:        max(info.MipLevels, 1),
		Format:           format,
		Flags:            flags,
	}, initial)
	if err != nil {
		return nil, resultError("failed to create image", err)
	}
	return &VulkanImage{
		Resource:     res,
		Format:       info.Format,
		Width:        info.Width,
		Height:       max(info.Height, 1),
		Depth:        max(info.Depth, 1),
		MipLevels:    max(info.MipLevels, 1),
		ArrayLayers:  max(info.ArrayLayers, 1),
		Usage:        info.Usage,
		InitialState: initial,
	}, nil
}

func (i *VulkanImage) Destroy() {
	if i.Resource != nil {
		i.Resource.Release()
		i.Resource = nil
	}
}

func (i *VulkanImage) nativeFormat() native.Format {
	return translateFormat(i.Format)
}

func (i *VulkanImage) layers() uint32 {
	if i.Depth > 1 {
		return 1
	}
	return i.ArrayLayers
}

// subresource returns the native subresource index of (mip, layer, plane).
func (i *VulkanImage) subresource(mip, layer, plane uint32) uint32 {
	return native.CalcSubresource(mip, layer, plane, i.MipLevels, i.layers())
}

// planes lists the planes selected by aspect.
func (i *VulkanImage) planes(aspect vk.ImageAspectFlags) []uint32 {
	format := i.nativeFormat()
	if !format.IsDepthStencil() {
		return []uint32{0}
	}
	var out []uint32
	if aspect&vk.ImageAspectFlags(vk.ImageAspectDepthBit) != 0 {
		out = append(out, 0)
	}
	if aspect&vk.ImageAspectFlags(vk.ImageAspectStencilBit) != 0 && format.PlaneCount() > 1 {
		out = append(out, 1)
	}
	return out
}

func (i *VulkanImage) mipExtent(mip uint32) (w, h, d uint32) {
	return max(i.Width>>mip, 1), max(i.Height>>mip, 1), max(i.Depth>>mip, 1)
}

type ImageSubresourceRange struct {
	AspectMask     vk.ImageAspectFlags
	BaseMipLevel   uint32
	LevelCount     uint32
	BaseArrayLayer uint32
	LayerCount     uint32
}

// resolve clamps the Remaining* counts against the image.
func (r ImageSubresourceRange) resolve(img *VulkanImage) ImageSubresourceRange {
	if r.LevelCount == RemainingMipLevels {
		r.LevelCount = img.MipLevels - r.BaseMipLevel
	}
	if r.LayerCount == RemainingArrayLayers {
		r.LayerCount = img.layers() - r.BaseArrayLayer
	}
	return r
}

type ImageSubresourceLayers struct {
	AspectMask     vk.ImageAspectFlags
	MipLevel       uint32
	BaseArrayLayer uint32
	LayerCount     uint32
}

type VulkanImageView struct {
	Image     *VulkanImage
	Format    vk.Format
	Dimension native.ViewDimension
	Range     ImageSubresourceRange
}

func NewVulkanImageView(image *VulkanImage, dim native.ViewDimension, subresources ImageSubresourceRange) *VulkanImageView {
	return &VulkanImageView{
		Image:     image,
		Format:    image.Format,
		Dimension: dim,
		Range:     subresources.resolve(image),
	}
}

func (v *VulkanImageView) descriptor(kind native.DescriptorKind) native.Descriptor {
	plane := uint32(0)
	if v.Range.AspectMask == vk.ImageAspectFlags(vk.ImageAspectStencilBit) {
		plane = 1
	}
	return native.Descriptor{
		Kind:       kind,
		Resource:   v.Image.Resource,
		Format:     translateFormat(v.Format),
		Dimension:  v.Dimension,
		FirstMip:   v.Range.BaseMipLevel,
		MipCount:   v.Range.LevelCount,
		FirstLayer: v.Range.BaseArrayLayer,
		LayerCount: v.Range.LayerCount,
		Plane:      plane,
	}
}

package vulkan

import (
	"encoding/binary"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/dozen/engine/core"
	"github.com/spaghettifunk/dozen/engine/renderer/native"
)

// UpdateBuffer accepts at most this many bytes, like vkCmdUpdateBuffer.
const maxUpdateBufferSize = 65536

type VulkanBufferCopy struct {
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

type VulkanBufferImageCopy struct {
	BufferOffset uint64
	// Texels per row and rows per slice in the buffer, zero when tightly
	// packed.
	BufferRowLength   uint32
	BufferImageHeight uint32
	ImageSubresource  ImageSubresourceLayers
	ImageOffset       vk.Offset3D
	ImageExtent       vk.Extent3D
}

type VulkanImageCopy struct {
	SrcSubresource ImageSubresourceLayers
	SrcOffset      vk.Offset3D
	DstSubresource ImageSubresourceLayers
	DstOffset      vk.Offset3D
	Extent         vk.Extent3D
}

type VulkanImageBlit struct {
	SrcSubresource ImageSubresourceLayers
	SrcOffsets     [2]vk.Offset3D
	DstSubresource ImageSubresourceLayers
	DstOffsets     [2]vk.Offset3D
}

// layoutState returns the native state of an image in layout.
func layoutState(img *VulkanImage, layout vk.ImageLayout) native.ResourceState {
	if layoutIsUndefined(layout) {
		return img.InitialState
	}
	return translateLayout(layout)
}

// subresourceList lists the subresources selected by layers.
func subresourceList(img *VulkanImage, layers ImageSubresourceLayers) []uint32 {
	var out []uint32
	for _, plane := range img.planes(layers.AspectMask) {
		for l := layers.BaseArrayLayer; l < layers.BaseArrayLayer+max(layers.LayerCount, 1); l++ {
			out = append(out, img.subresource(layers.MipLevel, l, plane))
		}
	}
	return out
}

func subresourceBarriers(img *VulkanImage, subs []uint32, before, after native.ResourceState) []native.ResourceBarrier {
	if before == after {
		return nil
	}
	out := make([]native.ResourceBarrier, len(subs))
	for i, s := range subs {
		out[i] = native.ResourceBarrier{
			Type:        native.BarrierTypeTransition,
			Resource:    img.Resource,
			Subresource: s,
			StateBefore: before,
			StateAfter:  after,
		}
	}
	return out
}

// imageAccess brackets a transfer on image subresources: the returned
// barriers move them from the layout state into want and back.
type imageAccess struct {
	enter []native.ResourceBarrier
	leave []native.ResourceBarrier
}

func (a *imageAccess) add(img *VulkanImage, subs []uint32, layout vk.ImageLayout, want native.ResourceState) {
	cur := layoutState(img, layout)
	a.enter = append(a.enter, subresourceBarriers(img, subs, cur, want)...)
	a.leave = append(a.leave, subresourceBarriers(img, subs, want, cur)...)
}

func (a *imageAccess) begin(batch *VulkanBatch) {
	if len(a.enter) > 0 {
		batch.List.ResourceBarrier(a.enter)
	}
}

func (a *imageAccess) end(batch *VulkanBatch) {
	if len(a.leave) > 0 {
		batch.List.ResourceBarrier(a.leave)
	}
}

func (cb *VulkanCommandBuffer) CopyBuffer(src, dst *VulkanBuffer, regions []VulkanBufferCopy) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	for _, r := range regions {
		if r.SrcOffset+r.Size > src.Size || r.DstOffset+r.Size > dst.Size {
			return core.Errorf(core.ErrInvalidState, "buffer copy of %d bytes out of bounds", r.Size)
		}
	}
	batch, err := cb.getBatch(false)
	if err != nil {
		return err
	}
	for _, r := range regions {
		batch.List.CopyBufferRegion(dst.Resource, r.DstOffset, src.Resource, r.SrcOffset, r.Size)
	}
	batch.hasWork = batch.hasWork || len(regions) > 0
	return nil
}

// bufferFootprint describes the buffer side of a buffer-image copy of one
// layer.
func bufferFootprint(img *VulkanImage, r VulkanBufferImageCopy, layer uint32) native.PlacedFootprint {
	format := img.nativeFormat()
	bpt := format.BytesPerTexel()
	rowLength := r.BufferRowLength
	if rowLength == 0 {
		rowLength = r.ImageExtent.Width
	}
	imageHeight := r.BufferImageHeight
	if imageHeight == 0 {
		imageHeight = r.ImageExtent.Height
	}
	depth := max(r.ImageExtent.Depth, 1)
	rowPitch := rowLength * bpt
	return native.PlacedFootprint{
		Offset:   r.BufferOffset + uint64(layer)*uint64(rowPitch)*uint64(imageHeight)*uint64(depth),
		Format:   format,
		Width:    rowLength,
		Height:   imageHeight,
		Depth:    depth,
		RowPitch: rowPitch,
	}
}

func (cb *VulkanCommandBuffer) CopyBufferToImage(src *VulkanBuffer, dst *VulkanImage, dstLayout vk.ImageLayout, regions []VulkanBufferImageCopy) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	batch, err := cb.getBatch(false)
	if err != nil {
		return err
	}
	var access imageAccess
	for _, r := range regions {
		access.add(dst, subresourceList(dst, r.ImageSubresource), dstLayout, native.ResourceStateCopyDest)
	}
	access.begin(batch)
	for _, r := range regions {
		box := &native.Box{Right: r.ImageExtent.Width, Bottom: r.ImageExtent.Height, Back: max(r.ImageExtent.Depth, 1)}
		for i := uint32(0); i < max(r.ImageSubresource.LayerCount, 1); i++ {
			layer := r.ImageSubresource.BaseArrayLayer + i
			for _, plane := range dst.planes(r.ImageSubresource.AspectMask) {
				batch.List.CopyTextureRegion(
					native.TextureCopyLocation{Resource: dst.Resource, Type: native.TextureCopyTypeSubresourceIndex, SubresourceIndex: dst.subresource(r.ImageSubresource.MipLevel, layer, plane)},
					uint32(r.ImageOffset.X), uint32(r.ImageOffset.Y), uint32(r.ImageOffset.Z),
					native.TextureCopyLocation{Resource: src.Resource, Type: native.TextureCopyTypePlacedFootprint, Footprint: bufferFootprint(dst, r, i)},
					box)
			}
		}
	}
	access.end(batch)
	batch.hasWork = true
	return nil
}

func (cb *VulkanCommandBuffer) CopyImageToBuffer(src *VulkanImage, srcLayout vk.ImageLayout, dst *VulkanBuffer, regions []VulkanBufferImageCopy) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	batch, err := cb.getBatch(false)
	if err != nil {
		return err
	}
	var access imageAccess
	for _, r := range regions {
		access.add(src, subresourceList(src, r.ImageSubresource), srcLayout, native.ResourceStateCopySource)
	}
	access.begin(batch)
	for _, r := range regions {
		box := &native.Box{
			Left:   uint32(r.ImageOffset.X),
			Top:    uint32(r.ImageOffset.Y),
			Front:  uint32(r.ImageOffset.Z),
			Right:  uint32(r.ImageOffset.X) + r.ImageExtent.Width,
			Bottom: uint32(r.ImageOffset.Y) + r.ImageExtent.Height,
			Back:   uint32(r.ImageOffset.Z) + max(r.ImageExtent.Depth, 1),
		}
		for i := uint32(0); i < max(r.ImageSubresource.LayerCount, 1); i++ {
			layer := r.ImageSubresource.BaseArrayLayer + i
			for _, plane := range src.planes(r.ImageSubresource.AspectMask) {
				batch.List.CopyTextureRegion(
					native.TextureCopyLocation{Resource: dst.Resource, Type: native.TextureCopyTypePlacedFootprint, Footprint: bufferFootprint(src, r, i)},
					0, 0, 0,
					native.TextureCopyLocation{Resource: src.Resource, Type: native.TextureCopyTypeSubresourceIndex, SubresourceIndex: src.subresource(r.ImageSubresource.MipLevel, layer, plane)},
					box)
			}
		}
	}
	access.end(batch)
	batch.hasWork = true
	return nil
}

func (cb *VulkanCommandBuffer) CopyImage(src *VulkanImage, srcLayout vk.ImageLayout, dst *VulkanImage, dstLayout vk.ImageLayout, regions []VulkanImageCopy) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	batch, err := cb.getBatch(false)
	if err != nil {
		return err
	}
	var access imageAccess
	for _, r := range regions {
		access.add(src, subresourceList(src, r.SrcSubresource), srcLayout, native.ResourceStateCopySource)
		access.add(dst, subresourceList(dst, r.DstSubresource), dstLayout, native.ResourceStateCopyDest)
	}
	access.begin(batch)
	for _, r := range regions {
		box := &native.Box{
			Left:   uint32(r.SrcOffset.X),
			Top:    uint32(r.SrcOffset.Y),
			Front:  uint32(r.SrcOffset.Z),
			Right:  uint32(r.SrcOffset.X) + r.Extent.Width,
			Bottom: uint32(r.SrcOffset.Y) + r.Extent.Height,
			Back:   uint32(r.SrcOffset.Z) + max(r.Extent.Depth, 1),
		}
		srcPlanes := src.planes(r.SrcSubresource.AspectMask)
		dstPlanes := dst.planes(r.DstSubresource.AspectMask)
		for i := uint32(0); i < max(r.SrcSubresource.LayerCount, 1); i++ {
			for p := range min(len(srcPlanes), len(dstPlanes)) {
				batch.List.CopyTextureRegion(
					native.TextureCopyLocation{Resource: dst.Resource, Type: native.TextureCopyTypeSubresourceIndex, SubresourceIndex: dst.subresource(r.DstSubresource.MipLevel, r.DstSubresource.BaseArrayLayer+i, dstPlanes[p])},
					uint32(r.DstOffset.X), uint32(r.DstOffset.Y), uint32(r.DstOffset.Z),
					native.TextureCopyLocation{Resource: src.Resource, Type: native.TextureCopyTypeSubresourceIndex, SubresourceIndex: src.subresource(r.SrcSubresource.MipLevel, r.SrcSubresource.BaseArrayLayer+i, srcPlanes[p])},
					box)
			}
		}
	}
	access.end(batch)
	batch.hasWork = true
	return nil
}

func blitExtent(o [2]vk.Offset3D) (w, h, d int32) {
	return o[1].X - o[0].X, o[1].Y - o[0].Y, max(o[1].Z-o[0].Z, 1)
}

// BlitImage supports unscaled, unflipped blits, which are plain copies.
func (cb *VulkanCommandBuffer) BlitImage(src *VulkanImage, srcLayout vk.ImageLayout, dst *VulkanImage, dstLayout vk.ImageLayout, regions []VulkanImageBlit, filter vk.Filter) error {
	copies := make([]VulkanImageCopy, 0, len(regions))
	for _, r := range regions {
		sw, sh, sd := blitExtent(r.SrcOffsets)
		dw, dh, dd := blitExtent(r.DstOffsets)
		if sw != dw || sh != dh || sd != dd || sw <= 0 || sh <= 0 {
			return core.Errorf(core.ErrFeatureNotPresent, "scaled or flipped blit %dx%dx%d to %dx%dx%d", sw, sh, sd, dw, dh, dd)
		}
		copies = append(copies, VulkanImageCopy{
			SrcSubresource: r.SrcSubresource,
			SrcOffset:      r.SrcOffsets[0],
			DstSubresource: r.DstSubresource,
			DstOffset:      r.DstOffsets[0],
			Extent:         vk.Extent3D{Width: uint32(sw), Height: uint32(sh), Depth: uint32(sd)},
		})
	}
	return cb.CopyImage(src, srcLayout, dst, dstLayout, copies)
}

// stage copies data into an upload buffer owned by the recording and
// records its copy to dst.
func (cb *VulkanCommandBuffer) stage(dst *VulkanBuffer, offset uint64, data []byte) error {
	up, err := cb.allocateInternal(native.HeapKindUpload, uint64(len(data)))
	if err != nil {
		return err
	}
	if err := up.write(0, data); err != nil {
		return err
	}
	batch, err := cb.getBatch(false)
	if err != nil {
		return err
	}
	batch.List.CopyBufferRegion(dst.Resource, offset, up.Resource, 0, uint64(len(data)))
	batch.hasWork = true
	return nil
}

func (cb *VulkanCommandBuffer) UpdateBuffer(dst *VulkanBuffer, offset uint64, data []byte) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	if len(data) == 0 || len(data) > maxUpdateBufferSize || len(data)%4 != 0 || offset%4 != 0 {
		return core.Errorf(core.ErrInvalidState, "invalid buffer update of %d bytes at %d", len(data), offset)
	}
	if offset+uint64(len(data)) > dst.Size {
		return core.Errorf(core.ErrInvalidState, "buffer update of %d bytes at %d overflows buffer of %d", len(data), offset, dst.Size)
	}
	return cb.stage(dst, offset, data)
}

// FillBuffer writes value to every dword of the range. WholeSize rounds
// down to a multiple of 4.
func (cb *VulkanCommandBuffer) FillBuffer(dst *VulkanBuffer, offset, size uint64, value uint32) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	if size == WholeSize {
		size = alignDown(dst.Size-offset, 4)
	}
	if offset%4 != 0 || size%4 != 0 || offset+size > dst.Size {
		return core.Errorf(core.ErrInvalidState, "invalid buffer fill of %d bytes at %d", size, offset)
	}
	if size == 0 {
		return nil
	}
	data := make([]byte, size)
	for i := uint64(0); i < size; i += 4 {
		binary.LittleEndian.PutUint32(data[i:], value)
	}
	return cb.stage(dst, offset, data)
}

// clearImage writes one attachment view per mip level of each range and
// clears it.
func (cb *VulkanCommandBuffer) clearImage(img *VulkanImage, layout vk.ImageLayout, ranges []ImageSubresourceRange, want native.ResourceState, clear func(list native.CommandList, h native.CPUDescriptorHandle, rng ImageSubresourceRange)) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	cur := layoutState(img, layout)
	batch, err := cb.getBatch(false)
	if err != nil {
		return err
	}
	for _, rng := range ranges {
		rng = rng.resolve(img)
		enter := appendImageBarriers(nil, img, rng, cur, want)
		if len(enter) > 0 {
			batch.List.ResourceBarrier(enter)
		}
		for mip := rng.BaseMipLevel; mip < rng.BaseMipLevel+rng.LevelCount; mip++ {
			h, err := cb.attachments.view(img, mip, rng.BaseArrayLayer, rng.LayerCount)
			if err != nil {
				return err
			}
			clear(batch.List, h, rng)
		}
		leave := appendImageBarriers(nil, img, rng, want, cur)
		if len(leave) > 0 {
			batch.List.ResourceBarrier(leave)
		}
	}
	batch.hasWork = true
	return nil
}

func (cb *VulkanCommandBuffer) ClearColorImage(img *VulkanImage, layout vk.ImageLayout, color [4]float32, ranges []ImageSubresourceRange) error {
	if img.nativeFormat().IsDepthStencil() {
		return core.Errorf(core.ErrInvalidState, "color clear of a depth-stencil image")
	}
	return cb.clearImage(img, layout, ranges, native.ResourceStateRenderTarget, func(list native.CommandList, h native.CPUDescriptorHandle, _ ImageSubresourceRange) {
		list.ClearRenderTargetView(h, color, nil)
	})
}

func (cb *VulkanCommandBuffer) ClearDepthStencilImage(img *VulkanImage, layout vk.ImageLayout, depth float32, stencil uint32, ranges []ImageSubresourceRange) error {
	if !img.nativeFormat().IsDepthStencil() {
		return core.Errorf(core.ErrInvalidState, "depth-stencil clear of a color image")
	}
	return cb.clearImage(img, layout, ranges, native.ResourceStateDepthWrite, func(list native.CommandList, h native.CPUDescriptorHandle, rng ImageSubresourceRange) {
		var flags native.ClearFlags
		if rng.AspectMask&vk.ImageAspectFlags(vk.ImageAspectDepthBit) != 0 {
			flags |= native.ClearFlagDepth
		}
		if rng.AspectMask&vk.ImageAspectFlags(vk.ImageAspectStencilBit) != 0 {
			flags |= native.ClearFlagStencil
		}
		list.ClearDepthStencilView(h, flags, depth, uint8(stencil), nil)
	})
}

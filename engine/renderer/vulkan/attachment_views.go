package vulkan

import (
	"github.com/spaghettifunk/dozen/engine/core"
	"github.com/spaghettifunk/dozen/engine/renderer/native"
)

// attachmentHeapChain hands out render target or depth-stencil view slots
// for one command buffer. Like the shader-visible pools it is only rewound
// as a whole.
type attachmentHeapChain struct {
	typ    native.DescriptorHeapType
	heaps  []native.DescriptorHeap
	cur    int
	offset uint32
}

func (c *attachmentHeapChain) allocate(device *VulkanDevice, size uint32) (native.CPUDescriptorHandle, error) {
	if len(c.heaps) > 0 && c.offset < size {
		h := native.CPUDescriptorHandle{Heap: c.heaps[c.cur], Index: c.offset}
		c.offset++
		return h, nil
	}
	next := 0
	if len(c.heaps) > 0 {
		next = c.cur + 1
	}
	if next >= len(c.heaps) {
		heap, err := newAttachmentHeap(device, c.typ, size)
		if err != nil {
			return native.CPUDescriptorHandle{}, err
		}
		c.heaps = append(c.heaps, heap)
	}
	c.cur = next
	c.offset = 1
	return native.CPUDescriptorHandle{Heap: c.heaps[c.cur], Index: 0}, nil
}

func (c *attachmentHeapChain) reset() {
	c.cur = 0
	c.offset = 0
}

func (c *attachmentHeapChain) destroy() {
	for _, h := range c.heaps {
		h.Release()
	}
	c.heaps = nil
	c.reset()
}

type attachmentViews struct {
	device *VulkanDevice
	rtv    attachmentHeapChain
	dsv    attachmentHeapChain
}

// view writes a render target or depth-stencil view of one mip level and
// layer range of image and returns its handle.
func (a *attachmentViews) view(image *VulkanImage, mip, firstLayer, layerCount uint32) (native.CPUDescriptorHandle, error) {
	chain, size, kind := &a.rtv, a.device.Config.Descriptors.RTVHeapSize, native.DescriptorKindRTV
	chain.typ = native.DescriptorHeapTypeRTV
	if image.nativeFormat().IsDepthStencil() {
		chain, size, kind = &a.dsv, a.device.Config.Descriptors.DSVHeapSize, native.DescriptorKindDSV
		chain.typ = native.DescriptorHeapTypeDSV
	}
	h, err := chain.allocate(a.device, max(size, 1))
	if err != nil {
		return native.CPUDescriptorHandle{}, err
	}
	h.Heap.Write(h.Index, native.Descriptor{
		Kind:       kind,
		Resource:   image.Resource,
		Format:     image.nativeFormat(),
		Dimension:  native.ViewDimensionTexture2DArray,
		FirstMip:   mip,
		MipCount:   1,
		FirstLayer: firstLayer,
		LayerCount: layerCount,
	})
	return h, nil
}

func (a *attachmentViews) reset() {
	a.rtv.reset()
	a.dsv.reset()
}

func (a *attachmentViews) destroy() {
	n := len(a.rtv.heaps) + len(a.dsv.heaps)
	a.rtv.destroy()
	a.dsv.destroy()
	if n > 0 {
		core.LogDebug("released %d attachment view heaps", n)
	}
}

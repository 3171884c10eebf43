package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/dozen/engine/core"
	"github.com/spaghettifunk/dozen/engine/renderer/native"
)

// dynamicDescriptor is a dynamic buffer binding. It only lives on the host
// and is written to the shader-visible heap at bind time, once the dynamic
// offset is known.
type dynamicDescriptor struct {
	kind   native.DescriptorKind
	buffer *VulkanBuffer
	offset uint64
	size   uint64
}

type VulkanDescriptorSet struct {
	Handle core.Handle
	Label  string
	Layout *VulkanDescriptorSetLayout

	pool *VulkanDescriptorPool
	slot int
	// first slot of the set in each pool heap; guarded by pool.heapLock
	heapOffset [DESCRIPTOR_CLASS_COUNT]uint32
	// guarded by pool.heapLock
	dynamic []dynamicDescriptor
}

func (s *VulkanDescriptorSet) release() {
	_ = s.pool.device.Handles.Release(s.Handle)
	s.Layout.Unref()
	s.pool.Unref()
}

type VulkanDescriptorImageInfo struct {
	Sampler     *VulkanSampler
	ImageView   *VulkanImageView
	ImageLayout vk.ImageLayout
}

type VulkanDescriptorBufferInfo struct {
	Buffer *VulkanBuffer
	Offset uint64
	Range  uint64
}

type VulkanWriteDescriptorSet struct {
	DstSet          *VulkanDescriptorSet
	DstBinding      uint32
	DstArrayElement uint32
	DescriptorType  vk.DescriptorType
	ImageInfo       []VulkanDescriptorImageInfo
	BufferInfo      []VulkanDescriptorBufferInfo
	TexelBufferView []*VulkanBufferView
}

func (w *VulkanWriteDescriptorSet) count() int {
	switch w.DescriptorType {
	case vk.DescriptorTypeSampler, vk.DescriptorTypeCombinedImageSampler, vk.DescriptorTypeSampledImage,
		vk.DescriptorTypeStorageImage, vk.DescriptorTypeInputAttachment:
		return len(w.ImageInfo)
	case vk.DescriptorTypeUniformTexelBuffer, vk.DescriptorTypeStorageTexelBuffer:
		return len(w.TexelBufferView)
	}
	return len(w.BufferInfo)
}

type VulkanCopyDescriptorSet struct {
	SrcSet          *VulkanDescriptorSet
	SrcBinding      uint32
	SrcArrayElement uint32
	DstSet          *VulkanDescriptorSet
	DstBinding      uint32
	DstArrayElement uint32
	DescriptorCount uint32
}

// elementCursor walks array elements across consecutive bindings, the way
// updates overflowing a binding continue into the next one.
type elementCursor struct {
	layout  *VulkanDescriptorSetLayout
	binding int
	element uint32
}

func newElementCursor(l *VulkanDescriptorSetLayout, binding, element uint32) (elementCursor, error) {
	i, ok := l.bindingIndex(binding)
	if !ok {
		return elementCursor{}, core.Errorf(core.ErrInvalidState, "binding %d not in set layout", binding)
	}
	return elementCursor{layout: l, binding: i, element: element}, nil
}

// next returns the binding and element of the next descriptor.
func (c *elementCursor) next() (*bindingLayout, uint32, error) {
	for c.binding < len(c.layout.Bindings) && c.element >= c.layout.Bindings[c.binding].DescriptorCount {
		c.element -= c.layout.Bindings[c.binding].DescriptorCount
		c.binding++
	}
	if c.binding >= len(c.layout.Bindings) {
		return nil, 0, core.Errorf(core.ErrInvalidState, "descriptor update past the last binding of the set layout")
	}
	b := &c.layout.Bindings[c.binding]
	e := c.element
	c.element++
	return b, e, nil
}

// UpdateDescriptorSets applies writes then copies.
func (d *VulkanDevice) UpdateDescriptorSets(writes []VulkanWriteDescriptorSet, copies []VulkanCopyDescriptorSet) error {
	for i := range writes {
		if err := writeDescriptorSet(&writes[i]); err != nil {
			core.LogError("descriptor write %d: %s", i, err.Error())
			return err
		}
	}
	for i := range copies {
		if err := copyDescriptorSet(d, &copies[i]); err != nil {
			core.LogError("descriptor copy %d: %s", i, err.Error())
			return err
		}
	}
	return nil
}

func writeDescriptorSet(w *VulkanWriteDescriptorSet) error {
	set := w.DstSet
	set.pool.heapLock.RLock()
	defer set.pool.heapLock.RUnlock()

	cur, err := newElementCursor(set.Layout, w.DstBinding, w.DstArrayElement)
	if err != nil {
		return err
	}
	for i := 0; i < w.count(); i++ {
		b, e, err := cur.next()
		if err != nil {
			return err
		}
		if b.DescriptorType != w.DescriptorType {
			return core.Errorf(core.ErrInvalidState, "binding %d has type %d, write has %d", b.Binding, b.DescriptorType, w.DescriptorType)
		}
		set.writeElement(b, e, w, i)
	}
	return nil
}

func (s *VulkanDescriptorSet) viewHeap() (*VulkanDescriptorHeap, uint32) {
	return s.pool.heap(DESCRIPTOR_CLASS_VIEW), s.heapOffset[DESCRIPTOR_CLASS_VIEW]
}

func (s *VulkanDescriptorSet) samplerHeap() (*VulkanDescriptorHeap, uint32) {
	return s.pool.heap(DESCRIPTOR_CLASS_SAMPLER), s.heapOffset[DESCRIPTOR_CLASS_SAMPLER]
}

// viewSlot returns the set-relative view slot of element e holding a view of
// the given kind. Storage bindings of unknown usage keep their read-write
// views after all the read-only ones.
func viewSlot(b *bindingLayout, e uint32, kind native.DescriptorKind) uint32 {
	if b.usageDependent() && kind == native.DescriptorKindUAV {
		return b.viewOffset + b.DescriptorCount + e
	}
	return b.viewOffset + e
}

// viewKinds lists the kinds of view kept per element of a binding.
func viewKinds(b *bindingLayout) []native.DescriptorKind {
	switch {
	case b.usageDependent():
		return []native.DescriptorKind{native.DescriptorKindSRV, native.DescriptorKindUAV}
	case b.DescriptorType == vk.DescriptorTypeUniformBuffer || b.DescriptorType == vk.DescriptorTypeUniformBufferDynamic:
		return []native.DescriptorKind{native.DescriptorKindCBV}
	case isStorageType(b.DescriptorType) && b.Usage == BINDING_USAGE_READ_WRITE:
		return []native.DescriptorKind{native.DescriptorKindUAV}
	}
	return []native.DescriptorKind{native.DescriptorKindSRV}
}

func (s *VulkanDescriptorSet) writeElement(b *bindingLayout, e uint32, w *VulkanWriteDescriptorSet, i int) {
	views, viewBase := s.viewHeap()
	samplers, samplerBase := s.samplerHeap()

	if b.slots.samplers > 0 {
		if smp := w.ImageInfo[i].Sampler; smp != nil {
			samplers.Write(samplerBase+b.samplerOffset+e, native.Descriptor{Kind: native.DescriptorKindSampler, Sampler: smp.Desc})
		}
	}

	if isDynamicType(b.DescriptorType) {
		info := w.BufferInfo[i]
		for k, kind := range viewKinds(b) {
			s.dynamic[b.dynamicOffset+uint32(k)*b.DescriptorCount+e] = dynamicDescriptor{
				kind:   kind,
				buffer: info.Buffer,
				offset: info.Offset,
				size:   info.Buffer.rangeSize(info.Offset, info.Range),
			}
		}
		return
	}
	if b.slots.views == 0 {
		return
	}

	for _, kind := range viewKinds(b) {
		var desc native.Descriptor
		switch b.DescriptorType {
		case vk.DescriptorTypeCombinedImageSampler, vk.DescriptorTypeSampledImage,
			vk.DescriptorTypeStorageImage, vk.DescriptorTypeInputAttachment:
			desc = w.ImageInfo[i].ImageView.descriptor(kind)
		case vk.DescriptorTypeUniformTexelBuffer, vk.DescriptorTypeStorageTexelBuffer:
			desc = w.TexelBufferView[i].descriptor(kind)
		default:
			info := w.BufferInfo[i]
			desc = bufferDescriptor(kind, info.Buffer, info.Offset, info.Buffer.rangeSize(info.Offset, info.Range))
		}
		views.Write(viewBase+viewSlot(b, e, kind), desc)
	}
}

// bufferDescriptor builds a constant buffer view or a raw buffer view.
func bufferDescriptor(kind native.DescriptorKind, buffer *VulkanBuffer, offset, size uint64) native.Descriptor {
	if kind == native.DescriptorKindCBV {
		size = alignUp(size, uint64(constantBufferAlignment))
	}
	return native.Descriptor{
		Kind:      kind,
		Resource:  buffer.Resource,
		Address:   buffer.Address(offset),
		Size:      size,
		Raw:       kind != native.DescriptorKindCBV,
		Dimension: native.ViewDimensionBuffer,
	}
}

// lockPair takes the heap locks of the pools of two sets shared, in handle
// order, and returns the matching unlock.
func lockPair(a, b *VulkanDescriptorPool) func() {
	if a == b {
		a.heapLock.RLock()
		return a.heapLock.RUnlock
	}
	if b.Handle < a.Handle {
		a, b = b, a
	}
	a.heapLock.RLock()
	b.heapLock.RLock()
	return func() {
		b.heapLock.RUnlock()
		a.heapLock.RUnlock()
	}
}

func copyDescriptorSet(d *VulkanDevice, c *VulkanCopyDescriptorSet) error {
	unlock := lockPair(c.SrcSet.pool, c.DstSet.pool)
	defer unlock()

	src, err := newElementCursor(c.SrcSet.Layout, c.SrcBinding, c.SrcArrayElement)
	if err != nil {
		return err
	}
	dst, err := newElementCursor(c.DstSet.Layout, c.DstBinding, c.DstArrayElement)
	if err != nil {
		return err
	}
	srcViews, srcViewBase := c.SrcSet.viewHeap()
	srcSamplers, srcSamplerBase := c.SrcSet.samplerHeap()
	dstViews, dstViewBase := c.DstSet.viewHeap()
	dstSamplers, dstSamplerBase := c.DstSet.samplerHeap()

	for i := uint32(0); i < c.DescriptorCount; i++ {
		sb, se, err := src.next()
		if err != nil {
			return err
		}
		db, de, err := dst.next()
		if err != nil {
			return err
		}
		if sb.DescriptorType != db.DescriptorType {
			return core.Errorf(core.ErrInvalidState, "copy between bindings %d and %d of different types", sb.Binding, db.Binding)
		}

		if isDynamicType(db.DescriptorType) {
			for k, kind := range viewKinds(db) {
				from := c.SrcSet.dynamic[sb.dynamicOffset+se]
				for sk, skind := range viewKinds(sb) {
					if skind == kind {
						from = c.SrcSet.dynamic[sb.dynamicOffset+uint32(sk)*sb.DescriptorCount+se]
					}
				}
				from.kind = kind
				c.DstSet.dynamic[db.dynamicOffset+uint32(k)*db.DescriptorCount+de] = from
			}
			continue
		}
		if db.slots.views > 0 && sb.slots.views > 0 {
			for _, kind := range viewKinds(db) {
				copyDescriptors(d, 1, dstViews, dstViewBase+viewSlot(db, de, kind), srcViews, srcViewBase+viewSlot(sb, se, kind))
			}
		}
		if db.slots.samplers > 0 && sb.slots.samplers > 0 {
			copyDescriptors(d, 1, dstSamplers, dstSamplerBase+db.samplerOffset+de, srcSamplers, srcSamplerBase+sb.samplerOffset+se)
		}
	}
	return nil
}

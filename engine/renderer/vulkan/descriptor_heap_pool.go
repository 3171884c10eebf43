package vulkan

import (
	"github.com/spaghettifunk/dozen/engine/core"
)

// descriptorHeapPool hands out ranges of shader-visible heaps to a single
// command buffer. Ranges are never freed individually: the whole pool is
// rewound when the command buffer is reset, and heaps are kept for reuse.
type descriptorHeapPool struct {
	device    *VulkanDevice
	class     DescriptorClass
	blockSize uint32

	heaps  []*VulkanDescriptorHeap
	cur    int
	offset uint32
}

func newDescriptorHeapPool(device *VulkanDevice, class DescriptorClass, blockSize uint32) *descriptorHeapPool {
	return &descriptorHeapPool{device: device, class: class, blockSize: max(blockSize, 1), cur: -1}
}

// allocate returns a range of count slots. A new heap is created when the
// current one cannot hold the range.
func (p *descriptorHeapPool) allocate(count uint32) (*VulkanDescriptorHeap, uint32, error) {
	if p.cur >= 0 && p.offset+count <= p.heaps[p.cur].Capacity {
		off := p.offset
		p.offset += count
		return p.heaps[p.cur], off, nil
	}

	// Reuse a heap kept from a previous recording when it is large enough.
	for next := p.cur + 1; next < len(p.heaps); next++ {
		if p.heaps[next].Capacity >= count {
			p.heaps[next], p.heaps[p.cur+1] = p.heaps[p.cur+1], p.heaps[next]
			p.cur++
			p.offset = count
			return p.heaps[p.cur], 0, nil
		}
	}

	h, err := NewVulkanDescriptorHeap(p.device, p.class, max(p.blockSize, count), true)
	if err != nil {
		return nil, 0, err
	}
	core.LogDebug("shader-visible %s heap of %d slots created (%d in pool)", p.class, h.Capacity, len(p.heaps)+1)
	p.heaps = append(p.heaps, nil)
	copy(p.heaps[p.cur+2:], p.heaps[p.cur+1:])
	p.cur++
	p.heaps[p.cur] = h
	p.offset = count
	return h, 0, nil
}

func (p *descriptorHeapPool) reset() {
	p.cur = -1
	p.offset = 0
}

func (p *descriptorHeapPool) destroy() {
	for _, h := range p.heaps {
		h.Destroy()
	}
	p.heaps = nil
	p.reset()
}

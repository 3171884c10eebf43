package vulkan

import (
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/dozen/engine/core"
)

type VulkanDescriptorPoolSize struct {
	Type            vk.DescriptorType
	DescriptorCount uint32
}

// poolClass is the bookkeeping of one descriptor class of a pool. Live set
// ranges never overlap and stay below capacity.
type poolClass struct {
	heap       *VulkanDescriptorHeap
	capacity   uint32
	freeOffset uint32
	used       uint32
}

/**
 * @brief A descriptor pool. Sets are carved out of one host-only heap per
 * descriptor class; the heaps are compacted when fragmentation is the only
 * reason an allocation cannot be satisfied.
 */
type VulkanDescriptorPool struct {
	core.RefCount

	Handle core.Handle
	Label  string

	device *VulkanDevice

	// mu guards the allocation bookkeeping: classes and sets.
	mu sync.Mutex
	// heapLock guards the content of the heaps and the heap offsets of the
	// sets. Descriptor writes and copies, and command buffers gathering
	// descriptors take it shared; compaction takes it exclusive.
	heapLock sync.RWMutex

	classes [DESCRIPTOR_CLASS_COUNT]poolClass
	// indexed by set slot; nil entries are free
	sets []*VulkanDescriptorSet
}

func NewVulkanDescriptorPool(device *VulkanDevice, maxSets uint32, sizes []VulkanDescriptorPoolSize) (*VulkanDescriptorPool, error) {
	p := &VulkanDescriptorPool{
		device: device,
		sets:   make([]*VulkanDescriptorSet, maxSets),
	}
	for _, s := range sizes {
		// usage is unknown at pool creation: reserve the worst case
		slots := slotsFor(s.Type, true, false)
		p.classes[DESCRIPTOR_CLASS_VIEW].capacity += slots.views * s.DescriptorCount
		p.classes[DESCRIPTOR_CLASS_SAMPLER].capacity += slots.samplers * s.DescriptorCount
	}
	for c := range p.classes {
		if p.classes[c].capacity == 0 {
			continue
		}
		h, err := NewVulkanDescriptorHeap(device, DescriptorClass(c), p.classes[c].capacity, false)
		if err != nil {
			p.destroyHeaps()
			return nil, err
		}
		p.classes[c].heap = h
	}
	p.Handle, p.Label = device.Handles.Acquire(p)
	p.InitRefCount(func() {
		p.destroyHeaps()
		_ = device.Handles.Release(p.Handle)
	})

	core.LogDebug("descriptor pool %s created: %d sets, %d view slots, %d sampler slots", p.Label, maxSets,
		p.classes[DESCRIPTOR_CLASS_VIEW].capacity, p.classes[DESCRIPTOR_CLASS_SAMPLER].capacity)
	return p, nil
}

func (p *VulkanDescriptorPool) destroyHeaps() {
	for c := range p.classes {
		if p.classes[c].heap != nil {
			p.classes[c].heap.Destroy()
			p.classes[c].heap = nil
		}
	}
}

// Destroy frees every set of the pool and drops the application reference.
func (p *VulkanDescriptorPool) Destroy() {
	p.Reset()
	p.Unref()
}

// AllocateDescriptorSets allocates one set per layout. Either every set is
// allocated or none is.
func (p *VulkanDescriptorPool) AllocateDescriptorSets(layouts []*VulkanDescriptorSetLayout) ([]*VulkanDescriptorSet, error) {
	out := make([]*VulkanDescriptorSet, 0, len(layouts))
	for _, l := range layouts {
		s, err := p.allocate(l)
		if err != nil {
			p.FreeDescriptorSets(out)
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (p *VulkanDescriptorPool) allocate(layout *VulkanDescriptorSetLayout) (*VulkanDescriptorSet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	slot := -1
	for i, s := range p.sets {
		if s == nil {
			slot = i
			break
		}
	}
	if slot < 0 {
		return nil, core.Errorf(core.ErrOutOfPoolMemory, "descriptor pool %s: all %d sets allocated", p.Label, len(p.sets))
	}

	// Check every class before touching any of them.
	var compact [DESCRIPTOR_CLASS_COUNT]bool
	for c := range p.classes {
		need := layout.SlotCount[c]
		cl := &p.classes[c]
		if need == 0 || cl.freeOffset+need <= cl.capacity {
			continue
		}
		if cl.used+need > cl.capacity {
			return nil, core.Errorf(core.ErrOutOfPoolMemory, "descriptor pool %s: %d %s slots requested, %d of %d used",
				p.Label, need, DescriptorClass(c), cl.used, cl.capacity)
		}
		compact[c] = true
	}
	for c := range p.classes {
		if compact[c] {
			if err := p.defragment(DescriptorClass(c)); err != nil {
				return nil, err
			}
		}
	}

	set := &VulkanDescriptorSet{
		Layout:  layout,
		pool:    p,
		slot:    slot,
		dynamic: make([]dynamicDescriptor, layout.DynamicCount),
	}
	for c := range p.classes {
		need := layout.SlotCount[c]
		set.heapOffset[c] = p.classes[c].freeOffset
		p.classes[c].freeOffset += need
		p.classes[c].used += need
	}
	p.sets[slot] = set
	set.Handle, set.Label = p.device.Handles.Acquire(set)
	layout.Ref()
	p.Ref()
	return set, nil
}

// defragment packs the live ranges of class c at the start of a fresh heap,
// in set slot order. Called with mu held.
func (p *VulkanDescriptorPool) defragment(c DescriptorClass) error {
	p.heapLock.Lock()
	defer p.heapLock.Unlock()

	cl := &p.classes[c]
	heap, err := NewVulkanDescriptorHeap(p.device, c, cl.capacity, false)
	if err != nil {
		return err
	}
	var offset uint32
	for _, s := range p.sets {
		if s == nil {
			continue
		}
		n := s.Layout.SlotCount[c]
		if n == 0 {
			continue
		}
		copyDescriptors(p.device, n, heap, offset, cl.heap, s.heapOffset[c])
		s.heapOffset[c] = offset
		offset += n
	}
	core.LogDebug("descriptor pool %s: %s heap compacted, free offset %d -> %d", p.Label, c, cl.freeOffset, offset)
	cl.heap.Destroy()
	cl.heap = heap
	cl.freeOffset = offset
	core.Metrics().Defragmentations.Add(1)

	var ctx core.EventContext
	ctx.Data.U32[0] = uint32(c)
	ctx.Data.U32[1] = cl.capacity - offset
	core.EventFire(core.EVENT_CODE_POOL_DEFRAGMENTED, p, ctx)
	return nil
}

// FreeDescriptorSets returns sets to the pool. The tail of each class is
// reclaimed right away; holes are reclaimed by compaction.
func (p *VulkanDescriptorPool) FreeDescriptorSets(sets []*VulkanDescriptorSet) {
	p.mu.Lock()
	freed := make([]*VulkanDescriptorSet, 0, len(sets))
	for _, s := range sets {
		if s == nil || s.pool != p || p.sets[s.slot] != s {
			continue
		}
		p.sets[s.slot] = nil
		freed = append(freed, s)
		for c := range p.classes {
			p.classes[c].used -= s.Layout.SlotCount[c]
		}
	}
	for c := range p.classes {
		var end uint32
		for _, s := range p.sets {
			if s != nil && s.Layout.SlotCount[c] > 0 {
				end = max(end, s.heapOffset[c]+s.Layout.SlotCount[c])
			}
		}
		p.classes[c].freeOffset = end
	}
	p.mu.Unlock()

	for _, s := range freed {
		s.release()
	}
}

// Reset frees every set allocated from the pool.
func (p *VulkanDescriptorPool) Reset() {
	p.mu.Lock()
	live := make([]*VulkanDescriptorSet, 0, len(p.sets))
	for i, s := range p.sets {
		if s != nil {
			live = append(live, s)
			p.sets[i] = nil
		}
	}
	for c := range p.classes {
		p.classes[c].freeOffset = 0
		p.classes[c].used = 0
	}
	p.mu.Unlock()

	for _, s := range live {
		s.release()
	}
}

// Usage reports the next free offset and the number of used slots of a
// class.
func (p *VulkanDescriptorPool) Usage(c DescriptorClass) (freeOffset, used, capacity uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cl := p.classes[c]
	return cl.freeOffset, cl.used, cl.capacity
}

// heap returns the heap of class c. Called with heapLock held.
func (p *VulkanDescriptorPool) heap(c DescriptorClass) *VulkanDescriptorHeap {
	return p.classes[c].heap
}

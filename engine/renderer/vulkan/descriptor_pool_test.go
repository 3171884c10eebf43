package vulkan

import (
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/dozen/engine/core"
	"github.com/spaghettifunk/dozen/engine/renderer/native/soft"
)

func TestSlotsFor(t *testing.T) {
	v1 := descriptorSlots{views: 1}
	v2 := descriptorSlots{views: 2}
	// per type: known usage, unknown usage, then both again with an
	// immutable sampler bound
	tests := []struct {
		name string
		typ  vk.DescriptorType
		want [4]descriptorSlots
	}{
		{"sampler", vk.DescriptorTypeSampler, [4]descriptorSlots{{samplers: 1}, {samplers: 1}, {}, {}}},
		{"combined image sampler", vk.DescriptorTypeCombinedImageSampler, [4]descriptorSlots{{views: 1, samplers: 1}, {views: 1, samplers: 1}, v1, v1}},
		{"sampled image", vk.DescriptorTypeSampledImage, [4]descriptorSlots{v1, v1, v1, v1}},
		{"storage image", vk.DescriptorTypeStorageImage, [4]descriptorSlots{v1, v2, v1, v2}},
		{"uniform texel buffer", vk.DescriptorTypeUniformTexelBuffer, [4]descriptorSlots{v1, v1, v1, v1}},
		{"storage texel buffer", vk.DescriptorTypeStorageTexelBuffer, [4]descriptorSlots{v1, v2, v1, v2}},
		{"uniform buffer", vk.DescriptorTypeUniformBuffer, [4]descriptorSlots{v1, v1, v1, v1}},
		{"storage buffer", vk.DescriptorTypeStorageBuffer, [4]descriptorSlots{v1, v2, v1, v2}},
		{"uniform buffer dynamic", vk.DescriptorTypeUniformBufferDynamic, [4]descriptorSlots{{dynamic: 1}, {dynamic: 1}, {dynamic: 1}, {dynamic: 1}}},
		{"storage buffer dynamic", vk.DescriptorTypeStorageBufferDynamic, [4]descriptorSlots{{dynamic: 1}, {dynamic: 2}, {dynamic: 1}, {dynamic: 2}}},
		{"input attachment", vk.DescriptorTypeInputAttachment, [4]descriptorSlots{v1, v1, v1, v1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i, want := range tt.want {
				usageDep, immutable := i%2 == 1, i >= 2
				if got := slotsFor(tt.typ, usageDep, immutable); got != want {
					t.Errorf("slotsFor(usageDependent=%v, immutable=%v) = %+v, want %+v", usageDep, immutable, got, want)
				}
			}
		})
	}
}

func TestDescriptorSetLayoutSlotCount(t *testing.T) {
	l, err := NewVulkanDescriptorSetLayout([]VulkanDescriptorSetLayoutBinding{
		{Binding: 2, DescriptorType: vk.DescriptorTypeStorageBuffer, DescriptorCount: 3},
		{Binding: 0, DescriptorType: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: 2},
		{Binding: 1, DescriptorType: vk.DescriptorTypeUniformBufferDynamic, DescriptorCount: 1},
	})
	if err != nil {
		t.Fatalf("NewVulkanDescriptorSetLayout: %v", err)
	}
	if got := l.SlotCount[DESCRIPTOR_CLASS_VIEW]; got != 2+6 {
		t.Errorf("view slots = %d, want 8", got)
	}
	if got := l.SlotCount[DESCRIPTOR_CLASS_SAMPLER]; got != 2 {
		t.Errorf("sampler slots = %d, want 2", got)
	}
	if l.DynamicCount != 1 {
		t.Errorf("dynamic count = %d, want 1", l.DynamicCount)
	}
	if l.Bindings[0].Binding != 0 || l.Bindings[2].viewOffset != 2 {
		t.Errorf("bindings not sorted or misplaced: %+v", l.Bindings)
	}

	_, err = NewVulkanDescriptorSetLayout([]VulkanDescriptorSetLayoutBinding{
		{Binding: 0, DescriptorType: vk.DescriptorTypeUniformBuffer, DescriptorCount: 1},
		{Binding: 0, DescriptorType: vk.DescriptorTypeSampledImage, DescriptorCount: 1},
	})
	if !errors.Is(err, core.ErrInvalidState) {
		t.Errorf("duplicate binding error = %v, want ErrInvalidState", err)
	}
}

func uniformLayout(t *testing.T, count uint32) *VulkanDescriptorSetLayout {
	t.Helper()
	l, err := NewVulkanDescriptorSetLayout([]VulkanDescriptorSetLayoutBinding{
		{Binding: 0, DescriptorType: vk.DescriptorTypeUniformBuffer, DescriptorCount: count},
	})
	if err != nil {
		t.Fatalf("NewVulkanDescriptorSetLayout: %v", err)
	}
	return l
}

func newUniformPool(t *testing.T, d *VulkanDevice, maxSets, descriptors uint32) *VulkanDescriptorPool {
	t.Helper()
	p, err := NewVulkanDescriptorPool(d, maxSets, []VulkanDescriptorPoolSize{
		{Type: vk.DescriptorTypeUniformBuffer, DescriptorCount: descriptors},
	})
	if err != nil {
		t.Fatalf("NewVulkanDescriptorPool: %v", err)
	}
	t.Cleanup(p.Destroy)
	return p
}

func TestDescriptorPoolWorstCaseCapacity(t *testing.T) {
	d, _ := newTestDevice(t, soft.Options{})
	p, err := NewVulkanDescriptorPool(d, 4, []VulkanDescriptorPoolSize{
		{Type: vk.DescriptorTypeStorageBuffer, DescriptorCount: 3},
		{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: 2},
	})
	if err != nil {
		t.Fatalf("NewVulkanDescriptorPool: %v", err)
	}
	defer p.Destroy()
	if _, _, capacity := p.Usage(DESCRIPTOR_CLASS_VIEW); capacity != 3*2+2 {
		t.Errorf("view capacity = %d, want 8", capacity)
	}
	if _, _, capacity := p.Usage(DESCRIPTOR_CLASS_SAMPLER); capacity != 2 {
		t.Errorf("sampler capacity = %d, want 2", capacity)
	}
}

func TestDescriptorPoolTailReclaim(t *testing.T) {
	d, _ := newTestDevice(t, soft.Options{})
	p := newUniformPool(t, d, 4, 8)
	l := uniformLayout(t, 2)

	sets, err := p.AllocateDescriptorSets([]*VulkanDescriptorSetLayout{l, l, l})
	if err != nil {
		t.Fatalf("AllocateDescriptorSets: %v", err)
	}
	if free, used, _ := p.Usage(DESCRIPTOR_CLASS_VIEW); free != 6 || used != 6 {
		t.Fatalf("usage = (%d, %d), want (6, 6)", free, used)
	}

	p.FreeDescriptorSets(sets[2:])
	if free, used, _ := p.Usage(DESCRIPTOR_CLASS_VIEW); free != 4 || used != 4 {
		t.Errorf("after freeing the tail usage = (%d, %d), want (4, 4)", free, used)
	}

	p.FreeDescriptorSets(sets[:1])
	if free, used, _ := p.Usage(DESCRIPTOR_CLASS_VIEW); free != 4 || used != 2 {
		t.Errorf("after freeing a hole usage = (%d, %d), want (4, 2)", free, used)
	}

	p.Reset()
	if free, used, _ := p.Usage(DESCRIPTOR_CLASS_VIEW); free != 0 || used != 0 {
		t.Errorf("after reset usage = (%d, %d), want (0, 0)", free, used)
	}
}

func TestDescriptorPoolDefragment(t *testing.T) {
	core.EventInitialize()
	d, _ := newTestDevice(t, soft.Options{})
	p := newUniformPool(t, d, 4, 4)
	l := uniformLayout(t, 1)

	var fired atomic.Int32
	var freeSlots atomic.Uint32
	listener := new(int)
	core.EventRegister(core.EVENT_CODE_POOL_DEFRAGMENTED, listener, func(code core.SystemEventCode, sender, inst interface{}, data core.EventContext) bool {
		if sender == p {
			fired.Add(1)
			freeSlots.Store(data.Data.U32[1])
		}
		return false
	})
	t.Cleanup(func() { core.EventUnregister(core.EVENT_CODE_POOL_DEFRAGMENTED, listener) })

	sets, err := p.AllocateDescriptorSets([]*VulkanDescriptorSetLayout{l, l, l, l})
	if err != nil {
		t.Fatalf("AllocateDescriptorSets: %v", err)
	}
	ub := hostBuffer(t, d, vk.BufferUsageUniformBufferBit, 1024, nil)
	for i, s := range sets {
		err := d.UpdateDescriptorSets([]VulkanWriteDescriptorSet{{
			DstSet:         s,
			DescriptorType: vk.DescriptorTypeUniformBuffer,
			BufferInfo:     []VulkanDescriptorBufferInfo{{Buffer: ub, Offset: uint64(i) * 256, Range: 256}},
		}}, nil)
		if err != nil {
			t.Fatalf("UpdateDescriptorSets: %v", err)
		}
	}

	p.FreeDescriptorSets(sets[1:2])
	before := core.Metrics().Defragmentations.Load()
	extra, err := p.AllocateDescriptorSets([]*VulkanDescriptorSetLayout{l})
	if err != nil {
		t.Fatalf("allocation after free: %v", err)
	}
	if core.Metrics().Defragmentations.Load() <= before {
		t.Errorf("allocation into a hole did not compact the pool")
	}
	if fired.Load() != 1 {
		t.Errorf("defragmentation event fired %d times, want 1", fired.Load())
	}
	if freeSlots.Load() != 1 {
		t.Errorf("free slots after compaction = %d, want 1", freeSlots.Load())
	}

	want := map[*VulkanDescriptorSet]uint32{sets[0]: 0, sets[2]: 1, sets[3]: 2, extra[0]: 3}
	for s, off := range want {
		if s.heapOffset[DESCRIPTOR_CLASS_VIEW] != off {
			t.Errorf("set %s at %d, want %d", s.Label, s.heapOffset[DESCRIPTOR_CLASS_VIEW], off)
		}
	}
	// descriptors follow their set
	heap := p.heap(DESCRIPTOR_CLASS_VIEW).Native
	for i, s := range []*VulkanDescriptorSet{sets[0], sets[2], sets[3]} {
		got := soft.ReadDescriptors(heap, s.heapOffset[DESCRIPTOR_CLASS_VIEW], 1)
		src := []int{0, 2, 3}[i]
		if len(got) != 1 || got[0].Address != ub.Address(uint64(src)*256) {
			t.Errorf("set %d descriptor = %+v, want address of element %d", src, got, src)
		}
	}
}

func TestDescriptorPoolOutOfMemory(t *testing.T) {
	d, _ := newTestDevice(t, soft.Options{})

	t.Run("sets", func(t *testing.T) {
		p := newUniformPool(t, d, 2, 8)
		l := uniformLayout(t, 1)
		_, err := p.AllocateDescriptorSets([]*VulkanDescriptorSetLayout{l, l, l})
		if !errors.Is(err, core.ErrOutOfPoolMemory) {
			t.Fatalf("err = %v, want ErrOutOfPoolMemory", err)
		}
		// nothing stays allocated from the failed call
		if free, used, _ := p.Usage(DESCRIPTOR_CLASS_VIEW); free != 0 || used != 0 {
			t.Errorf("usage after failed allocation = (%d, %d), want (0, 0)", free, used)
		}
		if _, err := p.AllocateDescriptorSets([]*VulkanDescriptorSetLayout{l, l}); err != nil {
			t.Errorf("allocation within limits failed: %v", err)
		}
	})

	t.Run("slots", func(t *testing.T) {
		p := newUniformPool(t, d, 8, 3)
		l := uniformLayout(t, 2)
		if _, err := p.AllocateDescriptorSets([]*VulkanDescriptorSetLayout{l}); err != nil {
			t.Fatalf("first allocation: %v", err)
		}
		_, err := p.AllocateDescriptorSets([]*VulkanDescriptorSetLayout{l})
		if !errors.Is(err, core.ErrOutOfPoolMemory) {
			t.Errorf("err = %v, want ErrOutOfPoolMemory", err)
		}
		if core.ResultFromError(err) != vk.ErrorOutOfPoolMemory {
			t.Errorf("result = %d, want VK_ERROR_OUT_OF_POOL_MEMORY", core.ResultFromError(err))
		}
	})
}

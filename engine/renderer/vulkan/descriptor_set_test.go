package vulkan

import (
	"testing"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"golang.org/x/sync/errgroup"

	"github.com/spaghettifunk/dozen/engine/core"
	"github.com/spaghettifunk/dozen/engine/renderer/native/soft"
)

func writeUniform(d *VulkanDevice, s *VulkanDescriptorSet, ub *VulkanBuffer, offset uint64) error {
	return d.UpdateDescriptorSets([]VulkanWriteDescriptorSet{{
		DstSet:         s,
		DescriptorType: vk.DescriptorTypeUniformBuffer,
		BufferInfo:     []VulkanDescriptorBufferInfo{{Buffer: ub, Offset: offset, Range: 256}},
	}}, nil)
}

func viewAddress(s *VulkanDescriptorSet, slot uint32) uint64 {
	heap, base := s.viewHeap()
	got := soft.ReadDescriptors(heap.Native, base+slot, 1)
	if len(got) != 1 {
		return 0
	}
	return got[0].Address
}

func TestCopyDescriptorSet(t *testing.T) {
	d, _ := newTestDevice(t, soft.Options{})
	p := newUniformPool(t, d, 4, 8)
	l := uniformLayout(t, 2)
	ub := hostBuffer(t, d, vk.BufferUsageUniformBufferBit, 1024, nil)

	sets, err := p.AllocateDescriptorSets([]*VulkanDescriptorSetLayout{l, l})
	if err != nil {
		t.Fatalf("AllocateDescriptorSets: %v", err)
	}
	src, dst := sets[0], sets[1]
	if err := writeUniform(d, src, ub, 512); err != nil {
		t.Fatalf("write: %v", err)
	}
	err = d.UpdateDescriptorSets(nil, []VulkanCopyDescriptorSet{{
		SrcSet: src, DstSet: dst, DstArrayElement: 1, DescriptorCount: 1,
	}})
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	if got := viewAddress(dst, 1); got != ub.Address(512) {
		t.Errorf("copied descriptor address = %#x, want %#x", got, ub.Address(512))
	}

	// rewriting the source leaves the copy alone
	if err := writeUniform(d, src, ub, 0); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if got := viewAddress(dst, 1); got != ub.Address(512) {
		t.Errorf("copy changed after source rewrite: %#x", got)
	}

	err = d.UpdateDescriptorSets(nil, []VulkanCopyDescriptorSet{{
		SrcSet: src, DstSet: dst, DstArrayElement: 1, DescriptorCount: 2,
	}})
	if !errors.Is(err, core.ErrInvalidState) {
		t.Errorf("copy past the last binding err = %v, want ErrInvalidState", err)
	}
}

func TestDescriptorWriteValidation(t *testing.T) {
	d, _ := newTestDevice(t, soft.Options{})
	p := newUniformPool(t, d, 1, 1)
	l := uniformLayout(t, 1)
	ub := hostBuffer(t, d, vk.BufferUsageUniformBufferBit, 256, nil)
	sets, err := p.AllocateDescriptorSets([]*VulkanDescriptorSetLayout{l})
	if err != nil {
		t.Fatalf("AllocateDescriptorSets: %v", err)
	}

	tests := []struct {
		name  string
		write VulkanWriteDescriptorSet
	}{
		{"unknown binding", VulkanWriteDescriptorSet{
			DstSet: sets[0], DstBinding: 3, DescriptorType: vk.DescriptorTypeUniformBuffer,
			BufferInfo: []VulkanDescriptorBufferInfo{{Buffer: ub, Range: 256}},
		}},
		{"type mismatch", VulkanWriteDescriptorSet{
			DstSet: sets[0], DescriptorType: vk.DescriptorTypeStorageBuffer,
			BufferInfo: []VulkanDescriptorBufferInfo{{Buffer: ub, Range: 256}},
		}},
		{"overflow", VulkanWriteDescriptorSet{
			DstSet: sets[0], DescriptorType: vk.DescriptorTypeUniformBuffer,
			BufferInfo: []VulkanDescriptorBufferInfo{{Buffer: ub, Range: 256}, {Buffer: ub, Range: 256}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := d.UpdateDescriptorSets([]VulkanWriteDescriptorSet{tt.write}, nil)
			if !errors.Is(err, core.ErrInvalidState) {
				t.Errorf("err = %v, want ErrInvalidState", err)
			}
		})
	}
}

func TestConcurrentDescriptorWrites(t *testing.T) {
	const writers = 8
	d, _ := newTestDevice(t, soft.Options{})
	p := newUniformPool(t, d, writers+2, writers+2)
	l := uniformLayout(t, 1)
	ub := hostBuffer(t, d, vk.BufferUsageUniformBufferBit, 256*writers, nil)

	layouts := make([]*VulkanDescriptorSetLayout, writers+2)
	for i := range layouts {
		layouts[i] = l
	}
	sets, err := p.AllocateDescriptorSets(layouts)
	if err != nil {
		t.Fatalf("AllocateDescriptorSets: %v", err)
	}
	// leave a hole so the next allocation compacts the pool under the writers
	p.FreeDescriptorSets(sets[writers : writers+1])

	var g errgroup.Group
	for i := 0; i < writers; i++ {
		s := sets[i]
		offset := uint64(i) * 256
		g.Go(func() error {
			for n := 0; n < 50; n++ {
				if err := writeUniform(d, s, ub, offset); err != nil {
					return err
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		_, err := p.AllocateDescriptorSets([]*VulkanDescriptorSetLayout{l})
		return err
	})
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent updates: %v", err)
	}

	for i := 0; i < writers; i++ {
		if got := viewAddress(sets[i], 0); got != ub.Address(uint64(i)*256) {
			t.Errorf("set %d descriptor address = %#x, want %#x", i, got, ub.Address(uint64(i)*256))
		}
	}
}

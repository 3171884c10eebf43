package vulkan

import (
	"testing"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/dozen/engine/core"
	"github.com/spaghettifunk/dozen/engine/renderer/native/soft"
)

func TestBindDescriptorSetsHeapUpdates(t *testing.T) {
	d, sd := newTestDevice(t, soft.Options{})
	lu := uniformLayout(t, 1)
	ld, err := NewVulkanDescriptorSetLayout([]VulkanDescriptorSetLayoutBinding{
		{Binding: 0, DescriptorType: vk.DescriptorTypeUniformBufferDynamic, DescriptorCount: 1},
	})
	if err != nil {
		t.Fatalf("NewVulkanDescriptorSetLayout: %v", err)
	}
	layout := newLayout(t, d, []*VulkanDescriptorSetLayout{lu, ld}, nil)
	p := newGraphicsPipeline(t, d, "triangles", layout, vk.PrimitiveTopologyTriangleList)
	param, ok := layout.TableParam(DESCRIPTOR_CLASS_VIEW)
	if !ok {
		t.Fatal("layout has no view table")
	}

	pool, err := NewVulkanDescriptorPool(d, 3, []VulkanDescriptorPoolSize{
		{Type: vk.DescriptorTypeUniformBuffer, DescriptorCount: 2},
		{Type: vk.DescriptorTypeUniformBufferDynamic, DescriptorCount: 1},
	})
	if err != nil {
		t.Fatalf("NewVulkanDescriptorPool: %v", err)
	}
	t.Cleanup(pool.Destroy)
	sets, err := pool.AllocateDescriptorSets([]*VulkanDescriptorSetLayout{lu, ld, lu})
	if err != nil {
		t.Fatalf("AllocateDescriptorSets: %v", err)
	}
	static, dynamic, copied := sets[0], sets[1], sets[2]

	ub := hostBuffer(t, d, vk.BufferUsageUniformBufferBit, 2048, nil)
	if err := writeUniform(d, static, ub, 256); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := d.UpdateDescriptorSets([]VulkanWriteDescriptorSet{{
		DstSet:         dynamic,
		DescriptorType: vk.DescriptorTypeUniformBufferDynamic,
		BufferInfo:     []VulkanDescriptorBufferInfo{{Buffer: ub, Offset: 0, Range: 256}},
	}}, []VulkanCopyDescriptorSet{{
		SrcSet:          static,
		DstSet:          copied,
		DescriptorCount: 1,
	}}); err != nil {
		t.Fatalf("UpdateDescriptorSets: %v", err)
	}

	cb := beginCommandBuffer(t, d)
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	bindSets := func(first uint32, s []*VulkanDescriptorSet, offsets ...uint32) {
		t.Helper()
		must(cb.BindDescriptorSets(vk.PipelineBindPointGraphics, layout, first, s, offsets))
	}

	must(cb.BindPipeline(vk.PipelineBindPointGraphics, p))
	must(cb.BindPipeline(vk.PipelineBindPointGraphics, p))
	bindSets(0, []*VulkanDescriptorSet{static, dynamic}, 1024)
	bindSets(0, []*VulkanDescriptorSet{static, dynamic}, 1024)
	must(cb.Draw(3, 1, 0, 0))
	if cb.Stats.HeapUpdates != 1 || cb.Stats.PipelineUpdates != 1 {
		t.Errorf("after first draw: heap updates = %d, pipeline updates = %d, want 1 and 1", cb.Stats.HeapUpdates, cb.Stats.PipelineUpdates)
	}

	// same sets and offsets leave the tables alone
	bindSets(0, []*VulkanDescriptorSet{static, dynamic}, 1024)
	must(cb.Draw(3, 1, 0, 0))
	if cb.Stats.HeapUpdates != 1 {
		t.Errorf("identical rebind: heap updates = %d, want 1", cb.Stats.HeapUpdates)
	}

	bindSets(1, []*VulkanDescriptorSet{dynamic}, 512)
	must(cb.Draw(3, 1, 0, 0))
	if cb.Stats.HeapUpdates != 2 {
		t.Errorf("new dynamic offset: heap updates = %d, want 2", cb.Stats.HeapUpdates)
	}

	bindSets(0, []*VulkanDescriptorSet{copied})
	must(cb.Draw(3, 1, 0, 0))
	if cb.Stats.HeapUpdates != 3 || cb.Stats.PipelineUpdates != 1 {
		t.Errorf("copied set: heap updates = %d, pipeline updates = %d, want 3 and 1", cb.Stats.HeapUpdates, cb.Stats.PipelineUpdates)
	}
	submitAndWait(t, d, cb)

	draws := sd.Draws()
	if len(draws) != 4 {
		t.Fatalf("got %d draws, want 4", len(draws))
	}
	want := [][2]uint64{
		{ub.Address(256), ub.Address(1024)},
		{ub.Address(256), ub.Address(1024)},
		{ub.Address(256), ub.Address(512)},
		{ub.Address(256), ub.Address(512)},
	}
	for i, w := range want {
		table := draws[i].Tables[param]
		if len(table) != 2 {
			t.Fatalf("draw %d: view table of %d descriptors, want 2", i, len(table))
		}
		if table[0].Address != w[0] || table[1].Address != w[1] {
			t.Errorf("draw %d: view table addresses = %#x %#x, want %#x %#x", i, table[0].Address, table[1].Address, w[0], w[1])
		}
	}
	if errs := sd.ValidationErrors(); len(errs) != 0 {
		t.Errorf("validation errors: %v", errs)
	}
}

func TestBindDescriptorSetsDynamicOffsetCount(t *testing.T) {
	d, _ := newTestDevice(t, soft.Options{})
	ld, err := NewVulkanDescriptorSetLayout([]VulkanDescriptorSetLayoutBinding{
		{Binding: 0, DescriptorType: vk.DescriptorTypeStorageBufferDynamic, DescriptorCount: 2},
	})
	if err != nil {
		t.Fatalf("NewVulkanDescriptorSetLayout: %v", err)
	}
	layout := newLayout(t, d, []*VulkanDescriptorSetLayout{ld}, nil)
	pool, err := NewVulkanDescriptorPool(d, 1, []VulkanDescriptorPoolSize{
		{Type: vk.DescriptorTypeStorageBufferDynamic, DescriptorCount: 2},
	})
	if err != nil {
		t.Fatalf("NewVulkanDescriptorPool: %v", err)
	}
	t.Cleanup(pool.Destroy)
	sets, err := pool.AllocateDescriptorSets([]*VulkanDescriptorSetLayout{ld})
	if err != nil {
		t.Fatalf("AllocateDescriptorSets: %v", err)
	}

	cb := beginCommandBuffer(t, d)
	err = cb.BindDescriptorSets(vk.PipelineBindPointGraphics, layout, 0, sets, []uint32{64})
	if !errors.Is(err, core.ErrInvalidState) {
		t.Errorf("one offset for two dynamic buffers: err = %v, want ErrInvalidState", err)
	}
	if err := cb.BindDescriptorSets(vk.PipelineBindPointGraphics, layout, 0, sets, []uint32{64, 128}); err != nil {
		t.Errorf("BindDescriptorSets: %v", err)
	}
}

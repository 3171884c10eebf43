package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/dozen/engine/renderer/meta"
	"github.com/spaghettifunk/dozen/engine/renderer/native"
	"github.com/spaghettifunk/dozen/engine/renderer/native/soft"
)

func TestIndirectSignatureStride(t *testing.T) {
	tests := []struct {
		kind indirectKind
		want uint32
	}{
		{INDIRECT_DRAW, (meta.SysvalDwords + 4) * 4},
		{INDIRECT_DRAW_INDEXED, (meta.SysvalDwords + 5) * 4},
		{INDIRECT_DRAW_FAN, (4 + meta.SysvalDwords + 5) * 4},
		{INDIRECT_DISPATCH, (meta.SysvalDwords + 3) * 4},
	}
	for _, tt := range tests {
		desc := tt.kind.desc(7)
		if desc.ByteStride != tt.want {
			t.Errorf("kind %d stride = %d, want %d", tt.kind, desc.ByteStride, tt.want)
		}
		if tt.kind != INDIRECT_DRAW_FAN && desc.Arguments[0].RootParameterIndex != 7 {
			t.Errorf("kind %d sets system values on parameter %d", tt.kind, desc.Arguments[0].RootParameterIndex)
		}
	}
}

func TestDrawIndirect(t *testing.T) {
	d, sd := newTestDevice(t, soft.Options{})
	layout := newLayout(t, d, nil, nil)
	p := newGraphicsPipeline(t, d, "triangles", layout, vk.PrimitiveTopologyTriangleList)
	// two records with a padded stride
	args := hostBuffer(t, d, vk.BufferUsageIndirectBufferBit, 0, u32s(
		3, 1, 0, 0, 0xdead,
		6, 2, 3, 1, 0xbeef,
	))

	cb := beginCommandBuffer(t, d)
	if err := cb.BindPipeline(vk.PipelineBindPointGraphics, p); err != nil {
		t.Fatalf("BindPipeline: %v", err)
	}
	if err := cb.DrawIndirect(args, 0, 2, 20); err != nil {
		t.Fatalf("DrawIndirect: %v", err)
	}
	// a direct draw after the indirect one sets its own system values again
	if err := cb.Draw(3, 1, 9, 0); err != nil {
		t.Fatalf("Draw: %v", err)
	}
	submitAndWait(t, d, cb)

	draws := sd.Draws()
	if len(draws) != 3 {
		t.Fatalf("got %d draws, want 3", len(draws))
	}
	if draws[0].Count != 3 || draws[0].InstanceCount != 1 || draws[0].StartVertex != 0 {
		t.Errorf("draw 0 = %+v", draws[0])
	}
	if draws[1].Count != 6 || draws[1].InstanceCount != 2 || draws[1].StartVertex != 3 || draws[1].StartInstance != 1 {
		t.Errorf("draw 1 = %+v", draws[1])
	}
	sysval := layout.SysvalParam()
	if sv := draws[1].Constants[sysval]; len(sv) < 3 || sv[0] != 3 || sv[1] != 1 || sv[2] != 1 {
		t.Errorf("draw 1 system values = %v, want first vertex 3, first instance 1, draw id 1", sv)
	}
	if sv := draws[2].Constants[sysval]; !equalU32(sv, []uint32{9, 0, 0, 0}) {
		t.Errorf("direct draw system values = %v, want [9 0 0 0]", sv)
	}
	if cb.Stats.RewriteDispatches != 1 {
		t.Errorf("rewrite dispatches = %d, want 1", cb.Stats.RewriteDispatches)
	}
}

func TestDrawIndexedIndirectCount(t *testing.T) {
	tests := []struct {
		name  string
		count uint32
		max   uint32
		want  int
	}{
		{"below max", 1, 3, 1},
		{"clamped to max", 5, 2, 2},
		{"zero", 0, 3, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, sd := newTestDevice(t, soft.Options{})
			layout := newLayout(t, d, nil, nil)
			p := newGraphicsPipeline(t, d, "indexed", layout, vk.PrimitiveTopologyTriangleList)
			ib := hostBuffer(t, d, vk.BufferUsageIndexBufferBit, 0, u32s(0, 1, 2, 3, 4, 5))
			args := hostBuffer(t, d, vk.BufferUsageIndirectBufferBit, 0, u32s(
				3, 1, 0, 0, 0,
				3, 1, 3, 10, 0,
				3, 1, 0, 20, 0,
			))
			count := hostBuffer(t, d, vk.BufferUsageIndirectBufferBit, 0, u32s(0xffffffff, tt.count))

			cb := beginCommandBuffer(t, d)
			if err := cb.BindPipeline(vk.PipelineBindPointGraphics, p); err != nil {
				t.Fatalf("BindPipeline: %v", err)
			}
			if err := cb.BindIndexBuffer(ib, 0, vk.IndexTypeUint32); err != nil {
				t.Fatalf("BindIndexBuffer: %v", err)
			}
			if err := cb.DrawIndexedIndirectCount(args, 0, count, 4, tt.max, 20); err != nil {
				t.Fatalf("DrawIndexedIndirectCount: %v", err)
			}
			submitAndWait(t, d, cb)

			draws := sd.Draws()
			if len(draws) != tt.want {
				t.Fatalf("got %d draws, want %d", len(draws), tt.want)
			}
			if tt.want > 1 {
				got := draws[1]
				if !got.Indexed || !equalU32(got.Indices, []uint32{3, 4, 5}) || got.BaseVertex != 10 {
					t.Errorf("draw 1 = %+v", got)
				}
				if sv := got.Constants[layout.SysvalParam()]; len(sv) < 3 || sv[0] != 10 || sv[2] != 1 {
					t.Errorf("draw 1 system values = %v, want vertex offset 10 and draw id 1", sv)
				}
			}
		})
	}
}

func TestDrawIndirectTriangleFan(t *testing.T) {
	d, sd := newTestDevice(t, soft.Options{})
	layout := newLayout(t, d, nil, nil)
	p := newGraphicsPipeline(t, d, "fan", layout, vk.PrimitiveTopologyTriangleFan)
	vb := hostBuffer(t, d, vk.BufferUsageVertexBufferBit, 12*6, nil)
	args := hostBuffer(t, d, vk.BufferUsageIndirectBufferBit, 0, u32s(
		5, 1, 0, 0,
		4, 2, 1, 0,
	))

	cb := beginCommandBuffer(t, d)
	if err := cb.BindPipeline(vk.PipelineBindPointGraphics, p); err != nil {
		t.Fatalf("BindPipeline: %v", err)
	}
	if err := cb.BindVertexBuffers(0, []*VulkanBuffer{vb}, []uint64{0}); err != nil {
		t.Fatalf("BindVertexBuffers: %v", err)
	}
	if err := cb.DrawIndirect(args, 0, 2, 0); err != nil {
		t.Fatalf("DrawIndirect: %v", err)
	}
	submitAndWait(t, d, cb)

	draws := sd.Draws()
	if len(draws) != 2 {
		t.Fatalf("got %d draws, want 2", len(draws))
	}
	if got := draws[0]; !got.Indexed || got.Count != 9 || !equalU32(got.Indices, []uint32{1, 2, 0, 2, 3, 0, 3, 4, 0}) {
		t.Errorf("draw 0 = %+v", got)
	}
	got := draws[1]
	if got.Count != 6 || got.InstanceCount != 2 || got.BaseVertex != 1 || !equalU32(got.Indices, []uint32{1, 2, 0, 2, 3, 0}) {
		t.Errorf("draw 1 = %+v", got)
	}
	if got.IndexBuffer == nil || got.IndexBuffer.Format != native.FormatR32Uint {
		t.Errorf("draw 1 index buffer = %+v", got.IndexBuffer)
	}
	if cb.Stats.RewriteDispatches != 2 {
		t.Errorf("rewrite dispatches = %d, want 2", cb.Stats.RewriteDispatches)
	}
}

func TestDrawIndexedIndirectTriangleFan(t *testing.T) {
	d, sd := newTestDevice(t, soft.Options{})
	layout := newLayout(t, d, nil, nil)
	p := newGraphicsPipeline(t, d, "fan", layout, vk.PrimitiveTopologyTriangleFan)
	ib := hostBuffer(t, d, vk.BufferUsageIndexBufferBit, 0, u16s(99, 20, 21, 22, 23, 24))
	args := hostBuffer(t, d, vk.BufferUsageIndirectBufferBit, 0, u32s(
		4, 1, 1, 0, 0,
	))

	cb := beginCommandBuffer(t, d)
	if err := cb.BindPipeline(vk.PipelineBindPointGraphics, p); err != nil {
		t.Fatalf("BindPipeline: %v", err)
	}
	if err := cb.BindIndexBuffer(ib, 2, vk.IndexTypeUint16); err != nil {
		t.Fatalf("BindIndexBuffer: %v", err)
	}
	if err := cb.DrawIndexedIndirect(args, 0, 1, 0); err != nil {
		t.Fatalf("DrawIndexedIndirect: %v", err)
	}
	submitAndWait(t, d, cb)

	draws := sd.Draws()
	if len(draws) != 1 {
		t.Fatalf("got %d draws, want 1", len(draws))
	}
	// first index 1 of the bound range: 21 is the hub
	if want := []uint32{22, 23, 21, 23, 24, 21}; !equalU32(draws[0].Indices, want) {
		t.Errorf("indices = %v, want %v", draws[0].Indices, want)
	}
}

func TestDispatchIndirect(t *testing.T) {
	d, sd := newTestDevice(t, soft.Options{})
	layout := newLayout(t, d, nil, nil)
	p := newComputePipeline(t, d, "cull", layout)
	args := hostBuffer(t, d, vk.BufferUsageIndirectBufferBit, 0, u32s(0, 0, 0, 4, 2, 1))

	cb := beginCommandBuffer(t, d)
	if err := cb.BindPipeline(vk.PipelineBindPointCompute, p); err != nil {
		t.Fatalf("BindPipeline: %v", err)
	}
	if err := cb.DispatchIndirect(args, 12); err != nil {
		t.Fatalf("DispatchIndirect: %v", err)
	}
	if err := cb.Dispatch(1, 1, 1); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	submitAndWait(t, d, cb)

	got := sd.Dispatches()
	if len(got) != 2 {
		t.Fatalf("got %d dispatches, want 2", len(got))
	}
	if got[0].Pipeline != "cull" || got[0].X != 4 || got[0].Y != 2 || got[0].Z != 1 {
		t.Errorf("dispatch 0 = %+v", got[0])
	}
	if sv := got[0].Constants[layout.SysvalParam()]; len(sv) < 3 || sv[0] != 4 || sv[1] != 2 || sv[2] != 1 {
		t.Errorf("indirect dispatch system values = %v, want the group counts", sv)
	}
	if sv := got[1].Constants[layout.SysvalParam()]; !equalU32(sv, []uint32{1, 1, 1, 0}) {
		t.Errorf("direct dispatch system values = %v, want [1 1 1 0]", sv)
	}
}

package vulkan

import (
	"encoding/binary"

	"github.com/spaghettifunk/dozen/engine/core"
	"github.com/spaghettifunk/dozen/engine/renderer/meta"
	"github.com/spaghettifunk/dozen/engine/renderer/native"
)

func (cb *VulkanCommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	p := cb.rec.bind[BIND_POINT_GRAPHICS].pipeline
	if p != nil && p.isTriangleFan() {
		return cb.drawFan(vertexCount, instanceCount, firstVertex, firstInstance)
	}
	batch, err := cb.flushGraphics([VULKAN_SYSVAL_DWORDS]uint32{firstVertex, firstInstance, 0, 0}, false)
	if err != nil {
		return err
	}
	batch.List.DrawInstanced(vertexCount, instanceCount, firstVertex, firstInstance)
	batch.hasWork = true
	cb.Stats.Draws++
	return nil
}

func (cb *VulkanCommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	if cb.rec.indexBuffer.buffer == nil {
		return core.Errorf(core.ErrInvalidState, "indexed draw without an index buffer")
	}
	p := cb.rec.bind[BIND_POINT_GRAPHICS].pipeline
	if p != nil && p.isTriangleFan() {
		return cb.drawIndexedFan(indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
	}
	batch, err := cb.flushGraphics([VULKAN_SYSVAL_DWORDS]uint32{uint32(vertexOffset), firstInstance, 0, 1}, false)
	if err != nil {
		return err
	}
	batch.List.DrawIndexedInstanced(indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
	batch.hasWork = true
	cb.Stats.Draws++
	return nil
}

// fanIndices builds the triangle list indices of a fan of vertexCount
// vertices, relative to its first vertex.
func fanIndices(vertexCount uint32) ([]byte, native.Format) {
	triangles := vertexCount - 2
	if vertexCount <= 0xffff {
		out := make([]byte, triangles*3*2)
		for t := uint32(0); t < triangles; t++ {
			binary.LittleEndian.PutUint16(out[t*6:], uint16(t+1))
			binary.LittleEndian.PutUint16(out[t*6+2:], uint16(t+2))
			binary.LittleEndian.PutUint16(out[t*6+4:], 0)
		}
		return out, native.FormatR16Uint
	}
	out := make([]byte, triangles*3*4)
	for t := uint32(0); t < triangles; t++ {
		binary.LittleEndian.PutUint32(out[t*12:], t+1)
		binary.LittleEndian.PutUint32(out[t*12+4:], t+2)
		binary.LittleEndian.PutUint32(out[t*12+8:], 0)
	}
	return out, native.FormatR32Uint
}

// drawFan draws a non-indexed fan with an index buffer generated on the
// host.
func (cb *VulkanCommandBuffer) drawFan(vertexCount, instanceCount, firstVertex, firstInstance uint32) error {
	if vertexCount < 3 {
		return nil
	}
	indices, format := fanIndices(vertexCount)
	ib, err := cb.allocateInternal(native.HeapKindUpload, uint64(len(indices)))
	if err != nil {
		return err
	}
	if err := ib.write(0, indices); err != nil {
		return core.Mark(err, core.ErrOutOfHostMemory)
	}
	batch, err := cb.flushGraphics([VULKAN_SYSVAL_DWORDS]uint32{firstVertex, firstInstance, 0, 0}, true)
	if err != nil {
		return err
	}
	batch.List.IASetIndexBuffer(&native.IndexBufferView{
		BufferLocation: ib.Address(),
		SizeInBytes:    uint32(len(indices)),
		Format:         format,
	})
	batch.List.DrawIndexedInstanced((vertexCount-2)*3, instanceCount, 0, int32(firstVertex), firstInstance)
	batch.hasWork = true
	cb.rec.ibDirty = cb.rec.indexBuffer.buffer != nil
	cb.Stats.Draws++
	return nil
}

// drawIndexedFan rewrites the fan indices of the bound index buffer into a
// triangle list on the GPU and draws from it.
func (cb *VulkanCommandBuffer) drawIndexedFan(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) error {
	if indexCount < 3 {
		return nil
	}
	triangles := indexCount - 2
	ibb := cb.rec.indexBuffer
	width := indexSize(ibb.indexType)
	va := ibb.buffer.Address(ibb.offset)
	aligned := alignDown(va, 4)
	adjust := uint32(va-aligned) / width

	out, err := cb.allocateInternal(native.HeapKindDefault, uint64(triangles)*12)
	if err != nil {
		return err
	}
	batch, err := cb.getBatch(false)
	if err != nil {
		return err
	}
	cb.transition(batch, []*internalBuffer{out}, native.ResourceStateUnorderedAccess)
	params := meta.FanRewriteParams{
		FirstIndex:      firstIndex,
		NewIndexBase:    0,
		OldIndexPacking: meta.PackIndex(width, adjust),
		TriangleCount:   triangles,
	}
	views := map[uint32]uint64{
		meta.RootParamInput:  aligned,
		meta.RootParamOutput: out.Address(),
	}
	if err := cb.metaDispatch(batch, meta.Key{Kind: meta.KindFanRewrite}, params.Dwords(), views, triangles); err != nil {
		return err
	}
	cb.transition(batch, []*internalBuffer{out}, native.ResourceStateIndexBuffer)

	batch, err = cb.flushGraphics([VULKAN_SYSVAL_DWORDS]uint32{uint32(vertexOffset), firstInstance, 0, 1}, true)
	if err != nil {
		return err
	}
	batch.List.IASetIndexBuffer(&native.IndexBufferView{
		BufferLocation: out.Address(),
		SizeInBytes:    triangles * 12,
		Format:         native.FormatR32Uint,
	})
	batch.List.DrawIndexedInstanced(triangles*3, instanceCount, 0, vertexOffset, firstInstance)
	batch.hasWork = true
	cb.rec.ibDirty = cb.rec.indexBuffer.buffer != nil
	cb.Stats.Draws++
	return nil
}

// metaDispatch runs a rewrite kernel on the compute bind point. The
// application compute state is bound again before its next dispatch.
func (cb *VulkanCommandBuffer) metaDispatch(batch *VulkanBatch, key meta.Key, params []uint32, views map[uint32]uint64, groups uint32) error {
	p, err := cb.device.meta.get(key)
	if err != nil {
		return err
	}
	cb.bindMeta(batch, p, params, views)
	batch.List.Dispatch(groups, 1, 1)
	batch.hasWork = true
	return nil
}

// bindMeta sets the root signature, pipeline, parameters and views of a
// rewrite kernel.
func (cb *VulkanCommandBuffer) bindMeta(batch *VulkanBatch, p *metaPipeline, params []uint32, views map[uint32]uint64) {
	r := cb.rec
	list := batch.List
	if r.listRoot[BIND_POINT_COMPUTE] != p.root {
		list.SetComputeRootSignature(p.root)
		r.listRoot[BIND_POINT_COMPUTE] = p.root
	}
	if r.listPSO != p.pso {
		list.SetPipelineState(p.pso)
		r.listPSO = p.pso
	}
	if params != nil {
		list.SetComputeRoot32BitConstants(meta.RootParamConstants, params, 0)
	}
	for param, va := range views {
		switch param {
		case meta.RootParamInput, meta.RootParamCount:
			list.SetComputeRootShaderResourceView(param, va)
		default:
			list.SetComputeRootUnorderedAccessView(param, va)
		}
	}
	r.bind[BIND_POINT_COMPUTE].dirty |= DIRTY_ALL
	cb.Stats.RewriteDispatches++
	core.Metrics().RewriteDispatches.Add(1)
}

func (cb *VulkanCommandBuffer) Dispatch(x, y, z uint32) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	batch, err := cb.flushCompute([VULKAN_SYSVAL_DWORDS]uint32{x, y, z, 0})
	if err != nil {
		return err
	}
	batch.List.Dispatch(x, y, z)
	batch.hasWork = true
	cb.Stats.Dispatches++
	return nil
}

// boundVertexCapacity returns the number of vertices every bound vertex
// buffer with a stride can hold, or fallback when there is none.
func (cb *VulkanCommandBuffer) boundVertexCapacity(fallback uint32) uint32 {
	p := cb.rec.bind[BIND_POINT_GRAPHICS].pipeline
	out := uint32(0)
	found := false
	for slot, vb := range cb.rec.vertexBuffers {
		stride := p.VertexStrides[slot]
		if vb.buffer == nil || stride == 0 {
			continue
		}
		n := uint32(vb.buffer.rangeSize(vb.offset, WholeSize) / uint64(stride))
		if !found || n < out {
			out, found = n, true
		}
	}
	if !found {
		return fallback
	}
	return out
}

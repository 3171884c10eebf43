package vulkan

import (
	"encoding/binary"
	"slices"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/dozen/engine/core"
	"github.com/spaghettifunk/dozen/engine/renderer/native"
)

const (
	BIND_POINT_GRAPHICS = 0
	BIND_POINT_COMPUTE  = 1
	BIND_POINT_COUNT    = 2
)

func bindPointIndex(bp vk.PipelineBindPoint) int {
	if bp == vk.PipelineBindPointCompute {
		return BIND_POINT_COMPUTE
	}
	return BIND_POINT_GRAPHICS
}

type dirtyBits uint32

const (
	DIRTY_PIPELINE dirtyBits = 1 << iota
	DIRTY_HEAPS
	DIRTY_SYSVALS
	DIRTY_PUSH_CONSTANTS

	DIRTY_ALL = DIRTY_PIPELINE | DIRTY_HEAPS | DIRTY_SYSVALS | DIRTY_PUSH_CONSTANTS
)

type bindPointState struct {
	pipeline       *VulkanPipeline
	sets           [VULKAN_MAX_SETS]*VulkanDescriptorSet
	dynamicOffsets [VULKAN_MAX_SETS][]uint32
	dirty          dirtyBits

	// shader-visible ranges the sets were last gathered into
	heaps       [DESCRIPTOR_CLASS_COUNT]*VulkanDescriptorHeap
	heapOffsets [DESCRIPTOR_CLASS_COUNT]uint32
	sysvals     [VULKAN_SYSVAL_DWORDS]uint32
}

type vertexBufferBinding struct {
	buffer *VulkanBuffer
	offset uint64
}

type indexBufferBinding struct {
	buffer    *VulkanBuffer
	offset    uint64
	indexType vk.IndexType
}

// recording is the state tracked while a command buffer records. Application
// state is kept until changed; what was set on the native list of the
// current batch is tracked separately and dropped on every new batch.
type recording struct {
	batch *VulkanBatch
	bind  [BIND_POINT_COUNT]bindPointState

	pushConstants [VULKAN_MAX_PUSH_CONSTANT_DWORDS]uint32

	vertexBuffers [VULKAN_MAX_VERTEX_BUFFERS]vertexBufferBinding
	vbDirty       uint32
	indexBuffer   indexBufferBinding
	ibDirty       bool

	viewports      []native.Viewport
	scissors       []native.Rect
	blendConstants [4]float32
	stencilRef     uint32
	viewportDirty  bool
	scissorDirty   bool
	blendDirty     bool
	stencilDirty   bool

	pass *renderPassState

	// native list state
	listRoot     [BIND_POINT_COUNT]native.RootSignature
	listPSO      native.PipelineState
	listHeaps    [DESCRIPTOR_CLASS_COUNT]native.DescriptorHeap
	listTopology native.PrimitiveTopology
	topologySet  bool
}

func newRecording() *recording {
	return &recording{}
}

// invalidateList forces every piece of bound state to be set again on the
// next draw or dispatch.
func (r *recording) invalidateList() {
	r.listRoot = [BIND_POINT_COUNT]native.RootSignature{}
	r.listPSO = nil
	r.listHeaps = [DESCRIPTOR_CLASS_COUNT]native.DescriptorHeap{}
	r.topologySet = false
	for i := range r.bind {
		r.bind[i].dirty |= DIRTY_ALL
	}
	for slot, vb := range r.vertexBuffers {
		if vb.buffer != nil {
			r.vbDirty |= 1 << slot
		}
	}
	r.ibDirty = r.indexBuffer.buffer != nil
	r.viewportDirty = len(r.viewports) > 0
	r.scissorDirty = len(r.scissors) > 0
	r.blendDirty = true
	r.stencilDirty = true
	if r.pass != nil {
		r.pass.targetsDirty = true
	}
}

func (cb *VulkanCommandBuffer) BindPipeline(bindPoint vk.PipelineBindPoint, pipeline *VulkanPipeline) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	if pipeline == nil || pipeline.BindPoint != bindPoint {
		return core.Errorf(core.ErrInvalidState, "pipeline does not match bind point %d", bindPoint)
	}
	r := cb.rec
	st := &r.bind[bindPointIndex(bindPoint)]
	if st.pipeline == pipeline {
		return nil
	}
	old := st.pipeline
	st.pipeline = pipeline
	st.dirty |= DIRTY_PIPELINE
	if old == nil || old.Layout != pipeline.Layout {
		st.dirty |= DIRTY_HEAPS | DIRTY_SYSVALS | DIRTY_PUSH_CONSTANTS
	}
	if bindPoint != vk.PipelineBindPointGraphics {
		return nil
	}

	if !pipeline.IsDynamic(vk.DynamicStateViewport) && len(pipeline.Viewports) > 0 {
		r.viewports = r.viewports[:0]
		for _, v := range pipeline.Viewports {
			r.viewports = append(r.viewports, translateViewport(v))
		}
		r.viewportDirty = true
	}
	if !pipeline.IsDynamic(vk.DynamicStateScissor) && len(pipeline.Scissors) > 0 {
		r.scissors = r.scissors[:0]
		for _, s := range pipeline.Scissors {
			r.scissors = append(r.scissors, translateRect(s))
		}
		r.scissorDirty = true
	}
	if !pipeline.IsDynamic(vk.DynamicStateBlendConstants) {
		r.blendConstants = pipeline.BlendConstants
		r.blendDirty = true
	}
	if !pipeline.IsDynamic(vk.DynamicStateStencilReference) {
		r.stencilRef = pipeline.StencilReference
		r.stencilDirty = true
	}
	// strides come from the pipeline
	for slot, vb := range r.vertexBuffers {
		if vb.buffer != nil {
			r.vbDirty |= 1 << slot
		}
	}
	return nil
}

func (cb *VulkanCommandBuffer) BindDescriptorSets(bindPoint vk.PipelineBindPoint, layout *VulkanPipelineLayout, firstSet uint32, sets []*VulkanDescriptorSet, dynamicOffsets []uint32) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	if firstSet+uint32(len(sets)) > VULKAN_MAX_SETS {
		return core.Errorf(core.ErrInvalidState, "binding sets %d..%d, at most %d supported", firstSet, firstSet+uint32(len(sets)), VULKAN_MAX_SETS)
	}
	if layout != nil && firstSet+uint32(len(sets)) > uint32(len(layout.Sets)) {
		return core.Errorf(core.ErrInvalidState, "binding sets %d..%d to a layout of %d sets", firstSet, firstSet+uint32(len(sets)), len(layout.Sets))
	}
	st := &cb.rec.bind[bindPointIndex(bindPoint)]
	consumed := 0
	for i, s := range sets {
		idx := firstSet + uint32(i)
		var dyn []uint32
		if s != nil {
			n := s.Layout.dynamicElements()
			if consumed+n > len(dynamicOffsets) {
				return core.Errorf(core.ErrInvalidState, "set %d needs %d dynamic offsets, %d left", idx, n, len(dynamicOffsets)-consumed)
			}
			dyn = dynamicOffsets[consumed : consumed+n]
			consumed += n
		}
		if st.sets[idx] == s && slices.Equal(st.dynamicOffsets[idx], dyn) {
			continue
		}
		st.sets[idx] = s
		st.dynamicOffsets[idx] = slices.Clone(dyn)
		st.dirty |= DIRTY_HEAPS
	}
	return nil
}

// PushConstants updates the push constant block. Offset and size are in
// bytes and must be multiples of 4.
func (cb *VulkanCommandBuffer) PushConstants(layout *VulkanPipelineLayout, stages vk.ShaderStageFlags, offset uint32, values []byte) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	if offset%4 != 0 || len(values)%4 != 0 {
		return core.Errorf(core.ErrInvalidState, "push constant range %d+%d is not dword aligned", offset, len(values))
	}
	first := offset / 4
	if first+uint32(len(values)/4) > VULKAN_MAX_PUSH_CONSTANT_DWORDS {
		return core.Errorf(core.ErrInvalidState, "push constant range %d+%d out of bounds", offset, len(values))
	}
	r := cb.rec
	for i := 0; i < len(values)/4; i++ {
		r.pushConstants[first+uint32(i)] = binary.LittleEndian.Uint32(values[i*4:])
	}
	for i := range r.bind {
		r.bind[i].dirty |= DIRTY_PUSH_CONSTANTS
	}
	return nil
}

func (cb *VulkanCommandBuffer) BindVertexBuffers(firstBinding uint32, buffers []*VulkanBuffer, offsets []uint64) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	if firstBinding+uint32(len(buffers)) > VULKAN_MAX_VERTEX_BUFFERS || len(offsets) < len(buffers) {
		return core.Errorf(core.ErrInvalidState, "invalid vertex buffer range %d+%d", firstBinding, len(buffers))
	}
	r := cb.rec
	for i, b := range buffers {
		slot := firstBinding + uint32(i)
		r.vertexBuffers[slot] = vertexBufferBinding{buffer: b, offset: offsets[i]}
		r.vbDirty |= 1 << slot
	}
	return nil
}

func (cb *VulkanCommandBuffer) BindIndexBuffer(buffer *VulkanBuffer, offset uint64, indexType vk.IndexType) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	cb.rec.indexBuffer = indexBufferBinding{buffer: buffer, offset: offset, indexType: indexType}
	cb.rec.ibDirty = true
	return nil
}

func (cb *VulkanCommandBuffer) SetViewport(first uint32, viewports []vk.Viewport) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	if first+uint32(len(viewports)) > VULKAN_MAX_VIEWPORTS {
		return core.Errorf(core.ErrInvalidState, "viewport range %d+%d out of bounds", first, len(viewports))
	}
	r := cb.rec
	for uint32(len(r.viewports)) < first+uint32(len(viewports)) {
		r.viewports = append(r.viewports, native.Viewport{})
	}
	for i, v := range viewports {
		r.viewports[first+uint32(i)] = translateViewport(v)
	}
	r.viewportDirty = true
	return nil
}

func (cb *VulkanCommandBuffer) SetScissor(first uint32, scissors []vk.Rect2D) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	if first+uint32(len(scissors)) > VULKAN_MAX_VIEWPORTS {
		return core.Errorf(core.ErrInvalidState, "scissor range %d+%d out of bounds", first, len(scissors))
	}
	r := cb.rec
	for uint32(len(r.scissors)) < first+uint32(len(scissors)) {
		r.scissors = append(r.scissors, native.Rect{})
	}
	for i, s := range scissors {
		r.scissors[first+uint32(i)] = translateRect(s)
	}
	r.scissorDirty = true
	return nil
}

func (cb *VulkanCommandBuffer) SetBlendConstants(constants [4]float32) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	cb.rec.blendConstants = constants
	cb.rec.blendDirty = true
	return nil
}

// SetStencilReference sets the reference of both faces; the native API has a
// single value.
func (cb *VulkanCommandBuffer) SetStencilReference(faces vk.StencilFaceFlags, reference uint32) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	cb.rec.stencilRef = reference
	cb.rec.stencilDirty = true
	return nil
}

// flushGraphics brings the native list up to date with the bound graphics
// state before a draw. When fanIndexBuffer is set the caller binds its own
// index buffer.
func (cb *VulkanCommandBuffer) flushGraphics(sysvals [VULKAN_SYSVAL_DWORDS]uint32, fanIndexBuffer bool) (*VulkanBatch, error) {
	r := cb.rec
	if cb.device.Config.Debug.ForceBatchSplit && r.batch != nil && r.batch.hasWork {
		if err := cb.closeBatch(); err != nil {
			return nil, err
		}
	}
	st := &r.bind[BIND_POINT_GRAPHICS]
	p := st.pipeline
	if p == nil {
		return nil, core.Errorf(core.ErrInvalidState, "draw without a graphics pipeline")
	}
	batch, err := cb.getBatch(false)
	if err != nil {
		return nil, err
	}
	list := batch.List
	layout := p.Layout

	if r.listRoot[BIND_POINT_GRAPHICS] != layout.Root {
		list.SetGraphicsRootSignature(layout.Root)
		r.listRoot[BIND_POINT_GRAPHICS] = layout.Root
		st.dirty |= DIRTY_HEAPS | DIRTY_SYSVALS | DIRTY_PUSH_CONSTANTS
	}
	cb.flushPipeline(list, st)
	if st.dirty&DIRTY_HEAPS != 0 {
		if err := cb.updateHeaps(batch, BIND_POINT_GRAPHICS); err != nil {
			return nil, err
		}
	}
	if st.dirty&DIRTY_SYSVALS != 0 || st.sysvals != sysvals {
		list.SetGraphicsRoot32BitConstants(layout.SysvalParam(), sysvals[:], 0)
		st.sysvals = sysvals
		st.dirty &^= DIRTY_SYSVALS
	}
	if st.dirty&DIRTY_PUSH_CONSTANTS != 0 {
		if param, ok := layout.PushConstantParam(); ok {
			list.SetGraphicsRoot32BitConstants(param, r.pushConstants[:layout.PushConstantDwords], 0)
		}
		st.dirty &^= DIRTY_PUSH_CONSTANTS
	}

	topology := translateTopology(p.Topology)
	if !r.topologySet || r.listTopology != topology {
		list.IASetPrimitiveTopology(topology)
		r.listTopology = topology
		r.topologySet = true
	}
	for slot := uint32(0); r.vbDirty != 0 && slot < VULKAN_MAX_VERTEX_BUFFERS; slot++ {
		if r.vbDirty&(1<<slot) == 0 {
			continue
		}
		r.vbDirty &^= 1 << slot
		vb := r.vertexBuffers[slot]
		if vb.buffer == nil {
			continue
		}
		list.IASetVertexBuffers(slot, []native.VertexBufferView{{
			BufferLocation: vb.buffer.Address(vb.offset),
			SizeInBytes:    uint32(vb.buffer.rangeSize(vb.offset, WholeSize)),
			StrideInBytes:  p.VertexStrides[slot],
		}})
	}
	if r.ibDirty && !fanIndexBuffer && r.indexBuffer.buffer != nil {
		ib := r.indexBuffer
		list.IASetIndexBuffer(&native.IndexBufferView{
			BufferLocation: ib.buffer.Address(ib.offset),
			SizeInBytes:    uint32(ib.buffer.rangeSize(ib.offset, WholeSize)),
			Format:         translateIndexFormat(ib.indexType),
		})
		r.ibDirty = false
	}
	if r.viewportDirty && len(r.viewports) > 0 {
		list.RSSetViewports(slices.Clone(r.viewports))
		r.viewportDirty = false
	}
	if r.scissorDirty && len(r.scissors) > 0 {
		list.RSSetScissorRects(slices.Clone(r.scissors))
		r.scissorDirty = false
	}
	if r.blendDirty {
		list.OMSetBlendFactor(r.blendConstants)
		r.blendDirty = false
	}
	if r.stencilDirty {
		list.OMSetStencilRef(r.stencilRef)
		r.stencilDirty = false
	}
	if r.pass != nil && r.pass.targetsDirty {
		r.pass.bindTargets(list)
	}
	return batch, nil
}

// flushCompute brings the native list up to date before a dispatch.
func (cb *VulkanCommandBuffer) flushCompute(sysvals [VULKAN_SYSVAL_DWORDS]uint32) (*VulkanBatch, error) {
	r := cb.rec
	st := &r.bind[BIND_POINT_COMPUTE]
	p := st.pipeline
	if p == nil {
		return nil, core.Errorf(core.ErrInvalidState, "dispatch without a compute pipeline")
	}
	batch, err := cb.getBatch(false)
	if err != nil {
		return nil, err
	}
	list := batch.List
	layout := p.Layout

	if r.listRoot[BIND_POINT_COMPUTE] != layout.Root {
		list.SetComputeRootSignature(layout.Root)
		r.listRoot[BIND_POINT_COMPUTE] = layout.Root
		st.dirty |= DIRTY_HEAPS | DIRTY_SYSVALS | DIRTY_PUSH_CONSTANTS
	}
	cb.flushPipeline(list, st)
	if st.dirty&DIRTY_HEAPS != 0 {
		if err := cb.updateHeaps(batch, BIND_POINT_COMPUTE); err != nil {
			return nil, err
		}
	}
	if st.dirty&DIRTY_SYSVALS != 0 || st.sysvals != sysvals {
		list.SetComputeRoot32BitConstants(layout.SysvalParam(), sysvals[:], 0)
		st.sysvals = sysvals
		st.dirty &^= DIRTY_SYSVALS
	}
	if st.dirty&DIRTY_PUSH_CONSTANTS != 0 {
		if param, ok := layout.PushConstantParam(); ok {
			list.SetComputeRoot32BitConstants(param, r.pushConstants[:layout.PushConstantDwords], 0)
		}
		st.dirty &^= DIRTY_PUSH_CONSTANTS
	}
	return batch, nil
}

func (cb *VulkanCommandBuffer) flushPipeline(list native.CommandList, st *bindPointState) {
	r := cb.rec
	if st.dirty&DIRTY_PIPELINE != 0 || r.listPSO != st.pipeline.Native {
		list.SetPipelineState(st.pipeline.Native)
		r.listPSO = st.pipeline.Native
		cb.Stats.PipelineUpdates++
		core.Metrics().PipelineUpdates.Add(1)
	}
	st.dirty &^= DIRTY_PIPELINE
}

// updateHeaps gathers the descriptors of the bound sets into a fresh range
// of the shader-visible heaps and points the descriptor tables at it.
func (cb *VulkanCommandBuffer) updateHeaps(batch *VulkanBatch, bp int) error {
	r := cb.rec
	st := &r.bind[bp]
	layout := st.pipeline.Layout

	var heaps [DESCRIPTOR_CLASS_COUNT]*VulkanDescriptorHeap
	var offsets [DESCRIPTOR_CLASS_COUNT]uint32
	for c := range heaps {
		if layout.DescCount[c] == 0 {
			continue
		}
		h, off, err := cb.heapPools[c].allocate(layout.DescCount[c])
		if err != nil {
			return err
		}
		heaps[c], offsets[c] = h, off
	}

	for i, ls := range layout.Sets {
		s := st.sets[i]
		if ls.Layout == nil || s == nil {
			continue
		}
		s.pool.heapLock.RLock()
		for c := range heaps {
			n := min(ls.Layout.SlotCount[c], s.Layout.SlotCount[c])
			if heaps[c] == nil || n == 0 {
				continue
			}
			copyDescriptors(cb.device, n, heaps[c], offsets[c]+ls.HeapOffset[c], s.pool.heap(DescriptorClass(c)), s.heapOffset[c])
		}
		if heaps[DESCRIPTOR_CLASS_VIEW] != nil {
			writeDynamicDescriptors(heaps[DESCRIPTOR_CLASS_VIEW], offsets[DESCRIPTOR_CLASS_VIEW]+ls.DynamicOffset, s, st.dynamicOffsets[i])
		}
		s.pool.heapLock.RUnlock()
	}

	list := batch.List
	want := r.listHeaps
	for c, h := range heaps {
		if h != nil {
			want[c] = h.Native
		}
	}
	if want != r.listHeaps {
		bound := make([]native.DescriptorHeap, 0, len(want))
		for _, h := range want {
			if h != nil {
				bound = append(bound, h)
			}
		}
		list.SetDescriptorHeaps(bound)
		r.listHeaps = want
		// tables of the other bind point point into the previous heaps
		other := &r.bind[1-bp]
		if other.pipeline != nil {
			other.dirty |= DIRTY_HEAPS
		}
	}
	for c, h := range heaps {
		if h == nil {
			continue
		}
		param, ok := layout.TableParam(DescriptorClass(c))
		if !ok {
			continue
		}
		if bp == BIND_POINT_COMPUTE {
			list.SetComputeRootDescriptorTable(param, h.GPUHandle(offsets[c]))
		} else {
			list.SetGraphicsRootDescriptorTable(param, h.GPUHandle(offsets[c]))
		}
	}

	st.heaps, st.heapOffsets = heaps, offsets
	st.dirty &^= DIRTY_HEAPS
	cb.Stats.HeapUpdates++
	core.Metrics().HeapUpdates.Add(1)
	return nil
}

// writeDynamicDescriptors writes the dynamic buffers of s at base, with the
// dynamic offsets applied. Called with the set's pool heap lock held.
func writeDynamicDescriptors(heap *VulkanDescriptorHeap, base uint32, s *VulkanDescriptorSet, offsets []uint32) {
	element := 0
	for i := range s.Layout.Bindings {
		b := &s.Layout.Bindings[i]
		if b.slots.dynamic == 0 {
			continue
		}
		for k := range viewKinds(b) {
			for e := uint32(0); e < b.DescriptorCount; e++ {
				slot := b.dynamicOffset + uint32(k)*b.DescriptorCount + e
				dd := s.dynamic[slot]
				if dd.buffer == nil {
					continue
				}
				var dyn uint64
				if element+int(e) < len(offsets) {
					dyn = uint64(offsets[element+int(e)])
				}
				heap.Write(base+slot, bufferDescriptor(dd.kind, dd.buffer, dd.offset+dyn, dd.size))
			}
		}
		element += int(b.DescriptorCount)
	}
}

package vulkan

import (
	"github.com/spaghettifunk/dozen/engine/core"
	"github.com/spaghettifunk/dozen/engine/renderer/meta"
	"github.com/spaghettifunk/dozen/engine/renderer/native"
)

type indirectKind uint8

const (
	INDIRECT_DRAW indirectKind = iota
	INDIRECT_DRAW_INDEXED
	INDIRECT_DRAW_FAN
	INDIRECT_DISPATCH
)

// Fan draws without index buffer size the rewritten index buffer from the
// bound vertex buffers, or from this many vertices when there is none.
const fanFallbackVertexCount = 1 << 16

func (k indirectKind) desc(sysvalParam uint32) native.CommandSignatureDesc {
	sysvals := native.IndirectArgumentDesc{
		Type:                native.IndirectArgumentTypeConstant,
		RootParameterIndex:  sysvalParam,
		Num32BitValuesToSet: meta.SysvalDwords,
	}
	var args []native.IndirectArgumentDesc
	switch k {
	case INDIRECT_DRAW:
		args = []native.IndirectArgumentDesc{sysvals, {Type: native.IndirectArgumentTypeDraw}}
	case INDIRECT_DRAW_INDEXED:
		args = []native.IndirectArgumentDesc{sysvals, {Type: native.IndirectArgumentTypeDrawIndexed}}
	case INDIRECT_DRAW_FAN:
		args = []native.IndirectArgumentDesc{{Type: native.IndirectArgumentTypeIndexBufferView}, sysvals, {Type: native.IndirectArgumentTypeDrawIndexed}}
	case INDIRECT_DISPATCH:
		args = []native.IndirectArgumentDesc{sysvals, {Type: native.IndirectArgumentTypeDispatch}}
	}
	var stride uint32
	for _, a := range args {
		stride += a.Size()
	}
	return native.CommandSignatureDesc{ByteStride: stride, Arguments: args}
}

// signature returns the command signature of kind for the layout.
func (pl *VulkanPipelineLayout) signature(device *VulkanDevice, kind indirectKind) (native.CommandSignature, error) {
	pl.sigMu.Lock()
	defer pl.sigMu.Unlock()
	if sig, ok := pl.signatures[kind]; ok {
		return sig, nil
	}
	sig, err := device.Native.CreateCommandSignature(kind.desc(pl.sysvalParam), pl.Root)
	if err != nil {
		return nil, resultError("failed to create command signature", err)
	}
	pl.signatures[kind] = sig
	return sig, nil
}

func (cb *VulkanCommandBuffer) DrawIndirect(buffer *VulkanBuffer, offset uint64, drawCount, stride uint32) error {
	return cb.drawIndirect(false, buffer, offset, nil, 0, drawCount, stride)
}

func (cb *VulkanCommandBuffer) DrawIndexedIndirect(buffer *VulkanBuffer, offset uint64, drawCount, stride uint32) error {
	return cb.drawIndirect(true, buffer, offset, nil, 0, drawCount, stride)
}

func (cb *VulkanCommandBuffer) DrawIndirectCount(buffer *VulkanBuffer, offset uint64, countBuffer *VulkanBuffer, countOffset uint64, maxDrawCount, stride uint32) error {
	return cb.drawIndirect(false, buffer, offset, countBuffer, countOffset, maxDrawCount, stride)
}

func (cb *VulkanCommandBuffer) DrawIndexedIndirectCount(buffer *VulkanBuffer, offset uint64, countBuffer *VulkanBuffer, countOffset uint64, maxDrawCount, stride uint32) error {
	return cb.drawIndirect(true, buffer, offset, countBuffer, countOffset, maxDrawCount, stride)
}

// drawIndirect rewrites the application draw records into native records
// carrying the system values, then executes them. Triangle fans also get
// their index buffers rewritten, one range per draw.
func (cb *VulkanCommandBuffer) drawIndirect(indexed bool, buffer *VulkanBuffer, offset uint64, countBuffer *VulkanBuffer, countOffset uint64, maxDraws, stride uint32) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	r := cb.rec
	p := r.bind[BIND_POINT_GRAPHICS].pipeline
	if p == nil {
		return core.Errorf(core.ErrInvalidState, "draw without a graphics pipeline")
	}
	if indexed && r.indexBuffer.buffer == nil {
		return core.Errorf(core.ErrInvalidState, "indexed draw without an index buffer")
	}
	if maxDraws == 0 {
		return nil
	}
	if stride == 0 {
		stride = meta.SourceRecordSize(indexed)
	}
	fan := p.isTriangleFan()

	key := meta.Key{Kind: meta.KindDrawRewrite, Indexed: indexed, TriangleFan: fan, CountBuffer: countBuffer != nil}
	var oldIndexVA uint64
	var maxTriangles uint32
	if fan {
		if indexed {
			ib := r.indexBuffer
			width := indexSize(ib.indexType)
			va := ib.buffer.Address(ib.offset)
			oldIndexVA = alignDown(va, 4)
			key.OldIndexPacking = meta.PackIndex(width, uint32(va-oldIndexVA)/width)
			maxTriangles = uint32(ib.buffer.rangeSize(ib.offset, WholeSize) / uint64(width))
		} else {
			key.OldIndexPacking = meta.PackIndex(0, 0)
			maxTriangles = cb.boundVertexCapacity(fanFallbackVertexCount)
		}
		maxTriangles = max(maxTriangles, 3) - 2
	}

	execStride := meta.ExecStrideDwords(key) * 4
	execSize := uint64(maxDraws) * uint64(execStride)
	countHeader := execSize
	if countBuffer != nil {
		execSize += 4
	}
	exec, err := cb.allocateInternal(native.HeapKindDefault, execSize)
	if err != nil {
		return err
	}
	var fanIB, fanExec *internalBuffer
	fanStride := max(maxTriangles, 1) * 12
	if fan {
		if fanIB, err = cb.allocateInternal(native.HeapKindDefault, uint64(maxDraws)*uint64(fanStride)); err != nil {
			return err
		}
		if fanExec, err = cb.allocateInternal(native.HeapKindDefault, uint64(maxDraws)*meta.FanExecDwords*4); err != nil {
			return err
		}
	}

	batch, err := cb.getBatch(false)
	if err != nil {
		return err
	}
	cb.transition(batch, []*internalBuffer{exec, fanExec}, native.ResourceStateUnorderedAccess)

	params := meta.DrawRewriteParams{DrawBufStride: stride}
	views := map[uint32]uint64{
		meta.RootParamInput:   buffer.Address(offset),
		meta.RootParamOutput:  exec.Address(),
		meta.RootParamCount:   exec.Address(),
		meta.RootParamFanExec: exec.Address(),
	}
	if countBuffer != nil {
		views[meta.RootParamCount] = countBuffer.Address(countOffset)
	}
	if fan {
		params.FanIndexBufStride = fanStride
		params.FanIndexBufStart = fanIB.Address()
		views[meta.RootParamFanExec] = fanExec.Address()
	}
	if err := cb.metaDispatch(batch, key, params.Dwords(), views, maxDraws); err != nil {
		return err
	}
	cb.transition(batch, []*internalBuffer{exec, fanExec}, native.ResourceStateIndirectArgument)

	var countRes native.Resource
	if countBuffer != nil {
		countRes = exec.Resource
	}
	if fan {
		if err := cb.rewriteFans(batch, fanIB, fanExec, oldIndexVA, maxDraws, countRes, countHeader); err != nil {
			return err
		}
	}

	var isIndexed uint32
	if indexed {
		isIndexed = 1
	}
	batch, err = cb.flushGraphics([VULKAN_SYSVAL_DWORDS]uint32{0, 0, 0, isIndexed}, fan)
	if err != nil {
		return err
	}
	kind := INDIRECT_DRAW
	switch {
	case fan:
		kind = INDIRECT_DRAW_FAN
	case indexed:
		kind = INDIRECT_DRAW_INDEXED
	}
	sig, err := p.Layout.signature(cb.device, kind)
	if err != nil {
		return err
	}
	batch.List.ExecuteIndirect(sig, maxDraws, exec.Resource, 0, countRes, countHeader)
	batch.hasWork = true
	if fan {
		r.ibDirty = r.indexBuffer.buffer != nil
	}
	// the records overwrite the system values
	r.bind[BIND_POINT_GRAPHICS].dirty |= DIRTY_SYSVALS
	cb.Stats.Draws++
	return nil
}

// rewriteFans runs the fan rewrite of every draw, with the parameters and
// group counts written by the draw rewrite.
func (cb *VulkanCommandBuffer) rewriteFans(batch *VulkanBatch, fanIB, fanExec *internalBuffer, oldIndexVA uint64, maxDraws uint32, count native.Resource, countOffset uint64) error {
	p, err := cb.device.meta.get(meta.Key{Kind: meta.KindFanRewrite})
	if err != nil {
		return err
	}
	sig, err := cb.device.meta.fanDispatchSignature()
	if err != nil {
		return err
	}
	cb.transition(batch, []*internalBuffer{fanIB}, native.ResourceStateUnorderedAccess)
	input := oldIndexVA
	if input == 0 {
		// non-indexed fans generate their indices, the input is never read
		input = fanIB.Address()
	}
	cb.bindMeta(batch, p, nil, map[uint32]uint64{
		meta.RootParamInput:  input,
		meta.RootParamOutput: fanIB.Address(),
	})
	batch.List.ExecuteIndirect(sig, maxDraws, fanExec.Resource, 0, count, countOffset)
	cb.transition(batch, []*internalBuffer{fanIB}, native.ResourceStateIndexBuffer)
	return nil
}

// DispatchIndirect copies the group counts next to a copy used as system
// values and executes the dispatch from it.
func (cb *VulkanCommandBuffer) DispatchIndirect(buffer *VulkanBuffer, offset uint64) error {
	if err := cb.checkRecording(); err != nil {
		return err
	}
	p := cb.rec.bind[BIND_POINT_COMPUTE].pipeline
	if p == nil {
		return core.Errorf(core.ErrInvalidState, "dispatch without a compute pipeline")
	}
	exec, err := cb.allocateInternal(native.HeapKindDefault, 2*native.DispatchArgumentsSize)
	if err != nil {
		return err
	}
	batch, err := cb.getBatch(false)
	if err != nil {
		return err
	}
	cb.transition(batch, []*internalBuffer{exec}, native.ResourceStateCopyDest)
	batch.List.CopyBufferRegion(exec.Resource, 0, buffer.Resource, offset, native.DispatchArgumentsSize)
	batch.List.CopyBufferRegion(exec.Resource, native.DispatchArgumentsSize, buffer.Resource, offset, native.DispatchArgumentsSize)
	cb.transition(batch, []*internalBuffer{exec}, native.ResourceStateIndirectArgument)

	batch, err = cb.flushCompute([VULKAN_SYSVAL_DWORDS]uint32{})
	if err != nil {
		return err
	}
	sig, err := p.Layout.signature(cb.device, INDIRECT_DISPATCH)
	if err != nil {
		return err
	}
	batch.List.ExecuteIndirect(sig, 1, exec.Resource, 0, nil, 0)
	batch.hasWork = true
	cb.rec.bind[BIND_POINT_COMPUTE].dirty |= DIRTY_SYSVALS
	cb.Stats.Dispatches++
	return nil
}

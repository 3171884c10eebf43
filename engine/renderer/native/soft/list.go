package soft

import (
	"github.com/spaghettifunk/dozen/engine/core"
	"github.com/spaghettifunk/dozen/engine/renderer/native"
)

// Op is one recorded command. Args holds one of the Op* structs below.
type Op struct {
	Name string
	Args interface{}
}

type OpBarrier struct{ Barriers []native.ResourceBarrier }

type OpSetHeaps struct{ Heaps []native.DescriptorHeap }

type OpRootSignature struct {
	Compute bool
	Sig     native.RootSignature
}

type OpPipeline struct{ PSO native.PipelineState }

type OpRootTable struct {
	Compute bool
	Param   uint32
	Base    uint64
}

type OpRootConstants struct {
	Compute    bool
	Param      uint32
	Values     []uint32
	DestOffset uint32
}

type OpRootView struct {
	Param   uint32
	Address uint64
	UAV     bool
}

type OpTopology struct{ Topology native.PrimitiveTopology }

type OpIndexBuffer struct{ View *native.IndexBufferView }

type OpVertexBuffers struct {
	StartSlot uint32
	Views     []native.VertexBufferView
}

type OpViewports struct{ Viewports []native.Viewport }

type OpScissors struct{ Rects []native.Rect }

type OpRenderTargets struct {
	RTVs []native.CPUDescriptorHandle
	DSV  *native.CPUDescriptorHandle
}

type OpBlendFactor struct{ Factor [4]float32 }

type OpStencilRef struct{ Ref uint32 }

type OpDraw struct {
	VertexCount, InstanceCount, StartVertex, StartInstance uint32
}

type OpDrawIndexed struct {
	IndexCount, InstanceCount, StartIndex uint32
	BaseVertex                            int32
	StartInstance                         uint32
}

type OpDispatch struct{ X, Y, Z uint32 }

type OpExecuteIndirect struct {
	Signature   native.CommandSignature
	MaxCount    uint32
	Args        native.Resource
	ArgsOffset  uint64
	Count       native.Resource
	CountOffset uint64
}

type OpCopyBuffer struct {
	Dst       native.Resource
	DstOffset uint64
	Src       native.Resource
	SrcOffset uint64
	Size      uint64
}

type OpCopyTexture struct {
	Dst              native.TextureCopyLocation
	DstX, DstY, DstZ uint32
	Src              native.TextureCopyLocation
	SrcBox           *native.Box
}

type OpClearRTV struct {
	RTV   native.CPUDescriptorHandle
	Color [4]float32
	Rects []native.Rect
}

type OpClearDSV struct {
	DSV     native.CPUDescriptorHandle
	Flags   native.ClearFlags
	Depth   float32
	Stencil uint8
	Rects   []native.Rect
}

type OpQuery struct {
	Heap  native.QueryHeap
	Type  native.QueryType
	Index uint32
	Begin bool
}

type OpResolveQuery struct {
	Heap         native.QueryHeap
	Type         native.QueryType
	Start, Count uint32
	Dst          native.Resource
	DstOffset    uint64
}

type commandList struct {
	dev    *Device
	ops    []Op
	closed bool
}

// Trace returns the commands recorded on a list created by a soft Device.
func Trace(list native.CommandList) []Op {
	return append([]Op(nil), list.(*commandList).ops...)
}

// CountOps returns how many commands named name were recorded on list.
func CountOps(list native.CommandList, name string) int {
	n := 0
	for _, op := range list.(*commandList).ops {
		if op.Name == name {
			n++
		}
	}
	return n
}

func (l *commandList) record(name string, args interface{}) {
	if l.closed {
		core.LogError("soft: %s recorded on a closed command list", name)
		return
	}
	l.ops = append(l.ops, Op{Name: name, Args: args})
}

func (l *commandList) Close() error {
	l.dev.mu.Lock()
	fail := l.dev.failCloses > 0
	if fail {
		l.dev.failCloses--
	}
	l.dev.mu.Unlock()
	if fail {
		return core.Errorf(core.ErrOutOfHostMemory, "soft: command list close failed")
	}
	if l.closed {
		return core.Errorf(core.ErrInvalidState, "soft: command list closed twice")
	}
	l.closed = true
	return nil
}

func (l *commandList) ResourceBarrier(barriers []native.ResourceBarrier) {
	l.record("ResourceBarrier", OpBarrier{Barriers: append([]native.ResourceBarrier(nil), barriers...)})
}

func (l *commandList) SetDescriptorHeaps(heaps []native.DescriptorHeap) {
	l.record("SetDescriptorHeaps", OpSetHeaps{Heaps: append([]native.DescriptorHeap(nil), heaps...)})
}

func (l *commandList) SetGraphicsRootSignature(sig native.RootSignature) {
	l.record("SetGraphicsRootSignature", OpRootSignature{Sig: sig})
}

func (l *commandList) SetComputeRootSignature(sig native.RootSignature) {
	l.record("SetComputeRootSignature", OpRootSignature{Compute: true, Sig: sig})
}

func (l *commandList) SetPipelineState(pso native.PipelineState) {
	l.record("SetPipelineState", OpPipeline{PSO: pso})
}

func (l *commandList) SetGraphicsRootDescriptorTable(param uint32, base uint64) {
	l.record("SetGraphicsRootDescriptorTable", OpRootTable{Param: param, Base: base})
}

func (l *commandList) SetComputeRootDescriptorTable(param uint32, base uint64) {
	l.record("SetComputeRootDescriptorTable", OpRootTable{Compute: true, Param: param, Base: base})
}

func (l *commandList) SetGraphicsRoot32BitConstants(param uint32, values []uint32, destOffset uint32) {
	l.record("SetGraphicsRoot32BitConstants", OpRootConstants{Param: param, Values: append([]uint32(nil), values...), DestOffset: destOffset})
}

func (l *commandList) SetComputeRoot32BitConstants(param uint32, values []uint32, destOffset uint32) {
	l.record("SetComputeRoot32BitConstants", OpRootConstants{Compute: true, Param: param, Values: append([]uint32(nil), values...), DestOffset: destOffset})
}

func (l *commandList) SetComputeRootShaderResourceView(param uint32, address uint64) {
	l.record("SetComputeRootShaderResourceView", OpRootView{Param: param, Address: address})
}

func (l *commandList) SetComputeRootUnorderedAccessView(param uint32, address uint64) {
	l.record("SetComputeRootUnorderedAccessView", OpRootView{Param: param, Address: address, UAV: true})
}

func (l *commandList) IASetPrimitiveTopology(topology native.PrimitiveTopology) {
	l.record("IASetPrimitiveTopology", OpTopology{Topology: topology})
}

func (l *commandList) IASetIndexBuffer(view *native.IndexBufferView) {
	var v *native.IndexBufferView
	if view != nil {
		c := *view
		v = &c
	}
	l.record("IASetIndexBuffer", OpIndexBuffer{View: v})
}

func (l *commandList) IASetVertexBuffers(startSlot uint32, views []native.VertexBufferView) {
	l.record("IASetVertexBuffers", OpVertexBuffers{StartSlot: startSlot, Views: append([]native.VertexBufferView(nil), views...)})
}

func (l *commandList) RSSetViewports(viewports []native.Viewport) {
	l.record("RSSetViewports", OpViewports{Viewports: append([]native.Viewport(nil), viewports...)})
}

func (l *commandList) RSSetScissorRects(rects []native.Rect) {
	l.record("RSSetScissorRects", OpScissors{Rects: append([]native.Rect(nil), rects...)})
}

func (l *commandList) OMSetRenderTargets(rtvs []native.CPUDescriptorHandle, dsv *native.CPUDescriptorHandle) {
	var d *native.CPUDescriptorHandle
	if dsv != nil {
		c := *dsv
		d = &c
	}
	l.record("OMSetRenderTargets", OpRenderTargets{RTVs: append([]native.CPUDescriptorHandle(nil), rtvs...), DSV: d})
}

func (l *commandList) OMSetBlendFactor(factor [4]float32) {
	l.record("OMSetBlendFactor", OpBlendFactor{Factor: factor})
}

func (l *commandList) OMSetStencilRef(ref uint32) {
	l.record("OMSetStencilRef", OpStencilRef{Ref: ref})
}

func (l *commandList) DrawInstanced(vertexCountPerInstance, instanceCount, startVertex, startInstance uint32) {
	l.record("DrawInstanced", OpDraw{vertexCountPerInstance, instanceCount, startVertex, startInstance})
}

func (l *commandList) DrawIndexedInstanced(indexCountPerInstance, instanceCount, startIndex uint32, baseVertex int32, startInstance uint32) {
	l.record("DrawIndexedInstanced", OpDrawIndexed{indexCountPerInstance, instanceCount, startIndex, baseVertex, startInstance})
}

func (l *commandList) Dispatch(x, y, z uint32) {
	l.record("Dispatch", OpDispatch{x, y, z})
}

func (l *commandList) ExecuteIndirect(sig native.CommandSignature, maxCommandCount uint32, args native.Resource, argsOffset uint64, count native.Resource, countOffset uint64) {
	l.record("ExecuteIndirect", OpExecuteIndirect{sig, maxCommandCount, args, argsOffset, count, countOffset})
}

func (l *commandList) CopyBufferRegion(dst native.Resource, dstOffset uint64, src native.Resource, srcOffset uint64, size uint64) {
	l.record("CopyBufferRegion", OpCopyBuffer{dst, dstOffset, src, srcOffset, size})
}

func (l *commandList) CopyTextureRegion(dst native.TextureCopyLocation, dstX, dstY, dstZ uint32, src native.TextureCopyLocation, srcBox *native.Box) {
	var box *native.Box
	if srcBox != nil {
		c := *srcBox
		box = &c
	}
	l.record("CopyTextureRegion", OpCopyTexture{dst, dstX, dstY, dstZ, src, box})
}

func (l *commandList) ClearRenderTargetView(rtv native.CPUDescriptorHandle, color [4]float32, rects []native.Rect) {
	l.record("ClearRenderTargetView", OpClearRTV{rtv, color, append([]native.Rect(nil), rects...)})
}

func (l *commandList) ClearDepthStencilView(dsv native.CPUDescriptorHandle, flags native.ClearFlags, depth float32, stencil uint8, rects []native.Rect) {
	l.record("ClearDepthStencilView", OpClearDSV{dsv, flags, depth, stencil, append([]native.Rect(nil), rects...)})
}

func (l *commandList) BeginQuery(heap native.QueryHeap, typ native.QueryType, index uint32) {
	l.record("BeginQuery", OpQuery{heap, typ, index, true})
}

func (l *commandList) EndQuery(heap native.QueryHeap, typ native.QueryType, index uint32) {
	l.record("EndQuery", OpQuery{heap, typ, index, false})
}

func (l *commandList) ResolveQueryData(heap native.QueryHeap, typ native.QueryType, start, count uint32, dst native.Resource, dstOffset uint64) {
	l.record("ResolveQueryData", OpResolveQuery{heap, typ, start, count, dst, dstOffset})
}

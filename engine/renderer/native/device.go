package native

import "context"

type Resource interface {
	Desc() ResourceDesc
	GPUVirtualAddress() uint64
	// Map returns the backing memory of upload and readback resources.
	Map() ([]byte, error)
	Unmap()
	Release()
}

type DescriptorHeap interface {
	Desc() DescriptorHeapDesc
	// GPUHandle returns the shader-visible address of slot index, or 0 when
	// the heap is not shader visible.
	GPUHandle(index uint32) uint64
	Write(index uint32, d Descriptor)
	Release()
}

type RootSignature interface {
	Desc() RootSignatureDesc
	Release()
}

type PipelineState interface {
	Label() string
	Release()
}

type CommandSignature interface {
	Desc() CommandSignatureDesc
	Release()
}

type QueryHeap interface {
	Type() QueryHeapType
	Count() uint32
	Release()
}

// Fence is a monotonic 64-bit counter shared between the host and the queue.
type Fence interface {
	CompletedValue() uint64
	// Signal sets the value from the host.
	Signal(value uint64) error
	// Wait blocks until the completed value reaches value or ctx is done.
	Wait(ctx context.Context, value uint64) error
	Release()
}

// CommandList records GPU work. Once closed it can only be executed.
type CommandList interface {
	Close() error

	ResourceBarrier(barriers []ResourceBarrier)
	SetDescriptorHeaps(heaps []DescriptorHeap)

	SetGraphicsRootSignature(sig RootSignature)
	SetComputeRootSignature(sig RootSignature)
	SetPipelineState(pso PipelineState)
	SetGraphicsRootDescriptorTable(param uint32, base uint64)
	SetComputeRootDescriptorTable(param uint32, base uint64)
	SetGraphicsRoot32BitConstants(param uint32, values []uint32, destOffset uint32)
	SetComputeRoot32BitConstants(param uint32, values []uint32, destOffset uint32)
	SetComputeRootShaderResourceView(param uint32, address uint64)
	SetComputeRootUnorderedAccessView(param uint32, address uint64)

	IASetPrimitiveTopology(topology PrimitiveTopology)
	IASetIndexBuffer(view *IndexBufferView)
	IASetVertexBuffers(startSlot uint32, views []VertexBufferView)
	RSSetViewports(viewports []Viewport)
	RSSetScissorRects(rects []Rect)
	OMSetRenderTargets(rtvs []CPUDescriptorHandle, dsv *CPUDescriptorHandle)
	OMSetBlendFactor(factor [4]float32)
	OMSetStencilRef(ref uint32)

	DrawInstanced(vertexCountPerInstance, instanceCount, startVertex, startInstance uint32)
	DrawIndexedInstanced(indexCountPerInstance, instanceCount, startIndex uint32, baseVertex int32, startInstance uint32)
	Dispatch(x, y, z uint32)
	ExecuteIndirect(sig CommandSignature, maxCommandCount uint32, args Resource, argsOffset uint64, count Resource, countOffset uint64)

	CopyBufferRegion(dst Resource, dstOffset uint64, src Resource, srcOffset uint64, size uint64)
	CopyTextureRegion(dst TextureCopyLocation, dstX, dstY, dstZ uint32, src TextureCopyLocation, srcBox *Box)
	ClearRenderTargetView(rtv CPUDescriptorHandle, color [4]float32, rects []Rect)
	ClearDepthStencilView(dsv CPUDescriptorHandle, flags ClearFlags, depth float32, stencil uint8, rects []Rect)

	BeginQuery(heap QueryHeap, typ QueryType, index uint32)
	EndQuery(heap QueryHeap, typ QueryType, index uint32)
	ResolveQueryData(heap QueryHeap, typ QueryType, start, count uint32, dst Resource, dstOffset uint64)
}

type CommandQueue interface {
	Wait(fence Fence, value uint64) error
	Signal(fence Fence, value uint64) error
	ExecuteCommandLists(lists []CommandList) error
}

// Device creates native objects. Returned errors are expected to be
// classifiable as out-of-memory or device-lost conditions.
type Device interface {
	CreateCommandList() (CommandList, error)
	CreateDescriptorHeap(desc DescriptorHeapDesc) (DescriptorHeap, error)
	CopyDescriptorsSimple(count uint32, dst, src CPUDescriptorHandle, typ DescriptorHeapType)
	CreateCommittedResource(heap HeapKind, desc ResourceDesc, initial ResourceState) (Resource, error)
	CreateRootSignature(desc RootSignatureDesc) (RootSignature, error)
	CreateComputePipelineState(desc ComputePipelineDesc) (PipelineState, error)
	CreateCommandSignature(desc CommandSignatureDesc, root RootSignature) (CommandSignature, error)
	CreateFence(initial uint64) (Fence, error)
	CreateQueryHeap(typ QueryHeapType, count uint32) (QueryHeap, error)
	Queue() CommandQueue
	// RemovedReason is nil while the device is usable.
	RemovedReason() error
}

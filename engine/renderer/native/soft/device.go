// Package soft is a software implementation of the native command-list API.
// Command lists record an inspectable trace which a queue goroutine executes
// in submission order against host memory. Meta compute pipelines run through
// their host kernels, draws are resolved into DrawRecords.
package soft

import (
	"fmt"
	"sort"
	"sync"

	"github.com/spaghettifunk/dozen/engine/core"
	"github.com/spaghettifunk/dozen/engine/renderer/native"
)

const (
	// Start of the resource address space.
	resourceBase = 0x1_0000_0000
	// Start of the shader-visible descriptor address space.
	descriptorBase = 0x7f00_0000_0000

	viewDescriptorIncrement    = 32
	samplerDescriptorIncrement = 16
)

// Options tweak the behaviour of a Device.
type Options struct {
	// ValidateStates records barriers whose before state does not match the
	// tracked state of the subresource.
	ValidateStates bool
	// MemoryBudget caps the bytes of live committed resources. Zero means
	// unlimited.
	MemoryBudget uint64
}

type Device struct {
	opts Options

	mu          sync.Mutex
	nextVA      uint64
	nextHeapVA  uint64
	resources   []*resource
	heaps       []*descriptorHeap
	used        uint64
	failAllocs  int
	failCloses  int
	removed     error
	validation  []string
	draws       []DrawRecord
	dispatches  []DispatchRecord
	occlusion   []*queryHeap
	timestampNS uint64

	queue *queue
}

// New creates a device and starts its queue.
func New(opts Options) *Device {
	d := &Device{
		opts:       opts,
		nextVA:     resourceBase,
		nextHeapVA: descriptorBase,
	}
	d.queue = newQueue(d)
	return d
}

// Close stops the queue goroutine. Pending work is abandoned.
func (d *Device) Close() {
	d.queue.stop()
}

// FailNextAllocations makes the next n allocations fail with an
// out-of-device-memory error.
func (d *Device) FailNextAllocations(n int) {
	d.mu.Lock()
	d.failAllocs = n
	d.mu.Unlock()
}

// FailNextCloses makes the next n command list Close calls fail.
func (d *Device) FailNextCloses(n int) {
	d.mu.Lock()
	d.failCloses = n
	d.mu.Unlock()
}

func (d *Device) SetMemoryBudget(bytes uint64) {
	d.mu.Lock()
	d.opts.MemoryBudget = bytes
	d.mu.Unlock()
}

// Remove marks the device as removed; every later submission fails.
func (d *Device) Remove(reason error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.removed == nil {
		d.removed = core.Mark(reason, core.ErrDeviceLost)
		core.LogError("soft device removed: %s", reason.Error())
	}
}

func (d *Device) RemovedReason() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.removed
}

func (d *Device) Queue() native.CommandQueue { return d.queue }

// Draws returns a copy of every draw executed so far.
func (d *Device) Draws() []DrawRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DrawRecord(nil), d.draws...)
}

// Dispatches returns every non-meta dispatch executed so far.
func (d *Device) Dispatches() []DispatchRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DispatchRecord(nil), d.dispatches...)
}

// ValidationErrors lists barrier state mismatches seen by the queue.
func (d *Device) ValidationErrors() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.validation...)
}

// UsedMemory is the size of all live committed resources.
func (d *Device) UsedMemory() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.used
}

func (d *Device) takeAllocFailure() bool {
	if d.failAllocs > 0 {
		d.failAllocs--
		return true
	}
	return false
}

func (d *Device) CreateCommandList() (native.CommandList, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.takeAllocFailure() {
		return nil, core.Errorf(core.ErrOutOfHostMemory, "soft: command list allocation failed")
	}
	return &commandList{dev: d}, nil
}

func (d *Device) CreateDescriptorHeap(desc native.DescriptorHeapDesc) (native.DescriptorHeap, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.takeAllocFailure() {
		return nil, core.Errorf(core.ErrOutOfDeviceMemory, "soft: descriptor heap of %d %s slots", desc.NumDescriptors, desc.Type)
	}
	h := &descriptorHeap{dev: d, desc: desc, slots: make([]native.Descriptor, desc.NumDescriptors)}
	if desc.ShaderVisible {
		h.increment = viewDescriptorIncrement
		if desc.Type == native.DescriptorHeapTypeSampler {
			h.increment = samplerDescriptorIncrement
		}
		h.gpuBase = d.nextHeapVA
		d.nextHeapVA += alignUp(uint64(desc.NumDescriptors)*h.increment+h.increment, resourceAlignment)
		d.heaps = append(d.heaps, h)
	}
	return h, nil
}

func (d *Device) CopyDescriptorsSimple(count uint32, dst, src native.CPUDescriptorHandle, typ native.DescriptorHeapType) {
	if count == 0 {
		return
	}
	s := src.Heap.(*descriptorHeap)
	t := dst.Heap.(*descriptorHeap)
	tmp := make([]native.Descriptor, count)
	s.mu.RLock()
	copy(tmp, s.slots[src.Index:src.Index+count])
	s.mu.RUnlock()
	t.mu.Lock()
	copy(t.slots[dst.Index:dst.Index+count], tmp)
	t.mu.Unlock()
}

func (d *Device) CreateCommittedResource(heap native.HeapKind, desc native.ResourceDesc, initial native.ResourceState) (native.Resource, error) {
	r := newResource(d, heap, desc, initial)
	size := uint64(len(r.data))

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.takeAllocFailure() {
		return nil, core.Errorf(core.ErrOutOfDeviceMemory, "soft: resource of %d bytes", size)
	}
	if d.opts.MemoryBudget != 0 && d.used+size > d.opts.MemoryBudget {
		return nil, core.Errorf(core.ErrOutOfDeviceMemory, "soft: resource of %d bytes exceeds budget (%d/%d used)",
			size, d.used, d.opts.MemoryBudget)
	}
	r.va = d.nextVA
	d.nextVA += alignUp(max(size, 1), resourceAlignment)
	d.used += size
	d.resources = append(d.resources, r)
	return r, nil
}

func (d *Device) releaseResource(r *resource) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.used -= uint64(len(r.data))
	i := sort.Search(len(d.resources), func(i int) bool { return d.resources[i].va >= r.va })
	if i < len(d.resources) && d.resources[i] == r {
		d.resources = append(d.resources[:i], d.resources[i+1:]...)
	}
}

func (d *Device) CreateRootSignature(desc native.RootSignatureDesc) (native.RootSignature, error) {
	return &rootSignature{desc: desc}, nil
}

func (d *Device) CreateComputePipelineState(desc native.ComputePipelineDesc) (native.PipelineState, error) {
	if len(desc.SPIRV) == 0 {
		return nil, core.Errorf(core.ErrUnknown, "soft: pipeline %q has no code", desc.Label)
	}
	return &pipelineState{label: desc.Label, root: desc.RootSignature}, nil
}

func (d *Device) CreateCommandSignature(desc native.CommandSignatureDesc, root native.RootSignature) (native.CommandSignature, error) {
	var size uint32
	for _, a := range desc.Arguments {
		size += a.Size()
	}
	if size > desc.ByteStride {
		return nil, core.Errorf(core.ErrUnknown, "soft: command signature stride %d smaller than arguments %d", desc.ByteStride, size)
	}
	return &commandSignature{desc: desc}, nil
}

func (d *Device) CreateFence(initial uint64) (native.Fence, error) {
	return newFence(initial), nil
}

func (d *Device) CreateQueryHeap(typ native.QueryHeapType, count uint32) (native.QueryHeap, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.takeAllocFailure() {
		return nil, core.Errorf(core.ErrOutOfDeviceMemory, "soft: query heap of %d entries", count)
	}
	return &queryHeap{typ: typ, results: make([]uint64, count)}, nil
}

// Slice resolves [va, va+size) to the backing bytes of a live buffer.
func (d *Device) Slice(va, size uint64) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := sort.Search(len(d.resources), func(i int) bool { return d.resources[i].va > va }) - 1
	if i < 0 {
		return nil, false
	}
	r := d.resources[i]
	off := va - r.va
	if off+size > uint64(len(r.data)) {
		return nil, false
	}
	return r.data[off:], true
}

// ReadMemory copies size bytes starting at va.
func (d *Device) ReadMemory(va, size uint64) ([]byte, error) {
	b, ok := d.Slice(va, size)
	if !ok {
		return nil, core.Errorf(core.ErrUnknown, "soft: no resource backs %#x+%d", va, size)
	}
	return append([]byte(nil), b[:size]...), nil
}

// WriteMemory copies data to va.
func (d *Device) WriteMemory(va uint64, data []byte) error {
	b, ok := d.Slice(va, uint64(len(data)))
	if !ok {
		return core.Errorf(core.ErrUnknown, "soft: no resource backs %#x+%d", va, len(data))
	}
	copy(b, data)
	return nil
}

// ReadSubresource copies the content of one texture subresource.
func (d *Device) ReadSubresource(res native.Resource, sub uint32) []byte {
	r := res.(*resource)
	return append([]byte(nil), r.subresourceBytes(sub)...)
}

// SubresourceState returns the state tracked for a subresource.
func (d *Device) SubresourceState(res native.Resource, sub uint32) native.ResourceState {
	return res.(*resource).State(sub)
}

// resolveGPUHandle maps a shader-visible descriptor address back to its heap
// slot.
func (d *Device) resolveGPUHandle(va uint64) (*descriptorHeap, uint32, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, h := range d.heaps {
		if va < h.gpuBase {
			continue
		}
		off := va - h.gpuBase
		idx := off / h.increment
		if off%h.increment == 0 && idx < uint64(h.desc.NumDescriptors) {
			return h, uint32(idx), true
		}
	}
	return nil, 0, false
}

func (d *Device) recordValidation(problems []string) {
	if len(problems) == 0 {
		return
	}
	d.mu.Lock()
	d.validation = append(d.validation, problems...)
	d.mu.Unlock()
	for _, p := range problems {
		core.LogWarn("soft: %s", p)
	}
}

func (d *Device) nextTimestamp() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.timestampNS += 1000
	return d.timestampNS
}

func describeMismatch(va uint64, sub int, tracked, before native.ResourceState) string {
	return fmt.Sprintf("resource %#x subresource %d is in %s, barrier expects %s", va, sub, tracked, before)
}

func describeOutOfRange(va uint64, sub uint32) string {
	return fmt.Sprintf("resource %#x has no subresource %d", va, sub)
}

func describeBadTable(param uint32, base uint64) string {
	return fmt.Sprintf("root table %d points at %#x which is not a shader-visible descriptor", param, base)
}

func describeIndexOverflow(ib native.IndexBufferView, first, count uint32) string {
	return fmt.Sprintf("indices [%d, %d) exceed the index buffer view at %#x of %d bytes",
		first, first+count, ib.BufferLocation, ib.SizeInBytes)
}

func alignUp(v, a uint64) uint64 {
	return (v + a - 1) / a * a
}

type rootSignature struct {
	desc native.RootSignatureDesc
}

func (r *rootSignature) Desc() native.RootSignatureDesc { return r.desc }
func (r *rootSignature) Release()                       {}

type pipelineState struct {
	label string
	root  native.RootSignature
}

func (p *pipelineState) Label() string { return p.label }
func (p *pipelineState) Release()      {}

// NewPipelineState returns an opaque graphics pipeline object. Graphics
// pipeline compilation is outside of this package.
func NewPipelineState(label string) native.PipelineState {
	return &pipelineState{label: label}
}

type commandSignature struct {
	desc native.CommandSignatureDesc
}

func (c *commandSignature) Desc() native.CommandSignatureDesc { return c.desc }
func (c *commandSignature) Release()                          {}

type queryHeap struct {
	typ native.QueryHeapType

	mu      sync.Mutex
	results []uint64
	active  map[uint32]uint64
}

func (q *queryHeap) Type() native.QueryHeapType { return q.typ }
func (q *queryHeap) Count() uint32              { return uint32(len(q.results)) }
func (q *queryHeap) Release()                   {}

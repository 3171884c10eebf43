package soft

import (
	"encoding/binary"
	"math"

	"github.com/spaghettifunk/dozen/engine/core"
	"github.com/spaghettifunk/dozen/engine/renderer/meta"
	"github.com/spaghettifunk/dozen/engine/renderer/native"
)

// DrawRecord is the resolved state of one executed draw.
type DrawRecord struct {
	Pipeline      string
	Topology      native.PrimitiveTopology
	Indexed       bool
	Count         uint32
	InstanceCount uint32
	StartVertex   uint32
	StartIndex    uint32
	BaseVertex    int32
	StartInstance uint32
	// Indices holds the fetched index values of indexed draws.
	Indices       []uint32
	IndexBuffer   *native.IndexBufferView
	VertexBuffers map[uint32]native.VertexBufferView
	Constants     map[uint32][]uint32
	Tables        map[uint32][]native.Descriptor
	Viewports     []native.Viewport
	Scissors      []native.Rect
	RenderTargets int
	DepthStencil  bool
	BlendFactor   [4]float32
	StencilRef    uint32
}

// DispatchRecord is one executed dispatch that did not run a meta kernel.
type DispatchRecord struct {
	Pipeline  string
	X, Y, Z   uint32
	Constants map[uint32][]uint32
	Tables    map[uint32][]native.Descriptor
}

type rootArgs struct {
	sig       native.RootSignature
	tables    map[uint32]uint64
	constants map[uint32][]uint32
	views     map[uint32]uint64
}

func newRootArgs() rootArgs {
	return rootArgs{
		tables:    map[uint32]uint64{},
		constants: map[uint32][]uint32{},
		views:     map[uint32]uint64{},
	}
}

func (r *rootArgs) setConstants(param uint32, values []uint32, destOffset uint32) {
	cur := r.constants[param]
	if need := int(destOffset) + len(values); len(cur) < need {
		cur = append(cur, make([]uint32, need-len(cur))...)
	}
	copy(cur[destOffset:], values)
	r.constants[param] = cur
}

type execState struct {
	graphics rootArgs
	compute  rootArgs
	pso      native.PipelineState
	heaps    []native.DescriptorHeap
	topology native.PrimitiveTopology
	ib       *native.IndexBufferView
	vbs      map[uint32]native.VertexBufferView
	viewport []native.Viewport
	scissors []native.Rect
	rtvs     int
	dsv      bool
	blend    [4]float32
	stencil  uint32
}

// execute runs a closed list. A returned error is fatal for the device.
func (d *Device) execute(l *commandList) error {
	st := &execState{
		graphics: newRootArgs(),
		compute:  newRootArgs(),
		vbs:      map[uint32]native.VertexBufferView{},
	}
	for _, op := range l.ops {
		if err := d.executeOp(st, op); err != nil {
			return core.Wrap(err, "soft: executing %s", op.Name)
		}
	}
	return nil
}

func (d *Device) executeOp(st *execState, op Op) error {
	switch a := op.Args.(type) {
	case OpBarrier:
		for _, b := range a.Barriers {
			if b.Type != native.BarrierTypeTransition || b.Resource == nil {
				continue
			}
			problems := b.Resource.(*resource).transition(b.Subresource, b.StateBefore, b.StateAfter)
			if d.opts.ValidateStates {
				d.recordValidation(problems)
			}
		}
	case OpSetHeaps:
		st.heaps = a.Heaps
	case OpRootSignature:
		if a.Compute {
			st.compute = newRootArgs()
			st.compute.sig = a.Sig
		} else {
			st.graphics = newRootArgs()
			st.graphics.sig = a.Sig
		}
	case OpPipeline:
		st.pso = a.PSO
	case OpRootTable:
		st.root(a.Compute).tables[a.Param] = a.Base
	case OpRootConstants:
		st.root(a.Compute).setConstants(a.Param, a.Values, a.DestOffset)
	case OpRootView:
		st.compute.views[a.Param] = a.Address
	case OpTopology:
		st.topology = a.Topology
	case OpIndexBuffer:
		st.ib = a.View
	case OpVertexBuffers:
		for i, v := range a.Views {
			st.vbs[a.StartSlot+uint32(i)] = v
		}
	case OpViewports:
		st.viewport = a.Viewports
	case OpScissors:
		st.scissors = a.Rects
	case OpRenderTargets:
		st.rtvs = len(a.RTVs)
		st.dsv = a.DSV != nil
	case OpBlendFactor:
		st.blend = a.Factor
	case OpStencilRef:
		st.stencil = a.Ref
	case OpDraw:
		d.draw(st, DrawRecord{Count: a.VertexCount, InstanceCount: a.InstanceCount, StartVertex: a.StartVertex, StartInstance: a.StartInstance})
	case OpDrawIndexed:
		d.draw(st, DrawRecord{Indexed: true, Count: a.IndexCount, InstanceCount: a.InstanceCount, StartIndex: a.StartIndex, BaseVertex: a.BaseVertex, StartInstance: a.StartInstance})
	case OpDispatch:
		return d.dispatch(st, a.X, a.Y, a.Z)
	case OpExecuteIndirect:
		return d.executeIndirect(st, a)
	case OpCopyBuffer:
		dst, src := a.Dst.(*resource), a.Src.(*resource)
		if a.DstOffset+a.Size > uint64(len(dst.data)) || a.SrcOffset+a.Size > uint64(len(src.data)) {
			return core.Errorf(core.ErrDeviceLost, "buffer copy of %d bytes out of bounds", a.Size)
		}
		copy(dst.data[a.DstOffset:a.DstOffset+a.Size], src.data[a.SrcOffset:a.SrcOffset+a.Size])
	case OpCopyTexture:
		return copyTexture(a)
	case OpClearRTV:
		clearView(a.RTV, func(r *resource, sub uint32) {
			fill(r.subresourceBytes(sub), encodeColor(r.desc.Format, a.Color))
		})
	case OpClearDSV:
		clearView(a.DSV, func(r *resource, sub uint32) {
			plane := sub / (max(r.desc.MipLevels, 1) * max(r.desc.DepthOrArraySize, 1))
			switch {
			case plane == 0 && a.Flags&native.ClearFlagDepth != 0:
				fill(r.subresourceBytes(sub), encodeDepth(r.desc.Format, a.Depth))
			case plane == 1 && a.Flags&native.ClearFlagStencil != 0:
				fill(r.subresourceBytes(sub), []byte{a.Stencil})
			}
		})
	case OpQuery:
		d.query(a)
	case OpResolveQuery:
		q := a.Heap.(*queryHeap)
		dst := a.Dst.(*resource)
		q.mu.Lock()
		for i := uint32(0); i < a.Count; i++ {
			off := a.DstOffset + uint64(i)*8
			binary.LittleEndian.PutUint64(dst.data[off:], q.results[a.Start+i])
		}
		q.mu.Unlock()
	}
	return nil
}

func (st *execState) root(compute bool) *rootArgs {
	if compute {
		return &st.compute
	}
	return &st.graphics
}

func (d *Device) resolveTables(args *rootArgs) map[uint32][]native.Descriptor {
	out := map[uint32][]native.Descriptor{}
	if args.sig == nil {
		return out
	}
	params := args.sig.Desc().Parameters
	for idx, base := range args.tables {
		if int(idx) >= len(params) {
			continue
		}
		var count uint32
		for _, r := range params[idx].Ranges {
			count = max(count, r.OffsetInTable+r.NumDescriptors)
		}
		h, first, ok := d.resolveGPUHandle(base)
		if !ok {
			d.recordValidation([]string{describeBadTable(idx, base)})
			continue
		}
		out[idx] = h.read(first, count)
	}
	return out
}

func copyConstants(in map[uint32][]uint32) map[uint32][]uint32 {
	out := make(map[uint32][]uint32, len(in))
	for k, v := range in {
		out[k] = append([]uint32(nil), v...)
	}
	return out
}

func (d *Device) draw(st *execState, rec DrawRecord) {
	if st.pso != nil {
		rec.Pipeline = st.pso.Label()
	}
	rec.Topology = st.topology
	rec.Constants = copyConstants(st.graphics.constants)
	rec.Tables = d.resolveTables(&st.graphics)
	rec.VertexBuffers = make(map[uint32]native.VertexBufferView, len(st.vbs))
	for k, v := range st.vbs {
		rec.VertexBuffers[k] = v
	}
	rec.Viewports = st.viewport
	rec.Scissors = st.scissors
	rec.RenderTargets = st.rtvs
	rec.DepthStencil = st.dsv
	rec.BlendFactor = st.blend
	rec.StencilRef = st.stencil
	if rec.Indexed {
		if st.ib == nil {
			d.recordValidation([]string{"indexed draw without an index buffer"})
		} else {
			ib := *st.ib
			rec.IndexBuffer = &ib
			rec.Indices = d.fetchIndices(ib, rec.StartIndex, rec.Count)
		}
	}

	d.mu.Lock()
	d.draws = append(d.draws, rec)
	d.mu.Unlock()

	d.countOcclusion(uint64(rec.Count) * uint64(rec.InstanceCount))
}

func (d *Device) fetchIndices(ib native.IndexBufferView, first, count uint32) []uint32 {
	width := uint64(ib.Format.BytesPerTexel())
	if width != 2 && width != 4 {
		d.recordValidation([]string{"index buffer with a non index format"})
		return nil
	}
	end := (uint64(first) + uint64(count)) * width
	if end > uint64(ib.SizeInBytes) {
		d.recordValidation([]string{describeIndexOverflow(ib, first, count)})
		return nil
	}
	b, ok := d.Slice(ib.BufferLocation, end)
	if !ok {
		d.recordValidation([]string{describeIndexOverflow(ib, first, count)})
		return nil
	}
	out := make([]uint32, count)
	for i := range out {
		off := (uint64(first) + uint64(i)) * width
		if width == 2 {
			out[i] = uint32(binary.LittleEndian.Uint16(b[off:]))
		} else {
			out[i] = binary.LittleEndian.Uint32(b[off:])
		}
	}
	return out
}

func (d *Device) dispatch(st *execState, x, y, z uint32) error {
	label := ""
	if st.pso != nil {
		label = st.pso.Label()
	}
	if kernel, ok := meta.HostKernel(label); ok {
		inv := &meta.Invocation{
			Constants:  make([]uint32, meta.ParamsDwords),
			GroupCount: [3]uint32{x, y, z},
			Memory:     d,
		}
		copy(inv.Constants, st.compute.constants[meta.RootParamConstants])
		for i := range inv.Views {
			inv.Views[i] = st.compute.views[uint32(i)]
		}
		for id := uint32(0); id < x; id++ {
			if err := kernel(inv, id); err != nil {
				return core.Mark(err, core.ErrDeviceLost)
			}
		}
		return nil
	}

	rec := DispatchRecord{
		Pipeline:  label,
		X:         x,
		Y:         y,
		Z:         z,
		Constants: copyConstants(st.compute.constants),
		Tables:    d.resolveTables(&st.compute),
	}
	d.mu.Lock()
	d.dispatches = append(d.dispatches, rec)
	d.mu.Unlock()
	return nil
}

func (d *Device) executeIndirect(st *execState, a OpExecuteIndirect) error {
	desc := a.Signature.Desc()
	args := a.Args.(*resource)

	count := a.MaxCount
	if a.Count != nil {
		cb := a.Count.(*resource)
		if a.CountOffset+4 > uint64(len(cb.data)) {
			return core.Errorf(core.ErrDeviceLost, "count buffer read out of bounds")
		}
		count = min(count, binary.LittleEndian.Uint32(cb.data[a.CountOffset:]))
	}

	compute := false
	for _, arg := range desc.Arguments {
		if arg.Type == native.IndirectArgumentTypeDispatch {
			compute = true
		}
	}

	for i := uint32(0); i < count; i++ {
		off := a.ArgsOffset + uint64(i)*uint64(desc.ByteStride)
		for _, arg := range desc.Arguments {
			size := uint64(arg.Size())
			if off+size > uint64(len(args.data)) {
				return core.Errorf(core.ErrDeviceLost, "indirect record %d out of bounds", i)
			}
			rec := args.data[off : off+size]
			w := func(j int) uint32 { return binary.LittleEndian.Uint32(rec[j*4:]) }

			switch arg.Type {
			case native.IndirectArgumentTypeConstant:
				values := make([]uint32, arg.Num32BitValuesToSet)
				for j := range values {
					values[j] = w(j)
				}
				st.root(compute).setConstants(arg.RootParameterIndex, values, arg.DestOffsetIn32BitValues)
			case native.IndirectArgumentTypeIndexBufferView:
				st.ib = &native.IndexBufferView{
					BufferLocation: uint64(w(0)) | uint64(w(1))<<32,
					SizeInBytes:    w(2),
					Format:         native.Format(w(3)),
				}
			case native.IndirectArgumentTypeVertexBufferView:
				st.vbs[arg.Slot] = native.VertexBufferView{
					BufferLocation: uint64(w(0)) | uint64(w(1))<<32,
					SizeInBytes:    w(2),
					StrideInBytes:  w(3),
				}
			case native.IndirectArgumentTypeDraw:
				d.draw(st, DrawRecord{Count: w(0), InstanceCount: w(1), StartVertex: w(2), StartInstance: w(3)})
			case native.IndirectArgumentTypeDrawIndexed:
				d.draw(st, DrawRecord{Indexed: true, Count: w(0), InstanceCount: w(1), StartIndex: w(2), BaseVertex: int32(w(3)), StartInstance: w(4)})
			case native.IndirectArgumentTypeDispatch:
				if err := d.dispatch(st, w(0), w(1), w(2)); err != nil {
					return err
				}
			}
			off += size
		}
	}
	return nil
}

type copyRegion struct {
	data     []byte
	rowPitch uint64
	// rows per slice
	height uint64
	bpt    uint64
	width  uint32
	depth  uint32
}

func locate(loc native.TextureCopyLocation) (copyRegion, error) {
	r := loc.Resource.(*resource)
	if loc.Type == native.TextureCopyTypePlacedFootprint {
		fp := loc.Footprint
		size := uint64(fp.RowPitch) * uint64(fp.Height) * uint64(max(fp.Depth, 1))
		if fp.Offset+size > uint64(len(r.data)) {
			return copyRegion{}, core.Errorf(core.ErrDeviceLost, "footprint of %d bytes at %d out of bounds", size, fp.Offset)
		}
		return copyRegion{
			data:     r.data[fp.Offset : fp.Offset+size],
			rowPitch: uint64(fp.RowPitch),
			height:   uint64(fp.Height),
			bpt:      uint64(texelBytes(fp.Format)),
			width:    fp.Width,
			depth:    max(fp.Depth, 1),
		}, nil
	}
	if int(loc.SubresourceIndex) >= len(r.layouts) {
		return copyRegion{}, core.Errorf(core.ErrDeviceLost, "subresource %d out of range", loc.SubresourceIndex)
	}
	lay := r.layouts[loc.SubresourceIndex]
	return copyRegion{
		data:     r.subresourceBytes(loc.SubresourceIndex),
		rowPitch: uint64(lay.rowPitch),
		height:   uint64(lay.height),
		bpt:      uint64(texelBytes(r.desc.Format)),
		width:    lay.width,
		depth:    lay.depth,
	}, nil
}

func copyTexture(a OpCopyTexture) error {
	src, err := locate(a.Src)
	if err != nil {
		return err
	}
	dst, err := locate(a.Dst)
	if err != nil {
		return err
	}
	box := native.Box{Right: src.width, Bottom: uint32(src.height), Back: src.depth}
	if a.SrcBox != nil {
		box = *a.SrcBox
	}
	rowBytes := uint64(box.Right-box.Left) * src.bpt
	for z := box.Front; z < box.Back; z++ {
		for y := box.Top; y < box.Bottom; y++ {
			so := (uint64(z)*src.height+uint64(y))*src.rowPitch + uint64(box.Left)*src.bpt
			dz := uint64(a.DstZ + z - box.Front)
			dy := uint64(a.DstY + y - box.Top)
			do := (dz*dst.height+dy)*dst.rowPitch + uint64(a.DstX)*dst.bpt
			if so+rowBytes > uint64(len(src.data)) || do+rowBytes > uint64(len(dst.data)) {
				return core.Errorf(core.ErrDeviceLost, "texture copy row out of bounds")
			}
			copy(dst.data[do:do+rowBytes], src.data[so:so+rowBytes])
		}
	}
	return nil
}

func clearView(h native.CPUDescriptorHandle, apply func(r *resource, sub uint32)) {
	desc := h.Heap.(*descriptorHeap).read(h.Index, 1)
	if len(desc) == 0 || desc[0].Resource == nil {
		return
	}
	v := desc[0]
	r := v.Resource.(*resource)
	layers := max(v.LayerCount, 1)
	planes := r.desc.Format.PlaneCount()
	for p := uint32(0); p < planes; p++ {
		if v.Kind == native.DescriptorKindRTV && p > 0 {
			break
		}
		for l := v.FirstLayer; l < v.FirstLayer+layers; l++ {
			apply(r, r.subresourceIndex(v.FirstMip, l, p))
		}
	}
}

func fill(dst []byte, pattern []byte) {
	if len(pattern) == 0 {
		return
	}
	for i := 0; i < len(dst); i += len(pattern) {
		copy(dst[i:], pattern)
	}
}

func unorm8(v float32) byte {
	return byte(math.Round(float64(min(max(v, 0), 1)) * 255))
}

func encodeColor(f native.Format, c [4]float32) []byte {
	switch f {
	case native.FormatR8G8B8A8Unorm:
		return []byte{unorm8(c[0]), unorm8(c[1]), unorm8(c[2]), unorm8(c[3])}
	case native.FormatB8G8R8A8Unorm:
		return []byte{unorm8(c[2]), unorm8(c[1]), unorm8(c[0]), unorm8(c[3])}
	}
	out := make([]byte, texelBytes(f))
	for i := 0; i+4 <= len(out); i += 4 {
		binary.LittleEndian.PutUint32(out[i:], math.Float32bits(c[(i/4)%4]))
	}
	return out
}

func encodeDepth(f native.Format, depth float32) []byte {
	out := make([]byte, texelBytes(f))
	switch f {
	case native.FormatD16Unorm:
		binary.LittleEndian.PutUint16(out, uint16(math.Round(float64(depth)*0xffff)))
	case native.FormatD24UnormS8Uint:
		binary.LittleEndian.PutUint32(out, uint32(math.Round(float64(depth)*0xffffff)))
	default:
		binary.LittleEndian.PutUint32(out, math.Float32bits(depth))
	}
	return out
}

func (d *Device) query(a OpQuery) {
	q := a.Heap.(*queryHeap)
	q.mu.Lock()
	defer q.mu.Unlock()
	switch {
	case a.Type == native.QueryTypeTimestamp:
		q.results[a.Index] = d.nextTimestamp()
	case a.Begin:
		if q.active == nil {
			q.active = map[uint32]uint64{}
		}
		q.active[a.Index] = 0
		d.mu.Lock()
		d.occlusion = appendUnique(d.occlusion, q)
		d.mu.Unlock()
	default:
		samples := q.active[a.Index]
		delete(q.active, a.Index)
		if a.Type == native.QueryTypeBinaryOcclusion && samples > 0 {
			samples = 1
		}
		q.results[a.Index] = samples
	}
}

// countOcclusion credits samples to every active occlusion query.
func (d *Device) countOcclusion(samples uint64) {
	d.mu.Lock()
	heaps := append([]*queryHeap(nil), d.occlusion...)
	d.mu.Unlock()
	for _, q := range heaps {
		q.mu.Lock()
		for i := range q.active {
			q.active[i] += samples
		}
		q.mu.Unlock()
	}
}

func appendUnique(list []*queryHeap, q *queryHeap) []*queryHeap {
	for _, o := range list {
		if o == q {
			return list
		}
	}
	return append(list, q)
}

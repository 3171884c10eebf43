package soft

import (
	"sync"

	"github.com/spaghettifunk/dozen/engine/core"
	"github.com/spaghettifunk/dozen/engine/renderer/native"
)

// Resources live at 64KiB aligned virtual addresses.
const resourceAlignment = 64 * 1024

type subresourceLayout struct {
	offset   uint64
	rowPitch uint32
	width    uint32
	height   uint32
	depth    uint32
}

type resource struct {
	dev  *Device
	desc native.ResourceDesc
	heap native.HeapKind
	va   uint64
	data []byte

	layouts []subresourceLayout

	// mu guards states and released.
	mu       sync.Mutex
	states   []native.ResourceState
	released bool
	mapped   int
}

func texelBytes(f native.Format) uint32 {
	if b := f.BytesPerTexel(); b != 0 {
		return b
	}
	return 4
}

func newResource(dev *Device, heap native.HeapKind, desc native.ResourceDesc, initial native.ResourceState) *resource {
	r := &resource{dev: dev, desc: desc, heap: heap}
	if desc.Dimension == native.ResourceDimensionBuffer {
		r.data = make([]byte, desc.Width)
		r.layouts = []subresourceLayout{{width: uint32(desc.Width), height: 1, depth: 1, rowPitch: uint32(desc.Width)}}
	} else {
		r.layouts = textureLayouts(desc)
		last := r.layouts[len(r.layouts)-1]
		r.data = make([]byte, last.offset+uint64(last.rowPitch)*uint64(last.height)*uint64(last.depth))
	}
	r.states = make([]native.ResourceState, len(r.layouts))
	for i := range r.states {
		r.states[i] = initial
	}
	return r
}

func textureLayouts(desc native.ResourceDesc) []subresourceLayout {
	mips := max(desc.MipLevels, 1)
	layers, depth := uint32(1), uint32(1)
	if desc.Dimension == native.ResourceDimensionTexture3D {
		depth = max(desc.DepthOrArraySize, 1)
	} else {
		layers = max(desc.DepthOrArraySize, 1)
	}
	planes := desc.Format.PlaneCount()
	bpt := texelBytes(desc.Format)

	var out []subresourceLayout
	var offset uint64
	for p := uint32(0); p < planes; p++ {
		for l := uint32(0); l < layers; l++ {
			for m := uint32(0); m < mips; m++ {
				w := max(uint32(desc.Width)>>m, 1)
				h := max(desc.Height>>m, 1)
				d := max(depth>>m, 1)
				lay := subresourceLayout{offset: offset, rowPitch: w * bpt, width: w, height: h, depth: d}
				out = append(out, lay)
				offset += uint64(lay.rowPitch) * uint64(h) * uint64(d)
			}
		}
	}
	return out
}

func (r *resource) Desc() native.ResourceDesc { return r.desc }

func (r *resource) GPUVirtualAddress() uint64 {
	if r.desc.Dimension != native.ResourceDimensionBuffer {
		return 0
	}
	return r.va
}

func (r *resource) Map() ([]byte, error) {
	if r.heap == native.HeapKindDefault {
		return nil, core.Errorf(core.ErrInvalidState, "soft: resource at %#x lives in a default heap", r.va)
	}
	r.mu.Lock()
	r.mapped++
	r.mu.Unlock()
	return r.data, nil
}

func (r *resource) Unmap() {
	r.mu.Lock()
	if r.mapped > 0 {
		r.mapped--
	}
	r.mu.Unlock()
}

func (r *resource) Release() {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return
	}
	r.released = true
	r.mu.Unlock()
	r.dev.releaseResource(r)
}

func (r *resource) isReleased() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}

func (r *resource) subresourceBytes(sub uint32) []byte {
	lay := r.layouts[sub]
	size := uint64(lay.rowPitch) * uint64(lay.height) * uint64(lay.depth)
	return r.data[lay.offset : lay.offset+size]
}

// subresourceIndex maps (mip, layer, plane) to the flat index used by the
// state table.
func (r *resource) subresourceIndex(mip, layer, plane uint32) uint32 {
	layers := uint32(1)
	if r.desc.Dimension != native.ResourceDimensionTexture3D {
		layers = max(r.desc.DepthOrArraySize, 1)
	}
	return native.CalcSubresource(mip, layer, plane, max(r.desc.MipLevels, 1), layers)
}

// transition applies a barrier to the tracked state and reports mismatches.
func (r *resource) transition(sub uint32, before, after native.ResourceState) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var problems []string
	apply := func(i int) {
		if r.states[i] != before {
			problems = append(problems, describeMismatch(r.va, i, r.states[i], before))
		}
		r.states[i] = after
	}
	if sub == native.AllSubresources {
		for i := range r.states {
			apply(i)
		}
	} else if int(sub) < len(r.states) {
		apply(int(sub))
	} else {
		problems = append(problems, describeOutOfRange(r.va, sub))
	}
	return problems
}

// State returns the tracked state of a subresource.
func (r *resource) State(sub uint32) native.ResourceState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[sub]
}

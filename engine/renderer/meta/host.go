package meta

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/dozen/engine/renderer/native"
)

// Memory resolves GPU virtual addresses for host execution of the kernels.
type Memory interface {
	// Slice returns the bytes [va, va+size) or false when the range is not
	// backed by a single resource.
	Slice(va, size uint64) ([]byte, bool)
}

// Invocation carries the bound state of one host dispatch.
type Invocation struct {
	Constants  []uint32
	Views      [RootParamNum]uint64
	GroupCount [3]uint32
	Memory     Memory
}

// Kernel runs the work of one invocation id.
type Kernel func(inv *Invocation, id uint32) error

// HostKernel returns the reference implementation for a pipeline label.
func HostKernel(label string) (Kernel, bool) {
	for _, k := range AllKeys() {
		if k.Label() != label {
			continue
		}
		key := k
		if key.Kind == KindFanRewrite {
			return runFanRewrite, true
		}
		return func(inv *Invocation, id uint32) error {
			return runDrawRewrite(key, inv, id)
		}, true
	}
	return nil, false
}

// ErrUnbackedAccess is returned when a kernel touches memory outside of the
// resource bound to a root view.
var ErrUnbackedAccess = errors.New("meta kernel: unbacked access")

func view(inv *Invocation, slot int, words uint32) ([]byte, error) {
	b, ok := inv.Memory.Slice(inv.Views[slot], uint64(words)*4)
	if !ok {
		return nil, errors.Wrapf(ErrUnbackedAccess, "root view %d at %#x, %d words", slot, inv.Views[slot], words)
	}
	return b, nil
}

func runDrawRewrite(k Key, inv *Invocation, drawID uint32) error {
	params := DrawRewriteParamsFrom(inv.Constants)
	groups := inv.GroupCount[0]
	stride := ExecStrideDwords(k)

	drawCount := groups
	if k.CountBuffer {
		countBuf, err := view(inv, RootParamCount, 1)
		if err != nil {
			return err
		}
		drawCount = min(le32(countBuf, 0), groups)
		if drawID == 0 {
			header, err := view(inv, RootParamOutput, groups*stride+1)
			if err != nil {
				return err
			}
			put32(header, groups*stride, drawCount)
		}
	}
	if drawID >= drawCount {
		return nil
	}

	srcWords := SourceRecordSize(k.Indexed) / 4
	srcBase := drawID * params.DrawBufStride / 4
	src, err := view(inv, RootParamInput, srcBase+srcWords)
	if err != nil {
		return err
	}
	exec, err := view(inv, RootParamOutput, (drawID+1)*stride)
	if err != nil {
		return err
	}
	base := drawID * stride

	if !k.TriangleFan {
		if k.Indexed {
			// first_vertex is the vertex offset for indexed draws
			put32(exec, base+0, le32(src, srcBase+3))
			put32(exec, base+1, le32(src, srcBase+4))
		} else {
			put32(exec, base+0, le32(src, srcBase+2))
			put32(exec, base+1, le32(src, srcBase+3))
		}
		put32(exec, base+2, drawID)
		for i := uint32(0); i < srcWords; i++ {
			put32(exec, base+SysvalDwords+i, le32(src, srcBase+i))
		}
		return nil
	}

	var count, instances, firstIndex, vertexOffset, firstInstance uint32
	if k.Indexed {
		count = le32(src, srcBase+0)
		instances = le32(src, srcBase+1)
		firstIndex = le32(src, srcBase+2)
		vertexOffset = le32(src, srcBase+3)
		firstInstance = le32(src, srcBase+4)
	} else {
		count = le32(src, srcBase+0)
		instances = le32(src, srcBase+1)
		vertexOffset = le32(src, srcBase+2)
		firstInstance = le32(src, srcBase+3)
	}
	triangles := uint32(0)
	if count >= 3 {
		triangles = count - 2
	}
	triangles = min(triangles, params.FanIndexBufStride/12)

	offset := drawID * params.FanIndexBufStride
	va := params.FanIndexBufStart + uint64(offset)

	fanExec, err := view(inv, RootParamFanExec, (drawID+1)*FanExecDwords)
	if err != nil {
		return err
	}
	fbase := drawID * FanExecDwords
	put32(fanExec, fbase+0, firstIndex)
	put32(fanExec, fbase+1, offset/4)
	put32(fanExec, fbase+2, k.OldIndexPacking)
	put32(fanExec, fbase+3, triangles)
	put32(fanExec, fbase+4, triangles)
	put32(fanExec, fbase+5, 1)
	put32(fanExec, fbase+6, 1)

	put32(exec, base+0, uint32(va))
	put32(exec, base+1, uint32(va>>32))
	put32(exec, base+2, triangles*12)
	put32(exec, base+3, uint32(native.FormatR32Uint))
	put32(exec, base+4, vertexOffset)
	put32(exec, base+5, firstInstance)
	put32(exec, base+6, drawID)
	put32(exec, base+7, triangles*3)
	put32(exec, base+8, instances)
	put32(exec, base+9, 0)
	put32(exec, base+10, vertexOffset)
	put32(exec, base+11, firstInstance)
	return nil
}

func runFanRewrite(inv *Invocation, t uint32) error {
	params := FanRewriteParamsFrom(inv.Constants)
	if t >= params.TriangleCount {
		return nil
	}
	width, adjust := UnpackIndex(params.OldIndexPacking)

	load := func(i uint32) (uint32, error) {
		i += adjust
		switch width {
		case 2:
			b, err := view(inv, RootParamInput, i/2+1)
			if err != nil {
				return 0, err
			}
			w := le32(b, i/2)
			if i&1 == 0 {
				return w & 0xffff, nil
			}
			return w >> 16, nil
		case 4:
			b, err := view(inv, RootParamInput, i+1)
			if err != nil {
				return 0, err
			}
			return le32(b, i), nil
		}
		return i - adjust, nil
	}

	dst := params.NewIndexBase + t*3
	out, err := view(inv, RootParamOutput, dst+3)
	if err != nil {
		return err
	}
	order := [3]uint32{params.FirstIndex + t + 1, params.FirstIndex + t + 2, params.FirstIndex}
	for i, idx := range order {
		v, err := load(idx)
		if err != nil {
			return err
		}
		put32(out, dst+uint32(i), v)
	}
	return nil
}

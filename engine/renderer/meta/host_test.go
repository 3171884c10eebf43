package meta

import (
	"encoding/binary"
	"reflect"
	"testing"

	"github.com/cockroachdb/errors"
)

type region struct {
	base uint64
	data []byte
}

type testMemory []*region

func (m testMemory) Slice(va, size uint64) ([]byte, bool) {
	for _, r := range m {
		if va >= r.base && va+size <= r.base+uint64(len(r.data)) {
			return r.data[va-r.base:], true
		}
	}
	return nil, false
}

func words(b []byte, n int) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return out
}

func fromWords(v ...uint32) []byte {
	b := make([]byte, len(v)*4)
	for i, w := range v {
		binary.LittleEndian.PutUint32(b[i*4:], w)
	}
	return b
}

func dispatch(t *testing.T, k Key, inv *Invocation) {
	t.Helper()
	kernel, ok := HostKernel(k.Label())
	if !ok {
		t.Fatalf("no host kernel for %s", k.Label())
	}
	for id := uint32(0); id < inv.GroupCount[0]; id++ {
		if err := kernel(inv, id); err != nil {
			t.Fatalf("invocation %d: %v", id, err)
		}
	}
}

func TestFanRewriteFivePointFan(t *testing.T) {
	out := &region{base: 0x20000, data: make([]byte, 9*4)}
	inv := &Invocation{
		Constants:  FanRewriteParams{FirstIndex: 0, NewIndexBase: 0, OldIndexPacking: PackIndex(0, 0), TriangleCount: 3}.Dwords(),
		GroupCount: [3]uint32{3, 1, 1},
		Memory:     testMemory{out},
	}
	inv.Views[RootParamOutput] = out.base
	dispatch(t, Key{Kind: KindFanRewrite}, inv)

	want := []uint32{1, 2, 0, 2, 3, 0, 3, 4, 0}
	if got := words(out.data, 9); !reflect.DeepEqual(got, want) {
		t.Fatalf("fan indices = %v, want %v", got, want)
	}
}

func TestFanRewriteIndexWidths(t *testing.T) {
	tests := []struct {
		name    string
		packing uint32
		input   []byte
		first   uint32
		want    []uint32
	}{
		{
			name:    "uint32",
			packing: PackIndex(4, 0),
			input:   fromWords(10, 11, 12, 13),
			want:    []uint32{11, 12, 10, 12, 13, 10},
		},
		{
			name:    "uint16",
			packing: PackIndex(2, 0),
			input:   fromWords(10|11<<16, 12|13<<16),
			want:    []uint32{11, 12, 10, 12, 13, 10},
		},
		{
			// binding started on a half word, the view was aligned down
			name:    "uint16 misaligned",
			packing: PackIndex(2, 1),
			input:   fromWords(99|10<<16, 11|12<<16, 13),
			want:    []uint32{11, 12, 10, 12, 13, 10},
		},
		{
			name:    "first index",
			packing: PackIndex(4, 0),
			input:   fromWords(7, 7, 20, 21, 22, 23),
			first:   2,
			want:    []uint32{21, 22, 20, 22, 23, 20},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := &region{base: 0x10000, data: tt.input}
			out := &region{base: 0x20000, data: make([]byte, 6*4)}
			inv := &Invocation{
				Constants:  FanRewriteParams{FirstIndex: tt.first, OldIndexPacking: tt.packing, TriangleCount: 2}.Dwords(),
				GroupCount: [3]uint32{2, 1, 1},
				Memory:     testMemory{in, out},
			}
			inv.Views[RootParamInput] = in.base
			inv.Views[RootParamOutput] = out.base
			dispatch(t, Key{Kind: KindFanRewrite}, inv)
			if got := words(out.data, 6); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("indices = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDrawRewriteLargeStride(t *testing.T) {
	const draws = 3
	const stride = 32 // larger than the native record
	src := make([]byte, draws*stride)
	for d := uint32(0); d < draws; d++ {
		base := d * stride / 4
		for i := uint32(0); i < stride/4; i++ {
			// garbage past the record must not leak into the output
			binary.LittleEndian.PutUint32(src[(base+i)*4:], 0xdead0000+d)
		}
		binary.LittleEndian.PutUint32(src[(base+0)*4:], 3+d)  // vertex count
		binary.LittleEndian.PutUint32(src[(base+1)*4:], 1)    // instances
		binary.LittleEndian.PutUint32(src[(base+2)*4:], 10*d) // first vertex
		binary.LittleEndian.PutUint32(src[(base+3)*4:], d)    // first instance
	}

	key := Key{Kind: KindDrawRewrite}
	execStride := ExecStrideDwords(key)
	in := &region{base: 0x10000, data: src}
	out := &region{base: 0x20000, data: make([]byte, draws*execStride*4)}
	inv := &Invocation{
		Constants:  DrawRewriteParams{DrawBufStride: stride}.Dwords(),
		GroupCount: [3]uint32{draws, 1, 1},
		Memory:     testMemory{in, out},
	}
	inv.Views[RootParamInput] = in.base
	inv.Views[RootParamOutput] = out.base
	dispatch(t, key, inv)

	got := words(out.data, int(draws*execStride))
	for d := uint32(0); d < draws; d++ {
		rec := got[d*execStride : (d+1)*execStride]
		want := []uint32{10 * d, d, d, 3 + d, 1, 10 * d, d}
		if !reflect.DeepEqual(rec, want) {
			t.Errorf("record %d = %v, want %v", d, rec, want)
		}
	}
}

func TestDrawRewriteCountBuffer(t *testing.T) {
	key := Key{Kind: KindDrawRewrite, Indexed: true, CountBuffer: true}
	execStride := ExecStrideDwords(key)
	const maxDraws = 4

	src := make([]byte, maxDraws*20)
	for d := uint32(0); d < maxDraws; d++ {
		copy(src[d*20:], fromWords(6, 2, d, 100+d, 7))
	}
	in := &region{base: 0x10000, data: src}
	count := &region{base: 0x30000, data: fromWords(9)}
	out := &region{base: 0x20000, data: make([]byte, (maxDraws*execStride+1)*4)}

	inv := &Invocation{
		Constants:  DrawRewriteParams{DrawBufStride: 20}.Dwords(),
		GroupCount: [3]uint32{maxDraws, 1, 1},
		Memory:     testMemory{in, out, count},
	}
	inv.Views[RootParamInput] = in.base
	inv.Views[RootParamOutput] = out.base
	inv.Views[RootParamCount] = count.base
	dispatch(t, key, inv)

	got := words(out.data, int(maxDraws*execStride+1))
	if c := got[maxDraws*execStride]; c != maxDraws {
		t.Fatalf("clamped count = %d, want %d", c, maxDraws)
	}
	rec := got[execStride : 2*execStride]
	want := []uint32{101, 7, 1, 6, 2, 1, 101, 7}
	if !reflect.DeepEqual(rec, want) {
		t.Fatalf("record 1 = %v, want %v", rec, want)
	}
}

func TestDrawRewriteFan(t *testing.T) {
	key := Key{Kind: KindDrawRewrite, TriangleFan: true}
	execStride := ExecStrideDwords(key)
	const fanStride = 12 * 2 // room for two triangles per draw

	in := &region{base: 0x10000, data: fromWords(5, 1, 0, 0, 3, 2, 4, 1)}
	out := &region{base: 0x20000, data: make([]byte, 2*execStride*4)}
	fan := &region{base: 0x30000, data: make([]byte, 2*FanExecDwords*4)}
	start := uint64(0x1_ffff_fff0)

	inv := &Invocation{
		Constants:  DrawRewriteParams{DrawBufStride: 16, FanIndexBufStride: fanStride, FanIndexBufStart: start}.Dwords(),
		GroupCount: [3]uint32{2, 1, 1},
		Memory:     testMemory{in, out, fan},
	}
	inv.Views[RootParamInput] = in.base
	inv.Views[RootParamOutput] = out.base
	inv.Views[RootParamFanExec] = fan.base
	dispatch(t, key, inv)

	got := words(out.data, int(2*execStride))
	// draw 0 has 3 triangles, clamped to the two the stride can hold
	if got[2] != 2*12 || got[7] != 6 {
		t.Fatalf("draw 0 view size %d index count %d", got[2], got[7])
	}
	va1 := start + fanStride
	rec1 := got[execStride:]
	if rec1[0] != uint32(va1) || rec1[1] != uint32(va1>>32) {
		t.Fatalf("draw 1 view address %#x%08x, want %#x", rec1[1], rec1[0], va1)
	}
	if rec1[7] != 3 || rec1[8] != 2 || rec1[10] != 4 || rec1[11] != 1 {
		t.Fatalf("draw 1 args %v", rec1[7:12])
	}

	fanRec := words(fan.data, 2*FanExecDwords)[FanExecDwords:]
	want := []uint32{0, fanStride / 4, PackIndex(0, 0), 1, 1, 1, 1}
	if !reflect.DeepEqual(fanRec, want) {
		t.Fatalf("fan exec record = %v, want %v", fanRec, want)
	}
}

func TestUnbackedAccess(t *testing.T) {
	inv := &Invocation{
		Constants:  FanRewriteParams{TriangleCount: 1}.Dwords(),
		GroupCount: [3]uint32{1, 1, 1},
		Memory:     testMemory{},
	}
	kernel, _ := HostKernel(Key{Kind: KindFanRewrite}.Label())
	if err := kernel(inv, 0); !errors.Is(err, ErrUnbackedAccess) {
		t.Fatalf("err = %v, want ErrUnbackedAccess", err)
	}
}

func TestAllKeysHaveSources(t *testing.T) {
	seen := map[string]bool{}
	for _, k := range AllKeys() {
		if seen[k.Label()] {
			t.Fatalf("duplicate label %s", k.Label())
		}
		seen[k.Label()] = true
		if _, ok := HostKernel(k.Label()); !ok {
			t.Errorf("missing host kernel for %s", k.Label())
		}
		if Source(k) == "" {
			t.Errorf("empty source for %s", k.Label())
		}
	}
}

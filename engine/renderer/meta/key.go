// Package meta holds the auxiliary compute kernels used to rewrite indirect
// draw arguments and triangle-fan index buffers on the GPU: their cache keys,
// parameter blocks, WGSL sources and host reference implementations.
package meta

import (
	"encoding/binary"
	"fmt"
)

type Kind uint8

const (
	// KindDrawRewrite turns application indirect draw records into native
	// execute-indirect records, one invocation per draw.
	KindDrawRewrite Kind = iota
	// KindFanRewrite expands a triangle fan into a triangle list index
	// buffer, one invocation per triangle.
	KindFanRewrite
)

// Key identifies one compiled variant of a kernel.
type Key struct {
	Kind        Kind
	Indexed     bool
	TriangleFan bool
	CountBuffer bool
	// Index width in bytes (0, 2 or 4) in the low byte, index offset
	// adjustment in the next byte. Only used by fan draw rewrites.
	OldIndexPacking uint32
}

func (k Key) Label() string {
	switch k.Kind {
	case KindFanRewrite:
		return "meta.fan_rewrite"
	default:
		return fmt.Sprintf("meta.draw_rewrite.indexed=%t.fan=%t.count=%t.packing=%#x",
			k.Indexed, k.TriangleFan, k.CountBuffer, k.OldIndexPacking)
	}
}

// PackIndex builds the packing word for an index buffer of width bytes whose
// binding address had to be aligned down by adjust elements.
func PackIndex(width, adjust uint32) uint32 {
	return width&0xff | (adjust&0xff)<<8
}

func UnpackIndex(packing uint32) (width, adjust uint32) {
	return packing & 0xff, (packing >> 8) & 0xff
}

// Root parameter slots shared by every meta root signature.
const (
	RootParamConstants = 0
	RootParamInput     = 1
	RootParamOutput    = 2
	RootParamCount     = 3
	RootParamFanExec   = 4
	RootParamNum       = 5
)

// ParamsDwords is the number of 32-bit root constants of every kernel.
const ParamsDwords = 4

// DrawRewriteParams is the 16-byte parameter block of the draw rewrite.
type DrawRewriteParams struct {
	DrawBufStride     uint32
	FanIndexBufStride uint32
	FanIndexBufStart  uint64
}

func (p DrawRewriteParams) Dwords() []uint32 {
	return []uint32{
		p.DrawBufStride,
		p.FanIndexBufStride,
		uint32(p.FanIndexBufStart),
		uint32(p.FanIndexBufStart >> 32),
	}
}

func DrawRewriteParamsFrom(v []uint32) DrawRewriteParams {
	return DrawRewriteParams{
		DrawBufStride:     v[0],
		FanIndexBufStride: v[1],
		FanIndexBufStart:  uint64(v[2]) | uint64(v[3])<<32,
	}
}

// FanRewriteParams is the 16-byte parameter block of the fan rewrite.
type FanRewriteParams struct {
	FirstIndex      uint32
	NewIndexBase    uint32
	OldIndexPacking uint32
	TriangleCount   uint32
}

func (p FanRewriteParams) Dwords() []uint32 {
	return []uint32{p.FirstIndex, p.NewIndexBase, p.OldIndexPacking, p.TriangleCount}
}

func FanRewriteParamsFrom(v []uint32) FanRewriteParams {
	return FanRewriteParams{
		FirstIndex:      v[0],
		NewIndexBase:    v[1],
		OldIndexPacking: v[2],
		TriangleCount:   v[3],
	}
}

// Sizes, in 32-bit words, of the records written by the draw rewrite.
const (
	SysvalDwords       = 3
	DrawArgsDwords     = 4
	IndexedArgsDwords  = 5
	IndexBufViewDwords = 4
	// constants(4) + dispatch(3)
	FanExecDwords = ParamsDwords + 3
)

// ExecStrideDwords returns the size of one native record produced by the
// draw rewrite of key.
func ExecStrideDwords(k Key) uint32 {
	switch {
	case k.TriangleFan:
		return IndexBufViewDwords + SysvalDwords + IndexedArgsDwords
	case k.Indexed:
		return SysvalDwords + IndexedArgsDwords
	default:
		return SysvalDwords + DrawArgsDwords
	}
}

// SourceRecordSize is the size of the application draw records.
func SourceRecordSize(indexed bool) uint32 {
	if indexed {
		return 20
	}
	return 16
}

// AllKeys lists every kernel variant that can be requested.
func AllKeys() []Key {
	keys := []Key{{Kind: KindFanRewrite}}
	for _, indexed := range []bool{false, true} {
		for _, count := range []bool{false, true} {
			keys = append(keys, Key{Kind: KindDrawRewrite, Indexed: indexed, CountBuffer: count})
			packings := []uint32{PackIndex(0, 0)}
			if indexed {
				packings = []uint32{PackIndex(2, 0), PackIndex(2, 1), PackIndex(4, 0)}
			}
			for _, p := range packings {
				keys = append(keys, Key{Kind: KindDrawRewrite, Indexed: indexed, TriangleFan: true, CountBuffer: count, OldIndexPacking: p})
			}
		}
	}
	return keys
}

func le32(b []byte, i uint32) uint32 {
	return binary.LittleEndian.Uint32(b[i*4:])
}

func put32(b []byte, i uint32, v uint32) {
	binary.LittleEndian.PutUint32(b[i*4:], v)
}

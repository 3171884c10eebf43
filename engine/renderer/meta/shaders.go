package meta

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/naga"

	"github.com/spaghettifunk/dozen/engine/renderer/native"
)

//go:embed shaders/draw_rewrite.wgsl
var drawRewriteSource string

//go:embed shaders/fan_rewrite.wgsl
var fanRewriteSource string

// Source returns the WGSL source of the variant identified by k.
func Source(k Key) string {
	if k.Kind == KindFanRewrite {
		return fanRewriteSource
	}
	var b strings.Builder
	fmt.Fprintf(&b, "const INDEXED: bool = %t;\n", k.Indexed)
	fmt.Fprintf(&b, "const TRIANGLE_FAN: bool = %t;\n", k.TriangleFan)
	fmt.Fprintf(&b, "const COUNT_BUFFER: bool = %t;\n", k.CountBuffer)
	fmt.Fprintf(&b, "const OLD_INDEX_PACKING: u32 = %du;\n", k.OldIndexPacking)
	fmt.Fprintf(&b, "const EXEC_STRIDE: u32 = %du;\n", ExecStrideDwords(k))
	fmt.Fprintf(&b, "const FORMAT_R32_UINT: u32 = %du;\n\n", uint32(native.FormatR32Uint))
	b.WriteString(drawRewriteSource)
	return b.String()
}

// CompileWGSL compiles WGSL source to SPIR-V words.
func CompileWGSL(source string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(source)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compile shader")
	}
	if len(spirvBytes)%4 != 0 {
		return nil, errors.Newf("spir-v module size %d is not a multiple of 4", len(spirvBytes))
	}

	// SPIR-V is little-endian 32-bit words
	spirv := make([]uint32, len(spirvBytes)/4)
	for i := range spirv {
		spirv[i] = le32(spirvBytes, uint32(i))
	}
	return spirv, nil
}

// PipelineDesc compiles the variant k into a compute pipeline description
// bound to root.
func PipelineDesc(k Key, root native.RootSignature) (native.ComputePipelineDesc, error) {
	spirv, err := CompileWGSL(Source(k))
	if err != nil {
		return native.ComputePipelineDesc{}, errors.Wrapf(err, "meta pipeline %s", k.Label())
	}
	return native.ComputePipelineDesc{
		RootSignature: root,
		SPIRV:         spirv,
		EntryPoint:    "main",
		Label:         k.Label(),
	}, nil
}

// RootSignatureDesc describes the root layout shared by all kernels: the
// parameter block followed by raw buffer views.
func RootSignatureDesc(k Key) native.RootSignatureDesc {
	params := []native.RootParameter{
		{Type: native.RootParameterType32BitConstants, ShaderRegister: 0, Num32BitValues: ParamsDwords},
		{Type: native.RootParameterTypeSRV, ShaderRegister: 1},
		{Type: native.RootParameterTypeUAV, ShaderRegister: 2},
	}
	if k.Kind == KindDrawRewrite {
		params = append(params,
			native.RootParameter{Type: native.RootParameterTypeSRV, ShaderRegister: 3},
			native.RootParameter{Type: native.RootParameterTypeUAV, ShaderRegister: 4},
		)
	}
	return native.RootSignatureDesc{Parameters: params}
}

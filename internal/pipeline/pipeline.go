// Package pipeline builds the quad render pipelines: shader variant
// selection, WGSL validation, bind group layouts and the pipeline state.
package pipeline

import (
	_ "embed"
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"
)

//go:embed shaders/quad.wgsl
var quadShaderSource string

const (
	// VertexStride is the size of one vertex: float3 position, float2 uv.
	VertexStride = 20

	// UVOffset is the byte offset of the uv attribute.
	UVOffset = 12

	// EntryVertex and EntryFragment are the shader entry points.
	EntryVertex   = "vs_main"
	EntryFragment = "fs_main"
)

var (
	// ErrDirective is returned for malformed preprocessor directives.
	ErrDirective = errors.New("pipeline: bad shader directive")

	// ErrShader is returned when WGSL validation fails.
	ErrShader = errors.New("pipeline: shader validation failed")
)

// Kind selects the shader variant.
type Kind uint8

const (
	KindBasic Kind = iota
	KindAnimated
	KindTextured
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindBasic:
		return "basic"
	case KindAnimated:
		return "animated"
	case KindTextured:
		return "textured"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Defines returns the preprocessor symbols set for kind.
func (k Kind) Defines() map[string]bool {
	switch k {
	case KindAnimated:
		return map[string]bool{"SAMPLE_ANIMATED": true, "HAS_TRANSFORM": true}
	case KindTextured:
		return map[string]bool{"SAMPLE_TEXTURED": true, "HAS_TRANSFORM": true}
	default:
		return map[string]bool{"SAMPLE_BASIC": true}
	}
}

// Source returns the resolved WGSL for kind.
func Source(kind Kind) (string, error) {
	return Preprocess(quadShaderSource, kind.Defines())
}

// Validate parses, lowers and validates WGSL and returns the SPIR-V words.
func Validate(src string) ([]uint32, error) {
	spirvBytes, err := naga.CompileWithOptions(src, naga.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrShader, err)
	}

	// SPIR-V is little-endian 32-bit words.
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return words, nil
}

// VertexLayout returns the fixed quad input layout.
func VertexLayout() []gputypes.VertexBufferLayout {
	return []gputypes.VertexBufferLayout{
		{
			ArrayStride: VertexStride,
			StepMode:    gputypes.VertexStepModeVertex,
			Attributes: []gputypes.VertexAttribute{
				{Format: gputypes.VertexFormatFloat32x3, Offset: 0, ShaderLocation: 0},
				{Format: gputypes.VertexFormatFloat32x2, Offset: UVOffset, ShaderLocation: 1},
			},
		},
	}
}

// AlphaBlend is straight alpha blending on color; alpha passes through.
func AlphaBlend() gputypes.BlendState {
	return gputypes.BlendState{
		Color: gputypes.BlendComponent{
			SrcFactor: gputypes.BlendFactorSrcAlpha,
			DstFactor: gputypes.BlendFactorOneMinusSrcAlpha,
			Operation: gputypes.BlendOperationAdd,
		},
		Alpha: gputypes.BlendComponent{
			SrcFactor: gputypes.BlendFactorOne,
			DstFactor: gputypes.BlendFactorZero,
			Operation: gputypes.BlendOperationAdd,
		},
	}
}

// Pipeline is a built render pipeline with its layouts.
type Pipeline struct {
	Kind       Kind
	Format     gputypes.TextureFormat
	Signature  Signature
	SPIRVWords int

	Shader      hal.ShaderModule
	GroupLayout []hal.BindGroupLayout // indexed by Param.Group
	Layout      hal.PipelineLayout
	Pipeline    hal.RenderPipeline
}

// Build validates the shader for kind and creates the pipeline for color
// targets of the given format.
func Build(device hal.Device, kind Kind, format gputypes.TextureFormat) (*Pipeline, error) {
	src, err := Source(kind)
	if err != nil {
		return nil, err
	}
	words, err := Validate(src)
	if err != nil {
		return nil, fmt.Errorf("%s shader: %w", kind, err)
	}

	p := &Pipeline{
		Kind:       kind,
		Format:     format,
		Signature:  SignatureFor(kind),
		SPIRVWords: len(words),
	}
	if err := p.create(device, src); err != nil {
		p.Destroy(device)
		return nil, err
	}
	return p, nil
}

func (p *Pipeline) create(device hal.Device, src string) error {
	label := "quad_" + p.Kind.String()

	shader, err := device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label + "_shader",
		Source: hal.ShaderSource{WGSL: src},
	})
	if err != nil {
		return fmt.Errorf("compile %s shader: %w", label, err)
	}
	p.Shader = shader

	for _, param := range p.Signature.Params {
		layout, err := device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
			Label:   fmt.Sprintf("%s_group%d_layout", label, param.Group),
			Entries: param.Entries,
		})
		if err != nil {
			return fmt.Errorf("create %s bind group layout %d: %w", label, param.Group, err)
		}
		p.GroupLayout = append(p.GroupLayout, layout)
	}

	pipeLayout, err := device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            label + "_pipe_layout",
		BindGroupLayouts: p.GroupLayout,
	})
	if err != nil {
		return fmt.Errorf("create %s pipeline layout: %w", label, err)
	}
	p.Layout = pipeLayout

	blend := AlphaBlend()
	pipeline, err := device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  label + "_pipeline",
		Layout: p.Layout,
		Vertex: hal.VertexState{
			Module:     p.Shader,
			EntryPoint: EntryVertex,
			Buffers:    VertexLayout(),
		},
		Fragment: &hal.FragmentState{
			Module:     p.Shader,
			EntryPoint: EntryFragment,
			Targets: []gputypes.ColorTargetState{
				{
					Format:    p.Format,
					Blend:     &blend,
					WriteMask: gputypes.ColorWriteMaskAll,
				},
			},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleList,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return fmt.Errorf("create %s pipeline: %w", label, err)
	}
	p.Pipeline = pipeline
	return nil
}

// Destroy releases the pipeline resources in reverse creation order.
// Safe to call on a partially built pipeline.
func (p *Pipeline) Destroy(device hal.Device) {
	if p == nil || device == nil {
		return
	}
	if p.Pipeline != nil {
		device.DestroyRenderPipeline(p.Pipeline)
		p.Pipeline = nil
	}
	if p.Layout != nil {
		device.DestroyPipelineLayout(p.Layout)
		p.Layout = nil
	}
	for i := len(p.GroupLayout) - 1; i >= 0; i-- {
		device.DestroyBindGroupLayout(p.GroupLayout[i])
	}
	p.GroupLayout = nil
	if p.Shader != nil {
		device.DestroyShaderModule(p.Shader)
		p.Shader = nil
	}
}

package pipeline

import "github.com/gogpu/gputypes"

// ParamKind is the type of a root signature parameter.
type ParamKind uint8

const (
	// ParamConstantBuffer is a single uniform buffer binding.
	ParamConstantBuffer ParamKind = iota
	// ParamDescriptorTable is a texture and sampler pair.
	ParamDescriptorTable
)

// Param is one root signature parameter. Each parameter maps to one bind
// group; Group is its index in the pipeline layout.
type Param struct {
	Kind       ParamKind
	Group      uint32
	Visibility gputypes.ShaderStages
	Entries    []gputypes.BindGroupLayoutEntry
}

// Signature describes the shader resource bindings of a pipeline.
type Signature struct {
	Params []Param
}

// Len returns the number of parameters.
func (s Signature) Len() int { return len(s.Params) }

// SignatureFor returns the root signature used by kind: none for basic, a
// vertex-visible constant buffer for animated and a constant buffer plus a
// fragment-visible texture table for textured.
func SignatureFor(kind Kind) Signature {
	switch kind {
	case KindAnimated:
		return Signature{Params: []Param{constantBufferParam()}}
	case KindTextured:
		return Signature{Params: []Param{constantBufferParam(), textureTableParam()}}
	default:
		return Signature{}
	}
}

func constantBufferParam() Param {
	return Param{
		Kind:       ParamConstantBuffer,
		Group:      0,
		Visibility: gputypes.ShaderStageVertex,
		Entries: []gputypes.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: gputypes.ShaderStageVertex,
				Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
			},
		},
	}
}

func textureTableParam() Param {
	return Param{
		Kind:       ParamDescriptorTable,
		Group:      1,
		Visibility: gputypes.ShaderStageFragment,
		Entries: []gputypes.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: gputypes.ShaderStageFragment,
				Texture: &gputypes.TextureBindingLayout{
					SampleType:    gputypes.TextureSampleTypeFloat,
					ViewDimension: gputypes.TextureViewDimension2D,
				},
			},
			{
				Binding:    1,
				Visibility: gputypes.ShaderStageFragment,
				Sampler:    &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering},
			},
		},
	}
}

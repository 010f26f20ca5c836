package hellogpu

import (
	_ "embed"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/hellogpu/internal/imageio"
	"github.com/gogpu/hellogpu/internal/upload"
)

//go:embed assets/quad.png
var defaultImage []byte

// textureFormat is the sampled format. Decoded images hold sRGB-encoded
// bytes, so sampling decodes them to linear.
const textureFormat = gputypes.TextureFormatRGBA8UnormSrgb

// textureRowAlignment is the pixel alignment that gives copy-ready row
// pitches.
const textureRowAlignment = upload.RowPitchAlignment / imageio.BytesPerPixel

// loadImage decodes the configured image, or the built-in one.
func loadImage(o *options) (*imageio.Image, error) {
	switch {
	case len(o.imageData) > 0:
		return imageio.Load(o.imageData, textureRowAlignment)
	case o.imageFile != "":
		return imageio.LoadFile(o.imageFile, textureRowAlignment)
	default:
		return imageio.Load(defaultImage, textureRowAlignment)
	}
}

// fitTransform scales the full-viewport quad so an image of w by h pixels
// keeps its proportions on a target with the given aspect ratio.
func fitTransform(w, h int, aspect float32) Matrix {
	imageAspect := float32(w) / float32(h)
	if imageAspect > aspect {
		return Scale(1, aspect/imageAspect)
	}
	return Scale(imageAspect/aspect, 1)
}

// texturedQuad samples a decoded image. Its transform never changes, so a
// single uniform buffer serves every slot.
type texturedQuad struct {
	geometry

	width   int
	height  int
	uniform hal.Buffer
	texture hal.Texture
	view    hal.TextureView
	sampler hal.Sampler
	groups  [2]hal.BindGroup
}

func (q *texturedQuad) init(s *setup) error {
	img, err := loadImage(s.opts)
	if err != nil {
		s.logger.Error("hellogpu: image load failed", "err", err)
		return err
	}
	q.width, q.height = img.Width, img.Height
	s.logger.Debug("hellogpu: image decoded", "format", img.Format, "width", img.Width, "height", img.Height, "stride", img.Stride)

	targets, err := q.record(s,
		upload.Blob{
			Label: "quad_transform",
			Kind:  upload.KindUniform,
			Data:  fitTransform(img.Width, img.Height, s.aspect()).Bytes(),
		},
		upload.Blob{
			Label:       "quad_texture",
			Kind:        upload.KindTexture,
			Data:        img.Pix,
			Width:       uint32(img.Width),
			Height:      uint32(img.Height),
			BytesPerRow: uint32(img.Stride),
			Format:      textureFormat,
		},
	)
	if err != nil {
		return err
	}
	q.uniform = targets[0].Buffer
	q.texture = targets[1].Texture

	q.view, err = s.device.CreateTextureView(q.texture, &hal.TextureViewDescriptor{
		Label:         "quad_texture_view",
		Format:        textureFormat,
		Dimension:     gputypes.TextureViewDimension2D,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: 1,
	})
	if err != nil {
		return fmt.Errorf("create quad texture view: %w", err)
	}

	q.sampler, err = s.device.CreateSampler(&hal.SamplerDescriptor{
		Label:        "quad_sampler",
		AddressModeU: gputypes.AddressModeClampToEdge,
		AddressModeV: gputypes.AddressModeClampToEdge,
		AddressModeW: gputypes.AddressModeClampToEdge,
		MagFilter:    gputypes.FilterModeLinear,
		MinFilter:    gputypes.FilterModeLinear,
		MipmapFilter: gputypes.FilterModeLinear,
	})
	if err != nil {
		return fmt.Errorf("create quad sampler: %w", err)
	}

	q.groups[0], err = createUniformGroup(s.device, s.pipeline.GroupLayout[0], "quad_transform_group", q.uniform)
	if err != nil {
		return fmt.Errorf("create transform bind group: %w", err)
	}
	q.groups[1], err = s.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "quad_texture_group",
		Layout: s.pipeline.GroupLayout[1],
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.TextureViewBinding{TextureView: q.view.NativeHandle()}},
			{Binding: 1, Resource: gputypes.SamplerBinding{Sampler: q.sampler.NativeHandle()}},
		},
	})
	if err != nil {
		return fmt.Errorf("create texture bind group: %w", err)
	}
	return nil
}

func (q *texturedQuad) update(int, uint64) error { return nil }

func (q *texturedQuad) draw(pass hal.RenderPassEncoder, _ int) {
	pass.SetPipeline(q.pipeline.Pipeline)
	pass.SetBindGroup(0, q.groups[0], nil)
	pass.SetBindGroup(1, q.groups[1], nil)
	q.geometry.draw(pass)
}

func (q *texturedQuad) release(device hal.Device) {
	for i := len(q.groups) - 1; i >= 0; i-- {
		if q.groups[i] != nil {
			device.DestroyBindGroup(q.groups[i])
			q.groups[i] = nil
		}
	}
	if q.sampler != nil {
		device.DestroySampler(q.sampler)
		q.sampler = nil
	}
	if q.view != nil {
		device.DestroyTextureView(q.view)
		q.view = nil
	}
	q.uniform = nil
	q.texture = nil
	q.geometry.release(device)
}

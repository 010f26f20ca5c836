package hellogpu

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/hellogpu/internal/pipeline"
	"github.com/gogpu/hellogpu/internal/upload"
)

// Variant selects what a Sample draws. The set is closed.
type Variant uint8

const (
	// VariantQuad draws a static quad colored from its texture coordinates.
	VariantQuad Variant = iota

	// VariantAnimatedQuad rotates the quad a little every frame.
	VariantAnimatedQuad

	// VariantTexturedQuad draws the quad sampling a decoded image.
	VariantTexturedQuad
)

// Variants lists every variant in declaration order.
func Variants() []Variant {
	return []Variant{VariantQuad, VariantAnimatedQuad, VariantTexturedQuad}
}

// String returns the variant name.
func (v Variant) String() string {
	switch v {
	case VariantQuad:
		return "quad"
	case VariantAnimatedQuad:
		return "animated-quad"
	case VariantTexturedQuad:
		return "textured-quad"
	default:
		return fmt.Sprintf("Variant(%d)", v)
	}
}

// ParseVariant returns the variant named s, as printed by String.
func ParseVariant(s string) (Variant, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, v := range Variants() {
		if v.String() == name {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownVariant, s)
}

func (v Variant) valid() bool { return v <= VariantTexturedQuad }

// pipelineKind maps the variant to its shader switch.
func (v Variant) pipelineKind() pipeline.Kind {
	switch v {
	case VariantAnimatedQuad:
		return pipeline.KindAnimated
	case VariantTexturedQuad:
		return pipeline.KindTextured
	default:
		return pipeline.KindBasic
	}
}

// newDrawer returns the strategy that records v's resources and draws.
func (v Variant) newDrawer() drawer {
	switch v {
	case VariantAnimatedQuad:
		return &animatedQuad{}
	case VariantTexturedQuad:
		return &texturedQuad{}
	default:
		return &quad{}
	}
}

// setup is what a drawer needs to create its resources.
type setup struct {
	device   hal.Device
	queue    hal.Queue
	uploader *upload.Uploader
	pipeline *pipeline.Pipeline
	width    uint32
	height   uint32
	opts     *options
	logger   *slog.Logger
}

// aspect returns width over height of the back buffers.
func (s *setup) aspect() float32 {
	return float32(s.width) / float32(s.height)
}

// drawer is the per-variant strategy.
//
// init records the variant's uploads into the open uploader batch and
// creates the bind groups; the Sample submits the batch and waits for it.
// update runs once the slot's fence has been reached, so slot-owned
// resources may be rewritten. draw records into the frame's open pass.
type drawer interface {
	init(s *setup) error
	update(slot int, frame uint64) error
	draw(pass hal.RenderPassEncoder, slot int)
	release(device hal.Device)
}

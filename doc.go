// Package hellogpu renders a textured, alpha-blended quad through a
// triple-buffered swap chain with explicit CPU/GPU synchronization.
//
// # Overview
//
// hellogpu is a small sample on top of the gogpu HAL. It shows the parts
// every low-level renderer repeats: opening a device, configuring a ring of
// back buffers, uploading geometry through a staging buffer, building a
// pipeline, and pacing frames with fences so that a slot's resources are
// only reused once the GPU is done with them.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/hellogpu"
//	    _ "github.com/gogpu/wgpu/hal/allbackends"
//	)
//
//	s, err := hellogpu.New(hellogpu.VariantTexturedQuad)
//	if err != nil {
//	    return err
//	}
//	if err := s.Run(ctx, 512); err != nil {
//	    return err
//	}
//
// # Variants
//
// Three variants share the same frame loop:
//   - [VariantQuad]: a static quad colored from its texture coordinates
//   - [VariantAnimatedQuad]: the quad rotates, driven by a per-slot uniform buffer
//   - [VariantTexturedQuad]: the quad samples a decoded image
//
// # Headless rendering
//
// Without [WithWindow] the sample renders into an offscreen ring of the
// same shape as a surface swap chain. [WithCapture] receives the last frame.
//
// # Architecture
//
// The package is organized into:
//   - Public API: Sample, Variant, Option, Window
//   - internal/device: backend, adapter and device selection
//   - internal/swapchain: the back buffer ring and frame readback
//   - internal/frame: the per-frame fence state machine
//   - internal/upload: staging uploads retired by fence value
//   - internal/pipeline: WGSL variants, root signatures and pipeline state
//   - internal/imageio: image decoding into row-aligned RGBA
//   - internal/fence: timeline fences over queue submissions
//
// # Logging
//
// hellogpu is silent by default. Use [SetLogger] to route diagnostics to a
// [log/slog] handler.
package hellogpu

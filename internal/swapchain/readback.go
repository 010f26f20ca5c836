package swapchain

import (
	"context"
	"errors"
	"fmt"
	"image"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/hellogpu/internal/fence"
)

// copyPitchAlignment is the BytesPerRow alignment of texture-to-buffer copies.
const copyPitchAlignment = 256

// ErrCaptureSurface is returned when capturing a surface-backed swap chain.
var ErrCaptureSurface = errors.New("swapchain: capture needs an offscreen swap chain")

// Capture copies the slot's back buffer into a new image. The slot's frame
// must have been submitted and the image is read once the copy completes.
// Pixels hold the sRGB-encoded bytes the render-target view wrote. Alpha is
// forced opaque, matching how the surface composites.
func (s *SwapChain) Capture(ctx context.Context, queue hal.Queue, slot int) (*image.NRGBA, error) {
	if s.surface != nil {
		return nil, ErrCaptureSurface
	}
	if slot < 0 || slot >= len(s.slots) {
		return nil, fmt.Errorf("%w: %d", ErrSlot, slot)
	}
	tex := s.slots[slot].texture

	w, h := s.width, s.height
	alignedBytesPerRow := (w*4 + copyPitchAlignment - 1) &^ (copyPitchAlignment - 1)
	size := uint64(alignedBytesPerRow) * uint64(h)

	staging, err := s.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "capture_staging",
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("create capture buffer: %w", err)
	}
	defer s.device.DestroyBuffer(staging)

	encoder, err := s.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "capture_encoder"})
	if err != nil {
		return nil, fmt.Errorf("create capture encoder: %w", err)
	}
	defer encoder.Destroy()

	if err := encoder.BeginEncoding("capture"); err != nil {
		return nil, fmt.Errorf("begin capture encoding: %w", err)
	}
	encoder.CopyTextureToBuffer(tex, staging, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{Offset: 0, BytesPerRow: alignedBytesPerRow, RowsPerImage: h},
		TextureBase:  hal.ImageCopyTexture{Texture: tex, MipLevel: 0, Aspect: gputypes.TextureAspectAll},
		Size:         hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
	}})
	cmd, err := encoder.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("end capture encoding: %w", err)
	}

	sub, err := queue.Submit([]hal.CommandBuffer{cmd})
	if err != nil {
		return nil, fmt.Errorf("submit capture: %w", err)
	}
	f := fence.New("capture", queue)
	if err := f.Signal(1, sub); err != nil {
		return nil, err
	}
	if err := f.Wait(ctx, 1); err != nil {
		// The copy still owns staging and cmd; let it finish before the
		// deferred destroys run.
		if drainErr := f.Wait(context.Background(), 1); drainErr != nil {
			s.logger.Warn("swapchain: capture drain failed", "err", drainErr)
		}
		encoder.ResetAll([]hal.CommandBuffer{cmd})
		return nil, err
	}
	encoder.ResetAll([]hal.CommandBuffer{cmd})

	m, err := s.device.MapBuffer(staging, 0, size)
	if err != nil {
		return nil, fmt.Errorf("map capture buffer: %w", err)
	}
	mem := unsafe.Slice((*byte)(m.Ptr), size)

	img := image.NewNRGBA(image.Rect(0, 0, int(w), int(h)))
	rowBytes := int(w) * 4
	for y := range int(h) {
		src := mem[y*int(alignedBytesPerRow) : y*int(alignedBytesPerRow)+rowBytes]
		dst := img.Pix[y*img.Stride : y*img.Stride+rowBytes]
		copy(dst, src)
		for x := 3; x < rowBytes; x += 4 {
			dst[x] = 0xFF
		}
	}
	if err := s.device.UnmapBuffer(staging); err != nil {
		return nil, fmt.Errorf("unmap capture buffer: %w", err)
	}
	return img, nil
}

// Package upload copies CPU data into device-local GPU resources through a
// host-visible staging buffer.
//
// A batch is recorded with Record, submitted with Submit and retired with
// Wait. The staging buffer of a batch is tied to a fence value and is only
// destroyed once the GPU has reached that value.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/hellogpu/internal/fence"
)

var (
	// ErrRecording is returned by Record while a batch is still open.
	ErrRecording = errors.New("upload: batch already recording")

	// ErrNotRecording is returned by Submit without a recorded batch.
	ErrNotRecording = errors.New("upload: no batch recorded")

	// ErrBusy is returned by Record while the previous batch is still
	// executing on the GPU.
	ErrBusy = errors.New("upload: previous batch in flight")
)

// Config holds the uploader dependencies.
type Config struct {
	Device hal.Device
	Queue  hal.Queue
	Logger *slog.Logger
}

// Target is a destination resource created by Record.
// Exactly one of Buffer and Texture is set.
type Target struct {
	Label   string
	Kind    Kind
	Size    uint64
	Buffer  hal.Buffer
	Texture hal.Texture
}

type staging struct {
	buffer hal.Buffer
	value  uint64
	size   uint64
}

// Uploader records staging copies. It is not safe for concurrent use.
type Uploader struct {
	device  hal.Device
	queue   hal.Queue
	logger  *slog.Logger
	encoder hal.CommandEncoder
	cmdBuf  hal.CommandBuffer
	fence   *fence.Fence

	nextValue uint64
	open      *staging
	inFlight  []staging
	uploaded  uint64
}

// New creates an uploader with its own command encoder and fence.
func New(cfg Config) (*Uploader, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	encoder, err := cfg.Device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "upload_encoder"})
	if err != nil {
		return nil, fmt.Errorf("create upload encoder: %w", err)
	}
	return &Uploader{
		device:    cfg.Device,
		queue:     cfg.Queue,
		logger:    logger,
		encoder:   encoder,
		fence:     fence.New("upload", cfg.Queue),
		nextValue: 1,
	}, nil
}

// Record creates one destination per blob, fills a new staging buffer and
// records the copies followed by batched state transitions. Nothing is
// executed until Submit.
func (u *Uploader) Record(blobs []Blob) ([]Target, error) {
	if u.open != nil {
		return nil, ErrRecording
	}
	if !u.fence.Reached(u.fence.Signaled()) {
		return nil, ErrBusy
	}
	for i := range blobs {
		if err := blobs[i].validate(); err != nil {
			return nil, err
		}
	}

	regions, total := Plan(blobs)
	buf, err := u.fillStaging(blobs, regions, total)
	if err != nil {
		return nil, err
	}

	targets, err := u.createTargets(blobs)
	if err != nil {
		u.device.DestroyBuffer(buf)
		return nil, err
	}

	if u.cmdBuf != nil {
		u.encoder.ResetAll([]hal.CommandBuffer{u.cmdBuf})
		u.cmdBuf = nil
	}
	if err := u.encoder.BeginEncoding("upload"); err != nil {
		destroyTargets(u.device, targets)
		u.device.DestroyBuffer(buf)
		return nil, fmt.Errorf("begin upload encoding: %w", err)
	}
	u.recordCopies(buf, blobs, regions, targets)

	u.open = &staging{buffer: buf, size: total}
	u.logger.Debug("upload: recorded batch", "blobs", len(blobs), "bytes", total)
	return targets, nil
}

func (u *Uploader) fillStaging(blobs []Blob, regions []Region, total uint64) (hal.Buffer, error) {
	buf, err := u.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "upload_staging",
		Size:  total,
		Usage: gputypes.BufferUsageMapWrite | gputypes.BufferUsageCopySrc,
	})
	if err != nil {
		return nil, fmt.Errorf("create staging buffer: %w", err)
	}

	m, err := u.device.MapBuffer(buf, 0, total)
	if err != nil {
		u.device.DestroyBuffer(buf)
		return nil, fmt.Errorf("map staging buffer: %w", err)
	}
	mem := unsafe.Slice((*byte)(m.Ptr), total)
	for i := range blobs {
		copy(mem[regions[i].Offset:regions[i].End()], blobs[i].Data)
	}
	if err := u.device.UnmapBuffer(buf); err != nil {
		u.device.DestroyBuffer(buf)
		return nil, fmt.Errorf("unmap staging buffer: %w", err)
	}
	return buf, nil
}

func (u *Uploader) createTargets(blobs []Blob) ([]Target, error) {
	targets := make([]Target, 0, len(blobs))
	for i := range blobs {
		b := &blobs[i]
		t := Target{Label: b.Label, Kind: b.Kind, Size: b.Size()}
		if b.Kind == KindTexture {
			tex, err := u.device.CreateTexture(&hal.TextureDescriptor{
				Label:         b.Label,
				Size:          hal.Extent3D{Width: b.Width, Height: b.Height, DepthOrArrayLayers: 1},
				MipLevelCount: 1,
				SampleCount:   1,
				Dimension:     gputypes.TextureDimension2D,
				Format:        b.Format,
				Usage:         gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
			})
			if err != nil {
				destroyTargets(u.device, targets)
				return nil, fmt.Errorf("create %s texture: %w", b.Label, err)
			}
			t.Texture = tex
		} else {
			buf, err := u.device.CreateBuffer(&hal.BufferDescriptor{
				Label: b.Label,
				Size:  b.Size(),
				Usage: finalBufferUsage(b.Kind) | gputypes.BufferUsageCopyDst,
			})
			if err != nil {
				destroyTargets(u.device, targets)
				return nil, fmt.Errorf("create %s buffer: %w", b.Label, err)
			}
			t.Buffer = buf
		}
		targets = append(targets, t)
	}
	return targets, nil
}

func (u *Uploader) recordCopies(src hal.Buffer, blobs []Blob, regions []Region, targets []Target) {
	var before []hal.TextureBarrier
	for _, t := range targets {
		if t.Texture != nil {
			before = append(before, textureBarrier(t.Texture, gputypes.TextureUsageNone, gputypes.TextureUsageCopyDst))
		}
	}
	if len(before) > 0 {
		u.encoder.TransitionTextures(before)
	}

	var bufBarriers []hal.BufferBarrier
	var texBarriers []hal.TextureBarrier
	for i, t := range targets {
		b := &blobs[i]
		if t.Texture != nil {
			u.encoder.CopyBufferToTexture(src, t.Texture, []hal.BufferTextureCopy{{
				BufferLayout: hal.ImageDataLayout{
					Offset:       regions[i].Offset,
					BytesPerRow:  b.BytesPerRow,
					RowsPerImage: b.Height,
				},
				TextureBase: hal.ImageCopyTexture{Texture: t.Texture, Aspect: gputypes.TextureAspectAll},
				Size:        hal.Extent3D{Width: b.Width, Height: b.Height, DepthOrArrayLayers: 1},
			}})
			texBarriers = append(texBarriers, textureBarrier(t.Texture, gputypes.TextureUsageCopyDst, gputypes.TextureUsageTextureBinding))
			continue
		}
		u.encoder.CopyBufferToBuffer(src, t.Buffer, []hal.BufferCopy{{
			SrcOffset: regions[i].Offset,
			Size:      regions[i].Size,
		}})
		bufBarriers = append(bufBarriers, hal.BufferBarrier{
			Buffer: t.Buffer,
			Usage: hal.BufferUsageTransition{
				OldUsage: gputypes.BufferUsageCopyDst,
				NewUsage: finalBufferUsage(t.Kind),
			},
		})
	}
	if len(bufBarriers) > 0 {
		u.encoder.TransitionBuffers(bufBarriers)
	}
	if len(texBarriers) > 0 {
		u.encoder.TransitionTextures(texBarriers)
	}
}

// Submit ends the recorded batch, submits it and signals the upload fence.
// It returns the fence value that marks the batch complete.
func (u *Uploader) Submit() (uint64, error) {
	if u.open == nil {
		return 0, ErrNotRecording
	}
	cmd, err := u.encoder.EndEncoding()
	if err != nil {
		u.encoder.DiscardEncoding()
		u.drop()
		return 0, fmt.Errorf("end upload encoding: %w", err)
	}

	sub, err := u.queue.Submit([]hal.CommandBuffer{cmd})
	if err != nil {
		u.encoder.ResetAll([]hal.CommandBuffer{cmd})
		u.drop()
		return 0, fmt.Errorf("submit upload: %w", err)
	}
	u.cmdBuf = cmd
	value := u.nextValue
	u.nextValue++
	u.open.value = value
	u.inFlight = append(u.inFlight, *u.open)
	u.uploaded += u.open.size
	u.open = nil
	if err := u.fence.Signal(value, sub); err != nil {
		return 0, err
	}
	return value, nil
}

// drop destroys the staging buffer of a batch that never reached the GPU.
// The destinations returned by Record stay with the caller.
func (u *Uploader) drop() {
	u.device.DestroyBuffer(u.open.buffer)
	u.open = nil
}

// Wait blocks until every submitted batch is complete and releases their
// staging buffers.
func (u *Uploader) Wait(ctx context.Context) error {
	if err := u.fence.Wait(ctx, u.fence.Signaled()); err != nil {
		return err
	}
	u.Release()
	return nil
}

// Release destroys the staging buffers of completed batches and returns how
// many remain in flight.
func (u *Uploader) Release() int {
	done := u.fence.Completed()
	n := 0
	for _, s := range u.inFlight {
		if s.value <= done {
			u.device.DestroyBuffer(s.buffer)
			continue
		}
		u.inFlight[n] = s
		n++
	}
	u.inFlight = u.inFlight[:n]
	return n
}

// InFlight returns the number of staging buffers awaiting completion.
func (u *Uploader) InFlight() int { return len(u.inFlight) }

// Uploaded returns the total staging bytes submitted so far.
func (u *Uploader) Uploaded() uint64 { return u.uploaded }

// Fence returns the upload fence.
func (u *Uploader) Fence() *fence.Fence { return u.fence }

// Close discards an unsubmitted batch, releases completed staging buffers
// and destroys the encoder. Staging buffers still in flight are logged and
// left to the device; call Wait first.
func (u *Uploader) Close() {
	if u.open != nil {
		u.encoder.DiscardEncoding()
		u.device.DestroyBuffer(u.open.buffer)
		u.open = nil
	}
	n := u.Release()
	if n > 0 {
		u.logger.Warn("upload: closing with staging buffers in flight", "count", n)
	}
	if u.cmdBuf != nil && n == 0 {
		u.encoder.ResetAll([]hal.CommandBuffer{u.cmdBuf})
		u.cmdBuf = nil
	}
	if u.encoder != nil {
		u.encoder.Destroy()
		u.encoder = nil
	}
}

// DestroyTargets releases resources returned by Record.
func DestroyTargets(device hal.Device, targets []Target) {
	destroyTargets(device, targets)
}

func destroyTargets(device hal.Device, targets []Target) {
	for i := len(targets) - 1; i >= 0; i-- {
		if targets[i].Texture != nil {
			device.DestroyTexture(targets[i].Texture)
		}
		if targets[i].Buffer != nil {
			device.DestroyBuffer(targets[i].Buffer)
		}
	}
}

func finalBufferUsage(k Kind) gputypes.BufferUsage {
	switch k {
	case KindIndex:
		return gputypes.BufferUsageIndex
	case KindUniform:
		return gputypes.BufferUsageUniform
	default:
		return gputypes.BufferUsageVertex
	}
}

func textureBarrier(tex hal.Texture, from, to gputypes.TextureUsage) hal.TextureBarrier {
	return hal.TextureBarrier{
		Texture: tex,
		Range:   hal.TextureRange{Aspect: gputypes.TextureAspectAll},
		Usage:   hal.TextureUsageTransition{OldUsage: from, NewUsage: to},
	}
}

package hellogpu

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/hellogpu/internal/device"
	"github.com/gogpu/hellogpu/internal/frame"
	"github.com/gogpu/hellogpu/internal/pipeline"
	"github.com/gogpu/hellogpu/internal/swapchain"
	"github.com/gogpu/hellogpu/internal/upload"
)

// SwapChainInfo describes the back buffer ring.
type SwapChainInfo struct {
	BufferCount int
	Format      gputypes.TextureFormat
	ViewFormat  gputypes.TextureFormat
	Width       uint32
	Height      uint32
	Headless    bool
}

// Stats reports progress since Init.
type Stats struct {
	Frames        uint64 // presented frames
	LastFence     uint64 // value signaled by the last submitted frame
	UploadedBytes uint64 // staging bytes copied to the GPU
}

// Sample renders one variant through a triple-buffered swap chain.
//
// The lifecycle is New, Init, any number of RenderFrame calls, Close.
// Run wraps all of it. A Sample is not safe for concurrent use.
type Sample struct {
	variant Variant
	opts    options
	logger  *slog.Logger
	drawer  drawer
	width   uint32
	height  uint32

	dev      *device.Device
	swap     *swapchain.SwapChain
	loop     *frame.Loop
	uploader *upload.Uploader
	pipe     *pipeline.Pipeline

	info  SwapChainInfo
	stats Stats // last counters, kept across Close

	initialized bool
	closed      bool
}

// New creates a sample for variant v. No GPU work happens until Init.
func New(v Variant, opts ...Option) (*Sample, error) {
	if !v.valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVariant, v)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	w, h := o.size()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrBadSize, w, h)
	}
	return &Sample{
		variant: v,
		opts:    o,
		logger:  Logger(),
		drawer:  v.newDrawer(),
		width:   uint32(w),
		height:  uint32(h),
	}, nil
}

// Variant returns the variant the sample draws.
func (s *Sample) Variant() Variant { return s.variant }

// Init opens the device, creates the swap chain, frame loop and pipeline,
// uploads the variant's resources and waits for the upload to complete.
// On failure everything created so far is released.
func (s *Sample) Init(ctx context.Context) error {
	switch {
	case s.closed:
		return ErrClosed
	case s.initialized:
		return ErrAlreadyInitialized
	}
	if err := s.init(ctx); err != nil {
		s.teardown()
		return err
	}
	s.initialized = true
	s.logger.Info("hellogpu: initialized",
		"variant", s.variant,
		"backend", s.dev.Backend,
		"adapter", s.dev.Adapter.Name,
		"width", s.width,
		"height", s.height)
	return nil
}

func (s *Sample) init(ctx context.Context) error {
	cfg := device.Config{
		Backends: s.opts.backends,
		Debug:    s.opts.debug,
		Logger:   s.logger,
	}
	if s.opts.window != nil {
		display, window := s.opts.window.NativeHandles()
		cfg.Window = &device.NativeWindow{Display: display, Window: window}
	}
	dev, err := device.Open(cfg)
	if err != nil {
		return err
	}
	s.dev = dev

	s.swap, err = swapchain.New(swapchain.Config{
		Device:  dev.Device,
		Surface: dev.Surface,
		Width:   s.width,
		Height:  s.height,
		Logger:  s.logger,
	})
	if err != nil {
		return err
	}
	w, h := s.swap.Size()
	s.info = SwapChainInfo{
		BufferCount: s.swap.BufferCount(),
		Format:      swapchain.Format,
		ViewFormat:  swapchain.ViewFormat,
		Width:       w,
		Height:      h,
		Headless:    s.swap.Headless(),
	}

	s.loop, err = frame.New(frame.Config{
		Device:    dev.Device,
		Queue:     dev.Queue,
		SwapChain: s.swap,
		Logger:    s.logger,
	})
	if err != nil {
		return err
	}

	s.uploader, err = upload.New(upload.Config{Device: dev.Device, Queue: dev.Queue, Logger: s.logger})
	if err != nil {
		return err
	}

	s.pipe, err = pipeline.Build(dev.Device, s.variant.pipelineKind(), swapchain.ViewFormat)
	if err != nil {
		return err
	}

	err = s.drawer.init(&setup{
		device:   dev.Device,
		queue:    dev.Queue,
		uploader: s.uploader,
		pipeline: s.pipe,
		width:    s.width,
		height:   s.height,
		opts:     &s.opts,
		logger:   s.logger,
	})
	if err != nil {
		return fmt.Errorf("init %s: %w", s.variant, err)
	}

	value, err := s.uploader.Submit()
	if err != nil {
		return err
	}
	s.logger.Debug("hellogpu: waiting for upload", "fence", value, "bytes", s.uploader.Uploaded())
	return s.uploader.Wait(ctx)
}

// RenderFrame records, submits and presents one frame. It blocks while the
// next slot's previous frame is still executing.
func (s *Sample) RenderFrame(ctx context.Context) error {
	switch {
	case s.closed:
		return ErrClosed
	case !s.initialized:
		return ErrNotInitialized
	}
	f, err := s.loop.Begin(ctx)
	if err != nil {
		return err
	}
	if err := s.drawer.update(f.Slot, f.Number); err != nil {
		if abortErr := s.loop.Abort(f); abortErr != nil {
			s.logger.Warn("hellogpu: abort frame failed", "err", abortErr)
		}
		return err
	}
	s.drawer.draw(f.Pass, f.Slot)
	if err := s.loop.End(f); err != nil {
		return err
	}
	if err := s.loop.Present(); err != nil {
		return err
	}
	if s.opts.window != nil {
		s.opts.window.RequestRedraw()
	}
	return nil
}

// Run initializes the sample, renders frameCount frames, waits for the GPU
// and closes the sample. With WithCapture and no window the last frame is
// read back before shutdown.
func (s *Sample) Run(ctx context.Context, frameCount int) error {
	if err := s.Init(ctx); err != nil {
		return err
	}
	defer s.Close()

	for range frameCount {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.RenderFrame(ctx); err != nil {
			return err
		}
	}
	if err := s.loop.Drain(ctx); err != nil {
		return err
	}

	if s.opts.capture != nil {
		if !s.swap.Headless() {
			s.logger.Warn("hellogpu: capture skipped, presenting to a window")
		} else {
			img, err := s.Capture(ctx)
			if err != nil {
				return err
			}
			if err := s.opts.capture(img); err != nil {
				return fmt.Errorf("capture callback: %w", err)
			}
		}
	}
	s.logger.Info("hellogpu: run finished", "variant", s.variant, "frames", s.loop.Frames())
	return nil
}

// Capture waits for outstanding frames and reads back the most recently
// submitted one. It needs an offscreen swap chain.
func (s *Sample) Capture(ctx context.Context) (*image.NRGBA, error) {
	switch {
	case s.closed:
		return nil, ErrClosed
	case !s.initialized:
		return nil, ErrNotInitialized
	}
	if err := s.loop.Drain(ctx); err != nil {
		return nil, err
	}
	return s.swap.Capture(ctx, s.dev.Queue, s.loop.LastSlot())
}

// SwapChainInfo describes the back buffers. It is zero before Init.
func (s *Sample) SwapChainInfo() SwapChainInfo { return s.info }

// Stats returns frame and upload counters. After Close it reports the
// final values.
func (s *Sample) Stats() Stats {
	if s.loop != nil {
		s.stats.Frames = s.loop.Frames()
		s.stats.LastFence = s.loop.NextFenceValue() - 1
	}
	if s.uploader != nil {
		s.stats.UploadedBytes = s.uploader.Uploaded()
	}
	return s.stats
}

// Adapter returns information about the adapter in use. It is zero
// before Init.
func (s *Sample) Adapter() gputypes.AdapterInfo {
	if s.dev == nil {
		return gputypes.AdapterInfo{}
	}
	return s.dev.Adapter
}

// Close waits for all submitted work and releases every GPU object.
// It is safe to call more than once.
func (s *Sample) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.teardown()
}

// teardown releases whatever init created, in reverse order.
func (s *Sample) teardown() {
	if s.dev == nil {
		return
	}
	s.Stats()
	if s.loop != nil {
		s.loop.Close()
		s.loop = nil
	}
	if s.uploader != nil {
		if err := s.uploader.Wait(context.Background()); err != nil {
			s.logger.Warn("hellogpu: upload wait on close failed", "err", err)
		}
		s.uploader.Close()
		s.uploader = nil
	}
	s.drawer.release(s.dev.Device)
	if s.pipe != nil {
		s.pipe.Destroy(s.dev.Device)
		s.pipe = nil
	}
	if s.swap != nil {
		s.swap.Destroy()
		s.swap = nil
	}
	s.dev.Close()
	s.dev = nil
	s.initialized = false
}

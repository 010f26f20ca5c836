// Package swapchain manages the ring of render targets frames are drawn into.
//
// A SwapChain has SlotCount slots. With a surface, each slot receives the
// texture acquired for that frame; without one, the slots are backed by
// offscreen textures of the same size and format. Storage is RGBA8Unorm and
// render-target views are RGBA8UnormSrgb, so shaders write linear values and
// the hardware encodes them.
package swapchain

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

const (
	// SlotCount is the number of back buffers.
	SlotCount = 3

	// Format is the storage format of the back buffers.
	Format = gputypes.TextureFormatRGBA8Unorm

	// ViewFormat is the render-target view format.
	ViewFormat = gputypes.TextureFormatRGBA8UnormSrgb
)

var (
	// ErrBadSize is returned for a zero width or height.
	ErrBadSize = errors.New("swapchain: width and height must be positive")

	// ErrSlot is returned for a slot index outside [0, SlotCount).
	ErrSlot = errors.New("swapchain: slot out of range")

	// ErrNotAcquired is returned by Present for a slot with no target.
	ErrNotAcquired = errors.New("swapchain: slot not acquired")
)

// Config describes a swap chain.
type Config struct {
	Device  hal.Device
	Surface hal.Surface // nil renders offscreen
	Width   uint32
	Height  uint32
	Logger  *slog.Logger
}

// Target is the render target of one frame.
type Target struct {
	Slot    int
	Texture hal.Texture
	View    hal.TextureView

	// Before is the usage the texture is in when handed out.
	Before gputypes.TextureUsage
}

type slot struct {
	texture  hal.Texture
	view     hal.TextureView
	acquired hal.SurfaceTexture
	used     bool
}

// SwapChain is a fixed ring of render targets. It is not safe for
// concurrent use.
type SwapChain struct {
	device  hal.Device
	surface hal.Surface
	width   uint32
	height  uint32
	logger  *slog.Logger
	slots   [SlotCount]slot
}

// New configures the surface or allocates the offscreen ring.
func New(cfg Config) (*SwapChain, error) {
	if cfg.Width == 0 || cfg.Height == 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrBadSize, cfg.Width, cfg.Height)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &SwapChain{
		device:  cfg.Device,
		surface: cfg.Surface,
		width:   cfg.Width,
		height:  cfg.Height,
		logger:  logger,
	}

	var err error
	if s.surface != nil {
		err = s.configure()
	} else {
		err = s.createOffscreen()
	}
	if err != nil {
		s.Destroy()
		return nil, err
	}
	logger.Info("swapchain: created",
		"buffers", SlotCount,
		"width", s.width,
		"height", s.height,
		"headless", s.surface == nil)
	return s, nil
}

func (s *SwapChain) configure() error {
	err := s.surface.Configure(s.device, &hal.SurfaceConfiguration{
		Width:       s.width,
		Height:      s.height,
		Format:      Format,
		Usage:       gputypes.TextureUsageRenderAttachment,
		PresentMode: gputypes.PresentModeFifo,
		AlphaMode:   gputypes.CompositeAlphaModeOpaque,
	})
	if err != nil {
		return fmt.Errorf("configure surface: %w", err)
	}
	return nil
}

func (s *SwapChain) createOffscreen() error {
	for i := range s.slots {
		tex, err := s.device.CreateTexture(&hal.TextureDescriptor{
			Label:         fmt.Sprintf("backbuffer_%d", i),
			Size:          hal.Extent3D{Width: s.width, Height: s.height, DepthOrArrayLayers: 1},
			MipLevelCount: 1,
			SampleCount:   1,
			Dimension:     gputypes.TextureDimension2D,
			Format:        Format,
			Usage:         gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc,
			ViewFormats:   []gputypes.TextureFormat{ViewFormat},
		})
		if err != nil {
			return fmt.Errorf("create back buffer %d: %w", i, err)
		}
		s.slots[i].texture = tex

		view, err := s.createView(tex, i)
		if err != nil {
			return err
		}
		s.slots[i].view = view
	}
	return nil
}

func (s *SwapChain) createView(tex hal.Texture, i int) (hal.TextureView, error) {
	view, err := s.device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:         fmt.Sprintf("backbuffer_%d_rtv", i),
		Format:        ViewFormat,
		Dimension:     gputypes.TextureViewDimension2D,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("create back buffer %d view: %w", i, err)
	}
	return view, nil
}

// BufferCount returns the number of back buffers.
func (s *SwapChain) BufferCount() int { return len(s.slots) }

// Size returns the back buffer dimensions.
func (s *SwapChain) Size() (width, height uint32) { return s.width, s.height }

// Headless reports whether the ring is offscreen.
func (s *SwapChain) Headless() bool { return s.surface == nil }

// PresentUsage is the state a target must be in when presented.
// Surface images go back to the presentation engine; offscreen images are
// left ready to be copied out.
func (s *SwapChain) PresentUsage() gputypes.TextureUsage {
	if s.surface != nil {
		return gputypes.TextureUsageNone
	}
	return gputypes.TextureUsageCopySrc
}

// Acquire returns the target for slot. The caller must have observed the
// slot's previous frame complete: the surface view it used is destroyed here.
//
// Surface images are created by the presentation engine as RGBA8Unorm and
// hal.SurfaceConfiguration cannot list RGBA8UnormSrgb as an extra view
// format. Backends that validate view formats strictly (Vulkan with
// validation layers) may reject the sRGB view created for a surface image;
// offscreen slots declare it in ViewFormats and are unaffected.
func (s *SwapChain) Acquire(i int) (*Target, error) {
	if i < 0 || i >= len(s.slots) {
		return nil, fmt.Errorf("%w: %d", ErrSlot, i)
	}
	sl := &s.slots[i]

	if s.surface == nil {
		before := gputypes.TextureUsageNone
		if sl.used {
			before = s.PresentUsage()
		}
		sl.used = true
		return &Target{Slot: i, Texture: sl.texture, View: sl.view, Before: before}, nil
	}

	s.releaseSurfaceView(sl)
	acquired, err := s.acquireSurface()
	if err != nil {
		return nil, err
	}
	if acquired.Suboptimal {
		s.logger.Debug("swapchain: suboptimal surface texture", "slot", i)
	}
	view, err := s.createView(acquired.Texture, i)
	if err != nil {
		s.surface.DiscardTexture(acquired.Texture)
		return nil, err
	}
	sl.acquired = acquired.Texture
	sl.view = view
	sl.used = true
	return &Target{Slot: i, Texture: acquired.Texture, View: view, Before: gputypes.TextureUsageNone}, nil
}

func (s *SwapChain) acquireSurface() (*hal.AcquiredSurfaceTexture, error) {
	acquired, err := s.surface.AcquireTexture(nil)
	if errors.Is(err, hal.ErrSurfaceOutdated) {
		s.logger.Debug("swapchain: surface outdated, reconfiguring")
		if err := s.configure(); err != nil {
			return nil, err
		}
		acquired, err = s.surface.AcquireTexture(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("acquire surface texture: %w", err)
	}
	return acquired, nil
}

// Present hands the slot's surface texture to the presentation engine.
// Offscreen slots have nothing to present.
func (s *SwapChain) Present(queue hal.Queue, i int) error {
	if i < 0 || i >= len(s.slots) {
		return fmt.Errorf("%w: %d", ErrSlot, i)
	}
	if s.surface == nil {
		return nil
	}
	sl := &s.slots[i]
	if sl.acquired == nil {
		return fmt.Errorf("%w: %d", ErrNotAcquired, i)
	}
	err := queue.Present(s.surface, sl.acquired, nil)
	sl.acquired = nil
	if err != nil {
		return fmt.Errorf("present: %w", err)
	}
	return nil
}

// Texture returns the back buffer last handed out for slot.
func (s *SwapChain) Texture(i int) hal.Texture {
	if i < 0 || i >= len(s.slots) {
		return nil
	}
	if s.surface != nil {
		return s.slots[i].acquired
	}
	return s.slots[i].texture
}

func (s *SwapChain) releaseSurfaceView(sl *slot) {
	if sl.view != nil {
		s.device.DestroyTextureView(sl.view)
		sl.view = nil
	}
	if sl.acquired != nil {
		s.surface.DiscardTexture(sl.acquired)
		sl.acquired = nil
	}
}

// Destroy releases views and textures and unconfigures the surface.
// The GPU must be idle.
func (s *SwapChain) Destroy() {
	for i := len(s.slots) - 1; i >= 0; i-- {
		sl := &s.slots[i]
		if s.surface != nil {
			s.releaseSurfaceView(sl)
			continue
		}
		if sl.view != nil {
			s.device.DestroyTextureView(sl.view)
			sl.view = nil
		}
		if sl.texture != nil {
			s.device.DestroyTexture(sl.texture)
			sl.texture = nil
		}
	}
	if s.surface != nil {
		s.surface.Unconfigure(s.device)
	}
}

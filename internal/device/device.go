// Package device opens a GPU device and queue on a registered HAL backend,
// optionally together with a presentation surface.
package device

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

var (
	// ErrNoBackend is returned when none of the requested backends is
	// registered.
	ErrNoBackend = errors.New("device: no backend available")

	// ErrNoAdapter is returned when the instance exposes no adapters.
	ErrNoAdapter = errors.New("device: no adapter found")
)

// NativeWindow holds the platform handles a surface is created from.
type NativeWindow struct {
	Display uintptr
	Window  uintptr
}

// Config controls device creation.
type Config struct {
	// Backends lists backends to try in order. Empty selects the most
	// capable registered backend.
	Backends []gputypes.Backend

	// Debug enables the backend debug and validation layers.
	Debug bool

	// Window creates a surface when set. Nil opens a headless device.
	Window *NativeWindow

	Logger *slog.Logger
}

// Device bundles the objects needed to render: instance, adapter info,
// logical device, queue and an optional surface.
type Device struct {
	Backend  gputypes.Backend
	Adapter  gputypes.AdapterInfo
	Instance hal.Instance
	Device   hal.Device
	Queue    hal.Queue
	Surface  hal.Surface

	logger *slog.Logger
}

// Open creates the instance, surface and device described by cfg.
// Adapters with a discrete or integrated GPU are preferred.
func Open(cfg Config) (*Device, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	backend, err := selectBackend(cfg.Backends)
	if err != nil {
		return nil, err
	}

	flags := gputypes.InstanceFlagsNone
	if cfg.Debug {
		flags = gputypes.InstanceFlagsDebug | gputypes.InstanceFlagsValidation
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: flags})
	if err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}
	d := &Device{
		Backend:  backend.Variant(),
		Instance: instance,
		logger:   logger,
	}

	if cfg.Window != nil {
		surface, err := instance.CreateSurface(cfg.Window.Display, cfg.Window.Window)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("create surface: %w", err)
		}
		d.Surface = surface
	}

	adapters := instance.EnumerateAdapters(d.Surface)
	if len(adapters) == 0 {
		d.Close()
		return nil, ErrNoAdapter
	}
	selected := pickAdapter(adapters)

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("open device: %w", err)
	}
	d.Device = openDev.Device
	d.Queue = openDev.Queue
	d.Adapter = selected.Info

	logger.Info("device: adapter selected",
		"backend", d.Backend.String(),
		"adapter", selected.Info.Name,
		"type", selected.Info.DeviceType.String(),
		"debug", cfg.Debug,
		"surface", d.Surface != nil)
	return d, nil
}

func selectBackend(want []gputypes.Backend) (hal.Backend, error) {
	if len(want) == 0 {
		b, err := hal.SelectBestBackend()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoBackend, err)
		}
		return b, nil
	}
	for _, v := range want {
		if b, ok := hal.GetBackend(v); ok {
			return b, nil
		}
		if b, err := hal.CreateBackend(v); err == nil {
			hal.RegisterBackend(b)
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: tried %v", ErrNoBackend, want)
}

func pickAdapter(adapters []hal.ExposedAdapter) *hal.ExposedAdapter {
	for i := range adapters {
		switch adapters[i].Info.DeviceType {
		case gputypes.DeviceTypeDiscreteGPU, gputypes.DeviceTypeIntegratedGPU:
			return &adapters[i]
		}
	}
	return &adapters[0]
}

// Close waits for the device to go idle and destroys the device, surface
// and instance in that order. Safe to call on a partially opened Device.
func (d *Device) Close() {
	if d.Device != nil {
		if err := d.Device.WaitIdle(); err != nil {
			d.logger.Warn("device: wait idle failed", "err", err)
		}
		d.Device.Destroy()
		d.Device = nil
		d.Queue = nil
	}
	if d.Surface != nil {
		d.Surface.Destroy()
		d.Surface = nil
	}
	if d.Instance != nil {
		d.Instance.Destroy()
		d.Instance = nil
	}
}

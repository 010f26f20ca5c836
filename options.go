package hellogpu

import (
	"image"

	"github.com/gogpu/gputypes"
)

// Default back buffer size, used when neither WithSize nor WithWindow
// provides one.
const (
	DefaultWidth  = 1280
	DefaultHeight = 720
)

// Option configures a Sample during creation.
//
// Example:
//
//	// Headless, 1280x720, first registered backend
//	s, err := hellogpu.New(hellogpu.VariantQuad)
//
//	// Vulkan with validation, presenting into a window
//	s, err := hellogpu.New(hellogpu.VariantTexturedQuad,
//	    hellogpu.WithBackend(gputypes.BackendVulkan),
//	    hellogpu.WithDebug(true),
//	    hellogpu.WithWindow(win))
type Option func(*options)

// options holds optional configuration for Sample creation.
type options struct {
	backends  []gputypes.Backend
	window    Window
	width     int
	height    int
	debug     bool
	imageFile string
	imageData []byte
	capture   func(*image.NRGBA) error
}

// defaultOptions returns the default sample options.
func defaultOptions() options {
	return options{
		backends: nil, // most capable registered backend
		width:    0,   // taken from the window, else DefaultWidth
		height:   0,
	}
}

// WithBackend restricts device creation to backend b.
// Without it the most capable registered backend is used.
func WithBackend(b gputypes.Backend) Option {
	return func(o *options) {
		o.backends = []gputypes.Backend{b}
	}
}

// WithWindow presents frames into w. Without a window the sample renders
// into an offscreen ring.
func WithWindow(w Window) Option {
	return func(o *options) {
		o.window = w
	}
}

// WithSize sets the back buffer size in pixels. It overrides the window
// size when both are given.
func WithSize(width, height int) Option {
	return func(o *options) {
		o.width = width
		o.height = height
	}
}

// WithDebug enables the backend debug and validation layers.
func WithDebug(enabled bool) Option {
	return func(o *options) {
		o.debug = enabled
	}
}

// WithImageFile sets the image VariantTexturedQuad samples.
func WithImageFile(path string) Option {
	return func(o *options) {
		o.imageFile = path
		o.imageData = nil
	}
}

// WithImageData sets encoded image bytes (PNG, JPEG, GIF, BMP, TIFF or
// WebP) for VariantTexturedQuad. It replaces any WithImageFile.
func WithImageData(data []byte) Option {
	return func(o *options) {
		o.imageData = data
		o.imageFile = ""
	}
}

// WithCapture makes Run read back the last frame and pass it to fn before
// shutting down. Capturing needs an offscreen ring, so it is ignored when
// a window is set.
func WithCapture(fn func(*image.NRGBA) error) Option {
	return func(o *options) {
		o.capture = fn
	}
}

// size resolves the back buffer size.
func (o *options) size() (int, int) {
	if o.width != 0 || o.height != 0 {
		return o.width, o.height
	}
	if o.window != nil {
		return physicalSize(o.window)
	}
	return DefaultWidth, DefaultHeight
}

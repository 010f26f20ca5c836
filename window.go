package hellogpu

import (
	"math"

	"github.com/gogpu/gpucontext"
)

// Window is the windowing collaborator a Sample presents into.
//
// Size and ScaleFactor give the client area; the back buffers are sized in
// physical pixels. NativeHandles returns the platform handles a surface is
// created from (display connection and window on X11/Wayland, zero and HWND
// on Windows, zero and CAMetalLayer on macOS).
type Window interface {
	gpucontext.WindowProvider
	NativeHandles() (display, window uintptr)
}

// physicalSize converts a window's logical size to pixels.
func physicalSize(w gpucontext.WindowProvider) (int, int) {
	lw, lh := w.Size()
	scale := w.ScaleFactor()
	if scale <= 0 {
		scale = 1
	}
	return int(math.Round(float64(lw) * scale)), int(math.Round(float64(lh) * scale))
}

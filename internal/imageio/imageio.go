// Package imageio reads image files and decodes them into row-aligned RGBA8
// buffers ready for texture upload.
//
// Decoders for PNG, JPEG, GIF, BMP, TIFF and WebP are registered on import.
package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"os"
	"path/filepath"

	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/tiff" // register TIFF decoder
	_ "golang.org/x/image/webp" // register WebP decoder

	xdraw "golang.org/x/image/draw"
)

// BytesPerPixel is the size of one RGBA8 texel.
const BytesPerPixel = 4

var (
	// ErrEmptyData is returned when there are no bytes to decode.
	ErrEmptyData = errors.New("imageio: empty data")

	// ErrDecode is returned when the data is not a supported image.
	ErrDecode = errors.New("imageio: decode failed")

	// ErrRowAlignment is returned for a zero row alignment.
	ErrRowAlignment = errors.New("imageio: row alignment must be positive")
)

// Image is a decoded RGBA8 image with straight (non-premultiplied) alpha.
// Rows are Stride bytes apart; Stride is at least Width*BytesPerPixel.
type Image struct {
	Pix    []byte
	Width  int
	Height int
	Stride int

	// Format is the decoder that read the data ("png", "bmp", ...). It is
	// empty for images built with FromImage.
	Format string
}

// Row returns the visible pixels of row y.
func (img *Image) Row(y int) []byte {
	start := y * img.Stride
	return img.Pix[start : start+img.Width*BytesPerPixel]
}

// RoundUp rounds v up to the next multiple of multiple.
func RoundUp(v, multiple int) int {
	if multiple <= 1 {
		return v
	}
	return (v + multiple - 1) / multiple * multiple
}

// ReadFile returns the full contents of the file at path.
func ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("imageio: read file: %w", err)
	}
	return data, nil
}

// LoadFile reads and decodes the image at path.
func LoadFile(path string, rowAlignment int) (*Image, error) {
	data, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Load(data, rowAlignment)
}

// Load decodes data into an RGBA8 image whose row pitch is
// RoundUp(width, rowAlignment)*4. rowAlignment is counted in pixels.
func Load(data []byte, rowAlignment int) (*Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyData
	}
	if rowAlignment <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrRowAlignment, rowAlignment)
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	img := FromImage(src, rowAlignment)
	img.Format = format
	return img, nil
}

// FromImage converts any image.Image into a row-aligned RGBA8 Image.
func FromImage(src image.Image, rowAlignment int) *Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	nrgba, ok := src.(*image.NRGBA)
	if !ok || nrgba.Rect.Min != (image.Point{}) {
		nrgba = image.NewNRGBA(image.Rect(0, 0, w, h))
		xdraw.Draw(nrgba, nrgba.Bounds(), src, b.Min, xdraw.Src)
	}

	stride := RoundUp(w, rowAlignment) * BytesPerPixel
	out := &Image{
		Pix:    make([]byte, stride*h),
		Width:  w,
		Height: h,
		Stride: stride,
	}
	for y := range h {
		copy(out.Row(y), nrgba.Pix[y*nrgba.Stride:y*nrgba.Stride+w*BytesPerPixel])
	}
	return out
}

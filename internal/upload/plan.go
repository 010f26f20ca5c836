package upload

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
)

const (
	// CopyAlignment is the offset alignment for buffer-to-buffer copies.
	CopyAlignment = 4

	// TextureOffsetAlignment is the staging offset alignment for
	// buffer-to-texture copies.
	TextureOffsetAlignment = 512

	// RowPitchAlignment is the required alignment of BytesPerRow in
	// buffer-to-texture copies.
	RowPitchAlignment = 256
)

var (
	// ErrEmptyBlob is returned for a blob without data.
	ErrEmptyBlob = errors.New("upload: empty blob")

	// ErrTextureLayout is returned for a texture blob whose data does not
	// match its declared dimensions or row pitch.
	ErrTextureLayout = errors.New("upload: invalid texture layout")
)

// Kind selects the destination resource and its final state.
type Kind uint8

const (
	KindVertex Kind = iota
	KindIndex
	KindUniform
	KindTexture
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindVertex:
		return "vertex"
	case KindIndex:
		return "index"
	case KindUniform:
		return "uniform"
	case KindTexture:
		return "texture"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Blob is CPU data destined for one device-local resource.
//
// Texture blobs carry Height rows of BytesPerRow bytes each, of which the
// first Width*4 are texels.
type Blob struct {
	Label string
	Kind  Kind
	Data  []byte

	Width       uint32
	Height      uint32
	BytesPerRow uint32
	Format      gputypes.TextureFormat
}

// Size returns the number of staging bytes the blob occupies.
func (b *Blob) Size() uint64 { return uint64(len(b.Data)) }

func (b *Blob) alignment() uint64 {
	if b.Kind == KindTexture {
		return TextureOffsetAlignment
	}
	return CopyAlignment
}

func (b *Blob) validate() error {
	if len(b.Data) == 0 {
		return fmt.Errorf("%w: %q", ErrEmptyBlob, b.Label)
	}
	if b.Kind != KindTexture {
		return nil
	}
	switch {
	case b.Width == 0 || b.Height == 0:
		return fmt.Errorf("%w: %q is %dx%d", ErrTextureLayout, b.Label, b.Width, b.Height)
	case b.BytesPerRow < b.Width*4:
		return fmt.Errorf("%w: %q row pitch %d < %d", ErrTextureLayout, b.Label, b.BytesPerRow, b.Width*4)
	case b.Height > 1 && b.BytesPerRow%RowPitchAlignment != 0:
		return fmt.Errorf("%w: %q row pitch %d not a multiple of %d", ErrTextureLayout, b.Label, b.BytesPerRow, RowPitchAlignment)
	case uint64(len(b.Data)) != uint64(b.BytesPerRow)*uint64(b.Height):
		return fmt.Errorf("%w: %q has %d bytes, want %d", ErrTextureLayout, b.Label, len(b.Data), b.BytesPerRow*b.Height)
	}
	return nil
}

// Region is the placement of one blob inside the staging buffer.
type Region struct {
	Offset uint64
	Size   uint64
}

// End returns the first byte past the region.
func (r Region) End() uint64 { return r.Offset + r.Size }

// Plan places texture blobs first, then buffer blobs, and returns their
// regions in blob order plus the total staging size. Regions never overlap.
// Multi-row texture sizes are a multiple of RowPitchAlignment, so one
// texture at offset 0 leaves the buffer blobs after it on CopyAlignment
// without padding. When every buffer blob size is a multiple of
// CopyAlignment the total is exactly the sum of the sizes.
func Plan(blobs []Blob) ([]Region, uint64) {
	regions := make([]Region, len(blobs))
	var offset uint64
	place := func(textures bool) {
		for i := range blobs {
			if (blobs[i].Kind == KindTexture) != textures {
				continue
			}
			offset = alignUp(offset, blobs[i].alignment())
			regions[i] = Region{Offset: offset, Size: blobs[i].Size()}
			offset += regions[i].Size
		}
	}
	place(true)
	place(false)
	return regions, alignUp(offset, CopyAlignment)
}

func alignUp(v, a uint64) uint64 {
	return (v + a - 1) &^ (a - 1)
}

// Package gpu defines the rendering surface the tile core draws through and
// a software implementation of it.
package gpu

import (
	"errors"
	"fmt"

	"github.com/Faultbox/tessera/pkg/extent"
)

var (
	// ErrUnsupportedFormat is returned for pixel formats or format pairs a device cannot handle.
	ErrUnsupportedFormat = errors.New("gpu: unsupported pixel format")
	// ErrDisposed is returned when a disposed or unknown texture is used.
	ErrDisposed = errors.New("gpu: texture disposed")
)

// Format is a texture pixel layout.
type Format int

const (
	// RGBA8 stores four 8-bit channels; alpha 0 marks no-data.
	RGBA8 Format = iota
	// RG32F stores a float value and a float validity flag.
	RG32F
)

// Stride returns the number of channels per pixel.
func (f Format) Stride() int {
	if f == RG32F {
		return 2
	}
	return 4
}

func (f Format) String() string {
	switch f {
	case RGBA8:
		return "RGBA8"
	case RG32F:
		return "RG32F"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// Texture is a handle to device memory. Pixel data lives on the device.
type Texture struct {
	ID     uint32
	Width  int
	Height int
	Format Format

	empty bool
}

var emptyTexture = &Texture{Width: 1, Height: 1, Format: RGBA8, empty: true}

// EmptyTexture returns the shared sentinel that sources hand out when they
// have nothing to show. It is never drawn and never disposed.
func EmptyTexture() *Texture {
	return emptyTexture
}

// Empty reports whether t is the empty sentinel.
func (t *Texture) Empty() bool {
	return t != nil && t.empty
}

// Draw is one textured mesh in a render pass.
type Draw struct {
	Texture *Texture
	Mesh    Mesh
}

// RenderPass draws meshes into a target covering Extent. Draws are executed
// in slice order, later draws over earlier ones.
type RenderPass struct {
	Extent extent.Extent
	Clear  bool
	Draws  []Draw
}

// Device is the GPU capability the core consumes. Implementations own the
// graphics context; callers only hold texture handles.
type Device interface {
	NewTexture(width, height int, format Format) (*Texture, error)
	Upload(tex *Texture, px Pixels) error
	Render(target *Texture, pass RenderPass) error
	ReadPixels(tex *Texture) (Pixels, error)
	FillNoData(tex *Texture, radius int) error
	Dispose(tex *Texture)
}

// NewTextureFromPixels allocates a texture sized for px and uploads it.
func NewTextureFromPixels(dev Device, px Pixels) (*Texture, error) {
	tex, err := dev.NewTexture(px.Width, px.Height, px.Format)
	if err != nil {
		return nil, err
	}
	if err := dev.Upload(tex, px); err != nil {
		dev.Dispose(tex)
		return nil, err
	}
	return tex, nil
}

// Package heightfield samples elevation values out of packed raster buffers.
package heightfield

import (
	"fmt"
	"math"

	"github.com/Faultbox/tessera/internal/gpu"
	tmath "github.com/Faultbox/tessera/pkg/math"
)

// Mapbox terrain-RGB decoding constants.
const (
	MapboxPrecision    = 0.1
	MapboxDecodeOffset = 10000
)

// HeightField is a read-only view over an elevation raster. Rows are stored
// top to bottom, so v=1 is row 0. Copies share the underlying buffer.
type HeightField struct {
	bytes  []uint8   // stride 4: RGB-packed value, alpha validity
	floats []float32 // stride 2: value, validity

	Width        int
	Height       int
	OffsetScale  tmath.OffsetScale
	Precision    float64
	DecodeOffset float64
}

// MinMax is an elevation range.
type MinMax struct {
	Min, Max float64
}

// Rect is a normalized UV rectangle.
type Rect struct {
	UMin, VMin, UMax, VMax float64
}

// Unit covers the whole field.
var Unit = Rect{UMin: 0, VMin: 0, UMax: 1, VMax: 1}

// NewFloat wraps an RG float buffer (value, validity).
func NewFloat(buf []float32, width, height int, os tmath.OffsetScale) *HeightField {
	return &HeightField{floats: buf, Width: width, Height: height, OffsetScale: os}
}

// NewRGBA wraps an RGBA8 buffer whose RGB channels pack a 24-bit integer.
func NewRGBA(buf []uint8, width, height int, os tmath.OffsetScale, precision, decodeOffset float64) *HeightField {
	return &HeightField{
		bytes:        buf,
		Width:        width,
		Height:       height,
		OffsetScale:  os,
		Precision:    precision,
		DecodeOffset: decodeOffset,
	}
}

// FromPixels builds a height field from a device readback.
func FromPixels(px gpu.Pixels, os tmath.OffsetScale, precision, decodeOffset float64) (*HeightField, error) {
	if err := px.Validate(); err != nil {
		return nil, err
	}
	switch px.Format {
	case gpu.RG32F:
		return NewFloat(px.F32, px.Width, px.Height, os), nil
	case gpu.RGBA8:
		return NewRGBA(px.U8, px.Width, px.Height, os, precision, decodeOffset), nil
	default:
		return nil, fmt.Errorf("%w: %v", gpu.ErrUnsupportedFormat, px.Format)
	}
}

// Stride returns the number of channels per pixel.
func (h *HeightField) Stride() int {
	if h.floats != nil {
		return 2
	}
	return 4
}

// Clone returns a copy sharing the same buffer.
func (h *HeightField) Clone() *HeightField {
	c := *h
	return &c
}

// WithOffsetScale returns a clone whose UVs are first mapped through inner,
// then through h's own transform.
func (h *HeightField) WithOffsetScale(inner tmath.OffsetScale) *HeightField {
	c := h.Clone()
	c.OffsetScale = h.OffsetScale.Compose(inner)
	return c
}

// pixel maps (u, v) to a clamped pixel. ok is false for non-finite input.
func (h *HeightField) pixel(u, v float64) (x, y int, ok bool) {
	u, v = h.OffsetScale.Apply(u, v)
	if !finite(u) || !finite(v) {
		return 0, 0, false
	}
	u = clamp(u, 0, 1)
	v = clamp(v, 0, 1)
	x = int(math.Round(u * float64(h.Width-1)))
	y = int(math.Round((1 - v) * float64(h.Height-1)))
	return x, y, true
}

// decode returns the value at pixel (x, y) and whether it holds data.
func (h *HeightField) decode(x, y int) (float64, bool) {
	i := (y*h.Width + x) * h.Stride()
	if h.floats != nil {
		return float64(h.floats[i]), h.floats[i+1] > 0
	}
	raw := int(h.bytes[i])<<16 | int(h.bytes[i+1])<<8 | int(h.bytes[i+2])
	return float64(raw)*h.Precision - h.DecodeOffset, h.bytes[i+3] != 0
}

// Sample returns the nearest pixel value at (u, v). ok is false on no-data
// unless ignoreNoData is set.
func (h *HeightField) Sample(u, v float64, ignoreNoData bool) (float64, bool) {
	if h.Width == 0 || h.Height == 0 {
		return 0, false
	}
	x, y, ok := h.pixel(u, v)
	if !ok {
		return 0, false
	}
	value, valid := h.decode(x, y)
	if !valid && !ignoreNoData {
		return 0, false
	}
	return value, true
}

// RegionMinMax scans the inclusive pixel rectangle covered by r, skipping
// no-data. ok is false when the region holds no valid pixel.
func (h *HeightField) RegionMinMax(r Rect) (MinMax, bool) {
	if h.Width == 0 || h.Height == 0 {
		return MinMax{}, false
	}
	x0, y1, ok0 := h.pixel(r.UMin, r.VMin)
	x1, y0, ok1 := h.pixel(r.UMax, r.VMax)
	if !ok0 || !ok1 {
		return MinMax{}, false
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}

	mm := MinMax{Min: math.Inf(1), Max: math.Inf(-1)}
	found := false
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			value, valid := h.decode(x, y)
			if !valid {
				continue
			}
			mm.Min = min(mm.Min, value)
			mm.Max = max(mm.Max, value)
			found = true
		}
	}
	if !found {
		return MinMax{}, false
	}
	return mm, true
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

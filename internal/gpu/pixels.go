package gpu

import (
	"fmt"
	"math"
)

// Pixels is a CPU copy of texture data. Rows are stored top to bottom, so
// row 0 is the north edge of the texture's extent.
type Pixels struct {
	Width  int
	Height int
	Format Format
	U8     []uint8   // RGBA8 data
	F32    []float32 // RG32F data
}

// NewPixels allocates zeroed (fully no-data) pixels.
func NewPixels(width, height int, format Format) Pixels {
	p := Pixels{Width: width, Height: height, Format: format}
	n := width * height * format.Stride()
	if format == RG32F {
		p.F32 = make([]float32, n)
	} else {
		p.U8 = make([]uint8, n)
	}
	return p
}

// Validate checks the buffer length against the declared size.
func (p Pixels) Validate() error {
	n := p.Width * p.Height * p.Format.Stride()
	switch p.Format {
	case RGBA8:
		if len(p.U8) != n {
			return fmt.Errorf("%w: RGBA8 buffer has %d bytes, want %d", ErrUnsupportedFormat, len(p.U8), n)
		}
	case RG32F:
		if len(p.F32) != n {
			return fmt.Errorf("%w: RG32F buffer has %d floats, want %d", ErrUnsupportedFormat, len(p.F32), n)
		}
	default:
		return fmt.Errorf("%w: %v", ErrUnsupportedFormat, p.Format)
	}
	return nil
}

// Clone returns a deep copy.
func (p Pixels) Clone() Pixels {
	c := p
	if p.U8 != nil {
		c.U8 = append([]uint8(nil), p.U8...)
	}
	if p.F32 != nil {
		c.F32 = append([]float32(nil), p.F32...)
	}
	return c
}

// Valid reports whether the pixel at (x, y) holds data.
func (p Pixels) Valid(x, y int) bool {
	i := (y*p.Width + x) * p.Format.Stride()
	if p.Format == RG32F {
		return p.F32[i+1] > 0
	}
	return p.U8[i+3] > 0
}

// ValueMinMax decodes every valid pixel with decode and returns the range.
// ok is false when every pixel is no-data.
func (p Pixels) ValueMinMax(decode func(Pixels, int) float64) (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	stride := p.Format.Stride()
	for y := range p.Height {
		for x := range p.Width {
			if !p.Valid(x, y) {
				continue
			}
			v := decode(p, (y*p.Width+x)*stride)
			if math.IsNaN(v) {
				continue
			}
			lo = min(lo, v)
			hi = max(hi, v)
			ok = true
		}
	}
	return lo, hi, ok
}

// FloatValue decodes the value channel of an RG32F pixel at offset i.
func FloatValue(p Pixels, i int) float64 {
	return float64(p.F32[i])
}

// FillNoDataPixels copies the nearest valid pixel into every no-data pixel
// within radius. Validity is left untouched so the filled pixels remain
// transparent but interpolate smoothly when sampled.
func FillNoDataPixels(p Pixels, radius int) Pixels {
	out := p.Clone()
	stride := p.Format.Stride()

	for y := range p.Height {
		for x := range p.Width {
			if p.Valid(x, y) {
				continue
			}
			sx, sy, found := nearestValid(p, x, y, radius)
			if !found {
				continue
			}
			dst := (y*p.Width + x) * stride
			src := (sy*p.Width + sx) * stride
			if p.Format == RG32F {
				out.F32[dst] = p.F32[src]
			} else {
				copy(out.U8[dst:dst+3], p.U8[src:src+3])
			}
		}
	}
	return out
}

// nearestValid searches square rings of growing radius around (x, y) and
// returns the closest valid pixel of the first ring that has one.
func nearestValid(p Pixels, x, y, radius int) (int, int, bool) {
	for r := 1; r <= radius; r++ {
		bestD := math.MaxInt
		bx, by := 0, 0
		for dy := -r; dy <= r; dy++ {
			for dx := -r; dx <= r; dx++ {
				if max(abs(dx), abs(dy)) != r {
					continue
				}
				nx, ny := x+dx, y+dy
				if nx < 0 || ny < 0 || nx >= p.Width || ny >= p.Height {
					continue
				}
				if !p.Valid(nx, ny) {
					continue
				}
				if d := dx*dx + dy*dy; d < bestD {
					bestD, bx, by = d, nx, ny
				}
			}
		}
		if bestD != math.MaxInt {
			return bx, by, true
		}
	}
	return 0, 0, false
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

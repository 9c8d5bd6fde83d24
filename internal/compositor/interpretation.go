package compositor

import (
	"fmt"

	"github.com/Faultbox/tessera/internal/gpu"
	"github.com/Faultbox/tessera/internal/heightfield"
)

// InterpretationMode selects how source pixels are turned into values.
type InterpretationMode int

const (
	// Raw draws source pixels unchanged.
	Raw InterpretationMode = iota
	// MapboxTerrainRGB decodes RGB-packed elevations.
	MapboxTerrainRGB
	// ScaleToRange maps the red channel (or float value) from [0,1] onto [Min,Max].
	ScaleToRange
)

// Interpretation describes the encoding of source images.
type Interpretation struct {
	Mode     InterpretationMode
	Min, Max float64
}

// Scaled returns a ScaleToRange interpretation.
func Scaled(lo, hi float64) Interpretation {
	return Interpretation{Mode: ScaleToRange, Min: lo, Max: hi}
}

func (in Interpretation) String() string {
	switch in.Mode {
	case Raw:
		return "raw"
	case MapboxTerrainRGB:
		return "mapbox-terrain-rgb"
	case ScaleToRange:
		return fmt.Sprintf("scale[%g,%g]", in.Min, in.Max)
	default:
		return fmt.Sprintf("Interpretation(%d)", int(in.Mode))
	}
}

// decode returns the scalar value of the pixel at offset i.
func (in Interpretation) decode(p gpu.Pixels, i int) float64 {
	var raw float64
	if p.Format == gpu.RG32F {
		raw = float64(p.F32[i])
	} else {
		raw = float64(p.U8[i]) / 255
	}

	switch in.Mode {
	case MapboxTerrainRGB:
		if p.Format == gpu.RG32F {
			return raw
		}
		packed := int(p.U8[i])<<16 | int(p.U8[i+1])<<8 | int(p.U8[i+2])
		return float64(packed)*heightfield.MapboxPrecision - heightfield.MapboxDecodeOffset
	case ScaleToRange:
		return in.Min + raw*(in.Max-in.Min)
	default:
		if p.Format == gpu.RGBA8 {
			return float64(p.U8[i])
		}
		return raw
	}
}

// convert decodes p into an RG32F buffer. Raw sources are returned as is.
func (in Interpretation) convert(p gpu.Pixels) gpu.Pixels {
	if in.Mode == Raw {
		return p
	}
	out := gpu.NewPixels(p.Width, p.Height, gpu.RG32F)
	stride := p.Format.Stride()
	for y := range p.Height {
		for x := range p.Width {
			if !p.Valid(x, y) {
				continue
			}
			i := y*p.Width + x
			out.F32[i*2] = float32(in.decode(p, i*stride))
			out.F32[i*2+1] = 1
		}
	}
	return out
}

// Package source provides in-process image sources: a procedural grid that
// evaluates a function over the map and a fixed list of images.
package source

import (
	"context"
	"fmt"
	"image/color"
	"math"
	"time"

	"github.com/Faultbox/tessera/internal/compositor"
	"github.com/Faultbox/tessera/internal/gpu"
	"github.com/Faultbox/tessera/internal/layer"
	"github.com/Faultbox/tessera/pkg/extent"
)

// Procedural serves a quadtree of generated images over Extent. The level of
// the images returned matches the size of the requested extent.
type Procedural struct {
	Name     string
	Extent   extent.Extent
	MaxLevel int
	// Size is the width and height of every image in pixels.
	Size int
	// Func returns the value at a map position.
	Func func(x, y float64) float64
	// Mask reports whether a position holds data. Nil means everywhere.
	Mask func(x, y float64) bool
	// Format is RG32F for raw values or RGBA8 for Ramp colors.
	Format gpu.Format
	// Ramp colors values for RGBA8 output. Nil is a 0..255 grayscale.
	Ramp func(v float64) color.RGBA
	// Latency delays every fetch.
	Latency time.Duration
}

var _ layer.Source = (*Procedural)(nil)

// level picks the grid level whose cells are closest to e in width.
func (p *Procedural) level(e extent.Extent) int {
	full, _ := p.Extent.Dimensions()
	w, _ := e.Dimensions()
	if w <= 0 || full <= 0 {
		return 0
	}
	z := int(math.Round(math.Log2(full / w)))
	return max(0, min(z, p.MaxLevel))
}

// Images returns the grid cells intersecting e.
func (p *Procedural) Images(e extent.Extent, width, height int) []layer.ImageRequest {
	if !p.Extent.Intersects(e) {
		return nil
	}
	z := p.level(e)
	n := 1 << z
	w, h := p.Extent.Dimensions()
	cw, ch := w/float64(n), h/float64(n)

	x0 := max(0, int(math.Floor((e.XMin()-p.Extent.XMin())/cw)))
	x1 := min(n-1, int(math.Ceil((e.XMax()-p.Extent.XMin())/cw))-1)
	y0 := max(0, int(math.Floor((e.YMin()-p.Extent.YMin())/ch)))
	y1 := min(n-1, int(math.Ceil((e.YMax()-p.Extent.YMin())/ch))-1)

	var reqs []layer.ImageRequest
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			cell := extent.New(p.Extent.CRS(),
				p.Extent.XMin()+float64(x)*cw, p.Extent.XMin()+float64(x+1)*cw,
				p.Extent.YMin()+float64(y)*ch, p.Extent.YMin()+float64(y+1)*ch)
			reqs = append(reqs, layer.ImageRequest{
				ID:     fmt.Sprintf("%s/%d/%d/%d", p.Name, z, x, y),
				Extent: cell,
				Fetch: func(ctx context.Context) (layer.Image, error) {
					return p.generate(ctx, cell)
				},
			})
		}
	}
	return reqs
}

func (p *Procedural) generate(ctx context.Context, cell extent.Extent) (layer.Image, error) {
	if p.Latency > 0 {
		select {
		case <-time.After(p.Latency):
		case <-ctx.Done():
			return layer.Image{}, ctx.Err()
		}
	}

	size := max(1, p.Size)
	px := gpu.NewPixels(size, size, p.Format)
	w, h := cell.Dimensions()
	mm := compositor.MinMax{Min: math.Inf(1), Max: math.Inf(-1)}
	valid := false

	for row := range size {
		// row 0 is the north edge
		y := cell.YMax() - (float64(row)+0.5)/float64(size)*h
		for col := range size {
			x := cell.XMin() + (float64(col)+0.5)/float64(size)*w
			if p.Mask != nil && !p.Mask(x, y) {
				continue
			}
			v := p.Func(x, y)
			mm.Min, mm.Max = min(mm.Min, v), max(mm.Max, v)
			valid = true

			i := row*size + col
			if p.Format == gpu.RG32F {
				px.F32[i*2], px.F32[i*2+1] = float32(v), 1
				continue
			}
			c := p.color(v)
			px.U8[i*4], px.U8[i*4+1], px.U8[i*4+2], px.U8[i*4+3] = c.R, c.G, c.B, 255
		}
	}
	if err := ctx.Err(); err != nil {
		return layer.Image{}, err
	}

	img := layer.Image{Pixels: px}
	if !valid {
		return layer.Image{Empty: true}, nil
	}
	if p.Format == gpu.RG32F {
		img.MinMax = &mm
	}
	return img, nil
}

func (p *Procedural) color(v float64) color.RGBA {
	if p.Ramp != nil {
		return p.Ramp(v)
	}
	g := uint8(max(0, min(255, v)))
	return color.RGBA{R: g, G: g, B: g, A: 255}
}

// HypsometricRamp colors elevations from green lowlands to white peaks
// between lo and hi.
func HypsometricRamp(lo, hi float64) func(float64) color.RGBA {
	stops := []color.RGBA{
		{R: 40, G: 110, B: 60, A: 255},
		{R: 170, G: 160, B: 90, A: 255},
		{R: 120, G: 90, B: 60, A: 255},
		{R: 245, G: 245, B: 245, A: 255},
	}
	return func(v float64) color.RGBA {
		t := 0.0
		if hi > lo {
			t = max(0, min(1, (v-lo)/(hi-lo)))
		}
		f := t * float64(len(stops)-1)
		i := min(int(f), len(stops)-2)
		k := f - float64(i)
		a, b := stops[i], stops[i+1]
		lerp := func(x, y uint8) uint8 { return uint8(float64(x) + (float64(y)-float64(x))*k) }
		return color.RGBA{R: lerp(a.R, b.R), G: lerp(a.G, b.G), B: lerp(a.B, b.B), A: 255}
	}
}

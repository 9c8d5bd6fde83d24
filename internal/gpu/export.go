package gpu

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
)

// ToImage converts pixels into an image for inspection. Float values are
// mapped to grey levels between lo and hi; no-data stays transparent.
func ToImage(px Pixels, lo, hi float64) image.Image {
	if px.Format == RGBA8 {
		img := image.NewRGBA(image.Rect(0, 0, px.Width, px.Height))
		copy(img.Pix, px.U8)
		return img
	}

	img := image.NewNRGBA(image.Rect(0, 0, px.Width, px.Height))
	span := hi - lo
	if span <= 0 || math.IsInf(span, 0) || math.IsNaN(span) {
		span = 1
	}
	for y := range px.Height {
		for x := range px.Width {
			i := (y*px.Width + x) * 2
			if px.F32[i+1] <= 0 {
				continue
			}
			g := uint8(math.Round(clampf((float64(px.F32[i])-lo)/span, 0, 1) * 255))
			img.SetNRGBA(x, y, color.NRGBA{R: g, G: g, B: g, A: 255})
		}
	}
	return img
}

// Resize scales img to size×size with bilinear filtering.
func Resize(img image.Image, size int) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.ApproxBiLinear.Scale(out, out.Bounds(), img, img.Bounds(), draw.Src, nil)
	return out
}

// PixelsFromImage converts any image into RGBA8 pixels.
func PixelsFromImage(img image.Image) Pixels {
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Copy(rgba, image.Point{}, img, b, draw.Src, nil)
	return Pixels{Width: b.Dx(), Height: b.Dy(), Format: RGBA8, U8: rgba.Pix}
}

func clampf(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

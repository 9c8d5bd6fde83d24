package gpu

import (
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"

	"github.com/Faultbox/tessera/pkg/extent"
)

// Software is a CPU implementation of Device. Color textures are kept as
// image.RGBA so the x/image scalers can blit them; float textures are plain
// slices drawn by a nearest-neighbour triangle rasterizer.
//
// Software is not safe for concurrent use, matching the single render thread
// the core runs on.
type Software struct {
	nextID   uint32
	textures map[uint32]*softTexture
}

type softTexture struct {
	tex  *Texture
	rgba *image.RGBA
	f32  []float32
}

var _ Device = (*Software)(nil)

// NewSoftware creates an empty software device.
func NewSoftware() *Software {
	return &Software{textures: make(map[uint32]*softTexture)}
}

// Live returns the number of textures that have not been disposed.
func (s *Software) Live() int {
	return len(s.textures)
}

func (s *Software) NewTexture(width, height int, format Format) (*Texture, error) {
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("gpu: invalid texture size %dx%d", width, height)
	}
	s.nextID++
	st := &softTexture{tex: &Texture{ID: s.nextID, Width: width, Height: height, Format: format}}
	switch format {
	case RGBA8:
		st.rgba = image.NewRGBA(image.Rect(0, 0, width, height))
	case RG32F:
		st.f32 = make([]float32, width*height*2)
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, format)
	}
	s.textures[st.tex.ID] = st
	return st.tex, nil
}

func (s *Software) lookup(tex *Texture) (*softTexture, error) {
	if tex == nil || tex.Empty() {
		return nil, ErrDisposed
	}
	st, ok := s.textures[tex.ID]
	if !ok {
		return nil, fmt.Errorf("%w: texture %d", ErrDisposed, tex.ID)
	}
	return st, nil
}

func (s *Software) Upload(tex *Texture, px Pixels) error {
	st, err := s.lookup(tex)
	if err != nil {
		return err
	}
	if err := px.Validate(); err != nil {
		return err
	}
	if px.Width != tex.Width || px.Height != tex.Height || px.Format != tex.Format {
		return fmt.Errorf("gpu: upload of %dx%d %v into %dx%d %v texture",
			px.Width, px.Height, px.Format, tex.Width, tex.Height, tex.Format)
	}
	if tex.Format == RG32F {
		copy(st.f32, px.F32)
	} else {
		copy(st.rgba.Pix, px.U8)
	}
	return nil
}

func (s *Software) ReadPixels(tex *Texture) (Pixels, error) {
	st, err := s.lookup(tex)
	if err != nil {
		return Pixels{}, err
	}
	px := Pixels{Width: tex.Width, Height: tex.Height, Format: tex.Format}
	if tex.Format == RG32F {
		px.F32 = append([]float32(nil), st.f32...)
	} else {
		px.U8 = append([]uint8(nil), st.rgba.Pix...)
	}
	return px, nil
}

func (s *Software) FillNoData(tex *Texture, radius int) error {
	px, err := s.ReadPixels(tex)
	if err != nil {
		return err
	}
	return s.Upload(tex, FillNoDataPixels(px, radius))
}

func (s *Software) Dispose(tex *Texture) {
	if tex == nil || tex.Empty() {
		return
	}
	delete(s.textures, tex.ID)
}

func (s *Software) Render(target *Texture, pass RenderPass) error {
	dst, err := s.lookup(target)
	if err != nil {
		return err
	}
	if pass.Clear {
		if dst.rgba != nil {
			clear(dst.rgba.Pix)
		} else {
			clear(dst.f32)
		}
	}
	for _, d := range pass.Draws {
		if d.Texture.Empty() {
			continue
		}
		src, err := s.lookup(d.Texture)
		if err != nil {
			return err
		}
		if src.tex.Format != dst.tex.Format {
			return fmt.Errorf("%w: cannot draw %v into %v", ErrUnsupportedFormat, src.tex.Format, dst.tex.Format)
		}
		if b, ok := d.Mesh.axisAligned(); ok && dst.rgba != nil {
			scaleRect(dst, src, pass.Extent, b.Min[0], b.Max[0], b.Min[1], b.Max[1])
			continue
		}
		rasterize(dst, src, pass.Extent, d.Mesh)
	}
	return nil
}

// scaleRect blits an axis-aligned RGBA image with x/image's nearest-neighbour scaler.
func scaleRect(dst, src *softTexture, e extent.Extent, x0, x1, y0, y1 float64) {
	w, h := e.Dimensions()
	tw, th := float64(dst.tex.Width), float64(dst.tex.Height)
	dr := image.Rect(
		int(math.Round((x0-e.XMin())/w*tw)),
		int(math.Round((e.YMax()-y1)/h*th)),
		int(math.Round((x1-e.XMin())/w*tw)),
		int(math.Round((e.YMax()-y0)/h*th)),
	)
	if dr.Empty() {
		return
	}
	draw.NearestNeighbor.Scale(dst.rgba, dr, src.rgba, src.rgba.Bounds(), draw.Over, nil)
}

// rasterize draws the mesh triangle by triangle, sampling src at the
// interpolated UV of each covered pixel centre.
func rasterize(dst, src *softTexture, e extent.Extent, m Mesh) {
	w, h := e.Dimensions()
	tw, th := float64(dst.tex.Width), float64(dst.tex.Height)

	toPixel := func(v Vertex) (float64, float64) {
		return (v.Pos[0] - e.XMin()) / w * tw, (e.YMax() - v.Pos[1]) / h * th
	}

	for i := 0; i+2 < len(m.Indices); i += 3 {
		a, b, c := m.Vertices[m.Indices[i]], m.Vertices[m.Indices[i+1]], m.Vertices[m.Indices[i+2]]
		ax, ay := toPixel(a)
		bx, by := toPixel(b)
		cx, cy := toPixel(c)

		area := (bx-ax)*(cy-ay) - (by-ay)*(cx-ax)
		if area == 0 {
			continue
		}

		minX := max(0, int(math.Floor(min(ax, bx, cx))))
		maxX := min(dst.tex.Width-1, int(math.Ceil(max(ax, bx, cx))))
		minY := max(0, int(math.Floor(min(ay, by, cy))))
		maxY := min(dst.tex.Height-1, int(math.Ceil(max(ay, by, cy))))

		for py := minY; py <= maxY; py++ {
			for px := minX; px <= maxX; px++ {
				fx, fy := float64(px)+0.5, float64(py)+0.5
				w0 := ((bx-fx)*(cy-fy) - (by-fy)*(cx-fx)) / area
				w1 := ((cx-fx)*(ay-fy) - (cy-fy)*(ax-fx)) / area
				w2 := 1 - w0 - w1
				const eps = -1e-9
				if w0 < eps || w1 < eps || w2 < eps {
					continue
				}
				u := w0*a.U + w1*b.U + w2*c.U
				v := w0*a.V + w1*b.V + w2*c.V
				blendTexel(dst, src, px, py, u, v)
			}
		}
	}
}

func blendTexel(dst, src *softTexture, px, py int, u, v float64) {
	sw, sh := src.tex.Width, src.tex.Height
	sx := clampInt(int(u*float64(sw)), 0, sw-1)
	sy := clampInt(int((1-v)*float64(sh)), 0, sh-1)

	if dst.f32 != nil {
		si := (sy*sw + sx) * 2
		if src.f32[si+1] <= 0 {
			return
		}
		di := (py*dst.tex.Width + px) * 2
		dst.f32[di] = src.f32[si]
		dst.f32[di+1] = 1
		return
	}

	si := src.rgba.PixOffset(sx, sy)
	sa := uint32(src.rgba.Pix[si+3])
	if sa == 0 {
		return
	}
	di := dst.rgba.PixOffset(px, py)
	// premultiplied source-over
	inv := 255 - sa
	for k := range 4 {
		d := uint32(dst.rgba.Pix[di+k])
		dst.rgba.Pix[di+k] = uint8(uint32(src.rgba.Pix[si+k]) + d*inv/255)
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

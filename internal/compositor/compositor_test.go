package compositor

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"

	"github.com/Faultbox/tessera/internal/gpu"
	"github.com/Faultbox/tessera/internal/projection"
	"github.com/Faultbox/tessera/pkg/extent"
)

const crs = projection.WebMercator

func solid(t *testing.T, dev gpu.Device, w, h int, r, g, b uint8) *gpu.Texture {
	t.Helper()
	px := gpu.NewPixels(w, h, gpu.RGBA8)
	for i := 0; i < len(px.U8); i += 4 {
		px.U8[i], px.U8[i+1], px.U8[i+2], px.U8[i+3] = r, g, b, 255
	}
	tex, err := gpu.NewTextureFromPixels(dev, px)
	if err != nil {
		t.Fatalf("failed to create texture: %v", err)
	}
	return tex
}

func newTestCompositor(dev gpu.Device) *Compositor {
	return New(Options{
		Extent: extent.New(crs, 0, 100, 0, 100),
		Device: dev,
	})
}

func TestAddNilTexture(t *testing.T) {
	c := newTestCompositor(gpu.NewSoftware())
	err := c.Add(Image{ID: "a", Extent: extent.New(crs, 0, 10, 0, 10)})
	if !errors.Is(err, ErrNilTexture) {
		t.Errorf("expected ErrNilTexture, got %v", err)
	}
}

func TestAddIsIdempotent(t *testing.T) {
	dev := gpu.NewSoftware()
	c := newTestCompositor(dev)
	e := extent.New(crs, 0, 10, 0, 10)

	if err := c.Add(Image{ID: "a", Extent: e, Texture: solid(t, dev, 2, 2, 255, 0, 0)}); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	second := solid(t, dev, 2, 2, 0, 255, 0)
	if err := c.Add(Image{ID: "a", Extent: e, Texture: second}); err != nil {
		t.Fatalf("second add failed: %v", err)
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 image, got %d", c.Len())
	}
	if c.images["a"].texture == second {
		t.Error("expected the first texture to be kept")
	}
}

func TestReferenceCountedEviction(t *testing.T) {
	tests := []struct {
		name    string
		owners  []int
		release []int
		kept    bool
	}{
		{"single owner released", []int{1}, []int{1}, false},
		{"two owners one released", []int{1, 2}, []int{1}, true},
		{"two owners both released", []int{1, 2}, []int{1, 2}, false},
		{"never locked", nil, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := gpu.NewSoftware()
			c := newTestCompositor(dev)
			c.Add(Image{ID: "a", Extent: extent.New(crs, 0, 10, 0, 10), Texture: solid(t, dev, 1, 1, 1, 1, 1)})

			for _, o := range tt.owners {
				if !c.Lock("a", o) {
					t.Fatal("expected lock to succeed")
				}
			}
			for _, o := range tt.release {
				c.Unlock([]string{"a"}, o)
			}
			if !c.Has("a") {
				t.Fatal("expected unlock not to dispose immediately")
			}

			c.Cleanup(0)
			if c.Has("a") != tt.kept {
				t.Errorf("expected kept=%v, got %v", tt.kept, c.Has("a"))
			}
			if !tt.kept && dev.Live() != 0 {
				t.Errorf("expected texture disposed, %d live", dev.Live())
			}
		})
	}
}

func TestCleanupKeepsAlwaysVisible(t *testing.T) {
	dev := gpu.NewSoftware()
	c := newTestCompositor(dev)
	c.Add(Image{ID: "a", Extent: extent.New(crs, 0, 10, 0, 10), Texture: solid(t, dev, 1, 1, 1, 1, 1), AlwaysVisible: true})
	c.Add(Image{ID: "b", Extent: extent.New(crs, 0, 10, 0, 10), Texture: solid(t, dev, 1, 1, 1, 1, 1)})
	c.Add(Image{ID: "c", Extent: extent.New(crs, 0, 10, 0, 10), Texture: solid(t, dev, 1, 1, 1, 1, 1)})

	if n := c.Cleanup(1); n != 1 {
		t.Errorf("expected budget to cap disposals at 1, got %d", n)
	}
	c.Cleanup(0)
	if !c.Has("a") || c.Len() != 1 {
		t.Errorf("expected only the always visible image to remain, got %d", c.Len())
	}
}

func TestRenderFallback(t *testing.T) {
	dev := gpu.NewSoftware()
	c := newTestCompositor(dev)
	c.Add(Image{ID: "a", Extent: extent.New(crs, 0, 50, 0, 50), Texture: solid(t, dev, 1, 1, 255, 0, 0)})
	c.Add(Image{ID: "other", Extent: extent.New(crs, 50, 100, 0, 50), Texture: solid(t, dev, 1, 1, 0, 255, 0)})
	c.Add(Image{ID: "far", Extent: extent.New(crs, 0, 10, 80, 100), Texture: solid(t, dev, 1, 1, 0, 0, 255)})

	target, _ := dev.NewTexture(8, 8, gpu.RGBA8)
	res, err := c.Render(RenderRequest{
		Extent:   extent.New(crs, 0, 100, 0, 50),
		Target:   target,
		ImageIDs: []string{"a", "b"},
	})
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if res.Final {
		t.Error("expected non-final result when b is missing")
	}
	if diff := cmp.Diff([]string{"a", "other"}, res.Drawn); diff != "" {
		t.Errorf("drawn images mismatch (-want +got):\n%s", diff)
	}

	res, err = c.Render(RenderRequest{
		Extent:   extent.New(crs, 0, 100, 0, 50),
		Target:   target,
		ImageIDs: []string{"a"},
	})
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if !res.Final {
		t.Error("expected final result when every image is present")
	}
	if diff := cmp.Diff([]string{"a"}, res.Drawn); diff != "" {
		t.Errorf("drawn images mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderOrderSmallerOnTop(t *testing.T) {
	dev := gpu.NewSoftware()
	c := newTestCompositor(dev)
	c.Add(Image{ID: "fine", Extent: extent.New(crs, 40, 50, 40, 50), Texture: solid(t, dev, 10, 10, 0, 255, 0), AlwaysVisible: true})
	c.Add(Image{ID: "coarse", Extent: extent.New(crs, 0, 100, 0, 100), Texture: solid(t, dev, 100, 100, 255, 0, 0), AlwaysVisible: true})

	target, _ := dev.NewTexture(100, 100, gpu.RGBA8)
	res, err := c.Render(RenderRequest{
		Extent:   extent.New(crs, 0, 100, 0, 100),
		Target:   target,
		ImageIDs: []string{"coarse", "fine"},
	})
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if diff := cmp.Diff([]string{"coarse", "fine"}, res.Drawn); diff != "" {
		t.Errorf("draw order mismatch (-want +got):\n%s", diff)
	}

	px, _ := dev.ReadPixels(target)
	// (45, 45) in map units is column 45, row 54
	i := (54*100 + 45) * 4
	if px.U8[i] != 0 || px.U8[i+1] != 255 {
		t.Errorf("expected fine image on top, got rgb(%d,%d,%d)", px.U8[i], px.U8[i+1], px.U8[i+2])
	}
}

func TestGetMinMax(t *testing.T) {
	dev := gpu.NewSoftware()
	c := newTestCompositor(dev)

	lo, hi := c.GetMinMax(extent.New(crs, 0, 100, 0, 100))
	if !math.IsInf(lo, 1) || !math.IsInf(hi, -1) {
		t.Errorf("expected (+Inf, -Inf), got (%v, %v)", lo, hi)
	}

	c.Add(Image{ID: "a", Extent: extent.New(crs, 0, 50, 0, 50), Texture: gpu.EmptyTexture(), MinMax: &MinMax{Min: 0, Max: 10}})
	c.Add(Image{ID: "b", Extent: extent.New(crs, 50, 100, 0, 50), Texture: gpu.EmptyTexture(), MinMax: &MinMax{Min: -5, Max: 3}})

	lo, hi = c.GetMinMax(extent.New(crs, 0, 100, 0, 100))
	if lo != -5 || hi != 10 {
		t.Errorf("expected (-5, 10), got (%v, %v)", lo, hi)
	}
	lo, hi = c.GetMinMax(extent.New(crs, 0, 20, 0, 20))
	if lo != 0 || hi != 10 {
		t.Errorf("expected (0, 10), got (%v, %v)", lo, hi)
	}
}

func TestComputeMinMaxBeforeInterpretation(t *testing.T) {
	dev := gpu.NewSoftware()
	c := New(Options{
		Extent:         extent.New(crs, 0, 100, 0, 100),
		Device:         dev,
		ComputeMinMax:  true,
		Interpretation: Interpretation{Mode: MapboxTerrainRGB},
	})

	px := gpu.NewPixels(2, 1, gpu.RGBA8)
	// 100000 * 0.1 - 10000 = 0
	px.U8[0], px.U8[1], px.U8[2], px.U8[3] = 0x01, 0x86, 0xA0, 255
	// 100100 * 0.1 - 10000 = 10
	px.U8[4], px.U8[5], px.U8[6], px.U8[7] = 0x01, 0x87, 0x04, 255
	tex, _ := gpu.NewTextureFromPixels(dev, px)

	if err := c.Add(Image{ID: "dem", Extent: extent.New(crs, 0, 100, 0, 100), Texture: tex}); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	lo, hi := c.GetMinMax(c.Extent())
	if math.Abs(lo) > 1e-9 || math.Abs(hi-10) > 1e-9 {
		t.Errorf("expected (0, 10), got (%v, %v)", lo, hi)
	}

	li := c.images["dem"]
	if li.texture.Format != gpu.RG32F {
		t.Fatalf("expected decoded RG32F texture, got %v", li.texture.Format)
	}
	decoded, _ := dev.ReadPixels(li.texture)
	if math.Abs(float64(decoded.F32[2])-10) > 1e-6 || decoded.F32[3] != 1 {
		t.Errorf("expected decoded value 10, got %v", decoded.F32[2])
	}
	if dev.Live() != 1 {
		t.Errorf("expected the encoded source texture disposed, %d live", dev.Live())
	}
}

func TestScaledInterpretation(t *testing.T) {
	in := Scaled(100, 200)
	px := gpu.NewPixels(1, 1, gpu.RGBA8)
	px.U8[0], px.U8[3] = 255, 255
	if got := in.decode(px, 0); got != 200 {
		t.Errorf("expected 200, got %v", got)
	}
	out := in.convert(px)
	if out.F32[0] != 200 || out.F32[1] != 1 {
		t.Errorf("expected (200, 1), got (%v, %v)", out.F32[0], out.F32[1])
	}
}

func TestReprojectedImageIsWarped(t *testing.T) {
	dev := gpu.NewSoftware()
	reg := projection.NewRegistry()
	merc, _ := reg.Transform(projection.WGS84, crs, []orb.Point{{-10, -10}, {10, 10}})
	target := extent.New(crs, merc[0][0], merc[1][0], merc[0][1], merc[1][1])

	c := New(Options{Extent: target, Device: dev, Projection: reg})
	src := extent.New(projection.WGS84, -10, 10, -10, 10)
	if err := c.Add(Image{ID: "geo", Extent: src, Texture: solid(t, dev, 4, 4, 255, 0, 0)}); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	li := c.images["geo"]
	if !li.warped {
		t.Fatal("expected image to be warped")
	}
	if got := len(li.mesh.Vertices); got != (DefaultWarpSegments+1)*(DefaultWarpSegments+1) {
		t.Errorf("expected %d lattice vertices, got %d", (DefaultWarpSegments+1)*(DefaultWarpSegments+1), got)
	}
	if li.extent.CRS() != crs || math.Abs(li.extent.XMax()-target.XMax()) > 1e-6 {
		t.Errorf("expected warped extent %v, got %v", target, li.extent)
	}

	tex, _ := dev.NewTexture(16, 16, gpu.RGBA8)
	if _, err := c.Render(RenderRequest{Extent: target, Target: tex, ImageIDs: []string{"geo"}}); err != nil {
		t.Fatalf("render failed: %v", err)
	}
	px, _ := dev.ReadPixels(tex)
	if px.U8[(8*16+8)*4] != 255 {
		t.Error("expected warped image to cover the target centre")
	}
}

func TestReprojectionUnsupported(t *testing.T) {
	dev := gpu.NewSoftware()
	c := newTestCompositor(dev)
	err := c.Add(Image{ID: "x", Extent: extent.New("EPSG:2154", 0, 1, 0, 1), Texture: solid(t, dev, 1, 1, 1, 1, 1)})
	if !errors.Is(err, projection.ErrUnsupportedCRS) {
		t.Errorf("expected ErrUnsupportedCRS, got %v", err)
	}
	if c.Has("x") || dev.Live() != 0 {
		t.Error("expected failed image to be released")
	}
}

func TestCopyIgnoresTrackedImages(t *testing.T) {
	dev := gpu.NewSoftware()
	c := newTestCompositor(dev)
	c.Add(Image{ID: "a", Extent: extent.New(crs, 0, 100, 0, 100), Texture: solid(t, dev, 1, 1, 255, 0, 0), AlwaysVisible: true})

	dest, _ := dev.NewTexture(4, 4, gpu.RGBA8)
	blue := solid(t, dev, 1, 1, 0, 0, 255)
	err := c.Copy([]CopySource{{Texture: blue, Extent: extent.New(crs, 0, 50, 0, 100)}}, dest, extent.New(crs, 0, 100, 0, 100))
	if err != nil {
		t.Fatalf("copy failed: %v", err)
	}
	px, _ := dev.ReadPixels(dest)
	if px.U8[2] != 255 || px.U8[0] != 0 {
		t.Errorf("expected blue on the west half, got rgb(%d,%d,%d)", px.U8[0], px.U8[1], px.U8[2])
	}
	if px.U8[3*4+3] != 0 {
		t.Error("expected east half untouched")
	}
}

func TestClearByExtent(t *testing.T) {
	dev := gpu.NewSoftware()
	c := newTestCompositor(dev)
	c.Add(Image{ID: "west", Extent: extent.New(crs, 0, 10, 0, 10), Texture: solid(t, dev, 1, 1, 1, 1, 1), AlwaysVisible: true})
	c.Add(Image{ID: "east", Extent: extent.New(crs, 90, 100, 0, 10), Texture: solid(t, dev, 1, 1, 1, 1, 1), AlwaysVisible: true})

	c.Clear(extent.New(crs, 80, 100, 0, 100))
	if c.Has("east") || !c.Has("west") {
		t.Error("expected only the east image cleared")
	}
	c.Dispose()
	if c.Len() != 0 || dev.Live() != 0 {
		t.Errorf("expected everything released, got %d images, %d textures", c.Len(), dev.Live())
	}
}

func TestRenderFillsNoData(t *testing.T) {
	dev := gpu.NewSoftware()
	c := New(Options{
		Extent:           extent.New(crs, 0, 100, 0, 100),
		Device:           dev,
		FillNoData:       true,
		FillNoDataRadius: 4,
	})
	c.Add(Image{ID: "a", Extent: extent.New(crs, 0, 50, 0, 100), Texture: solid(t, dev, 1, 1, 200, 0, 0)})

	target, _ := dev.NewTexture(4, 1, gpu.RGBA8)
	if _, err := c.Render(RenderRequest{Extent: extent.New(crs, 0, 100, 0, 100), Target: target, ImageIDs: []string{"a"}}); err != nil {
		t.Fatalf("render failed: %v", err)
	}
	px, _ := dev.ReadPixels(target)
	if px.U8[3*4] != 200 || px.U8[3*4+3] != 0 {
		t.Errorf("expected filled color with zero alpha, got r=%d a=%d", px.U8[3*4], px.U8[3*4+3])
	}
}

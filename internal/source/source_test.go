package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Faultbox/tessera/internal/gpu"
	"github.com/Faultbox/tessera/internal/layer"
	"github.com/Faultbox/tessera/internal/projection"
	"github.com/Faultbox/tessera/pkg/extent"
)

const crs = projection.WebMercator

func plane(x, y float64) float64 { return x + y }

func TestProceduralPicksLevel(t *testing.T) {
	p := &Procedural{Name: "p", Extent: extent.New(crs, 0, 100, 0, 100), MaxLevel: 3, Size: 4, Func: plane, Format: gpu.RG32F}

	tests := []struct {
		name string
		e    extent.Extent
		ids  []string
	}{
		{"root", extent.New(crs, 0, 100, 0, 100), []string{"p/0/0/0"}},
		{"level 1 north-east", extent.New(crs, 50, 100, 50, 100), []string{"p/1/1/1"}},
		{"clamped to max level", extent.New(crs, 0, 1, 0, 1), []string{"p/3/0/0"}},
		{"straddling cells", extent.New(crs, 40, 90, 0, 50), []string{"p/1/0/0", "p/1/1/0"}},
		{"outside", extent.New(crs, 200, 300, 0, 100), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ids []string
			for _, r := range p.Images(tt.e, 4, 4) {
				ids = append(ids, r.ID)
			}
			if diff := cmp.Diff(tt.ids, ids); diff != "" {
				t.Errorf("ids mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestProceduralGeneratesValues(t *testing.T) {
	p := &Procedural{Name: "p", Extent: extent.New(crs, 0, 100, 0, 100), Size: 2, Func: plane, Format: gpu.RG32F}
	reqs := p.Images(p.Extent, 2, 2)
	img, err := reqs[0].Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	// pixel centres are at 25 and 75; row 0 is north
	want := []float32{25 + 75, 1, 75 + 75, 1, 25 + 25, 1, 75 + 25, 1}
	if diff := cmp.Diff(want, img.Pixels.F32); diff != "" {
		t.Errorf("pixels mismatch (-want +got):\n%s", diff)
	}
	if img.MinMax == nil || img.MinMax.Min != 50 || img.MinMax.Max != 150 {
		t.Errorf("expected range [50, 150], got %+v", img.MinMax)
	}
}

func TestProceduralMaskedIsEmpty(t *testing.T) {
	p := &Procedural{
		Name:   "p",
		Extent: extent.New(crs, 0, 100, 0, 100),
		Size:   2,
		Func:   plane,
		Mask:   func(x, y float64) bool { return false },
		Format: gpu.RGBA8,
	}
	img, err := p.Images(p.Extent, 2, 2)[0].Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if !img.Empty {
		t.Error("expected fully masked image to be empty")
	}
}

func TestProceduralCancel(t *testing.T) {
	p := &Procedural{Name: "p", Extent: extent.New(crs, 0, 100, 0, 100), Size: 2, Func: plane, Latency: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Images(p.Extent, 2, 2)[0].Fetch(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestHypsometricRamp(t *testing.T) {
	ramp := HypsometricRamp(0, 100)
	if c := ramp(-10); c.G != 110 {
		t.Errorf("expected lowland green below range, got %+v", c)
	}
	if c := ramp(1000); c.R != 245 {
		t.Errorf("expected white above range, got %+v", c)
	}
}

func TestStaticReprojectedMatch(t *testing.T) {
	s := &Static{
		List: []StaticImage{
			{ID: "geo", Extent: extent.New(projection.WGS84, 0, 10, 0, 10), Image: layer.Image{Empty: true}},
			{ID: "merc", Extent: extent.New(crs, -5e6, -4e6, 0, 1e6), Image: layer.Image{Empty: true}},
		},
		Projection: projection.NewRegistry(),
	}

	reqs := s.Images(extent.New(crs, 0, 5e5, 0, 5e5), 16, 16)
	if len(reqs) != 1 || reqs[0].ID != "geo" {
		t.Fatalf("expected only geo image, got %d requests", len(reqs))
	}
	img, err := reqs[0].Fetch(context.Background())
	if err != nil || !img.Empty {
		t.Errorf("expected empty image, got %+v (%v)", img, err)
	}

	s.Projection = nil
	if n := len(s.Images(extent.New(crs, 0, 5e5, 0, 5e5), 16, 16)); n != 0 {
		t.Errorf("expected no match without a projection, got %d", n)
	}
}

package source

import (
	"context"

	"github.com/paulmach/orb"

	"github.com/Faultbox/tessera/internal/layer"
	"github.com/Faultbox/tessera/internal/projection"
	"github.com/Faultbox/tessera/pkg/extent"
)

// StaticImage is a ready-made image at a fixed extent.
type StaticImage struct {
	ID     string
	Extent extent.Extent
	Image  layer.Image
}

// Static serves a fixed list of images. Images in another CRS than the
// request are matched through Projection.
type Static struct {
	List       []StaticImage
	Projection projection.Service
}

var _ layer.Source = (*Static)(nil)

// Images returns every listed image intersecting e.
func (s *Static) Images(e extent.Extent, width, height int) []layer.ImageRequest {
	var reqs []layer.ImageRequest
	for _, img := range s.List {
		if !s.intersects(img.Extent, e) {
			continue
		}
		reqs = append(reqs, layer.ImageRequest{
			ID:     img.ID,
			Extent: img.Extent,
			Fetch: func(ctx context.Context) (layer.Image, error) {
				if err := ctx.Err(); err != nil {
					return layer.Image{}, err
				}
				out := img.Image
				out.Pixels = img.Image.Pixels.Clone()
				return out, nil
			},
		})
	}
	return reqs
}

func (s *Static) intersects(img, e extent.Extent) bool {
	if img.CRS() == e.CRS() {
		return img.Intersects(e)
	}
	if s.Projection == nil || !s.Projection.Supports(img.CRS(), e.CRS()) {
		return false
	}
	b := img.Bound()
	corners := []orb.Point{b.Min, {b.Max[0], b.Min[1]}, b.Max, {b.Min[0], b.Max[1]}}
	pts, err := s.Projection.Transform(img.CRS(), e.CRS(), corners)
	if err != nil {
		return false
	}
	pb := orb.MultiPoint(pts).Bound()
	return extent.FromBound(e.CRS(), pb).Intersects(e)
}

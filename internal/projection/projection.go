// Package projection converts points between coordinate reference systems.
package projection

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// Well-known CRS codes.
const (
	WGS84       = "EPSG:4326"
	WebMercator = "EPSG:3857"
)

// ErrUnsupportedCRS is returned for CRS pairs the service cannot convert.
var ErrUnsupportedCRS = errors.New("projection: unsupported CRS pair")

// Service transforms points between CRSs. Implementations must be pure and
// synchronous.
type Service interface {
	Supports(src, dst string) bool
	Transform(src, dst string, pts []orb.Point) ([]orb.Point, error)
}

type pair struct{ src, dst string }

// Registry is a Service backed by a table of point projections.
type Registry struct {
	projections map[pair]orb.Projection
}

// NewRegistry returns a registry that knows WGS84 <-> Web Mercator.
func NewRegistry() *Registry {
	r := &Registry{projections: make(map[pair]orb.Projection)}
	r.Register(WGS84, WebMercator, project.WGS84.ToMercator)
	r.Register(WebMercator, WGS84, project.Mercator.ToWGS84)
	return r
}

// Register adds a one-way projection.
func (r *Registry) Register(src, dst string, p orb.Projection) {
	r.projections[pair{src, dst}] = p
}

// Supports reports whether points can be moved from src to dst.
func (r *Registry) Supports(src, dst string) bool {
	if src == dst {
		return true
	}
	_, ok := r.projections[pair{src, dst}]
	return ok
}

// Transform returns a new slice of projected points.
func (r *Registry) Transform(src, dst string, pts []orb.Point) ([]orb.Point, error) {
	out := make([]orb.Point, len(pts))
	if src == dst {
		copy(out, pts)
		return out, nil
	}
	p, ok := r.projections[pair{src, dst}]
	if !ok {
		return nil, fmt.Errorf("%w: %s -> %s", ErrUnsupportedCRS, src, dst)
	}
	for i, pt := range pts {
		out[i] = p(pt)
	}
	return out, nil
}

// Package extent provides the CRS-tagged axis-aligned rectangle used to place
// tiles and layer images.
package extent

import (
	"fmt"

	"github.com/paulmach/orb"

	"github.com/Faultbox/tessera/pkg/math"
)

// Extent is an immutable rectangle in a coordinate reference system.
// The zero value is an empty extent with no CRS.
type Extent struct {
	crs   string
	bound orb.Bound
}

// New creates an extent. Bounds are swapped if given in reverse order.
func New(crs string, xMin, xMax, yMin, yMax float64) Extent {
	if xMin > xMax {
		xMin, xMax = xMax, xMin
	}
	if yMin > yMax {
		yMin, yMax = yMax, yMin
	}
	return Extent{
		crs:   crs,
		bound: orb.Bound{Min: orb.Point{xMin, yMin}, Max: orb.Point{xMax, yMax}},
	}
}

// FromBound wraps an orb bound.
func FromBound(crs string, b orb.Bound) Extent {
	return New(crs, b.Min[0], b.Max[0], b.Min[1], b.Max[1])
}

func (e Extent) CRS() string       { return e.crs }
func (e Extent) XMin() float64     { return e.bound.Min[0] }
func (e Extent) XMax() float64     { return e.bound.Max[0] }
func (e Extent) YMin() float64     { return e.bound.Min[1] }
func (e Extent) YMax() float64     { return e.bound.Max[1] }
func (e Extent) Bound() orb.Bound  { return e.bound }
func (e Extent) Center() orb.Point { return e.bound.Center() }

// Dimensions returns the width and height.
func (e Extent) Dimensions() (w, h float64) {
	return e.bound.Max[0] - e.bound.Min[0], e.bound.Max[1] - e.bound.Min[1]
}

// Intersects reports whether the two extents overlap or touch.
// Extents in different CRSs never intersect.
func (e Extent) Intersects(o Extent) bool {
	return e.crs == o.crs && e.bound.Intersects(o.bound)
}

// Intersect returns the overlapping rectangle.
func (e Extent) Intersect(o Extent) (Extent, bool) {
	if !e.Intersects(o) {
		return Extent{}, false
	}
	return New(e.crs,
		max(e.XMin(), o.XMin()), min(e.XMax(), o.XMax()),
		max(e.YMin(), o.YMin()), min(e.YMax(), o.YMax()),
	), true
}

// Contains reports whether o lies entirely inside e.
func (e Extent) Contains(o Extent) bool {
	return e.crs == o.crs &&
		o.XMin() >= e.XMin() && o.XMax() <= e.XMax() &&
		o.YMin() >= e.YMin() && o.YMax() <= e.YMax()
}

// ContainsPoint reports whether (x, y) lies inside e (inclusive).
func (e Extent) ContainsPoint(x, y float64) bool {
	return e.bound.Contains(orb.Point{x, y})
}

// Split divides the extent into a cols × rows grid. Cells are returned row by
// row starting from the south-west corner.
func (e Extent) Split(cols, rows int) []Extent {
	if cols < 1 || rows < 1 {
		return nil
	}
	w, h := e.Dimensions()
	dx, dy := w/float64(cols), h/float64(rows)

	cells := make([]Extent, 0, cols*rows)
	for r := range rows {
		for c := range cols {
			x0 := e.XMin() + float64(c)*dx
			y0 := e.YMin() + float64(r)*dy
			x1, y1 := x0+dx, y0+dy
			// snap the last row/column to avoid floating point gaps
			if c == cols-1 {
				x1 = e.XMax()
			}
			if r == rows-1 {
				y1 = e.YMax()
			}
			cells = append(cells, New(e.crs, x0, x1, y0, y1))
		}
	}
	return cells
}

// OffsetScaleIn returns the UV transform that maps e's local [0,1] space into
// parent's [0,1] space.
func (e Extent) OffsetScaleIn(parent Extent) math.OffsetScale {
	pw, ph := parent.Dimensions()
	w, h := e.Dimensions()
	if pw == 0 || ph == 0 {
		return math.IdentityOffsetScale()
	}
	return math.OffsetScale{
		OffsetX: (e.XMin() - parent.XMin()) / pw,
		OffsetY: (e.YMin() - parent.YMin()) / ph,
		ScaleX:  w / pw,
		ScaleY:  h / ph,
	}
}

// Equal reports whether the extents are identical.
func (e Extent) Equal(o Extent) bool {
	return e.crs == o.crs && e.bound.Equal(o.bound)
}

// IsZero reports whether e is the zero value.
func (e Extent) IsZero() bool {
	return e.crs == "" && e.bound == orb.Bound{}
}

func (e Extent) String() string {
	return fmt.Sprintf("%s[%g, %g, %g, %g]", e.crs, e.XMin(), e.XMax(), e.YMin(), e.YMax())
}

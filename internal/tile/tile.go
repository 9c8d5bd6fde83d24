// Package tile implements the quadtree node: geometry, elevation state,
// bounding volume and neighbour stitching of one map tile.
package tile

import (
	"fmt"
	"math"

	"github.com/Faultbox/tessera/internal/gpu"
	"github.com/Faultbox/tessera/internal/heightfield"
	"github.com/Faultbox/tessera/internal/material"
	"github.com/Faultbox/tessera/internal/tileindex"
	"github.com/Faultbox/tessera/pkg/extent"
	tmath "github.com/Faultbox/tessera/pkg/math"
)

// tallRatio is the vertical range to horizontal size ratio above which the
// coarse range is replaced by one computed from the height field.
const tallRatio = 3

// subdivisionWindow is the number of levels, self included, searched for a
// loaded elevation texture.
const subdivisionWindow = 3

// ElevationTexture is an elevation image bound to a tile.
type ElevationTexture struct {
	Texture     *gpu.Texture
	OffsetScale tmath.OffsetScale
	// MinMax is applied to the tile range when set. Zero is a valid value.
	MinMax *heightfield.MinMax

	// Precision and DecodeOffset decode RGBA8 readbacks.
	Precision    float64
	DecodeOffset float64
}

// elevationBinding is the elevation texture currently backing the tile.
type elevationBinding struct {
	layer string
	ElevationTexture
	final bool
}

// Options configures a new tile.
type Options struct {
	ID       int
	Coord    tileindex.Coord
	Extent   extent.Extent
	Parent   *Tile
	Segments int
	// CPUTerrain gives the tile its own geometry so heights can be applied.
	CPUTerrain bool
	Device     gpu.Device
	Pool       *GeometryPool
	AtlasSize  int
}

type listener struct {
	id int
	fn func(*Tile)
}

// Tile is one quadtree node.
type Tile struct {
	id     int
	coord  tileindex.Coord
	extent extent.Extent

	parent   *Tile
	children []*Tile

	Material *material.Material
	geometry *Geometry
	pool     *GeometryPool
	device   gpu.Device

	minMax    heightfield.MinMax
	hasMinMax bool
	volume    tmath.Box3

	cpuTerrain       bool
	heightField      *heightfield.HeightField
	heightFieldDirty bool
	elevation        *elevationBinding

	visible   bool
	displayed bool
	disposed  bool

	listeners    []listener
	nextListener int
}

// New creates a tile. Children should be created through Subdivide-style
// helpers so they inherit their parent's elevation state.
func New(opts Options) *Tile {
	t := &Tile{
		id:         opts.ID,
		coord:      opts.Coord,
		extent:     opts.Extent,
		parent:     opts.Parent,
		Material:   material.New(opts.AtlasSize),
		pool:       opts.Pool,
		device:     opts.Device,
		cpuTerrain: opts.CPUTerrain,
		visible:    true,
	}

	w, h := opts.Extent.Dimensions()
	if opts.CPUTerrain || opts.Pool == nil {
		t.geometry = NewGeometry(w, h, opts.Segments)
	} else {
		t.geometry = opts.Pool.Acquire(opts.Segments, opts.Coord.Z, w, h)
	}

	if p := opts.Parent; p != nil {
		p.children = append(p.children, t)
		if p.hasMinMax {
			t.minMax, t.hasMinMax = p.minMax, true
		}
	}
	t.updateVolume()
	return t
}

func (t *Tile) ID() int                { return t.id }
func (t *Tile) Coord() tileindex.Coord { return t.coord }
func (t *Tile) Level() int             { return t.coord.Z }
func (t *Tile) Extent() extent.Extent  { return t.extent }
func (t *Tile) Parent() *Tile          { return t.parent }
func (t *Tile) Children() []*Tile      { return t.children }
func (t *Tile) Geometry() *Geometry    { return t.geometry }
func (t *Tile) Volume() tmath.Box3     { return t.volume }
func (t *Tile) Disposed() bool         { return t.disposed }
func (t *Tile) Visible() bool          { return t.visible }
func (t *Tile) SetVisible(v bool)      { t.visible = v }
func (t *Tile) Displayed() bool        { return t.displayed }
func (t *Tile) SetDisplayed(v bool)    { t.displayed = v }

// HeightField returns the CPU elevation raster, if one was read back or inherited.
func (t *Tile) HeightField() *heightfield.HeightField {
	return t.heightField
}

func (t *Tile) String() string {
	return fmt.Sprintf("tile#%d(%s)", t.id, t.coord)
}

// OnElevationChanged registers fn and returns a function removing it.
// Listeners added or removed during a dispatch take effect on the next one.
func (t *Tile) OnElevationChanged(fn func(*Tile)) (unsubscribe func()) {
	t.nextListener++
	id := t.nextListener
	t.listeners = append(t.listeners, listener{id: id, fn: fn})
	return func() {
		for i, l := range t.listeners {
			if l.id == id {
				t.listeners = append(t.listeners[:i:i], t.listeners[i+1:]...)
				return
			}
		}
	}
}

func (t *Tile) notifyElevationChanged() {
	snapshot := append([]listener(nil), t.listeners...)
	for _, l := range snapshot {
		l.fn(t)
	}
}

// SetElevationTexture binds an elevation texture. It does nothing once the
// tile is disposed.
func (t *Tile) SetElevationTexture(layerID string, et ElevationTexture, final bool) {
	if t.disposed {
		return
	}
	t.elevation = &elevationBinding{layer: layerID, ElevationTexture: et, final: final}
	if et.MinMax != nil {
		t.minMax, t.hasMinMax = *et.MinMax, true
		t.updateVolume()
	}

	lo, hi := t.minMax.Min, t.minMax.Max
	t.Material.SetElevationTexture(layerID, et.Texture, et.OffsetScale, lo, hi)
	t.heightFieldDirty = true
	t.notifyElevationChanged()
}

// RemoveElevationTexture clears the elevation binding.
func (t *Tile) RemoveElevationTexture() {
	if t.disposed {
		return
	}
	t.elevation = nil
	t.Material.RemoveElevationLayer()
	t.heightFieldDirty = true
	t.notifyElevationChanged()
}

// ElevationTexture returns the bound elevation texture.
func (t *Tile) ElevationTexture() (ElevationTexture, bool) {
	if t.elevation == nil {
		return ElevationTexture{}, false
	}
	return t.elevation.ElevationTexture, true
}

// ElevationFinal reports whether the bound elevation is the exact data for
// this tile rather than an approximation.
func (t *Tile) ElevationFinal() bool {
	return t.elevation != nil && t.elevation.final
}

// CreateHeightField reads the bound elevation texture back into a height
// field. It only runs in CPU terrain mode and only when the binding changed
// since the last readback.
func (t *Tile) CreateHeightField() (*heightfield.HeightField, error) {
	if !t.cpuTerrain || t.device == nil {
		return t.heightField, nil
	}
	if !t.heightFieldDirty && t.heightField != nil {
		return t.heightField, nil
	}
	if t.elevation == nil || t.elevation.Texture == nil || t.elevation.Texture.Empty() {
		t.heightFieldDirty = false
		return t.heightField, nil
	}

	px, err := t.device.ReadPixels(t.elevation.Texture)
	if err != nil {
		return nil, fmt.Errorf("reading back elevation of %s: %w", t, err)
	}
	hf, err := heightfield.FromPixels(px, t.elevation.OffsetScale, t.elevation.Precision, t.elevation.DecodeOffset)
	if err != nil {
		return nil, err
	}
	t.heightField = hf
	t.heightFieldDirty = false

	if mm, ok := hf.RegionMinMax(heightfield.Unit); ok {
		t.tighten(mm)
	}
	return hf, nil
}

// InheritHeightField gives the tile a rescaled view of its parent's height
// field and narrows the range to the covered region.
func (t *Tile) InheritHeightField() {
	p := t.parent
	if p == nil || p.heightField == nil {
		return
	}
	t.heightField = p.heightField.WithOffsetScale(t.OffsetToParent(p.Level()))
	if mm, ok := t.heightField.RegionMinMax(heightfield.Unit); ok {
		if !t.hasMinMax || (mm.Min >= t.minMax.Min && mm.Max <= t.minMax.Max) {
			t.minMax, t.hasMinMax = mm, true
			t.updateVolume()
		}
	}
}

// tighten accepts mm only if it is strictly narrower on both ends.
func (t *Tile) tighten(mm heightfield.MinMax) bool {
	if t.hasMinMax && !(mm.Min > t.minMax.Min && mm.Max < t.minMax.Max) {
		return false
	}
	t.minMax, t.hasMinMax = mm, true
	t.updateVolume()
	return true
}

// ApplyHeightField writes sampled heights into the tile geometry. Shared
// geometry is left untouched.
func (t *Tile) ApplyHeightField() error {
	if t.disposed || t.geometry.Shared {
		return nil
	}
	hf, err := t.CreateHeightField()
	if err != nil {
		return err
	}
	if hf == nil {
		return nil
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	heights := make([]float64, len(t.geometry.Vertices))
	valid := make([]bool, len(t.geometry.Vertices))
	for i, v := range t.geometry.Vertices {
		h, ok := hf.Sample(float64(v.TexCoord[0]), float64(v.TexCoord[1]), false)
		if !ok {
			continue
		}
		heights[i], valid[i] = h, true
		lo, hi = min(lo, h), max(hi, h)
	}
	if math.IsInf(lo, 1) {
		return nil
	}

	for i := range t.geometry.Vertices {
		h := lo
		if valid[i] {
			h = heights[i]
		}
		t.geometry.Vertices[i].Position[2] = float32(h)
	}
	t.tighten(heightfield.MinMax{Min: lo, Max: hi})
	t.notifyElevationChanged()
	return nil
}

// ResetHeights flattens the geometry and the range to zero.
func (t *Tile) ResetHeights() {
	if t.disposed {
		return
	}
	if !t.geometry.Shared {
		t.geometry.Flatten()
	}
	t.minMax, t.hasMinMax = heightfield.MinMax{}, true
	t.updateVolume()
	t.notifyElevationChanged()
}

// MinMax returns the elevation range. A tall, thin range triggers a height
// field readback for a tighter bound.
func (t *Tile) MinMax() (heightfield.MinMax, bool) {
	if !t.hasMinMax {
		return heightfield.MinMax{}, false
	}
	w, h := t.extent.Dimensions()
	if size := max(w, h); size > 0 && (t.minMax.Max-t.minMax.Min)/size > tallRatio {
		// a failed readback keeps the coarse range
		_, _ = t.CreateHeightField()
	}
	return t.minMax, true
}

// SetMinMax overrides the elevation range.
func (t *Tile) SetMinMax(mm heightfield.MinMax) {
	t.minMax, t.hasMinMax = mm, true
	t.updateVolume()
}

func (t *Tile) updateVolume() {
	w, h := t.extent.Dimensions()
	t.volume = tmath.Box3{
		Min: tmath.Vec3{X: float32(-w / 2), Y: float32(-h / 2), Z: float32(t.minMax.Min)},
		Max: tmath.Vec3{X: float32(w / 2), Y: float32(h / 2), Z: float32(t.minMax.Max)},
	}
}

// OffsetToParent is the UV transform from this tile into its ancestor at level.
func (t *Tile) OffsetToParent(level int) tmath.OffsetScale {
	dz := t.coord.Z - level
	if dz <= 0 {
		return tmath.IdentityOffsetScale()
	}
	scale := 1 / float64(int(1)<<dz)
	ax, ay := t.coord.X>>dz, t.coord.Y>>dz
	return tmath.OffsetScale{
		OffsetX: float64(t.coord.X-ax<<dz) * scale,
		OffsetY: float64(t.coord.Y-ay<<dz) * scale,
		ScaleX:  scale,
		ScaleY:  scale,
	}
}

// ProcessNeighbours fills the material stitching slots. neighbours is
// indexed by tileindex.Direction.
func (t *Tile) ProcessNeighbours(neighbours [8]*Tile) {
	for d, n := range neighbours {
		if n == nil || n.disposed || !n.visible || !n.displayed || n.Material == nil || n.elevation == nil {
			t.Material.UpdateNeighbour(d, material.NoNeighbour, tmath.IdentityOffsetScale(), nil)
			continue
		}
		diff := t.Level() - n.Level()
		os := n.elevation.OffsetScale.Compose(t.OffsetToParent(n.Level()))
		t.Material.UpdateNeighbour(d, diff, os, n.elevation.Texture)
	}
}

// CanSubdivide reports whether this tile or one of its two closest
// ancestors has a loaded elevation texture.
func (t *Tile) CanSubdivide() bool {
	n := t
	for range subdivisionWindow {
		if n == nil {
			return false
		}
		if n.Material != nil && n.Material.IsElevationTextureLoaded() {
			return true
		}
		n = n.parent
	}
	return false
}

// FindCommonAncestor returns the deepest tile that is an ancestor of (or
// equal to) both t and other, or nil when they have different roots.
func (t *Tile) FindCommonAncestor(other *Tile) *Tile {
	if t == nil || other == nil {
		return nil
	}
	switch {
	case t.Level() == other.Level():
		if t.id == other.id {
			return t
		}
		if t.Level() == 0 {
			return nil
		}
		return t.parent.FindCommonAncestor(other.parent)
	case t.Level() > other.Level():
		return t.parent.FindCommonAncestor(other)
	default:
		return t.FindCommonAncestor(other.parent)
	}
}

// DetachChildren disposes and returns the direct children.
func (t *Tile) DetachChildren() []*Tile {
	detached := t.children
	t.children = nil
	for _, c := range detached {
		c.parent = nil
		c.Dispose()
	}
	return detached
}

// Dispose releases geometry and elevation state. Further calls do nothing.
func (t *Tile) Dispose() {
	if t.disposed {
		return
	}
	t.disposed = true
	t.DetachChildren()
	if t.geometry != nil && t.geometry.Shared && t.pool != nil {
		t.pool.Release(t.geometry, t.coord.Z)
	}
	t.geometry = nil
	t.heightField = nil
	t.elevation = nil
	t.listeners = nil
}

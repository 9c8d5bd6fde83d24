// Package compositor draws per-layer source images into one texture per tile
// request and keeps the images alive while tiles reference them.
package compositor

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/Faultbox/tessera/internal/gpu"
	"github.com/Faultbox/tessera/internal/logger"
	"github.com/Faultbox/tessera/internal/projection"
	"github.com/Faultbox/tessera/pkg/extent"
)

// ErrNilTexture is returned by Add when an image carries no texture. Sources
// with nothing to show must hand out gpu.EmptyTexture instead.
var ErrNilTexture = errors.New("compositor: image has nil texture")

// DefaultWarpSegments is the reprojection lattice resolution.
const DefaultWarpSegments = 8

// MinMax is a value range.
type MinMax struct {
	Min, Max float64
}

// Image is a source image handed to Add.
type Image struct {
	ID      string
	Extent  extent.Extent
	Texture *gpu.Texture
	// MinMax is the value range if the source knows it. Nil means unknown.
	MinMax        *MinMax
	AlwaysVisible bool
}

// Options configures a Compositor.
type Options struct {
	// Extent is the CRS and coverage of the layer. Images in another CRS are reprojected.
	Extent           extent.Extent
	Device           gpu.Device
	Projection       projection.Service
	WarpSegments     int
	FillNoData       bool
	FillNoDataRadius int
	ComputeMinMax    bool
	Interpretation   Interpretation
	TextureFormat    gpu.Format
	Logger           *zap.Logger
}

type layerImage struct {
	id            string
	extent        extent.Extent // in the compositor CRS
	texture       *gpu.Texture
	mesh          gpu.Mesh
	warped        bool
	order         float64
	seq           int
	minMax        *MinMax
	alwaysVisible bool
	owners        map[int]struct{}
}

// Compositor tracks layer images and renders them into tile targets.
// It is not safe for concurrent use.
type Compositor struct {
	opts   Options
	log    *zap.Logger
	images map[string]*layerImage
	seq    int
}

// New creates a compositor.
func New(opts Options) *Compositor {
	if opts.WarpSegments <= 0 {
		opts.WarpSegments = DefaultWarpSegments
	}
	if opts.Projection == nil {
		opts.Projection = projection.NewRegistry()
	}
	log := opts.Logger
	if log == nil {
		log = logger.Named("compositor")
	}
	return &Compositor{
		opts:   opts,
		log:    log,
		images: make(map[string]*layerImage),
	}
}

// Extent returns the compositor's coverage.
func (c *Compositor) Extent() extent.Extent {
	return c.opts.Extent
}

// TextureFormat is the format of render targets this compositor draws into.
func (c *Compositor) TextureFormat() gpu.Format {
	if c.opts.Interpretation.Mode != Raw {
		return gpu.RG32F
	}
	return c.opts.TextureFormat
}

// Len returns the number of tracked images.
func (c *Compositor) Len() int {
	return len(c.images)
}

// Has reports whether an image is tracked.
func (c *Compositor) Has(id string) bool {
	_, ok := c.images[id]
	return ok
}

// Add starts tracking img. Adding an id that is already tracked does nothing.
// The compositor takes ownership of img.Texture.
func (c *Compositor) Add(img Image) error {
	if img.Texture == nil {
		return fmt.Errorf("%w: %s", ErrNilTexture, img.ID)
	}
	if c.Has(img.ID) {
		return nil
	}
	if crs := img.Extent.CRS(); !c.opts.Projection.Supports(crs, c.opts.Extent.CRS()) {
		if !img.Texture.Empty() {
			c.opts.Device.Dispose(img.Texture)
		}
		return fmt.Errorf("adding image %s: %w: %s -> %s", img.ID, projection.ErrUnsupportedCRS, crs, c.opts.Extent.CRS())
	}

	li := &layerImage{
		id:            img.ID,
		texture:       img.Texture,
		minMax:        img.MinMax,
		alwaysVisible: img.AlwaysVisible,
		owners:        make(map[int]struct{}),
	}

	if !img.Texture.Empty() {
		if err := c.prepare(li); err != nil {
			return fmt.Errorf("adding image %s: %w", img.ID, err)
		}
	}

	if img.Extent.CRS() != c.opts.Extent.CRS() {
		mesh, err := c.warp(img.Extent)
		if err != nil {
			c.dispose(li)
			return fmt.Errorf("reprojecting image %s: %w", img.ID, err)
		}
		li.mesh = mesh
		li.warped = true
		li.extent = extent.FromBound(c.opts.Extent.CRS(), mesh.Bound())
	} else {
		li.mesh = gpu.RectMesh(img.Extent)
		li.extent = img.Extent
	}

	full, _ := c.opts.Extent.Dimensions()
	if w, _ := li.extent.Dimensions(); w > 0 {
		li.order = full / w
	}
	c.seq++
	li.seq = c.seq
	c.images[li.id] = li

	c.log.Debug("image added",
		zap.String("id", li.id),
		zap.Bool("warped", li.warped),
		zap.Float64("order", li.order))
	return nil
}

// prepare computes the missing value range from the raw pixels, then applies
// the interpretation.
func (c *Compositor) prepare(li *layerImage) error {
	needRange := li.minMax == nil && c.opts.ComputeMinMax
	needConvert := c.opts.Interpretation.Mode != Raw
	if !needRange && !needConvert {
		return nil
	}

	px, err := c.opts.Device.ReadPixels(li.texture)
	if err != nil {
		return err
	}
	if needRange {
		if lo, hi, ok := px.ValueMinMax(c.opts.Interpretation.decode); ok {
			li.minMax = &MinMax{Min: lo, Max: hi}
		}
	}
	if needConvert && px.Format == gpu.RGBA8 {
		tex, err := gpu.NewTextureFromPixels(c.opts.Device, c.opts.Interpretation.convert(px))
		if err != nil {
			return err
		}
		c.opts.Device.Dispose(li.texture)
		li.texture = tex
	}
	return nil
}

// warp builds a lattice over src and moves every vertex into the compositor CRS.
func (c *Compositor) warp(src extent.Extent) (gpu.Mesh, error) {
	mesh := gpu.GridMesh(src, c.opts.WarpSegments)
	pts := make([]orb.Point, len(mesh.Vertices))
	for i, v := range mesh.Vertices {
		pts[i] = v.Pos
	}
	out, err := c.opts.Projection.Transform(src.CRS(), c.opts.Extent.CRS(), pts)
	if err != nil {
		return gpu.Mesh{}, err
	}
	for i := range mesh.Vertices {
		mesh.Vertices[i].Pos = out[i]
	}
	return mesh, nil
}

// Lock records owner as a user of image id. It reports whether the image exists.
func (c *Compositor) Lock(id string, owner int) bool {
	li, ok := c.images[id]
	if !ok {
		return false
	}
	li.owners[owner] = struct{}{}
	return true
}

// Unlock releases owner's hold on every id. Released images are disposed by
// the next Cleanup, not immediately.
func (c *Compositor) Unlock(ids []string, owner int) {
	for _, id := range ids {
		if li, ok := c.images[id]; ok {
			delete(li.owners, owner)
		}
	}
}

// RenderRequest asks for a composite of ImageIDs over Extent into Target.
type RenderRequest struct {
	Extent   extent.Extent
	Target   *gpu.Texture
	ImageIDs []string
}

// Result describes a render.
type Result struct {
	// Final is false when some requested images were missing and the
	// intersecting images were drawn instead.
	Final bool
	// MinMax is the value range of the drawn images, nil when unknown.
	MinMax *MinMax
	// Drawn lists image ids in draw order.
	Drawn []string
}

// Render draws the requested images into req.Target. When any requested
// image is missing, every tracked image intersecting req.Extent is drawn and
// the result is not final.
func (c *Compositor) Render(req RenderRequest) (Result, error) {
	res := Result{Final: true}

	var shown []*layerImage
	for _, id := range req.ImageIDs {
		li, ok := c.images[id]
		if !ok {
			res.Final = false
			break
		}
		shown = append(shown, li)
	}
	intersecting := c.intersecting(req.Extent)
	if !res.Final {
		shown = intersecting
	}

	res.MinMax = aggregate(shown)
	if res.MinMax == nil {
		res.MinMax = aggregate(intersecting)
	}

	sortForDraw(shown)
	pass := gpu.RenderPass{Extent: req.Extent, Clear: true}
	for _, li := range shown {
		res.Drawn = append(res.Drawn, li.id)
		if li.texture.Empty() {
			continue
		}
		pass.Draws = append(pass.Draws, gpu.Draw{Texture: li.texture, Mesh: li.mesh})
	}

	if err := c.opts.Device.Render(req.Target, pass); err != nil {
		return res, fmt.Errorf("rendering %s: %w", req.Extent, err)
	}
	if c.opts.FillNoData {
		if err := c.opts.Device.FillNoData(req.Target, c.opts.FillNoDataRadius); err != nil {
			return res, fmt.Errorf("filling no-data: %w", err)
		}
	}
	return res, nil
}

func (c *Compositor) intersecting(e extent.Extent) []*layerImage {
	var out []*layerImage
	for _, li := range c.images {
		if li.extent.Intersects(e) {
			out = append(out, li)
		}
	}
	return out
}

// sortForDraw orders images so that smaller ones are drawn last.
func sortForDraw(images []*layerImage) {
	sort.Slice(images, func(i, j int) bool {
		if images[i].order != images[j].order {
			return images[i].order < images[j].order
		}
		return images[i].seq < images[j].seq
	})
}

func aggregate(images []*layerImage) *MinMax {
	var out *MinMax
	for _, li := range images {
		if li.minMax == nil || !finite(*li.minMax) {
			continue
		}
		if out == nil {
			m := *li.minMax
			out = &m
			continue
		}
		out.Min = min(out.Min, li.minMax.Min)
		out.Max = max(out.Max, li.minMax.Max)
	}
	return out
}

func finite(m MinMax) bool {
	return !math.IsInf(m.Min, 0) && !math.IsInf(m.Max, 0) && !math.IsNaN(m.Min) && !math.IsNaN(m.Max)
}

// CopySource is one texture placed at an extent.
type CopySource struct {
	Texture *gpu.Texture
	Extent  extent.Extent
}

// Copy draws sources alone into dest over target. Tracked images are not drawn.
func (c *Compositor) Copy(sources []CopySource, dest *gpu.Texture, target extent.Extent) error {
	pass := gpu.RenderPass{Extent: target, Clear: true}
	for _, s := range sources {
		if s.Texture == nil {
			return ErrNilTexture
		}
		mesh := gpu.RectMesh(s.Extent)
		if s.Extent.CRS() != target.CRS() {
			warped, err := c.warp(s.Extent)
			if err != nil {
				return err
			}
			mesh = warped
		}
		pass.Draws = append(pass.Draws, gpu.Draw{Texture: s.Texture, Mesh: mesh})
	}
	return c.opts.Device.Render(dest, pass)
}

// GetMinMax aggregates the value range of tracked images intersecting e.
// Without any finite range it returns (+Inf, -Inf).
func (c *Compositor) GetMinMax(e extent.Extent) (lo, hi float64) {
	if m := aggregate(c.intersecting(e)); m != nil {
		return m.Min, m.Max
	}
	return math.Inf(1), math.Inf(-1)
}

// Cleanup disposes images that no tile owns and that are not always
// visible. budget caps the number of disposals, 0 meaning no cap. It
// returns the number of images disposed.
func (c *Compositor) Cleanup(budget int) int {
	var ids []string
	for id, li := range c.images {
		if len(li.owners) == 0 && !li.alwaysVisible {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if budget > 0 && len(ids) > budget {
		ids = ids[:budget]
	}
	for _, id := range ids {
		c.dispose(c.images[id])
		delete(c.images, id)
	}
	if len(ids) > 0 {
		c.log.Debug("cleanup", zap.Int("disposed", len(ids)), zap.Int("remaining", len(c.images)))
	}
	return len(ids)
}

// Clear disposes every image intersecting e, or every image when e is zero.
func (c *Compositor) Clear(e extent.Extent) {
	for id, li := range c.images {
		if e.IsZero() || li.extent.Intersects(e) {
			c.dispose(li)
			delete(c.images, id)
		}
	}
}

// Dispose releases every image.
func (c *Compositor) Dispose() {
	c.Clear(extent.Extent{})
}

func (c *Compositor) dispose(li *layerImage) {
	c.opts.Device.Dispose(li.texture)
	li.mesh = gpu.Mesh{}
}

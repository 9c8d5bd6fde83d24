// Package layer connects image sources to tiles: it fetches source images in
// the background, feeds them to a compositor and binds the composited
// texture of every tile to its material or elevation.
package layer

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/Faultbox/tessera/internal/compositor"
	"github.com/Faultbox/tessera/internal/gpu"
	"github.com/Faultbox/tessera/internal/heightfield"
	"github.com/Faultbox/tessera/internal/logger"
	"github.com/Faultbox/tessera/internal/material"
	"github.com/Faultbox/tessera/internal/projection"
	"github.com/Faultbox/tessera/internal/tile"
	"github.com/Faultbox/tessera/pkg/extent"
	tmath "github.com/Faultbox/tessera/pkg/math"
)

// Kind discriminates layer variants.
type Kind int

const (
	Color Kind = iota
	Elevation
)

func (k Kind) String() string {
	if k == Elevation {
		return "elevation"
	}
	return "color"
}

// Image is a decoded source image. Sources with nothing to show return
// Empty instead of pixels.
type Image struct {
	Pixels gpu.Pixels
	Empty  bool
	MinMax *compositor.MinMax
}

// ImageRequest is one source image covering part of a tile.
type ImageRequest struct {
	// ID is stable across requests for the same image.
	ID     string
	Extent extent.Extent
	Fetch  func(ctx context.Context) (Image, error)
}

// Source lists the images covering an extent at a given resolution.
type Source interface {
	Images(e extent.Extent, width, height int) []ImageRequest
}

// Options configures a layer.
type Options struct {
	ID     string
	Source Source
	Device gpu.Device
	// Extent is the map extent; composites are drawn in its CRS.
	Extent         extent.Extent
	Projection     projection.Service
	TextureSize    int
	Interpretation compositor.Interpretation
	// TextureFormat of the composited target. Elevation layers default to RG32F.
	TextureFormat    gpu.Format
	FillNoData       bool
	FillNoDataRadius int
	WarpSegments     int

	Index     int
	Hidden    bool
	Opacity   float64
	BlendMode material.BlendMode

	// ElevationRange masks color pixels outside [lo, hi].
	ElevationRange *[2]float64
	ColorMap       *material.ColorMap
}

type fetch struct {
	id      string
	cancel  context.CancelFunc
	waiters map[int]struct{}
}

type result struct {
	f   *fetch
	req ImageRequest
	img Image
	err error
}

type nodeState struct {
	tile      *tile.Tile
	target    *gpu.Texture
	requested []string
	final     bool
}

// Layer is the shared part of color and elevation layers.
type Layer struct {
	id      string
	kind    Kind
	index   int
	visible bool
	opacity float64
	blend   material.BlendMode

	// self is the variant handed to materials.
	self material.ColorLayer

	source Source
	dev    gpu.Device
	comp   *compositor.Compositor
	size   int
	format gpu.Format

	nodes    map[int]*nodeState
	inflight map[string]*fetch
	failed   map[string]struct{}
	results  chan result
	log      *zap.Logger
}

// ColorLayer drapes imagery over tiles.
type ColorLayer struct {
	*Layer
	elevationRange *[2]float64
	colorMap       *material.ColorMap
}

// ElevationLayer deforms tiles.
type ElevationLayer struct {
	*Layer
}

func newLayer(kind Kind, opts Options) *Layer {
	size := opts.TextureSize
	if size <= 0 {
		size = 256
	}
	opacity := opts.Opacity
	if opacity == 0 {
		opacity = 1
	}

	log := logger.Named("layer").With(zap.String("layer", opts.ID), zap.Stringer("kind", kind))
	comp := compositor.New(compositor.Options{
		Extent:           opts.Extent,
		Device:           opts.Device,
		Projection:       opts.Projection,
		WarpSegments:     opts.WarpSegments,
		FillNoData:       opts.FillNoData,
		FillNoDataRadius: opts.FillNoDataRadius,
		ComputeMinMax:    kind == Elevation,
		Interpretation:   opts.Interpretation,
		TextureFormat:    opts.TextureFormat,
		Logger:           log.Named("compositor"),
	})

	return &Layer{
		id:       opts.ID,
		kind:     kind,
		index:    opts.Index,
		visible:  !opts.Hidden,
		opacity:  opacity,
		blend:    opts.BlendMode,
		source:   opts.Source,
		dev:      opts.Device,
		comp:     comp,
		size:     size,
		format:   comp.TextureFormat(),
		nodes:    make(map[int]*nodeState),
		inflight: make(map[string]*fetch),
		failed:   make(map[string]struct{}),
		results:  make(chan result, 64),
		log:      log,
	}
}

// NewColor creates a color layer.
func NewColor(opts Options) *ColorLayer {
	c := &ColorLayer{
		Layer:          newLayer(Color, opts),
		elevationRange: opts.ElevationRange,
		colorMap:       opts.ColorMap,
	}
	c.self = c
	return c
}

// NewElevation creates an elevation layer.
func NewElevation(opts Options) *ElevationLayer {
	if opts.TextureFormat == gpu.RGBA8 && opts.Interpretation.Mode == compositor.Raw {
		opts.TextureFormat = gpu.RG32F
	}
	e := &ElevationLayer{Layer: newLayer(Elevation, opts)}
	e.self = e.Layer
	return e
}

func (l *Layer) ID() string                    { return l.id }
func (l *Layer) Kind() Kind                    { return l.kind }
func (l *Layer) Index() int                    { return l.index }
func (l *Layer) Visible() bool                 { return l.visible }
func (l *Layer) Opacity() float64              { return l.opacity }
func (l *Layer) BlendMode() material.BlendMode { return l.blend }

// SetIndex changes the draw order. Materials pick it up after ReorderLayers.
func (l *Layer) SetIndex(i int) { l.index = i }

// SetVisible toggles the layer.
func (l *Layer) SetVisible(v bool) { l.visible = v }

// SetOpacity changes the layer opacity.
func (l *Layer) SetOpacity(o float64) { l.opacity = o }

// Compositor exposes the layer's image cache.
func (l *Layer) Compositor() *compositor.Compositor { return l.comp }

// ElevationRange implements material.ElevationRanged.
func (c *ColorLayer) ElevationRange() (lo, hi float64, ok bool) {
	if c.elevationRange == nil {
		return 0, 0, false
	}
	return c.elevationRange[0], c.elevationRange[1], true
}

// ColorMap implements material.ColorMapped.
func (c *ColorLayer) ColorMap() (material.ColorMap, bool) {
	if c.colorMap == nil {
		return material.ColorMap{}, false
	}
	return *c.colorMap, true
}

// Target returns the composited texture of a tile.
func (l *Layer) Target(tileID int) (*gpu.Texture, bool) {
	st, ok := l.nodes[tileID]
	if !ok {
		return nil, false
	}
	return st.target, true
}

// Final reports whether the tile shows exact data for this layer.
func (l *Layer) Final(tileID int) bool {
	st, ok := l.nodes[tileID]
	return ok && st.final
}

// NonFinal returns the tiles still showing approximated data.
func (l *Layer) NonFinal() []*tile.Tile {
	var out []*tile.Tile
	for _, st := range l.nodes {
		if !st.final && !st.tile.Disposed() {
			out = append(out, st.tile)
		}
	}
	return out
}

// Pending returns the number of fetches in flight.
func (l *Layer) Pending() int {
	return len(l.inflight)
}

// Update requests the images covering t, starts fetches for missing ones
// and binds the best composite available now.
func (l *Layer) Update(ctx context.Context, t *tile.Tile) error {
	if t.Disposed() {
		return nil
	}

	st, ok := l.nodes[t.ID()]
	if !ok {
		target, err := l.dev.NewTexture(l.size, l.size, l.format)
		if err != nil {
			return fmt.Errorf("layer %s: allocating target for %s: %w", l.id, t, err)
		}
		st = &nodeState{tile: t, target: target}
		l.nodes[t.ID()] = st
		if l.kind == Elevation {
			t.Material.AddElevationLayer(l.id)
		} else {
			t.Material.PushColorLayer(l.self)
		}
	}

	reqs := l.source.Images(t.Extent(), l.size, l.size)
	requested := make([]string, 0, len(reqs))
	for _, req := range reqs {
		// failed images are left out so the tile can still become final
		if _, failed := l.failed[req.ID]; failed {
			continue
		}
		requested = append(requested, req.ID)
		if l.comp.Lock(req.ID, t.ID()) {
			continue
		}
		l.startFetch(ctx, req, t.ID())
	}
	l.comp.Unlock(dropped(st.requested, requested), t.ID())
	st.requested = requested
	return l.render(st)
}

// dropped returns the ids of prev missing from next.
func dropped(prev, next []string) []string {
	keep := make(map[string]struct{}, len(next))
	for _, id := range next {
		keep[id] = struct{}{}
	}
	var out []string
	for _, id := range prev {
		if _, ok := keep[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

func (l *Layer) startFetch(ctx context.Context, req ImageRequest, waiter int) {
	if f, ok := l.inflight[req.ID]; ok {
		f.waiters[waiter] = struct{}{}
		return
	}

	fctx, cancel := context.WithCancel(ctx)
	f := &fetch{id: req.ID, cancel: cancel, waiters: map[int]struct{}{waiter: {}}}
	l.inflight[req.ID] = f
	l.log.Debug("fetch started", zap.String("image", req.ID))

	go func() {
		img, err := req.Fetch(fctx)
		if fctx.Err() != nil {
			return
		}
		select {
		case l.results <- result{f: f, req: req, img: img, err: err}:
		case <-fctx.Done():
		}
	}()
}

// render composites the tile's requested images and binds the result.
func (l *Layer) render(st *nodeState) error {
	t := st.tile
	if t.Disposed() {
		return nil
	}
	res, err := l.comp.Render(compositor.RenderRequest{
		Extent:   t.Extent(),
		Target:   st.target,
		ImageIDs: st.requested,
	})
	if err != nil {
		return fmt.Errorf("layer %s: %w", l.id, err)
	}
	st.final = res.Final

	tex := st.target
	if len(res.Drawn) == 0 {
		if !res.Final {
			// nothing to show yet
			return nil
		}
		tex = gpu.EmptyTexture()
	}

	switch l.kind {
	case Elevation:
		et := tile.ElevationTexture{
			Texture:      tex,
			OffsetScale:  tmath.IdentityOffsetScale(),
			Precision:    heightfield.MapboxPrecision,
			DecodeOffset: heightfield.MapboxDecodeOffset,
		}
		if res.MinMax != nil {
			et.MinMax = &heightfield.MinMax{Min: res.MinMax.Min, Max: res.MinMax.Max}
		}
		t.SetElevationTexture(l.id, et, res.Final)
	default:
		t.Material.SetColorTexture(l.self, tex, tmath.IdentityOffsetScale())
	}
	return nil
}

// Drain applies completed fetches without blocking and re-renders the tiles
// waiting on them. It returns the number of results handled.
func (l *Layer) Drain() int {
	n := 0
	dirty := make(map[int]*nodeState)
	for {
		select {
		case r := <-l.results:
			l.handle(r, dirty)
			n++
		default:
			l.rerender(dirty)
			return n
		}
	}
}

// Flush blocks until every fetch in flight has been applied or ctx is done.
func (l *Layer) Flush(ctx context.Context) error {
	dirty := make(map[int]*nodeState)
	defer l.rerender(dirty)
	for len(l.inflight) > 0 {
		select {
		case r := <-l.results:
			l.handle(r, dirty)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (l *Layer) handle(r result, dirty map[int]*nodeState) {
	if cur, ok := l.inflight[r.req.ID]; !ok || cur != r.f {
		// cancelled or superseded
		return
	}
	delete(l.inflight, r.req.ID)

	if r.err != nil {
		if errors.Is(r.err, context.Canceled) {
			return
		}
		l.failed[r.req.ID] = struct{}{}
		l.log.Error("fetch failed", zap.String("image", r.req.ID), zap.Error(r.err))
		for id := range r.f.waiters {
			st, ok := l.nodes[id]
			if !ok || st.tile.Disposed() {
				continue
			}
			st.requested = slices.DeleteFunc(st.requested, func(s string) bool { return s == r.req.ID })
			dirty[id] = st
		}
		return
	}

	tex := gpu.EmptyTexture()
	if !r.img.Empty {
		var err error
		tex, err = gpu.NewTextureFromPixels(l.dev, r.img.Pixels)
		if err != nil {
			l.log.Error("upload failed", zap.String("image", r.req.ID), zap.Error(err))
			return
		}
	}
	if err := l.comp.Add(compositor.Image{
		ID:      r.req.ID,
		Extent:  r.req.Extent,
		Texture: tex,
		MinMax:  r.img.MinMax,
	}); err != nil {
		l.log.Error("compositing failed", zap.String("image", r.req.ID), zap.Error(err))
		return
	}

	for id := range r.f.waiters {
		st, ok := l.nodes[id]
		if !ok || st.tile.Disposed() {
			continue
		}
		l.comp.Lock(r.req.ID, id)
		dirty[id] = st
	}
}

func (l *Layer) rerender(dirty map[int]*nodeState) {
	for id, st := range dirty {
		if err := l.render(st); err != nil {
			l.log.Warn("re-render failed", zap.Int("tile", id), zap.Error(err))
		}
		delete(dirty, id)
	}
}

// Unregister forgets t: its fetches are cancelled unless another tile waits
// on them, its images are unlocked and its target is released.
func (l *Layer) Unregister(t *tile.Tile) {
	st, ok := l.nodes[t.ID()]
	if !ok {
		return
	}
	for id, f := range l.inflight {
		delete(f.waiters, t.ID())
		if len(f.waiters) == 0 {
			f.cancel()
			delete(l.inflight, id)
		}
	}
	l.comp.Unlock(st.requested, t.ID())
	l.dev.Dispose(st.target)
	delete(l.nodes, t.ID())

	if !t.Disposed() {
		if l.kind == Elevation {
			t.RemoveElevationTexture()
		} else {
			t.Material.RemoveColorLayer(l.id)
		}
	}
}

// Cleanup disposes unreferenced images, at most budget of them (0 = all).
func (l *Layer) Cleanup(budget int) int {
	return l.comp.Cleanup(budget)
}

// Dispose cancels every fetch and releases all GPU resources.
func (l *Layer) Dispose() {
	for _, st := range l.nodes {
		l.Unregister(st.tile)
	}
	for id, f := range l.inflight {
		f.cancel()
		delete(l.inflight, id)
	}
	l.comp.Dispose()
}

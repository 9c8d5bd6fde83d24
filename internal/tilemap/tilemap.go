// Package tilemap owns a quadtree of tiles over a map extent, the layers
// draped on it and the per-frame work that keeps them consistent.
package tilemap

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/Faultbox/tessera/internal/gpu"
	"github.com/Faultbox/tessera/internal/layer"
	"github.com/Faultbox/tessera/internal/logger"
	"github.com/Faultbox/tessera/internal/tile"
	"github.com/Faultbox/tessera/internal/tileindex"
	"github.com/Faultbox/tessera/pkg/extent"
)

var (
	// ErrCannotSubdivide is returned when no elevation is loaded close
	// enough to the tile.
	ErrCannotSubdivide = errors.New("tilemap: no elevation loaded near tile")
	// ErrMaxLevel is returned when subdividing a tile at the deepest level.
	ErrMaxLevel = errors.New("tilemap: maximum level reached")
	// ErrElevationLayerExists is returned when adding a second elevation layer.
	ErrElevationLayerExists = errors.New("tilemap: map already has an elevation layer")
	// ErrUnknownTile is returned for tiles that are not part of the map.
	ErrUnknownTile = errors.New("tilemap: unknown tile")
)

// Options configures a Map.
type Options struct {
	Extent         extent.Extent
	RootsX, RootsY int
	Segments       int
	CPUTerrain     bool
	MaxLevel       int
	AtlasSize      int
	// CleanupBudget caps image disposals per layer and tick, 0 meaning no cap.
	CleanupBudget int
	Device        gpu.Device
	Logger        *zap.Logger
}

// TickStats summarizes one Tick.
type TickStats struct {
	Drained     int
	Rerequested int
	Stitched    int
	Recompiled  int
	Disposed    int
}

// Map is the owning system of a tile quadtree. All methods must be called
// from the same goroutine.
type Map struct {
	opts Options
	log  *zap.Logger

	tiles  map[int]*tile.Tile
	roots  []*tile.Tile
	nextID int
	index  *tileindex.Index[tile.Tile, *tile.Tile]
	pool   *tile.GeometryPool

	layers    []*layer.Layer
	elevation *layer.Layer

	changed map[int]struct{}
	unsubs  map[int]func()
}

// New creates a map with RootsX × RootsY root tiles.
func New(opts Options) *Map {
	if opts.RootsX < 1 {
		opts.RootsX = 1
	}
	if opts.RootsY < 1 {
		opts.RootsY = 1
	}
	if opts.AtlasSize <= 0 {
		opts.AtlasSize = 4096
	}
	log := opts.Logger
	if log == nil {
		log = logger.Named("tilemap")
	}

	m := &Map{
		opts:    opts,
		log:     log,
		tiles:   make(map[int]*tile.Tile),
		index:   tileindex.New[tile.Tile, *tile.Tile](opts.RootsX, opts.RootsY),
		pool:    tile.NewGeometryPool(),
		changed: make(map[int]struct{}),
		unsubs:  make(map[int]func()),
	}
	for i, e := range opts.Extent.Split(opts.RootsX, opts.RootsY) {
		c := tileindex.Coord{X: i % opts.RootsX, Y: i / opts.RootsX}
		root := m.newTile(c, e, nil)
		root.SetDisplayed(true)
		m.roots = append(m.roots, root)
	}
	m.log.Info("map created",
		zap.Stringer("extent", opts.Extent),
		zap.Int("roots", len(m.roots)),
		zap.Bool("cpuTerrain", opts.CPUTerrain))
	return m
}

func (m *Map) newTile(c tileindex.Coord, e extent.Extent, parent *tile.Tile) *tile.Tile {
	m.nextID++
	t := tile.New(tile.Options{
		ID:         m.nextID,
		Coord:      c,
		Extent:     e,
		Parent:     parent,
		Segments:   m.opts.Segments,
		CPUTerrain: m.opts.CPUTerrain,
		Device:     m.opts.Device,
		Pool:       m.pool,
		AtlasSize:  m.opts.AtlasSize,
	})
	m.tiles[t.ID()] = t
	m.index.Add(t)
	m.unsubs[t.ID()] = t.OnElevationChanged(func(t *tile.Tile) {
		m.changed[t.ID()] = struct{}{}
	})
	return t
}

// Roots returns the level 0 tiles.
func (m *Map) Roots() []*tile.Tile { return m.roots }

// Tile returns a live tile by id.
func (m *Map) Tile(id int) (*tile.Tile, bool) {
	t, ok := m.tiles[id]
	return t, ok
}

// Len returns the number of live tiles.
func (m *Map) Len() int { return len(m.tiles) }

// Index exposes the tile index for neighbour queries.
func (m *Map) Index() *tileindex.Index[tile.Tile, *tile.Tile] { return m.index }

// Layers returns the map layers in the order they were added.
func (m *Map) Layers() []*layer.Layer { return m.layers }

// Displayed returns the displayed tiles ordered by id.
func (m *Map) Displayed() []*tile.Tile {
	var out []*tile.Tile
	for _, t := range m.tiles {
		if t.Displayed() {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// AddLayer drapes l over the map and requests images for every displayed tile.
func (m *Map) AddLayer(ctx context.Context, l *layer.Layer) error {
	if l.Kind() == layer.Elevation {
		if m.elevation != nil {
			return ErrElevationLayerExists
		}
		m.elevation = l
	}
	m.layers = append(m.layers, l)
	for _, t := range m.Displayed() {
		if err := l.Update(ctx, t); err != nil {
			return err
		}
		t.Material.ReorderLayers()
	}
	m.log.Info("layer added", zap.String("layer", l.ID()), zap.Stringer("kind", l.Kind()))
	return nil
}

// RemoveLayer detaches l from every tile and releases its resources.
func (m *Map) RemoveLayer(l *layer.Layer) {
	for i, cur := range m.layers {
		if cur == l {
			m.layers = append(m.layers[:i], m.layers[i+1:]...)
			break
		}
	}
	l.Dispose()
	if m.elevation == l {
		m.elevation = nil
		for _, t := range m.tiles {
			t.ResetHeights()
		}
	}
	m.log.Info("layer removed", zap.String("layer", l.ID()))
}

// ReorderLayers makes materials re-sort color layers on the next Tick.
func (m *Map) ReorderLayers() {
	for _, t := range m.tiles {
		t.Material.ReorderLayers()
	}
}

// Subdivide replaces t on screen by its four children.
func (m *Map) Subdivide(ctx context.Context, t *tile.Tile) ([]*tile.Tile, error) {
	if _, ok := m.tiles[t.ID()]; !ok || t.Disposed() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTile, t)
	}
	if len(t.Children()) > 0 {
		return t.Children(), nil
	}
	if t.Level() >= m.opts.MaxLevel {
		return nil, fmt.Errorf("%w: %s", ErrMaxLevel, t)
	}
	if m.elevation != nil && !t.CanSubdivide() {
		return nil, fmt.Errorf("%w: %s", ErrCannotSubdivide, t)
	}

	c := t.Coord()
	var children []*tile.Tile
	// Split yields SW, SE, NW, NE
	for i, e := range t.Extent().Split(2, 2) {
		cc := tileindex.Coord{X: c.X*2 + i%2, Y: c.Y*2 + i/2, Z: c.Z + 1}
		child := m.newTile(cc, e, t)
		child.InheritHeightField()
		child.SetDisplayed(true)
		children = append(children, child)
	}
	t.SetDisplayed(false)
	m.markStitch(t)

	for _, child := range children {
		for _, l := range m.layers {
			if err := l.Update(ctx, child); err != nil {
				return children, err
			}
		}
	}
	m.log.Debug("tile subdivided", zap.Stringer("tile", t))
	return children, nil
}

// Merge disposes the descendants of t and displays t again.
func (m *Map) Merge(t *tile.Tile) {
	for _, c := range t.Children() {
		m.forget(c)
	}
	t.DetachChildren()
	t.SetDisplayed(true)
	m.markStitch(t)
	m.log.Debug("tile merged", zap.Stringer("tile", t))
}

// forget removes t and its descendants from layers and the arena.
func (m *Map) forget(t *tile.Tile) {
	for _, c := range t.Children() {
		m.forget(c)
	}
	// neighbours may hold t's elevation texture in a stitching slot
	m.markStitch(t)
	for _, l := range m.layers {
		l.Unregister(t)
	}
	if unsub, ok := m.unsubs[t.ID()]; ok {
		unsub()
		delete(m.unsubs, t.ID())
	}
	delete(m.changed, t.ID())
	delete(m.tiles, t.ID())
}

// SetVisible toggles t and schedules its neighbours for re-stitching.
func (m *Map) SetVisible(t *tile.Tile, visible bool) {
	if t.Visible() == visible {
		return
	}
	t.SetVisible(visible)
	m.changed[t.ID()] = struct{}{}
}

// markStitch schedules t and its same-level neighbours for re-stitching.
func (m *Map) markStitch(t *tile.Tile) {
	m.changed[t.ID()] = struct{}{}
	for _, n := range m.index.Neighbours(t, nil) {
		if n != nil {
			m.changed[n.ID()] = struct{}{}
		}
	}
}

// isVisible accepts neighbours that are on screen.
func isVisible(t *tile.Tile) bool { return t.Visible() && t.Displayed() }

// Tick runs one frame of work: apply fetched images, re-request
// approximated tiles, purge the index, re-stitch tiles whose elevation
// changed, update materials and dispose unused images.
func (m *Map) Tick(ctx context.Context) TickStats {
	var stats TickStats

	for _, l := range m.layers {
		stats.Drained += l.Drain()
	}

	for _, l := range m.layers {
		for _, t := range l.NonFinal() {
			if !t.Displayed() {
				continue
			}
			if err := l.Update(ctx, t); err != nil {
				m.log.Warn("re-request failed", zap.Stringer("tile", t), zap.Error(err))
				continue
			}
			stats.Rerequested++
		}
	}

	m.index.Update()

	changed := make([]*tile.Tile, 0, len(m.changed))
	for id := range m.changed {
		if t, ok := m.tiles[id]; ok {
			changed = append(changed, t)
		}
	}
	clear(m.changed)
	sort.Slice(changed, func(i, j int) bool { return changed[i].ID() < changed[j].ID() })

	if m.opts.CPUTerrain {
		for _, t := range changed {
			if err := t.ApplyHeightField(); err != nil {
				m.log.Warn("applying height field failed", zap.Stringer("tile", t), zap.Error(err))
			}
		}
		// notifications raised by ApplyHeightField itself
		clear(m.changed)
	}

	stitched := make(map[int]struct{})
	stitch := func(t *tile.Tile) {
		if _, done := stitched[t.ID()]; done {
			return
		}
		stitched[t.ID()] = struct{}{}
		t.ProcessNeighbours(m.index.Neighbours(t, isVisible))
	}
	for _, t := range changed {
		stitch(t)
		for _, n := range m.index.Neighbours(t, nil) {
			if n != nil {
				stitch(n)
			}
		}
	}
	stats.Stitched = len(stitched)

	for _, t := range m.tiles {
		if t.Material.Update() {
			stats.Recompiled++
		}
	}

	for _, l := range m.layers {
		stats.Disposed += l.Cleanup(m.opts.CleanupBudget)
	}
	return stats
}

// Flush waits for every layer's fetches in flight, then runs a Tick.
func (m *Map) Flush(ctx context.Context) (TickStats, error) {
	for _, l := range m.layers {
		if err := l.Flush(ctx); err != nil {
			return TickStats{}, err
		}
	}
	return m.Tick(ctx), nil
}

// TileAt returns the deepest tile containing (x, y).
func (m *Map) TileAt(x, y float64) (*tile.Tile, bool) {
	for _, r := range m.roots {
		if !r.Extent().ContainsPoint(x, y) {
			continue
		}
		t := r
	descend:
		for {
			for _, c := range t.Children() {
				if c.Extent().ContainsPoint(x, y) {
					t = c
					continue descend
				}
			}
			return t, true
		}
	}
	return nil, false
}

// ElevationAt samples the height field of the deepest tile, or closest
// ancestor, that has one at (x, y).
func (m *Map) ElevationAt(x, y float64) (float64, bool) {
	leaf, ok := m.TileAt(x, y)
	if !ok {
		return 0, false
	}
	t, ok := m.index.SearchTileOrAncestor(leaf.Coord(), func(t *tile.Tile) bool {
		hf, err := t.CreateHeightField()
		return err == nil && hf != nil
	})
	if !ok {
		return 0, false
	}
	e := t.Extent()
	w, h := e.Dimensions()
	return t.HeightField().Sample((x-e.XMin())/w, (y-e.YMin())/h, false)
}

// Progress is the mean material progress over displayed tiles.
func (m *Map) Progress() float64 {
	shown := m.Displayed()
	if len(shown) == 0 {
		return 1
	}
	sum := 0.0
	for _, t := range shown {
		sum += t.Material.Progress()
	}
	return sum / float64(len(shown))
}

// Loading reports whether any displayed tile still waits for data.
func (m *Map) Loading() bool {
	for _, l := range m.layers {
		if l.Pending() > 0 {
			return true
		}
		for _, t := range l.NonFinal() {
			if t.Displayed() {
				return true
			}
		}
	}
	return m.Progress() < 1
}

// Dispose releases every layer and tile.
func (m *Map) Dispose() {
	for len(m.layers) > 0 {
		m.RemoveLayer(m.layers[len(m.layers)-1])
	}
	for _, r := range m.roots {
		m.forget(r)
		r.Dispose()
	}
	m.roots = nil
}

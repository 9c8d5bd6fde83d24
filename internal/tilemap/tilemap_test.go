package tilemap

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Faultbox/tessera/internal/gpu"
	"github.com/Faultbox/tessera/internal/layer"
	"github.com/Faultbox/tessera/internal/material"
	"github.com/Faultbox/tessera/internal/source"
	"github.com/Faultbox/tessera/internal/tileindex"
	"github.com/Faultbox/tessera/pkg/extent"
)

const crs = "EPSG:3857"

var mapExtent = extent.New(crs, 0, 100, 0, 100)

func newMap(dev gpu.Device, cpu bool) *Map {
	return New(Options{
		Extent:     mapExtent,
		Segments:   4,
		CPUTerrain: cpu,
		MaxLevel:   3,
		Device:     dev,
	})
}

func elevationLayer(dev gpu.Device) *layer.ElevationLayer {
	src := &source.Procedural{
		Name:     "dem",
		Extent:   mapExtent,
		MaxLevel: 2,
		Size:     8,
		Func:     func(x, y float64) float64 { return x },
		Format:   gpu.RG32F,
	}
	return layer.NewElevation(layer.Options{ID: "dem", Source: src, Device: dev, Extent: mapExtent, TextureSize: 8})
}

func colorLayer(dev gpu.Device, id string, index int) *layer.ColorLayer {
	src := &source.Procedural{Name: id, Extent: mapExtent, MaxLevel: 2, Size: 4, Func: func(x, y float64) float64 { return 128 }}
	return layer.NewColor(layer.Options{ID: id, Source: src, Device: dev, Extent: mapExtent, TextureSize: 4, Index: index})
}

func flush(t *testing.T, m *Map) TickStats {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stats, err := m.Flush(ctx)
	if err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	return stats
}

func TestNewCreatesRoots(t *testing.T) {
	m := New(Options{Extent: extent.New(crs, 0, 200, 0, 100), RootsX: 2, RootsY: 1, Segments: 2, MaxLevel: 2, Device: gpu.NewSoftware()})

	var coords []tileindex.Coord
	for _, r := range m.Roots() {
		coords = append(coords, r.Coord())
		if !r.Displayed() {
			t.Errorf("%s: expected root displayed", r)
		}
	}
	want := []tileindex.Coord{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}}
	if diff := cmp.Diff(want, coords); diff != "" {
		t.Errorf("root coords mismatch (-want +got):\n%s", diff)
	}
	if got := m.Roots()[1].Extent(); !got.Equal(extent.New(crs, 100, 200, 0, 100)) {
		t.Errorf("expected east root extent, got %v", got)
	}
}

func TestSubdivideNeedsElevation(t *testing.T) {
	dev := gpu.NewSoftware()
	m := newMap(dev, false)
	root := m.Roots()[0]

	elev := elevationLayer(dev)
	if err := m.AddLayer(context.Background(), elev.Layer); err != nil {
		t.Fatalf("add layer failed: %v", err)
	}
	if err := m.AddLayer(context.Background(), elevationLayer(dev).Layer); !errors.Is(err, ErrElevationLayerExists) {
		t.Errorf("expected ErrElevationLayerExists, got %v", err)
	}

	if _, err := m.Subdivide(context.Background(), root); !errors.Is(err, ErrCannotSubdivide) {
		t.Fatalf("expected ErrCannotSubdivide before elevation loads, got %v", err)
	}

	flush(t, m)
	children, err := m.Subdivide(context.Background(), root)
	if err != nil {
		t.Fatalf("subdivide failed: %v", err)
	}
	if len(children) != 4 || m.Len() != 5 {
		t.Fatalf("expected 4 children and 5 tiles, got %d and %d", len(children), m.Len())
	}
	if root.Displayed() {
		t.Error("expected subdivided root hidden")
	}
	if got, _ := m.Subdivide(context.Background(), root); len(got) != 4 || m.Len() != 5 {
		t.Error("expected subdividing twice to reuse the children")
	}
}

func TestSubdivideMaxLevel(t *testing.T) {
	m := New(Options{Extent: mapExtent, Segments: 2, MaxLevel: 0, Device: gpu.NewSoftware()})
	if _, err := m.Subdivide(context.Background(), m.Roots()[0]); !errors.Is(err, ErrMaxLevel) {
		t.Errorf("expected ErrMaxLevel, got %v", err)
	}
}

func TestEndToEndElevation(t *testing.T) {
	dev := gpu.NewSoftware()
	m := newMap(dev, true)
	elev := elevationLayer(dev)
	m.AddLayer(context.Background(), elev.Layer)
	flush(t, m)

	root := m.Roots()[0]
	mm, ok := root.MinMax()
	if !ok || mm.Min != 6.25 || mm.Max != 93.75 {
		t.Fatalf("expected root range [6.25, 93.75], got %+v", mm)
	}

	children, err := m.Subdivide(context.Background(), root)
	if err != nil {
		t.Fatalf("subdivide failed: %v", err)
	}
	for _, c := range children {
		if c.HeightField() == nil {
			t.Errorf("%s: expected inherited height field", c)
		}
	}

	flush(t, m)
	for _, c := range children {
		if !elev.Final(c.ID()) {
			t.Errorf("%s: expected final elevation", c)
		}
	}

	v, ok := m.ElevationAt(25, 25)
	if !ok || math.Abs(v-25) > 6.25 {
		t.Errorf("expected elevation near 25, got %v (%v)", v, ok)
	}
	if _, ok := m.ElevationAt(500, 500); ok {
		t.Error("expected no elevation outside the map")
	}
	if m.Loading() || m.Progress() != 1 {
		t.Errorf("expected map loaded, progress %v", m.Progress())
	}
}

func TestStitching(t *testing.T) {
	dev := gpu.NewSoftware()
	m := newMap(dev, false)
	elev := elevationLayer(dev)
	m.AddLayer(context.Background(), elev.Layer)
	flush(t, m)

	children, err := m.Subdivide(context.Background(), m.Roots()[0])
	if err != nil {
		t.Fatalf("subdivide failed: %v", err)
	}
	stats := flush(t, m)
	if stats.Stitched < 4 {
		t.Errorf("expected every child stitched, got %d", stats.Stitched)
	}

	sw, se := children[0], children[1]
	seTarget, _ := elev.Target(se.ID())
	slot := sw.Material.Neighbours[tileindex.East]
	if slot.DiffLevel != 0 || slot.Texture != seTarget {
		t.Errorf("expected east slot bound to the south-east target, got %+v", slot)
	}
	if sw.Material.Neighbours[tileindex.West].DiffLevel != material.NoNeighbour {
		t.Error("expected no western neighbour at the map edge")
	}

	m.SetVisible(se, false)
	m.Tick(context.Background())
	if sw.Material.Neighbours[tileindex.East].DiffLevel != material.NoNeighbour {
		t.Error("expected hidden neighbour to be unstitched")
	}
}

// twoRootMap builds a map of two side by side roots with elevation loaded.
func twoRootMap(t *testing.T, dev gpu.Device) (*Map, *layer.ElevationLayer) {
	t.Helper()
	wide := extent.New(crs, 0, 200, 0, 100)
	m := New(Options{Extent: wide, RootsX: 2, RootsY: 1, Segments: 4, MaxLevel: 3, Device: dev})
	src := &source.Procedural{
		Name:     "dem",
		Extent:   wide,
		MaxLevel: 2,
		Size:     8,
		Func:     func(x, y float64) float64 { return x },
		Format:   gpu.RG32F,
	}
	elev := layer.NewElevation(layer.Options{ID: "dem", Source: src, Device: dev, Extent: wide, TextureSize: 8})
	if err := m.AddLayer(context.Background(), elev.Layer); err != nil {
		t.Fatalf("add layer failed: %v", err)
	}
	flush(t, m)
	return m, elev
}

func TestSubdivideUnstitchesNeighbour(t *testing.T) {
	dev := gpu.NewSoftware()
	m, elev := twoRootMap(t, dev)
	west, east := m.Roots()[0], m.Roots()[1]

	eastTarget, _ := elev.Target(east.ID())
	if slot := west.Material.Neighbours[tileindex.East]; slot.DiffLevel != 0 || slot.Texture != eastTarget {
		t.Fatalf("expected west root stitched to the east root, got %+v", slot)
	}

	if _, err := m.Subdivide(context.Background(), east); err != nil {
		t.Fatalf("subdivide failed: %v", err)
	}
	flush(t, m)

	if slot := west.Material.Neighbours[tileindex.East]; slot.DiffLevel != material.NoNeighbour || slot.Texture != nil {
		t.Errorf("expected east slot cleared once the east root is hidden, got %+v", slot)
	}

	m.Merge(east)
	m.Tick(context.Background())
	if slot := west.Material.Neighbours[tileindex.East]; slot.DiffLevel != 0 || slot.Texture == nil {
		t.Errorf("expected east slot restored after merge, got %+v", slot)
	}
}

func TestMergeUnstitchesNeighbours(t *testing.T) {
	dev := gpu.NewSoftware()
	m, _ := twoRootMap(t, dev)
	west, east := m.Roots()[0], m.Roots()[1]

	westChildren, err := m.Subdivide(context.Background(), west)
	if err != nil {
		t.Fatalf("subdivide west failed: %v", err)
	}
	eastChildren, err := m.Subdivide(context.Background(), east)
	if err != nil {
		t.Fatalf("subdivide east failed: %v", err)
	}
	flush(t, m)

	se := westChildren[1]
	if slot := se.Material.Neighbours[tileindex.East]; slot.DiffLevel != 0 || slot.Texture == nil {
		t.Fatalf("expected west SE child stitched across roots, got %+v", slot)
	}

	m.Merge(east)
	m.Tick(context.Background())

	if !eastChildren[0].Disposed() {
		t.Fatal("expected merged child disposed")
	}
	if slot := se.Material.Neighbours[tileindex.East]; slot.DiffLevel != material.NoNeighbour || slot.Texture != nil {
		t.Errorf("expected east slot cleared after merge, got %+v", slot)
	}
	if slot := se.Material.Neighbours[tileindex.NorthEast]; slot.DiffLevel != material.NoNeighbour || slot.Texture != nil {
		t.Errorf("expected north-east slot cleared after merge, got %+v", slot)
	}
}

func TestMergeReleasesImages(t *testing.T) {
	dev := gpu.NewSoftware()
	m := newMap(dev, false)
	elev := elevationLayer(dev)
	m.AddLayer(context.Background(), elev.Layer)
	flush(t, m)

	root := m.Roots()[0]
	children, _ := m.Subdivide(context.Background(), root)
	flush(t, m)

	m.Merge(root)
	for _, c := range children {
		if !c.Disposed() {
			t.Errorf("%s: expected disposed", c)
		}
	}
	if m.Len() != 1 || !root.Displayed() {
		t.Errorf("expected only the root displayed, got %d tiles", m.Len())
	}

	stats := m.Tick(context.Background())
	if stats.Disposed != 4 {
		t.Errorf("expected 4 child images disposed, got %d", stats.Disposed)
	}
	if _, ok := m.Index().Lookup(children[0].Coord()); ok {
		t.Error("expected merged child absent from the index")
	}
}

func TestReorderColorLayers(t *testing.T) {
	dev := gpu.NewSoftware()
	m := newMap(dev, false)
	a, b := colorLayer(dev, "a", 0), colorLayer(dev, "b", 1)
	m.AddLayer(context.Background(), a.Layer)
	m.AddLayer(context.Background(), b.Layer)
	stats := flush(t, m)
	if stats.Recompiled != 1 {
		t.Errorf("expected one recompile for the visible layer count, got %d", stats.Recompiled)
	}

	root := m.Roots()[0]
	order := func() []string {
		var ids []string
		for _, l := range root.Material.Layers() {
			ids = append(ids, l.ID())
		}
		return ids
	}
	if diff := cmp.Diff([]string{"a", "b"}, order()); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}

	a.SetIndex(2)
	m.ReorderLayers()
	m.Tick(context.Background())
	if diff := cmp.Diff([]string{"b", "a"}, order()); diff != "" {
		t.Errorf("order mismatch after reorder (-want +got):\n%s", diff)
	}

	m.RemoveLayer(b.Layer)
	if root.Material.HasColorLayer("b") {
		t.Error("expected removed layer dropped from materials")
	}
}

func TestRemoveElevationLayerFlattens(t *testing.T) {
	dev := gpu.NewSoftware()
	m := newMap(dev, true)
	dem := elevationLayer(dev)
	m.AddLayer(context.Background(), dem.Layer)
	flush(t, m)

	root := m.Roots()[0]
	if mm, ok := root.MinMax(); !ok || mm.Max <= mm.Min {
		t.Fatalf("expected a height range before removal, got %+v", mm)
	}

	m.RemoveLayer(dem.Layer)
	if root.Material.IsElevationTextureLoaded() {
		t.Error("expected elevation texture unbound")
	}
	mm, ok := root.MinMax()
	if !ok || mm.Min != 0 || mm.Max != 0 {
		t.Errorf("expected flat range, got %+v", mm)
	}
	for i, v := range root.Geometry().Vertices {
		if v.Position[2] != 0 {
			t.Fatalf("expected vertex %d flattened, got z=%v", i, v.Position[2])
		}
	}
}

func TestDispose(t *testing.T) {
	dev := gpu.NewSoftware()
	m := newMap(dev, false)
	m.AddLayer(context.Background(), elevationLayer(dev).Layer)
	m.AddLayer(context.Background(), colorLayer(dev, "c", 0).Layer)
	flush(t, m)
	m.Subdivide(context.Background(), m.Roots()[0])
	flush(t, m)

	m.Dispose()
	if dev.Live() != 0 {
		t.Errorf("expected all textures released, %d live", dev.Live())
	}
	if m.Len() != 0 {
		t.Errorf("expected no tiles left, got %d", m.Len())
	}
}

// Package scene assembles the demo world shared by the command line tools:
// a Web Mercator tile map with a procedural terrain, a hypsometric relief
// and a reprojected graticule overlay.
package scene

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"github.com/Faultbox/tessera/internal/config"
	"github.com/Faultbox/tessera/internal/gpu"
	"github.com/Faultbox/tessera/internal/layer"
	"github.com/Faultbox/tessera/internal/logger"
	"github.com/Faultbox/tessera/internal/projection"
	"github.com/Faultbox/tessera/internal/source"
	"github.com/Faultbox/tessera/internal/tile"
	"github.com/Faultbox/tessera/internal/tilemap"
	"github.com/Faultbox/tessera/pkg/extent"
)

// HalfWorld is half the width of the Web Mercator plane in meters.
const HalfWorld = 20037508.342789244

// Terrain amplitude bounds in meters.
const (
	TerrainMin = -4500.0
	TerrainMax = 4500.0
)

// World is the full Web Mercator extent.
var World = extent.New(projection.WebMercator, -HalfWorld, HalfWorld, -HalfWorld, HalfWorld)

// Terrain is the procedural elevation at a Web Mercator position.
func Terrain(x, y float64) float64 {
	u, v := x/HalfWorld, y/HalfWorld
	return 3000*math.Sin(3*math.Pi*u)*math.Cos(2*math.Pi*v) +
		1500*math.Sin(7*math.Pi*u+1)*math.Sin(5*math.Pi*v)
}

// Scene is a tile map and the layers draped on it.
type Scene struct {
	Map       *tilemap.Map
	Elevation *layer.ElevationLayer
	Colors    []*layer.ColorLayer

	log *zap.Logger
}

// Build creates the map and registers every layer.
func Build(ctx context.Context, cfg *config.Config, dev gpu.Device) (*Scene, error) {
	s := &Scene{log: logger.Named("scene")}
	proj := projection.NewRegistry()

	s.Map = tilemap.New(tilemap.Options{
		Extent:        World,
		RootsX:        cfg.Terrain.RootsX,
		RootsY:        cfg.Terrain.RootsY,
		Segments:      cfg.Terrain.Segments,
		CPUTerrain:    cfg.Terrain.CPUTerrain,
		MaxLevel:      cfg.Terrain.MaxLevel,
		CleanupBudget: cfg.Compositor.CleanupBudget,
		Device:        dev,
	})

	common := func(id string) layer.Options {
		return layer.Options{
			ID:               id,
			Device:           dev,
			Extent:           World,
			Projection:       proj,
			TextureSize:      cfg.Terrain.TextureSize,
			FillNoData:       cfg.Compositor.FillNoData,
			FillNoDataRadius: cfg.Compositor.FillNoDataRadius,
			WarpSegments:     cfg.Compositor.WarpSegments,
		}
	}

	maxLevel := max(0, cfg.Terrain.MaxLevel)

	dem := common("dem")
	dem.Source = &source.Procedural{
		Name:     "dem",
		Extent:   World,
		MaxLevel: maxLevel,
		Size:     cfg.Terrain.TextureSize,
		Func:     Terrain,
		Format:   gpu.RG32F,
	}
	s.Elevation = layer.NewElevation(dem)

	relief := common("relief")
	relief.Source = &source.Procedural{
		Name:     "relief",
		Extent:   World,
		MaxLevel: maxLevel,
		Size:     cfg.Terrain.TextureSize,
		Func:     Terrain,
		Format:   gpu.RGBA8,
		Ramp:     source.HypsometricRamp(TerrainMin, TerrainMax),
	}
	relief.Index = 0

	grid := common("graticule")
	grid.Source = &source.Static{
		List:       []source.StaticImage{Graticule(30)},
		Projection: proj,
	}
	grid.Index = 1
	grid.Opacity = 0.6

	s.Colors = []*layer.ColorLayer{layer.NewColor(relief), layer.NewColor(grid)}

	if err := s.Map.AddLayer(ctx, s.Elevation.Layer); err != nil {
		return nil, fmt.Errorf("adding elevation layer: %w", err)
	}
	for _, c := range s.Colors {
		if err := s.Map.AddLayer(ctx, c.Layer); err != nil {
			return nil, fmt.Errorf("adding layer %s: %w", c.ID(), err)
		}
	}
	return s, nil
}

// Graticule draws WGS84 lines every step degrees into a transparent image
// covering the Mercator latitude range.
func Graticule(step int) source.StaticImage {
	const w, h = 360, 170
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	line := image.NewUniform(color.RGBA{R: 255, G: 255, B: 255, A: 255})
	for x := range w {
		if (x-180)%step == 0 {
			draw.Draw(img, image.Rect(x, 0, x+1, h), line, image.Point{}, draw.Src)
		}
	}
	for y := range h {
		if (85-y)%step == 0 {
			draw.Draw(img, image.Rect(0, y, w, y+1), line, image.Point{}, draw.Src)
		}
	}
	return source.StaticImage{
		ID:     fmt.Sprintf("graticule/%d", step),
		Extent: extent.New(projection.WGS84, -180, 180, -85, 85),
		Image:  layer.Image{Pixels: gpu.PixelsFromImage(img)},
	}
}

// SubdivideTo splits displayed tiles level by level until level is reached
// or the map's maximum level stops it. Elevation is flushed before each
// level so the split checks see loaded data.
func (s *Scene) SubdivideTo(ctx context.Context, level int) error {
	for z := 0; z < level; z++ {
		if _, err := s.Map.Flush(ctx); err != nil {
			return err
		}
		var split int
		for _, t := range s.Map.Displayed() {
			if t.Level() != z {
				continue
			}
			if _, err := s.Map.Subdivide(ctx, t); err != nil {
				if errors.Is(err, tilemap.ErrMaxLevel) {
					return nil
				}
				return fmt.Errorf("subdividing %s: %w", t, err)
			}
			split++
		}
		s.log.Debug("subdivided level", zap.Int("level", z), zap.Int("tiles", split))
	}
	_, err := s.Map.Flush(ctx)
	return err
}

// MergeDeepest collapses the deepest displayed tiles into their parents.
func (s *Scene) MergeDeepest() int {
	deepest := -1
	for _, t := range s.Map.Displayed() {
		deepest = max(deepest, t.Level())
	}
	if deepest < 1 {
		return 0
	}
	parents := map[int]*tile.Tile{}
	for _, t := range s.Map.Displayed() {
		if t.Level() == deepest && t.Parent() != nil {
			parents[t.Parent().ID()] = t.Parent()
		}
	}
	for _, p := range parents {
		s.Map.Merge(p)
	}
	return len(parents)
}

// ColorDraws returns the draws that show every displayed tile's visible
// color composites, lower layer indices first.
func (s *Scene) ColorDraws() []gpu.Draw {
	var draws []gpu.Draw
	for _, t := range s.Map.Displayed() {
		for _, c := range s.sortedColors() {
			if !c.Visible() {
				continue
			}
			tex, ok := c.Target(t.ID())
			if !ok {
				continue
			}
			draws = append(draws, gpu.Draw{Texture: tex, Mesh: gpu.RectMesh(t.Extent())})
		}
	}
	return draws
}

func (s *Scene) sortedColors() []*layer.ColorLayer {
	out := append([]*layer.ColorLayer(nil), s.Colors...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index() < out[j].Index() })
	return out
}

// Dispose releases the map and its layers.
func (s *Scene) Dispose() {
	s.Map.Dispose()
}

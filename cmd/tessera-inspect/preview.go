package main

import (
	"fmt"
	"image"
	"sort"
	"strings"

	"github.com/AllenDang/cimgui-go/backend"

	"github.com/Faultbox/tessera/internal/gpu"
	"github.com/Faultbox/tessera/internal/layer"
	"github.com/Faultbox/tessera/internal/tile"
)

const previewSize = 256

// preview is one layer's composite of the selected tile, uploaded for ImGui.
type preview struct {
	layer   string
	final   bool
	uv      string
	texture *backend.Texture
}

// compositeImage reads the composite of t in l and scales it for display.
// Elevation values are mapped to grey over the tile's range.
func compositeImage(dev gpu.Device, l *layer.Layer, t *tile.Tile) (*image.RGBA, error) {
	tex, ok := l.Target(t.ID())
	if !ok {
		return nil, fmt.Errorf("layer %s has no composite for %s", l.ID(), t)
	}
	px, err := dev.ReadPixels(tex)
	if err != nil {
		return nil, err
	}
	lo, hi := 0.0, 1.0
	if mm, ok := t.MinMax(); ok {
		lo, hi = mm.Min, mm.Max
	}
	return gpu.Resize(gpu.ToImage(px, lo, hi), previewSize), nil
}

// tileLabel is the tree label of a tile.
func tileLabel(t *tile.Tile) string {
	c := t.Coord()
	label := fmt.Sprintf("%d/%d/%d", c.Z, c.X, c.Y)
	if t.Displayed() {
		label += " *"
	}
	return fmt.Sprintf("%s##tile%d", label, t.ID())
}

func (app *App) releasePreviews() {
	for _, p := range app.previews {
		if p.texture != nil {
			p.texture.Release()
		}
	}
	app.previews = nil
}

// volumeLabel describes the bounding volume of t in tile-local metres.
func volumeLabel(t *tile.Tile) string {
	v := t.Volume()
	size, c := v.Size(), v.Center()
	return fmt.Sprintf("Volume: %.0f x %.0f x %.1f m, centre z %.1f", size.X, size.Y, size.Z, c.Z)
}

// materialLabel lists the shader defines of t and how often its program
// was rebuilt.
func materialLabel(t *tile.Tile) string {
	defines := t.Material.Defines()
	names := make([]string, 0, len(defines))
	for name := range defines {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%s=%d ", name, defines[name])
	}
	fmt.Fprintf(&b, "(%d recompiles)", t.Material.Recompiles())
	return b.String()
}

// uvLabel is the texture transform a tile's material binds for layerID.
func uvLabel(t *tile.Tile, layerID string) string {
	var v [4]float32
	if u, ok := t.Material.Uniform(layerID); ok {
		v = u.OffsetScale.Vec4()
	} else if e, ok := t.Material.Elevation(); ok && e.LayerID == layerID {
		v = e.OffsetScale.Vec4()
	} else {
		return "unbound"
	}
	return fmt.Sprintf("offset (%.3f, %.3f) scale (%.3f, %.3f)", v[0], v[1], v[2], v[3])
}

// refreshPreviews rebuilds the textures of the selected tile.
func (app *App) refreshPreviews() {
	app.releasePreviews()
	app.stale = false

	t, ok := app.selected()
	if !ok {
		return
	}
	layers := []*layer.Layer{app.scene.Elevation.Layer}
	for _, c := range app.scene.Colors {
		layers = append(layers, c.Layer)
	}
	for _, l := range layers {
		rgba, err := compositeImage(app.dev, l, t)
		if err != nil {
			continue
		}
		app.previews = append(app.previews, preview{
			layer:   l.ID(),
			final:   l.Final(t.ID()),
			uv:      uvLabel(t, l.ID()),
			texture: backend.NewTextureFromRgba(rgba),
		})
	}
}

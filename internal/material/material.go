// Package material tracks the shader uniform state of one tile: the textures
// each layer has bound, the neighbour stitching slots and the #defines that
// select a shader variant.
package material

import (
	"sort"

	"github.com/Faultbox/tessera/internal/gpu"
	tmath "github.com/Faultbox/tessera/pkg/math"
)

// NoNeighbour is the diffLevel written into a neighbour slot that must not be
// sampled by the shader.
const NoNeighbour = 99

// Shader defines driven by the material state.
const (
	DefineElevationLayer = "ELEVATION_LAYER"
	DefineVisibleLayers  = "VISIBLE_COLOR_LAYER_COUNT"
)

// BlendMode controls how a color layer combines with the layers below.
type BlendMode int

const (
	BlendNormal BlendMode = iota
	BlendNone
	BlendAdditive
	BlendMultiplicative
)

// ColorLayer is the view of a color layer the material needs.
type ColorLayer interface {
	ID() string
	Index() int
	Visible() bool
	Opacity() float64
	BlendMode() BlendMode
}

// ElevationRanged is implemented by layers that hide pixels outside an
// elevation range.
type ElevationRanged interface {
	ElevationRange() (lo, hi float64, ok bool)
}

// ColorMapped is implemented by layers that colorize values through a lookup table.
type ColorMapped interface {
	ColorMap() (ColorMap, bool)
}

// ColorMap maps a value range onto a lookup texture.
type ColorMap struct {
	Min, Max float64
	LUT      *gpu.Texture
}

// LayerUniform is the per-layer uniform block.
type LayerUniform struct {
	Texture     *gpu.Texture
	OffsetScale tmath.OffsetScale
	Visible     bool
	Opacity     float64
	BlendMode   BlendMode

	ElevationRange    [2]float64
	HasElevationRange bool
	ColorMap          ColorMap
	HasColorMap       bool

	// Atlas is (offsetX, offsetY, scaleX, scaleY) of the layer inside the atlas.
	Atlas [4]float32
}

// NeighbourUniform is one of the 8 stitching slots.
type NeighbourUniform struct {
	DiffLevel   int
	OffsetScale tmath.OffsetScale
	Texture     *gpu.Texture
}

// ElevationUniform describes the bound elevation texture.
type ElevationUniform struct {
	LayerID     string
	Texture     *gpu.Texture
	OffsetScale tmath.OffsetScale
	Min, Max    float64
}

// Material is the uniform state machine of one tile.
type Material struct {
	layers   []ColorLayer
	uniforms map[string]*LayerUniform

	elevationLayer string
	elevation      *ElevationUniform

	Neighbours [8]NeighbourUniform

	defines        map[string]int
	needsRecompile bool
	needsReorder   bool
	needsAtlas     bool
	recompiles     int

	atlas        Atlas
	atlasMaxSize int
}

// New creates a material with no layers. atlasMaxSize bounds the atlas width.
func New(atlasMaxSize int) *Material {
	m := &Material{
		uniforms:     make(map[string]*LayerUniform),
		defines:      map[string]int{DefineElevationLayer: 0, DefineVisibleLayers: 0},
		atlasMaxSize: atlasMaxSize,
	}
	for i := range m.Neighbours {
		m.Neighbours[i] = NeighbourUniform{DiffLevel: NoNeighbour}
	}
	return m
}

// Layers returns the tracked color layers in draw order.
func (m *Material) Layers() []ColorLayer {
	return m.layers
}

// Uniform returns the uniform block of a color layer.
func (m *Material) Uniform(layerID string) (*LayerUniform, bool) {
	u, ok := m.uniforms[layerID]
	return u, ok
}

// HasColorLayer reports whether the layer is tracked.
func (m *Material) HasColorLayer(layerID string) bool {
	_, ok := m.uniforms[layerID]
	return ok
}

// PushColorLayer starts tracking layer. The order is fixed on the next Update.
func (m *Material) PushColorLayer(layer ColorLayer) {
	if m.HasColorLayer(layer.ID()) {
		return
	}
	m.layers = append(m.layers, layer)
	m.uniforms[layer.ID()] = &LayerUniform{
		OffsetScale: tmath.IdentityOffsetScale(),
		Visible:     layer.Visible(),
		Opacity:     layer.Opacity(),
		BlendMode:   layer.BlendMode(),
	}
	m.needsReorder = true
	m.needsAtlas = true
}

// RemoveColorLayer stops tracking a layer.
func (m *Material) RemoveColorLayer(layerID string) {
	if !m.HasColorLayer(layerID) {
		return
	}
	delete(m.uniforms, layerID)
	for i, l := range m.layers {
		if l.ID() == layerID {
			m.layers = append(m.layers[:i], m.layers[i+1:]...)
			break
		}
	}
	m.needsAtlas = true
}

// ReorderLayers requests a re-sort by layer index on the next Update.
func (m *Material) ReorderLayers() {
	m.needsReorder = true
}

// SetColorTexture binds a texture for layer, registering it if needed, and
// refreshes the uniforms that mirror the layer's properties.
func (m *Material) SetColorTexture(layer ColorLayer, tex *gpu.Texture, os tmath.OffsetScale) {
	m.PushColorLayer(layer)
	u := m.uniforms[layer.ID()]
	if u.Texture != tex {
		m.needsAtlas = true
	}
	u.Texture = tex
	u.OffsetScale = os
	refreshLayerUniform(u, layer)
}

func refreshLayerUniform(u *LayerUniform, layer ColorLayer) {
	u.Visible = layer.Visible()
	u.Opacity = layer.Opacity()
	u.BlendMode = layer.BlendMode()

	u.HasElevationRange = false
	if er, ok := layer.(ElevationRanged); ok {
		if lo, hi, ok := er.ElevationRange(); ok {
			u.ElevationRange = [2]float64{lo, hi}
			u.HasElevationRange = true
		}
	}
	u.HasColorMap = false
	if cm, ok := layer.(ColorMapped); ok {
		if c, ok := cm.ColorMap(); ok {
			u.ColorMap = c
			u.HasColorMap = true
		}
	}
}

// AddElevationLayer declares that an elevation texture is expected.
func (m *Material) AddElevationLayer(layerID string) {
	m.elevationLayer = layerID
}

// SetElevationTexture binds the elevation texture. The shader is recompiled
// only when elevation goes from disabled to enabled.
func (m *Material) SetElevationTexture(layerID string, tex *gpu.Texture, os tmath.OffsetScale, lo, hi float64) {
	m.elevationLayer = layerID
	m.elevation = &ElevationUniform{LayerID: layerID, Texture: tex, OffsetScale: os, Min: lo, Max: hi}
	m.setDefine(DefineElevationLayer, 1)
}

// RemoveElevationLayer unbinds the elevation texture and forgets the layer.
func (m *Material) RemoveElevationLayer() {
	m.elevationLayer = ""
	m.elevation = nil
	m.setDefine(DefineElevationLayer, 0)
}

// Elevation returns the bound elevation uniform, if any.
func (m *Material) Elevation() (*ElevationUniform, bool) {
	return m.elevation, m.elevation != nil
}

// IsElevationTextureLoaded reports whether a non-empty elevation texture is bound.
func (m *Material) IsElevationTextureLoaded() bool {
	return m.elevation != nil && m.elevation.Texture != nil && !m.elevation.Texture.Empty()
}

// UpdateNeighbour writes one stitching slot. diffLevel NoNeighbour disables it.
func (m *Material) UpdateNeighbour(slot int, diffLevel int, os tmath.OffsetScale, tex *gpu.Texture) {
	m.Neighbours[slot] = NeighbourUniform{DiffLevel: diffLevel, OffsetScale: os, Texture: tex}
}

func (m *Material) setDefine(name string, value int) {
	if m.defines[name] == value {
		return
	}
	m.defines[name] = value
	m.needsRecompile = true
}

// Define returns the current value of a shader define.
func (m *Material) Define(name string) int {
	return m.defines[name]
}

// Defines returns a copy of all shader defines.
func (m *Material) Defines() map[string]int {
	out := make(map[string]int, len(m.defines))
	for k, v := range m.defines {
		out[k] = v
	}
	return out
}

// Recompiles counts shader variant switches so far.
func (m *Material) Recompiles() int {
	return m.recompiles
}

// Update applies deferred work: layer reordering, visibility refresh, atlas
// layout and shader recompilation. It reports whether the shader variant changed.
func (m *Material) Update() bool {
	if m.needsReorder {
		sort.SliceStable(m.layers, func(i, j int) bool {
			return m.layers[i].Index() < m.layers[j].Index()
		})
		m.needsReorder = false
	}

	visible := 0
	for _, l := range m.layers {
		u := m.uniforms[l.ID()]
		if u.Visible != l.Visible() {
			m.needsAtlas = true
		}
		u.Visible = l.Visible()
		u.Opacity = l.Opacity()
		if u.Visible {
			visible++
		}
	}
	m.setDefine(DefineVisibleLayers, visible)

	if m.needsAtlas {
		m.layoutAtlas()
	}

	if !m.needsRecompile {
		return false
	}
	m.needsRecompile = false
	m.recompiles++
	return true
}

// layoutAtlas packs every visible, bound color texture.
func (m *Material) layoutAtlas() {
	var entries []AtlasEntry
	for _, l := range m.layers {
		u := m.uniforms[l.ID()]
		if !u.Visible || u.Texture == nil || u.Texture.Empty() {
			u.Atlas = [4]float32{}
			continue
		}
		entries = append(entries, AtlasEntry{ID: l.ID(), Width: u.Texture.Width, Height: u.Texture.Height})
	}
	atlas, err := PackAtlas(entries, m.atlasMaxSize)
	if err != nil {
		// keep the previous layout; the oversized layer will show stale atlas coordinates
		return
	}
	m.atlas = atlas
	for _, e := range entries {
		m.uniforms[e.ID].Atlas, _ = atlas.OffsetScale(e.ID)
	}
	m.needsAtlas = false
}

// Atlas returns the current atlas layout.
func (m *Material) Atlas() Atlas {
	return m.atlas
}

// ComposeAtlas renders the visible color textures into one atlas texture.
func (m *Material) ComposeAtlas(dev gpu.Device) (*gpu.Texture, error) {
	textures := make(map[string]*gpu.Texture, len(m.atlas.Rects))
	for id := range m.atlas.Rects {
		if u, ok := m.uniforms[id]; ok {
			textures[id] = u.Texture
		}
	}
	return m.atlas.Compose(dev, textures)
}

// Progress is the share of expected textures that are bound.
func (m *Material) Progress() float64 {
	expected, bound := len(m.layers), 0
	for _, l := range m.layers {
		if m.uniforms[l.ID()].Texture != nil {
			bound++
		}
	}
	if m.elevationLayer != "" {
		expected++
		if m.elevation != nil && m.elevation.Texture != nil {
			bound++
		}
	}
	if expected == 0 {
		return 1
	}
	return float64(bound) / float64(expected)
}

// Loading reports whether some expected texture is still missing.
func (m *Material) Loading() bool {
	return m.Progress() < 1
}

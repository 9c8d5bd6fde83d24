package material

import (
	"fmt"
	"sort"

	"github.com/Faultbox/tessera/internal/gpu"
	"github.com/Faultbox/tessera/pkg/extent"
)

// atlasCRS tags extents expressed in atlas pixels.
const atlasCRS = "atlas"

// AtlasEntry is an image to place in an atlas.
type AtlasEntry struct {
	ID            string
	Width, Height int
}

// AtlasRect is a placement in atlas pixels, Y pointing down.
type AtlasRect struct {
	X, Y, Width, Height int
}

// Atlas is the result of packing.
type Atlas struct {
	Width, Height int
	Rects         map[string]AtlasRect
}

// OffsetScale returns the UV transform of r inside the atlas (V pointing up).
func (a Atlas) OffsetScale(id string) ([4]float32, bool) {
	r, ok := a.Rects[id]
	if !ok || a.Width == 0 || a.Height == 0 {
		return [4]float32{}, false
	}
	w, h := float32(a.Width), float32(a.Height)
	return [4]float32{
		float32(r.X) / w,
		float32(a.Height-r.Y-r.Height) / h,
		float32(r.Width) / w,
		float32(r.Height) / h,
	}, true
}

// PackAtlas places entries on shelves of decreasing height, no wider than
// maxWidth. The atlas width is the widest shelf and its height the sum of
// shelf heights, both rounded up to a power of two.
func PackAtlas(entries []AtlasEntry, maxWidth int) (Atlas, error) {
	sorted := append([]AtlasEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Height > sorted[j].Height
	})

	atlas := Atlas{Rects: make(map[string]AtlasRect, len(entries))}
	x, y, shelf, width := 0, 0, 0, 0
	for _, e := range sorted {
		if e.Width > maxWidth {
			return Atlas{}, fmt.Errorf("atlas: %s is %dpx wide, limit is %dpx", e.ID, e.Width, maxWidth)
		}
		if x+e.Width > maxWidth {
			y += shelf
			x, shelf = 0, 0
		}
		atlas.Rects[e.ID] = AtlasRect{X: x, Y: y, Width: e.Width, Height: e.Height}
		x += e.Width
		shelf = max(shelf, e.Height)
		width = max(width, x)
	}

	atlas.Width = nextPow2(width)
	atlas.Height = nextPow2(y + shelf)
	return atlas, nil
}

// Compose draws each texture into its atlas rectangle on a new device texture.
func (a Atlas) Compose(dev gpu.Device, textures map[string]*gpu.Texture) (*gpu.Texture, error) {
	target, err := dev.NewTexture(a.Width, a.Height, gpu.RGBA8)
	if err != nil {
		return nil, err
	}

	pass := gpu.RenderPass{
		Extent: extent.New(atlasCRS, 0, float64(a.Width), 0, float64(a.Height)),
		Clear:  true,
	}
	ids := make([]string, 0, len(a.Rects))
	for id := range a.Rects {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		tex, ok := textures[id]
		if !ok || tex == nil {
			continue
		}
		r := a.Rects[id]
		top := float64(a.Height - r.Y)
		e := extent.New(atlasCRS, float64(r.X), float64(r.X+r.Width), top-float64(r.Height), top)
		pass.Draws = append(pass.Draws, gpu.Draw{Texture: tex, Mesh: gpu.RectMesh(e)})
	}

	if err := dev.Render(target, pass); err != nil {
		dev.Dispose(target)
		return nil, fmt.Errorf("composing atlas: %w", err)
	}
	return target, nil
}

func nextPow2(v int) int {
	p := 1
	for p < v {
		p *= 2
	}
	return p
}

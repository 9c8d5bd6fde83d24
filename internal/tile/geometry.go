package tile

// Vertex is a tile grid vertex. Positions are local to the tile centre.
type Vertex struct {
	Position [3]float32
	TexCoord [2]float32
}

// Geometry is a (segments+1)² vertex grid covering one tile.
type Geometry struct {
	Vertices []Vertex
	Indices  []uint32
	Segments int
	Width    float64
	Height   float64

	// Shared geometries come from a pool and must not be deformed.
	Shared bool
}

// NewGeometry builds a flat grid of the given size centred on the origin.
func NewGeometry(width, height float64, segments int) *Geometry {
	if segments < 1 {
		segments = 1
	}
	n := segments + 1
	g := &Geometry{
		Vertices: make([]Vertex, 0, n*n),
		Indices:  make([]uint32, 0, segments*segments*6),
		Segments: segments,
		Width:    width,
		Height:   height,
	}

	for j := range n {
		v := float32(j) / float32(segments)
		for i := range n {
			u := float32(i) / float32(segments)
			g.Vertices = append(g.Vertices, Vertex{
				Position: [3]float32{
					(u - 0.5) * float32(width),
					(v - 0.5) * float32(height),
					0,
				},
				TexCoord: [2]float32{u, v},
			})
		}
	}

	for j := range segments {
		for i := range segments {
			a := uint32(j*n + i)
			b := a + 1
			c := a + uint32(n)
			d := c + 1
			g.Indices = append(g.Indices, a, b, c, c, b, d)
		}
	}
	return g
}

// Flatten sets every vertex height to zero.
func (g *Geometry) Flatten() {
	for i := range g.Vertices {
		g.Vertices[i].Position[2] = 0
	}
}

// HeightRange returns the lowest and highest vertex.
func (g *Geometry) HeightRange() (lo, hi float32) {
	lo, hi = 1e30, -1e30
	for _, v := range g.Vertices {
		lo = min(lo, v.Position[2])
		hi = max(hi, v.Position[2])
	}
	return lo, hi
}

type poolKey struct {
	segments int
	level    int
}

type poolEntry struct {
	geometry *Geometry
	refs     int
}

// GeometryPool shares flat grids between tiles of the same level.
type GeometryPool struct {
	entries map[poolKey]*poolEntry
}

// NewGeometryPool creates an empty pool.
func NewGeometryPool() *GeometryPool {
	return &GeometryPool{entries: make(map[poolKey]*poolEntry)}
}

// Acquire returns the shared grid for (segments, level), creating it with
// the given dimensions on first use.
func (p *GeometryPool) Acquire(segments, level int, width, height float64) *Geometry {
	key := poolKey{segments, level}
	e, ok := p.entries[key]
	if !ok {
		g := NewGeometry(width, height, segments)
		g.Shared = true
		e = &poolEntry{geometry: g}
		p.entries[key] = e
	}
	e.refs++
	return e.geometry
}

// Release drops one reference and frees the grid when unused.
func (p *GeometryPool) Release(g *Geometry, level int) {
	key := poolKey{g.Segments, level}
	e, ok := p.entries[key]
	if !ok || e.geometry != g {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(p.entries, key)
	}
}

// Len returns the number of distinct pooled grids.
func (p *GeometryPool) Len() int {
	return len(p.entries)
}

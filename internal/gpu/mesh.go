package gpu

import (
	"github.com/paulmach/orb"

	"github.com/Faultbox/tessera/pkg/extent"
)

// Vertex is a mesh vertex positioned in the render target's CRS, with
// texture coordinates where (0,0) is the south-west corner of the texture.
type Vertex struct {
	Pos  orb.Point
	U, V float64
}

// Mesh is an indexed triangle list.
type Mesh struct {
	Vertices []Vertex
	Indices  []uint32
}

// RectMesh covers e with the whole texture.
func RectMesh(e extent.Extent) Mesh {
	return Mesh{
		Vertices: []Vertex{
			{Pos: orb.Point{e.XMin(), e.YMin()}, U: 0, V: 0},
			{Pos: orb.Point{e.XMax(), e.YMin()}, U: 1, V: 0},
			{Pos: orb.Point{e.XMin(), e.YMax()}, U: 0, V: 1},
			{Pos: orb.Point{e.XMax(), e.YMax()}, U: 1, V: 1},
		},
		Indices: []uint32{0, 1, 2, 2, 1, 3},
	}
}

// GridMesh builds a segments × segments lattice over e. Positions are left
// untouched so callers can warp them.
func GridMesh(e extent.Extent, segments int) Mesh {
	if segments < 1 {
		segments = 1
	}
	w, h := e.Dimensions()
	n := segments + 1

	m := Mesh{
		Vertices: make([]Vertex, 0, n*n),
		Indices:  make([]uint32, 0, segments*segments*6),
	}
	for j := range n {
		v := float64(j) / float64(segments)
		for i := range n {
			u := float64(i) / float64(segments)
			m.Vertices = append(m.Vertices, Vertex{
				Pos: orb.Point{e.XMin() + u*w, e.YMin() + v*h},
				U:   u,
				V:   v,
			})
		}
	}
	for j := range segments {
		for i := range segments {
			a := uint32(j*n + i)
			b := a + 1
			c := a + uint32(n)
			d := c + 1
			m.Indices = append(m.Indices, a, b, c, c, b, d)
		}
	}
	return m
}

// Bound returns the bounding box of the mesh positions.
func (m Mesh) Bound() orb.Bound {
	if len(m.Vertices) == 0 {
		return orb.Bound{}
	}
	b := orb.Bound{Min: m.Vertices[0].Pos, Max: m.Vertices[0].Pos}
	for _, v := range m.Vertices[1:] {
		b = b.Extend(v.Pos)
	}
	return b
}

// axisAligned reports whether the mesh is a plain RectMesh-style quad.
func (m Mesh) axisAligned() (orb.Bound, bool) {
	if len(m.Vertices) != 4 || len(m.Indices) != 6 {
		return orb.Bound{}, false
	}
	b := m.Bound()
	for _, v := range m.Vertices {
		onX := v.Pos[0] == b.Min[0] || v.Pos[0] == b.Max[0]
		onY := v.Pos[1] == b.Min[1] || v.Pos[1] == b.Max[1]
		if !onX || !onY {
			return orb.Bound{}, false
		}
		wantU := 0.0
		if v.Pos[0] == b.Max[0] {
			wantU = 1
		}
		wantV := 0.0
		if v.Pos[1] == b.Max[1] {
			wantV = 1
		}
		if v.U != wantU || v.V != wantV {
			return orb.Bound{}, false
		}
	}
	return b, true
}

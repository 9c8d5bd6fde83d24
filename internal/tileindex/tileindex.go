// Package tileindex keeps a non-owning registry of live quadtree tiles and
// answers adjacency and ancestor queries over it.
package tileindex

import (
	"fmt"
	"weak"

	"github.com/paulmach/orb/maptile"
)

// Coord is a quadtree coordinate. Z is the level (0 = root); Y grows northward.
type Coord struct {
	X, Y, Z int
}

// Key returns the string form "z/x/y".
func (c Coord) Key() string {
	return fmt.Sprintf("%d/%d/%d", c.Z, c.X, c.Y)
}

func (c Coord) String() string { return c.Key() }

// Parent returns the coordinate one level up, or false at the root level.
func (c Coord) Parent() (Coord, bool) {
	if c.Z <= 0 {
		return Coord{}, false
	}
	// maptile halves x and y; the orientation of Y is irrelevant to that.
	p := maptile.New(uint32(c.X), uint32(c.Y), maptile.Zoom(c.Z)).Parent()
	return Coord{X: int(p.X), Y: int(p.Y), Z: int(p.Z)}, true
}

// Direction indexes the 8-slot neighbour array.
type Direction int

const (
	North Direction = iota
	NorthEast
	East
	SouthEast
	South
	SouthWest
	West
	NorthWest
)

// Opposite returns the direction pointing back.
func (d Direction) Opposite() Direction {
	return (d + 4) % 8
}

var directionNames = [8]string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}

func (d Direction) String() string {
	if d < 0 || d > 7 {
		return fmt.Sprintf("Direction(%d)", int(d))
	}
	return directionNames[d]
}

// Offsets in (dx, dy) per direction, Y pointing north.
var offsets = [8][2]int{
	{0, 1}, {1, 1}, {1, 0}, {1, -1},
	{0, -1}, {-1, -1}, {-1, 0}, {-1, 1},
}

// Neighbour returns the same-level coordinate in direction d.
func (c Coord) Neighbour(d Direction) Coord {
	o := offsets[d]
	return Coord{X: c.X + o[0], Y: c.Y + o[1], Z: c.Z}
}

// Node is what the index needs to know about a tile.
type Node interface {
	ID() int
	Coord() Coord
	Disposed() bool
}

// Index maps coordinates and ids to tiles without keeping them alive.
// An entry whose tile was garbage collected or disposed reads as absent.
//
// P is the pointer type stored in the index, e.g. Index[tile.Tile, *tile.Tile].
type Index[T any, P interface {
	*T
	Node
}] struct {
	byCoord map[Coord]weak.Pointer[T]
	byID    map[int]weak.Pointer[T]

	// rootsX, rootsY bound coordinates at level 0; 0 means unbounded.
	rootsX, rootsY int
}

// New creates an index. rootsX and rootsY give the number of level-0 tiles
// along each axis and bound neighbour lookups; pass 0 to disable the bound.
func New[T any, P interface {
	*T
	Node
}](rootsX, rootsY int) *Index[T, P] {
	return &Index[T, P]{
		byCoord: make(map[Coord]weak.Pointer[T]),
		byID:    make(map[int]weak.Pointer[T]),
		rootsX:  rootsX,
		rootsY:  rootsY,
	}
}

// Add registers tile under its coordinate and id, replacing stale entries.
func (ix *Index[T, P]) Add(tile P) {
	wp := weak.Make((*T)(tile))
	ix.byCoord[tile.Coord()] = wp
	ix.byID[tile.ID()] = wp
}

// Get returns the live tile with the given id.
func (ix *Index[T, P]) Get(id int) (P, bool) {
	return live[T, P](ix.byID[id])
}

// Lookup returns the live tile at c.
func (ix *Index[T, P]) Lookup(c Coord) (P, bool) {
	return live[T, P](ix.byCoord[c])
}

// Len returns the number of entries, including stale ones not yet purged.
func (ix *Index[T, P]) Len() int {
	return len(ix.byID)
}

func live[T any, P interface {
	*T
	Node
}](wp weak.Pointer[T]) (P, bool) {
	v := wp.Value()
	if v == nil {
		return nil, false
	}
	p := P(v)
	if p.Disposed() {
		return nil, false
	}
	return p, true
}

// Update purges entries whose tiles are gone.
func (ix *Index[T, P]) Update() {
	for c, wp := range ix.byCoord {
		if _, ok := live[T, P](wp); !ok {
			delete(ix.byCoord, c)
		}
	}
	for id, wp := range ix.byID {
		if _, ok := live[T, P](wp); !ok {
			delete(ix.byID, id)
		}
	}
}

// inBounds reports whether c can exist at all. Neighbour lookups never wrap.
func (ix *Index[T, P]) inBounds(c Coord) bool {
	if c.X < 0 || c.Y < 0 {
		return false
	}
	if ix.rootsX > 0 && c.X >= ix.rootsX<<c.Z {
		return false
	}
	if ix.rootsY > 0 && c.Y >= ix.rootsY<<c.Z {
		return false
	}
	return true
}

// Neighbours returns the 8 same-level neighbours of tile, indexed by
// Direction. A slot is nil when the neighbour does not exist at that level or
// fails pred. Coarser tiles are never substituted.
func (ix *Index[T, P]) Neighbours(tile P, pred func(P) bool) [8]P {
	var result [8]P
	c := tile.Coord()
	for d := North; d <= NorthWest; d++ {
		nc := c.Neighbour(d)
		if !ix.inBounds(nc) {
			continue
		}
		n, ok := ix.Lookup(nc)
		if !ok {
			continue
		}
		if pred != nil && !pred(n) {
			continue
		}
		result[d] = n
	}
	return result
}

// SearchTileOrAncestor returns the tile at c or its closest live ancestor
// that satisfies pred. It visits at most c.Z+1 coordinates.
func (ix *Index[T, P]) SearchTileOrAncestor(c Coord, pred func(P) bool) (P, bool) {
	for {
		if n, ok := ix.Lookup(c); ok && (pred == nil || pred(n)) {
			return n, true
		}
		parent, ok := c.Parent()
		if !ok {
			return nil, false
		}
		c = parent
	}
}

package tileindex

import (
	"runtime"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type testNode struct {
	id       int
	coord    Coord
	disposed bool
	visible  bool
}

func (n *testNode) ID() int        { return n.id }
func (n *testNode) Coord() Coord   { return n.coord }
func (n *testNode) Disposed() bool { return n.disposed }

type testIndex = Index[testNode, *testNode]

// fillLevel registers every tile of a square level and returns them by coordinate.
func fillLevel(ix *testIndex, z int) map[Coord]*testNode {
	nodes := make(map[Coord]*testNode)
	n := 1 << z
	id := 0
	for y := range n {
		for x := range n {
			id++
			c := Coord{X: x, Y: y, Z: z}
			nodes[c] = &testNode{id: id, coord: c, visible: true}
			ix.Add(nodes[c])
		}
	}
	return nodes
}

func neighbourIDs(ns [8]*testNode) []int {
	ids := make([]int, 8)
	for i, n := range ns {
		if n != nil {
			ids[i] = n.id
		}
	}
	return ids
}

func TestCoordParent(t *testing.T) {
	tests := []struct {
		in     Coord
		want   Coord
		wantOK bool
	}{
		{Coord{X: 5, Y: 3, Z: 3}, Coord{X: 2, Y: 1, Z: 2}, true},
		{Coord{X: 1, Y: 1, Z: 1}, Coord{X: 0, Y: 0, Z: 0}, true},
		{Coord{X: 0, Y: 0, Z: 0}, Coord{}, false},
	}
	for _, tt := range tests {
		got, ok := tt.in.Parent()
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("%v.Parent() = (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestNeighboursOrder(t *testing.T) {
	ix := New[testNode](1, 1)
	nodes := fillLevel(ix, 2)

	center := nodes[Coord{X: 1, Y: 1, Z: 2}]
	got := neighbourIDs(ix.Neighbours(center, nil))

	want := []int{
		nodes[Coord{X: 1, Y: 2, Z: 2}].id, // N
		nodes[Coord{X: 2, Y: 2, Z: 2}].id, // NE
		nodes[Coord{X: 2, Y: 1, Z: 2}].id, // E
		nodes[Coord{X: 2, Y: 0, Z: 2}].id, // SE
		nodes[Coord{X: 1, Y: 0, Z: 2}].id, // S
		nodes[Coord{X: 0, Y: 0, Z: 2}].id, // SW
		nodes[Coord{X: 0, Y: 1, Z: 2}].id, // W
		nodes[Coord{X: 0, Y: 2, Z: 2}].id, // NW
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("neighbour ids mismatch (-want +got):\n%s", diff)
	}
}

func TestNeighboursNoWraparound(t *testing.T) {
	ix := New[testNode](1, 1)
	nodes := fillLevel(ix, 1)

	corner := nodes[Coord{X: 0, Y: 0, Z: 1}]
	got := ix.Neighbours(corner, nil)

	for _, d := range []Direction{SouthEast, South, SouthWest, West, NorthWest} {
		if got[d] != nil {
			t.Errorf("expected no neighbour to the %v, got %v", d, got[d].coord)
		}
	}
	if got[North] == nil || got[NorthEast] == nil || got[East] == nil {
		t.Error("expected N, NE and E neighbours to exist")
	}
}

func TestNeighboursSymmetry(t *testing.T) {
	ix := New[testNode](1, 1)
	nodes := fillLevel(ix, 3)
	visible := func(n *testNode) bool { return n.visible }

	for _, a := range nodes {
		for d, b := range ix.Neighbours(a, visible) {
			if b == nil {
				continue
			}
			back := ix.Neighbours(b, visible)[Direction(d).Opposite()]
			if back != a {
				t.Fatalf("%v is %v of %v but not the reverse", b.coord, Direction(d), a.coord)
			}
		}
	}
}

func TestNeighboursSameLevelOnly(t *testing.T) {
	ix := New[testNode](1, 1)
	coarse := &testNode{id: 1, coord: Coord{X: 1, Y: 0, Z: 1}}
	fine := &testNode{id: 2, coord: Coord{X: 1, Y: 1, Z: 2}}
	ix.Add(coarse)
	ix.Add(fine)

	got := ix.Neighbours(fine, nil)
	if got[East] != nil {
		t.Errorf("expected no coarser substitute to the east, got %v", got[East].coord)
	}
	runtime.KeepAlive(coarse)
}

func TestNeighboursPredicate(t *testing.T) {
	ix := New[testNode](1, 1)
	nodes := fillLevel(ix, 1)
	nodes[Coord{X: 1, Y: 0, Z: 1}].visible = false

	got := ix.Neighbours(nodes[Coord{X: 0, Y: 0, Z: 1}], func(n *testNode) bool { return n.visible })
	if got[East] != nil {
		t.Error("expected hidden neighbour to be filtered out")
	}
	if got[North] == nil {
		t.Error("expected visible neighbour to be kept")
	}
}

func TestDisposedEntriesAreAbsent(t *testing.T) {
	ix := New[testNode](0, 0)
	n := &testNode{id: 7, coord: Coord{X: 3, Y: 3, Z: 2}}
	ix.Add(n)

	if _, ok := ix.Get(7); !ok {
		t.Fatal("expected tile to be registered")
	}

	n.disposed = true
	if _, ok := ix.Lookup(n.coord); ok {
		t.Error("expected disposed tile to be absent")
	}

	// a new tile at the same coordinate replaces the stale entry
	replacement := &testNode{id: 8, coord: n.coord}
	ix.Add(replacement)
	if got, ok := ix.Lookup(n.coord); !ok || got.id != 8 {
		t.Errorf("expected replacement tile 8, got %v %v", got, ok)
	}

	ix.Update()
	if ix.Len() != 1 {
		t.Errorf("expected 1 entry after purge, got %d", ix.Len())
	}
}

func TestCollectedEntriesAreAbsent(t *testing.T) {
	ix := New[testNode](0, 0)
	func() {
		ix.Add(&testNode{id: 1, coord: Coord{Z: 0}})
	}()
	runtime.GC()

	if _, ok := ix.Get(1); ok {
		t.Error("expected collected tile to be absent")
	}
	ix.Update()
	if ix.Len() != 0 {
		t.Errorf("expected empty index after purge, got %d", ix.Len())
	}
}

func TestSearchTileOrAncestor(t *testing.T) {
	ix := New[testNode](1, 1)
	root := &testNode{id: 1, coord: Coord{Z: 0}}
	mid := &testNode{id: 2, coord: Coord{X: 1, Y: 1, Z: 1}}
	ix.Add(root)
	ix.Add(mid)

	got, ok := ix.SearchTileOrAncestor(Coord{X: 3, Y: 2, Z: 2}, nil)
	if !ok || got != mid {
		t.Errorf("expected level 1 ancestor, got %v", got)
	}

	got, ok = ix.SearchTileOrAncestor(Coord{X: 3, Y: 2, Z: 2}, func(n *testNode) bool { return n.coord.Z == 0 })
	if !ok || got != root {
		t.Errorf("expected root, got %v", got)
	}

	if _, ok := ix.SearchTileOrAncestor(Coord{X: 0, Y: 0, Z: 3}, func(*testNode) bool { return false }); ok {
		t.Error("expected no match when predicate rejects everything")
	}
}

func TestSearchTileOrAncestorTerminates(t *testing.T) {
	empty := New[testNode](1, 1)
	if _, ok := empty.SearchTileOrAncestor(Coord{X: 100, Y: 57, Z: 7}, nil); ok {
		t.Fatal("expected nothing in an empty index")
	}

	// With a tile at every level, a rejecting predicate is asked exactly z+1 times.
	ix := New[testNode](1, 1)
	c := Coord{X: 100, Y: 57, Z: 7}
	var chain []*testNode
	for cur, ok := c, true; ok; cur, ok = cur.Parent() {
		n := &testNode{id: len(chain) + 1, coord: cur}
		chain = append(chain, n)
		ix.Add(n)
	}
	calls := 0
	ix.SearchTileOrAncestor(c, func(*testNode) bool { calls++; return false })
	runtime.KeepAlive(chain)
	if calls != c.Z+1 {
		t.Errorf("expected %d steps, got %d", c.Z+1, calls)
	}
}

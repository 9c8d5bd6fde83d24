package extent

import (
	"testing"
)

func TestNewNormalizes(t *testing.T) {
	e := New("EPSG:3857", 10, 0, 5, -5)
	if e.XMin() != 0 || e.XMax() != 10 {
		t.Errorf("expected x range [0, 10], got [%v, %v]", e.XMin(), e.XMax())
	}
	if e.YMin() != -5 || e.YMax() != 5 {
		t.Errorf("expected y range [-5, 5], got [%v, %v]", e.YMin(), e.YMax())
	}
}

func TestIntersect(t *testing.T) {
	a := New("EPSG:3857", 0, 100, 0, 100)

	tests := []struct {
		name    string
		other   Extent
		want    Extent
		wantHit bool
	}{
		{"overlap", New("EPSG:3857", 50, 150, 50, 150), New("EPSG:3857", 50, 100, 50, 100), true},
		{"inside", New("EPSG:3857", 10, 20, 10, 20), New("EPSG:3857", 10, 20, 10, 20), true},
		{"disjoint", New("EPSG:3857", 200, 300, 0, 100), Extent{}, false},
		{"other crs", New("EPSG:4326", 0, 100, 0, 100), Extent{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := a.Intersect(tt.other)
			if ok != tt.wantHit {
				t.Fatalf("expected hit=%v, got %v", tt.wantHit, ok)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestContains(t *testing.T) {
	a := New("EPSG:3857", 0, 100, 0, 100)
	if !a.Contains(New("EPSG:3857", 0, 10, 90, 100)) {
		t.Error("expected corner extent to be contained")
	}
	if a.Contains(New("EPSG:3857", 95, 105, 0, 10)) {
		t.Error("expected overflowing extent not to be contained")
	}
	if !a.ContainsPoint(100, 100) {
		t.Error("expected corner point to be contained")
	}
}

func TestSplit(t *testing.T) {
	e := New("EPSG:3857", 0, 100, 0, 50)
	cells := e.Split(2, 2)
	if len(cells) != 4 {
		t.Fatalf("expected 4 cells, got %d", len(cells))
	}

	want := []Extent{
		New("EPSG:3857", 0, 50, 0, 25),
		New("EPSG:3857", 50, 100, 0, 25),
		New("EPSG:3857", 0, 50, 25, 50),
		New("EPSG:3857", 50, 100, 25, 50),
	}
	for i := range want {
		if !cells[i].Equal(want[i]) {
			t.Errorf("cell %d: expected %v, got %v", i, want[i], cells[i])
		}
	}

	if e.Split(0, 2) != nil {
		t.Error("expected nil for zero columns")
	}
}

func TestOffsetScaleIn(t *testing.T) {
	parent := New("EPSG:3857", 0, 100, 0, 100)
	child := New("EPSG:3857", 50, 100, 0, 50)

	os := child.OffsetScaleIn(parent)
	if os.OffsetX != 0.5 || os.OffsetY != 0 || os.ScaleX != 0.5 || os.ScaleY != 0.5 {
		t.Errorf("unexpected offset/scale %+v", os)
	}

	// the centre of the child maps to (0.75, 0.25) in the parent
	u, v := os.Apply(0.5, 0.5)
	if u != 0.75 || v != 0.25 {
		t.Errorf("expected (0.75, 0.25), got (%v, %v)", u, v)
	}
}

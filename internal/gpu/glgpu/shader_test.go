package glgpu

import (
	"strings"
	"testing"

	"github.com/paulmach/orb"

	tmath "github.com/Faultbox/tessera/pkg/math"
)

func TestWithDefinesOrdersKeys(t *testing.T) {
	src := withDefines("void main() {}\n", map[string]int{"ZETA": 2, "ALPHA": 1})

	if !strings.HasPrefix(src, glslVersion) {
		t.Fatalf("expected source to start with the version line, got %q", src)
	}
	a := strings.Index(src, "#define ALPHA 1")
	z := strings.Index(src, "#define ZETA 2")
	if a < 0 || z < 0 {
		t.Fatalf("expected both defines in source, got %q", src)
	}
	if a > z {
		t.Errorf("expected ALPHA before ZETA, got %q", src)
	}
	if !strings.HasSuffix(src, "void main() {}\n") {
		t.Errorf("expected body at the end, got %q", src)
	}
}

func TestFlipRows(t *testing.T) {
	// 1x3 image, one byte per row.
	got := flipRows([]byte{1, 2, 3}, 1, 3)
	want := []byte{3, 2, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestFlipRowsFloat(t *testing.T) {
	got := flipRowsFloat([]float32{1, 2, 3, 4}, 2, 2)
	want := []float32{3, 4, 1, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestOutsideClip(t *testing.T) {
	// pass covers x 100..200, y 0..50
	proj := tmath.Ortho(0, 100, 0, 50, -1, 1)

	tests := []struct {
		name string
		b    orb.Bound
		want bool
	}{
		{"inside", orb.Bound{Min: orb.Point{120, 10}, Max: orb.Point{130, 20}}, false},
		{"overlapping edge", orb.Bound{Min: orb.Point{50, 10}, Max: orb.Point{110, 20}}, false},
		{"west", orb.Bound{Min: orb.Point{0, 10}, Max: orb.Point{90, 20}}, true},
		{"north", orb.Bound{Min: orb.Point{120, 60}, Max: orb.Point{130, 70}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := outsideClip(proj, tt.b, 100, 0); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

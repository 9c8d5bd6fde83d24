package math

import "testing"

func TestVec3Arithmetic(t *testing.T) {
	a := Vec3{1, 2, 3}
	b := Vec3{3, 4, 5}
	if got, want := a.Add(b), (Vec3{4, 6, 8}); got != want {
		t.Errorf("Vec3.Add() = %v, want %v", got, want)
	}
	if got, want := b.Sub(a).Scale(0.5), (Vec3{1, 1, 1}); got != want {
		t.Errorf("Vec3.Sub().Scale() = %v, want %v", got, want)
	}
}

func TestBox3SizeCenter(t *testing.T) {
	b := Box3{Min: Vec3{-5, -5, 10}, Max: Vec3{5, 5, 30}}
	if got, want := b.Size(), (Vec3{10, 10, 20}); got != want {
		t.Errorf("Box3.Size() = %v, want %v", got, want)
	}
	if got, want := b.Center(), (Vec3{0, 0, 20}); got != want {
		t.Errorf("Box3.Center() = %v, want %v", got, want)
	}
}

func TestOffsetScaleCompose(t *testing.T) {
	// child occupies the north-east quarter of its parent
	child := OffsetScale{OffsetX: 0.5, OffsetY: 0.5, ScaleX: 0.5, ScaleY: 0.5}
	// parent texture covers the parent's west half only
	parent := OffsetScale{OffsetX: 0, OffsetY: 0, ScaleX: 0.5, ScaleY: 1}

	composed := parent.Compose(child)
	u, v := composed.Apply(0.5, 0.5)

	pu, pv := child.Apply(0.5, 0.5)
	wu, wv := parent.Apply(pu, pv)
	if u != wu || v != wv {
		t.Errorf("Compose().Apply = (%v, %v), want (%v, %v)", u, v, wu, wv)
	}

	id := IdentityOffsetScale()
	if id.Compose(child) != child {
		t.Errorf("identity.Compose(child) = %v, want %v", id.Compose(child), child)
	}
}

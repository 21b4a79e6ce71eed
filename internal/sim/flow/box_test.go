package flow

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func TestBox_ContainsAndClosestPoint(t *testing.T) {
	b := NewBoxEuler(mgl64.Vec3{0, 0, 0}, mgl64.Vec3{4, 1, 1}, mgl64.Vec3{0, 90, 0})

	// Rotated 90 degrees about y, the long axis now runs along z.
	if !b.Contains(mgl64.Vec3{0, 0, 1.9}) {
		t.Fatalf("point on the rotated long axis should be inside")
	}
	if b.Contains(mgl64.Vec3{1.9, 0, 0}) {
		t.Fatalf("point on the original long axis should be outside")
	}

	cp := b.ClosestPoint(mgl64.Vec3{3, 0, 0})
	if !vecNear(cp, mgl64.Vec3{0.5, 0, 0}, 1e-9) {
		t.Fatalf("closest point = %v", cp)
	}
	if d := b.Distance(mgl64.Vec3{0, 0, 0.5}); d != 0 {
		t.Fatalf("inside distance = %v", d)
	}
}

func TestBox_Intersects(t *testing.T) {
	a := NewBox(mgl64.Vec3{}, mgl64.Vec3{2, 2, 2})
	cases := []struct {
		name string
		b    Box
		want bool
	}{
		{"overlap", NewBox(mgl64.Vec3{1, 0, 0}, mgl64.Vec3{2, 2, 2}), true},
		{"touching face", NewBox(mgl64.Vec3{2, 0, 0}, mgl64.Vec3{2, 2, 2}), true},
		{"apart", NewBox(mgl64.Vec3{3, 0, 0}, mgl64.Vec3{1.5, 2, 2}), false},
		{"rotated reaches", NewBoxEuler(mgl64.Vec3{1.9, 0, 0}, mgl64.Vec3{0.2, 2, 0.2}, mgl64.Vec3{0, 0, 90}), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := a.Intersects(tc.b); got != tc.want {
				t.Fatalf("Intersects = %v, want %v", got, tc.want)
			}
			if got := tc.b.Intersects(a); got != tc.want {
				t.Fatalf("Intersects not symmetric")
			}
		})
	}
}

func TestBox_LocalWorldRoundTrip(t *testing.T) {
	b := NewBoxEuler(mgl64.Vec3{3, -1, 2}, mgl64.Vec3{1, 2, 3}, mgl64.Vec3{30, 45, 60})
	p := mgl64.Vec3{0.25, -0.5, 1}
	if got := b.ToLocal(b.ToWorld(p)); !vecNear(got, p, 1e-9) {
		t.Fatalf("round trip = %v", got)
	}
	var zero Box
	zero.Center = mgl64.Vec3{1, 1, 1}
	if got := zero.ToWorld(mgl64.Vec3{1, 0, 0}); !vecNear(got, mgl64.Vec3{2, 1, 1}, 1e-12) {
		t.Fatalf("zero rotation should act as identity, got %v", got)
	}
}

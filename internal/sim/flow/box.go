package flow

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Box is an oriented bounding box: Size is the full extent along each local
// axis, Rotation maps local axes to world axes.
type Box struct {
	Center   mgl64.Vec3
	Size     mgl64.Vec3
	Rotation mgl64.Quat
}

func NewBox(center, size mgl64.Vec3) Box {
	return Box{Center: center, Size: size, Rotation: mgl64.QuatIdent()}
}

// NewBoxEuler builds a box rotated by XYZ Euler angles in degrees.
func NewBoxEuler(center, size, eulerDeg mgl64.Vec3) Box {
	q := mgl64.AnglesToQuat(
		mgl64.DegToRad(eulerDeg[0]),
		mgl64.DegToRad(eulerDeg[1]),
		mgl64.DegToRad(eulerDeg[2]),
		mgl64.XYZ,
	)
	return Box{Center: center, Size: size, Rotation: q.Normalize()}
}

func (b Box) rotation() mgl64.Quat {
	// Zero value quaternion means "unrotated".
	if b.Rotation.W == 0 && b.Rotation.V == (mgl64.Vec3{}) {
		return mgl64.QuatIdent()
	}
	return b.Rotation
}

func (b Box) HalfSize() mgl64.Vec3 { return b.Size.Mul(0.5) }

func (b Box) Volume() float64 { return b.Size[0] * b.Size[1] * b.Size[2] }

// ToLocal maps a world point into the box frame (origin at the center, unrotated).
func (b Box) ToLocal(p mgl64.Vec3) mgl64.Vec3 {
	return b.rotation().Inverse().Rotate(p.Sub(b.Center))
}

// ToWorld is the inverse of ToLocal.
func (b Box) ToWorld(local mgl64.Vec3) mgl64.Vec3 {
	return b.rotation().Rotate(local).Add(b.Center)
}

func (b Box) Contains(p mgl64.Vec3) bool {
	l := b.ToLocal(p)
	h := b.HalfSize()
	const eps = 1e-9
	for i := 0; i < 3; i++ {
		if math.Abs(l[i]) > h[i]+eps {
			return false
		}
	}
	return true
}

// ClosestPoint returns p itself when inside, otherwise the nearest point on the surface.
func (b Box) ClosestPoint(p mgl64.Vec3) mgl64.Vec3 {
	l := b.ToLocal(p)
	h := b.HalfSize()
	for i := 0; i < 3; i++ {
		l[i] = mgl64.Clamp(l[i], -h[i], h[i])
	}
	return b.ToWorld(l)
}

func (b Box) Distance(p mgl64.Vec3) float64 {
	return b.ClosestPoint(p).Sub(p).Len()
}

// Bounds returns the world-space axis-aligned bounds of the box.
func (b Box) Bounds() (lo, hi mgl64.Vec3) {
	h := b.HalfSize()
	q := b.rotation()
	lo = mgl64.Vec3{math.Inf(1), math.Inf(1), math.Inf(1)}
	hi = mgl64.Vec3{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	for _, sx := range []float64{-1, 1} {
		for _, sy := range []float64{-1, 1} {
			for _, sz := range []float64{-1, 1} {
				c := q.Rotate(mgl64.Vec3{sx * h[0], sy * h[1], sz * h[2]}).Add(b.Center)
				for i := 0; i < 3; i++ {
					lo[i] = math.Min(lo[i], c[i])
					hi[i] = math.Max(hi[i], c[i])
				}
			}
		}
	}
	return lo, hi
}

// Intersects reports whether the world-space bounds of the two boxes overlap
// (touching faces count as overlap).
func (b Box) Intersects(o Box) bool {
	alo, ahi := b.Bounds()
	blo, bhi := o.Bounds()
	const eps = 1e-9
	for i := 0; i < 3; i++ {
		if ahi[i] < blo[i]-eps || bhi[i] < alo[i]-eps {
			return false
		}
	}
	return true
}

func (b Box) valid() bool {
	return b.Size[0] > 0 && b.Size[1] > 0 && b.Size[2] > 0
}

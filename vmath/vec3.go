package vmath

import "math"

// Vec3 is a 3D vector in world units (float64)
// World-space streaming math runs on continuous coordinates, not grid cells
type Vec3 struct {
	X, Y, Z float64
}

func V3Add(a, b Vec3) Vec3 {
	return Vec3{a.X + b.X, a.Y + b.Y, a.Z + b.Z}
}

func V3Sub(a, b Vec3) Vec3 {
	return Vec3{a.X - b.X, a.Y - b.Y, a.Z - b.Z}
}

func V3Scale(v Vec3, s float64) Vec3 {
	return Vec3{v.X * s, v.Y * s, v.Z * s}
}

func V3Dot(a, b Vec3) float64 {
	return a.X*b.X + a.Y*b.Y + a.Z*b.Z
}

func V3MagSq(v Vec3) float64 {
	return v.X*v.X + v.Y*v.Y + v.Z*v.Z
}

func V3Mag(v Vec3) float64 {
	return math.Sqrt(V3MagSq(v))
}

// V3Normalize returns the unit vector, or the zero vector for zero input
func V3Normalize(v Vec3) Vec3 {
	mag := V3Mag(v)
	if mag == 0 {
		return Vec3{}
	}

	// One division, three multiplies
	inv := 1.0 / mag
	return Vec3{v.X * inv, v.Y * inv, v.Z * inv}
}

// Distance returns the euclidean distance between two points
func Distance(a, b Vec3) float64 {
	return V3Mag(V3Sub(a, b))
}

// DistanceSq avoids the sqrt for threshold comparisons
func DistanceSq(a, b Vec3) float64 {
	return V3MagSq(V3Sub(a, b))
}

// Extrapolate returns pos advanced along vel for dt seconds
// Used by predictive streaming to test the viewer's future position
func Extrapolate(pos, vel Vec3, dt float64) Vec3 {
	return V3Add(pos, V3Scale(vel, dt))
}

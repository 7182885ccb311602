package vmath

import "math"

// AABB is an axis-aligned bounding box stored as center + half extents
// Half-extent storage keeps tile placement math symmetric around the center
type AABB struct {
	Center  Vec3
	Extents Vec3
}

// Min returns the minimum corner
func (b AABB) Min() Vec3 {
	return V3Sub(b.Center, b.Extents)
}

// Max returns the maximum corner
func (b AABB) Max() Vec3 {
	return V3Add(b.Center, b.Extents)
}

// Contains reports whether p lies inside or on the box boundary
func (b AABB) Contains(p Vec3) bool {
	d := V3Sub(p, b.Center)
	return math.Abs(d.X) <= b.Extents.X &&
		math.Abs(d.Y) <= b.Extents.Y &&
		math.Abs(d.Z) <= b.Extents.Z
}

// ClosestPoint returns the point on or inside the box nearest to p
func (b AABB) ClosestPoint(p Vec3) Vec3 {
	lo, hi := b.Min(), b.Max()
	return Vec3{
		X: math.Min(math.Max(p.X, lo.X), hi.X),
		Y: math.Min(math.Max(p.Y, lo.Y), hi.Y),
		Z: math.Min(math.Max(p.Z, lo.Z), hi.Z),
	}
}

// DistanceTo returns the distance from p to the box surface (0 if inside)
func (b AABB) DistanceTo(p Vec3) float64 {
	return Distance(p, b.ClosestPoint(p))
}

// BoundingSphere returns the tightest sphere enclosing the box
func (b AABB) BoundingSphere() Sphere {
	return Sphere{Center: b.Center, Radius: V3Mag(b.Extents)}
}

// Sphere is a bounding sphere used for visibility tests
type Sphere struct {
	Center Vec3
	Radius float64
}

// InViewCone tests the sphere against a view cone approximation of the frustum
// origin/forward define the cone axis, halfAngle is half the FOV in radians
// Conservative: inflates the cone angle by the sphere's angular radius
func (s Sphere) InViewCone(origin, forward Vec3, halfAngle float64) bool {
	to := V3Sub(s.Center, origin)
	dist := V3Mag(to)

	// Viewer inside the sphere sees it regardless of facing
	if dist <= s.Radius {
		return true
	}

	dir := V3Normalize(forward)
	cos := V3Dot(dir, to) / dist
	cos = math.Min(math.Max(cos, -1), 1)

	angularRadius := math.Asin(math.Min(s.Radius/dist, 1))
	return math.Acos(cos) <= halfAngle+angularRadius
}

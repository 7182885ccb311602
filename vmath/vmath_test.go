package vmath

import (
	"math"
	"testing"
)

func TestDistance(t *testing.T) {
	a := Vec3{0, 0, 0}
	b := Vec3{3, 4, 0}

	if d := Distance(a, b); d != 5 {
		t.Errorf("Expected distance 5, got %f", d)
	}
	if d := DistanceSq(a, b); d != 25 {
		t.Errorf("Expected squared distance 25, got %f", d)
	}
}

func TestNormalizeZero(t *testing.T) {
	n := V3Normalize(Vec3{})
	if n != (Vec3{}) {
		t.Errorf("Expected zero vector, got %+v", n)
	}
}

func TestExtrapolate(t *testing.T) {
	p := Extrapolate(Vec3{10, 0, 0}, Vec3{5, 0, -2}, 2)
	want := Vec3{20, 0, -4}
	if p != want {
		t.Errorf("Expected %+v, got %+v", want, p)
	}
}

func TestAABBContains(t *testing.T) {
	b := AABB{Center: Vec3{50, 0, 0}, Extents: Vec3{5, 5, 5}}

	if !b.Contains(Vec3{50, 0, 0}) {
		t.Error("Center must be contained")
	}
	if !b.Contains(Vec3{55, 5, -5}) {
		t.Error("Boundary points must be contained")
	}
	if b.Contains(Vec3{55.1, 0, 0}) {
		t.Error("Point outside X extent must not be contained")
	}
}

func TestAABBDistanceTo(t *testing.T) {
	b := AABB{Center: Vec3{0, 0, 0}, Extents: Vec3{1, 1, 1}}

	if d := b.DistanceTo(Vec3{0.5, 0, 0}); d != 0 {
		t.Errorf("Expected 0 distance for inside point, got %f", d)
	}
	if d := b.DistanceTo(Vec3{4, 0, 0}); d != 3 {
		t.Errorf("Expected distance 3, got %f", d)
	}
}

func TestBoundingSphere(t *testing.T) {
	b := AABB{Center: Vec3{1, 2, 3}, Extents: Vec3{3, 4, 0}}
	s := b.BoundingSphere()

	if s.Center != b.Center {
		t.Errorf("Sphere center must match box center, got %+v", s.Center)
	}
	if s.Radius != 5 {
		t.Errorf("Expected radius 5, got %f", s.Radius)
	}
}

func TestInViewCone(t *testing.T) {
	forward := Vec3{1, 0, 0}
	halfAngle := 45 * math.Pi / 180

	ahead := Sphere{Center: Vec3{100, 0, 0}, Radius: 5}
	if !ahead.InViewCone(Vec3{}, forward, halfAngle) {
		t.Error("Sphere directly ahead must be visible")
	}

	behind := Sphere{Center: Vec3{-100, 0, 0}, Radius: 5}
	if behind.InViewCone(Vec3{}, forward, halfAngle) {
		t.Error("Sphere behind the viewer must not be visible")
	}

	// Just outside the cone but the angular radius pulls it in
	grazing := Sphere{Center: Vec3{10, 10.5, 0}, Radius: 2}
	if !grazing.InViewCone(Vec3{}, forward, halfAngle) {
		t.Error("Sphere grazing the cone edge must be visible")
	}

	// Containing the origin is always visible
	engulfing := Sphere{Center: Vec3{-1, 0, 0}, Radius: 2}
	if !engulfing.InViewCone(Vec3{}, forward, halfAngle) {
		t.Error("Sphere containing the viewer must be visible")
	}
}

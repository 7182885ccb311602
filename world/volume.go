package world

import "github.com/driftworks/levelstream/vmath"

// Volume is a trigger region that loads/unloads fixed tile sets on containment edges
//
// viewerInside persists between ticks to drive edge detection; it is touched
// only from the single update tick, so it carries no lock
type Volume struct {
	Name        string
	Bounds      vmath.AABB
	LoadTiles   []string
	UnloadTiles []string
	Active      bool

	viewerInside bool
}

// UpdateContainment records this tick's containment and reports edge crossings
// Remaining continuously inside or outside reports neither
func (v *Volume) UpdateContainment(p vmath.Vec3) (entered, exited bool) {
	inside := v.Active && v.Bounds.Contains(p)
	entered = inside && !v.viewerInside
	exited = !inside && v.viewerInside
	v.viewerInside = inside
	return entered, exited
}

// ViewerInside reports the containment state from the last update
func (v *Volume) ViewerInside() bool {
	return v.viewerInside
}

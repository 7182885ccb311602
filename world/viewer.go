package world

import "github.com/driftworks/levelstream/vmath"

// Viewer is the streaming observer (camera or player) for one tick
// Ephemeral value: overwritten every update, never retained across ticks
type Viewer struct {
	Position   vmath.Vec3
	Velocity   vmath.Vec3
	Forward    vmath.Vec3
	FOVDegrees float64
}

// PredictedPosition extrapolates the viewer along its velocity for dt seconds
func (v Viewer) PredictedPosition(dt float64) vmath.Vec3 {
	return vmath.Extrapolate(v.Position, v.Velocity, dt)
}

package stream

import (
	"time"

	"github.com/driftworks/levelstream/world"
)

// lodManager selects the target level of detail per tile with time hysteresis
//
// Runs only on the scheduler tick, so it carries no locks. A newly computed
// target must hold for hysteresisTime before it is committed, preventing
// oscillation when the viewer hovers near an LOD boundary
type lodManager struct {
	enabled    bool
	bias       float64
	hysteresis time.Duration
	clock      Clock

	pending map[string]lodPending
}

type lodPending struct {
	target int
	since  time.Time
}

func newLODManager(cfg Config) *lodManager {
	return &lodManager{
		enabled:    cfg.EnableLOD,
		bias:       cfg.LODBias,
		hysteresis: cfg.HysteresisTime,
		clock:      cfg.clock(),
		pending:    make(map[string]lodPending),
	}
}

// lodTarget returns the smallest index whose threshold exceeds dist
// Falling off the end means "lowest detail" (index == len(distances))
func lodTarget(distances []float64, dist float64) int {
	for i, d := range distances {
		if dist < d {
			return i
		}
	}
	return len(distances)
}

// update recomputes the LOD target for a Loaded tile and commits it once stable
// Failed and unloaded tiles are excluded from LOD selection
func (m *lodManager) update(tile *world.Tile, dist float64) {
	if !m.enabled || len(tile.LODDistances) == 0 {
		return
	}
	if tile.State() != world.StateLoaded {
		delete(m.pending, tile.Name)
		return
	}

	target := lodTarget(tile.LODDistances, dist*m.bias)
	if target == tile.LOD() {
		delete(m.pending, tile.Name)
		return
	}

	now := m.clock.Now()
	p, ok := m.pending[tile.Name]
	if !ok || p.target != target {
		m.pending[tile.Name] = lodPending{target: target, since: now}
		return
	}
	if now.Sub(p.since) >= m.hysteresis {
		tile.SetLOD(target)
		delete(m.pending, tile.Name)
	}
}

// forget drops pending state when a tile leaves the Loaded state
func (m *lodManager) forget(name string) {
	delete(m.pending, name)
}

package stream

import (
	"sort"
	"sync/atomic"

	"github.com/driftworks/levelstream/status"
	"github.com/driftworks/levelstream/vmath"
	"github.com/driftworks/levelstream/world"
)

// budgetManager tracks aggregate memory of Loaded tiles
//
// Workers add on load commit and subtract when a tile leaves Loaded; the
// scheduler reads the running total every tick. Exceeding the soft limit
// triggers eviction; exceeding the hard budget defers new loads (backpressure,
// never an error)
type budgetManager struct {
	soft int64
	hard int64

	loaded atomic.Int64
	peak   atomic.Int64
}

func newBudgetManager(cfg Config) *budgetManager {
	return &budgetManager{soft: cfg.SoftMemoryLimit, hard: cfg.MaxMemoryBudget}
}

// add accounts bytes for a tile that just reached Loaded
func (b *budgetManager) add(bytes int64) {
	total := b.loaded.Add(bytes)
	status.StoreMax(&b.peak, total)
}

// sub releases bytes for a tile that left Loaded
func (b *budgetManager) sub(bytes int64) {
	b.loaded.Add(-bytes)
}

// current returns the running total over Loaded tiles
func (b *budgetManager) current() int64 {
	return b.loaded.Load()
}

// peakBytes returns the highest total observed this session
func (b *budgetManager) peakBytes() int64 {
	return b.peak.Load()
}

// overSoft reports whether eviction should run
func (b *budgetManager) overSoft() bool {
	return b.loaded.Load() > b.soft
}

// overHard reports whether new loads must be deferred
func (b *budgetManager) overHard() bool {
	return b.loaded.Load() > b.hard
}

// headroomFraction returns remaining hard-budget headroom in [0,1]
// Used by priority-based streaming to damp load priority under pressure
func (b *budgetManager) headroomFraction() float64 {
	if b.hard <= 0 {
		return 1
	}
	free := b.hard - b.loaded.Load()
	if free <= 0 {
		return 0
	}
	return float64(free) / float64(b.hard)
}

// evictionCandidate pairs a tile with its frozen sort keys for one pass
type evictionCandidate struct {
	tile     *world.Tile
	bytes    int64
	distance float64
}

// selectEvictions orders evictable tiles and returns the prefix whose removal
// brings the projected total back under the soft limit
//
// Evictable: Loaded, not alwaysLoaded, no operation in flight. Order:
// ascending priority, then descending viewer distance (farthest, least
// important first). Returns nil when every evictable tile is exhausted first
func (b *budgetManager) selectEvictions(tiles []*world.Tile, viewerPos vmath.Vec3) []*world.Tile {
	if !b.overSoft() {
		return nil
	}

	var candidates []evictionCandidate
	for _, t := range tiles {
		if t.AlwaysLoaded || t.OpInFlight() || t.State() != world.StateLoaded {
			continue
		}
		candidates = append(candidates, evictionCandidate{
			tile:     t,
			bytes:    t.Memory(),
			distance: t.DistanceTo(viewerPos),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].tile.Priority != candidates[j].tile.Priority {
			return candidates[i].tile.Priority < candidates[j].tile.Priority
		}
		return candidates[i].distance > candidates[j].distance
	})

	projected := b.current()
	var out []*world.Tile
	for _, c := range candidates {
		if projected <= b.soft {
			break
		}
		out = append(out, c.tile)
		projected -= c.bytes
	}
	return out
}

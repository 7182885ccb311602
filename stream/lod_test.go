package stream

import (
	"testing"
	"time"

	"github.com/driftworks/levelstream/vmath"
	"github.com/driftworks/levelstream/world"
)

func loadedLODTile(t *testing.T, distances []float64) *world.Tile {
	t.Helper()
	tile := streamTile("lod", vmath.Vec3{}, 100, 150)
	tile.LODDistances = distances
	if err := tile.Transition(world.StateLoading); err != nil {
		t.Fatal(err)
	}
	if err := tile.MarkLoaded(100); err != nil {
		t.Fatal(err)
	}
	return tile
}

func TestLODTargetSelection(t *testing.T) {
	distances := []float64{50, 100, 200}
	cases := []struct {
		dist float64
		want int
	}{
		{0, 0},
		{49.9, 0},
		{50, 1},
		{99, 1},
		{150, 2},
		{200, 3}, // beyond the last threshold: lowest detail
		{1000, 3},
	}
	for _, c := range cases {
		if got := lodTarget(distances, c.dist); got != c.want {
			t.Errorf("lodTarget(%.1f) = %d, want %d", c.dist, got, c.want)
		}
	}
}

func TestLODHysteresisDelaysCommit(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	cfg := syncConfig(clock)
	cfg.HysteresisTime = 100 * time.Millisecond
	m := newLODManager(cfg)

	tile := loadedLODTile(t, []float64{50, 100})

	// Move to distance 80: target level 1, but not yet stable
	m.update(tile, 80)
	if tile.LOD() != 0 {
		t.Fatalf("LOD committed immediately, want hysteresis delay")
	}

	clock.Advance(50 * time.Millisecond)
	m.update(tile, 80)
	if tile.LOD() != 0 {
		t.Fatal("LOD committed before hysteresis elapsed")
	}

	clock.Advance(60 * time.Millisecond)
	m.update(tile, 80)
	if tile.LOD() != 1 {
		t.Fatalf("LOD = %d after stable period, want 1", tile.LOD())
	}
}

func TestLODOscillationSuppressed(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	cfg := syncConfig(clock)
	cfg.HysteresisTime = 100 * time.Millisecond
	m := newLODManager(cfg)

	tile := loadedLODTile(t, []float64{50})

	// Hover across the boundary: the target never holds long enough
	for i := 0; i < 20; i++ {
		dist := 49.0
		if i%2 == 1 {
			dist = 51.0
		}
		m.update(tile, dist)
		clock.Advance(30 * time.Millisecond)
	}
	if tile.LOD() != 0 {
		t.Errorf("LOD = %d after oscillation, want 0", tile.LOD())
	}
}

func TestLODBiasScalesDistance(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	cfg := syncConfig(clock)
	cfg.HysteresisTime = time.Millisecond
	cfg.LODBias = 2.0
	m := newLODManager(cfg)

	tile := loadedLODTile(t, []float64{50, 100})

	// Actual distance 30, biased to 60: selects level 1 instead of 0
	m.update(tile, 30)
	clock.Advance(2 * time.Millisecond)
	m.update(tile, 30)
	if tile.LOD() != 1 {
		t.Errorf("biased LOD = %d, want 1", tile.LOD())
	}
}

func TestLODDisabled(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	cfg := syncConfig(clock)
	cfg.EnableLOD = false
	cfg.HysteresisTime = time.Millisecond
	m := newLODManager(cfg)

	tile := loadedLODTile(t, []float64{50})
	m.update(tile, 500)
	clock.Advance(time.Second)
	m.update(tile, 500)
	if tile.LOD() != 0 {
		t.Errorf("LOD moved while disabled: %d", tile.LOD())
	}
}

func TestLODIgnoresUnloadedTile(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	cfg := syncConfig(clock)
	cfg.HysteresisTime = time.Millisecond
	m := newLODManager(cfg)

	tile := streamTile("cold", vmath.Vec3{}, 100, 150)
	tile.LODDistances = []float64{50}

	m.update(tile, 500)
	clock.Advance(time.Second)
	m.update(tile, 500)
	if tile.LOD() != 0 {
		t.Errorf("LOD selected for unloaded tile: %d", tile.LOD())
	}
}

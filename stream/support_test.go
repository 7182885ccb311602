package stream

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/driftworks/levelstream/vmath"
	"github.com/driftworks/levelstream/world"
)

// fakeLoader is a controllable AssetLoader for tests
// Per-tile gates block a load mid-flight; per-tile failure budgets inject errors
type fakeLoader struct {
	mu       sync.Mutex
	sizes    map[string]int64
	failures map[string]int
	badUnld  map[string]bool
	gates    map[string]chan struct{}

	loadStarted atomic.Int64
	loads       atomic.Int64
	unloads     atomic.Int64
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{
		sizes:    make(map[string]int64),
		failures: make(map[string]int),
		badUnld:  make(map[string]bool),
		gates:    make(map[string]chan struct{}),
	}
}

func (l *fakeLoader) setSize(name string, bytes int64) {
	l.mu.Lock()
	l.sizes[name] = bytes
	l.mu.Unlock()
}

// failNext makes the next n loads of name fail
func (l *fakeLoader) failNext(name string, n int) {
	l.mu.Lock()
	l.failures[name] = n
	l.mu.Unlock()
}

func (l *fakeLoader) failUnload(name string) {
	l.mu.Lock()
	l.badUnld[name] = true
	l.mu.Unlock()
}

// gate makes loads of name block until the returned channel is closed
func (l *fakeLoader) gate(name string) chan struct{} {
	ch := make(chan struct{})
	l.mu.Lock()
	l.gates[name] = ch
	l.mu.Unlock()
	return ch
}

func (l *fakeLoader) LoadTileSync(name string) (int64, error) {
	l.loadStarted.Add(1)

	l.mu.Lock()
	gate := l.gates[name]
	l.mu.Unlock()
	if gate != nil {
		<-gate
	}

	l.mu.Lock()
	if n := l.failures[name]; n > 0 {
		l.failures[name] = n - 1
		l.mu.Unlock()
		return 0, fmt.Errorf("injected load failure for %s", name)
	}
	size, ok := l.sizes[name]
	l.mu.Unlock()
	if !ok {
		size = 100
	}

	l.loads.Add(1)
	return size, nil
}

func (l *fakeLoader) UnloadTileSync(name string) error {
	l.mu.Lock()
	bad := l.badUnld[name]
	l.mu.Unlock()
	if bad {
		return fmt.Errorf("injected unload failure for %s", name)
	}
	l.unloads.Add(1)
	return nil
}

// fakeRenderer counts lifecycle notifications
type fakeRenderer struct {
	loaded   atomic.Int64
	unloaded atomic.Int64
}

func (r *fakeRenderer) OnTileLoaded(string)   { r.loaded.Add(1) }
func (r *fakeRenderer) OnTileUnloaded(string) { r.unloaded.Add(1) }

// streamTile builds a distance-method tile centered at c
func streamTile(name string, c vmath.Vec3, streamDist, unloadDist float64) *world.Tile {
	return &world.Tile{
		Name:              name,
		Bounds:            vmath.AABB{Center: c, Extents: vmath.Vec3{X: 10, Y: 10, Z: 10}},
		Method:            world.MethodDistance,
		StreamingDistance: streamDist,
		UnloadingDistance: unloadDist,
	}
}

// manualTile builds a tile the scheduler never moves on its own
func manualTile(name string) *world.Tile {
	return &world.Tile{
		Name:              name,
		Bounds:            vmath.AABB{Center: vmath.Vec3{X: 1e6}, Extents: vmath.Vec3{X: 10, Y: 10, Z: 10}},
		Method:            world.MethodManual,
		StreamingDistance: 100,
		UnloadingDistance: 150,
	}
}

func buildWorld(t *testing.T, tiles ...*world.Tile) *world.Registry {
	t.Helper()
	reg := world.NewRegistry()
	for _, tile := range tiles {
		if err := reg.AddTile(tile); err != nil {
			t.Fatalf("AddTile(%s): %v", tile.Name, err)
		}
	}
	return reg
}

// syncConfig builds a foreground-mode config with fast pipeline delays
func syncConfig(clock Clock) Config {
	cfg := DefaultConfig()
	cfg.LoadInBackground = false
	cfg.RequeueDelay = time.Millisecond
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = 4 * time.Millisecond
	cfg.Clock = clock
	return cfg
}

// backgroundConfig builds a worker-pool config with fast pipeline delays
func backgroundConfig(workers int) Config {
	cfg := DefaultConfig()
	cfg.MaxConcurrentLoads = workers
	cfg.RequeueDelay = time.Millisecond
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = 4 * time.Millisecond
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

func startSystem(t *testing.T, cfg Config, reg *world.Registry, loader AssetLoader) *System {
	t.Helper()
	s := New(cfg, reg, loader, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

// waitFor polls cond until it holds or the deadline expires
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not reached within %s: %s", timeout, msg)
}

func tileState(t *testing.T, s *System, name string) world.TileState {
	t.Helper()
	info, ok := s.GetTile(name)
	if !ok {
		t.Fatalf("tile %s not found", name)
	}
	return info.State
}

func viewerAt(x, y, z float64) world.Viewer {
	return world.Viewer{Position: vmath.Vec3{X: x, Y: y, Z: z}, Forward: vmath.Vec3{X: 1}, FOVDegrees: 90}
}

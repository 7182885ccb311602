package stream

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/driftworks/levelstream/vmath"
	"github.com/driftworks/levelstream/world"
)

func TestStartValidatesWorld(t *testing.T) {
	broken := manualTile("broken")
	broken.Dependencies = []string{"ghost"}
	reg := buildWorld(t, broken)

	s := New(backgroundConfig(1), reg, newFakeLoader(), nil)
	if err := s.Start(); err == nil {
		t.Fatal("Start accepted a world with a missing dependency")
	}
	if err := s.RequestTileLoad("broken"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("request on unstarted system: %v, want ErrNotRunning", err)
	}
}

func TestStartRejectsSecondStart(t *testing.T) {
	reg := buildWorld(t, manualTile("a"))
	s := startSystem(t, backgroundConfig(1), reg, newFakeLoader())

	if err := s.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start: %v, want ErrAlreadyRunning", err)
	}
}

func TestStopIsIdempotentAndFinal(t *testing.T) {
	reg := buildWorld(t, manualTile("a"))
	s := startSystem(t, backgroundConfig(1), reg, newFakeLoader())

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if err := s.RequestTileLoad("a"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("request after Stop: %v, want ErrNotRunning", err)
	}
}

func TestBackgroundWorkersLoadTiles(t *testing.T) {
	loader := newFakeLoader()
	reg := buildWorld(t, streamTile("a", vmath.Vec3{X: 50}, 100, 150))
	s := startSystem(t, backgroundConfig(2), reg, loader)

	s.Update(viewerAt(0, 0, 0))
	waitFor(t, time.Second, func() bool {
		return tileState(t, s, "a") == world.StateLoaded
	}, "worker completes the load")

	if got := s.Statistics().LoadsCompleted; got != 1 {
		t.Errorf("LoadsCompleted = %d, want 1", got)
	}

	// State counts refresh on the tick following the load
	s.Update(viewerAt(0, 0, 0))
	if got := s.Statistics().LoadedTiles; got != 1 {
		t.Errorf("LoadedTiles = %d, want 1", got)
	}
}

func TestRendererReceivesLifecycleNotifications(t *testing.T) {
	loader := newFakeLoader()
	renderer := &fakeRenderer{}
	reg := buildWorld(t, manualTile("a"))

	s := New(syncConfig(nil), reg, loader, renderer)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })

	if err := s.RequestTileLoad("a"); err != nil {
		t.Fatal(err)
	}
	if err := s.RequestTileUnload("a"); err != nil {
		t.Fatal(err)
	}
	if renderer.loaded.Load() != 1 || renderer.unloaded.Load() != 1 {
		t.Errorf("renderer notifications = %d/%d, want 1/1",
			renderer.loaded.Load(), renderer.unloaded.Load())
	}
}

func TestLoadTileBlocking(t *testing.T) {
	loader := newFakeLoader()
	loader.setSize("vault", 4096)
	reg := buildWorld(t, manualTile("vault"))
	s := startSystem(t, backgroundConfig(2), reg, loader)

	if err := s.LoadTileBlocking("vault", time.Second); err != nil {
		t.Fatalf("LoadTileBlocking: %v", err)
	}
	if got := tileState(t, s, "vault"); got != world.StateLoaded {
		t.Fatalf("state after blocking load = %s", got)
	}
	info, _ := s.GetTile("vault")
	if info.MemoryBytes != 4096 {
		t.Errorf("MemoryBytes = %d, want 4096", info.MemoryBytes)
	}
}

func TestLoadTileBlockingTimeout(t *testing.T) {
	loader := newFakeLoader()
	blocker, target := manualTile("blocker"), manualTile("target")
	reg := buildWorld(t, blocker, target)
	s := startSystem(t, backgroundConfig(1), reg, loader)

	// Occupy the only worker so the blocking request stays queued
	gate := loader.gate("blocker")
	defer close(gate)
	if err := s.RequestTileLoad("blocker"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool {
		return loader.loadStarted.Load() == 1
	}, "worker claims the blocker")

	err := s.LoadTileBlocking("target", 20*time.Millisecond)
	if !errors.Is(err, ErrLoadTimeout) {
		t.Fatalf("err = %v, want ErrLoadTimeout", err)
	}
	if got := tileState(t, s, "target"); got != world.StateUnloaded {
		t.Errorf("timed-out target = %s, want Unloaded", got)
	}
}

func TestStaleQueuedRequestCancelled(t *testing.T) {
	loader := newFakeLoader()
	blocker := manualTile("blocker")
	a := streamTile("a", vmath.Vec3{X: 50}, 100, 150)
	reg := buildWorld(t, blocker, a)
	s := startSystem(t, backgroundConfig(1), reg, loader)

	gate := loader.gate("blocker")
	defer close(gate)
	if err := s.RequestTileLoad("blocker"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool {
		return loader.loadStarted.Load() == 1
	}, "worker claims the blocker")

	// Desire appears, then reverts before any worker is free
	s.Update(viewerAt(0, 0, 0))
	s.Update(viewerAt(300, 0, 0))

	if got := tileState(t, s, "a"); got != world.StateUnloaded {
		t.Fatalf("cancelled request touched the tile: %s", got)
	}
	if stats := s.Statistics(); stats.RequestsCancelled != 1 {
		t.Errorf("RequestsCancelled = %d, want 1", stats.RequestsCancelled)
	}
}

func TestReversalDeferredBehindInFlightLoad(t *testing.T) {
	loader := newFakeLoader()
	a := streamTile("a", vmath.Vec3{X: 50}, 100, 150)
	reg := buildWorld(t, a)
	s := startSystem(t, backgroundConfig(1), reg, loader)

	gate := loader.gate("a")
	s.Update(viewerAt(0, 0, 0))
	waitFor(t, time.Second, func() bool {
		return loader.loadStarted.Load() == 1
	}, "load in flight")

	// The viewer leaves while the load is mid-flight: the unload is parked,
	// never raced against the loader
	s.Update(viewerAt(300, 0, 0))
	close(gate)

	waitFor(t, time.Second, func() bool {
		return tileState(t, s, "a") == world.StateUnloaded
	}, "deferred unload runs after the load completes")

	if loader.loads.Load() != 1 || loader.unloads.Load() != 1 {
		t.Errorf("loader calls = %d/%d, want 1/1", loader.loads.Load(), loader.unloads.Load())
	}
}

func TestRetryWithBackoffEventuallyLoads(t *testing.T) {
	loader := newFakeLoader()
	loader.failNext("a", 2)
	reg := buildWorld(t, manualTile("a"))

	cfg := backgroundConfig(1)
	cfg.MaxRetries = 3
	s := startSystem(t, cfg, reg, loader)

	if err := s.RequestTileLoad("a"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool {
		return tileState(t, s, "a") == world.StateLoaded
	}, "load succeeds after transient failures")

	stats := s.Statistics()
	if stats.LoadsFailed != 2 {
		t.Errorf("LoadsFailed = %d, want 2", stats.LoadsFailed)
	}
	info, _ := s.GetTile("a")
	if info.Retries != 0 {
		t.Errorf("retries after success = %d, want 0", info.Retries)
	}
}

func TestFailureBecomesTerminalAfterMaxRetries(t *testing.T) {
	loader := newFakeLoader()
	loader.failNext("a", 3)
	reg := buildWorld(t, manualTile("a"))

	cfg := backgroundConfig(1)
	cfg.MaxRetries = 2
	s := startSystem(t, cfg, reg, loader)

	if err := s.RequestTileLoad("a"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool {
		return s.Statistics().LoadsFailed == 3
	}, "retry budget exhausted")

	// No fourth attempt arrives on its own
	time.Sleep(20 * time.Millisecond)
	if got := tileState(t, s, "a"); got != world.StateFailed {
		t.Fatalf("state = %s, want Failed", got)
	}
	info, _ := s.GetTile("a")
	if info.ErrorMessage == "" {
		t.Error("failed tile carries no error message")
	}

	// Manual retry clears the budget; the loader now succeeds
	if err := s.RetryFailedTile("a"); err != nil {
		t.Fatalf("RetryFailedTile: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		return tileState(t, s, "a") == world.StateLoaded
	}, "manual retry recovers the tile")
}

func TestRetryFailedTileRejectsHealthyTile(t *testing.T) {
	reg := buildWorld(t, manualTile("a"))
	s := startSystem(t, backgroundConfig(1), reg, newFakeLoader())

	if err := s.RetryFailedTile("a"); !errors.Is(err, ErrTileNotFailed) {
		t.Errorf("err = %v, want ErrTileNotFailed", err)
	}
}

func TestUnloadFailureIsTerminal(t *testing.T) {
	loader := newFakeLoader()
	loader.failUnload("a")
	reg := buildWorld(t, manualTile("a"))
	s := startSystem(t, syncConfig(nil), reg, loader)

	if err := s.RequestTileLoad("a"); err != nil {
		t.Fatal(err)
	}
	if err := s.RequestTileUnload("a"); err != nil {
		t.Fatal(err)
	}

	if got := tileState(t, s, "a"); got != world.StateFailed {
		t.Fatalf("state after failed unload = %s, want Failed", got)
	}
	stats := s.Statistics()
	if stats.UnloadsFailed != 1 {
		t.Errorf("UnloadsFailed = %d, want 1", stats.UnloadsFailed)
	}
	// Memory was released when the tile left Loaded
	s.Update(viewerAt(0, 0, 0))
	if mem := s.Statistics().CurrentMemory; mem != 0 {
		t.Errorf("CurrentMemory = %d, want 0", mem)
	}
}

func TestLoadTileImmediateLoadsDependencyChain(t *testing.T) {
	loader := newFakeLoader()
	base, mid, top := manualTile("base"), manualTile("mid"), manualTile("top")
	mid.Dependencies = []string{"base"}
	top.Dependencies = []string{"mid"}
	reg := buildWorld(t, base, mid, top)
	s := startSystem(t, backgroundConfig(2), reg, loader)

	if err := s.LoadTileImmediate("top"); err != nil {
		t.Fatalf("LoadTileImmediate: %v", err)
	}
	for _, name := range []string{"base", "mid", "top"} {
		if got := tileState(t, s, name); got != world.StateLoaded {
			t.Errorf("%s = %s, want Loaded", name, got)
		}
	}
}

func TestLoadTileImmediateUnknownTile(t *testing.T) {
	reg := buildWorld(t, manualTile("a"))
	s := startSystem(t, backgroundConfig(1), reg, newFakeLoader())

	if err := s.LoadTileImmediate("ghost"); !errors.Is(err, world.ErrTileNotFound) {
		t.Errorf("err = %v, want ErrTileNotFound", err)
	}
}

func TestBlockingLoadRejectedOnWorkerGoroutine(t *testing.T) {
	loader := newFakeLoader()
	reg := buildWorld(t, manualTile("a"), manualTile("b"))
	s := startSystem(t, backgroundConfig(1), reg, loader)

	errCh := make(chan error, 1)
	var once sync.Once
	s.RegisterCompletionCallback(func(tile string, op Operation, err error) {
		once.Do(func() {
			errCh <- s.LoadTileBlocking("b", time.Second)
		})
	})

	if err := s.RequestTileLoad("a"); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrBlockingFromWorker) {
			t.Errorf("err = %v, want ErrBlockingFromWorker", err)
		}
	case <-time.After(time.Second):
		t.Fatal("callback never ran")
	}
}

func TestCompletionCallbackObservesResults(t *testing.T) {
	loader := newFakeLoader()
	reg := buildWorld(t, manualTile("a"))
	s := startSystem(t, syncConfig(nil), reg, loader)

	type result struct {
		tile string
		op   Operation
		err  error
	}
	var mu sync.Mutex
	var results []result
	s.RegisterCompletionCallback(func(tile string, op Operation, err error) {
		mu.Lock()
		results = append(results, result{tile, op, err})
		mu.Unlock()
	})

	if err := s.RequestTileLoad("a"); err != nil {
		t.Fatal(err)
	}
	if err := s.RequestTileUnload("a"); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(results) != 2 {
		t.Fatalf("callbacks = %d, want 2", len(results))
	}
	if results[0].op != OpLoad || results[0].err != nil {
		t.Errorf("first callback = %+v", results[0])
	}
	if results[1].op != OpUnload || results[1].err != nil {
		t.Errorf("second callback = %+v", results[1])
	}
}

func TestBudgetBackpressureDefersLoad(t *testing.T) {
	loader := newFakeLoader()
	loader.setSize("big", 400)
	big, late := manualTile("big"), manualTile("late")
	reg := buildWorld(t, big, late)

	cfg := syncConfig(nil)
	cfg.SoftMemoryLimit = 300
	cfg.MaxMemoryBudget = 300
	s := startSystem(t, cfg, reg, loader)

	if err := s.RequestTileLoad("big"); err != nil {
		t.Fatal(err)
	}
	// 400 bytes resident against a 300-byte budget: the next load defers
	if err := s.RequestTileLoad("late"); err != nil {
		t.Fatal(err)
	}
	if got := tileState(t, s, "late"); got != world.StateUnloaded {
		t.Fatalf("late = %s, want Unloaded (deferred)", got)
	}
	if stats := s.Statistics(); stats.BudgetDeferrals == 0 {
		t.Error("BudgetDeferrals not counted")
	}

	// Evicting the oversized tile frees the budget; the deferred load lands
	if err := s.RequestTileUnload("big"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool {
		s.Update(viewerAt(0, 0, 0))
		return tileState(t, s, "late") == world.StateLoaded
	}, "deferred load proceeds once memory frees")
}

func TestStatisticsSnapshot(t *testing.T) {
	loader := newFakeLoader()
	loader.setSize("a", 1000)
	loader.setSize("b", 500)
	reg := buildWorld(t, manualTile("a"), manualTile("b"))
	s := startSystem(t, syncConfig(nil), reg, loader)

	for _, name := range []string{"a", "b"} {
		if err := s.RequestTileLoad(name); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.RequestTileUnload("b"); err != nil {
		t.Fatal(err)
	}
	s.Update(viewerAt(0, 0, 0))

	stats := s.Statistics()
	if stats.TotalTiles != 2 || stats.LoadedTiles != 1 {
		t.Errorf("tiles = %d/%d loaded, want 2/1", stats.TotalTiles, stats.LoadedTiles)
	}
	if stats.LoadsCompleted != 2 || stats.UnloadsCompleted != 1 {
		t.Errorf("ops = %d loads, %d unloads, want 2/1", stats.LoadsCompleted, stats.UnloadsCompleted)
	}
	if stats.CurrentMemory != 1000 || stats.PeakMemory != 1500 {
		t.Errorf("memory = %d current, %d peak, want 1000/1500", stats.CurrentMemory, stats.PeakMemory)
	}
}

package stream

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/driftworks/levelstream/event"
	"github.com/driftworks/levelstream/parameter"
	"github.com/driftworks/levelstream/status"
	"github.com/driftworks/levelstream/vmath"
	"github.com/driftworks/levelstream/world"
)

// CompletionCallback observes terminal results of load/unload operations
// Invoked from worker goroutines after the tile's state is committed;
// callbacks must not block and must never issue blocking loads
type CompletionCallback func(tile string, op Operation, err error)

// System is the level streaming core for one open world
//
// One explicitly owned instance per world: construct on world open, Stop on
// world close. The single update goroutine drives Update each tick; the
// worker pool is the only other context that mutates tile state
type System struct {
	cfg      Config
	reg      *world.Registry
	loader   AssetLoader
	renderer Renderer
	log      *slog.Logger
	clock    Clock

	queue   *loadingQueue
	pool    *workerPool
	budget  *budgetManager
	lod     *lodManager
	ops     *opTracker
	stats   *statsCollector
	events  *event.Queue
	metrics *status.Registry

	running atomic.Bool
	paused  atomic.Bool

	// tickCursor resumes the scheduling walk where the frame budget cut it
	// off, so tiles late in insertion order still get scheduled under
	// sustained budget exhaustion. Touched only by the update goroutine
	tickCursor int

	// drainMu serializes foreground (LoadInBackground=false) execution
	drainMu sync.Mutex

	// depMu orders dependency-readiness checks against the opposite
	// transition so a load and an unload on two ends of a dependency edge
	// can never both pass their guards
	depMu sync.Mutex

	cbMu      sync.Mutex
	callbacks []CompletionCallback
}

// New builds a streaming system over an already-populated registry
// A nil renderer is replaced with NopRenderer
func New(cfg Config, reg *world.Registry, loader AssetLoader, renderer Renderer) *System {
	cfg.Sanitize()
	if renderer == nil {
		renderer = NopRenderer{}
	}

	metrics := status.NewRegistry()
	s := &System{
		cfg:      cfg,
		reg:      reg,
		loader:   loader,
		renderer: renderer,
		log:      cfg.logger(),
		clock:    cfg.clock(),
		queue:    newLoadingQueue(),
		budget:   newBudgetManager(cfg),
		lod:      newLODManager(cfg),
		ops:      newOpTracker(),
		stats:    newStatsCollector(metrics),
		events:   event.NewQueue(),
		metrics:  metrics,
	}
	s.pool = newWorkerPool(cfg.MaxConcurrentLoads, s.queue, s.execute)
	return s
}

// Start validates the world and begins streaming
// Structural problems (cycles, missing dependency targets) refuse the start.
// The lifecycle is one-shot: a stopped system is not restartable
func (s *System) Start() error {
	if res := s.reg.Validate(); !res.OK() {
		return res.Err()
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	if s.cfg.LoadInBackground {
		s.pool.start()
	}

	// alwaysLoaded tiles become resident ahead of any viewer movement
	for _, tile := range s.reg.Tiles() {
		if tile.AlwaysLoaded {
			_ = s.request(tile, OpLoad, tile.Priority+parameter.TriggerPriorityBoost, nil, true)
		}
	}

	s.log.Info("streaming started",
		"tiles", s.reg.Count(),
		"workers", s.cfg.MaxConcurrentLoads,
		"background", s.cfg.LoadInBackground)
	return nil
}

// Stop drains the queue, cancels pending requests, and joins the worker pool
// Pending (unclaimed) requests are abandoned; in-flight operations finish.
// Returns ErrShutdownTimeout if workers outlive the configured bound
func (s *System) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	pending := s.queue.close()
	for _, req := range pending {
		s.reportShutdown(req)
	}
	s.log.Info("streaming stopping", "cancelled", len(pending))

	if s.cfg.LoadInBackground && !s.pool.join(s.cfg.ShutdownTimeout) {
		s.log.Error("worker pool did not drain", "timeout", s.cfg.ShutdownTimeout)
		return ErrShutdownTimeout
	}
	return nil
}

// Pause suspends scheduling; in-flight operations still complete
func (s *System) Pause() {
	if s.paused.CompareAndSwap(false, true) {
		s.log.Info("streaming paused")
	}
}

// Resume re-enables scheduling after Pause
func (s *System) Resume() {
	if s.paused.CompareAndSwap(true, false) {
		s.log.Info("streaming resumed")
	}
}

// Paused reports whether scheduling is suspended
func (s *System) Paused() bool {
	return s.paused.Load()
}

// Update runs one scheduling tick against the viewer's current state
// Single-threaded by contract: never call concurrently with itself
func (s *System) Update(v world.Viewer) {
	if !s.running.Load() || s.paused.Load() {
		return
	}
	s.tick(v)
	if !s.cfg.LoadInBackground {
		s.drainInline()
	}
}

// RequestTileLoad explicitly requests a tile load (Manual streaming method,
// editor actions). Requesting an already-Loaded tile succeeds without work
func (s *System) RequestTileLoad(name string) error {
	tile, ok := s.reg.GetTile(name)
	if !ok {
		return fmt.Errorf("%w: %s", world.ErrTileNotFound, name)
	}
	return s.request(tile, OpLoad, tile.Priority, nil, false)
}

// RequestTileUnload explicitly requests a tile unload
func (s *System) RequestTileUnload(name string) error {
	tile, ok := s.reg.GetTile(name)
	if !ok {
		return fmt.Errorf("%w: %s", world.ErrTileNotFound, name)
	}
	return s.request(tile, OpUnload, tile.Priority, nil, false)
}

// LoadTileImmediate performs the load synchronously on the calling goroutine,
// bypassing the queue. Dependencies load first, depth-first. Hard-budget
// backpressure does not apply: an immediate load is explicit intent.
// Must never be called from a worker goroutine
func (s *System) LoadTileImmediate(name string) error {
	if s.pool.onWorkerGoroutine() {
		return ErrBlockingFromWorker
	}
	if !s.running.Load() {
		return ErrNotRunning
	}
	return s.loadImmediate(name, make(map[string]bool))
}

// LoadTileBlocking queues a high-priority load and waits for its completion
// timeout <= 0 waits indefinitely. On timeout a still-queued request is
// cancelled; an in-flight load continues on its own.
// Must never be called from a worker goroutine (would deadlock the pool)
func (s *System) LoadTileBlocking(name string, timeout time.Duration) error {
	if s.pool.onWorkerGoroutine() {
		return ErrBlockingFromWorker
	}
	tile, ok := s.reg.GetTile(name)
	if !ok {
		return fmt.Errorf("%w: %s", world.ErrTileNotFound, name)
	}

	done := make(chan error, 1)
	if err := s.request(tile, OpLoad, tile.Priority+parameter.TriggerPriorityBoost, done, true); err != nil {
		return err
	}

	if timeout <= 0 {
		return <-done
	}
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		if req, ok := s.queue.removeByTile(name); ok {
			s.reportCancelled(req)
		}
		return fmt.Errorf("%w: %s after %s", ErrLoadTimeout, name, timeout)
	}
}

// RetryFailedTile clears the retry budget of a terminal Failed tile and
// queues a fresh load
func (s *System) RetryFailedTile(name string) error {
	tile, ok := s.reg.GetTile(name)
	if !ok {
		return fmt.Errorf("%w: %s", world.ErrTileNotFound, name)
	}
	if tile.State() != world.StateFailed {
		return fmt.Errorf("%w: %s is %s", ErrTileNotFailed, name, tile.State())
	}
	tile.ResetRetries()
	s.log.Info("manual retry", "tile", name)
	return s.request(tile, OpLoad, tile.Priority+parameter.TriggerPriorityBoost, nil, true)
}

// RegisterCompletionCallback adds an observer for operation completions
func (s *System) RegisterCompletionCallback(cb CompletionCallback) {
	s.cbMu.Lock()
	s.callbacks = append(s.callbacks, cb)
	s.cbMu.Unlock()
}

// Statistics returns a point-in-time summary for observability surfaces
func (s *System) Statistics() Statistics {
	return s.stats.snapshot(s.queue.len())
}

// Events exposes the stream event ring buffer (single consumer)
func (s *System) Events() *event.Queue {
	return s.events
}

// Metrics exposes the underlying status registry for debug overlays
func (s *System) Metrics() *status.Registry {
	return s.metrics
}

// Registry exposes the read-only tile query surface
func (s *System) Registry() *world.Registry {
	return s.reg
}

// GetTile returns a snapshot of one tile's runtime state
func (s *System) GetTile(name string) (world.TileInfo, bool) {
	tile, ok := s.reg.GetTile(name)
	if !ok {
		return world.TileInfo{}, false
	}
	return tile.Snapshot(), true
}

// GetAllTiles returns snapshots of every tile in insertion order
func (s *System) GetAllTiles() []world.TileInfo {
	tiles := s.reg.Tiles()
	out := make([]world.TileInfo, 0, len(tiles))
	for _, t := range tiles {
		out = append(out, t.Snapshot())
	}
	return out
}

// GetTilesWithinDistance returns snapshots of tiles near a point
func (s *System) GetTilesWithinDistance(p vmath.Vec3, radius float64) []world.TileInfo {
	tiles := s.reg.TilesWithinDistance(p, radius)
	out := make([]world.TileInfo, 0, len(tiles))
	for _, t := range tiles {
		out = append(out, t.Snapshot())
	}
	return out
}

// GetVisibleTiles returns snapshots of tiles in the viewer's view cone
func (s *System) GetVisibleTiles(p, forward vmath.Vec3, fovDegrees float64) []world.TileInfo {
	tiles := s.reg.VisibleTiles(p, forward, fovDegrees)
	out := make([]world.TileInfo, 0, len(tiles))
	for _, t := range tiles {
		out = append(out, t.Snapshot())
	}
	return out
}

// request routes a desired operation: idempotent fast path, in-flight
// attachment or deferral, then queue submission
func (s *System) request(tile *world.Tile, op Operation, priority int, done chan error, pinned bool) error {
	if !s.running.Load() {
		signalOne(done, ErrNotRunning)
		return ErrNotRunning
	}

	// Idempotent fast paths: no work enqueued
	state := tile.State()
	if (op == OpLoad && state == world.StateLoaded) ||
		(op == OpUnload && state == world.StateUnloaded) {
		signalOne(done, nil)
		return nil
	}

	// Never two operations in flight for one tile: attach to a matching
	// in-flight op, or park the reversal until it completes. A park or
	// attach that loses the race against completion falls back to normal
	// routing instead of leaving an orphan
	if cur, inFlight := s.ops.current(tile.Name); inFlight {
		if cur == op {
			if done != nil && !s.ops.addWaiter(tile.Name, done) {
				// The operation finished between the checks; state settled
				signalOne(done, nil)
			}
			return nil
		}
		if s.ops.parkOpposite(tile.Name, op, done) {
			return nil
		}
	}

	req := &LoadingRequest{
		ID:          uuid.New(),
		Tile:        tile.Name,
		Op:          op,
		Priority:    priority,
		BlockOnLoad: done != nil,
		Submitted:   s.clock.Now(),
		pinned:      pinned,
	}
	req.addWaiter(done)

	removed, accepted, err := s.queue.submit(req)
	if err != nil {
		req.signal(err)
		return err
	}
	if removed != nil {
		s.reportCancelled(removed)
	}
	if accepted {
		s.events.Push(event.StreamEvent{
			Type: event.TypeRequestQueued, Tile: tile.Name,
			RequestID: req.ID, Time: req.Submitted,
		})
	}

	if !s.cfg.LoadInBackground {
		s.drainInline()
	}
	return nil
}

// drainInline executes queued requests on the calling goroutine
// Foreground mode only; TryLock keeps a single drainer and avoids recursion
// when execution enqueues follow-up requests
func (s *System) drainInline() {
	if !s.drainMu.TryLock() {
		return
	}
	defer s.drainMu.Unlock()

	for {
		req, ok := s.queue.tryPop()
		if !ok {
			return
		}
		s.execute(req)
	}
}

// reportCancelled records a request removed before any worker claimed it
func (s *System) reportCancelled(req *LoadingRequest) {
	s.stats.requestsCancelled.Add(1)
	s.events.Push(event.StreamEvent{
		Type: event.TypeRequestCancelled, Tile: req.Tile,
		RequestID: req.ID, Time: s.clock.Now(),
	})
	req.signal(ErrRequestCancelled)
}

// reportShutdown rejects a pending request during Stop
func (s *System) reportShutdown(req *LoadingRequest) {
	s.stats.requestsCancelled.Add(1)
	s.events.Push(event.StreamEvent{
		Type: event.TypeRequestCancelled, Tile: req.Tile,
		RequestID: req.ID, Err: ErrQueueShutdown.Error(), Time: s.clock.Now(),
	})
	req.signal(ErrQueueShutdown)
}

// runCallbacks invokes completion observers outside any internal lock
func (s *System) runCallbacks(tile string, op Operation, err error) {
	s.cbMu.Lock()
	cbs := make([]CompletionCallback, len(s.callbacks))
	copy(cbs, s.callbacks)
	s.cbMu.Unlock()

	for _, cb := range cbs {
		cb(tile, op, err)
	}
}

// signalOne delivers a result to an optional buffered channel without blocking
func signalOne(ch chan error, err error) {
	if ch == nil {
		return
	}
	select {
	case ch <- err:
	default:
	}
}

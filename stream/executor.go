package stream

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/driftworks/levelstream/event"
	"github.com/driftworks/levelstream/world"
)

// execute runs one claimed request to completion on the calling goroutine
// Worker goroutines and the foreground drain both enter here
func (s *System) execute(req *LoadingRequest) {
	tile, ok := s.reg.GetTile(req.Tile)
	if !ok {
		// Tile removed between submission and execution
		req.signal(fmt.Errorf("%w: %s", world.ErrTileNotFound, req.Tile))
		return
	}

	switch req.Op {
	case OpLoad:
		s.executeLoad(req, tile)
	case OpUnload:
		s.executeUnload(req, tile)
	}
}

// executeLoad gates a load on dependencies, budget, and the tile's owner flag,
// then performs it
func (s *System) executeLoad(req *LoadingRequest, tile *world.Tile) {
	if tile.State() == world.StateLoaded {
		req.signal(nil)
		return
	}

	// Hard budget is backpressure, never an error: the load waits
	if s.budget.overHard() {
		s.stats.budgetDeferrals.Add(1)
		s.events.Push(event.StreamEvent{
			Type: event.TypeBudgetPressure, Tile: tile.Name,
			RequestID: req.ID, Time: s.clock.Now(),
		})
		s.log.Warn("load deferred over memory budget",
			"tile", tile.Name, "current", s.budget.current(), "budget", s.cfg.MaxMemoryBudget)
		s.queue.submitAfter(req, s.cfg.RequeueDelay)
		return
	}

	// One operation per tile: a lost race means another worker owns it
	if !tile.AcquireOp() {
		s.queue.submitAfter(req, s.cfg.RequeueDelay)
		return
	}

	// Dependencies load before dependents. An unready dependency gets its
	// own load queued (cascade) and this request waits behind a short delay
	if dep, terr := s.enterLoading(tile); dep != "" {
		tile.ReleaseOp()
		s.log.Debug("load waiting on dependency", "tile", tile.Name, "dependency", dep)
		if depTile, ok := s.reg.GetTile(dep); ok {
			_ = s.request(depTile, OpLoad, req.Priority+1, nil, req.pinned)
		}
		s.queue.submitAfter(req, s.cfg.RequeueDelay)
		return
	} else if terr != nil {
		// Loaded is a success from the requester's point of view
		if tile.State() == world.StateLoaded {
			terr = nil
		}
		s.ops.begin(tile.Name, OpLoad)
		s.finishOwned(tile, OpLoad, req, terr)
		return
	}
	s.ops.begin(tile.Name, OpLoad)

	err := s.doLoad(tile, req.ID)
	s.finishOwned(tile, OpLoad, req, err)
}

// enterLoading checks dependency readiness and commits the Loading transition
// as one step. depMu orders the check against dependency unloads: once a
// dependency has entered Unloading, no dependent can slip into Loading behind
// it, and vice versa. Caller holds the tile's owner flag
func (s *System) enterLoading(tile *world.Tile) (blocker string, err error) {
	s.depMu.Lock()
	defer s.depMu.Unlock()

	if dep := s.unloadedDependency(tile); dep != "" {
		return dep, nil
	}
	return "", tile.Transition(world.StateLoading)
}

// doLoad drives the load from Loading to Loaded (or Failed) around the loader
// Caller holds the tile's owner flag and has already committed the Loading
// transition via enterLoading
func (s *System) doLoad(tile *world.Tile, requestID uuid.UUID) error {
	tile.SetProgress(0)

	start := s.clock.Now()
	bytes, err := s.loader.LoadTileSync(tile.Name)
	if err != nil {
		return s.failLoad(tile, requestID, err)
	}

	if err := tile.MarkLoaded(bytes); err != nil {
		return err
	}
	s.budget.add(bytes)
	s.stats.recordLoad(s.clock.Now().Sub(start))
	s.renderer.OnTileLoaded(tile.Name)
	s.events.Push(event.StreamEvent{
		Type: event.TypeTileLoaded, Tile: tile.Name,
		RequestID: requestID, Bytes: bytes, Time: s.clock.Now(),
	})
	s.log.Debug("tile loaded", "tile", tile.Name, "bytes", bytes)
	return nil
}

// failLoad records a failed load and schedules an exponential-backoff retry
// while attempts remain; otherwise the tile stays Failed until manual retry
func (s *System) failLoad(tile *world.Tile, requestID uuid.UUID, cause error) error {
	attempt, terr := tile.MarkFailed(cause.Error())
	if terr != nil {
		return terr
	}
	s.stats.loadsFailed.Add(1)
	s.events.Push(event.StreamEvent{
		Type: event.TypeTileFailed, Tile: tile.Name,
		RequestID: requestID, Attempt: attempt, Err: cause.Error(), Time: s.clock.Now(),
	})

	if attempt <= s.cfg.MaxRetries {
		delay := retryBackoff(s.cfg.RetryBaseDelay, s.cfg.RetryMaxDelay, attempt)
		s.log.Warn("tile load failed, retrying",
			"tile", tile.Name, "attempt", attempt, "retry_in", delay, "error", cause)
		s.scheduleRetry(tile, delay)
	} else {
		s.log.Error("tile load failed permanently",
			"tile", tile.Name, "attempts", attempt, "error", cause)
	}
	return fmt.Errorf("load %s: %w", tile.Name, cause)
}

// scheduleRetry queues a fresh load once the backoff elapses
// Gated on running so retries do not fire into a stopped system
func (s *System) scheduleRetry(tile *world.Tile, delay time.Duration) {
	time.AfterFunc(delay, func() {
		if !s.running.Load() {
			return
		}
		if tile.State() != world.StateFailed {
			return
		}
		_ = s.request(tile, OpLoad, tile.Priority, nil, false)
		if !s.cfg.LoadInBackground {
			s.drainInline()
		}
	})
}

// executeUnload gates an unload on dependents and the owner flag, then performs it
func (s *System) executeUnload(req *LoadingRequest, tile *world.Tile) {
	if tile.State() == world.StateUnloaded {
		req.signal(nil)
		return
	}

	if !tile.AcquireOp() {
		s.queue.submitAfter(req, s.cfg.RequeueDelay)
		return
	}

	// A tile never unloads while a dependent still holds (or is acquiring) it
	if dep, terr := s.enterUnloading(tile); dep != "" {
		tile.ReleaseOp()
		s.log.Debug("unload waiting on dependent", "tile", tile.Name, "dependent", dep)
		s.queue.submitAfter(req, s.cfg.RequeueDelay)
		return
	} else if terr != nil {
		if tile.State() == world.StateUnloaded {
			terr = nil
		}
		s.ops.begin(tile.Name, OpUnload)
		s.finishOwned(tile, OpUnload, req, terr)
		return
	}
	s.ops.begin(tile.Name, OpUnload)

	err := s.doUnload(tile, req.ID)
	s.finishOwned(tile, OpUnload, req, err)
}

// enterUnloading is the unload half of the depMu pairing: the dependent scan
// and the Unloading transition commit as one step, so a dependent that has
// entered Loading blocks this unload and a dependent that checks after the
// transition sees the dependency already leaving Loaded
func (s *System) enterUnloading(tile *world.Tile) (blocker string, err error) {
	s.depMu.Lock()
	defer s.depMu.Unlock()

	if dep := s.loadedDependent(tile); dep != "" {
		return dep, nil
	}
	return "", tile.Transition(world.StateUnloading)
}

// doUnload drives the unload from Unloading to Unloaded (or Failed)
// Caller holds the tile's owner flag and has already committed the Unloading
// transition via enterUnloading. Memory is released when the tile leaves
// Loaded; a failed unload does not re-add it (the assets are in an unknown
// state and a reload is the recovery path)
func (s *System) doUnload(tile *world.Tile, requestID uuid.UUID) error {
	bytes := tile.Memory()
	s.budget.sub(bytes)

	start := s.clock.Now()
	if err := s.loader.UnloadTileSync(tile.Name); err != nil {
		attempt, terr := tile.MarkFailed(err.Error())
		if terr != nil {
			return terr
		}
		s.stats.unloadsFailed.Add(1)
		s.events.Push(event.StreamEvent{
			Type: event.TypeTileFailed, Tile: tile.Name,
			RequestID: requestID, Attempt: attempt, Err: err.Error(), Time: s.clock.Now(),
		})
		s.log.Error("tile unload failed", "tile", tile.Name, "error", err)
		return fmt.Errorf("unload %s: %w", tile.Name, err)
	}

	if err := tile.MarkUnloaded(); err != nil {
		return err
	}
	s.lod.forget(tile.Name)
	s.stats.recordUnload(s.clock.Now().Sub(start))
	s.renderer.OnTileUnloaded(tile.Name)
	s.events.Push(event.StreamEvent{
		Type: event.TypeTileUnloaded, Tile: tile.Name,
		RequestID: requestID, Bytes: bytes, Time: s.clock.Now(),
	})
	s.log.Debug("tile unloaded", "tile", tile.Name, "bytes", bytes)
	return nil
}

// finishOwned releases the tile's owner flag and settles everyone who was
// waiting: the request's own waiters, waiters attached while in flight, the
// completion callbacks, and any parked reversal (which becomes a new request
// carrying the parked waiters)
func (s *System) finishOwned(tile *world.Tile, op Operation, req *LoadingRequest, err error) {
	waiters, deferred := s.ops.finish(tile.Name)
	tile.ReleaseOp()

	req.signal(err)
	for _, ch := range waiters {
		signalOne(ch, err)
	}
	s.runCallbacks(tile.Name, op, err)

	if deferred == nil {
		return
	}
	next := &LoadingRequest{
		ID:        uuid.New(),
		Tile:      tile.Name,
		Op:        deferred.op,
		Priority:  req.Priority,
		Submitted: s.clock.Now(),
		pinned:    req.pinned,
		waiters:   deferred.waiters,
	}
	if removed, accepted, serr := s.queue.submit(next); serr != nil {
		next.signal(serr)
	} else {
		if removed != nil {
			s.reportCancelled(removed)
		}
		if accepted {
			s.events.Push(event.StreamEvent{
				Type: event.TypeRequestQueued, Tile: tile.Name,
				RequestID: next.ID, Time: next.Submitted,
			})
		}
	}
}

// loadImmediate loads name and its dependency chain synchronously, depth-first
// visited guards against cycles that slipped past registration validation
func (s *System) loadImmediate(name string, visited map[string]bool) error {
	if visited[name] {
		return fmt.Errorf("%w: %s", world.ErrCyclicDependency, name)
	}
	visited[name] = true

	tile, ok := s.reg.GetTile(name)
	if !ok {
		return fmt.Errorf("%w: %s", world.ErrTileNotFound, name)
	}
	if tile.State() == world.StateLoaded {
		return nil
	}

	for _, dep := range tile.Dependencies {
		if err := s.loadImmediate(dep, visited); err != nil {
			return err
		}
	}

	// A queued background request for this tile is superseded by the
	// immediate load; remove it so it cannot double-execute
	if req, ok := s.queue.removeByTile(name); ok {
		s.reportCancelled(req)
	}

	// Spin briefly if a worker owns the tile right now
	for !tile.AcquireOp() {
		time.Sleep(time.Millisecond)
		if tile.State() == world.StateLoaded {
			return nil
		}
	}

	blocker, terr := s.enterLoading(tile)
	if blocker != "" {
		// A dependency loaded above was unloaded out from under us
		tile.ReleaseOp()
		return fmt.Errorf("%w: %s unloaded during immediate load of %s",
			world.ErrDependencyViolation, blocker, name)
	}
	if terr != nil {
		tile.ReleaseOp()
		if tile.State() == world.StateLoaded {
			return nil
		}
		return terr
	}
	s.ops.begin(name, OpLoad)

	err := s.doLoad(tile, uuid.New())

	waiters, _ := s.ops.finish(name)
	tile.ReleaseOp()
	for _, ch := range waiters {
		signalOne(ch, err)
	}
	s.runCallbacks(name, OpLoad, err)
	return err
}

// unloadedDependency returns the first dependency not yet Loaded, or ""
func (s *System) unloadedDependency(tile *world.Tile) string {
	for _, dep := range tile.Dependencies {
		depTile, ok := s.reg.GetTile(dep)
		if !ok {
			return dep
		}
		if depTile.State() != world.StateLoaded {
			return dep
		}
	}
	return ""
}

// loadedDependent returns the first dependent still holding this tile, or ""
// A dependent blocks the unload unless it is fully Unloaded or Failed
func (s *System) loadedDependent(tile *world.Tile) string {
	for _, name := range s.reg.Dependents(tile.Name) {
		depTile, ok := s.reg.GetTile(name)
		if !ok {
			continue
		}
		switch depTile.State() {
		case world.StateUnloaded, world.StateFailed:
		default:
			return name
		}
	}
	return ""
}

// retryBackoff computes min(max, base << (attempt-1)) with overflow protection
func retryBackoff(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := uint(attempt - 1)
	if shift > 16 {
		return max
	}
	d := base << shift
	if d <= 0 || d > max {
		return max
	}
	return d
}

package stream

import (
	"github.com/driftworks/levelstream/event"
	"github.com/driftworks/levelstream/parameter"
	"github.com/driftworks/levelstream/world"
)

// tick runs one scheduling pass; only the single update goroutine calls it
// Registry iteration is insertion-ordered, so the emitted request stream is
// deterministic for a given world and viewer path. When the frame budget cuts
// the walk short, the next tick resumes where this one stopped, so every tile
// is revisited within a bounded number of ticks even under sustained
// exhaustion
func (s *System) tick(v world.Viewer) {
	deadline := s.clock.Now().Add(s.cfg.maxFrameTime())

	// Volume edges first: trigger loads carry the highest priority
	s.tickVolumes(v)

	tiles := s.reg.Tiles()
	if n := len(tiles); n > 0 {
		start := s.tickCursor % n
		for i := 0; i < n; i++ {
			s.scheduleTile(tiles[(start+i)%n], v)
			if s.clock.Now().After(deadline) {
				s.tickCursor = (start + i + 1) % n
				s.log.Debug("tick frame budget exhausted",
					"budget_ms", s.cfg.MaxLoadingFrameTimeMs,
					"scheduled", i+1, "tiles", n)
				break
			}
		}
	}

	s.enforceBudget(v, tiles)
	s.stats.refresh(tiles, s.budget.current(), s.budget.peakBytes())
}

// scheduleTile computes the desired state for one tile and routes the delta
func (s *System) scheduleTile(tile *world.Tile, v world.Viewer) {
	viewDist := tile.DistanceTo(v.Position)
	s.lod.update(tile, viewDist)

	decisionDist := viewDist
	switch tile.Method {
	case world.MethodManual, world.MethodTrigger:
		// Manual tiles move only on explicit requests; trigger tiles are
		// driven by volume edges. LOD above still applies while Loaded
		return
	case world.MethodPredictive:
		if s.cfg.EnablePredictiveStreaming {
			decisionDist = tile.DistanceTo(v.PredictedPosition(s.cfg.PredictionTime))
		}
	}

	state := tile.State()
	wantLoad := tile.AlwaysLoaded || decisionDist <= tile.StreamingDistance
	wantUnload := !tile.AlwaysLoaded && decisionDist >= tile.UnloadingDistance

	var want Operation
	act := false
	switch {
	case wantLoad && state == world.StateUnloaded:
		want, act = OpLoad, true
	case wantUnload && state == world.StateLoaded:
		want, act = OpUnload, true
	}

	// An in-flight operation runs to completion; the reversal is parked and
	// queued immediately after it finishes. parkOpposite refuses once the
	// operation is gone, so a late park never outlives its flight
	switch {
	case wantUnload && s.ops.parkOpposite(tile.Name, OpUnload, nil):
		return
	case wantLoad && s.ops.parkOpposite(tile.Name, OpLoad, nil):
		return
	}
	if _, inFlight := s.ops.current(tile.Name); inFlight {
		// Same-direction operation already running; drop a parked reversal
		// whose desire has since reverted
		for _, ch := range s.ops.clearDeferred(tile.Name) {
			signalOne(ch, ErrRequestCancelled)
		}
		return
	}

	if !act {
		// Desire reverted or inside the hysteresis band: a still-queued
		// request is removed with no side effects on the tile
		// Pinned requests (volume edges, evictions, blocking loads) stay
		op, pinned, queued := s.queue.queuedInfo(tile.Name)
		if queued && !pinned && s.requestStale(tile, op, wantLoad, wantUnload) {
			if req, ok := s.queue.removeByTile(tile.Name); ok {
				s.reportCancelled(req)
			}
		}
		return
	}

	if op, queued := s.queue.queuedOp(tile.Name); queued && op == want {
		return // already queued; queue-side dedupe keeps one request per tile
	}

	priority := tile.Priority
	if want == OpLoad {
		priority = s.loadPriority(tile, decisionDist)
	}
	_ = s.request(tile, want, priority, nil, false)
}

// requestStale reports whether the queued op no longer matches any desire
func (s *System) requestStale(tile *world.Tile, op Operation, wantLoad, wantUnload bool) bool {
	state := tile.State()
	switch op {
	case OpLoad:
		return !(wantLoad && state != world.StateLoaded)
	case OpUnload:
		return !(wantUnload && state != world.StateUnloaded)
	}
	return false
}

// loadPriority shapes request priority: closer tiles preempt farther ones
// Priority-based tiles additionally damp the boost as budget headroom shrinks
func (s *System) loadPriority(tile *world.Tile, dist float64) int {
	boost := proximityBoost(dist, tile.UnloadingDistance)
	if tile.Method == world.MethodPriority {
		boost = int(float64(boost) * s.budget.headroomFraction())
	}
	p := tile.Priority + boost
	if tile.AlwaysLoaded {
		p += parameter.TriggerPriorityBoost
	}
	return p
}

// proximityBoost maps distance onto [0, ProximityPriorityMax], closer is higher
func proximityBoost(dist, rangeMax float64) int {
	if rangeMax <= 0 {
		return 0
	}
	f := 1 - dist/rangeMax
	if f < 0 {
		f = 0
	} else if f > 1 {
		f = 1
	}
	return int(f * parameter.ProximityPriorityMax)
}

// tickVolumes applies edge-triggered volume containment
// Volumes act as an always-active overlay regardless of a tile's own method
func (s *System) tickVolumes(v world.Viewer) {
	for _, vol := range s.reg.Volumes() {
		entered, exited := vol.UpdateContainment(v.Position)
		switch {
		case entered:
			s.events.Push(event.StreamEvent{
				Type: event.TypeVolumeEntered, Volume: vol.Name, Time: s.clock.Now(),
			})
			s.log.Debug("volume entered", "volume", vol.Name)
			for _, name := range vol.LoadTiles {
				tile, ok := s.reg.GetTile(name)
				if !ok {
					s.log.Warn("volume references unknown tile", "volume", vol.Name, "tile", name)
					continue
				}
				_ = s.request(tile, OpLoad, tile.Priority+parameter.TriggerPriorityBoost, nil, true)
			}
		case exited:
			s.events.Push(event.StreamEvent{
				Type: event.TypeVolumeExited, Volume: vol.Name, Time: s.clock.Now(),
			})
			s.log.Debug("volume exited", "volume", vol.Name)
			for _, name := range vol.UnloadTiles {
				tile, ok := s.reg.GetTile(name)
				if !ok || tile.AlwaysLoaded {
					continue
				}
				_ = s.request(tile, OpUnload, tile.Priority, nil, true)
			}
		}
	}
}

// enforceBudget queues eviction unloads while the soft limit is exceeded
// Backpressure against the hard budget happens at load execution time
func (s *System) enforceBudget(v world.Viewer, tiles []*world.Tile) {
	victims := s.budget.selectEvictions(tiles, v.Position)
	if len(victims) == 0 {
		return
	}

	s.log.Warn("memory over soft limit, evicting",
		"current", s.budget.current(), "soft_limit", s.cfg.SoftMemoryLimit, "victims", len(victims))

	for _, tile := range victims {
		if _, queued := s.queue.queuedOp(tile.Name); queued {
			continue
		}
		s.statsEviction(tile)
		_ = s.request(tile, OpUnload, tile.Priority+parameter.EvictionPriorityBoost, nil, true)
	}
}

func (s *System) statsEviction(tile *world.Tile) {
	s.stats.evictions.Add(1)
	s.events.Push(event.StreamEvent{
		Type: event.TypeBudgetPressure, Tile: tile.Name,
		Bytes: tile.Memory(), Time: s.clock.Now(),
	})
}

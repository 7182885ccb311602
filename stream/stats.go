package stream

import (
	"sync/atomic"
	"time"

	"github.com/driftworks/levelstream/status"
	"github.com/driftworks/levelstream/world"
)

// Statistics is a point-in-time summary of the streaming system
type Statistics struct {
	TotalTiles     int
	LoadedTiles    int
	LoadingTiles   int
	UnloadingTiles int
	FailedTiles    int
	QueuedRequests int

	CurrentMemory int64
	PeakMemory    int64

	LoadsCompleted    int64
	LoadsFailed       int64
	UnloadsCompleted  int64
	UnloadsFailed     int64
	RequestsCancelled int64
	BudgetDeferrals   int64
	Evictions         int64

	AverageLoadTime   time.Duration
	AverageUnloadTime time.Duration
}

// statsCollector aggregates counters into the status registry
// Pointers are cached at construction; workers write atomics directly
type statsCollector struct {
	registry *status.Registry

	loadsCompleted    *atomic.Int64
	loadsFailed       *atomic.Int64
	unloadsCompleted  *atomic.Int64
	unloadsFailed     *atomic.Int64
	requestsCancelled *atomic.Int64
	budgetDeferrals   *atomic.Int64
	evictions         *atomic.Int64
	loadNanos         *atomic.Int64
	unloadNanos       *atomic.Int64

	tilesTotal     *atomic.Int64
	tilesLoaded    *atomic.Int64
	tilesLoading   *atomic.Int64
	tilesUnloading *atomic.Int64
	tilesFailed    *atomic.Int64
	bytesCurrent   *atomic.Int64
	bytesPeak      *atomic.Int64
}

func newStatsCollector(reg *status.Registry) *statsCollector {
	return &statsCollector{
		registry:          reg,
		loadsCompleted:    reg.Ints.Get("stream.loads_completed"),
		loadsFailed:       reg.Ints.Get("stream.loads_failed"),
		unloadsCompleted:  reg.Ints.Get("stream.unloads_completed"),
		unloadsFailed:     reg.Ints.Get("stream.unloads_failed"),
		requestsCancelled: reg.Ints.Get("stream.requests_cancelled"),
		budgetDeferrals:   reg.Ints.Get("stream.budget_deferrals"),
		evictions:         reg.Ints.Get("stream.evictions"),
		loadNanos:         reg.Ints.Get("stream.load_nanos_total"),
		unloadNanos:       reg.Ints.Get("stream.unload_nanos_total"),
		tilesTotal:        reg.Ints.Get("stream.tiles_total"),
		tilesLoaded:       reg.Ints.Get("stream.tiles_loaded"),
		tilesLoading:      reg.Ints.Get("stream.tiles_loading"),
		tilesUnloading:    reg.Ints.Get("stream.tiles_unloading"),
		tilesFailed:       reg.Ints.Get("stream.tiles_failed"),
		bytesCurrent:      reg.Ints.Get("stream.bytes_current"),
		bytesPeak:         reg.Ints.Get("stream.bytes_peak"),
	}
}

// recordLoad accumulates a completed load and its duration
func (s *statsCollector) recordLoad(d time.Duration) {
	s.loadsCompleted.Add(1)
	s.loadNanos.Add(d.Nanoseconds())
}

// recordUnload accumulates a completed unload and its duration
func (s *statsCollector) recordUnload(d time.Duration) {
	s.unloadsCompleted.Add(1)
	s.unloadNanos.Add(d.Nanoseconds())
}

// refresh writes the per-state tile counts and memory gauges
// Called once per tick; counts come from an authoritative registry scan
func (s *statsCollector) refresh(tiles []*world.Tile, current, peak int64) {
	var loaded, loading, unloading, failed int64
	for _, t := range tiles {
		switch t.State() {
		case world.StateLoaded:
			loaded++
		case world.StateLoading:
			loading++
		case world.StateUnloading:
			unloading++
		case world.StateFailed:
			failed++
		}
	}
	s.tilesTotal.Store(int64(len(tiles)))
	s.tilesLoaded.Store(loaded)
	s.tilesLoading.Store(loading)
	s.tilesUnloading.Store(unloading)
	s.tilesFailed.Store(failed)
	s.bytesCurrent.Store(current)
	s.bytesPeak.Store(peak)
}

func average(totalNanos, count int64) time.Duration {
	if count == 0 {
		return 0
	}
	return time.Duration(totalNanos / count)
}

// snapshot builds a Statistics value from the cached counters
func (s *statsCollector) snapshot(queued int) Statistics {
	loads := s.loadsCompleted.Load()
	unloads := s.unloadsCompleted.Load()
	return Statistics{
		TotalTiles:        int(s.tilesTotal.Load()),
		LoadedTiles:       int(s.tilesLoaded.Load()),
		LoadingTiles:      int(s.tilesLoading.Load()),
		UnloadingTiles:    int(s.tilesUnloading.Load()),
		FailedTiles:       int(s.tilesFailed.Load()),
		QueuedRequests:    queued,
		CurrentMemory:     s.bytesCurrent.Load(),
		PeakMemory:        s.bytesPeak.Load(),
		LoadsCompleted:    loads,
		LoadsFailed:       s.loadsFailed.Load(),
		UnloadsCompleted:  unloads,
		UnloadsFailed:     s.unloadsFailed.Load(),
		RequestsCancelled: s.requestsCancelled.Load(),
		BudgetDeferrals:   s.budgetDeferrals.Load(),
		Evictions:         s.evictions.Load(),
		AverageLoadTime:   average(s.loadNanos.Load(), loads),
		AverageUnloadTime: average(s.unloadNanos.Load(), unloads),
	}
}

// Package asset provides loader implementations for the streaming core.
// SimLoader is the reference loader used by tooling: deterministic sizes,
// optional latency, and scriptable failures, with no real IO behind it
package asset

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

// SimLoader simulates tile asset IO
// Sizes derive from the tile name, so repeated runs of the same world file
// produce identical memory pressure
type SimLoader struct {
	// BaseBytes is the minimum simulated size of a tile
	BaseBytes int64
	// SpreadBytes widens sizes to [BaseBytes, BaseBytes+SpreadBytes)
	SpreadBytes int64
	// Latency delays each load and unload, simulating disk and decode time
	Latency time.Duration

	mu       sync.Mutex
	failures map[string]int
	resident map[string]int64
}

// NewSimLoader builds a loader with the given size profile
func NewSimLoader(baseBytes, spreadBytes int64, latency time.Duration) *SimLoader {
	return &SimLoader{
		BaseBytes:   baseBytes,
		SpreadBytes: spreadBytes,
		Latency:     latency,
		failures:    make(map[string]int),
		resident:    make(map[string]int64),
	}
}

// FailNext makes the next n loads of name fail, for retry and recovery drills
func (l *SimLoader) FailNext(name string, n int) {
	l.mu.Lock()
	l.failures[name] = n
	l.mu.Unlock()
}

// SizeOf returns the simulated size of a tile without loading it
func (l *SimLoader) SizeOf(name string) int64 {
	if l.SpreadBytes <= 0 {
		return l.BaseBytes
	}
	h := fnv.New64a()
	h.Write([]byte(name))
	return l.BaseBytes + int64(h.Sum64()%uint64(l.SpreadBytes))
}

// ResidentBytes returns the total simulated memory currently held
func (l *SimLoader) ResidentBytes() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total int64
	for _, b := range l.resident {
		total += b
	}
	return total
}

// LoadTileSync simulates loading one tile and returns its resident size
func (l *SimLoader) LoadTileSync(name string) (int64, error) {
	if l.Latency > 0 {
		time.Sleep(l.Latency)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if n := l.failures[name]; n > 0 {
		l.failures[name] = n - 1
		return 0, fmt.Errorf("simulated load failure: %s", name)
	}

	size := l.SizeOf(name)
	l.resident[name] = size
	return size, nil
}

// UnloadTileSync releases a simulated tile
func (l *SimLoader) UnloadTileSync(name string) error {
	if l.Latency > 0 {
		time.Sleep(l.Latency)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.resident[name]; !ok {
		return fmt.Errorf("unload of tile that is not resident: %s", name)
	}
	delete(l.resident, name)
	return nil
}

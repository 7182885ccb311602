package stream

import (
	"sync/atomic"
	"time"
)

// MockClock is a Clock whose time moves only when a test advances it
// Safe for concurrent readers while one test goroutine advances
type MockClock struct {
	base   time.Time
	offset atomic.Int64 // nanoseconds past base
}

// NewMockClock returns a clock frozen at start
func NewMockClock(start time.Time) *MockClock {
	return &MockClock{base: start}
}

// Now returns the frozen time plus all advances so far
func (m *MockClock) Now() time.Time {
	return m.base.Add(time.Duration(m.offset.Load()))
}

// Advance moves the clock forward by d
func (m *MockClock) Advance(d time.Duration) {
	m.offset.Add(int64(d))
}

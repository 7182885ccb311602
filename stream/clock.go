package stream

import "time"

// Clock abstracts the time source so hysteresis and backoff are testable
type Clock interface {
	Now() time.Time
}

// SystemClock provides the real system time with monotonic readings
type SystemClock struct{}

// Now returns the current time with monotonic clock reading
func (SystemClock) Now() time.Time {
	return time.Now()
}

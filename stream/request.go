package stream

import (
	"time"

	"github.com/google/uuid"
)

// Operation is the direction of a loading request
type Operation uint8

const (
	OpLoad Operation = iota
	OpUnload
)

func (o Operation) String() string {
	if o == OpUnload {
		return "unload"
	}
	return "load"
}

// LoadingRequest is one scheduled load or unload for a tile
// Created by the scheduler (or the manual API) each tick, destroyed once
// consumed by a worker or cancelled while still queued
type LoadingRequest struct {
	ID          uuid.UUID
	Tile        string
	Op          Operation
	Priority    int
	BlockOnLoad bool
	Submitted   time.Time

	// pinned requests (volume edges, evictions, blocking loads) are not
	// cancelled when the distance-based desire flips back
	pinned bool

	// seq breaks priority ties FIFO; assigned by the queue under its lock
	seq uint64

	// index is the heap slot, maintained by container/heap
	index int

	// waiters receive the terminal result exactly once each
	// Only blocking requests carry waiters
	waiters []chan error
}

// addWaiter attaches a completion channel; chans must be buffered (cap >= 1)
func (r *LoadingRequest) addWaiter(ch chan error) {
	if ch != nil {
		r.waiters = append(r.waiters, ch)
	}
}

// signal delivers the terminal result to all waiters without blocking
func (r *LoadingRequest) signal(err error) {
	for _, ch := range r.waiters {
		select {
		case ch <- err:
		default:
		}
	}
	r.waiters = nil
}

package stream

import "sync"

// flight describes one pending or parked operation direction for a tile
type flight struct {
	op      Operation
	waiters []chan error
}

// opTracker records which operation currently owns each tile and which
// opposite operation was parked behind it
//
// A tile never has two operations in flight: the tile's owner flag enforces
// exclusion; this tracker remembers the direction so the reversal can be
// queued the moment the in-flight operation completes
type opTracker struct {
	mu       sync.Mutex
	inFlight map[string]*flight
	deferred map[string]*flight
}

func newOpTracker() *opTracker {
	return &opTracker{
		inFlight: make(map[string]*flight),
		deferred: make(map[string]*flight),
	}
}

// begin records the operation that just acquired the tile's owner flag
func (t *opTracker) begin(tile string, op Operation) {
	t.mu.Lock()
	t.inFlight[tile] = &flight{op: op}
	t.mu.Unlock()
}

// current returns the in-flight operation for tile
func (t *opTracker) current(tile string) (Operation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.inFlight[tile]
	if !ok {
		return OpLoad, false
	}
	return f.op, true
}

// addWaiter attaches a completion channel to the in-flight operation
// Returns false when nothing is in flight for tile
func (t *opTracker) addWaiter(tile string, ch chan error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.inFlight[tile]
	if !ok {
		return false
	}
	f.waiters = append(f.waiters, ch)
	return true
}

// parkOpposite parks op (and an optional waiter) behind the operation
// currently in flight for tile, when that operation runs the other direction
//
// The in-flight check and the parking happen under one lock: finish holds the
// same lock when it pops both maps, so a reversal can never be parked behind
// an operation that already completed. Returns false when nothing is in
// flight or the in-flight direction matches op; the caller routes normally
func (t *opTracker) parkOpposite(tile string, op Operation, ch chan error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.inFlight[tile]
	if !ok || cur.op == op {
		return false
	}

	f, ok := t.deferred[tile]
	if !ok || f.op != op {
		f = &flight{op: op}
		t.deferred[tile] = f
	}
	if ch != nil {
		f.waiters = append(f.waiters, ch)
	}
	return true
}

// clearDeferred drops a parked reversal whose desire reverted before execution
// Returns its waiters so the caller can signal the cancellation
func (t *opTracker) clearDeferred(tile string) []chan error {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, ok := t.deferred[tile]
	if !ok {
		return nil
	}
	delete(t.deferred, tile)
	return f.waiters
}

// finish clears the in-flight record, returning its waiters and any parked reversal
func (t *opTracker) finish(tile string) (waiters []chan error, deferred *flight) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if f, ok := t.inFlight[tile]; ok {
		waiters = f.waiters
		delete(t.inFlight, tile)
	}
	if f, ok := t.deferred[tile]; ok {
		deferred = f
		delete(t.deferred, tile)
	}
	return waiters, deferred
}

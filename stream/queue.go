package stream

import (
	"container/heap"
	"sync"
	"time"
)

// requestHeap orders requests: higher priority first, FIFO within a priority
type requestHeap []*LoadingRequest

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h requestHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *requestHeap) Push(x any) {
	req := x.(*LoadingRequest)
	req.index = len(*h)
	*h = append(*h, req)
}

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	req := old[n-1]
	old[n-1] = nil
	req.index = -1
	*h = old[:n-1]
	return req
}

// loadingQueue is the thread-safe priority queue feeding the worker pool
//
// Mutex + condition variable: submit wakes one waiting worker, close wakes
// all so they can exit. At most one queued request per tile; the queue is the
// single point where per-tile request dedupe and cancellation happen
type loadingQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	heap    requestHeap
	byTile  map[string]*LoadingRequest
	closed  bool
	nextSeq uint64
}

func newLoadingQueue() *loadingQueue {
	q := &loadingQueue{byTile: make(map[string]*LoadingRequest)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// submit inserts req unless an equivalent request is already queued
//
// Same tile, same op: the queued request absorbs req's waiters and the higher
// priority; req is dropped (accepted=false). Same tile, opposite op: the stale
// request is removed with no side effects and returned so the caller can
// report the cancellation. Closed queue rejects with ErrQueueShutdown
func (q *loadingQueue) submit(req *LoadingRequest) (removed *LoadingRequest, accepted bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, false, ErrQueueShutdown
	}

	if existing, ok := q.byTile[req.Tile]; ok {
		if existing.Op == req.Op {
			existing.waiters = append(existing.waiters, req.waiters...)
			if req.Priority > existing.Priority {
				existing.Priority = req.Priority
				heap.Fix(&q.heap, existing.index)
			}
			return nil, false, nil
		}
		q.removeLocked(existing)
		removed = existing
	}

	q.nextSeq++
	req.seq = q.nextSeq
	q.byTile[req.Tile] = req
	heap.Push(&q.heap, req)
	q.cond.Signal()
	return removed, true, nil
}

// pop blocks until a request is available or the queue closes
// Returns ok=false on close; not-yet-claimed items are abandoned to drain
func (q *loadingQueue) pop() (*LoadingRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for !q.closed && q.heap.Len() == 0 {
		q.cond.Wait()
	}
	if q.closed {
		return nil, false
	}

	req := heap.Pop(&q.heap).(*LoadingRequest)
	delete(q.byTile, req.Tile)
	return req, true
}

// tryPop removes the highest-priority request without blocking
// Used by the synchronous (foreground) execution mode
func (q *loadingQueue) tryPop() (*LoadingRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.heap.Len() == 0 {
		return nil, false
	}
	req := heap.Pop(&q.heap).(*LoadingRequest)
	delete(q.byTile, req.Tile)
	return req, true
}

// removeByTile cancels the queued request for tile before any worker claims it
// No side effects on the tile; returns the removed request for reporting
func (q *loadingQueue) removeByTile(tile string) (*LoadingRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	req, ok := q.byTile[tile]
	if !ok {
		return nil, false
	}
	q.removeLocked(req)
	return req, true
}

func (q *loadingQueue) removeLocked(req *LoadingRequest) {
	heap.Remove(&q.heap, req.index)
	delete(q.byTile, req.Tile)
}

// queuedOp reports the pending operation for tile, if one is queued
func (q *loadingQueue) queuedOp(tile string) (Operation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	req, ok := q.byTile[tile]
	if !ok {
		return OpLoad, false
	}
	return req.Op, true
}

// queuedInfo additionally reports whether the pending request is pinned
func (q *loadingQueue) queuedInfo(tile string) (op Operation, pinned, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	req, found := q.byTile[tile]
	if !found {
		return OpLoad, false, false
	}
	return req.Op, req.pinned, true
}

// submitAfter re-queues req once delay elapses (dependency or budget deferral)
// A close between scheduling and firing rejects the request; waiters are told
func (q *loadingQueue) submitAfter(req *LoadingRequest, delay time.Duration) {
	time.AfterFunc(delay, func() {
		if _, _, err := q.submit(req); err != nil {
			req.signal(err)
		}
	})
}

// close rejects further requests, wakes all workers, and drains pending items
// The caller cancels the returned requests (signals waiters, emits events)
func (q *loadingQueue) close() []*LoadingRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true

	pending := make([]*LoadingRequest, 0, q.heap.Len())
	for q.heap.Len() > 0 {
		req := heap.Pop(&q.heap).(*LoadingRequest)
		delete(q.byTile, req.Tile)
		pending = append(pending, req)
	}
	q.cond.Broadcast()
	return pending
}

// len returns the number of queued requests
func (q *loadingQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

package stream

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"time"
)

// workerPool runs a fixed number of goroutines that drain the loading queue
// Shutdown closes the queue (waking all workers) and joins with a bounded wait
type workerPool struct {
	queue *loadingQueue
	exec  func(*LoadingRequest)
	size  int

	wg sync.WaitGroup

	// workerIDs tracks the goroutines owned by this pool so the blocking
	// load API can refuse calls that would deadlock the pool
	workerIDs sync.Map
}

func newWorkerPool(size int, queue *loadingQueue, exec func(*LoadingRequest)) *workerPool {
	return &workerPool{queue: queue, exec: exec, size: size}
}

// start launches the worker goroutines
func (p *workerPool) start() {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.run()
	}
}

func (p *workerPool) run() {
	defer p.wg.Done()

	id := goroutineID()
	p.workerIDs.Store(id, struct{}{})
	defer p.workerIDs.Delete(id)

	for {
		req, ok := p.queue.pop()
		if !ok {
			return // queue closed
		}
		p.exec(req)
	}
}

// join waits for all workers to finish their current item, up to timeout
// The queue must already be closed. Returns false on timeout (force-stop:
// the goroutines are abandoned; they exit once their current load returns)
func (p *workerPool) join(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// onWorkerGoroutine reports whether the caller runs on one of this pool's workers
func (p *workerPool) onWorkerGoroutine() bool {
	_, ok := p.workerIDs.Load(goroutineID())
	return ok
}

// goroutineID extracts the numeric goroutine id from the runtime stack header
// ("goroutine 123 [running]: ..."). Used only for the deadlock guard; never
// for scheduling decisions
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, _ := strconv.ParseUint(string(fields[1]), 10, 64)
	return id
}

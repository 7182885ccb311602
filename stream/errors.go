package stream

import "errors"

var (
	// ErrQueueShutdown rejects requests issued after Stop
	ErrQueueShutdown = errors.New("loading queue is shut down")

	// ErrNotRunning rejects streaming requests before Start or after Stop
	ErrNotRunning = errors.New("streaming system is not running")

	// ErrAlreadyRunning rejects a second Start
	ErrAlreadyRunning = errors.New("streaming system already running")

	// ErrBlockingFromWorker guards the pool against self-deadlock:
	// blocking loads must never be issued from a worker goroutine
	ErrBlockingFromWorker = errors.New("blocking load called from worker goroutine")

	// ErrRequestCancelled signals waiters of a request removed before execution
	ErrRequestCancelled = errors.New("loading request cancelled")

	// ErrLoadTimeout reports a blocking load that outlived its timeout
	ErrLoadTimeout = errors.New("blocking load timed out")

	// ErrShutdownTimeout reports workers that did not drain within the bound
	ErrShutdownTimeout = errors.New("worker pool did not drain before timeout")

	// ErrTileNotFailed rejects a manual retry of a tile that is not Failed
	ErrTileNotFailed = errors.New("tile is not in Failed state")
)

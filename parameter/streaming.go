package parameter

import "time"

// World Composition Defaults
const (
	// DefaultTileSize is the edge length of a generated square tile
	DefaultTileSize = 100.0

	// DefaultStreamingDistance loads a tile when the viewer comes this close
	DefaultStreamingDistance = 500.0

	// DefaultUnloadingDistance unloads a tile past this range
	// Must stay above DefaultStreamingDistance to form the hysteresis band
	DefaultUnloadingDistance = 750.0

	// DefaultPredictionTime is the look-ahead window (seconds) for predictive streaming
	DefaultPredictionTime = 2.0

	// DefaultViewerFOV is the horizontal field of view in degrees
	DefaultViewerFOV = 90.0

	// DefaultLODBias scales distances before LOD selection (1.0 = neutral)
	DefaultLODBias = 1.0
)

// Memory Budget Defaults
const (
	// DefaultSoftMemoryLimit starts eviction of cold tiles
	DefaultSoftMemoryLimit = 768 << 20

	// DefaultMaxMemoryBudget defers new loads (backpressure) when exceeded
	DefaultMaxMemoryBudget = 1 << 30
)

// Loading Pipeline Timing
const (
	// DefaultRetryBaseDelay seeds the exponential backoff after a failed load
	DefaultRetryBaseDelay = 250 * time.Millisecond

	// DefaultRetryMaxDelay caps the backoff growth
	DefaultRetryMaxDelay = 8 * time.Second

	// DefaultMaxRetries is the automatic retry budget before a tile stays Failed
	DefaultMaxRetries = 3

	// DefaultRequeueDelay postpones a request whose dependencies are not Loaded yet
	// Short enough to feel immediate, long enough not to busy-spin the queue
	DefaultRequeueDelay = 20 * time.Millisecond

	// DefaultShutdownTimeout bounds how long Stop waits for workers to drain
	DefaultShutdownTimeout = 5 * time.Second

	// DefaultMaxLoadingFrameTime bounds scheduler work per update tick
	DefaultMaxLoadingFrameTime = 8 * time.Millisecond

	// DefaultLODHysteresisTime is how long a new LOD target must hold before commit
	DefaultLODHysteresisTime = 500 * time.Millisecond
)

// Request Priority Shaping
const (
	// TriggerPriorityBoost puts volume-edge loads ahead of distance loads
	TriggerPriorityBoost = 1000

	// EvictionPriorityBoost makes budget evictions jump the unload queue
	EvictionPriorityBoost = 500

	// ProximityPriorityMax is the maximum boost for a tile right under the viewer
	ProximityPriorityMax = 100
)

// Event Ring Buffer
const (
	// EventQueueSize is the fixed capacity of the stream event ring buffer
	EventQueueSize = 2048

	// EventBufferMask is the bitmask for fast modulo operations (2048 - 1)
	EventBufferMask = EventQueueSize - 1
)

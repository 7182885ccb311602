package world

import (
	"fmt"
	"sync"

	"github.com/driftworks/levelstream/vmath"
)

// TileState is the lifecycle state of a tile
// Transitions follow the fixed edge table in CanTransition; nothing else is legal
type TileState uint8

const (
	StateUnloaded TileState = iota
	StateLoading
	StateLoaded
	StateUnloading
	StateFailed
)

func (s TileState) String() string {
	switch s {
	case StateUnloaded:
		return "Unloaded"
	case StateLoading:
		return "Loading"
	case StateLoaded:
		return "Loaded"
	case StateUnloading:
		return "Unloading"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("TileState(%d)", uint8(s))
	}
}

// CanTransition reports whether the from->to edge exists in the transition table
// Unloaded->Loading, Loading->Loaded|Failed, Loaded->Unloading,
// Unloading->Unloaded|Failed, Failed->Loading (retry)
func CanTransition(from, to TileState) bool {
	switch from {
	case StateUnloaded:
		return to == StateLoading
	case StateLoading:
		return to == StateLoaded || to == StateFailed
	case StateLoaded:
		return to == StateUnloading
	case StateUnloading:
		return to == StateUnloaded || to == StateFailed
	case StateFailed:
		return to == StateLoading
	default:
		return false
	}
}

// StreamingMethod selects the per-tick decision rule for a tile
// Closed enum; the scheduler dispatches with an exhaustive switch
type StreamingMethod uint8

const (
	MethodDistance StreamingMethod = iota
	MethodTrigger
	MethodManual
	MethodPriority
	MethodPredictive
)

func (m StreamingMethod) String() string {
	switch m {
	case MethodDistance:
		return "distance"
	case MethodTrigger:
		return "trigger"
	case MethodManual:
		return "manual"
	case MethodPriority:
		return "priority"
	case MethodPredictive:
		return "predictive"
	default:
		return fmt.Sprintf("StreamingMethod(%d)", uint8(m))
	}
}

// ParseMethod converts a world file method name to its enum value
func ParseMethod(s string) (StreamingMethod, error) {
	switch s {
	case "distance", "":
		return MethodDistance, nil
	case "trigger":
		return MethodTrigger, nil
	case "manual":
		return MethodManual, nil
	case "priority":
		return MethodPriority, nil
	case "predictive":
		return MethodPredictive, nil
	default:
		return MethodDistance, fmt.Errorf("%w: unknown streaming method %q", ErrInvalidTile, s)
	}
}

// Tile is one streamable sub-scene unit
//
// Descriptor fields (Name through Dependencies) are immutable after
// registration and safe for lock-free reads. Runtime fields are guarded by mu:
// the scheduler tick reads them every frame while a worker goroutine writes them
type Tile struct {
	Name              string
	Bounds            vmath.AABB
	Method            StreamingMethod
	StreamingDistance float64
	UnloadingDistance float64
	Priority          int
	AlwaysLoaded      bool
	LODDistances      []float64
	Dependencies      []string

	mu          sync.Mutex
	state       TileState
	lodLevel    int
	memoryBytes int64
	progress    float64
	errMsg      string
	retries     int
	opOwned     bool
}

// TileInfo is a point-in-time copy of a tile's runtime state for queries and overlays
type TileInfo struct {
	Name         string
	State        TileState
	LODLevel     int
	MemoryBytes  int64
	Progress     float64
	ErrorMessage string
	Retries      int
}

// State returns the current lifecycle state
func (t *Tile) State() TileState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Transition moves the tile along a legal edge or fails with ErrIllegalTransition
func (t *Tile) Transition(to TileState) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transitionLocked(to)
}

func (t *Tile) transitionLocked(to TileState) error {
	if !CanTransition(t.state, to) {
		return fmt.Errorf("%w: %s %s->%s", ErrIllegalTransition, t.Name, t.state, to)
	}
	t.state = to
	return nil
}

// MarkLoaded commits a successful load: Loading->Loaded plus memory accounting
func (t *Tile) MarkLoaded(bytes int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.transitionLocked(StateLoaded); err != nil {
		return err
	}
	t.memoryBytes = bytes
	t.progress = 1
	t.errMsg = ""
	t.retries = 0
	return nil
}

// MarkUnloaded commits a successful unload: Unloading->Unloaded, memory released
func (t *Tile) MarkUnloaded() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.transitionLocked(StateUnloaded); err != nil {
		return err
	}
	t.memoryBytes = 0
	t.progress = 0
	t.lodLevel = 0
	return nil
}

// MarkFailed records a collaborator error and returns the attempt count so far
func (t *Tile) MarkFailed(msg string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.transitionLocked(StateFailed); err != nil {
		return t.retries, err
	}
	t.errMsg = msg
	t.retries++
	return t.retries, nil
}

// ResetRetries clears the attempt counter for a manual retry
func (t *Tile) ResetRetries() {
	t.mu.Lock()
	t.retries = 0
	t.mu.Unlock()
}

// Memory returns the bytes attributed to this tile while Loaded
func (t *Tile) Memory() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.memoryBytes
}

// SetProgress updates the transient load progress in [0,1]
func (t *Tile) SetProgress(p float64) {
	t.mu.Lock()
	t.progress = p
	t.mu.Unlock()
}

// LOD returns the committed level-of-detail index
func (t *Tile) LOD() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lodLevel
}

// SetLOD commits a level-of-detail index (hysteresis is the LOD manager's job)
func (t *Tile) SetLOD(level int) {
	t.mu.Lock()
	t.lodLevel = level
	t.mu.Unlock()
}

// ErrorMessage returns the last collaborator error, empty when healthy
func (t *Tile) ErrorMessage() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errMsg
}

// AcquireOp claims the per-tile operation owner flag
// Returns false if another operation is already in flight
func (t *Tile) AcquireOp() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.opOwned {
		return false
	}
	t.opOwned = true
	return true
}

// ReleaseOp returns the operation owner flag
func (t *Tile) ReleaseOp() {
	t.mu.Lock()
	t.opOwned = false
	t.mu.Unlock()
}

// OpInFlight reports whether a worker currently owns this tile
func (t *Tile) OpInFlight() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opOwned
}

// Snapshot copies the runtime state under one lock acquisition
func (t *Tile) Snapshot() TileInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TileInfo{
		Name:         t.Name,
		State:        t.state,
		LODLevel:     t.lodLevel,
		MemoryBytes:  t.memoryBytes,
		Progress:     t.progress,
		ErrorMessage: t.errMsg,
		Retries:      t.retries,
	}
}

// DistanceTo returns the distance from p to the tile center
// Streaming thresholds are defined against the center, not the surface
func (t *Tile) DistanceTo(p vmath.Vec3) float64 {
	return vmath.Distance(p, t.Bounds.Center)
}

// Sphere returns the bounding sphere for visibility tests
func (t *Tile) Sphere() vmath.Sphere {
	return t.Bounds.BoundingSphere()
}

// validate checks descriptor invariants before registration
func (t *Tile) validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidTile)
	}
	if t.UnloadingDistance < t.StreamingDistance {
		return fmt.Errorf("%w: %s unloading distance %.1f below streaming distance %.1f",
			ErrInvalidTile, t.Name, t.UnloadingDistance, t.StreamingDistance)
	}
	for i := 1; i < len(t.LODDistances); i++ {
		if t.LODDistances[i] <= t.LODDistances[i-1] {
			return fmt.Errorf("%w: %s lod distances not increasing at index %d", ErrInvalidTile, t.Name, i)
		}
	}
	for _, dep := range t.Dependencies {
		if dep == t.Name {
			return fmt.Errorf("%w: %s depends on itself", ErrInvalidTile, t.Name)
		}
	}
	return nil
}

package world

import (
	"fmt"
	"math"
	"sync"

	"github.com/driftworks/levelstream/vmath"
)

// Registry owns all tile and volume records for one open world
//
// Thread-Safety:
//   - Queries take the read lock and return snapshots or stable pointers
//   - Add/Remove take the write lock
//   - Per-tile runtime state is guarded by the tile's own lock, not this one
//
// Iteration order is insertion order, keeping scheduler output deterministic
type Registry struct {
	mu          sync.RWMutex
	tiles       map[string]*Tile
	tileOrder   []string
	dependents  map[string][]string
	volumes     map[string]*Volume
	volumeOrder []string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		tiles:      make(map[string]*Tile),
		dependents: make(map[string][]string),
		volumes:    make(map[string]*Volume),
	}
}

// AddTile registers a tile; names must be unique
func (r *Registry) AddTile(t *Tile) error {
	if err := t.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tiles[t.Name]; ok {
		return fmt.Errorf("%w: %s", ErrTileExists, t.Name)
	}

	r.tiles[t.Name] = t
	r.tileOrder = append(r.tileOrder, t.Name)
	for _, dep := range t.Dependencies {
		r.dependents[dep] = append(r.dependents[dep], t.Name)
	}
	return nil
}

// RemoveTile unregisters a tile
// Fails with ErrDependencyViolation while other tiles still depend on it
func (r *Registry) RemoveTile(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tiles[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTileNotFound, name)
	}
	if deps := r.dependents[name]; len(deps) > 0 {
		return fmt.Errorf("%w: %s is required by %v", ErrDependencyViolation, name, deps)
	}

	delete(r.tiles, name)
	delete(r.dependents, name)
	for _, dep := range t.Dependencies {
		r.dependents[dep] = removeString(r.dependents[dep], name)
		if len(r.dependents[dep]) == 0 {
			delete(r.dependents, dep)
		}
	}
	r.tileOrder = removeString(r.tileOrder, name)
	return nil
}

// GetTile returns the tile registered under name
func (r *Registry) GetTile(name string) (*Tile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tiles[name]
	return t, ok
}

// Tiles returns all tiles in insertion order
func (r *Registry) Tiles() []*Tile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Tile, 0, len(r.tileOrder))
	for _, name := range r.tileOrder {
		out = append(out, r.tiles[name])
	}
	return out
}

// Count returns the number of registered tiles
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tiles)
}

// Dependents returns the tiles that list name as a dependency
func (r *Registry) Dependents(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	deps := r.dependents[name]
	out := make([]string, len(deps))
	copy(out, deps)
	return out
}

// TileAtPosition returns the first tile (insertion order) whose bounds contain p
func (r *Registry) TileAtPosition(p vmath.Vec3) (*Tile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range r.tileOrder {
		if t := r.tiles[name]; t.Bounds.Contains(p) {
			return t, true
		}
	}
	return nil, false
}

// TilesWithinDistance returns tiles whose center lies within radius of p
func (r *Registry) TilesWithinDistance(p vmath.Vec3, radius float64) []*Tile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	radiusSq := radius * radius
	var out []*Tile
	for _, name := range r.tileOrder {
		t := r.tiles[name]
		if vmath.DistanceSq(p, t.Bounds.Center) <= radiusSq {
			out = append(out, t)
		}
	}
	return out
}

// VisibleTiles returns tiles whose bounding sphere intersects the view cone
func (r *Registry) VisibleTiles(p, forward vmath.Vec3, fovDegrees float64) []*Tile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	halfAngle := fovDegrees * math.Pi / 360
	var out []*Tile
	for _, name := range r.tileOrder {
		t := r.tiles[name]
		if t.Sphere().InViewCone(p, forward, halfAngle) {
			out = append(out, t)
		}
	}
	return out
}

// AddVolume registers a streaming volume; names must be unique
func (r *Registry) AddVolume(v *Volume) error {
	if v.Name == "" {
		return fmt.Errorf("%w: empty volume name", ErrInvalidTile)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.volumes[v.Name]; ok {
		return fmt.Errorf("%w: %s", ErrVolumeExists, v.Name)
	}
	r.volumes[v.Name] = v
	r.volumeOrder = append(r.volumeOrder, v.Name)
	return nil
}

// RemoveVolume unregisters a streaming volume
func (r *Registry) RemoveVolume(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.volumes[name]; !ok {
		return fmt.Errorf("%w: %s", ErrVolumeNotFound, name)
	}
	delete(r.volumes, name)
	r.volumeOrder = removeString(r.volumeOrder, name)
	return nil
}

// Volumes returns all volumes in insertion order
func (r *Registry) Volumes() []*Volume {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Volume, 0, len(r.volumeOrder))
	for _, name := range r.volumeOrder {
		out = append(out, r.volumes[name])
	}
	return out
}

// removeString deletes the first occurrence of s, preserving order
func removeString(list []string, s string) []string {
	for i, v := range list {
		if v == s {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

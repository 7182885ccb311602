package world

import (
	"fmt"
	"strings"
)

// MissingDependency names a tile whose dependency list references an unregistered tile
type MissingDependency struct {
	Tile    string
	Missing string
}

// ValidationResult collects structural problems found in the tile graph
// Streaming refuses to start while OK() is false
type ValidationResult struct {
	MissingDependencies []MissingDependency
	Cycles              [][]string
}

// OK reports whether the world is structurally sound
func (r ValidationResult) OK() bool {
	return len(r.MissingDependencies) == 0 && len(r.Cycles) == 0
}

// Err folds the result into a single error, nil when OK
func (r ValidationResult) Err() error {
	if len(r.Cycles) > 0 {
		return fmt.Errorf("%w: %s", ErrCyclicDependency, strings.Join(r.Cycles[0], " -> "))
	}
	if len(r.MissingDependencies) > 0 {
		m := r.MissingDependencies[0]
		return fmt.Errorf("%w: %s requires %s", ErrMissingDependency, m.Tile, m.Missing)
	}
	return nil
}

// Validate checks the dependency graph for missing targets and cycles
// Deterministic: tiles are visited in insertion order
func (r *Registry) Validate() ValidationResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result ValidationResult

	for _, name := range r.tileOrder {
		for _, dep := range r.tiles[name].Dependencies {
			if _, ok := r.tiles[dep]; !ok {
				result.MissingDependencies = append(result.MissingDependencies,
					MissingDependency{Tile: name, Missing: dep})
			}
		}
	}

	// Three-color DFS; gray back-edges mark cycles
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(r.tiles))
	var stack []string

	var visit func(name string)
	visit = func(name string) {
		color[name] = gray
		stack = append(stack, name)

		for _, dep := range r.tiles[name].Dependencies {
			if _, ok := r.tiles[dep]; !ok {
				continue // already reported as missing
			}
			switch color[dep] {
			case white:
				visit(dep)
			case gray:
				// Extract the cycle segment from the stack
				for i, n := range stack {
					if n == dep {
						cycle := make([]string, 0, len(stack)-i+1)
						cycle = append(cycle, stack[i:]...)
						cycle = append(cycle, dep)
						result.Cycles = append(result.Cycles, cycle)
						break
					}
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[name] = black
	}

	for _, name := range r.tileOrder {
		if color[name] == white {
			visit(name)
		}
	}

	return result
}

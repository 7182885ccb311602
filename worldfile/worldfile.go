// Package worldfile reads and writes TOML world composition documents:
// the streaming settings table plus the tile and volume declarations that
// populate a world.Registry
package worldfile

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/driftworks/levelstream/stream"
	"github.com/driftworks/levelstream/vmath"
	"github.com/driftworks/levelstream/world"
)

// Document is one complete world file
type Document struct {
	Settings stream.Config `toml:"settings"`
	Tiles    []TileDef     `toml:"tiles"`
	Volumes  []VolumeDef   `toml:"volumes"`
}

// TileDef declares one tile; zero fields inherit the settings defaults
type TileDef struct {
	Name              string     `toml:"name"`
	Center            [3]float64 `toml:"center"`
	Extents           [3]float64 `toml:"extents"`
	Method            string     `toml:"method,omitempty"`
	StreamingDistance float64    `toml:"streaming_distance,omitempty"`
	UnloadingDistance float64    `toml:"unloading_distance,omitempty"`
	Priority          int        `toml:"priority,omitempty"`
	AlwaysLoaded      bool       `toml:"always_loaded,omitempty"`
	LODDistances      []float64  `toml:"lod_distances,omitempty"`
	Dependencies      []string   `toml:"dependencies,omitempty"`
}

// VolumeDef declares one trigger volume
type VolumeDef struct {
	Name        string     `toml:"name"`
	Center      [3]float64 `toml:"center"`
	Extents     [3]float64 `toml:"extents"`
	LoadTiles   []string   `toml:"load_tiles,omitempty"`
	UnloadTiles []string   `toml:"unload_tiles,omitempty"`
	Active      bool       `toml:"active"`
}

// Load parses a world file from disk
func Load(path string) (*Document, error) {
	var doc Document
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("parse world file %s: %w", path, err)
	}
	return &doc, nil
}

// Save writes the document to disk, atomically enough for tooling use
func (d *Document) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write world file %s: %w", path, err)
	}
	if err := toml.NewEncoder(f).Encode(d); err != nil {
		f.Close()
		return fmt.Errorf("encode world file %s: %w", path, err)
	}
	return f.Close()
}

// Config returns the sanitized streaming settings from the settings table
func (d *Document) Config() stream.Config {
	cfg := d.Settings
	cfg.Sanitize()
	return cfg
}

// BuildRegistry materializes the declarations into a validated registry
// Tile defaults come from the settings table; the returned registry is ready
// for stream.New
func (d *Document) BuildRegistry() (*world.Registry, error) {
	cfg := d.Config()
	reg := world.NewRegistry()

	for _, def := range d.Tiles {
		tile, err := def.build(cfg)
		if err != nil {
			return nil, err
		}
		if err := reg.AddTile(tile); err != nil {
			return nil, err
		}
	}
	for _, def := range d.Volumes {
		if err := reg.AddVolume(&world.Volume{
			Name:        def.Name,
			Bounds:      aabb(def.Center, def.Extents),
			LoadTiles:   def.LoadTiles,
			UnloadTiles: def.UnloadTiles,
			Active:      def.Active,
		}); err != nil {
			return nil, err
		}
	}

	if res := reg.Validate(); !res.OK() {
		return nil, res.Err()
	}
	return reg, nil
}

func (def TileDef) build(cfg stream.Config) (*world.Tile, error) {
	methodName := def.Method
	if methodName == "" {
		methodName = cfg.DefaultStreamingMethod
	}
	method, err := world.ParseMethod(methodName)
	if err != nil {
		return nil, fmt.Errorf("tile %s: %w", def.Name, err)
	}

	streamDist := def.StreamingDistance
	if streamDist <= 0 {
		streamDist = cfg.DefaultStreamingDistance
	}
	unloadDist := def.UnloadingDistance
	if unloadDist <= 0 {
		unloadDist = cfg.DefaultUnloadingDistance
	}

	extents := def.Extents
	if extents == [3]float64{} {
		half := cfg.TileSize / 2
		extents = [3]float64{half, half, half}
	}

	return &world.Tile{
		Name:              def.Name,
		Bounds:            aabb(def.Center, extents),
		Method:            method,
		StreamingDistance: streamDist,
		UnloadingDistance: unloadDist,
		Priority:          def.Priority,
		AlwaysLoaded:      def.AlwaysLoaded,
		LODDistances:      def.LODDistances,
		Dependencies:      def.Dependencies,
	}, nil
}

func aabb(center, extents [3]float64) vmath.AABB {
	return vmath.AABB{
		Center:  vmath.Vec3{X: center[0], Y: center[1], Z: center[2]},
		Extents: vmath.Vec3{X: extents[0], Y: extents[1], Z: extents[2]},
	}
}

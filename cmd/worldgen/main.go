// worldgen emits a grid world TOML file for the streaming viewer and tests
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"

	"github.com/driftworks/levelstream/parameter"
	"github.com/driftworks/levelstream/worldfile"
)

var (
	outFlag      = flag.String("out", "world.toml", "output world file path")
	tilesXFlag   = flag.Int("x", 8, "grid width in tiles")
	tilesYFlag   = flag.Int("y", 8, "grid depth in tiles")
	tileSizeFlag = flag.Float64("size", parameter.DefaultTileSize, "tile edge length in world units")
	seedFlag     = flag.Int64("seed", 1, "seed for priority jitter")
	volumesFlag  = flag.Int("volumes", 2, "number of trigger volumes to place")
)

func main() {
	flag.Parse()

	doc := generate(*tilesXFlag, *tilesYFlag, *tileSizeFlag, *seedFlag, *volumesFlag)

	// Refuse to write a world the streaming core would reject at Start
	if _, err := doc.BuildRegistry(); err != nil {
		fmt.Fprintf(os.Stderr, "generated world is invalid: %v\n", err)
		os.Exit(1)
	}
	if err := doc.Save(*outFlag); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	fmt.Printf("wrote %s: %d tiles, %d volumes (%dx%d grid, tile size %.0f)\n",
		*outFlag, len(doc.Tiles), len(doc.Volumes), *tilesXFlag, *tilesYFlag, *tileSizeFlag)
}

func generate(nx, ny int, size float64, seed int64, volumes int) *worldfile.Document {
	rng := rand.New(rand.NewSource(seed))

	doc := &worldfile.Document{}
	doc.Settings.TileSize = size
	doc.Settings.MaxTilesX = nx
	doc.Settings.MaxTilesY = ny
	doc.Settings.DefaultStreamingMethod = "distance"
	doc.Settings.DefaultStreamingDistance = size * 2.5
	doc.Settings.DefaultUnloadingDistance = size * 3.5
	doc.Settings.EnableLOD = true
	doc.Settings.LODBias = 1.0
	doc.Settings.LoadInBackground = true

	hubX, hubY := nx/2, ny/2
	half := size / 2

	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			def := worldfile.TileDef{
				Name:    tileName(x, y),
				Center:  [3]float64{float64(x)*size + half, 0, float64(y)*size + half},
				Extents: [3]float64{half, half, half},
				// Jitter keeps eviction order interesting under memory pressure
				Priority:     rng.Intn(5),
				LODDistances: []float64{size, size * 2},
			}
			switch {
			case x == hubX && y == hubY:
				def.Method = "manual"
				def.AlwaysLoaded = true
				def.Priority = 10
			case adjacent(x, y, hubX, hubY):
				// The ring around the hub streams only once the hub is in
				def.Dependencies = []string{tileName(hubX, hubY)}
			}
			doc.Tiles = append(doc.Tiles, def)
		}
	}

	for i := 0; i < volumes; i++ {
		// Each volume covers one random tile and preloads its neighbors
		vx, vy := rng.Intn(nx), rng.Intn(ny)
		load := neighbors(vx, vy, nx, ny)
		doc.Volumes = append(doc.Volumes, worldfile.VolumeDef{
			Name:      fmt.Sprintf("trigger_%d", i),
			Center:    [3]float64{float64(vx)*size + half, 0, float64(vy)*size + half},
			Extents:   [3]float64{half, half, half},
			LoadTiles: load,
			Active:    true,
		})
	}
	return doc
}

func tileName(x, y int) string {
	return fmt.Sprintf("t_%d_%d", x, y)
}

func adjacent(x, y, cx, cy int) bool {
	dx, dy := x-cx, y-cy
	if dx < 0 {
		dx = -dx
	}
	if dy < 0 {
		dy = -dy
	}
	return dx <= 1 && dy <= 1 && (dx+dy) > 0
}

func neighbors(x, y, nx, ny int) []string {
	var out []string
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			tx, ty := x+dx, y+dy
			if tx < 0 || ty < 0 || tx >= nx || ty >= ny {
				continue
			}
			out = append(out, tileName(tx, ty))
		}
	}
	return out
}

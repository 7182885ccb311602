// stream-viewer is a top-down terminal visualization of the streaming core:
// move a viewer across a tile grid and watch tiles load, unload, and evict
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/driftworks/levelstream/asset"
	"github.com/driftworks/levelstream/event"
	"github.com/driftworks/levelstream/parameter"
	"github.com/driftworks/levelstream/stream"
	"github.com/driftworks/levelstream/vmath"
	"github.com/driftworks/levelstream/world"
	"github.com/driftworks/levelstream/worldfile"
)

var (
	worldFlag   = flag.String("world", "world.toml", "world file to stream")
	speedFlag   = flag.Float64("speed", 120, "viewer speed in world units per second")
	latencyFlag = flag.Duration("latency", 30*time.Millisecond, "simulated load latency per tile")
	logFlag     = flag.String("log", "", "write structured logs to this file")
)

const tickInterval = 50 * time.Millisecond

func main() {
	// Panic recovery: restore the terminal before dumping the stack
	var screen tcell.Screen
	defer func() {
		if r := recover(); r != nil {
			if screen != nil {
				screen.Fini()
			}
			fmt.Fprintf(os.Stderr, "stream-viewer crashed: %v\n%s\n", r, debug.Stack())
			os.Exit(1)
		}
	}()

	flag.Parse()

	doc, err := worldfile.Load(*worldFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n(generate one with worldgen)\n", err)
		os.Exit(1)
	}
	reg, err := doc.BuildRegistry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	cfg := doc.Config()
	if err := cfg.ApplyEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "bad environment override: %v\n", err)
		os.Exit(1)
	}
	if *logFlag != "" {
		f, err := os.Create(*logFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		cfg.Logger = slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	loader := asset.NewSimLoader(16<<20, 48<<20, *latencyFlag)
	sys := stream.New(cfg, reg, loader, nil)
	if err := sys.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer sys.Stop()

	screen, err = tcell.NewScreen()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if err := screen.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer screen.Fini()

	run(screen, sys, reg, *speedFlag)
}

type ui struct {
	screen tcell.Screen
	sys    *stream.System
	reg    *world.Registry

	origin   vmath.Vec3 // world position of the grid's min corner
	tileSize float64

	viewer world.Viewer
	speed  float64
	log    []string
}

func run(screen tcell.Screen, sys *stream.System, reg *world.Registry, speed float64) {
	u := &ui{screen: screen, sys: sys, reg: reg, speed: speed}
	u.fitWorld()
	u.viewer.Position = u.origin
	u.viewer.Forward = vmath.Vec3{X: 1}
	u.viewer.FOVDegrees = parameter.DefaultViewerFOV

	keys := make(chan *tcell.EventKey, 16)
	go func() {
		for {
			ev := screen.PollEvent()
			switch e := ev.(type) {
			case *tcell.EventKey:
				keys <- e
			case *tcell.EventResize:
				screen.Sync()
			case nil:
				return
			}
		}
	}()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case e := <-keys:
			if !u.handleKey(e) {
				return
			}
		case <-ticker.C:
			dt := tickInterval.Seconds()
			u.viewer.Position = vmath.Extrapolate(u.viewer.Position, u.viewer.Velocity, dt)
			u.sys.Update(u.viewer)
			u.collectEvents()
			u.draw()
		}
	}
}

// handleKey applies vi-style movement; returns false to quit
func (u *ui) handleKey(e *tcell.EventKey) bool {
	if e.Key() == tcell.KeyEscape || e.Key() == tcell.KeyCtrlC {
		return false
	}
	switch e.Rune() {
	case 'q':
		return false
	case 'h':
		u.viewer.Velocity = vmath.Vec3{X: -u.speed}
	case 'l':
		u.viewer.Velocity = vmath.Vec3{X: u.speed}
	case 'k':
		u.viewer.Velocity = vmath.Vec3{Z: -u.speed}
	case 'j':
		u.viewer.Velocity = vmath.Vec3{Z: u.speed}
	case ' ':
		u.viewer.Velocity = vmath.Vec3{}
	case 'p':
		if u.sys.Paused() {
			u.sys.Resume()
		} else {
			u.sys.Pause()
		}
	case 'r':
		u.retryNearestFailed()
	}
	if e.Rune() != 0 && u.viewer.Velocity != (vmath.Vec3{}) {
		u.viewer.Forward = vmath.V3Normalize(u.viewer.Velocity)
	}
	return true
}

func (u *ui) retryNearestFailed() {
	var best string
	bestDist := 0.0
	for _, tile := range u.reg.Tiles() {
		if tile.State() != world.StateFailed {
			continue
		}
		d := tile.DistanceTo(u.viewer.Position)
		if best == "" || d < bestDist {
			best, bestDist = tile.Name, d
		}
	}
	if best != "" {
		if err := u.sys.RetryFailedTile(best); err == nil {
			u.pushLog(fmt.Sprintf("retry %s", best))
		}
	}
}

// fitWorld computes the world-space bounding box of all tiles
func (u *ui) fitWorld() {
	tiles := u.reg.Tiles()
	if len(tiles) == 0 {
		u.tileSize = 100
		return
	}
	min := tiles[0].Bounds.Min()
	u.tileSize = tiles[0].Bounds.Extents.X * 2
	for _, t := range tiles[1:] {
		lo := t.Bounds.Min()
		if lo.X < min.X {
			min.X = lo.X
		}
		if lo.Z < min.Z {
			min.Z = lo.Z
		}
	}
	u.origin = vmath.Vec3{X: min.X, Z: min.Z}
}

func (u *ui) collectEvents() {
	for _, ev := range u.sys.Events().Consume() {
		switch ev.Type {
		case event.TypeTileLoaded, event.TypeTileUnloaded, event.TypeTileFailed,
			event.TypeVolumeEntered, event.TypeVolumeExited, event.TypeBudgetPressure:
			u.pushLog(fmt.Sprintf("%s %s%s", ev.Type, ev.Tile, ev.Volume))
		}
	}
}

func (u *ui) pushLog(line string) {
	u.log = append(u.log, line)
	if len(u.log) > 6 {
		u.log = u.log[len(u.log)-6:]
	}
}

func stateStyle(s world.TileState) tcell.Style {
	base := tcell.StyleDefault
	switch s {
	case world.StateLoaded:
		return base.Foreground(tcell.ColorGreen)
	case world.StateLoading:
		return base.Foreground(tcell.ColorYellow)
	case world.StateUnloading:
		return base.Foreground(tcell.ColorBlue)
	case world.StateFailed:
		return base.Foreground(tcell.ColorRed)
	default:
		return base.Foreground(tcell.ColorGray)
	}
}

func stateRune(s world.TileState, lod int) rune {
	switch s {
	case world.StateLoaded:
		if lod > 0 {
			return 'o' // reduced detail
		}
		return 'O'
	case world.StateLoading:
		return '~'
	case world.StateUnloading:
		return '-'
	case world.StateFailed:
		return 'X'
	default:
		return '.'
	}
}

func (u *ui) draw() {
	u.screen.Clear()

	// Each tile occupies a 2-column cell below a 2-row header
	const cellW, top = 3, 2
	for _, tile := range u.reg.Tiles() {
		gx := int((tile.Bounds.Center.X - u.origin.X) / u.tileSize)
		gy := int((tile.Bounds.Center.Z - u.origin.Z) / u.tileSize)
		info := tile.Snapshot()
		style := stateStyle(info.State)
		if tile.AlwaysLoaded {
			style = style.Bold(true)
		}
		u.screen.SetContent(gx*cellW, top+gy, stateRune(info.State, info.LODLevel), nil, style)
	}

	// Viewer marker in grid space
	vx := int((u.viewer.Position.X - u.origin.X) / u.tileSize)
	vy := int((u.viewer.Position.Z - u.origin.Z) / u.tileSize)
	u.screen.SetContent(vx*cellW+1, top+vy, '@', nil,
		tcell.StyleDefault.Foreground(tcell.ColorWhite).Bold(true))

	u.drawStatus()
	u.screen.Show()
}

func (u *ui) drawStatus() {
	stats := u.sys.Statistics()
	paused := ""
	if u.sys.Paused() {
		paused = "  [PAUSED]"
	}
	line1 := fmt.Sprintf("loaded %d/%d  queue %d  mem %dMiB (peak %dMiB)%s",
		stats.LoadedTiles, stats.TotalTiles, stats.QueuedRequests,
		stats.CurrentMemory>>20, stats.PeakMemory>>20, paused)
	line2 := fmt.Sprintf("loads %d (fail %d, avg %s)  unloads %d  evict %d  cancel %d   hjkl move, space stop, p pause, r retry, q quit",
		stats.LoadsCompleted, stats.LoadsFailed, stats.AverageLoadTime.Round(time.Millisecond),
		stats.UnloadsCompleted, stats.Evictions, stats.RequestsCancelled)
	drawText(u.screen, 0, 0, line1, tcell.StyleDefault.Bold(true))
	drawText(u.screen, 0, 1, line2, tcell.StyleDefault)

	_, h := u.screen.Size()
	for i, line := range u.log {
		drawText(u.screen, 0, h-len(u.log)+i, line, tcell.StyleDefault.Foreground(tcell.ColorGray))
	}
}

func drawText(s tcell.Screen, x, y int, text string, style tcell.Style) {
	for i, r := range text {
		s.SetContent(x+i, y, r, nil, style)
	}
}

package stream

import (
	"io"
	"log/slog"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/driftworks/levelstream/parameter"
)

// Config is the world composition configuration, supplied once at world open
// Immutable for the session except where the system exposes explicit setters
// (pause/resume). TOML tags map the world file settings table; env tags allow
// deployment overrides without editing world files
type Config struct {
	TileSize                  float64 `toml:"tile_size" env:"LEVELSTREAM_TILE_SIZE"`
	MaxTilesX                 int     `toml:"max_tiles_x" env:"LEVELSTREAM_MAX_TILES_X"`
	MaxTilesY                 int     `toml:"max_tiles_y" env:"LEVELSTREAM_MAX_TILES_Y"`
	DefaultStreamingMethod    string  `toml:"default_streaming_method" env:"LEVELSTREAM_DEFAULT_METHOD"`
	DefaultStreamingDistance  float64 `toml:"default_streaming_distance" env:"LEVELSTREAM_STREAMING_DISTANCE"`
	DefaultUnloadingDistance  float64 `toml:"default_unloading_distance" env:"LEVELSTREAM_UNLOADING_DISTANCE"`
	EnablePredictiveStreaming bool    `toml:"enable_predictive_streaming" env:"LEVELSTREAM_PREDICTIVE"`
	PredictionTime            float64 `toml:"prediction_time" env:"LEVELSTREAM_PREDICTION_TIME"`
	MaxMemoryBudget           int64   `toml:"max_memory_budget" env:"LEVELSTREAM_MAX_MEMORY"`
	SoftMemoryLimit           int64   `toml:"soft_memory_limit" env:"LEVELSTREAM_SOFT_MEMORY"`
	EnableLOD                 bool    `toml:"enable_lod" env:"LEVELSTREAM_LOD"`
	LODBias                   float64 `toml:"lod_bias" env:"LEVELSTREAM_LOD_BIAS"`
	MaxConcurrentLoads        int     `toml:"max_concurrent_loads" env:"LEVELSTREAM_MAX_LOADS"`
	MaxLoadingFrameTimeMs     int     `toml:"max_loading_frame_time_ms" env:"LEVELSTREAM_FRAME_TIME_MS"`
	LoadInBackground          bool    `toml:"load_in_background" env:"LEVELSTREAM_BACKGROUND"`

	// Pipeline tuning; not part of the world file settings table
	MaxRetries      int           `toml:"-" env:"-"`
	RetryBaseDelay  time.Duration `toml:"-" env:"-"`
	RetryMaxDelay   time.Duration `toml:"-" env:"-"`
	RequeueDelay    time.Duration `toml:"-" env:"-"`
	ShutdownTimeout time.Duration `toml:"-" env:"-"`
	HysteresisTime  time.Duration `toml:"-" env:"-"`

	// Injected ambient collaborators; nil means discard logger / system clock
	Logger *slog.Logger `toml:"-" env:"-"`
	Clock  Clock        `toml:"-" env:"-"`
}

// DefaultConfig returns a configuration with all composition defaults applied
func DefaultConfig() Config {
	c := Config{
		TileSize:                 parameter.DefaultTileSize,
		DefaultStreamingMethod:   "distance",
		DefaultStreamingDistance: parameter.DefaultStreamingDistance,
		DefaultUnloadingDistance: parameter.DefaultUnloadingDistance,
		PredictionTime:           parameter.DefaultPredictionTime,
		MaxMemoryBudget:          parameter.DefaultMaxMemoryBudget,
		SoftMemoryLimit:          parameter.DefaultSoftMemoryLimit,
		EnableLOD:                true,
		LODBias:                  1.0,
		LoadInBackground:         true,
	}
	c.Sanitize()
	return c
}

// Sanitize fills zero fields with defaults and repairs inconsistent limits
func (c *Config) Sanitize() {
	if c.TileSize <= 0 {
		c.TileSize = parameter.DefaultTileSize
	}
	if c.DefaultStreamingDistance <= 0 {
		c.DefaultStreamingDistance = parameter.DefaultStreamingDistance
	}
	if c.DefaultUnloadingDistance <= c.DefaultStreamingDistance {
		c.DefaultUnloadingDistance = c.DefaultStreamingDistance * 1.5
	}
	if c.PredictionTime <= 0 {
		c.PredictionTime = parameter.DefaultPredictionTime
	}
	if c.MaxMemoryBudget <= 0 {
		c.MaxMemoryBudget = parameter.DefaultMaxMemoryBudget
	}
	if c.SoftMemoryLimit <= 0 || c.SoftMemoryLimit > c.MaxMemoryBudget {
		c.SoftMemoryLimit = c.MaxMemoryBudget * 3 / 4
	}
	if c.LODBias <= 0 {
		c.LODBias = parameter.DefaultLODBias
	}
	if c.MaxConcurrentLoads <= 0 {
		c.MaxConcurrentLoads = runtime.NumCPU()
	}
	if c.MaxLoadingFrameTimeMs <= 0 {
		c.MaxLoadingFrameTimeMs = int(parameter.DefaultMaxLoadingFrameTime / time.Millisecond)
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = parameter.DefaultMaxRetries
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = parameter.DefaultRetryBaseDelay
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = parameter.DefaultRetryMaxDelay
	}
	if c.RequeueDelay <= 0 {
		c.RequeueDelay = parameter.DefaultRequeueDelay
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = parameter.DefaultShutdownTimeout
	}
	if c.HysteresisTime <= 0 {
		c.HysteresisTime = parameter.DefaultLODHysteresisTime
	}
}

// ApplyEnv overrides composition settings from LEVELSTREAM_* variables
func (c *Config) ApplyEnv() error {
	return env.Parse(c)
}

// logger returns the configured logger, or a discard logger if nil
func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// clock returns the configured clock, or the system clock if nil
func (c Config) clock() Clock {
	if c.Clock != nil {
		return c.Clock
	}
	return SystemClock{}
}

// maxFrameTime converts the per-tick scheduling budget to a duration
func (c Config) maxFrameTime() time.Duration {
	return time.Duration(c.MaxLoadingFrameTimeMs) * time.Millisecond
}

package event

import (
	"time"

	"github.com/google/uuid"
)

// Type discriminates stream events
type Type uint8

const (
	TypeNone Type = iota
	TypeTileLoaded
	TypeTileUnloaded
	TypeTileFailed
	TypeRequestQueued
	TypeRequestCancelled
	TypeBudgetPressure
	TypeVolumeEntered
	TypeVolumeExited
)

func (t Type) String() string {
	switch t {
	case TypeTileLoaded:
		return "TileLoaded"
	case TypeTileUnloaded:
		return "TileUnloaded"
	case TypeTileFailed:
		return "TileFailed"
	case TypeRequestQueued:
		return "RequestQueued"
	case TypeRequestCancelled:
		return "RequestCancelled"
	case TypeBudgetPressure:
		return "BudgetPressure"
	case TypeVolumeEntered:
		return "VolumeEntered"
	case TypeVolumeExited:
		return "VolumeExited"
	default:
		return "None"
	}
}

// StreamEvent is one observability record emitted by the streaming core
// Value type, copied through the ring buffer; no retained references
type StreamEvent struct {
	Type      Type
	Tile      string
	Volume    string
	RequestID uuid.UUID
	Bytes     int64
	Attempt   int
	Err       string
	Time      time.Time
}

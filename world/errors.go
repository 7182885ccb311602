package world

import "errors"

// Structural errors are rejected synchronously at mutation or validation time,
// never deferred into the streaming pipeline
var (
	ErrTileExists          = errors.New("tile name already registered")
	ErrTileNotFound        = errors.New("tile not found")
	ErrVolumeExists        = errors.New("volume name already registered")
	ErrVolumeNotFound      = errors.New("volume not found")
	ErrInvalidTile         = errors.New("invalid tile descriptor")
	ErrDependencyViolation = errors.New("dependency violation")
	ErrMissingDependency   = errors.New("missing dependency target")
	ErrCyclicDependency    = errors.New("cyclic tile dependency")
	ErrIllegalTransition   = errors.New("illegal tile state transition")
)

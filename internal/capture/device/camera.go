// Package device owns the lifecycle of a camera acquisition: opening the
// device, waiting for a usable video surface, extracting encoded frames, and
// releasing the handle on every exit path.
package device

import (
	"context"
	"errors"
	"image"
)

// Platform errors returned by Camera and Stream implementations. Session maps
// them onto the Kind taxonomy.
var (
	ErrNotAllowed      = errors.New("camera access not allowed")
	ErrNoDevice        = errors.New("no camera device found")
	ErrNotReadable     = errors.New("camera could not be read")
	ErrOverconstrained = errors.New("no camera satisfies the requested constraints")
	ErrAutoplayBlocked = errors.New("playback requires a user gesture")
)

// FacingMode selects which camera to prefer on devices with several.
type FacingMode string

const (
	FacingUser        FacingMode = "user"
	FacingEnvironment FacingMode = "environment"
)

// Constraints are the acquisition parameters requested from the platform.
type Constraints struct {
	Width      int
	Height     int
	FacingMode FacingMode
	Audio      bool
}

// DefaultConstraints requests a user-facing 640x480 video-only stream.
func DefaultConstraints() Constraints {
	return Constraints{
		Width:      640,
		Height:     480,
		FacingMode: FacingUser,
		Audio:      false,
	}
}

// Camera acquires exclusive streams from a physical or virtual device.
type Camera interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is an acquired device handle bound to a display surface.
//
// Dimensions report 0x0 until the surface metadata resolves. Close must be
// safe to call more than once.
type Stream interface {
	Play(ctx context.Context) error
	WaitMetadata(ctx context.Context) error
	Dimensions() (width, height int)
	Snapshot() (image.Image, error)
	Close() error
}

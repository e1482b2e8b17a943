package device

import (
	"errors"
	"fmt"
)

// Kind classifies device-layer failures. Every kind is recoverable through an
// explicit user retry.
type Kind string

const (
	KindPermissionDenied         Kind = "permission_denied"
	KindDeviceNotFound           Kind = "device_not_found"
	KindDeviceBusy               Kind = "device_busy"
	KindConstraintsUnsatisfiable Kind = "constraints_unsatisfiable"
	KindInsecureContext          Kind = "insecure_context"
	KindPlaybackBlocked          Kind = "playback_blocked"
	KindUnknown                  Kind = "device_error"
)

// Error is a classified device failure with a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("device [%s]: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("device [%s]: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Message: messages[kind], Err: err}
}

var messages = map[Kind]string{
	KindPermissionDenied:         "Camera permission denied. Allow camera access and try again.",
	KindDeviceNotFound:           "No camera found. Connect a camera and try again.",
	KindDeviceBusy:               "Camera is in use by another application.",
	KindConstraintsUnsatisfiable: "Camera does not support the required resolution.",
	KindInsecureContext:          "Camera access requires a secure connection (HTTPS or localhost).",
	KindPlaybackBlocked:          "Tap to start the camera preview.",
	KindUnknown:                  "Unable to access the camera.",
}

// classify maps a platform error onto the device taxonomy.
func classify(err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	switch {
	case errors.Is(err, ErrNotAllowed):
		return newError(KindPermissionDenied, err)
	case errors.Is(err, ErrNoDevice):
		return newError(KindDeviceNotFound, err)
	case errors.Is(err, ErrNotReadable):
		return newError(KindDeviceBusy, err)
	case errors.Is(err, ErrOverconstrained):
		return newError(KindConstraintsUnsatisfiable, err)
	case errors.Is(err, ErrAutoplayBlocked):
		return newError(KindPlaybackBlocked, err)
	default:
		return newError(KindUnknown, err)
	}
}

// KindOf extracts the device error kind from err, or "" when err is not a
// device error.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

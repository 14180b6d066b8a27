package app

import (
	"context"
	"errors"

	"github.com/emmett/voxcmd/internal/audio"
	"github.com/emmett/voxcmd/internal/stt"
)

var (
	// ErrAlreadyRecording is returned when a recording is requested while
	// another one is active.
	ErrAlreadyRecording = errors.New("already recording")

	// ErrNotRecording is returned when stopping without an active manual recording.
	ErrNotRecording = errors.New("not recording")

	// ErrAlreadyListening is returned when background listening is already running.
	ErrAlreadyListening = errors.New("already listening")

	// ErrNotListening is returned when stopping background listening that is not running.
	ErrNotListening = errors.New("not listening")
)

// NeedsReconfiguration reports whether err can only be fixed by changing the
// model or device configuration. Retrying will not help.
func NeedsReconfiguration(err error) bool {
	return errors.Is(err, stt.ErrModelLoad) ||
		errors.Is(err, stt.ErrNotInitialized) ||
		errors.Is(err, audio.ErrDeviceNotFound)
}

// IsTransient reports whether err is worth retrying: a device hiccup or a
// single failed inference.
func IsTransient(err error) bool {
	if err == nil || NeedsReconfiguration(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, audio.ErrDeviceUnavailable) ||
		errors.Is(err, stt.ErrInference) ||
		errors.Is(err, ErrAlreadyRecording)
}

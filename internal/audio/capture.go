package audio

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TargetSampleRate is the rate every frame is delivered at, regardless of
// the device's native rate.
const TargetSampleRate = 16000

var (
	// ErrDeviceUnavailable is returned when a capture device cannot be
	// opened or stops delivering audio.
	ErrDeviceUnavailable = errors.New("audio device unavailable")

	// ErrDeviceNotFound is returned when the named device does not exist.
	// It wraps ErrDeviceUnavailable.
	ErrDeviceNotFound = fmt.Errorf("%w: device not found", ErrDeviceUnavailable)
)

// CaptureConfig holds configuration for audio capture
type CaptureConfig struct {
	// DeviceName selects the input device. Empty string = system default.
	DeviceName string

	// FrameSamples is the number of mono samples per frame at TargetSampleRate.
	// 480 samples = 30ms.
	FrameSamples int

	// QueueFrames bounds the frame queue. When the consumer falls behind the
	// oldest frames are dropped.
	QueueFrames int
}

// DefaultConfig returns a default capture configuration
func DefaultConfig() CaptureConfig {
	return CaptureConfig{
		DeviceName:   "",
		FrameSamples: 480, // 30ms at 16kHz
		QueueFrames:  200, // ~6 seconds
	}
}

// FrameDuration returns the wall-clock length of one frame.
func (c CaptureConfig) FrameDuration() time.Duration {
	return time.Duration(c.FrameSamples) * time.Second / TargetSampleRate
}

// Frame is a fixed-size block of mono PCM samples in [-1, 1].
type Frame struct {
	Samples    []float32
	SampleRate int
	Timestamp  time.Time
}

// Capturer is the interface for audio capture implementations
type Capturer interface {
	// Start opens the device and begins pushing frames into Frames().
	Start(ctx context.Context) error

	// Stop releases the device and closes the frame queue. It is idempotent
	// and may be called from any goroutine.
	Stop() error

	// Frames returns the queue frames are delivered to.
	Frames() *FrameQueue

	// IsRunning returns true if capture is currently active
	IsRunning() bool
}

// NewCapturerFunc constructs a capturer for one recording.
type NewCapturerFunc func(config CaptureConfig) (Capturer, error)

// NewCapturer creates a new audio capturer with the given configuration
func NewCapturer(config CaptureConfig) (Capturer, error) {
	return NewMalgoCapturer(config)
}

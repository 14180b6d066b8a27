package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

// MalgoCapturer implements the Capturer interface using malgo. The device is
// opened at its native rate and channel count; conversion to 16kHz mono
// happens in the callback through a Framer.
type MalgoCapturer struct {
	config       CaptureConfig
	device       *malgo.Device
	malgoContext *malgo.AllocatedContext
	framer       *Framer
	frames       *FrameQueue
	logger       *slog.Logger

	mu       sync.Mutex
	running  bool
	stopped  bool
	stopping atomic.Bool
	stopChan chan struct{}
}

// NewMalgoCapturer creates a new malgo-based audio capturer
func NewMalgoCapturer(config CaptureConfig) (*MalgoCapturer, error) {
	if config.FrameSamples <= 0 {
		config.FrameSamples = DefaultConfig().FrameSamples
	}
	if config.QueueFrames <= 0 {
		config.QueueFrames = DefaultConfig().QueueFrames
	}
	return &MalgoCapturer{
		config:   config,
		frames:   NewFrameQueue(config.QueueFrames),
		logger:   slog.Default().With("component", "capture"),
		stopChan: make(chan struct{}),
	}, nil
}

// Start opens the configured device and begins capture. A capturer can be
// started once; create a new one for the next recording.
func (m *MalgoCapturer) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running || m.stopped {
		m.mu.Unlock()
		return fmt.Errorf("capturer already used")
	}
	m.running = true
	m.mu.Unlock()

	if err := m.open(); err != nil {
		m.mu.Lock()
		m.running = false
		m.stopped = true
		m.mu.Unlock()
		m.frames.CloseWithError(err)
		return err
	}

	// Stop capture when the caller's context ends
	go func() {
		select {
		case <-ctx.Done():
			m.Stop()
		case <-m.stopChan:
		}
	}()

	return nil
}

func (m *MalgoCapturer) open() error {
	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("%w: init audio context: %v", ErrDeviceUnavailable, err)
	}
	m.malgoContext = malgoCtx

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 0 // native
	deviceConfig.SampleRate = 0       // native

	if m.config.DeviceName != "" {
		info, err := findCaptureDevice(malgoCtx, m.config.DeviceName)
		if err != nil {
			m.releaseContext()
			return err
		}
		deviceConfig.Capture.DeviceID = info.ID.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{
		Data: m.onData,
		Stop: m.onStop,
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		m.releaseContext()
		return fmt.Errorf("%w: open %q: %v", ErrDeviceUnavailable, m.deviceLabel(), err)
	}
	m.device = device
	m.framer = NewFramer(int(device.SampleRate()), int(device.CaptureChannels()), m.config.FrameSamples, m.frames)

	if err := device.Start(); err != nil {
		device.Uninit()
		m.releaseContext()
		return fmt.Errorf("%w: start %q: %v", ErrDeviceUnavailable, m.deviceLabel(), err)
	}

	m.logger.Debug("capture started",
		"device", m.deviceLabel(),
		"native_rate", device.SampleRate(),
		"channels", device.CaptureChannels(),
	)
	return nil
}

func (m *MalgoCapturer) onData(_, input []byte, _ uint32) {
	if m.stopping.Load() {
		return
	}
	var samples []float32
	if m.device.CaptureFormat() == malgo.FormatS16 {
		samples = DecodeS16LE(input)
	} else {
		samples = DecodeF32LE(input)
	}
	m.framer.Write(samples)
}

// onStop runs when the backend stops the device, including after our own
// Stop. Only an unrequested stop is reported to the consumer.
func (m *MalgoCapturer) onStop() {
	if m.stopping.Load() {
		return
	}
	m.logger.Warn("capture device stopped unexpectedly", "device", m.deviceLabel())
	m.frames.CloseWithError(fmt.Errorf("%w: %q stopped", ErrDeviceUnavailable, m.deviceLabel()))
}

// Stop stops audio capture and closes the frame queue. Safe to call more than
// once and from any goroutine.
func (m *MalgoCapturer) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.stopped = true
	m.mu.Unlock()

	m.stopping.Store(true)
	close(m.stopChan)

	var stopErr error
	if m.device != nil {
		if err := m.device.Stop(); err != nil {
			stopErr = fmt.Errorf("failed to stop device: %w", err)
		}
		m.device.Uninit()
	}
	m.releaseContext()
	m.frames.Close()

	if dropped := m.frames.Dropped(); dropped > 0 {
		m.logger.Warn("frames dropped during capture", "dropped", dropped)
	}

	return stopErr
}

func (m *MalgoCapturer) releaseContext() {
	if m.malgoContext != nil {
		_ = m.malgoContext.Uninit()
		m.malgoContext.Free()
		m.malgoContext = nil
	}
}

func (m *MalgoCapturer) deviceLabel() string {
	if m.config.DeviceName == "" {
		return "default"
	}
	return m.config.DeviceName
}

// Frames returns the queue captured frames are pushed into
func (m *MalgoCapturer) Frames() *FrameQueue {
	return m.frames
}

// IsRunning returns true if capture is currently active
func (m *MalgoCapturer) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

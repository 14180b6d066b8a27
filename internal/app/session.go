package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/emmett/voxcmd/internal/audio"
	"github.com/emmett/voxcmd/internal/command"
	"github.com/emmett/voxcmd/internal/observe"
	"github.com/emmett/voxcmd/internal/stt"
)

// RecordingBuffer is the append-only sample buffer of one recording. It is
// owned by a single goroutine at a time.
type RecordingBuffer struct {
	samples  []float32
	limit    int
	overflow bool
}

// NewRecordingBuffer creates a buffer holding at most limit samples
// (0 = unbounded).
func NewRecordingBuffer(limit int) *RecordingBuffer {
	return &RecordingBuffer{limit: limit}
}

// Append adds samples, discarding whatever exceeds the limit.
func (b *RecordingBuffer) Append(samples []float32) {
	if b.limit > 0 {
		room := b.limit - len(b.samples)
		if room <= 0 {
			b.overflow = true
			return
		}
		if len(samples) > room {
			samples = samples[:room]
			b.overflow = true
		}
	}
	b.samples = append(b.samples, samples...)
}

// Len returns the number of buffered samples
func (b *RecordingBuffer) Len() int {
	return len(b.samples)
}

// Finalize moves the samples out and leaves the buffer empty.
func (b *RecordingBuffer) Finalize() []float32 {
	s := b.samples
	b.samples = nil
	return s
}

// SessionConfig configures recordings
type SessionConfig struct {
	Capture audio.CaptureConfig
	VAD     audio.VADConfig

	// MaxManual caps a push-to-talk recording. Audio past the cap is dropped.
	MaxManual time.Duration

	// OneShotWait bounds how long a one-shot VAD recording waits for speech.
	OneShotWait time.Duration

	// DumpDir, when set, receives a WAV file per finalized recording.
	DumpDir string
}

// DefaultSessionConfig returns the default recording configuration
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Capture:     audio.DefaultConfig(),
		VAD:         audio.DefaultVADConfig(),
		MaxManual:   60 * time.Second,
		OneShotWait: 5 * time.Second,
	}
}

// RecordOptions configures one VAD-terminated recording
type RecordOptions struct {
	Owner Owner

	// MaxWait bounds the wait for speech to start. 0 waits until ctx ends.
	MaxWait time.Duration

	// OnSpeechStart runs when the VAD detects speech.
	OnSpeechStart func()

	// OnProcessing runs after capture ends, before inference.
	OnProcessing func()
}

// Session runs recordings: manual start/stop and VAD-terminated. At most
// one recording exists at a time; the StateHolder enforces it.
type Session struct {
	state       *StateHolder
	engine      *stt.Engine
	devices     *DeviceManager
	newCapturer audio.NewCapturerFunc
	config      SessionConfig
	logger      *slog.Logger
	metrics     *observe.Metrics
}

// NewSession creates a session. newCapturer may be nil to use malgo.
func NewSession(state *StateHolder, engine *stt.Engine, devices *DeviceManager, newCapturer audio.NewCapturerFunc, cfg SessionConfig, logger *slog.Logger, metrics *observe.Metrics) *Session {
	if newCapturer == nil {
		newCapturer = audio.NewCapturer
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Session{
		state:       state,
		engine:      engine,
		devices:     devices,
		newCapturer: newCapturer,
		config:      cfg,
		logger:      logger.With("component", "session"),
		metrics:     metrics,
	}
}

func (s *Session) newRecording(owner Owner, limit int) *recording {
	return &recording{
		id:      uuid.NewString(),
		owner:   owner,
		started: time.Now(),
		buffer:  NewRecordingBuffer(limit),
	}
}

// open starts a capturer on the currently selected device. The selection is
// read here, so a change only affects the next recording.
func (s *Session) open(ctx context.Context) (audio.Capturer, error) {
	cfg := s.config.Capture
	cfg.DeviceName = s.devices.SelectedDevice()

	capturer, err := s.newCapturer(cfg)
	if err != nil {
		return nil, err
	}
	if err := capturer.Start(ctx); err != nil {
		return nil, err
	}
	return capturer, nil
}

// StartRecording begins a manual recording that lasts until StopRecording.
func (s *Session) StartRecording(ctx context.Context) error {
	if !s.engine.IsLoaded() {
		return stt.ErrNotInitialized
	}

	limit := int(s.config.MaxManual.Seconds() * audio.TargetSampleRate)
	rec := s.newRecording(OwnerManual, limit)
	if err := s.state.beginRecording(rec); err != nil {
		return err
	}

	// The capture outlives the request that started it.
	capturer, err := s.open(context.WithoutCancel(ctx))
	if err != nil {
		s.state.endRecording(rec)
		s.metrics.RecordRecording(ctx, rec.owner.String(), "device_error")
		return err
	}

	rec.capturer = capturer
	rec.collected = make(chan struct{})
	go s.collect(rec)
	s.state.markReady(rec)

	s.logger.Debug("recording started", "id", rec.id, "device", s.devices.SelectedDevice())
	return nil
}

// collect drains the capture queue into the buffer until the queue closes.
func (s *Session) collect(rec *recording) {
	defer close(rec.collected)
	q := rec.capturer.Frames()
	for {
		f, err := q.Pop(context.Background())
		if err != nil {
			if !errors.Is(err, audio.ErrQueueClosed) {
				rec.collectErr = err
			}
			return
		}
		rec.buffer.Append(f.Samples)
	}
}

// StopRecording ends the manual recording, transcribes it and returns the
// result. The session is Idle again when it returns, even on error.
func (s *Session) StopRecording(ctx context.Context) (command.VoiceCommand, error) {
	rec, err := s.state.beginProcessing(OwnerManual)
	if err != nil {
		return command.VoiceCommand{}, err
	}
	defer s.state.endRecording(rec)

	s.stopCapture(ctx, rec)
	<-rec.collected
	if rec.collectErr != nil {
		s.logger.Warn("capture ended early", "id", rec.id, "error", rec.collectErr)
	}
	if rec.buffer.overflow {
		s.logger.Warn("recording truncated", "id", rec.id, "max", s.config.MaxManual)
	}

	return s.finish(ctx, rec, rec.buffer.Finalize())
}

// CancelRecording discards an active manual recording without transcribing.
func (s *Session) CancelRecording(ctx context.Context) error {
	rec, err := s.state.beginProcessing(OwnerManual)
	if err != nil {
		return err
	}
	defer s.state.endRecording(rec)

	s.stopCapture(ctx, rec)
	<-rec.collected
	rec.buffer.Finalize()
	s.metrics.RecordRecording(ctx, rec.owner.String(), "cancelled")
	return nil
}

// RecordWithVAD records until the VAD finalizes the utterance, then
// transcribes it. Cancelling ctx while capturing discards the recording;
// once inference has started it runs to completion.
func (s *Session) RecordWithVAD(ctx context.Context, opts RecordOptions) (command.VoiceCommand, error) {
	if !s.engine.IsLoaded() {
		return command.VoiceCommand{}, stt.ErrNotInitialized
	}

	vadCfg := s.config.VAD.Normalize()
	rec := s.newRecording(opts.Owner, vadCfg.MaxSpeechFrames*s.config.Capture.FrameSamples)
	if err := s.state.beginRecording(rec); err != nil {
		return command.VoiceCommand{}, err
	}

	capturer, err := s.open(ctx)
	if err != nil {
		s.state.endRecording(rec)
		s.metrics.RecordRecording(ctx, rec.owner.String(), "device_error")
		return command.VoiceCommand{}, err
	}
	rec.capturer = capturer
	s.state.markReady(rec)

	if opts.MaxWait > 0 {
		if fd := s.config.Capture.FrameDuration(); fd > 0 {
			vadCfg.MaxWaitFrames = int(opts.MaxWait / fd)
		}
	}

	samples, err := s.captureUtterance(ctx, rec, audio.NewVAD(vadCfg), opts)
	s.stopCapture(ctx, rec)
	if err != nil {
		s.state.endRecording(rec)
		outcome := "device_error"
		if ctx.Err() != nil {
			outcome = "aborted"
		}
		s.metrics.RecordRecording(ctx, rec.owner.String(), outcome)
		return command.VoiceCommand{}, err
	}

	if _, err := s.state.beginProcessing(opts.Owner); err != nil {
		s.state.endRecording(rec)
		return command.VoiceCommand{}, err
	}
	defer s.state.endRecording(rec)
	if opts.OnProcessing != nil {
		opts.OnProcessing()
	}

	return s.finish(ctx, rec, samples)
}

// captureUtterance feeds frames to vad and buffers the utterance. The frames
// that completed the speech debounce are kept so the utterance starts at its
// first loud frame.
func (s *Session) captureUtterance(ctx context.Context, rec *recording, vad *audio.VAD, opts RecordOptions) ([]float32, error) {
	keep := s.config.VAD.SpeechFrames - 1
	if keep < 0 {
		keep = 0
	}
	preroll := make([][]float32, 0, keep+1)
	q := rec.capturer.Frames()

	for {
		f, err := q.Pop(ctx)
		if err != nil {
			// capturers close the queue when ctx ends; that is an abort
			if cerr := ctx.Err(); cerr != nil {
				return nil, cerr
			}
			if errors.Is(err, audio.ErrQueueClosed) {
				return rec.buffer.Finalize(), nil
			}
			return nil, err
		}

		wasSpeaking := vad.IsSpeaking()
		ev := vad.ProcessFrame(f.Samples)
		switch {
		case ev == audio.EventSpeechStart:
			for _, p := range preroll {
				rec.buffer.Append(p)
			}
			preroll = preroll[:0]
			rec.buffer.Append(f.Samples)
			s.logger.Debug("speech started", "id", rec.id, "energy", vad.LastEnergy())
			if opts.OnSpeechStart != nil {
				opts.OnSpeechStart()
			}
		case wasSpeaking:
			rec.buffer.Append(f.Samples)
		case keep > 0:
			if len(preroll) == keep {
				copy(preroll, preroll[1:])
				preroll = preroll[:keep-1]
			}
			preroll = append(preroll, f.Samples)
		}

		if ev.Final() {
			s.logger.Debug("utterance finalized", "id", rec.id, "event", ev.String(), "samples", rec.buffer.Len())
			return rec.buffer.Finalize(), nil
		}
	}
}

func (s *Session) stopCapture(ctx context.Context, rec *recording) {
	if err := rec.capturer.Stop(); err != nil {
		s.logger.Warn("failed to stop capture", "id", rec.id, "error", err)
	}
	s.metrics.RecordDroppedFrames(ctx, rec.capturer.Frames().Dropped())
}

// finish dumps and transcribes a finalized recording. Inference is not
// cancelled by ctx.
func (s *Session) finish(ctx context.Context, rec *recording, samples []float32) (command.VoiceCommand, error) {
	if s.config.DumpDir != "" && len(samples) > 0 {
		path := filepath.Join(s.config.DumpDir, rec.id+".wav")
		if err := audio.WriteWAV(path, samples, audio.TargetSampleRate); err != nil {
			s.logger.Warn("failed to dump recording", "path", path, "error", err)
		}
	}

	res, err := s.engine.Transcribe(context.WithoutCancel(ctx), samples)
	if err != nil {
		s.metrics.RecordRecording(ctx, rec.owner.String(), "inference_error")
		return command.VoiceCommand{}, fmt.Errorf("transcribe recording %s: %w", rec.id, err)
	}

	cmd := command.NewVoiceCommand(res.Text, res.Confidence)
	cmd.ID = rec.id
	s.metrics.RecordRecording(ctx, rec.owner.String(), "ok")
	s.logger.Debug("recording transcribed",
		"id", rec.id,
		"owner", rec.owner.String(),
		"seconds", float64(len(samples))/audio.TargetSampleRate,
		"text", cmd.Text,
	)
	return cmd, nil
}

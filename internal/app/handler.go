package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/hashicorp/go-multierror"

	"github.com/emmett/voxcmd/internal/audio"
	"github.com/emmett/voxcmd/internal/command"
	"github.com/emmett/voxcmd/internal/models"
	"github.com/emmett/voxcmd/internal/observe"
	"github.com/emmett/voxcmd/internal/stt"
)

// HandlerConfig holds everything needed to assemble a Handler
type HandlerConfig struct {
	Session  SessionConfig
	Listener ListenerConfig

	// Triggers replaces the built-in command table when non-empty
	Triggers []command.Trigger

	// ModelsDir is where bare model names are resolved
	ModelsDir string

	ModelConfig stt.ModelConfig

	// Device is the initially selected input device ("" = default)
	Device string
}

// DefaultHandlerConfig returns the default handler configuration
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		Session:     DefaultSessionConfig(),
		Listener:    DefaultListenerConfig(),
		ModelsDir:   "models",
		ModelConfig: stt.DefaultModelConfig(),
	}
}

type handlerOptions struct {
	newCapturer audio.NewCapturerFunc
	listDevices func() ([]audio.DeviceInfo, error)
	loader      stt.Loader
	cmdLog      CommandLogger
	logger      *slog.Logger
	metrics     *observe.Metrics
	onCommand   CommandFunc
	onError     func(error)
}

// HandlerOption configures a Handler
type HandlerOption func(*handlerOptions)

// WithCapturerFactory replaces the malgo capturer
func WithCapturerFactory(f audio.NewCapturerFunc) HandlerOption {
	return func(o *handlerOptions) { o.newCapturer = f }
}

// WithDeviceLister replaces malgo device enumeration
func WithDeviceLister(f func() ([]audio.DeviceInfo, error)) HandlerOption {
	return func(o *handlerOptions) { o.listDevices = f }
}

// WithModelLoader replaces the whisper/vosk loader
func WithModelLoader(l stt.Loader) HandlerOption {
	return func(o *handlerOptions) { o.loader = l }
}

// WithCommandLog sets where recognized commands are appended. The handler
// closes it on Close if it implements io.Closer.
func WithCommandLog(l CommandLogger) HandlerOption {
	return func(o *handlerOptions) { o.cmdLog = l }
}

// WithHandlerLogger sets the logger
func WithHandlerLogger(l *slog.Logger) HandlerOption {
	return func(o *handlerOptions) { o.logger = l }
}

// WithHandlerMetrics sets the metrics sink
func WithHandlerMetrics(m *observe.Metrics) HandlerOption {
	return func(o *handlerOptions) { o.metrics = m }
}

// OnCommand sets the callback for commands recognized by background listening
func OnCommand(f CommandFunc) HandlerOption {
	return func(o *handlerOptions) { o.onCommand = f }
}

// OnListenerError sets the callback for a terminal background listening error
func OnListenerError(f func(error)) HandlerOption {
	return func(o *handlerOptions) { o.onError = f }
}

// RecordingStatus is a point-in-time view of the engine
type RecordingStatus struct {
	// IsRecording is set while audio is being kept: a manual or one-shot
	// recording, or a background utterance after speech started. The
	// background loop waiting for speech reports Session "recording" with
	// IsRecording false.
	IsRecording   bool   `json:"is_recording"`
	IsListening   bool   `json:"is_listening"`
	Session       string `json:"session"`
	State         string `json:"state"`
	Owner         string `json:"owner,omitempty"`
	DurationMs    int64  `json:"duration_ms"`
	DroppedFrames uint64 `json:"dropped_frames"`
	ModelPath     string `json:"model_path"`
	Device        string `json:"device"`
}

// Handler is the entry point for every control surface: CLI, gRPC and MCP
// all drive the engine through it.
type Handler struct {
	engine     *stt.Engine
	devices    *DeviceManager
	state      *StateHolder
	session    *Session
	listener   *Listener
	classifier *command.Classifier
	cmdLog     CommandLogger
	modelsDir  string
	logger     *slog.Logger
}

// NewHandler wires the engine components together. No model is loaded and
// no device is opened until asked for.
func NewHandler(cfg HandlerConfig, opts ...HandlerOption) *Handler {
	o := handlerOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	if o.loader == nil {
		o.loader = stt.DefaultLoader(cfg.ModelConfig)
	}

	engine := stt.NewEngine(
		stt.WithLoader(o.loader),
		stt.WithLogger(o.logger.With("component", "stt")),
		stt.WithMetrics(o.metrics),
	)

	devices := NewDeviceManager(o.logger)
	if o.listDevices != nil {
		devices.list = o.listDevices
	}
	if cfg.Device != "" {
		devices.SelectDevice(cfg.Device)
	}

	state := NewStateHolder()
	session := NewSession(state, engine, devices, o.newCapturer, cfg.Session, o.logger, o.metrics)
	classifier := command.NewClassifier(cfg.Triggers)

	listener := NewListener(session, classifier, o.cmdLog, cfg.Listener, o.logger, o.metrics)
	listener.OnCommand = o.onCommand
	listener.OnError = o.onError

	return &Handler{
		engine:     engine,
		devices:    devices,
		state:      state,
		session:    session,
		listener:   listener,
		classifier: classifier,
		cmdLog:     o.cmdLog,
		modelsDir:  cfg.ModelsDir,
		logger:     o.logger,
	}
}

// Initialize loads a model by path or by name from the models directory and
// returns the resolved path. A failure leaves the previous model loaded.
func (h *Handler) Initialize(pathOrName string) (string, error) {
	path, err := models.Resolve(h.modelsDir, pathOrName)
	if err != nil {
		return "", fmt.Errorf("%w: %w", stt.ErrModelLoad, err)
	}
	if err := h.engine.Load(path); err != nil {
		return "", err
	}
	return path, nil
}

// IsInitialized reports whether a model is loaded
func (h *Handler) IsInitialized() bool {
	return h.engine.IsLoaded()
}

// ModelPath returns the loaded model path, or ""
func (h *Handler) ModelPath() string {
	return h.engine.ModelPath()
}

// ListModels returns the models available in the models directory
func (h *Handler) ListModels() ([]models.Info, error) {
	return models.List(h.modelsDir)
}

// ListDevices returns the capture devices. It never fails.
func (h *Handler) ListDevices() []audio.DeviceInfo {
	return h.devices.ListDevices()
}

// SetDevice selects the input device for the next recording
func (h *Handler) SetDevice(name string) {
	h.devices.SelectDevice(name)
}

// SelectedDevice returns the selected device name, "" for the default
func (h *Handler) SelectedDevice() string {
	return h.devices.SelectedDevice()
}

// StartRecording begins a manual recording
func (h *Handler) StartRecording(ctx context.Context) error {
	return h.session.StartRecording(ctx)
}

// StopRecording ends the manual recording and returns its transcription
func (h *Handler) StopRecording(ctx context.Context) (command.VoiceCommand, error) {
	cmd, err := h.session.StopRecording(ctx)
	if err != nil {
		return cmd, err
	}
	h.logCommand(cmd)
	return cmd, nil
}

// CancelRecording discards the manual recording
func (h *Handler) CancelRecording(ctx context.Context) error {
	return h.session.CancelRecording(ctx)
}

// RecordCommandWithVAD records one utterance, waiting a bounded time for
// speech to start, and returns its transcription. No speech yields an empty
// command.
func (h *Handler) RecordCommandWithVAD(ctx context.Context) (command.VoiceCommand, error) {
	cmd, err := h.session.RecordWithVAD(ctx, RecordOptions{
		Owner:   OwnerOneShot,
		MaxWait: h.session.config.OneShotWait,
	})
	if err != nil {
		return cmd, err
	}
	h.logCommand(cmd)
	return cmd, nil
}

// Transcribe runs stored 16kHz mono samples through the loaded model. It does
// not touch the recording session.
func (h *Handler) Transcribe(ctx context.Context, samples []float32) (command.VoiceCommand, error) {
	res, err := h.engine.Transcribe(ctx, samples)
	if err != nil {
		return command.VoiceCommand{}, err
	}
	return command.NewVoiceCommand(res.Text, res.Confidence), nil
}

// StartBackgroundListening starts the listening loop
func (h *Handler) StartBackgroundListening(ctx context.Context) error {
	return h.listener.Start(ctx)
}

// StopBackgroundListening stops the listening loop and waits for it to exit
func (h *Handler) StopBackgroundListening(ctx context.Context) error {
	return h.listener.Stop(ctx)
}

// IsBackgroundListening reports whether the listening loop is running
func (h *Handler) IsBackgroundListening() bool {
	return h.listener.IsListening()
}

// ListenerErr returns the error that ended background listening, if any
func (h *Handler) ListenerErr() error {
	return h.listener.Err()
}

// ProcessVoiceCommand classifies a recognized command
func (h *Handler) ProcessVoiceCommand(cmd command.VoiceCommand) (command.Type, bool) {
	return h.classifier.Classify(cmd.Text)
}

// Classify classifies free text
func (h *Handler) Classify(text string) (command.Type, bool) {
	return h.classifier.Classify(text)
}

// Status reports the current recording and listening state
func (h *Handler) Status() RecordingStatus {
	snap := h.state.Snapshot()
	st := RecordingStatus{
		IsRecording:   snap.Session == SessionRecording && (snap.Owner != OwnerBackground || snap.Listen == ListenRecording),
		IsListening:   snap.Listen != ListenIdle,
		Session:       snap.Session.String(),
		State:         snap.Listen.String(),
		DurationMs:    snap.RecordingFor.Milliseconds(),
		DroppedFrames: snap.DroppedFrames,
		ModelPath:     h.engine.ModelPath(),
		Device:        h.devices.SelectedDevice(),
	}
	if snap.Session != SessionIdle {
		st.Owner = snap.Owner.String()
	}
	return st
}

func (h *Handler) logCommand(cmd command.VoiceCommand) {
	if h.cmdLog == nil || cmd.IsEmpty() {
		return
	}
	if err := h.cmdLog.Log(cmd); err != nil {
		h.logger.Warn("failed to log command", "error", err)
	}
}

// Close stops listening, discards a manual recording and unloads the model.
func (h *Handler) Close(ctx context.Context) error {
	var result *multierror.Error

	if err := h.listener.Stop(ctx); err != nil && !errors.Is(err, ErrNotListening) {
		result = multierror.Append(result, fmt.Errorf("stop listening: %w", err))
	}
	if err := h.session.CancelRecording(ctx); err != nil && !errors.Is(err, ErrNotRecording) {
		result = multierror.Append(result, fmt.Errorf("cancel recording: %w", err))
	}
	if err := h.engine.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close model: %w", err))
	}
	if c, ok := h.cmdLog.(io.Closer); ok {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close command log: %w", err))
		}
	}

	return result.ErrorOrNil()
}

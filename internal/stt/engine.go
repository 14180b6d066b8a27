package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emmett/voxcmd/internal/observe"
)

var (
	// ErrModelLoad is returned when a model cannot be loaded.
	ErrModelLoad = errors.New("model load failed")

	// ErrNotInitialized is returned when transcription is requested before a
	// model has been loaded.
	ErrNotInitialized = errors.New("speech engine not initialized")

	// ErrInference is returned when the backend fails while transcribing.
	ErrInference = errors.New("inference failed")
)

// Result represents a speech recognition result
type Result struct {
	// Text is the recognized text, trimmed
	Text string

	// Confidence is the recognition confidence (0.0 to 1.0)
	Confidence float64
}

// Model is a loaded acoustic model. Implementations need not be safe for
// concurrent use; Engine serializes every call.
type Model interface {
	// Transcribe converts 16kHz mono samples to text
	Transcribe(samples []float32) (Result, error)

	// Close releases the model
	Close() error
}

// Loader opens the model stored at path.
type Loader func(path string) (Model, error)

type loadedModel struct {
	path    string
	backend string
}

// Engine owns the loaded model behind a single exclusive guard. Every
// Transcribe call holds the guard for the whole inference; Load swaps models
// under the same guard so a caller only ever sees the old or the new model.
type Engine struct {
	loader  Loader
	logger  *slog.Logger
	metrics *observe.Metrics

	loadMu sync.Mutex // serializes Load calls

	mu    sync.Mutex // guards model
	model Model

	info atomic.Pointer[loadedModel]
}

// Option configures an Engine
type Option func(*Engine)

// WithLoader sets the function used to open models
func WithLoader(l Loader) Option {
	return func(e *Engine) { e.loader = l }
}

// WithLogger sets the engine logger
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an engine with no model loaded
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		loader: DefaultLoader(DefaultModelConfig()),
	}
	for _, o := range opts {
		o(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e
}

// Load opens the model at path and makes it current. The previous model, if
// any, stays usable until the new one is fully loaded and is closed only
// after the swap. On failure the previous model remains loaded.
func (e *Engine) Load(path string) error {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	if path == "" {
		return fmt.Errorf("%w: empty model path", ErrModelLoad)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %v", ErrModelLoad, err)
	}

	start := time.Now()
	model, err := e.loader(path)
	if err != nil {
		e.metrics.RecordModelLoad(context.Background(), false)
		return fmt.Errorf("%w: %s: %v", ErrModelLoad, path, err)
	}
	if model == nil {
		e.metrics.RecordModelLoad(context.Background(), false)
		return fmt.Errorf("%w: %s: loader returned no model", ErrModelLoad, path)
	}

	e.mu.Lock()
	old := e.model
	e.model = model
	e.info.Store(&loadedModel{path: path, backend: BackendName(model)})
	e.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			e.logger.Warn("failed to close previous model", "error", err)
		}
	}

	e.metrics.RecordModelLoad(context.Background(), true)
	e.logger.Info("model loaded",
		"path", path,
		"backend", BackendName(model),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return nil
}

// Transcribe runs inference on samples. It blocks while another call holds
// the model and for the duration of inference. ctx is checked before
// inference starts; once started, inference runs to completion.
func (e *Engine) Transcribe(ctx context.Context, samples []float32) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.model == nil {
		return Result{}, ErrNotInitialized
	}
	if len(samples) == 0 {
		return Result{}, nil
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	start := time.Now()
	res, err := e.model.Transcribe(samples)
	e.metrics.RecordTranscription(ctx, time.Since(start), e.backend(), err)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrInference, err)
	}

	res.Confidence = clamp01(res.Confidence)
	e.logger.Debug("transcribed",
		"samples", len(samples),
		"elapsed", time.Since(start).Round(time.Millisecond),
		"confidence", res.Confidence,
	)
	return res, nil
}

// IsLoaded reports whether a model is loaded. It does not wait for an
// in-flight inference.
func (e *Engine) IsLoaded() bool {
	return e.info.Load() != nil
}

// ModelPath returns the path of the loaded model, or "".
func (e *Engine) ModelPath() string {
	if info := e.info.Load(); info != nil {
		return info.path
	}
	return ""
}

func (e *Engine) backend() string {
	if info := e.info.Load(); info != nil {
		return info.backend
	}
	return ""
}

// Close unloads the model. It waits for an in-flight inference.
func (e *Engine) Close() error {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.model == nil {
		return nil
	}
	err := e.model.Close()
	e.model = nil
	e.info.Store(nil)
	return err
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/emmett/voxcmd/internal/command"
	"github.com/emmett/voxcmd/internal/observe"
	"github.com/emmett/voxcmd/internal/stt"
)

// CommandLogger persists recognized commands. Failures are reported to the
// caller's log only; they never affect recording.
type CommandLogger interface {
	Log(cmd command.VoiceCommand) error
}

// CommandFunc receives every non-empty command recognized by the loop.
// ok is false when the text matched no trigger.
type CommandFunc func(cmd command.VoiceCommand, typ command.Type, ok bool)

// ListenerConfig configures background listening
type ListenerConfig struct {
	// RetryBudget is how many consecutive transient failures are tolerated
	// before the loop gives up.
	RetryBudget int

	// RetryDelay is the pause after a failed iteration
	RetryDelay time.Duration
}

// DefaultListenerConfig returns the default background listening configuration
func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		RetryBudget: 3,
		RetryDelay:  time.Second,
	}
}

// Listener runs the background listening loop: record an utterance with the
// VAD, transcribe it, classify it, repeat. Stop is cooperative: it cancels a
// capture in progress but never interrupts inference.
type Listener struct {
	session    *Session
	state      *StateHolder
	classifier *command.Classifier
	cmdLog     CommandLogger
	config     ListenerConfig
	logger     *slog.Logger
	metrics    *observe.Metrics

	// OnCommand and OnError must be set before Start.
	OnCommand CommandFunc
	OnError   func(error)

	mu     sync.Mutex // serializes Start and Stop
	cancel context.CancelFunc
	done   chan struct{}

	errMu sync.Mutex
	err   error
}

// NewListener creates a listener over session. cmdLog may be nil.
func NewListener(session *Session, classifier *command.Classifier, cmdLog CommandLogger, cfg ListenerConfig, logger *slog.Logger, metrics *observe.Metrics) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if cfg.RetryBudget < 0 {
		cfg.RetryBudget = 0
	}
	return &Listener{
		session:    session,
		state:      session.state,
		classifier: classifier,
		cmdLog:     cmdLog,
		config:     cfg,
		logger:     logger.With("component", "listener"),
		metrics:    metrics,
	}
}

// Start begins background listening. The loop outlives ctx; use Stop.
func (l *Listener) Start(ctx context.Context) error {
	if !l.session.engine.IsLoaded() {
		return stt.ErrNotInitialized
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.state.beginListening(); err != nil {
		return err
	}

	if l.cancel != nil {
		// release the context of a loop that ended on its own
		l.cancel()
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.cancel = cancel
	l.done = make(chan struct{})
	l.setErr(nil)

	go l.run(loopCtx, l.done)

	l.logger.Info("background listening started")
	return nil
}

// Stop cancels the loop and waits for it to exit. A recording being
// captured is discarded; an inference in progress finishes first. Once Stop
// returns nil the listener is Idle.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.state.IsListening() || l.cancel == nil {
		return ErrNotListening
	}

	l.cancel()
	select {
	case <-l.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	l.cancel = nil
	l.logger.Info("background listening stopped")
	return nil
}

// IsListening reports whether the loop is running
func (l *Listener) IsListening() bool {
	return l.state.IsListening()
}

// Err returns the error that ended the last loop, if it ended on its own.
func (l *Listener) Err() error {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	return l.err
}

func (l *Listener) setErr(err error) {
	l.errMu.Lock()
	l.err = err
	l.errMu.Unlock()
}

func (l *Listener) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer l.state.endListening()

	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}
		l.state.setListen(ListenListening)

		cmd, err := l.session.RecordWithVAD(ctx, RecordOptions{
			Owner:         OwnerBackground,
			OnSpeechStart: func() { l.state.setListen(ListenRecording) },
			OnProcessing:  func() { l.state.setListen(ListenProcessing) },
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, ErrAlreadyRecording) {
				// Another recording holds the session; wait it out.
				l.logger.Debug("session busy, waiting for release")
				select {
				case <-ctx.Done():
					return
				case <-l.state.whenReleased():
				}
				continue
			}
			if NeedsReconfiguration(err) {
				l.metrics.RecordListenerError(ctx, true)
				l.fail(err)
				return
			}

			failures++
			l.metrics.RecordListenerError(ctx, false)
			if failures > l.config.RetryBudget {
				l.fail(fmt.Errorf("background listening gave up after %d consecutive failures: %w", failures, err))
				return
			}
			l.logger.Warn("listening iteration failed, retrying",
				"attempt", failures,
				"budget", l.config.RetryBudget,
				"error", err,
			)
			if !l.sleep(ctx) {
				return
			}
			continue
		}

		failures = 0
		if cmd.IsEmpty() {
			continue
		}
		l.dispatch(ctx, cmd)
	}
}

func (l *Listener) dispatch(ctx context.Context, cmd command.VoiceCommand) {
	typ, ok := l.classifier.Classify(cmd.Text)
	if ok {
		l.metrics.RecordCommand(ctx, string(typ))
	}
	l.logger.Info("voice command", "text", cmd.Text, "confidence", cmd.Confidence, "command", string(typ))

	if l.cmdLog != nil {
		if err := l.cmdLog.Log(cmd); err != nil {
			l.logger.Warn("failed to log command", "error", err)
		}
	}
	if l.OnCommand != nil {
		l.OnCommand(cmd, typ, ok)
	}
}

func (l *Listener) fail(err error) {
	l.setErr(err)
	l.logger.Error("background listening stopped", "error", err, "needs_reconfiguration", NeedsReconfiguration(err))
	if l.OnError != nil {
		l.OnError(err)
	}
}

// sleep waits RetryDelay and reports whether the loop should continue.
func (l *Listener) sleep(ctx context.Context) bool {
	if l.config.RetryDelay <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(l.config.RetryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

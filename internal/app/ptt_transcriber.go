package app

import (
	"context"
	"errors"
	"log/slog"
)

// PushToTalk turns a stream of toggle events (typically from a global
// hotkey) into manual recordings. Each stop transcribes and classifies the
// recording and hands the result to OnCommand.
type PushToTalk struct {
	handler *Handler
	logger  *slog.Logger

	// OnCommand receives every stopped recording, including empty ones.
	OnCommand CommandFunc

	// OnRecording is told when a recording starts (true) or stops (false).
	OnRecording func(recording bool)

	// OnError receives start and stop failures. The loop keeps running.
	OnError func(error)
}

// NewPushToTalk creates a push-to-talk controller over h
func NewPushToTalk(h *Handler, logger *slog.Logger) *PushToTalk {
	if logger == nil {
		logger = slog.Default()
	}
	return &PushToTalk{
		handler: h,
		logger:  logger.With("component", "ptt"),
	}
}

// Run handles toggles until ctx is done or toggles is closed. A recording
// still running at exit is discarded.
func (p *PushToTalk) Run(ctx context.Context, toggles <-chan bool) error {
	defer func() {
		if err := p.handler.CancelRecording(context.WithoutCancel(ctx)); err == nil {
			p.logger.Info("discarded unfinished recording")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case recording, ok := <-toggles:
			if !ok {
				return nil
			}
			p.Toggle(ctx, recording)
		}
	}
}

// Toggle starts a recording when recording is true and stops it otherwise.
func (p *PushToTalk) Toggle(ctx context.Context, recording bool) {
	if recording {
		if err := p.handler.StartRecording(ctx); err != nil {
			p.report(err)
			return
		}
		if p.OnRecording != nil {
			p.OnRecording(true)
		}
		return
	}

	cmd, err := p.handler.StopRecording(ctx)
	if errors.Is(err, ErrNotRecording) {
		// the matching start failed and was already reported
		return
	}
	if p.OnRecording != nil {
		p.OnRecording(false)
	}
	if err != nil {
		p.report(err)
		return
	}

	typ, ok := p.handler.ProcessVoiceCommand(cmd)
	if p.OnCommand != nil {
		p.OnCommand(cmd, typ, ok)
	}
}

func (p *PushToTalk) report(err error) {
	p.logger.Warn("push-to-talk failed", "error", err)
	if p.OnError != nil {
		p.OnError(err)
	}
}

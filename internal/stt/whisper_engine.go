package stt

import (
	"errors"
	"fmt"
	"io"
	"strings"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// WhisperModel implements Model using whisper.cpp. A fresh context is created
// for every call; the model weights are shared.
type WhisperModel struct {
	model    whisper.Model
	language string
	threads  int
}

// NewWhisperModel loads a ggml model file
func NewWhisperModel(path string, cfg ModelConfig) (*WhisperModel, error) {
	model, err := whisper.New(path)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", path, err)
	}
	return &WhisperModel{
		model:    model,
		language: cfg.Language,
		threads:  cfg.Threads,
	}, nil
}

// Name returns the backend name
func (w *WhisperModel) Name() string {
	return "whisper"
}

// Transcribe runs greedy decoding over samples and joins the segments.
// Confidence is the mean token probability.
func (w *WhisperModel) Transcribe(samples []float32) (Result, error) {
	wctx, err := w.model.NewContext()
	if err != nil {
		return Result{}, fmt.Errorf("whisper: create context: %w", err)
	}

	wctx.SetTranslate(false)
	if w.language != "" {
		if err := wctx.SetLanguage(w.language); err != nil {
			return Result{}, fmt.Errorf("whisper: set language %q: %w", w.language, err)
		}
	}
	if w.threads > 0 {
		wctx.SetThreads(uint(w.threads))
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return Result{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var (
		parts   []string
		probSum float64
		tokens  int
	)
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
		for _, tok := range segment.Tokens {
			probSum += float64(tok.P)
			tokens++
		}
	}

	res := Result{Text: strings.Join(parts, " ")}
	if tokens > 0 && res.Text != "" {
		res.Confidence = probSum / float64(tokens)
	}
	return res, nil
}

// Close releases the model
func (w *WhisperModel) Close() error {
	if w.model == nil {
		return nil
	}
	err := w.model.Close()
	w.model = nil
	return err
}

package stt

import (
	"fmt"
	"os"
)

// ModelConfig holds backend settings applied when a model is opened
type ModelConfig struct {
	// Language is the spoken language hint, e.g. "en". Empty = backend default.
	Language string

	// Threads is the number of inference threads. 0 = backend default.
	Threads int

	// SampleRate is the rate samples are delivered at
	SampleRate int
}

// DefaultModelConfig returns a default model configuration
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		Language:   "en",
		Threads:    0,
		SampleRate: 16000,
	}
}

// DefaultLoader picks the backend from the shape of the model path: a
// directory is a Vosk model, a single file is a whisper.cpp ggml model.
func DefaultLoader(cfg ModelConfig) Loader {
	return func(path string) (Model, error) {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			return NewVoskModel(path, cfg)
		}
		return NewWhisperModel(path, cfg)
	}
}

// BackendName returns a short name for the model's backend.
func BackendName(m Model) string {
	if n, ok := m.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", m)
}

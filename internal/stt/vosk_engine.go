package stt

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	vosk "github.com/alphacep/vosk-api/go"
)

// VoskModel implements Model using Vosk
type VoskModel struct {
	model      *vosk.VoskModel
	sampleRate float64
}

// VoskResult represents the JSON result from Vosk
type VoskResult struct {
	Text   string `json:"text"`
	Result []struct {
		Conf  float64 `json:"conf"`
		End   float64 `json:"end"`
		Start float64 `json:"start"`
		Word  string  `json:"word"`
	} `json:"result,omitempty"`
}

// NewVoskModel loads a Vosk model directory
func NewVoskModel(path string, cfg ModelConfig) (*VoskModel, error) {
	// Set log level (0 = errors only, higher = more verbose)
	vosk.SetLogLevel(-1)

	model, err := vosk.NewModel(path)
	if err != nil {
		return nil, fmt.Errorf("vosk: load model from %s: %w", path, err)
	}
	if model == nil {
		return nil, fmt.Errorf("vosk: load model from %s: model returned nil", path)
	}

	rate := cfg.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	return &VoskModel{model: model, sampleRate: float64(rate)}, nil
}

// Name returns the backend name
func (v *VoskModel) Name() string {
	return "vosk"
}

// Transcribe feeds the whole recording to a fresh recognizer and returns
// the final result.
func (v *VoskModel) Transcribe(samples []float32) (Result, error) {
	recognizer, err := vosk.NewRecognizer(v.model, v.sampleRate)
	if err != nil {
		return Result{}, fmt.Errorf("vosk: create recognizer: %w", err)
	}
	defer recognizer.Free()

	// Always enable word results to get confidence scores
	recognizer.SetWords(1)

	if state := recognizer.AcceptWaveform(floatToPCM16(samples)); state < 0 {
		return Result{}, fmt.Errorf("vosk: accept waveform failed")
	}

	var voskResult VoskResult
	if err := json.Unmarshal([]byte(recognizer.FinalResult()), &voskResult); err != nil {
		return Result{}, fmt.Errorf("vosk: parse final result: %w", err)
	}

	return Result{
		Text:       strings.TrimSpace(voskResult.Text),
		Confidence: calculateAverageConfidence(voskResult),
	}, nil
}

// Close releases the model
func (v *VoskModel) Close() error {
	if v.model != nil {
		v.model.Free()
		v.model = nil
	}
	return nil
}

// floatToPCM16 converts samples in [-1, 1] to little-endian 16-bit PCM
func floatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		s = float32(math.Max(-1, math.Min(1, float64(s))))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s*32767)))
	}
	return out
}

// calculateAverageConfidence calculates the average confidence from word results
func calculateAverageConfidence(result VoskResult) float64 {
	if len(result.Result) == 0 {
		return 0.0
	}

	var sum float64
	for _, word := range result.Result {
		sum += word.Conf
	}

	return sum / float64(len(result.Result))
}

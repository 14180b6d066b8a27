package audio

import (
	"math"
)

// VADEvent is the boundary event produced for a frame
type VADEvent int

const (
	// EventNone means no boundary was crossed on this frame.
	EventNone VADEvent = iota
	// EventSpeechStart fires after SpeechFrames consecutive loud frames.
	EventSpeechStart
	// EventSpeechEnd fires after SilenceFrames consecutive quiet frames
	// following a start.
	EventSpeechEnd
	// EventMaxDuration fires when an utterance reaches MaxSpeechFrames.
	EventMaxDuration
	// EventNoSpeech fires when MaxWaitFrames pass without a start.
	EventNoSpeech
)

func (e VADEvent) String() string {
	switch e {
	case EventSpeechStart:
		return "speech_start"
	case EventSpeechEnd:
		return "speech_end"
	case EventMaxDuration:
		return "max_duration"
	case EventNoSpeech:
		return "no_speech"
	default:
		return "none"
	}
}

// Final reports whether the event ends the current recording attempt.
func (e VADEvent) Final() bool {
	return e == EventSpeechEnd || e == EventMaxDuration || e == EventNoSpeech
}

// VADConfig holds configuration for Voice Activity Detection
type VADConfig struct {
	// EnergyThreshold is the RMS level above which a frame counts as speech
	// Typical values: 0.001 to 0.1 (lower = more sensitive)
	EnergyThreshold float64

	// SpeechFrames is the number of consecutive speech frames before triggering speech start
	// At 16kHz with 30ms frames: 3 frames = 90ms of speech
	SpeechFrames int

	// SilenceFrames is the number of consecutive silent frames that end an utterance
	// At 16kHz with 30ms frames: 50 frames = 1.5s of silence
	SilenceFrames int

	// MaxSpeechFrames caps the length of one utterance, counted from its
	// first loud frame. The cap always applies; values below 1 fall back
	// to the default.
	MaxSpeechFrames int

	// MaxWaitFrames bounds how long to wait for speech to start. 0 waits forever.
	MaxWaitFrames int
}

// DefaultVADConfig returns a default VAD configuration for 30ms frames
func DefaultVADConfig() VADConfig {
	return VADConfig{
		EnergyThreshold: 0.02,
		SpeechFrames:    3,   // 90ms
		SilenceFrames:   50,  // 1.5s
		MaxSpeechFrames: 334, // ~10s
		MaxWaitFrames:   0,
	}
}

// VAD (Voice Activity Detector) detects speech vs silence in audio. One VAD
// serves one recording attempt; it resets itself after every final event.
type VAD struct {
	config            VADConfig
	silenceFrameCount int
	speechFrameCount  int
	utteranceFrames   int
	waitFrames        int
	isSpeaking        bool
	lastEnergy        float64
}

// Normalize returns c with the floors the detector applies: at least one
// speech and one silence frame, and a positive utterance cap.
func (c VADConfig) Normalize() VADConfig {
	if c.SpeechFrames < 1 {
		c.SpeechFrames = 1
	}
	if c.SilenceFrames < 1 {
		c.SilenceFrames = 1
	}
	if c.MaxSpeechFrames < 1 {
		c.MaxSpeechFrames = DefaultVADConfig().MaxSpeechFrames
	}
	return c
}

// NewVAD creates a new voice activity detector
func NewVAD(config VADConfig) *VAD {
	return &VAD{config: config.Normalize()}
}

// ProcessFrame consumes one frame and returns the boundary event, if any.
func (v *VAD) ProcessFrame(samples []float32) VADEvent {
	energy := Energy(samples)
	v.lastEnergy = energy
	frameHasSpeech := energy > v.config.EnergyThreshold

	if !v.isSpeaking {
		if frameHasSpeech {
			v.speechFrameCount++
		} else {
			v.speechFrameCount = 0
		}

		if v.speechFrameCount >= v.config.SpeechFrames {
			v.isSpeaking = true
			v.silenceFrameCount = 0
			v.utteranceFrames = v.speechFrameCount
			return EventSpeechStart
		}

		v.waitFrames++
		if v.config.MaxWaitFrames > 0 && v.waitFrames >= v.config.MaxWaitFrames {
			v.Reset()
			return EventNoSpeech
		}
		return EventNone
	}

	v.utteranceFrames++
	if frameHasSpeech {
		v.silenceFrameCount = 0
	} else {
		v.silenceFrameCount++
	}

	if v.silenceFrameCount >= v.config.SilenceFrames {
		v.Reset()
		return EventSpeechEnd
	}
	if v.utteranceFrames >= v.config.MaxSpeechFrames {
		v.Reset()
		return EventMaxDuration
	}
	return EventNone
}

// IsSpeaking returns whether speech is currently active
func (v *VAD) IsSpeaking() bool {
	return v.isSpeaking
}

// LastEnergy returns the RMS energy of the most recent frame
func (v *VAD) LastEnergy() float64 {
	return v.lastEnergy
}

// Reset resets the VAD state
func (v *VAD) Reset() {
	v.silenceFrameCount = 0
	v.speechFrameCount = 0
	v.utteranceFrames = 0
	v.waitFrames = 0
	v.isSpeaking = false
}

// Energy calculates the RMS energy of a frame
func Energy(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

package audio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func loud() []float32  { return constFrame(0.5) }
func quiet() []float32 { return constFrame(0.001) }

func constFrame(v float32) []float32 {
	f := make([]float32, 480)
	for i := range f {
		f[i] = v
	}
	return f
}

func testVADConfig() VADConfig {
	return VADConfig{
		EnergyThreshold: 0.02,
		SpeechFrames:    3,
		SilenceFrames:   4,
		MaxSpeechFrames: 10,
	}
}

func TestVADSpeechStartAfterNLoudFrames(t *testing.T) {
	t.Parallel()

	v := NewVAD(testVADConfig())
	require.Equal(t, EventNone, v.ProcessFrame(loud()))
	require.Equal(t, EventNone, v.ProcessFrame(loud()))
	require.Equal(t, EventSpeechStart, v.ProcessFrame(loud()))
	require.True(t, v.IsSpeaking())
}

func TestVADDebounceRejectsShortBurst(t *testing.T) {
	t.Parallel()

	v := NewVAD(testVADConfig())
	events := []VADEvent{
		v.ProcessFrame(loud()),
		v.ProcessFrame(loud()),
		v.ProcessFrame(quiet()),
		v.ProcessFrame(loud()),
	}
	for _, ev := range events {
		require.Equal(t, EventNone, ev)
	}
	require.False(t, v.IsSpeaking())
}

func TestVADSpeechEndAfterMQuietFrames(t *testing.T) {
	t.Parallel()

	cfg := testVADConfig()
	cfg.MaxSpeechFrames = 100
	v := NewVAD(cfg)
	for i := 0; i < 3; i++ {
		v.ProcessFrame(loud())
	}

	// A pause shorter than SilenceFrames is tolerated.
	for i := 0; i < 3; i++ {
		require.Equal(t, EventNone, v.ProcessFrame(quiet()))
	}
	require.Equal(t, EventNone, v.ProcessFrame(loud()))

	for i := 0; i < 3; i++ {
		require.Equal(t, EventNone, v.ProcessFrame(quiet()))
	}
	require.Equal(t, EventSpeechEnd, v.ProcessFrame(quiet()))
	require.False(t, v.IsSpeaking())
}

func TestVADMaxDurationCutsContinuousSpeech(t *testing.T) {
	t.Parallel()

	v := NewVAD(testVADConfig())
	var events []VADEvent
	for i := 0; i < 25; i++ {
		ev := v.ProcessFrame(loud())
		if ev != EventNone {
			events = append(events, ev)
		}
		if ev == EventMaxDuration {
			require.Equal(t, 9, i, "cap reached on the tenth frame")
			break
		}
	}
	require.Equal(t, []VADEvent{EventSpeechStart, EventMaxDuration}, events)
	require.False(t, v.IsSpeaking())
}

func TestVADMaxDurationCannotBeDisabled(t *testing.T) {
	t.Parallel()

	cfg := testVADConfig()
	cfg.MaxSpeechFrames = 0
	v := NewVAD(cfg)

	limit := DefaultVADConfig().MaxSpeechFrames
	for i := 0; i < limit-1; i++ {
		ev := v.ProcessFrame(loud())
		require.False(t, ev.Final(), "frame %d", i)
	}
	require.Equal(t, EventMaxDuration, v.ProcessFrame(loud()))
	require.Equal(t, limit, cfg.Normalize().MaxSpeechFrames)
}

func TestVADNoSpeechTimeout(t *testing.T) {
	t.Parallel()

	cfg := testVADConfig()
	cfg.MaxWaitFrames = 5
	v := NewVAD(cfg)

	for i := 0; i < 4; i++ {
		require.Equal(t, EventNone, v.ProcessFrame(quiet()))
	}
	require.Equal(t, EventNoSpeech, v.ProcessFrame(quiet()))
	require.True(t, EventNoSpeech.Final())
}

func TestVADResetsBetweenUtterances(t *testing.T) {
	t.Parallel()

	v := NewVAD(testVADConfig())
	for i := 0; i < 3; i++ {
		v.ProcessFrame(loud())
	}
	for i := 0; i < 4; i++ {
		v.ProcessFrame(quiet())
	}

	// The second utterance needs the full debounce again.
	require.Equal(t, EventNone, v.ProcessFrame(loud()))
	require.Equal(t, EventNone, v.ProcessFrame(loud()))
	require.Equal(t, EventSpeechStart, v.ProcessFrame(loud()))
}

func TestEnergy(t *testing.T) {
	t.Parallel()

	require.Zero(t, Energy(nil))
	require.InDelta(t, 0.5, Energy(constFrame(-0.5)), 1e-9)
}

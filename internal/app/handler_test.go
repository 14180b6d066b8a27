package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emmett/voxcmd/internal/audio"
	"github.com/emmett/voxcmd/internal/command"
	"github.com/emmett/voxcmd/internal/stt"
)

func TestInitializeByName(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ggml-tiny.en.bin"), []byte("x"), 0o644))

	first := &fakeModel{text: "one"}
	cfg := testHandlerConfig()
	cfg.ModelsDir = dir
	h := NewHandler(cfg,
		WithModelLoader(func(string) (stt.Model, error) { return first, nil }),
		WithHandlerMetrics(testMetrics(t)),
	)
	t.Cleanup(func() { _ = h.Close(context.Background()) })

	assert.False(t, h.IsInitialized())

	path, err := h.Initialize("ggml-tiny.en")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ggml-tiny.en.bin"), path)
	assert.True(t, h.IsInitialized())
	assert.Equal(t, path, h.ModelPath())

	_, err = h.Initialize("ggml-large")
	assert.ErrorIs(t, err, stt.ErrModelLoad)
	assert.True(t, NeedsReconfiguration(err))
	assert.Equal(t, path, h.ModelPath())
	assert.False(t, first.closed.Load())

	listed, err := h.ListModels()
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "ggml-tiny.en", listed[0].Name)
}

func TestInitializeLoaderFailureKeepsPreviousModel(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	good := filepath.Join(dir, "good.bin")
	bad := filepath.Join(dir, "bad.bin")
	require.NoError(t, os.WriteFile(good, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(bad, []byte("x"), 0o644))

	model := &fakeModel{text: "still here"}
	h := NewHandler(testHandlerConfig(),
		WithModelLoader(func(path string) (stt.Model, error) {
			if path == bad {
				return nil, errors.New("invalid ggml header")
			}
			return model, nil
		}),
		WithCapturerFactory(newFakeSource(captureStep{frames: loud(2)}).New),
		WithHandlerMetrics(testMetrics(t)),
	)
	t.Cleanup(func() { _ = h.Close(context.Background()) })

	_, err := h.Initialize(good)
	require.NoError(t, err)
	_, err = h.Initialize(bad)
	assert.ErrorIs(t, err, stt.ErrModelLoad)

	ctx := context.Background()
	require.NoError(t, h.StartRecording(ctx))
	cmd, err := h.StopRecording(ctx)
	require.NoError(t, err)
	assert.Equal(t, "still here", cmd.Text)
}

func TestListDevicesNeverFails(t *testing.T) {
	t.Parallel()

	env := newTestHandler(t, nil, nil, WithDeviceLister(func() ([]audio.DeviceInfo, error) {
		return nil, errors.New("no backend")
	}))
	devices := env.handler.ListDevices()
	assert.NotNil(t, devices)
	assert.Empty(t, devices)
}

func TestDeviceLookup(t *testing.T) {
	t.Parallel()
	env := newTestHandler(t, nil, nil)

	assert.Len(t, env.handler.ListDevices(), 2)

	d, ok := env.handler.devices.Lookup("usb")
	require.True(t, ok)
	assert.Equal(t, "2", d.ID)

	_, ok = env.handler.devices.Lookup("bluetooth")
	assert.False(t, ok)
}

func TestProcessVoiceCommand(t *testing.T) {
	t.Parallel()
	env := newTestHandler(t, nil, nil)

	tests := []struct {
		text string
		want command.Type
		ok   bool
	}{
		{"Hello there", command.Greeting, true},
		{"please STOP", command.StopWorkflow, true},
		{"what's the status", command.StatusCheck, true},
		{"banana", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		typ, ok := env.handler.ProcessVoiceCommand(command.VoiceCommand{Text: tt.text})
		assert.Equal(t, tt.want, typ, tt.text)
		assert.Equal(t, tt.ok, ok, tt.text)
	}
}

func TestTranscribeStoredSamples(t *testing.T) {
	t.Parallel()
	env := newTestHandler(t, &fakeModel{text: "start the build", conf: 0.9}, nil)

	vc, err := env.handler.Transcribe(context.Background(), make([]float32, 1600))
	require.NoError(t, err)
	assert.Equal(t, "start the build", vc.Text)
	assert.NotEmpty(t, vc.ID)
	assert.False(t, env.handler.Status().IsRecording)
	assert.Empty(t, env.log.Commands())

	unloaded := newTestHandler(t, nil, nil)
	_, err = unloaded.handler.Transcribe(context.Background(), make([]float32, 1600))
	assert.ErrorIs(t, err, stt.ErrNotInitialized)
}

func TestCustomTriggers(t *testing.T) {
	t.Parallel()
	cfg := testHandlerConfig()
	cfg.Triggers = []command.Trigger{{Phrase: "Deploy", Type: command.StartWorkflow}}
	h := NewHandler(cfg, WithHandlerMetrics(testMetrics(t)))

	typ, ok := h.Classify("deploy now")
	assert.True(t, ok)
	assert.Equal(t, command.StartWorkflow, typ)

	_, ok = h.Classify("hello")
	assert.False(t, ok)
}

func TestStatus(t *testing.T) {
	t.Parallel()
	env := newTestHandler(t, &fakeModel{}, nil)
	ctx := context.Background()

	st := env.handler.Status()
	assert.False(t, st.IsRecording)
	assert.False(t, st.IsListening)
	assert.Equal(t, "idle", st.Session)
	assert.Equal(t, "idle", st.State)
	assert.Empty(t, st.Owner)
	assert.NotEmpty(t, st.ModelPath)

	require.NoError(t, env.handler.StartRecording(ctx))
	time.Sleep(5 * time.Millisecond)
	st = env.handler.Status()
	assert.True(t, st.IsRecording)
	assert.Equal(t, "recording", st.Session)
	assert.Equal(t, "manual", st.Owner)
	assert.Positive(t, st.DurationMs)
}

func TestStatusBackgroundRecordsOnlyAfterSpeech(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	waiting := newTestHandler(t, &fakeModel{}, newFakeSource(captureStep{frames: quiet(3)}))
	require.NoError(t, waiting.handler.StartBackgroundListening(ctx))
	require.Eventually(t, func() bool { return waiting.handler.Status().Session == "recording" }, time.Second, time.Millisecond)
	st := waiting.handler.Status()
	assert.False(t, st.IsRecording)
	assert.True(t, st.IsListening)
	assert.Equal(t, "listening", st.State)
	assert.Equal(t, "background", st.Owner)

	speaking := newTestHandler(t, &fakeModel{}, newFakeSource(captureStep{frames: loud(4)}))
	require.NoError(t, speaking.handler.StartBackgroundListening(ctx))
	require.Eventually(t, func() bool { return speaking.handler.Status().IsRecording }, time.Second, time.Millisecond)
	assert.Equal(t, "recording", speaking.handler.Status().State)
}

func TestCommandLogFailureIsIgnored(t *testing.T) {
	t.Parallel()
	env := newTestHandler(t, &fakeModel{text: "hi"}, newFakeSource(captureStep{frames: loud(2)}))
	env.log.err = errors.New("disk full")
	ctx := context.Background()

	require.NoError(t, env.handler.StartRecording(ctx))
	cmd, err := env.handler.StopRecording(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hi", cmd.Text)
	assert.Len(t, env.log.Commands(), 1)
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		reconfig bool
		retry    bool
	}{
		{"nil", nil, false, false},
		{"model load", fmt.Errorf("x: %w", stt.ErrModelLoad), true, false},
		{"not initialized", stt.ErrNotInitialized, true, false},
		{"device not found", audio.ErrDeviceNotFound, true, false},
		{"device unavailable", fmt.Errorf("open: %w", audio.ErrDeviceUnavailable), false, true},
		{"inference", fmt.Errorf("%w: boom", stt.ErrInference), false, true},
		{"busy", ErrAlreadyRecording, false, true},
		{"cancelled", context.Canceled, false, false},
		{"other", errors.New("other"), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.reconfig, NeedsReconfiguration(tt.err))
			assert.Equal(t, tt.retry, IsTransient(tt.err))
		})
	}
}

func TestPushToTalk(t *testing.T) {
	t.Parallel()
	env := newTestHandler(t, &fakeModel{text: "show help"}, newFakeSource(captureStep{frames: loud(3)}))

	cmds := make(chan classified, 4)
	var states []bool
	ptt := NewPushToTalk(env.handler, nil)
	ptt.OnCommand = func(cmd command.VoiceCommand, typ command.Type, ok bool) {
		cmds <- classified{cmd, typ, ok}
	}
	ptt.OnRecording = func(recording bool) { states = append(states, recording) }
	ptt.OnError = func(err error) { t.Errorf("unexpected error: %v", err) }

	ctx, cancel := context.WithCancel(context.Background())
	toggles := make(chan bool)
	done := make(chan error, 1)
	go func() { done <- ptt.Run(ctx, toggles) }()

	toggles <- true
	toggles <- false
	got := receive(t, cmds)
	assert.Equal(t, "show help", got.cmd.Text)
	assert.Equal(t, command.ShowHelp, got.typ)

	// a stray stop is ignored
	toggles <- false

	toggles <- true
	cancel()
	require.NoError(t, receive(t, done))
	assert.False(t, env.handler.Status().IsRecording)
	assert.Equal(t, []bool{true, false, true}, states)
}

func TestPushToTalkReportsStartFailure(t *testing.T) {
	t.Parallel()
	env := newTestHandler(t, nil, nil)

	var errs []error
	ptt := NewPushToTalk(env.handler, nil)
	ptt.OnError = func(err error) { errs = append(errs, err) }

	ptt.Toggle(context.Background(), true)
	ptt.Toggle(context.Background(), false)

	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], stt.ErrNotInitialized)
}

package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/emmett/voxcmd/internal/audio"
	"github.com/emmett/voxcmd/internal/command"
	"github.com/emmett/voxcmd/internal/observe"
	"github.com/emmett/voxcmd/internal/stt"
)

const testFrame = 480

func loud(n int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		f := make([]float32, testFrame)
		for j := range f {
			f[j] = 0.5
		}
		out[i] = f
	}
	return out
}

func quiet(n int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		out[i] = make([]float32, testFrame)
	}
	return out
}

func frames(parts ...[][]float32) [][]float32 {
	var out [][]float32
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// fakeCapturer pushes a fixed script of frames on Start. Unless closeAfter is
// set the queue then stays open, so a consumer blocks until Stop or ctx.
type fakeCapturer struct {
	q          *audio.FrameQueue
	frames     [][]float32
	closeAfter bool
	closeErr   error
	afterPush  func()
	running    atomic.Bool
	stopped    atomic.Bool
	quit       chan struct{}
	stopOnce   sync.Once
}

// Start pushes the script. Like MalgoCapturer it stops when ctx ends.
func (c *fakeCapturer) Start(ctx context.Context) error {
	c.running.Store(true)
	for _, f := range c.frames {
		c.q.Push(audio.Frame{Samples: f, SampleRate: audio.TargetSampleRate, Timestamp: time.Now()})
	}
	if c.afterPush != nil {
		c.afterPush()
	}
	if c.closeAfter {
		c.q.CloseWithError(c.closeErr)
	}
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Stop()
		case <-c.quit:
		}
	}()
	return nil
}

func (c *fakeCapturer) Stop() error {
	c.running.Store(false)
	c.stopped.Store(true)
	c.q.Close()
	c.stopOnce.Do(func() { close(c.quit) })
	return nil
}

func (c *fakeCapturer) Frames() *audio.FrameQueue { return c.q }
func (c *fakeCapturer) IsRunning() bool            { return c.running.Load() }

// captureStep scripts one capturer: either an open error or a frame script.
type captureStep struct {
	err        error
	frames     [][]float32
	closeAfter bool
	closeErr   error
	afterPush  func()
}

// fakeSource hands out capturers following a script; the last step repeats.
type fakeSource struct {
	mu      sync.Mutex
	steps   []captureStep
	calls   int
	devices []string
	last    *fakeCapturer
}

func newFakeSource(steps ...captureStep) *fakeSource {
	if len(steps) == 0 {
		steps = []captureStep{{}}
	}
	return &fakeSource{steps: steps}
}

func (s *fakeSource) New(cfg audio.CaptureConfig) (audio.Capturer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.calls
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.calls++
	s.devices = append(s.devices, cfg.DeviceName)

	step := s.steps[i]
	if step.err != nil {
		return nil, step.err
	}
	c := &fakeCapturer{
		q:          audio.NewFrameQueue(cfg.QueueFrames),
		frames:     step.frames,
		closeAfter: step.closeAfter,
		closeErr:   step.closeErr,
		afterPush:  step.afterPush,
		quit:       make(chan struct{}),
	}
	s.last = c
	return c, nil
}

func (s *fakeSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *fakeSource) Devices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.devices...)
}

// fakeModel returns a fixed text. When gate is set, Transcribe signals
// entered and waits for gate to close.
type fakeModel struct {
	text    string
	conf    float64
	err     error
	gate    chan struct{}
	entered chan struct{}

	mu      sync.Mutex
	samples [][]float32
	closed  atomic.Bool
}

func (m *fakeModel) Transcribe(samples []float32) (stt.Result, error) {
	m.mu.Lock()
	m.samples = append(m.samples, samples)
	m.mu.Unlock()

	if m.entered != nil {
		select {
		case m.entered <- struct{}{}:
		default:
		}
	}
	if m.gate != nil {
		<-m.gate
	}
	if m.err != nil {
		return stt.Result{}, m.err
	}
	return stt.Result{Text: m.text, Confidence: m.conf}, nil
}

func (m *fakeModel) Close() error {
	m.closed.Store(true)
	return nil
}

func (m *fakeModel) Calls() [][]float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]float32(nil), m.samples...)
}

type memoryLog struct {
	mu   sync.Mutex
	cmds []command.VoiceCommand
	err  error
}

func (l *memoryLog) Log(cmd command.VoiceCommand) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cmds = append(l.cmds, cmd)
	return l.err
}

func (l *memoryLog) Commands() []command.VoiceCommand {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]command.VoiceCommand(nil), l.cmds...)
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	require.NoError(t, err)
	return m
}

func testHandlerConfig() HandlerConfig {
	cfg := DefaultHandlerConfig()
	cfg.Session.Capture = audio.CaptureConfig{FrameSamples: testFrame, QueueFrames: 1000}
	cfg.Session.VAD = audio.VADConfig{
		EnergyThreshold: 0.02,
		SpeechFrames:    3,
		SilenceFrames:   5,
		MaxSpeechFrames: 20,
	}
	cfg.Session.OneShotWait = 10 * 30 * time.Millisecond
	cfg.Listener = ListenerConfig{RetryBudget: 2, RetryDelay: time.Millisecond}
	return cfg
}

type testEnv struct {
	handler *Handler
	source  *fakeSource
	model   *fakeModel
	log     *memoryLog
}

// newTestHandler builds a handler over fakes and loads model unless it is nil.
func newTestHandler(t *testing.T, model *fakeModel, source *fakeSource, opts ...HandlerOption) *testEnv {
	t.Helper()
	if source == nil {
		source = newFakeSource()
	}
	log := &memoryLog{}

	all := []HandlerOption{
		WithCapturerFactory(source.New),
		WithDeviceLister(func() ([]audio.DeviceInfo, error) {
			return []audio.DeviceInfo{{ID: "1", Name: "Built-in Microphone", IsDefault: true}, {ID: "2", Name: "USB Audio"}}, nil
		}),
		WithModelLoader(func(string) (stt.Model, error) {
			if model == nil {
				return nil, errors.New("no model")
			}
			return model, nil
		}),
		WithCommandLog(log),
		WithHandlerMetrics(testMetrics(t)),
	}
	h := NewHandler(testHandlerConfig(), append(all, opts...)...)
	t.Cleanup(func() { _ = h.Close(context.Background()) })

	if model != nil {
		_, err := h.Initialize(writeModelFile(t))
		require.NoError(t, err)
	}
	return &testEnv{handler: h, source: source, model: model, log: log}
}

// writeModelFile creates a placeholder model file for fake loaders.
func writeModelFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ggml-test.bin")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	return path
}

func texts(cmds []command.VoiceCommand) []string {
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = c.Text
	}
	return out
}

package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/emmett/voxcmd/internal/app"
	"github.com/emmett/voxcmd/internal/audio"
	"github.com/emmett/voxcmd/internal/command"
	"github.com/emmett/voxcmd/internal/models"
	"github.com/emmett/voxcmd/internal/stt"
)

type fakeController struct {
	mu        sync.Mutex
	recording bool
	listening bool
	device    string
	text      string
	startErr  error
	models    []models.Info
}

func (f *fakeController) Status() app.RecordingStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := app.RecordingStatus{Session: "idle", State: "idle", Device: f.device}
	if f.recording {
		st.IsRecording = true
		st.Session = "recording"
		st.Owner = "manual"
		st.DurationMs = 1500
	}
	if f.listening {
		st.IsListening = true
		st.State = "listening"
	}
	return st
}

func (f *fakeController) StartRecording(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	if f.recording {
		return app.ErrAlreadyRecording
	}
	f.recording = true
	return nil
}

func (f *fakeController) StopRecording(ctx context.Context) (command.VoiceCommand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.recording {
		return command.VoiceCommand{}, app.ErrNotRecording
	}
	f.recording = false
	return command.NewVoiceCommand(f.text, 0.75), nil
}

func (f *fakeController) CancelRecording(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.recording {
		return app.ErrNotRecording
	}
	f.recording = false
	return nil
}

func (f *fakeController) RecordCommandWithVAD(ctx context.Context) (command.VoiceCommand, error) {
	if f.startErr != nil {
		return command.VoiceCommand{}, f.startErr
	}
	return command.NewVoiceCommand(f.text, 0.6), nil
}

func (f *fakeController) StartBackgroundListening(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listening {
		return app.ErrAlreadyListening
	}
	f.listening = true
	return nil
}

func (f *fakeController) StopBackgroundListening(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.listening {
		return app.ErrNotListening
	}
	f.listening = false
	return nil
}

func (f *fakeController) ListDevices() []audio.DeviceInfo {
	return []audio.DeviceInfo{
		{ID: "capture-0", Name: "Built-in Microphone", IsDefault: true},
		{ID: "capture-1", Name: "USB Headset"},
	}
}

func (f *fakeController) SetDevice(name string) {
	f.mu.Lock()
	f.device = name
	f.mu.Unlock()
}

func (f *fakeController) Classify(text string) (command.Type, bool) {
	return command.NewClassifier(nil).Classify(text)
}

func (f *fakeController) ListModels() ([]models.Info, error) {
	return f.models, nil
}

func startServer(t *testing.T, ctl Controller) *grpc.ClientConn {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := NewServer(ctl, nil)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Stop(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func newClient(t *testing.T, ctl Controller) *Client {
	return &Client{conn: startServer(t, ctl)}
}

func TestManualRecordingRoundTrip(t *testing.T) {
	t.Parallel()
	c := newClient(t, &fakeController{text: "begin deployment"})
	ctx := context.Background()

	st, err := c.StartRecording(ctx)
	require.NoError(t, err)
	assert.True(t, st.IsRecording)
	assert.Equal(t, "manual", st.Owner)
	assert.Equal(t, int64(1500), st.DurationMs)

	_, err = c.StartRecording(ctx)
	assert.ErrorIs(t, err, app.ErrAlreadyRecording)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	res, err := c.StopRecording(ctx)
	require.NoError(t, err)
	assert.Equal(t, "begin deployment", res.Text)
	assert.Equal(t, string(command.StartWorkflow), res.CommandType)
	assert.True(t, res.Matched)
	assert.InDelta(t, 0.75, res.Confidence, 1e-9)
	assert.NotEmpty(t, res.ID)
	assert.Positive(t, res.Timestamp)

	_, err = c.StopRecording(ctx)
	assert.ErrorIs(t, err, app.ErrNotRecording)
}

func TestCancelRecording(t *testing.T) {
	t.Parallel()
	c := newClient(t, &fakeController{})
	ctx := context.Background()

	_, err := c.CancelRecording(ctx)
	assert.ErrorIs(t, err, app.ErrNotRecording)

	_, err = c.StartRecording(ctx)
	require.NoError(t, err)
	st, err := c.CancelRecording(ctx)
	require.NoError(t, err)
	assert.False(t, st.IsRecording)
}

func TestRecordCommand(t *testing.T) {
	t.Parallel()
	c := newClient(t, &fakeController{text: "weather tomorrow"})

	res, err := c.RecordCommand(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "weather tomorrow", res.Text)
	assert.False(t, res.Matched)
	assert.Empty(t, res.CommandType)
}

func TestListeningRoundTrip(t *testing.T) {
	t.Parallel()
	c := newClient(t, &fakeController{})
	ctx := context.Background()

	st, err := c.StartListening(ctx)
	require.NoError(t, err)
	assert.True(t, st.IsListening)
	assert.Equal(t, "listening", st.State)

	_, err = c.StartListening(ctx)
	assert.ErrorIs(t, err, app.ErrAlreadyListening)

	st, err = c.StopListening(ctx)
	require.NoError(t, err)
	assert.False(t, st.IsListening)

	_, err = c.StopListening(ctx)
	assert.ErrorIs(t, err, app.ErrNotListening)
}

func TestDevices(t *testing.T) {
	t.Parallel()
	c := newClient(t, &fakeController{})
	ctx := context.Background()

	res, err := c.ListDevices(ctx)
	require.NoError(t, err)
	require.Len(t, res.Devices, 2)
	assert.Equal(t, "USB Headset", res.Devices[1].Name)
	assert.Empty(t, res.Selected)

	st, err := c.SetDevice(ctx, "usb")
	require.NoError(t, err)
	assert.Equal(t, "usb", st.Device)
}

func TestClassify(t *testing.T) {
	t.Parallel()
	c := newClient(t, &fakeController{})

	res, err := c.Classify(context.Background(), "Give me a status report")
	require.NoError(t, err)
	assert.Equal(t, string(command.StatusCheck), res.CommandType)
	assert.True(t, res.Matched)

	res, err = c.Classify(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, res.Matched)
}

func TestListModels(t *testing.T) {
	t.Parallel()
	c := newClient(t, &fakeController{models: []models.Info{
		{Name: "ggml-base.en", Path: "/models/ggml-base.en.bin", Backend: models.BackendWhisper, SizeBytes: 147951465},
	}})

	res, err := c.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Models, 1)
	assert.Equal(t, int64(147951465), res.Models[0].SizeBytes)

	none, err := newClient(t, &fakeController{}).ListModels(context.Background())
	require.NoError(t, err)
	assert.Empty(t, none.Models)
}

func TestHealth(t *testing.T) {
	t.Parallel()
	conn := startServer(t, &fakeController{})

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestErrorCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want codes.Code
	}{
		{stt.ErrNotInitialized, codes.FailedPrecondition},
		{fmt.Errorf("%w: bad header", stt.ErrModelLoad), codes.FailedPrecondition},
		{fmt.Errorf("%w: %w", stt.ErrModelLoad, models.ErrModelNotFound), codes.NotFound},
		{fmt.Errorf("%w: \"usb\"", audio.ErrDeviceNotFound), codes.NotFound},
		{fmt.Errorf("%w: stream start failed", audio.ErrDeviceUnavailable), codes.Unavailable},
		{fmt.Errorf("%w: boom", stt.ErrInference), codes.Internal},
		{app.ErrAlreadyListening, codes.FailedPrecondition},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{errors.New("other"), codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, status.Code(toStatus(tt.err)))
		})
	}
	assert.NoError(t, toStatus(nil))
}

func TestStartFailureOverTheWire(t *testing.T) {
	t.Parallel()
	c := newClient(t, &fakeController{startErr: fmt.Errorf("%w: \"usb\"", audio.ErrDeviceNotFound)})

	_, err := c.StartRecording(context.Background())
	assert.ErrorIs(t, err, audio.ErrDeviceNotFound)

	_, err = c.RecordCommand(context.Background())
	assert.ErrorIs(t, err, audio.ErrDeviceNotFound)
}

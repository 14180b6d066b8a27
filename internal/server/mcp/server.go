// Package mcp exposes the voice engine as Model Context Protocol tools so an
// agent can record and classify spoken commands.
package mcp

import (
	"context"
	"log/slog"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/emmett/voxcmd/internal/app"
	"github.com/emmett/voxcmd/internal/audio"
	"github.com/emmett/voxcmd/internal/command"
	"github.com/emmett/voxcmd/internal/models"
)

// Controller is the part of the engine the tools drive. *app.Handler
// satisfies it.
type Controller interface {
	RecordCommandWithVAD(ctx context.Context) (command.VoiceCommand, error)
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) (command.VoiceCommand, error)
	Transcribe(ctx context.Context, samples []float32) (command.VoiceCommand, error)
	StartBackgroundListening(ctx context.Context) error
	StopBackgroundListening(ctx context.Context) error
	Classify(text string) (command.Type, bool)
	ListDevices() []audio.DeviceInfo
	SetDevice(name string)
	ListModels() ([]models.Info, error)
	Status() app.RecordingStatus
}

var _ Controller = (*app.Handler)(nil)

type Config struct {
	ServerName    string
	ServerVersion string
}

type Server struct {
	config    Config
	ctl       Controller
	logger    *slog.Logger
	mcpServer *sdk.Server
}

func NewServer(cfg Config, ctl Controller, logger *slog.Logger) *Server {
	if cfg.ServerName == "" {
		cfg.ServerName = "vox"
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config: cfg,
		ctl:    ctl,
		logger: logger,
		mcpServer: sdk.NewServer(&sdk.Implementation{
			Name:    cfg.ServerName,
			Version: cfg.ServerVersion,
		}, nil),
	}
	s.registerTools()
	return s
}

// Run serves over stdin/stdout until the client disconnects or ctx is done.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("MCP server starting", "name", s.config.ServerName, "version", s.config.ServerVersion)
	return s.mcpServer.Run(ctx, &sdk.StdioTransport{})
}

// Connect serves a single session over t. Used with in-memory transports.
func (s *Server) Connect(ctx context.Context, t sdk.Transport) (*sdk.ServerSession, error) {
	return s.mcpServer.Connect(ctx, t, nil)
}

func (s *Server) registerTools() {
	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "record_command",
		Description: "Record one spoken command from the microphone, stopping after a pause, and return its transcription and command type",
	}, s.handleRecordCommand)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "start_recording",
		Description: "Start a manual recording that runs until stop_recording",
	}, s.handleStartRecording)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "stop_recording",
		Description: "Stop the manual recording and return its transcription",
	}, s.handleStopRecording)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "transcribe_audio",
		Description: "Transcribe base64-encoded 16kHz mono 16-bit little-endian PCM audio",
	}, s.handleTranscribeAudio)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "classify_text",
		Description: "Map text to a command type using the trigger table",
	}, s.handleClassifyText)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "start_listening",
		Description: "Start continuous background listening for voice commands",
	}, s.handleStartListening)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "stop_listening",
		Description: "Stop background listening",
	}, s.handleStopListening)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "status",
		Description: "Report recording and listening state",
	}, s.handleStatus)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "list_devices",
		Description: "List audio input devices",
	}, s.handleListDevices)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "set_device",
		Description: "Select the audio input device for the next recording",
	}, s.handleSetDevice)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "list_models",
		Description: "List locally available speech models",
	}, s.handleListModels)
}

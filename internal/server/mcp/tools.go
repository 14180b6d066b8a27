package mcp

import (
	"context"
	"encoding/base64"
	"fmt"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/emmett/voxcmd/internal/app"
	"github.com/emmett/voxcmd/internal/audio"
	"github.com/emmett/voxcmd/internal/command"
	"github.com/emmett/voxcmd/internal/models"
)

type NoArgs struct{}

type TranscribeArgs struct {
	Audio string `json:"audio" jsonschema:"Base64-encoded audio data (16kHz mono 16-bit PCM)"`
}

type ClassifyArgs struct {
	Text string `json:"text" jsonschema:"Text to classify"`
}

type SetDeviceArgs struct {
	Name string `json:"name,omitempty" jsonschema:"Device name or substring; empty selects the system default"`
}

// CommandResult is a transcription together with its classification
type CommandResult struct {
	ID          string  `json:"id"`
	Text        string  `json:"text"`
	Confidence  float64 `json:"confidence"`
	Timestamp   int64   `json:"timestamp"`
	CommandType string  `json:"command_type,omitempty"`
	Matched     bool    `json:"matched"`
}

// ClassifyResult is the command type a phrase maps to, if any
type ClassifyResult struct {
	CommandType string `json:"command_type,omitempty"`
	Matched     bool   `json:"matched"`
}

// DevicesResult lists input devices and the current selection
type DevicesResult struct {
	Devices  []audio.DeviceInfo `json:"devices"`
	Selected string             `json:"selected,omitempty"`
}

// ModelsResult lists the models found in the models directory
type ModelsResult struct {
	Models []models.Info `json:"models"`
}

func (s *Server) result(cmd command.VoiceCommand) CommandResult {
	res := CommandResult{
		ID:         cmd.ID,
		Text:       cmd.Text,
		Confidence: cmd.Confidence,
		Timestamp:  cmd.Timestamp,
	}
	if typ, ok := s.ctl.Classify(cmd.Text); ok {
		res.CommandType = string(typ)
		res.Matched = true
	}
	return res
}

func (s *Server) handleRecordCommand(ctx context.Context, req *sdk.CallToolRequest, _ NoArgs) (*sdk.CallToolResult, CommandResult, error) {
	cmd, err := s.ctl.RecordCommandWithVAD(ctx)
	if err != nil {
		return nil, CommandResult{}, fmt.Errorf("record command: %w", err)
	}
	return nil, s.result(cmd), nil
}

func (s *Server) handleStartRecording(ctx context.Context, req *sdk.CallToolRequest, _ NoArgs) (*sdk.CallToolResult, app.RecordingStatus, error) {
	if err := s.ctl.StartRecording(ctx); err != nil {
		return nil, app.RecordingStatus{}, fmt.Errorf("start recording: %w", err)
	}
	return nil, s.ctl.Status(), nil
}

func (s *Server) handleStopRecording(ctx context.Context, req *sdk.CallToolRequest, _ NoArgs) (*sdk.CallToolResult, CommandResult, error) {
	cmd, err := s.ctl.StopRecording(ctx)
	if err != nil {
		return nil, CommandResult{}, fmt.Errorf("stop recording: %w", err)
	}
	return nil, s.result(cmd), nil
}

func (s *Server) handleTranscribeAudio(ctx context.Context, req *sdk.CallToolRequest, args TranscribeArgs) (*sdk.CallToolResult, CommandResult, error) {
	data, err := base64.StdEncoding.DecodeString(args.Audio)
	if err != nil {
		return nil, CommandResult{}, fmt.Errorf("invalid base64 audio: %w", err)
	}
	if len(data)%2 != 0 {
		return nil, CommandResult{}, fmt.Errorf("invalid audio: odd byte count %d for 16-bit samples", len(data))
	}

	cmd, err := s.ctl.Transcribe(ctx, audio.DecodeS16LE(data))
	if err != nil {
		return nil, CommandResult{}, fmt.Errorf("transcription failed: %w", err)
	}
	return nil, s.result(cmd), nil
}

func (s *Server) handleClassifyText(ctx context.Context, req *sdk.CallToolRequest, args ClassifyArgs) (*sdk.CallToolResult, ClassifyResult, error) {
	typ, ok := s.ctl.Classify(args.Text)
	return nil, ClassifyResult{CommandType: string(typ), Matched: ok}, nil
}

func (s *Server) handleStartListening(ctx context.Context, req *sdk.CallToolRequest, _ NoArgs) (*sdk.CallToolResult, app.RecordingStatus, error) {
	// The loop outlives this call; StartBackgroundListening detaches it
	// from ctx cancellation.
	if err := s.ctl.StartBackgroundListening(ctx); err != nil {
		return nil, app.RecordingStatus{}, fmt.Errorf("start listening: %w", err)
	}
	return nil, s.ctl.Status(), nil
}

func (s *Server) handleStopListening(ctx context.Context, req *sdk.CallToolRequest, _ NoArgs) (*sdk.CallToolResult, app.RecordingStatus, error) {
	if err := s.ctl.StopBackgroundListening(ctx); err != nil {
		return nil, app.RecordingStatus{}, fmt.Errorf("stop listening: %w", err)
	}
	return nil, s.ctl.Status(), nil
}

func (s *Server) handleStatus(ctx context.Context, req *sdk.CallToolRequest, _ NoArgs) (*sdk.CallToolResult, app.RecordingStatus, error) {
	return nil, s.ctl.Status(), nil
}

func (s *Server) handleListDevices(ctx context.Context, req *sdk.CallToolRequest, _ NoArgs) (*sdk.CallToolResult, DevicesResult, error) {
	devices := s.ctl.ListDevices()
	if devices == nil {
		devices = []audio.DeviceInfo{}
	}
	return nil, DevicesResult{Devices: devices, Selected: s.ctl.Status().Device}, nil
}

func (s *Server) handleSetDevice(ctx context.Context, req *sdk.CallToolRequest, args SetDeviceArgs) (*sdk.CallToolResult, app.RecordingStatus, error) {
	s.ctl.SetDevice(args.Name)
	return nil, s.ctl.Status(), nil
}

func (s *Server) handleListModels(ctx context.Context, req *sdk.CallToolRequest, _ NoArgs) (*sdk.CallToolResult, ModelsResult, error) {
	list, err := s.ctl.ListModels()
	if err != nil {
		return nil, ModelsResult{}, fmt.Errorf("failed to list models: %w", err)
	}
	if list == nil {
		list = []models.Info{}
	}
	return nil, ModelsResult{Models: list}, nil
}

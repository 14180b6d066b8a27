package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/emmett/voxcmd/internal/app"
	"github.com/emmett/voxcmd/internal/audio"
	"github.com/emmett/voxcmd/internal/command"
	"github.com/emmett/voxcmd/internal/models"
	"github.com/emmett/voxcmd/internal/stt"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "vox.v1.VoiceControl"

// VoiceControlServer is the server API for the VoiceControl service.
// Responses are JSON-shaped structs so that no generated code is needed on
// either side.
type VoiceControlServer interface {
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	StartRecording(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	StopRecording(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	CancelRecording(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	RecordCommand(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	StartListening(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	StopListening(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListDevices(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	SetDevice(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Classify(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	ListModels(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

func unary[Req proto.Message](method string, newReq func() Req, call func(VoiceControlServer, context.Context, Req) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(VoiceControlServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(Req))
			})
		},
	}
}

func empty() *emptypb.Empty               { return new(emptypb.Empty) }
func stringValue() *wrapperspb.StringValue { return new(wrapperspb.StringValue) }

// VoiceControlServiceDesc describes the VoiceControl service for
// grpc.Server.RegisterService.
var VoiceControlServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*VoiceControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Status", empty, VoiceControlServer.Status),
		unary("StartRecording", empty, VoiceControlServer.StartRecording),
		unary("StopRecording", empty, VoiceControlServer.StopRecording),
		unary("CancelRecording", empty, VoiceControlServer.CancelRecording),
		unary("RecordCommand", empty, VoiceControlServer.RecordCommand),
		unary("StartListening", empty, VoiceControlServer.StartListening),
		unary("StopListening", empty, VoiceControlServer.StopListening),
		unary("ListDevices", empty, VoiceControlServer.ListDevices),
		unary("SetDevice", stringValue, VoiceControlServer.SetDevice),
		unary("Classify", stringValue, VoiceControlServer.Classify),
		unary("ListModels", empty, VoiceControlServer.ListModels),
	},
	Metadata: "vox/v1/voice_control",
}

// RegisterVoiceControlServer registers srv with s
func RegisterVoiceControlServer(s grpc.ServiceRegistrar, srv VoiceControlServer) {
	s.RegisterService(&VoiceControlServiceDesc, srv)
}

// Controller is the part of the engine the service drives. *app.Handler
// satisfies it.
type Controller interface {
	Status() app.RecordingStatus
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) (command.VoiceCommand, error)
	CancelRecording(ctx context.Context) error
	RecordCommandWithVAD(ctx context.Context) (command.VoiceCommand, error)
	StartBackgroundListening(ctx context.Context) error
	StopBackgroundListening(ctx context.Context) error
	ListDevices() []audio.DeviceInfo
	SetDevice(name string)
	Classify(text string) (command.Type, bool)
	ListModels() ([]models.Info, error)
}

var _ Controller = (*app.Handler)(nil)

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

// voiceControl implements VoiceControlServer on top of a Controller
type voiceControl struct {
	ctl Controller
}

func (v *voiceControl) Status(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(v.ctl.Status())
}

func (v *voiceControl) StartRecording(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := v.ctl.StartRecording(ctx); err != nil {
		return nil, toStatus(err)
	}
	return toStruct(v.ctl.Status())
}

func (v *voiceControl) StopRecording(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	cmd, err := v.ctl.StopRecording(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(v.result(cmd))
}

func (v *voiceControl) CancelRecording(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := v.ctl.CancelRecording(ctx); err != nil {
		return nil, toStatus(err)
	}
	return toStruct(v.ctl.Status())
}

func (v *voiceControl) RecordCommand(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	cmd, err := v.ctl.RecordCommandWithVAD(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(v.result(cmd))
}

func (v *voiceControl) StartListening(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := v.ctl.StartBackgroundListening(ctx); err != nil {
		return nil, toStatus(err)
	}
	return toStruct(v.ctl.Status())
}

func (v *voiceControl) StopListening(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := v.ctl.StopBackgroundListening(ctx); err != nil {
		return nil, toStatus(err)
	}
	return toStruct(v.ctl.Status())
}

func (v *voiceControl) ListDevices(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	devices := v.ctl.ListDevices()
	if devices == nil {
		devices = []audio.DeviceInfo{}
	}
	return toStruct(DevicesResult{Devices: devices, Selected: v.ctl.Status().Device})
}

func (v *voiceControl) SetDevice(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	v.ctl.SetDevice(in.GetValue())
	return toStruct(v.ctl.Status())
}

func (v *voiceControl) Classify(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	typ, ok := v.ctl.Classify(in.GetValue())
	return toStruct(ClassifyResult{CommandType: string(typ), Matched: ok})
}

func (v *voiceControl) ListModels(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	list, err := v.ctl.ListModels()
	if err != nil {
		return nil, toStatus(err)
	}
	if list == nil {
		list = []models.Info{}
	}
	return toStruct(ModelsResult{Models: list})
}

func (v *voiceControl) result(cmd command.VoiceCommand) CommandResult {
	res := CommandResult{
		ID:         cmd.ID,
		Text:       cmd.Text,
		Confidence: cmd.Confidence,
		Timestamp:  cmd.Timestamp,
	}
	if typ, ok := v.ctl.Classify(cmd.Text); ok {
		res.CommandType = string(typ)
		res.Matched = true
	}
	return res
}

// toStruct converts a JSON-tagged value into a protobuf Struct
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return s, nil
}

// toStatus maps engine errors onto gRPC status codes
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	var code codes.Code
	switch {
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, audio.ErrDeviceNotFound), errors.Is(err, models.ErrModelNotFound):
		code = codes.NotFound
	case errors.Is(err, audio.ErrDeviceUnavailable):
		code = codes.Unavailable
	case errors.Is(err, stt.ErrNotInitialized),
		errors.Is(err, stt.ErrModelLoad),
		errors.Is(err, app.ErrAlreadyRecording),
		errors.Is(err, app.ErrNotRecording),
		errors.Is(err, app.ErrAlreadyListening),
		errors.Is(err, app.ErrNotListening):
		code = codes.FailedPrecondition
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

// fromStatus is the client-side inverse of toStatus for the sentinel errors
// callers branch on. The status stays reachable through errors.As. Other
// errors are returned unchanged.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	for _, sentinel := range []error{
		app.ErrAlreadyRecording,
		app.ErrNotRecording,
		app.ErrAlreadyListening,
		app.ErrNotListening,
		stt.ErrNotInitialized,
		audio.ErrDeviceNotFound,
	} {
		if st.Code() != codes.Unknown && strings.Contains(st.Message(), sentinel.Error()) {
			return fmt.Errorf("%w: %w", sentinel, err)
		}
	}
	return err
}

package grpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/emmett/voxcmd/internal/app"
)

// Client calls a running VoiceControl server
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to target, e.g. "localhost:50051". Without options the
// connection is plaintext.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, in proto.Message, out any) error {
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, resp); err != nil {
		return fromStatus(err)
	}
	b, err := protojson.Marshal(resp)
	if err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return nil
}

func (c *Client) status(ctx context.Context, method string) (app.RecordingStatus, error) {
	var st app.RecordingStatus
	err := c.invoke(ctx, method, &emptypb.Empty{}, &st)
	return st, err
}

func (c *Client) command(ctx context.Context, method string) (CommandResult, error) {
	var res CommandResult
	err := c.invoke(ctx, method, &emptypb.Empty{}, &res)
	return res, err
}

func (c *Client) Status(ctx context.Context) (app.RecordingStatus, error) {
	return c.status(ctx, "Status")
}

func (c *Client) StartRecording(ctx context.Context) (app.RecordingStatus, error) {
	return c.status(ctx, "StartRecording")
}

func (c *Client) StopRecording(ctx context.Context) (CommandResult, error) {
	return c.command(ctx, "StopRecording")
}

func (c *Client) CancelRecording(ctx context.Context) (app.RecordingStatus, error) {
	return c.status(ctx, "CancelRecording")
}

// RecordCommand records one utterance on the server, ending at a pause
func (c *Client) RecordCommand(ctx context.Context) (CommandResult, error) {
	return c.command(ctx, "RecordCommand")
}

func (c *Client) StartListening(ctx context.Context) (app.RecordingStatus, error) {
	return c.status(ctx, "StartListening")
}

func (c *Client) StopListening(ctx context.Context) (app.RecordingStatus, error) {
	return c.status(ctx, "StopListening")
}

func (c *Client) ListDevices(ctx context.Context) (DevicesResult, error) {
	var res DevicesResult
	err := c.invoke(ctx, "ListDevices", &emptypb.Empty{}, &res)
	return res, err
}

func (c *Client) SetDevice(ctx context.Context, name string) (app.RecordingStatus, error) {
	var st app.RecordingStatus
	err := c.invoke(ctx, "SetDevice", wrapperspb.String(name), &st)
	return st, err
}

func (c *Client) Classify(ctx context.Context, text string) (ClassifyResult, error) {
	var res ClassifyResult
	err := c.invoke(ctx, "Classify", wrapperspb.String(text), &res)
	return res, err
}

func (c *Client) ListModels(ctx context.Context) (ModelsResult, error) {
	var res ModelsResult
	err := c.invoke(ctx, "ListModels", &emptypb.Empty{}, &res)
	return res, err
}

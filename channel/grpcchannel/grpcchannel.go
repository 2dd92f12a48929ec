// Package grpcchannel implements channel.MessageChannel over a gRPC
// bidirectional stream, for workers running as separate OS processes (spec
// §6: "Framing is length-prefixed; exact byte format is channel-specific").
//
// Rather than checking in generated service stubs, frames are carried as
// length-delimited wrapperspb.BytesValue messages over a raw gRPC stream
// (grpc.NewStream / grpc.NewServerStream with a fixed streamDesc); the
// payload bytes are this package's own JSON encoding of channel.Envelope and
// channel.Event. This keeps protobuf's wire framing (which is what gRPC
// actually requires) without a protoc build step, while still exercising
// google.golang.org/grpc and google.golang.org/protobuf for real.
package grpcchannel

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/fleetcode/orchestrator/channel"
)

// serviceName and methodName identify the single bidirectional-streaming
// RPC every worker connection uses to exchange frames.
const (
	serviceName = "orchestrator.WorkerChannel"
	methodName  = "Stream"
	fullMethod  = "/" + serviceName + "/" + methodName
)

// streamDesc describes the bidi-streaming method without requiring a
// generated .pb.go service definition.
var streamDesc = &grpc.StreamDesc{
	StreamName:    methodName,
	ClientStreams: true,
	ServerStreams: true,
}

type wireFrame struct {
	Envelope *channel.Envelope `json:"envelope,omitempty"`
	Event    *channel.Event    `json:"event,omitempty"`
}

// grpcStream is the subset of grpc.ClientStream / grpc.ServerStream this
// package needs from either side of the connection.
type grpcStream interface {
	SendMsg(m any) error
	RecvMsg(m any) error
}

// Channel adapts a gRPC bidi stream to channel.MessageChannel.
type Channel struct {
	stream grpcStream
}

// Dial opens a gRPC connection to target and returns a Channel backed by a
// fresh Stream RPC. Callers own the returned *grpc.ClientConn lifecycle
// conceptually via Close.
func Dial(ctx context.Context, target string, opts ...grpc.DialOption) (*Channel, func() error, error) {
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("grpcchannel: dial %s: %w", target, err)
	}
	stream, err := conn.NewStream(ctx, streamDesc, fullMethod)
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("grpcchannel: open stream: %w", err)
	}
	return &Channel{stream: stream}, conn.Close, nil
}

// FromServerStream adapts a worker-side gRPC ServerStream to a Channel, for
// use inside the handler registered against fullMethod.
func FromServerStream(s grpc.ServerStream) *Channel {
	return &Channel{stream: s}
}

// ServiceDesc returns the grpc.ServiceDesc a worker process registers to
// receive Stream connections, pairing fullMethod with handler.
func ServiceDesc(handler func(srv any, stream grpc.ServerStream) error) *grpc.ServiceDesc {
	return &grpc.ServiceDesc{
		ServiceName: serviceName,
		Streams: []grpc.StreamDesc{
			{
				StreamName:    methodName,
				Handler:       func(srv any, stream grpc.ServerStream) error { return handler(srv, stream) },
				ServerStreams: true,
				ClientStreams: true,
			},
		},
		Metadata: "orchestrator/channel.proto",
	}
}

// Send implements channel.MessageChannel.
func (c *Channel) Send(ctx context.Context, env channel.Envelope) error {
	payload, err := json.Marshal(wireFrame{Envelope: &env})
	if err != nil {
		return fmt.Errorf("grpcchannel: encode envelope: %w", err)
	}
	return c.stream.SendMsg(wrapperspb.Bytes(payload))
}

// Next implements channel.MessageChannel.
func (c *Channel) Next(ctx context.Context) (channel.Event, error) {
	var msg wrapperspb.BytesValue
	if err := c.stream.RecvMsg(&msg); err != nil {
		return channel.Event{}, fmt.Errorf("grpcchannel: recv: %w", err)
	}
	var frame wireFrame
	if err := json.Unmarshal(msg.GetValue(), &frame); err != nil {
		return channel.Event{}, fmt.Errorf("grpcchannel: decode event: %w", err)
	}
	if frame.Event == nil {
		return channel.Event{}, fmt.Errorf("grpcchannel: frame carries no event")
	}
	return *frame.Event, nil
}

// Close implements channel.MessageChannel. The underlying connection is
// closed by the function Dial returned alongside this Channel.
func (c *Channel) Close() error { return nil }

// SendEvent is the worker-side counterpart to Send, used by a worker
// process driving its half of the stream.
func (c *Channel) SendEvent(evt channel.Event) error {
	payload, err := json.Marshal(wireFrame{Event: &evt})
	if err != nil {
		return fmt.Errorf("grpcchannel: encode event: %w", err)
	}
	return c.stream.SendMsg(wrapperspb.Bytes(payload))
}

// RecvEnvelope is the worker-side counterpart to Next.
func (c *Channel) RecvEnvelope() (channel.Envelope, error) {
	var msg wrapperspb.BytesValue
	if err := c.stream.RecvMsg(&msg); err != nil {
		return channel.Envelope{}, fmt.Errorf("grpcchannel: recv: %w", err)
	}
	var frame wireFrame
	if err := json.Unmarshal(msg.GetValue(), &frame); err != nil {
		return channel.Envelope{}, fmt.Errorf("grpcchannel: decode envelope: %w", err)
	}
	if frame.Envelope == nil {
		return channel.Envelope{}, fmt.Errorf("grpcchannel: frame carries no envelope")
	}
	return *frame.Envelope, nil
}

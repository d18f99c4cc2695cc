package stream

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/banshee-data/spikestream/internal/monitoring"
)

// The SpikeStream service carries raw packet bytes in well-known wrapper
// messages, so it needs no generated code:
//
//	service SpikeStream {
//	  rpc Subscribe(google.protobuf.Empty) returns (stream google.protobuf.BytesValue);
//	}
const (
	ServiceName         = "spikestream.v1.SpikeStream"
	SubscribeFullMethod = "/" + ServiceName + "/Subscribe"
)

// SpikeStreamServer is the server API of the SpikeStream service.
type SpikeStreamServer interface {
	Subscribe(*emptypb.Empty, grpc.ServerStreamingServer[wrapperspb.BytesValue]) error
}

// ServiceDesc describes the SpikeStream service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SpikeStreamServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "spikestream/v1/spikestream.proto",
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	m := new(emptypb.Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(SpikeStreamServer).Subscribe(m, &grpc.GenericServerStream[emptypb.Empty, wrapperspb.BytesValue]{ServerStream: stream})
}

// Ensure Server implements the service interface.
var _ SpikeStreamServer = (*Server)(nil)

// Server streams every packet published on a Hub to each subscriber.
type Server struct {
	hub *Hub
}

// NewServer returns a Server reading from hub.
func NewServer(hub *Hub) *Server {
	return &Server{hub: hub}
}

// Register adds the SpikeStream service to gs.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&ServiceDesc, s)
}

// Subscribe sends packets until the client goes away or the hub closes.
func (s *Server) Subscribe(_ *emptypb.Empty, stream grpc.ServerStreamingServer[wrapperspb.BytesValue]) error {
	ctx := stream.Context()
	packets, cancel := s.hub.Subscribe()
	defer cancel()

	monitoring.Reportf(monitoring.LevelInfo, "stream", "subscriber connected")
	for {
		select {
		case <-ctx.Done():
			monitoring.Reportf(monitoring.LevelInfo, "stream", "subscriber gone: %v", context.Cause(ctx))
			return ctx.Err()
		case wire, ok := <-packets:
			if !ok {
				return nil
			}
			if err := stream.Send(wrapperspb.Bytes(wire)); err != nil {
				return err
			}
		}
	}
}

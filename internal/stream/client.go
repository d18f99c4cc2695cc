package stream

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/banshee-data/spikestream/internal/events/spike"
)

// Client subscribes to a SpikeStream server.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Subscribe calls fn for every packet the server sends, until ctx is done,
// the server ends the stream, or fn returns an error. A clean end of stream
// returns nil.
func (c *Client) Subscribe(ctx context.Context, fn func(*spike.Packet) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cs, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], SubscribeFullMethod)
	if err != nil {
		return fmt.Errorf("open subscribe stream: %w", err)
	}
	stream := &grpc.GenericClientStream[emptypb.Empty, wrapperspb.BytesValue]{ClientStream: cs}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return fmt.Errorf("send subscribe request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("close send: %w", err)
	}

	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		p, err := spike.FromBytes(msg.GetValue())
		if err != nil {
			return fmt.Errorf("decode streamed packet: %w", err)
		}
		if err := fn(p); err != nil {
			return err
		}
	}
}

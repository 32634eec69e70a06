package grpcapi

import (
	"context"

	"google.golang.org/grpc"

	"ai-speech-session-service/internal/models"
)

// SessionClient is the client API for SessionService.
type SessionClient struct {
	conn grpc.ClientConnInterface
}

func NewSessionClient(conn grpc.ClientConnInterface) *SessionClient {
	return &SessionClient{conn: conn}
}

// Stream opens a session stream using the JSON codec.
func (c *SessionClient) Stream(ctx context.Context, opts ...grpc.CallOption) (grpc.BidiStreamingClient[models.ClientMessage, models.SessionEvent], error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], StreamPath, opts...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[models.ClientMessage, models.SessionEvent]{ClientStream: stream}, nil
}

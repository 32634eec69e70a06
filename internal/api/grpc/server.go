// Package grpcapi exposes recognition sessions as a bidirectional gRPC
// stream. Messages are JSON encoded (content-subtype "json").
package grpcapi

import (
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ai-speech-session-service/internal/models"
	"ai-speech-session-service/internal/observability/logging"
	"ai-speech-session-service/internal/service/audio"
	"ai-speech-session-service/internal/service/session"
)

const (
	ServiceName = "speech.session.v1.SessionService"
	StreamName  = "Stream"
	StreamPath  = "/" + ServiceName + "/" + StreamName
)

// Sessions creates transport bridges for new client streams.
type Sessions interface {
	NewHandler(tenantId, transport string) *audio.Handler
	SessionDefaults() session.Config
}

// SessionServiceServer is the server API for SessionService.
type SessionServiceServer interface {
	Stream(grpc.BidiStreamingServer[models.ClientMessage, models.SessionEvent]) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SessionServiceServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    StreamName,
			Handler:       streamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
}

func streamHandler(srv any, stream grpc.ServerStream) error {
	return srv.(SessionServiceServer).Stream(&grpc.GenericServerStream[models.ClientMessage, models.SessionEvent]{ServerStream: stream})
}

type Server struct {
	sessions Sessions
}

// Register adds SessionService to g.
func Register(g *grpc.Server, sessions Sessions) {
	g.RegisterService(&serviceDesc, &Server{sessions: sessions})
}

// Stream runs one session. The first client message must be a start
// message; audio messages follow until end or cancel. Every session
// event is sent back, and the call returns once the session has ended.
func (s *Server) Stream(stream grpc.BidiStreamingServer[models.ClientMessage, models.SessionEvent]) error {
	first, err := stream.Recv()
	if err != nil {
		return err
	}
	if first.Type != models.MessageStart {
		return status.Errorf(codes.InvalidArgument, "first message must be %q, got %q", models.MessageStart, first.Type)
	}

	h := s.sessions.NewHandler(first.TenantID, "grpc")
	cfg := audio.SessionConfig(s.sessions.SessionDefaults(), first.Config)
	if err := h.Start(stream.Context(), cfg); err != nil {
		return toStatus(err)
	}

	logger := logging.WithStream(h.SessionID(), first.TenantID, "grpc")
	logger.Info().Msg("Session stream started")

	go receive(stream, h)

	for ev := range h.Events() {
		if err := stream.Send(&ev); err != nil {
			logger.Warn().Err(err).Msg("Failed to send event, cancelling session")
			h.Cancel()
			for range h.Events() {
			}
			<-h.Done()
			return err
		}
	}
	<-h.Done()
	logger.Info().Msg("Session stream completed")
	return nil
}

// receive forwards client messages until the client half-closes, the
// call ends, or the session stops accepting audio.
func receive(stream grpc.BidiStreamingServer[models.ClientMessage, models.SessionEvent], h *audio.Handler) {
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			h.End()
			return
		}
		if err != nil {
			h.Cancel()
			return
		}

		switch msg.Type {
		case models.MessageAudio:
			if err := h.WriteAudio(msg.Audio); err != nil {
				// The session reports its own terminal events.
				return
			}
		case models.MessageEnd:
			h.End()
			return
		case models.MessageCancel:
			h.Cancel()
			return
		}
	}
}

func toStatus(err error) error {
	if session.CodeOf(err) == session.CodeInvalidConfig {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

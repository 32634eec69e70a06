package observability

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"ai-speech-session-service/internal/observability/metrics"
)

// UnaryServerInterceptor returns a gRPC unary interceptor for logging.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()

		resp, err := handler(ctx, req)

		st, _ := status.FromError(err)
		log.Debug().
			Str("method", info.FullMethod).
			Str("code", st.Code().String()).
			Dur("duration", time.Since(start)).
			Msg("gRPC unary call")

		return resp, err
	}
}

// StreamServerInterceptor returns a gRPC stream interceptor for metrics and logging.
func StreamServerInterceptor(m *metrics.Metrics) grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()
		m.RecordTransportStream("grpc")

		err := handler(srv, ss)

		st, _ := status.FromError(err)
		log.Info().
			Str("method", info.FullMethod).
			Str("code", st.Code().String()).
			Dur("duration", time.Since(start)).
			Bool("success", err == nil).
			Msg("gRPC stream completed")

		return err
	}
}

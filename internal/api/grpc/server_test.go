package grpcapi

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"ai-speech-session-service/internal/models"
	"ai-speech-session-service/internal/observability/metrics"
	"ai-speech-session-service/internal/service/audio"
	"ai-speech-session-service/internal/service/session"
	"ai-speech-session-service/internal/service/stt"
	"ai-speech-session-service/internal/service/stt/mock"
)

type testSessions struct {
	ctrl    *session.Controller
	metrics *metrics.Metrics
}

func (s testSessions) NewHandler(tenantId, transport string) *audio.Handler {
	return audio.NewHandler(s.ctrl,
		audio.WithTenant(tenantId),
		audio.WithTransport(transport),
		audio.WithMetrics(s.metrics),
	)
}

func (s testSessions) SessionDefaults() session.Config {
	return session.Config{
		LanguageCode:       "en-US",
		SampleRateHz:       16000,
		Encoding:           stt.EncodingLinear16,
		InterimResults:     true,
		SpeechStartTimeout: 2 * time.Second,
		SpeechEndTimeout:   5 * time.Second,
		FinalizeTimeout:    time.Second,
	}
}

func newTestClient(t *testing.T) *SessionClient {
	t.Helper()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	ctrl := session.NewController(mock.New(), session.WithMetrics(m))

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	Register(srv, testSessions{ctrl: ctrl, metrics: m})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewSessionClient(conn)
}

func TestStream_FullSession(t *testing.T) {
	client := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.Stream(ctx)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	if err := stream.Send(&models.ClientMessage{Type: models.MessageStart, TenantID: "tenant-1"}); err != nil {
		t.Fatalf("send start: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := stream.Send(&models.ClientMessage{Type: models.MessageAudio, Audio: make([]byte, 640)}); err != nil {
			t.Fatalf("send audio: %v", err)
		}
	}

	var events []*models.SessionEvent
	closed := false
	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		events = append(events, ev)
		if ev.EventType == models.EventTranscriptPartial && !closed {
			closed = true
			if err := stream.CloseSend(); err != nil {
				t.Fatalf("close send: %v", err)
			}
		}
	}

	if len(events) < 3 {
		t.Fatalf("expected at least 3 events, got %+v", events)
	}
	if events[0].EventType != models.EventSessionStarted {
		t.Errorf("expected first event %s, got %s", models.EventSessionStarted, events[0].EventType)
	}
	for _, ev := range events {
		if ev.TenantID != "tenant-1" || ev.SessionID == "" {
			t.Errorf("event missing identity: %+v", ev)
		}
	}
	last := events[len(events)-1]
	if last.EventType != models.EventSessionEnded || last.State != "ENDED" {
		t.Errorf("expected ended event last, got %+v", last)
	}
	var final bool
	for _, ev := range events {
		if ev.EventType == models.EventTranscriptFinal && ev.Text != "" {
			final = true
		}
	}
	if !final {
		t.Errorf("expected a final transcript, got %+v", events)
	}
}

func TestStream_FirstMessageMustBeStart(t *testing.T) {
	client := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.Stream(ctx)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	_ = stream.Send(&models.ClientMessage{Type: models.MessageAudio, Audio: []byte{0, 0}})

	_, err = stream.Recv()
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument, got %v", err)
	}
}

func TestStream_InvalidConfig(t *testing.T) {
	client := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.Stream(ctx)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	_ = stream.Send(&models.ClientMessage{
		Type:   models.MessageStart,
		Config: &models.SessionOptions{Encoding: "AAC"},
	})

	_, err = stream.Recv()
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument, got %v", err)
	}
}

func TestStream_Cancel(t *testing.T) {
	client := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.Stream(ctx)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	_ = stream.Send(&models.ClientMessage{Type: models.MessageStart})
	_ = stream.Send(&models.ClientMessage{Type: models.MessageCancel})

	var last *models.SessionEvent
	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		last = ev
	}
	if last == nil || last.EventType != models.EventSessionEnded || last.State != "ENDED" {
		t.Errorf("expected ended event after cancel, got %+v", last)
	}
}

func TestJSONCodec(t *testing.T) {
	c := jsonCodec{}
	if c.Name() != "json" {
		t.Errorf("expected codec name json, got %s", c.Name())
	}
	data, err := c.Marshal(&models.ClientMessage{Type: models.MessageAudio, Audio: []byte{1, 2}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var msg models.ClientMessage
	if err := c.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != models.MessageAudio || len(msg.Audio) != 2 {
		t.Errorf("unexpected message %+v", msg)
	}
}

// Package google provides a Google Cloud Speech-to-Text provider.
package google

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"

	"ai-speech-session-service/internal/service/stt"
)

const (
	providerName    = "google"
	defaultEndpoint = "speech.googleapis.com:443"
	eventBuffer     = 64
)

// Config holds Google STT configuration. Per-stream settings from
// stt.StreamConfig override the language, rate and encoding.
type Config struct {
	LanguageCode   string
	SampleRateHz   int
	InterimResults bool
	AudioEncoding  string
	Model          string
	Endpoint       string
}

// DefaultConfig returns sensible defaults for telephony audio.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "en-US",
		SampleRateHz:   8000,
		InterimResults: true,
		AudioEncoding:  "LINEAR16",
	}
}

// Provider implements stt.Provider using StreamingRecognize.
type Provider struct {
	client   *speech.Client
	base     *speechpb.RecognitionConfig
	endpoint string
}

// New creates a new Google STT provider.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	c, err := speech.NewClient(ctx, option.WithEndpoint(endpoint))
	if err != nil {
		return nil, err
	}
	return &Provider{
		client: c,
		base: &speechpb.RecognitionConfig{
			Encoding:        parseAudioEncoding(cfg.AudioEncoding),
			SampleRateHertz: int32(cfg.SampleRateHz),
			LanguageCode:    cfg.LanguageCode,
			Model:           cfg.Model,
		},
		endpoint: endpoint,
	}, nil
}

func (p *Provider) Name() string     { return providerName }
func (p *Provider) Endpoint() string { return p.endpoint }

// Close releases the underlying client.
func (p *Provider) Close() error {
	return p.client.Close()
}

// Open starts a streaming recognition call and sends the streaming config
// as the first message.
func (p *Provider) Open(ctx context.Context, cfg stt.StreamConfig) (stt.Stream, error) {
	sctx, cancel := context.WithCancel(ctx)
	call, err := p.client.StreamingRecognize(sctx)
	if err != nil {
		cancel()
		return nil, classify("open", err)
	}

	if err := call.Send(p.configRequest(cfg)); err != nil {
		cancel()
		return nil, classify("config", err)
	}

	s := &Stream{
		call:   call,
		ctx:    sctx,
		cancel: cancel,
		events: make(chan stt.Event, eventBuffer),
	}
	go s.listen()
	return s, nil
}

func (p *Provider) configRequest(cfg stt.StreamConfig) *speechpb.StreamingRecognizeRequest {
	rc := proto.Clone(p.base).(*speechpb.RecognitionConfig)
	if cfg.LanguageCode != "" {
		rc.LanguageCode = cfg.LanguageCode
	}
	if cfg.SampleRateHz > 0 {
		rc.SampleRateHertz = int32(cfg.SampleRateHz)
	}
	if cfg.Encoding != "" {
		rc.Encoding = parseAudioEncoding(string(cfg.Encoding))
	}
	return &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:         rc,
				InterimResults: cfg.InterimResults,
			},
		},
	}
}

// Stream is one StreamingRecognize call.
type Stream struct {
	call   speechpb.Speech_StreamingRecognizeClient
	ctx    context.Context
	cancel context.CancelFunc
	events chan stt.Event

	mu         sync.Mutex
	halfClosed bool
	closed     bool
}

// Send sends audio bytes to Google Speech-to-Text.
func (s *Stream) Send(ctx context.Context, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.halfClosed {
		return stt.ErrStreamClosed
	}
	err := s.call.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: frame,
		},
	})
	if err == io.EOF {
		// The call ended; Recv reports why.
		return stt.ErrStreamClosed
	}
	if err != nil {
		return classify("send", err)
	}
	return nil
}

// CloseSend half-closes the call; Google answers with its remaining
// finals and then io.EOF.
func (s *Stream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.halfClosed {
		return nil
	}
	s.halfClosed = true
	return s.call.CloseSend()
}

// Close cancels the call.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	return nil
}

func (s *Stream) Events() <-chan stt.Event {
	return s.events
}

// listen receives transcript responses from Google until the call ends.
func (s *Stream) listen() {
	defer close(s.events)

	var seq stt.Sequencer
	for {
		resp, err := s.call.Recv()
		if err == io.EOF {
			s.emit(stt.Event{Kind: stt.EventClosed, Timestamp: time.Now()})
			return
		}
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.emit(stt.Event{Kind: stt.EventError, Err: classify("recv", err), Timestamp: time.Now()})
			return
		}

		for _, r := range resp.Results {
			if len(r.Alternatives) == 0 {
				continue
			}
			alt := r.Alternatives[0]
			ev := stt.Event{
				Kind:      stt.EventInterim,
				Text:      alt.Transcript,
				Sequence:  seq.Next(r.IsFinal),
				Timestamp: time.Now(),
			}
			if r.IsFinal {
				ev.Kind = stt.EventFinal
				ev.Confidence = float64(alt.Confidence)
			}
			if !s.emit(ev) {
				return
			}
		}
	}
}

func (s *Stream) emit(ev stt.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// classify maps gRPC status codes onto transient and fatal provider errors.
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
		return stt.Transient(providerName, op, err)
	case codes.Canceled:
		return context.Canceled
	default:
		return stt.Fatal(providerName, op, err)
	}
}

// parseAudioEncoding converts string encoding to Google's enum.
// Unknown values fall back to LINEAR16.
func parseAudioEncoding(enc string) speechpb.RecognitionConfig_AudioEncoding {
	switch enc {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "MP3":
		return speechpb.RecognitionConfig_MP3
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}

package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ai-speech-session-service/internal/app"
	"ai-speech-session-service/internal/models"
	"ai-speech-session-service/internal/observability/logging"
	"ai-speech-session-service/internal/service/audio"
	"ai-speech-session-service/internal/service/session"
)

const (
	maxMessageBytes = 1 << 20
	writeTimeout    = 10 * time.Second
	startTimeout    = 10 * time.Second
)

var errStartRequired = errors.New(`first message must be {"type":"start"}`)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamHandler serves GET /v1/sessions/stream. The client sends a start
// message, then binary audio frames, then an end or cancel message. Every
// session event is written back as a JSON text message and the socket is
// closed once the session has ended.
type streamHandler struct {
	app  *app.Application
	auth *authenticator
}

func (s *streamHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	claims, err := s.auth.authenticate(req)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		logger := logging.WithComponent("websocket")
		logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageBytes)
	s.app.Metrics.RecordTransportStream("websocket")

	start, err := readStart(conn)
	if err != nil {
		closeWithError(conn, string(session.CodeInvalidConfig), err.Error())
		return
	}
	if claims != nil && claims.TenantID != "" {
		start.TenantID = claims.TenantID
	}

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()

	h := s.app.NewHandler(start.TenantID, "websocket")
	if err := h.Start(ctx, audio.SessionConfig(s.app.SessionDefaults(), start.Config)); err != nil {
		code := session.CodeOf(err)
		if code == "" {
			code = "INTERNAL"
		}
		closeWithError(conn, string(code), err.Error())
		return
	}

	logger := logging.WithStream(h.SessionID(), start.TenantID, "websocket")
	logger.Info().Msg("Session stream started")

	go receive(conn, h, logger)

	for ev := range h.Events() {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(ev); err != nil {
			logger.Warn().Err(err).Msg("Failed to write event, cancelling session")
			h.Cancel()
			for range h.Events() {
			}
			break
		}
	}
	<-h.Done()

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
		time.Now().Add(time.Second))
	logger.Info().Msg("Session stream completed")
}

func readStart(conn *websocket.Conn) (*models.ClientMessage, error) {
	_ = conn.SetReadDeadline(time.Now().Add(startTimeout))
	defer conn.SetReadDeadline(time.Time{})

	mt, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if mt != websocket.TextMessage {
		return nil, errStartRequired
	}
	var msg models.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Type != models.MessageStart {
		return nil, errStartRequired
	}
	return &msg, nil
}

// receive forwards client messages until the socket is closed. Reading
// continues after the session stops accepting audio so close frames are
// still processed.
func receive(conn *websocket.Conn, h *audio.Handler, logger zerolog.Logger) {
	accepting := true
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug().Err(err).Msg("WebSocket read ended")
			}
			h.Cancel()
			return
		}

		if mt == websocket.BinaryMessage {
			if accepting {
				accepting = write(h, data, logger)
			}
			continue
		}

		var msg models.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn().Err(err).Msg("Ignoring malformed client message")
			continue
		}
		switch msg.Type {
		case models.MessageAudio:
			if accepting {
				accepting = write(h, msg.Audio, logger)
			}
		case models.MessageEnd:
			h.End()
		case models.MessageCancel:
			h.Cancel()
		default:
			logger.Debug().Str("type", msg.Type).Msg("Ignoring client message")
		}
	}
}

func write(h *audio.Handler, frame []byte, logger zerolog.Logger) bool {
	if err := h.WriteAudio(frame); err != nil {
		logger.Debug().Err(err).Msg("Session no longer accepts audio")
		return false
	}
	return true
}

func closeWithError(conn *websocket.Conn, code, message string) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = conn.WriteJSON(models.SessionEvent{
		EventType: models.EventSessionError,
		Timestamp: time.Now().UnixMilli(),
		Code:      code,
		Message:   message,
	})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code),
		time.Now().Add(time.Second))
}

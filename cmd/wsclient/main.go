package main

import (
	"encoding/json"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"ai-speech-session-service/internal/models"
	"ai-speech-session-service/internal/wav"
)

const chunkIntervalMs = 100

func main() {
	audioFile := flag.String("audio", "testdata/sample-16khz.wav", "Path to WAV file (16-bit mono PCM)")
	url := flag.String("url", "ws://localhost:8080/v1/sessions/stream", "WebSocket session endpoint")
	tenantId := flag.String("tenant", "tenant-demo", "Tenant ID")
	token := flag.String("token", "", "Bearer token (when the server requires auth)")
	flag.Parse()

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatalf("Failed to open audio file: %v", err)
	}
	defer f.Close()

	format, err := wav.ReadHeader(f)
	if err != nil {
		log.Fatalf("Invalid audio file: %v", err)
	}

	header := http.Header{}
	if *token != "" {
		header.Set("Authorization", "Bearer "+*token)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(*url, header)
	if err != nil {
		if resp != nil {
			log.Fatalf("Failed to connect: %v (HTTP %d)", err, resp.StatusCode)
		}
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()
	log.Printf("Connected to %s", *url)

	err = conn.WriteJSON(models.ClientMessage{
		Type:     models.MessageStart,
		TenantID: *tenantId,
		Config: &models.SessionOptions{
			SampleRateHz: int(format.SampleRate),
			Encoding:     "LINEAR16",
		},
	})
	if err != nil {
		log.Fatalf("Failed to start session: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					log.Printf("Connection closed: %v", err)
				}
				return
			}
			var ev models.SessionEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				log.Printf("Malformed event: %v", err)
				continue
			}
			log.Printf("[%s] seq=%d final=%t %q %s", ev.EventType, ev.Sequence, ev.IsFinal, ev.Text, ev.Code)
		}
	}()

	chunk := make([]byte, format.BytesPerSecond()*chunkIntervalMs/1000)
streaming:
	for {
		select {
		case <-done:
			break streaming
		default:
		}
		n, err := f.Read(chunk)
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("Failed to read audio: %v", err)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, chunk[:n]); err != nil {
			log.Printf("Failed to send frame: %v", err)
			break
		}
		time.Sleep(chunkIntervalMs * time.Millisecond)
	}

	_ = conn.WriteJSON(models.ClientMessage{Type: models.MessageEnd})
	<-done
}

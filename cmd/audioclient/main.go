package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	grpcapi "ai-speech-session-service/internal/api/grpc"
	"ai-speech-session-service/internal/models"
	"ai-speech-session-service/internal/wav"
)

// Stream audio in 100ms chunks to simulate real-time streaming
const chunkIntervalMs = 100

func main() {
	audioFile := flag.String("audio", "testdata/sample-16khz.wav", "Path to WAV file (16-bit mono PCM)")
	serverAddr := flag.String("server", "localhost:50051", "gRPC server address")
	tenantId := flag.String("tenant", "tenant-demo", "Tenant ID")
	language := flag.String("language", "en-US", "BCP-47 language code")
	flag.Parse()

	// Open audio file
	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatalf("Failed to open audio file: %v", err)
	}
	defer f.Close()

	format, err := wav.ReadHeader(f)
	if err != nil {
		log.Fatalf("Invalid audio file: %v", err)
	}
	log.Printf("WAV file: channels=%d sampleRate=%d bitsPerSample=%d",
		format.Channels, format.SampleRate, format.BitsPerSample)

	// Connect to gRPC server
	conn, err := grpc.NewClient(*serverAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("Connected to %s", *serverAddr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	stream, err := grpcapi.NewSessionClient(conn).Stream(ctx)
	if err != nil {
		log.Fatalf("Failed to create stream: %v", err)
	}

	err = stream.Send(&models.ClientMessage{
		Type:     models.MessageStart,
		TenantID: *tenantId,
		Config: &models.SessionOptions{
			LanguageCode: *language,
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
			ev, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				log.Printf("Stream error: %v", err)
				return
			}
			printEvent(ev)
		}
	}()

	chunk := make([]byte, format.BytesPerSecond()*chunkIntervalMs/1000)
	var totalBytes int64
	var chunkNum int
	startTime := time.Now()

	for {
		n, err := f.Read(chunk)
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("Failed to read audio: %v", err)
		}

		chunkNum++
		totalBytes += int64(n)
		if err := stream.Send(&models.ClientMessage{Type: models.MessageAudio, Audio: chunk[:n]}); err != nil {
			log.Printf("Failed to send frame: %v", err)
			break
		}
		if chunkNum%10 == 0 {
			log.Printf("Sent chunk %d (%d bytes total)", chunkNum, totalBytes)
		}

		// Simulate real-time streaming
		time.Sleep(chunkIntervalMs * time.Millisecond)
	}

	log.Printf("Finished streaming: %d chunks, %d bytes in %v", chunkNum, totalBytes, time.Since(startTime))
	log.Println("Closing stream, waiting for final transcripts...")

	if err := stream.CloseSend(); err != nil {
		log.Printf("Failed to close stream: %v", err)
	}
	<-done
}

func printEvent(ev *models.SessionEvent) {
	switch ev.EventType {
	case models.EventTranscriptPartial, models.EventTranscriptFinal:
		log.Printf("[%s] #%d %q (confidence=%.2f)", ev.EventType, ev.Sequence, ev.Text, ev.Confidence)
	case models.EventSessionError:
		log.Printf("[%s] %s: %s", ev.EventType, ev.Code, ev.Message)
	case models.EventSessionEnded:
		log.Printf("[%s] state=%s code=%s transcript=%q", ev.EventType, ev.State, ev.Code, ev.Text)
	default:
		log.Printf("[%s] session=%s", ev.EventType, ev.SessionID)
	}
}

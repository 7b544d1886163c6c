// Command dictate is the terminal dictation client: it captures audio
// (a synthesized tone or a raw PCM file), streams it to the gateway
// and renders partial and final transcript segments live.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sevaarogya/dictation-gateway/internal/capture"
	"github.com/sevaarogya/dictation-gateway/internal/client"
	"github.com/sevaarogya/dictation-gateway/internal/observability"
	"github.com/sevaarogya/dictation-gateway/internal/protocol"
	"github.com/sevaarogya/dictation-gateway/internal/transcript"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/dictation", "gateway WebSocket URL")
		token    = flag.String("token", "", "auth token")
		quality  = flag.String("quality", "medium", "audio quality: low, medium or high")
		duration = flag.Duration("duration", 0, "stop after this long (0 runs until interrupted)")
		input    = flag.String("input", "", "raw PCM16LE file to stream instead of a synthesized tone")
		inRate   = flag.Int("input-rate", 16000, "sample rate of the input file")
		logLevel = flag.String("log-level", "warn", "log level")
	)
	flag.Parse()

	observability.InitLogger(*logLevel, true)
	logger := observability.GetLogger()

	if *token == "" {
		fmt.Fprintln(os.Stderr, "a -token is required")
		os.Exit(1)
	}
	q := protocol.Quality(*quality)
	if !q.Valid() {
		fmt.Fprintf(os.Stderr, "invalid quality %q\n", *quality)
		os.Exit(1)
	}

	renderer := transcript.NewRenderer(os.Stdout, true)

	done := make(chan struct{})
	cl := client.New(client.Config{URL: *url, Token: *token}, client.Handlers{
		OnResult: func(res protocol.TranscriptionResult) {
			renderer.Render(res.SegmentID, res.Text, res.IsPartial)
		},
		OnError: func(werr protocol.WireError) {
			logger.Warn().
				Str("code", werr.ErrorCode).
				Bool("recoverable", werr.Recoverable).
				Msg(werr.Message)
		},
		OnShutdown: func(msg string) {
			fmt.Fprintf(os.Stderr, "\nserver shutting down: %s\n", msg)
		},
		OnClosed: func(err error) {
			if err != nil {
				fmt.Fprintf(os.Stderr, "\nconnection lost: %v\n", err)
			}
			select {
			case <-done:
			default:
				close(done)
			}
		},
	})

	ctx := context.Background()
	if err := cl.Connect(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect")
	}
	defer cl.Close()

	ack, err := cl.StartSession(ctx, "", q)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to start session")
	}
	fmt.Printf("session %s started (%s quality)\n\n", ack.SessionID, q)

	source, err := buildSource(*input, *inRate, q)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open audio source")
	}

	recorder, err := capture.NewRecorder(source, capture.Config{
		SampleRate: q.SampleRate(),
	}, func(chunk capture.Chunk) {
		cl.SendChunk(chunk.Seq, chunk.PCM)
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create recorder")
	}
	if err := recorder.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start capture")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var timeout <-chan time.Time
	if *duration > 0 {
		timeout = time.After(*duration)
	}
	select {
	case <-quit:
	case <-timeout:
	case <-done:
		recorder.Stop()
		os.Exit(1)
	}

	recorder.Stop()
	fmt.Println("\nfinalizing...")

	summary, err := cl.EndSession(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to end session")
	}
	fmt.Printf("\nsession complete: %d words, %.1fs of audio\n", summary.WordCount, summary.TotalDuration)
	fmt.Printf("transcription %s archived at %s\n", summary.TranscriptionID, summary.AudioKey)
}

func buildSource(input string, inputRate int, q protocol.Quality) (capture.Source, error) {
	if input == "" {
		return &capture.ToneSource{Rate: q.SampleRate(), Frequency: 440}, nil
	}
	f, err := os.Open(input)
	if err != nil {
		return nil, err
	}
	return &capture.ReaderSource{R: f, Rate: inputRate}, nil
}

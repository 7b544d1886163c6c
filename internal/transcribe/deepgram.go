package transcribe

import (
	"context"
	"fmt"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/sevaarogya/dictation-gateway/internal/observability"
	"github.com/sevaarogya/dictation-gateway/internal/resilience"
)

// DeepgramBridge opens one Deepgram streaming session per dictation
// session. A shared circuit breaker protects forwards across sessions
// so a provider outage fails fast instead of piling up writes.
type DeepgramBridge struct {
	apiKey  string
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
}

// NewDeepgramBridge creates the real provider bridge.
func NewDeepgramBridge(apiKey string, maxFailures int, resetTimeout time.Duration) *DeepgramBridge {
	return &DeepgramBridge{
		apiKey:  apiKey,
		breaker: resilience.NewCircuitBreaker("deepgram", maxFailures, resetTimeout),
		logger:  observability.GetLogger().With().Str("component", "deepgram").Logger(),
	}
}

// messageCallbackHandler embeds the SDK default handler and overrides
// only Message and Error delivery.
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	onMessage func(*msginterfaces.MessageResponse)
	onError   func(*msginterfaces.ErrorResponse) error
}

func (m *messageCallbackHandler) Message(msg *msginterfaces.MessageResponse) error {
	m.onMessage(msg)
	return nil
}

func (m *messageCallbackHandler) Error(errResp *msginterfaces.ErrorResponse) error {
	if m.onError != nil {
		return m.onError(errResp)
	}
	return m.DefaultCallbackHandler.Error(errResp)
}

type deepgramStream struct {
	bridge  *DeepgramBridge
	cfg     StreamConfig
	client  *listenClient.WSCallback
	results chan Result
	cancel  context.CancelFunc
	logger  zerolog.Logger

	mu        sync.Mutex
	closed    bool
	resultsCh bool // true once results has been closed
}

// Open starts a Deepgram streaming session configured with the
// negotiated sample rate and the medical model vocabulary.
func (b *DeepgramBridge) Open(ctx context.Context, cfg StreamConfig) (Stream, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	s := &deepgramStream{
		bridge:  b,
		cfg:     cfg,
		results: make(chan Result, 100),
		cancel:  cancel,
		logger:  b.logger.With().Str("session_id", cfg.SessionID).Logger(),
	}

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          cfg.Model,
		Language:       cfg.Language,
		Punctuate:      true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		VadEvents:      true,
		Encoding:       "linear16",
		Channels:       1,
		SampleRate:     cfg.SampleRate,
	}

	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		onMessage:              s.handleMessage,
		onError: func(errResp *msginterfaces.ErrorResponse) error {
			s.logger.Error().
				Str("err_code", errResp.ErrCode).
				Str("description", errResp.Description).
				Msg("Provider stream error")
			b.breaker.RecordResult(false)
			observability.UpdateCircuitBreakerState("deepgram", int(b.breaker.GetState()))
			s.emit(Result{
				SessionID: cfg.SessionID,
				Err:       fmt.Errorf("provider error %s: %s", errResp.ErrCode, errResp.Description),
			})
			return nil
		},
	}

	client, err := listenClient.NewWSUsingCallback(streamCtx, b.apiKey, nil, tOptions, callback)
	if err != nil {
		cancel()
		b.breaker.RecordResult(false)
		return nil, fmt.Errorf("failed to open provider stream: %w", err)
	}

	s.client = client
	b.breaker.RecordResult(true)
	observability.UpdateCircuitBreakerState("deepgram", int(b.breaker.GetState()))

	s.logger.Info().
		Str("model", cfg.Model).
		Int("sample_rate", cfg.SampleRate).
		Msg("Provider stream opened")
	return s, nil
}

func (s *deepgramStream) handleMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil {
		return
	}

	switch msg.Type {
	case "Results", "Message":
		if len(msg.Channel.Alternatives) == 0 {
			return
		}
		alt := msg.Channel.Alternatives[0]
		if alt.Transcript == "" {
			return
		}
		// The utterance start time is stable across the partial→final
		// transition, so it keys the segment.
		segmentID := fmt.Sprintf("%s_%08.2f", s.cfg.SessionID, msg.Start)
		s.emit(Result{
			SessionID:  s.cfg.SessionID,
			SegmentID:  segmentID,
			Text:       alt.Transcript,
			IsPartial:  !msg.IsFinal,
			Confidence: alt.Confidence,
		})

	case "UtteranceEnd", "SpeechStarted", "Metadata":
		// Informational; no result to relay.

	default:
		s.logger.Debug().Str("msg_type", msg.Type).Msg("Unhandled provider message")
	}
}

// emit delivers a result unless the channel has been torn down. SDK
// callbacks can still be dispatched after Close; sending and closing
// share the stream mutex so a late callback can never hit a closed
// channel.
func (s *deepgramStream) emit(r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resultsCh {
		return
	}
	select {
	case s.results <- r:
	default:
		s.logger.Warn().Msg("Result channel full, dropping provider event")
	}
}

func (s *deepgramStream) closeResults() {
	s.mu.Lock()
	if !s.resultsCh {
		s.resultsCh = true
		close(s.results)
	}
	s.mu.Unlock()
}

// Forward pushes audio through the shared circuit breaker. Failed
// chunks are reported, not retried.
func (s *deepgramStream) Forward(pcm []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("provider stream is closed")
	}
	client := s.client
	s.mu.Unlock()

	err := s.bridge.breaker.Call(func() error {
		if _, werr := client.Write(pcm); werr != nil {
			return fmt.Errorf("failed to forward audio: %w", werr)
		}
		return nil
	})
	observability.UpdateCircuitBreakerState("deepgram", int(s.bridge.breaker.GetState()))
	return err
}

func (s *deepgramStream) Results() <-chan Result {
	return s.results
}

// Close signals end-of-audio, gives the provider a moment to flush
// remaining finals, then tears the stream down.
func (s *deepgramStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.client.Finish()

	go func() {
		time.Sleep(500 * time.Millisecond)
		s.cancel()
		s.closeResults()
	}()

	s.logger.Info().Msg("Provider stream closed")
	return nil
}

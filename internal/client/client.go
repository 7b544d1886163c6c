// Package client implements the dictation gateway's client transport:
// a WebSocket connection with handshake, session control, paired
// text/binary chunk transmission, bounded offline buffering and
// automatic reconnection.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sevaarogya/dictation-gateway/internal/audio"
	"github.com/sevaarogya/dictation-gateway/internal/observability"
	"github.com/sevaarogya/dictation-gateway/internal/protocol"
	"github.com/sevaarogya/dictation-gateway/internal/resilience"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultAckTimeout       = 10 * time.Second
	defaultCompleteTimeout  = 30 * time.Second
	defaultBacklogDuration  = 5 * time.Second
)

// Handlers receive asynchronous server events. Nil handlers are
// skipped. Handlers run on the read loop goroutine and must not block.
type Handlers struct {
	OnConnected func(connectionID string)
	OnResult    func(protocol.TranscriptionResult)
	OnError     func(protocol.WireError)
	OnShutdown  func(message string)

	// OnClosed fires once when the connection is lost for good, after
	// reconnection attempts are exhausted or Close is called. The error
	// is nil on a clean close.
	OnClosed func(err error)
}

// Config controls the client transport.
type Config struct {
	URL   string
	Token string

	// BacklogDuration bounds the offline chunk buffer in seconds of
	// PCM at the session's sample rate. Defaults to 5s.
	BacklogDuration time.Duration

	// Retry governs reconnection. Defaults to three attempts with
	// delays of 1s, 2s and 4s before each.
	Retry *resilience.RetryConfig

	HandshakeTimeout time.Duration
}

// Client is a single-session dictation client. It is safe for
// concurrent use by a capture goroutine and a control goroutine.
type Client struct {
	cfg      Config
	handlers Handlers
	logger   zerolog.Logger

	writeMu sync.Mutex // serializes all conn writes

	mu           sync.Mutex
	conn         *websocket.Conn
	connected    bool
	closing      bool
	flushing     bool
	connectionID string
	sessionID    string
	backlog      *backlog

	ackCh      chan protocol.SessionAck
	completeCh chan protocol.SessionComplete
	errCh      chan protocol.WireError
}

// New creates a client. Connect must be called before any session
// operation.
func New(cfg Config, handlers Handlers) *Client {
	if cfg.BacklogDuration == 0 {
		cfg.BacklogDuration = defaultBacklogDuration
	}
	if cfg.Retry == nil {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	return &Client{
		cfg:      cfg,
		handlers: handlers,
		logger:   observability.GetLogger().With().Str("component", "client").Logger(),

		ackCh:      make(chan protocol.SessionAck, 1),
		completeCh: make(chan protocol.SessionComplete, 1),
		errCh:      make(chan protocol.WireError, 4),
	}
}

// Connect dials the gateway and waits for the connected handshake.
func (c *Client) Connect(ctx context.Context) error {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", c.cfg.URL, err)
	}

	conn.SetReadDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return fmt.Errorf("handshake read failed: %w", err)
	}
	var hello protocol.Connected
	if err := json.Unmarshal(data, &hello); err != nil || hello.Type != protocol.TypeConnected {
		conn.Close()
		return fmt.Errorf("unexpected handshake message: %s", data)
	}
	conn.SetReadDeadline(time.Time{})

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.connectionID = hello.ConnectionID
	c.mu.Unlock()

	c.logger.Info().Str("connection_id", hello.ConnectionID).Msg("Connected to gateway")
	if c.handlers.OnConnected != nil {
		c.handlers.OnConnected(hello.ConnectionID)
	}

	go c.readLoop(conn)
	return nil
}

// StartSession requests a new dictation session and waits for its
// acknowledgment. The returned ack carries the server-assigned
// session id used for all subsequent chunks.
func (c *Client) StartSession(ctx context.Context, userID string, quality protocol.Quality) (*protocol.SessionAck, error) {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		return nil, fmt.Errorf("not connected")
	}

	req := protocol.SessionStart{
		Type:      protocol.TypeSessionStart,
		UserID:    userID,
		Quality:   quality,
		Timestamp: protocol.Now(),
	}
	if err := c.writeJSON(conn, req); err != nil {
		return nil, fmt.Errorf("failed to send session_start: %w", err)
	}

	timer := time.NewTimer(defaultAckTimeout)
	defer timer.Stop()
	select {
	case ack := <-c.ackCh:
		c.mu.Lock()
		c.sessionID = ack.SessionID
		c.backlog = newBacklog(audio.BytesForDuration(c.cfg.BacklogDuration, quality.SampleRate()))
		c.mu.Unlock()
		return &ack, nil
	case werr := <-c.errCh:
		return nil, fmt.Errorf("session start rejected: %s (%s)", werr.Message, werr.ErrorCode)
	case <-timer.C:
		return nil, fmt.Errorf("timed out waiting for session ack")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendChunk transmits one PCM chunk. It never blocks on the network
// outcome: chunks that cannot be delivered right now are queued in
// the bounded backlog and replayed after reconnection.
func (c *Client) SendChunk(chunkID int64, pcm []byte) {
	c.mu.Lock()
	conn := c.conn
	sessionID := c.sessionID
	deliverable := c.connected && !c.flushing
	if sessionID == "" {
		c.mu.Unlock()
		return
	}
	if !deliverable {
		c.backlog.push(chunkID, pcm)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.writeChunk(conn, sessionID, chunkID, pcm); err != nil {
		c.logger.Warn().Err(err).Int64("chunk_id", chunkID).Msg("Chunk send failed, buffering")
		c.mu.Lock()
		c.backlog.push(chunkID, pcm)
		c.mu.Unlock()
	}
}

// writeChunk is the transmit primitive: the envelope text frame
// followed immediately by the tagged binary frame, atomically with
// respect to other writers.
func (c *Client) writeChunk(conn *websocket.Conn, sessionID string, chunkID int64, pcm []byte) error {
	env := protocol.ChunkEnvelope{
		Type:      protocol.TypeAudioChunk,
		SessionID: sessionID,
		ChunkID:   chunkID,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.BinaryMessage, protocol.EncodeAudioFrame(pcm))
}

func (c *Client) writeJSON(conn *websocket.Conn, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// EndSession signals graceful termination and waits for the session
// summary.
func (c *Client) EndSession(ctx context.Context) (*protocol.SessionComplete, error) {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	sessionID := c.sessionID
	c.mu.Unlock()
	if !connected {
		return nil, fmt.Errorf("not connected")
	}
	if sessionID == "" {
		return nil, fmt.Errorf("no active session")
	}

	req := protocol.SessionEnd{
		Type:      protocol.TypeSessionEnd,
		SessionID: sessionID,
		Timestamp: protocol.Now(),
	}
	if err := c.writeJSON(conn, req); err != nil {
		return nil, fmt.Errorf("failed to send session_end: %w", err)
	}

	timer := time.NewTimer(defaultCompleteTimeout)
	defer timer.Stop()
	select {
	case done := <-c.completeCh:
		c.mu.Lock()
		c.sessionID = ""
		c.mu.Unlock()
		return &done, nil
	case werr := <-c.errCh:
		return nil, fmt.Errorf("session end failed: %s (%s)", werr.Message, werr.ErrorCode)
	case <-timer.C:
		return nil, fmt.Errorf("timed out waiting for session completion")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close shuts the connection down without reconnecting.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closing = true
	conn := c.conn
	c.connected = false
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return conn.Close()
}

// Connected reports whether the transport is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// BacklogLen reports the number of chunks waiting for reconnection.
func (c *Client) BacklogLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backlog == nil {
		return 0
	}
	return c.backlog.len()
}

// controlError reports whether a wire error code answers a pending
// session_start or session_end rather than annotating the audio
// stream. Provider hiccups, chunk rejections and the overflow notice
// (which the server follows with session_complete) stay out of the
// control channel.
func controlError(code string) bool {
	switch code {
	case protocol.CodeSessionLimitExceeded,
		protocol.CodeSessionStartFailed,
		protocol.CodeSessionEndFailed,
		protocol.CodeStorageFailed,
		protocol.CodeSessionNotFound,
		protocol.CodeUnauthorized:
		return true
	}
	return false
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(err)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		env, err := protocol.ParseEnvelope(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Unparseable server message")
			continue
		}

		switch env.Type {
		case protocol.TypeHeartbeat:
			// Liveness only; the read itself is the signal.

		case protocol.TypeSessionAck:
			var ack protocol.SessionAck
			if err := json.Unmarshal(data, &ack); err == nil {
				select {
				case c.ackCh <- ack:
				default:
				}
			}

		case protocol.TypeTranscriptionResult:
			var res protocol.TranscriptionResult
			if err := json.Unmarshal(data, &res); err == nil && c.handlers.OnResult != nil {
				c.handlers.OnResult(res)
			}

		case protocol.TypeSessionComplete:
			var done protocol.SessionComplete
			if err := json.Unmarshal(data, &done); err == nil {
				select {
				case c.completeCh <- done:
				default:
				}
			}

		case protocol.TypeError:
			var werr protocol.WireError
			if err := json.Unmarshal(data, &werr); err == nil {
				// Mid-stream errors are advisory and must not preempt a
				// pending session_ack or session_complete.
				if controlError(werr.ErrorCode) {
					select {
					case c.errCh <- werr:
					default:
					}
				}
				if c.handlers.OnError != nil {
					c.handlers.OnError(werr)
				}
			}

		case protocol.TypeServerShutdown:
			var sd protocol.ServerShutdown
			if err := json.Unmarshal(data, &sd); err == nil && c.handlers.OnShutdown != nil {
				c.handlers.OnShutdown(sd.Message)
			}

		default:
			c.logger.Debug().Str("type", env.Type).Msg("Ignoring unknown message type")
		}
	}
}

func (c *Client) handleDisconnect(cause error) {
	c.mu.Lock()
	closing := c.closing
	c.connected = false
	c.conn = nil
	c.mu.Unlock()

	if closing {
		if c.handlers.OnClosed != nil {
			c.handlers.OnClosed(nil)
		}
		return
	}

	c.logger.Warn().Err(cause).Msg("Connection lost, attempting reconnect")
	if err := c.reconnect(); err != nil {
		c.logger.Error().Err(err).Msg("Reconnection exhausted")
		if c.handlers.OnClosed != nil {
			c.handlers.OnClosed(cause)
		}
		return
	}
	c.flush()
}

// reconnect retries the dial with the configured backoff before each
// attempt. With defaults that is three attempts preceded by 1s, 2s
// and 4s delays.
func (c *Client) reconnect() error {
	for attempt := 1; attempt <= c.cfg.Retry.MaxAttempts; attempt++ {
		time.Sleep(c.cfg.Retry.Backoff(attempt))

		c.logger.Info().Int("attempt", attempt).Msg("Reconnecting")
		if err := c.Connect(context.Background()); err != nil {
			c.logger.Warn().Err(err).Int("attempt", attempt).Msg("Reconnect attempt failed")
			continue
		}
		return nil
	}
	return fmt.Errorf("reconnect failed after %d attempts", c.cfg.Retry.MaxAttempts)
}

// flush replays the backlog in order over the restored connection.
// It uses the transmit primitive directly; SendChunk calls arriving
// mid-flush append to the backlog so ordering is preserved.
func (c *Client) flush() {
	c.mu.Lock()
	if c.flushing || c.backlog == nil {
		c.mu.Unlock()
		return
	}
	c.flushing = true
	c.mu.Unlock()

	for {
		c.mu.Lock()
		chunk, ok := c.backlog.pop()
		if !ok {
			// Observing emptiness and clearing the flag must be one
			// step: a SendChunk racing the old two-step exit could push
			// a chunk that nothing would ever drain.
			c.flushing = false
			c.mu.Unlock()
			return
		}
		conn := c.conn
		connected := c.connected
		sessionID := c.sessionID
		c.mu.Unlock()

		if !connected {
			c.mu.Lock()
			c.backlog.pushFront(chunk)
			c.flushing = false
			c.mu.Unlock()
			return
		}
		if err := c.writeChunk(conn, sessionID, chunk.chunkID, chunk.pcm); err != nil {
			c.logger.Warn().Err(err).Msg("Backlog flush interrupted")
			c.mu.Lock()
			c.backlog.pushFront(chunk)
			c.flushing = false
			c.mu.Unlock()
			return
		}
	}
}

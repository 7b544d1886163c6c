package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sevaarogya/dictation-gateway/internal/observability"
	"github.com/sevaarogya/dictation-gateway/internal/protocol"
	"github.com/sevaarogya/dictation-gateway/internal/resilience"
	"github.com/sevaarogya/dictation-gateway/internal/session"
	"github.com/sevaarogya/dictation-gateway/internal/store"
	"github.com/sevaarogya/dictation-gateway/internal/transcribe"
	"github.com/sevaarogya/dictation-gateway/internal/transcript"
)

// liveSession binds one registry session to its provider stream and
// running transcript. It outlives any single connection: a client that
// reconnects within the idle grace period resumes the same session,
// and the current connection reference is rebound on its first
// message.
type liveSession struct {
	sess            *session.Session
	stream          transcribe.Stream
	trans           *transcript.Accumulation
	transcriptionID string
	startedAt       time.Time
	pumpDone        chan struct{}

	mu   sync.Mutex
	conn *connection
}

func (ls *liveSession) bind(c *connection) {
	ls.mu.Lock()
	ls.conn = c
	ls.mu.Unlock()
}

func (ls *liveSession) currentConn() *connection {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.conn
}

// connection owns one WebSocket: a read loop on the handler
// goroutine, a single writer goroutine fed by a bounded queue, and a
// heartbeat ticker.
type connection struct {
	id     string
	userID string
	gw     *Gateway
	ws     *websocket.Conn
	logger zerolog.Logger

	send       chan []byte
	readDone   chan struct{}
	writerDone chan struct{}

	// Read-loop local: pairs each audio_chunk envelope with the binary
	// frame that must follow it.
	pendingChunk *protocol.ChunkEnvelope
}

func newConnection(gw *Gateway, ws *websocket.Conn, userID string) *connection {
	id := newConnectionID()
	return &connection{
		id:         id,
		userID:     userID,
		gw:         gw,
		ws:         ws,
		logger:     gw.logger.With().Str("connection_id", id).Str("user_id", userID).Logger(),
		send:       make(chan []byte, sendQueueSize),
		readDone:   make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

func marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// enqueue queues a JSON message for the writer without blocking the
// caller. A full queue means the client cannot keep up; the message
// is dropped and logged.
func (c *connection) enqueue(v interface{}) {
	payload, err := marshal(v)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to marshal outbound message")
		return
	}
	select {
	case c.send <- payload:
	default:
		c.logger.Warn().Msg("Outbound queue full, dropping message")
	}
}

func (c *connection) sendError(code, message string, recoverable bool) {
	observability.RecordError(code, "gateway")
	c.enqueue(protocol.NewWireError(code, message, recoverable))
}

func (c *connection) run() {
	go c.writeLoop()
	go c.heartbeatLoop()

	c.enqueue(protocol.Connected{
		Type:         protocol.TypeConnected,
		ConnectionID: c.id,
		Timestamp:    protocol.Now(),
	})
	c.logger.Info().Msg("Client connected")

	c.readLoop()

	// Sessions are not torn down here: a dropped client may reconnect
	// within the idle grace period and resume. Abandoned sessions fall
	// to the idle sweeper.
	close(c.readDone)
	<-c.writerDone
	c.close()
	c.logger.Info().Msg("Client disconnected")
}

func (c *connection) writeLoop() {
	defer close(c.writerDone)
	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Debug().Err(err).Msg("Write failed")
				return
			}
		case <-c.readDone:
			// Drain anything already queued before the socket closes.
			for {
				select {
				case payload := <-c.send:
					c.ws.SetWriteDeadline(time.Now().Add(time.Second))
					if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
						return
					}
				default:
					return
				}
			}
		case <-c.gw.ctx.Done():
			return
		}
	}
}

func (c *connection) heartbeatLoop() {
	interval := c.gw.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			observability.RecordHeartbeat()
			c.enqueue(protocol.Heartbeat{Type: protocol.TypeHeartbeat, Timestamp: protocol.Now()})
		case <-c.readDone:
			return
		case <-c.gw.ctx.Done():
			return
		}
	}
}

func (c *connection) close() {
	c.ws.SetWriteDeadline(time.Now().Add(time.Second))
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
	c.ws.Close()
}

func (c *connection) readLoop() {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug().Err(err).Msg("Read loop ended")
			}
			return
		}

		switch msgType {
		case websocket.TextMessage:
			c.handleText(data)
		case websocket.BinaryMessage:
			c.handleBinary(data)
		}
	}
}

func (c *connection) handleText(data []byte) {
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Unparseable client message")
		return
	}

	switch env.Type {
	case protocol.TypeSessionStart:
		var req protocol.SessionStart
		if err := json.Unmarshal(data, &req); err != nil {
			c.sendError(protocol.CodeSessionStartFailed, "malformed session_start", false)
			return
		}
		c.handleSessionStart(req)

	case protocol.TypeAudioChunk:
		var chunk protocol.ChunkEnvelope
		if err := json.Unmarshal(data, &chunk); err != nil {
			c.sendError(protocol.CodeInvalidAudioChunk, "malformed chunk envelope", true)
			return
		}
		if c.pendingChunk != nil {
			c.logger.Warn().Int64("chunk_id", c.pendingChunk.ChunkID).
				Msg("Chunk envelope without audio frame, dropping")
		}
		c.pendingChunk = &chunk

	case protocol.TypeSessionEnd:
		var req protocol.SessionEnd
		if err := json.Unmarshal(data, &req); err != nil {
			c.sendError(protocol.CodeSessionEndFailed, "malformed session_end", false)
			return
		}
		c.handleSessionEnd(req.SessionID)

	case protocol.TypeHeartbeat:
		// Client echo; the read itself refreshes liveness.

	default:
		c.logger.Debug().Str("type", env.Type).Msg("Ignoring unknown client message")
	}
}

func (c *connection) handleBinary(frame []byte) {
	env := c.pendingChunk
	c.pendingChunk = nil
	if env == nil {
		c.sendError(protocol.CodeInvalidAudioChunk, "audio frame without chunk envelope", true)
		return
	}

	pcm, err := protocol.DecodeAudioFrame(frame)
	if err != nil {
		c.sendError(protocol.CodeInvalidAudioChunk, err.Error(), true)
		return
	}
	c.handleChunk(env, pcm)
}

// lookup resolves a live session owned by this connection's user,
// rebinding it to this connection so results and errors reach the
// client even after a reconnect.
func (c *connection) lookup(sessionID string) (*liveSession, bool) {
	ls, ok := c.gw.getLive(sessionID)
	if !ok || ls.sess.UserID != c.userID {
		return nil, false
	}
	ls.bind(c)
	return ls, true
}

func (c *connection) handleSessionStart(req protocol.SessionStart) {
	sessionID := req.SessionID
	if _, err := uuid.Parse(sessionID); err != nil {
		sessionID = uuid.New().String()
	}

	quality := req.Quality
	if !quality.Valid() {
		quality = protocol.QualityMedium
	}
	rate := quality.SampleRate()

	sess, err := c.gw.registry.Create(sessionID, c.userID, c.id, string(quality), rate)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrCapacity):
			c.sendError(protocol.CodeSessionLimitExceeded, err.Error(), false)
		case errors.Is(err, session.ErrExists):
			c.sendError(protocol.CodeSessionStartFailed, err.Error(), false)
		default:
			c.sendError(protocol.CodeSessionStartFailed, err.Error(), true)
		}
		return
	}

	acc := session.NewAccumulator(rate, c.gw.cfg.MaxRecordingDuration)
	sess.Accumulator = acc

	stream, err := c.gw.bridge.Open(c.gw.ctx, transcribe.StreamConfig{
		SessionID:  sessionID,
		SampleRate: rate,
		Language:   c.gw.cfg.Language,
		Model:      c.gw.cfg.Model,
	})
	if err != nil {
		c.gw.registry.Remove(sessionID)
		c.logger.Error().Err(err).Str("session_id", sessionID).Msg("Provider stream open failed")
		c.sendError(protocol.CodeSessionStartFailed, "transcription provider unavailable", true)
		return
	}

	transcriptionID, err := c.gw.transcripts.Create(c.gw.ctx, sessionID, c.userID, rate, string(quality))
	if err != nil {
		stream.Close()
		c.gw.registry.Remove(sessionID)
		c.logger.Error().Err(err).Str("session_id", sessionID).Msg("Transcript record create failed")
		c.sendError(protocol.CodeSessionStartFailed, "failed to create transcript record", true)
		return
	}

	ls := &liveSession{
		sess:            sess,
		stream:          stream,
		trans:           transcript.New(),
		transcriptionID: transcriptionID,
		startedAt:       time.Now(),
		pumpDone:        make(chan struct{}),
		conn:            c,
	}

	// Runs when the registry evicts or drains the session before a
	// graceful finalize claimed it.
	sess.SetTeardown(func() {
		stream.Close()
		acc.Discard()
		c.gw.removeLive(sessionID)
		observability.RecordSessionEnd("evicted", ls.startedAt)
	})

	if err := sess.Transition(session.StateActive); err != nil {
		c.gw.registry.Remove(sessionID)
		c.sendError(protocol.CodeSessionStartFailed, err.Error(), false)
		return
	}

	c.gw.addLive(sessionID, ls)
	go c.gw.resultPump(ls)

	observability.RecordSessionStart()
	c.enqueue(protocol.SessionAck{
		Type:      protocol.TypeSessionAck,
		SessionID: sessionID,
		JobID:     transcriptionID,
		Status:    "started",
		Timestamp: protocol.Now(),
	})
	c.logger.Info().
		Str("session_id", sessionID).
		Str("quality", string(quality)).
		Int("sample_rate", rate).
		Msg("Session started")
}

func (c *connection) handleChunk(env *protocol.ChunkEnvelope, pcm []byte) {
	ls, ok := c.lookup(env.SessionID)
	if !ok {
		c.sendError(protocol.CodeSessionNotFound,
			fmt.Sprintf("session %s not found", env.SessionID), false)
		return
	}
	sess := ls.sess
	if sess.State() != session.StateActive {
		c.sendError(protocol.CodeStreamNotReady,
			fmt.Sprintf("session %s is %s", env.SessionID, sess.State()), true)
		return
	}

	// Exactly-once: retransmissions carry chunk ids at or below the
	// high-water mark and are dropped without side effects.
	if !sess.AcceptChunk(env.ChunkID) {
		observability.RecordDuplicateChunk()
		return
	}
	sess.Touch()

	if err := sess.Accumulator.Append(env.ChunkID, pcm); err != nil {
		if errors.Is(err, session.ErrOverflow) {
			c.logger.Warn().Str("session_id", env.SessionID).Msg("Recording ceiling reached, finalizing")
			c.sendError(protocol.CodeBufferOverflow, err.Error(), false)
			c.finalizeSession(env.SessionID, ls)
			return
		}
		c.logger.Error().Err(err).Str("session_id", env.SessionID).Msg("Chunk buffering failed")
		c.sendError(protocol.CodeInvalidAudioChunk, err.Error(), true)
		return
	}
	observability.RecordChunk(len(pcm))

	// Forwarding failures do not lose the session; the chunk is still
	// buffered for the archival recording.
	if err := ls.stream.Forward(pcm); err != nil {
		c.logger.Warn().Err(err).Str("session_id", env.SessionID).Msg("Provider forward failed")
		c.sendError(protocol.CodeProviderUnavailable, "transcription interrupted", true)
	}
}

func (c *connection) handleSessionEnd(sessionID string) {
	ls, ok := c.lookup(sessionID)
	if !ok {
		c.sendError(protocol.CodeSessionNotFound,
			fmt.Sprintf("session %s not found", sessionID), false)
		return
	}
	c.finalizeSession(sessionID, ls)
}

// finalizeSession drives the graceful end path: close the provider
// stream, drain remaining results, encode and archive the recording,
// then report the session summary.
func (c *connection) finalizeSession(sessionID string, ls *liveSession) {
	sess := ls.sess

	if err := sess.Transition(session.StateClosing); err != nil {
		c.sendError(protocol.CodeSessionEndFailed, err.Error(), false)
		return
	}
	c.gw.removeLive(sessionID)

	// From here finalization owns the stream and the buffer; the
	// eviction teardown must not run as well.
	sess.SetTeardown(nil)

	if err := ls.stream.Close(); err != nil {
		c.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Provider stream close failed")
	}
	select {
	case <-ls.pumpDone:
	case <-time.After(pumpDrainTimeout):
		c.logger.Warn().Str("session_id", sessionID).Msg("Result drain timed out")
	}

	duration := sess.Accumulator.TotalDuration()
	encoded, err := sess.Accumulator.Finalize()
	if err != nil {
		c.logger.Error().Err(err).Str("session_id", sessionID).Msg("Recording finalize failed")
		c.failSession(sessionID, ls, protocol.CodeSessionEndFailed, "failed to encode recording")
		return
	}

	key := session.StorageKey(sess.UserID, uuid.New(), time.Now())
	err = resilience.Retry(c.gw.ctx, func() error {
		return c.gw.objects.Put(c.gw.ctx, key, encoded)
	}, resilience.StorageRetryConfig())
	observability.RecordStorageUpload(err == nil)
	if err != nil {
		c.logger.Error().Err(err).Str("session_id", sessionID).Str("key", key).Msg("Recording upload failed")
		c.failSession(sessionID, ls, protocol.CodeStorageFailed, "failed to archive recording")
		return
	}
	observability.RecordStoredBytes(len(encoded))

	if err := c.gw.transcripts.SetStatus(c.gw.ctx, sessionID, store.StatusCompleted, key, duration.Seconds()); err != nil {
		c.logger.Error().Err(err).Str("session_id", sessionID).Msg("Transcript status update failed")
	}

	observability.RecordSessionEnd("completed", ls.startedAt)
	c.enqueue(protocol.SessionComplete{
		Type:            protocol.TypeSessionComplete,
		SessionID:       sessionID,
		TranscriptionID: ls.transcriptionID,
		AudioKey:        key,
		TotalDuration:   duration.Seconds(),
		WordCount:       ls.trans.WordCount(),
		Timestamp:       protocol.Now(),
	})
	c.gw.registry.Remove(sessionID)
	c.logger.Info().
		Str("session_id", sessionID).
		Str("audio_key", key).
		Float64("duration_s", duration.Seconds()).
		Int("final_segments", ls.trans.FinalCount()).
		Msg("Session completed")
}

func (c *connection) failSession(sessionID string, ls *liveSession, code, message string) {
	if err := c.gw.transcripts.SetStatus(c.gw.ctx, sessionID, store.StatusFailed, "", 0); err != nil {
		c.logger.Error().Err(err).Str("session_id", sessionID).Msg("Transcript status update failed")
	}
	observability.RecordSessionEnd("failed", ls.startedAt)
	c.sendError(code, message, false)
	c.gw.registry.Remove(sessionID)
}

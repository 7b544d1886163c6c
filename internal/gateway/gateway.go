// Package gateway is the server side of the dictation pipeline: it
// upgrades client connections, owns the per-connection read and write
// loops, and drives each session through start, streaming and
// finalization against the provider bridge and the stores.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sevaarogya/dictation-gateway/internal/observability"
	"github.com/sevaarogya/dictation-gateway/internal/protocol"
	"github.com/sevaarogya/dictation-gateway/internal/session"
	"github.com/sevaarogya/dictation-gateway/internal/store"
	"github.com/sevaarogya/dictation-gateway/internal/transcribe"

	"github.com/google/uuid"
)

const (
	sweepInterval    = 60 * time.Second
	writeWait        = 10 * time.Second
	pumpDrainTimeout = 5 * time.Second
	sendQueueSize    = 64
)

// Config carries the tunables the gateway needs at runtime.
type Config struct {
	HeartbeatInterval    time.Duration
	SessionIdleTimeout   time.Duration
	MaxRecordingDuration time.Duration
	Model                string
	Language             string
}

// Gateway accepts WebSocket connections and multiplexes dictation
// sessions over them.
type Gateway struct {
	cfg         Config
	registry    *session.Registry
	bridge      transcribe.Bridge
	identity    store.Identity
	objects     store.ObjectStore
	transcripts store.TranscriptStore
	logger      zerolog.Logger
	upgrader    websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	conns  map[string]*connection
	live   map[string]*liveSession
	closed bool
}

// New creates a gateway and starts its idle-session sweeper.
func New(cfg Config, registry *session.Registry, bridge transcribe.Bridge,
	identity store.Identity, objects store.ObjectStore, transcripts store.TranscriptStore) *Gateway {

	ctx, cancel := context.WithCancel(context.Background())
	gw := &Gateway{
		cfg:         cfg,
		registry:    registry,
		bridge:      bridge,
		identity:    identity,
		objects:     objects,
		transcripts: transcripts,
		logger:      observability.GetLogger().With().Str("component", "gateway").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[string]*connection),
		live:   make(map[string]*liveSession),
	}

	gw.wg.Add(1)
	go gw.sweepLoop()
	return gw
}

// Handler returns the WebSocket endpoint.
func (gw *Gateway) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gw.mu.Lock()
		if gw.closed {
			gw.mu.Unlock()
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		gw.mu.Unlock()

		ws, err := gw.upgrader.Upgrade(w, r, nil)
		if err != nil {
			gw.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
			return
		}

		userID, err := gw.authenticate(r)
		if err != nil {
			gw.logger.Warn().Err(err).Msg("Connection rejected")
			observability.RecordError(protocol.CodeUnauthorized, "gateway")
			payload, _ := marshal(protocol.NewWireError(protocol.CodeUnauthorized, "invalid or missing token", false))
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			ws.WriteMessage(websocket.TextMessage, payload)
			ws.Close()
			return
		}

		conn := newConnection(gw, ws, userID)
		gw.mu.Lock()
		gw.conns[conn.id] = conn
		gw.mu.Unlock()

		gw.wg.Add(1)
		conn.run()
		gw.wg.Done()

		gw.mu.Lock()
		delete(gw.conns, conn.id)
		gw.mu.Unlock()
	}
}

// authenticate resolves the caller's user id from the bearer token or
// the token query parameter.
func (gw *Gateway) authenticate(r *http.Request) (string, error) {
	token := r.URL.Query().Get("token")
	if auth := r.Header.Get("Authorization"); auth != "" {
		const prefix = "Bearer "
		if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
			token = auth[len(prefix):]
		}
	}
	if token == "" {
		return "", fmt.Errorf("no token presented")
	}
	return gw.identity.Authenticate(r.Context(), token)
}

func (gw *Gateway) addLive(sessionID string, ls *liveSession) {
	gw.mu.Lock()
	gw.live[sessionID] = ls
	gw.mu.Unlock()
}

func (gw *Gateway) getLive(sessionID string) (*liveSession, bool) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	ls, ok := gw.live[sessionID]
	return ls, ok
}

func (gw *Gateway) removeLive(sessionID string) {
	gw.mu.Lock()
	delete(gw.live, sessionID)
	gw.mu.Unlock()
}

// resultPump relays provider results to whichever connection the
// session is currently bound to, persisting each newly finalized
// segment exactly once. It runs for the life of the provider stream.
func (gw *Gateway) resultPump(ls *liveSession) {
	defer close(ls.pumpDone)

	sessionID := ls.sess.ID
	for res := range ls.stream.Results() {
		conn := ls.currentConn()
		if res.Err != nil {
			gw.logger.Warn().Err(res.Err).Str("session_id", sessionID).Msg("Provider result error")
			if conn != nil {
				conn.sendError(protocol.CodeProviderUnavailable, "transcription interrupted", true)
			}
			continue
		}

		newFinal := ls.trans.Add(res.SegmentID, res.Text, res.IsPartial)
		observability.RecordTranscriptionResult(res.IsPartial)
		if newFinal {
			if err := gw.transcripts.AppendText(gw.ctx, sessionID, res.Text); err != nil {
				gw.logger.Error().Err(err).Str("session_id", sessionID).Msg("Transcript append failed")
			}
		}

		if conn != nil {
			conn.enqueue(protocol.TranscriptionResult{
				Type:       protocol.TypeTranscriptionResult,
				SessionID:  sessionID,
				SegmentID:  res.SegmentID,
				Text:       res.Text,
				IsPartial:  res.IsPartial,
				Confidence: res.Confidence,
				Timestamp:  protocol.Now(),
			})
		}
	}
}

func (gw *Gateway) sweepLoop() {
	defer gw.wg.Done()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-gw.ctx.Done():
			return
		case <-ticker.C:
			if n := gw.registry.SweepIdle(gw.cfg.SessionIdleTimeout); n > 0 {
				gw.logger.Info().Int("evicted", n).Msg("Idle session sweep")
			}
		}
	}
}

// Shutdown notifies connected clients, drains every session and
// closes all connections, waiting up to the context deadline.
func (gw *Gateway) Shutdown(ctx context.Context) error {
	gw.mu.Lock()
	if gw.closed {
		gw.mu.Unlock()
		return nil
	}
	gw.closed = true
	conns := make([]*connection, 0, len(gw.conns))
	for _, c := range gw.conns {
		conns = append(conns, c)
	}
	gw.mu.Unlock()

	gw.logger.Info().Int("connections", len(conns)).Msg("Gateway shutting down")

	notice := protocol.ServerShutdown{
		Type:      protocol.TypeServerShutdown,
		Message:   "server shutting down",
		Timestamp: protocol.Now(),
	}
	for _, c := range conns {
		c.enqueue(notice)
	}

	gw.registry.DrainAll()
	gw.cancel()
	for _, c := range conns {
		c.close()
	}

	done := make(chan struct{})
	go func() {
		gw.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// ActiveSessions reports the current session count, for readiness
// and introspection.
func (gw *Gateway) ActiveSessions() int {
	return gw.registry.ActiveCount()
}

func newConnectionID() string {
	return uuid.New().String()
}

package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sevaarogya/dictation-gateway/internal/protocol"
	"github.com/sevaarogya/dictation-gateway/internal/resilience"
)

// fakeGateway is a minimal server side of the wire protocol: it
// handshakes, acks session starts, records chunk pairs and completes
// session ends. dropAfterAck closes the first connection right after
// the ack to exercise reconnection.
type fakeGateway struct {
	t            *testing.T
	dropAfterAck bool
	errAfterAck  *protocol.WireError

	mu       sync.Mutex
	conns    int
	chunkIDs []int64
	tokens   []string
}

func (g *fakeGateway) handler() http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		g.conns++
		connNum := g.conns
		g.tokens = append(g.tokens, r.Header.Get("Authorization"))
		g.mu.Unlock()

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		hello, _ := json.Marshal(protocol.Connected{
			Type:         protocol.TypeConnected,
			ConnectionID: uuid.New().String(),
			Timestamp:    protocol.Now(),
		})
		ws.WriteMessage(websocket.TextMessage, hello)

		var pending *protocol.ChunkEnvelope
		for {
			msgType, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if msgType == websocket.BinaryMessage {
				if pending == nil {
					continue
				}
				if _, err := protocol.DecodeAudioFrame(data); err != nil {
					g.t.Errorf("bad audio frame: %v", err)
				}
				g.mu.Lock()
				g.chunkIDs = append(g.chunkIDs, pending.ChunkID)
				g.mu.Unlock()
				pending = nil
				continue
			}

			env, err := protocol.ParseEnvelope(data)
			if err != nil {
				continue
			}
			switch env.Type {
			case protocol.TypeSessionStart:
				ack, _ := json.Marshal(protocol.SessionAck{
					Type:      protocol.TypeSessionAck,
					SessionID: "sess-1",
					JobID:     "tr-0001",
					Status:    "started",
					Timestamp: protocol.Now(),
				})
				ws.WriteMessage(websocket.TextMessage, ack)
				if g.errAfterAck != nil {
					werr, _ := json.Marshal(g.errAfterAck)
					ws.WriteMessage(websocket.TextMessage, werr)
				}
				if g.dropAfterAck && connNum == 1 {
					return
				}
			case protocol.TypeAudioChunk:
				var chunk protocol.ChunkEnvelope
				json.Unmarshal(data, &chunk)
				pending = &chunk
			case protocol.TypeSessionEnd:
				done, _ := json.Marshal(protocol.SessionComplete{
					Type:          protocol.TypeSessionComplete,
					SessionID:     env.SessionID,
					AudioKey:      "audio/u1/file.wav",
					TotalDuration: 1.5,
					WordCount:     4,
					Timestamp:     protocol.Now(),
				})
				ws.WriteMessage(websocket.TextMessage, done)
			}
		}
	}
}

func (g *fakeGateway) receivedChunkIDs() []int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]int64(nil), g.chunkIDs...)
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClientSessionRoundTrip(t *testing.T) {
	g := &fakeGateway{t: t}
	srv := httptest.NewServer(g.handler())
	defer srv.Close()

	cl := New(Config{URL: wsURL(srv), Token: "tok-1"}, Handlers{})
	if err := cl.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer cl.Close()

	ack, err := cl.StartSession(context.Background(), "u1", protocol.QualityMedium)
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if ack.SessionID != "sess-1" || ack.Status != "started" {
		t.Errorf("unexpected ack: %+v", ack)
	}

	cl.SendChunk(0, make([]byte, 640))
	cl.SendChunk(1, make([]byte, 640))

	done, err := cl.EndSession(context.Background())
	if err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	if done.WordCount != 4 {
		t.Errorf("word count = %d, want 4", done.WordCount)
	}

	g.mu.Lock()
	token := g.tokens[0]
	g.mu.Unlock()
	if token != "Bearer tok-1" {
		t.Errorf("auth header = %q", token)
	}

	ids := g.receivedChunkIDs()
	if len(ids) != 2 || ids[0] != 0 || ids[1] != 1 {
		t.Errorf("received chunk ids %v, want [0 1]", ids)
	}
}

func TestClientReconnectFlushesBacklog(t *testing.T) {
	g := &fakeGateway{t: t, dropAfterAck: true}
	srv := httptest.NewServer(g.handler())
	defer srv.Close()

	retry := &resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 10 * time.Millisecond,
		Multiplier:     2.0,
		MaxBackoff:     time.Second,
	}
	cl := New(Config{URL: wsURL(srv), Token: "tok-1", Retry: retry}, Handlers{})
	if err := cl.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer cl.Close()

	if _, err := cl.StartSession(context.Background(), "u1", protocol.QualityMedium); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	// Wait until the client notices the server dropped the connection,
	// so the chunks below take the backlog path.
	waitFor := time.Now().Add(2 * time.Second)
	for cl.Connected() && time.Now().Before(waitFor) {
		time.Sleep(5 * time.Millisecond)
	}
	if cl.Connected() {
		t.Fatal("client never noticed the disconnect")
	}

	for i := int64(0); i < 3; i++ {
		cl.SendChunk(i, make([]byte, 640))
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(g.receivedChunkIDs()) >= 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	ids := g.receivedChunkIDs()
	if len(ids) != 3 {
		t.Fatalf("received %d chunks after reconnect, want 3 (%v)", len(ids), ids)
	}
	for i, id := range ids {
		if id != int64(i) {
			t.Errorf("chunk order %v, want [0 1 2]", ids)
			break
		}
	}
}

func TestRecoverableErrorDoesNotFailEndSession(t *testing.T) {
	g := &fakeGateway{t: t, errAfterAck: protocol.NewWireError(
		protocol.CodeProviderUnavailable, "transcription interrupted", true)}
	srv := httptest.NewServer(g.handler())
	defer srv.Close()

	var handlerMu sync.Mutex
	var seen []string
	cl := New(Config{URL: wsURL(srv), Token: "tok-1"}, Handlers{
		OnError: func(werr protocol.WireError) {
			handlerMu.Lock()
			seen = append(seen, werr.ErrorCode)
			handlerMu.Unlock()
		},
	})
	if err := cl.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer cl.Close()

	if _, err := cl.StartSession(context.Background(), "u1", protocol.QualityMedium); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	cl.SendChunk(0, make([]byte, 640))

	// The recoverable error queued above is advisory only; the session
	// summary still comes through.
	done, err := cl.EndSession(context.Background())
	if err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	if done.WordCount != 4 || done.AudioKey == "" {
		t.Errorf("unexpected summary: %+v", done)
	}

	handlerMu.Lock()
	defer handlerMu.Unlock()
	if len(seen) != 1 || seen[0] != protocol.CodeProviderUnavailable {
		t.Errorf("OnError saw %v, want one %s", seen, protocol.CodeProviderUnavailable)
	}
}

func TestSendDuringFlushNotStranded(t *testing.T) {
	g := &fakeGateway{t: t, dropAfterAck: true}
	srv := httptest.NewServer(g.handler())
	defer srv.Close()

	retry := &resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 10 * time.Millisecond,
		Multiplier:     2.0,
		MaxBackoff:     time.Second,
	}
	cl := New(Config{URL: wsURL(srv), Token: "tok-1", Retry: retry}, Handlers{})
	if err := cl.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer cl.Close()

	if _, err := cl.StartSession(context.Background(), "u1", protocol.QualityMedium); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	waitFor := time.Now().Add(2 * time.Second)
	for cl.Connected() && time.Now().Before(waitFor) {
		time.Sleep(5 * time.Millisecond)
	}
	if cl.Connected() {
		t.Fatal("client never noticed the disconnect")
	}

	// Seed the backlog, then keep sending while the reconnect flush
	// races the capture cadence. Every chunk must reach the server and
	// none may strand in the backlog after the flush completes.
	const total = 30
	for i := int64(0); i < 3; i++ {
		cl.SendChunk(i, make([]byte, 640))
	}
	go func() {
		for i := int64(3); i < total; i++ {
			cl.SendChunk(i, make([]byte, 640))
			time.Sleep(200 * time.Microsecond)
		}
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(g.receivedChunkIDs()) >= total {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	ids := g.receivedChunkIDs()
	if len(ids) != total {
		t.Fatalf("received %d chunks, want %d (%v)", len(ids), total, ids)
	}
	for i, id := range ids {
		if id != int64(i) {
			t.Errorf("chunk order broken at %d: %v", i, ids)
			break
		}
	}
	if n := cl.BacklogLen(); n != 0 {
		t.Errorf("backlog holds %d chunks after flush, want 0", n)
	}
}

func TestClientStartSessionWithoutConnect(t *testing.T) {
	cl := New(Config{URL: "ws://localhost:1/nope", Token: "t"}, Handlers{})
	if _, err := cl.StartSession(context.Background(), "u1", protocol.QualityLow); err == nil {
		t.Error("expected error before Connect")
	}
}

package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/observer/chatwire/internal/auth"
	"github.com/observer/chatwire/internal/membership"
	"github.com/observer/chatwire/internal/presence"
	"github.com/observer/chatwire/internal/pubsub"
	"github.com/observer/chatwire/internal/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef"

type testServer struct {
	url     string
	tokens  *auth.TokenService
	ps      *pubsub.MemoryPubSub
	tracker *presence.MemoryTracker
	engine  *realtime.Engine
}

func newTestServer(t *testing.T, origins ...string) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ps := pubsub.NewMemoryPubSub(logger)
	tracker := presence.NewMemoryTracker()
	engine := realtime.NewEngine(realtime.Config{
		PubSub:    ps,
		Presence:  tracker,
		Directory: membership.NewMemoryDirectory(tracker),
		Logger:    logger,
	})
	tokens, err := auth.NewTokenService(testKey)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(auth.Middleware(tokens)(NewHandler(ctx, engine, origins, logger)))
	t.Cleanup(func() {
		cancel()
		srv.Close()
		ps.Close()
	})

	return &testServer{
		url:     "ws" + strings.TrimPrefix(srv.URL, "http"),
		tokens:  tokens,
		ps:      ps,
		tracker: tracker,
		engine:  engine,
	}
}

func (ts *testServer) dial(t *testing.T, userID int64, header http.Header) *websocket.Conn {
	t.Helper()
	token, _, err := ts.tokens.GenerateAccessToken(userID, "user")
	require.NoError(t, err)

	conn, resp, err := websocket.DefaultDialer.Dial(ts.url+"?token="+token, header)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool {
		n, _ := ts.tracker.Count(context.Background(), userID)
		return n > 0
	}, time.Second, 5*time.Millisecond)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, b, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)

	var f map[string]any
	require.NoError(t, json.Unmarshal(b, &f))
	return f
}

func TestHandler_RejectsUnauthenticated(t *testing.T) {
	ts := newTestServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(ts.url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_RejectsForeignOrigin(t *testing.T) {
	ts := newTestServer(t, "https://app.example")
	token, _, err := ts.tokens.GenerateAccessToken(1, "user")
	require.NoError(t, err)

	_, resp, err := websocket.DefaultDialer.Dial(ts.url+"?token="+token, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	ts.dial(t, 1, http.Header{"Origin": {"https://app.example"}})
}

func TestHandler_DeliversTriggerEvents(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t, 1, nil)

	require.NoError(t, ts.engine.Notifier().GroupCreated(context.Background(), 12, 1))

	f := readFrame(t, conn)
	assert.Equal(t, "send.json", f["type"])
	assert.Equal(t, "user", f["event_type"])
	assert.Equal(t, "new_chat", f["event"])
}

func TestHandler_InboundEventsReachWatchers(t *testing.T) {
	ts := newTestServer(t)
	watcher := ts.dial(t, 1, nil)
	watched := ts.dial(t, 2, nil)

	require.NoError(t, watcher.WriteMessage(websocket.TextMessage, []byte(`{"event_type":"user_watch","user_id":2}`)))
	require.Eventually(t, func() bool {
		return ts.ps.SubscriberCount(pubsub.Topics.Watch(2)) == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, watched.WriteMessage(websocket.TextMessage, []byte(`{"event_type":"user_edit","data":{"name":"Bo"}}`)))

	f := readFrame(t, watcher)
	assert.Equal(t, "send.exclude", f["type"])
	assert.Equal(t, "profile_edited", f["event"])
}

func TestHandler_DisconnectEndsSession(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t, 1, nil)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	require.Eventually(t, func() bool {
		n, _ := ts.tracker.Count(context.Background(), 1)
		return n == 0 && ts.ps.TopicCount() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestClient_DeliverDropsWhenFull(t *testing.T) {
	c := NewClient(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	for i := 0; i < sendBufferSize+10; i++ {
		c.Deliver([]byte("x"))
	}
	assert.Len(t, c.send, sendBufferSize)
}

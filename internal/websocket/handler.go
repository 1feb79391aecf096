package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/observer/chatwire/internal/auth"
	"github.com/observer/chatwire/internal/realtime"
	"github.com/samber/lo"
)

const inboundBufferSize = 16

// Handler handles WebSocket upgrade requests. It must sit behind
// auth.Middleware, which rejects unauthenticated requests before the upgrade.
type Handler struct {
	ctx      context.Context
	engine   *realtime.Engine
	upgrader websocket.Upgrader
	sessions sync.WaitGroup
	logger   *slog.Logger
}

// NewHandler creates a WebSocket handler. Connections live until the peer
// leaves or ctx is cancelled; hijacked connections are not covered by
// http.Server.Shutdown, so ctx is how the server ends them.
// An empty allowedOrigins accepts every origin.
func NewHandler(ctx context.Context, engine *realtime.Engine, allowedOrigins []string, logger *slog.Logger) *Handler {
	return &Handler{
		ctx:    ctx,
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true
				}
				return lo.Contains(allowedOrigins, r.Header.Get("Origin"))
			},
		},
		logger: logger.With("component", "websocket"),
	}
}

// ServeHTTP upgrades HTTP to WebSocket and serves the session until it ends
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserID(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err, "user_id", userID)
		return
	}

	h.sessions.Add(1)
	defer h.sessions.Done()

	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()

	client := NewClient(conn, h.logger.With("user_id", userID))
	session, err := h.engine.Open(ctx, userID, client)
	if err != nil {
		h.logger.Error("session open failed", "error", err, "user_id", userID)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "session unavailable"),
			deadline())
		_ = conn.Close()
		return
	}

	inbound := make(chan []byte, inboundBufferSize)
	go client.WritePump(ctx)
	go client.ReadPump(ctx, inbound)

	// Block here until the client disconnects or the server shuts down
	h.engine.Serve(ctx, session, inbound)
}

// Wait blocks until every session served by h has closed or ctx is done.
func (h *Handler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

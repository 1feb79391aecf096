package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/observer/chatwire/internal/membership"
	"github.com/observer/chatwire/internal/presence"
	"github.com/observer/chatwire/internal/pubsub"
	"github.com/stretchr/testify/require"
)

// frame is an outbound envelope as a client sees it
type frame struct {
	Type        string          `json:"type"`
	EventType   string          `json:"event_type"`
	Event       string          `json:"event"`
	Data        json.RawMessage `json:"data"`
	ChannelName string          `json:"channel_name"`
}

// recorder is a Sink that keeps every delivered frame
type recorder struct {
	frames chan []byte
}

func newRecorder() *recorder {
	return &recorder{frames: make(chan []byte, 64)}
}

func (r *recorder) Deliver(b []byte) {
	r.frames <- append([]byte(nil), b...)
}

// next returns the oldest undelivered frame. Memory deliveries are synchronous,
// so anything published has already arrived.
func (r *recorder) next(t *testing.T) frame {
	t.Helper()
	select {
	case b := <-r.frames:
		var f frame
		require.NoError(t, json.Unmarshal(b, &f))
		return f
	default:
		t.Fatal("expected a frame, got none")
		return frame{}
	}
}

func (r *recorder) all(t *testing.T) []frame {
	t.Helper()
	var out []frame
	for len(r.frames) > 0 {
		out = append(out, r.next(t))
	}
	return out
}

func (r *recorder) empty(t *testing.T) {
	t.Helper()
	if n := len(r.frames); n > 0 {
		t.Fatalf("expected no frames, got %d: %v", n, r.all(t))
	}
}

func events(frames []frame) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.EventType + "/" + f.Event
	}
	return out
}

type harness struct {
	ps      *pubsub.MemoryPubSub
	tracker *presence.MemoryTracker
	dir     *membership.MemoryDirectory
	engine  *Engine
}

func newHarness(t *testing.T) *harness {
	return newHarnessOver(t, nil)
}

// newHarnessOver lets the engine publish through wrap(ps) while sessions
// still subscribe on the in-memory registry.
func newHarnessOver(t *testing.T, wrap func(pubsub.PubSub) pubsub.PubSub) *harness {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ps := pubsub.NewMemoryPubSub(logger)
	t.Cleanup(func() { ps.Close() })

	var engPS pubsub.PubSub = ps
	if wrap != nil {
		engPS = wrap(ps)
	}

	tracker := presence.NewMemoryTracker()
	dir := membership.NewMemoryDirectory(tracker)

	return &harness{
		ps:      ps,
		tracker: tracker,
		dir:     dir,
		engine: NewEngine(Config{
			PubSub:    engPS,
			Presence:  tracker,
			Directory: dir,
			Logger:    logger,
		}),
	}
}

func (h *harness) open(t *testing.T, userID int64) (*Session, *recorder) {
	t.Helper()
	rec := newRecorder()
	s, err := h.engine.Open(context.Background(), userID, rec)
	require.NoError(t, err)
	t.Cleanup(func() { h.engine.Close(context.Background(), s) })
	return s, rec
}

func (h *harness) send(s *Session, raw string) error {
	return h.engine.Router().Handle(context.Background(), s, []byte(raw))
}

func (h *harness) mustSend(t *testing.T, s *Session, raw string) {
	t.Helper()
	require.NoError(t, h.send(s, raw))
}

// drainControl runs directives queued for s, as its serving goroutine would.
func drainControl(s *Session) {
	for {
		select {
		case fn := <-s.control:
			fn()
		default:
			return
		}
	}
}

func decodeData(t *testing.T, f frame) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(f.Data, &m))
	return m
}

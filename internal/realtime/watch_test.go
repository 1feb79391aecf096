package realtime

import (
	"testing"

	"github.com/observer/chatwire/internal/pubsub"
	"github.com/stretchr/testify/assert"
)

func TestWatch_WatchAndUnwatch(t *testing.T) {
	h := newHarness(t)
	s, _ := h.open(t, 1)

	h.mustSend(t, s, `{"event_type":"user_watch","user_id":2}`)
	assert.True(t, s.Subscribed("watch:2"))
	assert.ErrorIs(t, h.send(s, `{"event_type":"user_watch","user_id":2}`), ErrAlreadyJoined)

	h.mustSend(t, s, `{"event_type":"user_unwatch","user_id":2}`)
	assert.False(t, s.Subscribed("watch:2"))
	assert.ErrorIs(t, h.send(s, `{"event_type":"user","event":"leave","user_id":2}`), ErrNotJoined)
}

func TestWatch_CannotUnwatchSelf(t *testing.T) {
	h := newHarness(t)
	s, _ := h.open(t, 1)

	assert.ErrorIs(t, h.send(s, `{"event_type":"user_unwatch","user_id":1}`), ErrPermissionDenied)
	assert.True(t, s.Subscribed("watch:1"))
}

func TestWatch_ProfileEditedReachesWatchersNotSender(t *testing.T) {
	h := newHarness(t)
	s, rec := h.open(t, 1)
	_, otherOwnRec := h.open(t, 1)
	watcher, watcherRec := h.open(t, 2)
	h.mustSend(t, watcher, `{"event_type":"user_watch","user_id":1}`)

	h.mustSend(t, s, `{"event_type":"user_edit","data":{"name":"Ann"}}`)

	rec.empty(t)
	for _, r := range []*recorder{otherOwnRec, watcherRec} {
		f := r.next(t)
		assert.Equal(t, pubsub.TypeExclude, f.Type)
		assert.Equal(t, EventProfileEdited, f.Event)
		data := decodeData(t, f)
		assert.Equal(t, float64(1), data["user_id"])
		assert.Equal(t, map[string]any{"name": "Ann"}, data["data"])
	}
}

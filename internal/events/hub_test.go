package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubRingKeepsNewest(t *testing.T) {
	h := NewHub(2)
	h.Publish(CommandOK, map[string]string{"action": "a"})
	h.Publish(CommandOK, map[string]string{"action": "b"})
	h.Publish(CommandError, map[string]string{"action": "c"})

	snap := h.SnapshotSince(0)
	require.Len(t, snap, 2)
	assert.Equal(t, "b", snap[0].Field("action"))
	assert.Equal(t, "c", snap[1].Field("action"))
	assert.Equal(t, int64(3), snap[1].ID)

	assert.Len(t, h.SnapshotSince(2), 1)
	assert.Empty(t, h.SnapshotSince(3))
}

func TestHubSubscribe(t *testing.T) {
	h := NewHub(0)
	ch, cancel := h.Subscribe()
	assert.Equal(t, 1, h.Subscribers())

	h.Publish("lifecycle.resume", nil)
	select {
	case ev := <-ch:
		assert.True(t, ev.IsLifecycle())
		assert.JSONEq(t, `{}`, string(ev.Data))
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}

	cancel()
	cancel()
	assert.Equal(t, 0, h.Subscribers())
	_, open := <-ch
	assert.False(t, open)
}

func TestEventFieldOnNonObject(t *testing.T) {
	ev := Event{Data: []byte(`[1,2]`)}
	assert.Equal(t, "", ev.Field("action"))
	assert.False(t, ev.IsLifecycle())
}

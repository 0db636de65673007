package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/pushbridge/internal/bridge"
	"github.com/mattjoyce/pushbridge/internal/events"
	"github.com/mattjoyce/pushbridge/internal/log"
	"github.com/mattjoyce/pushbridge/internal/protocol"
	"github.com/mattjoyce/pushbridge/internal/provider"
	"github.com/mattjoyce/pushbridge/internal/provider/mocks"
	"github.com/mattjoyce/pushbridge/internal/session"
	"github.com/mattjoyce/pushbridge/internal/workerpool"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

type testServer struct {
	handler *Handler
	mock    *mocks.MockProvider
	url     string
	plugins chan *bridge.Plugin
	hub     *events.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctrl := gomock.NewController(t)
	mock := mocks.NewMockProvider(ctrl)
	pool := workerpool.New(2)
	t.Cleanup(func() { _ = pool.Close(context.Background()) })

	ts := &testServer{mock: mock, plugins: make(chan *bridge.Plugin, 4), hub: events.NewHub(16)}
	ts.handler = NewHandler(func(d session.Deliverer) *bridge.Plugin {
		p := bridge.NewPlugin(bridge.PluginConfig{Provider: mock, Pool: pool, Deliverer: d})
		ts.plugins <- p
		return p
	}, nil, WithObserver(ts.hub.Publish))

	srv := httptest.NewServer(ts.handler)
	t.Cleanup(srv.Close)
	ts.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return ts
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func readFrame(t *testing.T, c *websocket.Conn) protocol.Outbound {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	var out protocol.Outbound
	require.NoError(t, c.ReadJSON(&out))
	return out
}

func TestCommandRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	ts.mock.EXPECT().InstallationID(gomock.Any()).Return(provider.Resolved("inst-9"))
	c := dial(t, ts.url)

	require.NoError(t, c.WriteJSON(map[string]any{"id": "1", "action": "getInstallationId"}))
	out := readFrame(t, c)
	assert.Equal(t, protocol.FrameResponse, out.Type)
	require.NotNil(t, out.Response)
	assert.Equal(t, "1", out.Response.ID)
	assert.True(t, out.Response.OK())
	assert.Equal(t, "inst-9", *out.Response.Value)
}

func TestUnknownActionAndBadFrames(t *testing.T) {
	ts := newTestServer(t)
	c := dial(t, ts.url)

	require.NoError(t, c.WriteJSON(map[string]any{"id": "2", "action": "fly"}))
	out := readFrame(t, c)
	assert.Equal(t, protocol.CodeInvalidAction, out.Response.Code)

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(`{"id":"3","action":"subscribe","args":{"x":1}}`)))
	out = readFrame(t, c)
	assert.Equal(t, "3", out.Response.ID)
	assert.Equal(t, protocol.CodeMalformedArguments, out.Response.Code)

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(`{"bogus":true}`)))
	out = readFrame(t, c)
	assert.Equal(t, protocol.CodeMalformedArguments, out.Response.Code)
}

func TestEventDeliveryFollowsLifecycle(t *testing.T) {
	ts := newTestServer(t)
	c := dial(t, ts.url)
	p := <-ts.plugins

	require.NoError(t, c.WriteJSON(map[string]any{"id": "p", "lifecycle": "pause"}))
	assert.True(t, readFrame(t, c).Response.OK())

	require.NoError(t, c.WriteJSON(map[string]any{"id": "r", "action": "registerCallback", "args": []string{"onPush"}}))
	assert.True(t, readFrame(t, c).Response.OK())

	assert.Equal(t, 0, ts.handler.Broadcast(session.Payload{"alert": "hi"}))
	assert.True(t, p.Session.Snapshot().HasPending)

	require.NoError(t, c.WriteJSON(map[string]any{"lifecycle": "resume"}))
	out := readFrame(t, c)
	assert.Equal(t, protocol.FrameEvent, out.Type)
	assert.Equal(t, "onPush", out.Callback)
	assert.Equal(t, "hi", out.Payload["alert"])

	var payload map[string]any
	require.True(t, strings.HasPrefix(out.Snippet, "onPush("))
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSuffix(strings.TrimPrefix(out.Snippet, "onPush("), ")")), &payload))
	assert.Equal(t, "hi", payload["alert"])
}

func TestDisconnectTearsDownSession(t *testing.T) {
	ts := newTestServer(t)
	c := dial(t, ts.url)
	p := <-ts.plugins

	require.Eventually(t, func() bool {
		return ts.handler.Connections() == 1 && p.Session.Snapshot().Foreground
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Close())
	require.Eventually(t, func() bool { return ts.handler.Connections() == 0 }, 2*time.Second, 5*time.Millisecond)
	st := p.Session.Snapshot()
	assert.False(t, st.Foreground)
	assert.Empty(t, st.Callback)

	require.Eventually(t, func() bool { return len(ts.hub.SnapshotSince(0)) == 2 }, time.Second, 5*time.Millisecond)
	activity := ts.hub.SnapshotSince(0)
	assert.Equal(t, events.ConnOpened, activity[0].Type)
	assert.Equal(t, events.ConnClosed, activity[1].Type)
	assert.Equal(t, p.Session.ID(), activity[1].Field("session_id"))
}

func TestPendingEventCarriedToNextConnection(t *testing.T) {
	ts := newTestServer(t)
	first := dial(t, ts.url)
	<-ts.plugins

	// No callback yet, so the event stays buffered in the first session.
	require.Eventually(t, func() bool { return ts.handler.Connections() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, ts.handler.Broadcast(session.Payload{"alert": "while-away"}))

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool {
		snap := ts.hub.SnapshotSince(0)
		return len(snap) == 2 && snap[1].Type == events.ConnClosed
	}, 2*time.Second, 5*time.Millisecond)

	second := dial(t, ts.url)
	p := <-ts.plugins
	require.Eventually(t, func() bool { return p.Session.Snapshot().HasPending }, time.Second, 5*time.Millisecond)

	require.NoError(t, second.WriteJSON(map[string]any{"id": "r", "action": "registerCallback", "args": []string{"onPush"}}))
	assert.True(t, readFrame(t, second).Response.OK())
	out := readFrame(t, second)
	assert.Equal(t, protocol.FrameEvent, out.Type)
	assert.Equal(t, "while-away", out.Payload["alert"])
}

func TestClearOnTeardownDropsEventAcrossConnections(t *testing.T) {
	ctrl := gomock.NewController(t)
	mock := mocks.NewMockProvider(ctrl)
	pool := workerpool.New(1)
	t.Cleanup(func() { _ = pool.Close(context.Background()) })
	plugins := make(chan *bridge.Plugin, 2)
	h := NewHandler(func(d session.Deliverer) *bridge.Plugin {
		p := bridge.NewPlugin(bridge.PluginConfig{Provider: mock, Pool: pool, Deliverer: d, ClearOnTeardown: true})
		plugins <- p
		return p
	}, nil)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	first := dial(t, url)
	<-plugins
	require.Eventually(t, func() bool { return h.Connections() == 1 }, time.Second, 5*time.Millisecond)
	h.Broadcast(session.Payload{"alert": "dropped"})
	require.NoError(t, first.Close())
	require.Eventually(t, func() bool { return h.Connections() == 0 }, 2*time.Second, 5*time.Millisecond)

	dial(t, url)
	p := <-plugins
	require.Eventually(t, func() bool { return p.Session.Snapshot().Foreground }, time.Second, 5*time.Millisecond)
	assert.False(t, p.Session.Snapshot().HasPending)
}

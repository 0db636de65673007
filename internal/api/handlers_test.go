package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/pushbridge/internal/auth"
	"github.com/mattjoyce/pushbridge/internal/events"
	"github.com/mattjoyce/pushbridge/internal/log"
	"github.com/mattjoyce/pushbridge/internal/protocol"
	"github.com/mattjoyce/pushbridge/internal/session"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

// fakeBridge implements Bridge for testing.
type fakeBridge struct {
	mu         sync.Mutex
	callFunc   func(ctx context.Context, cmd protocol.Command) (protocol.Response, error)
	lastCmd    protocol.Command
	foreground bool
	notified   []session.Payload
}

func (f *fakeBridge) Call(ctx context.Context, cmd protocol.Command) (protocol.Response, error) {
	f.mu.Lock()
	f.lastCmd = cmd
	f.mu.Unlock()
	return f.callFunc(ctx, cmd)
}

func (f *fakeBridge) Lifecycle(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch name {
	case "resume", "attach":
		f.foreground = true
	case "pause", "destroy":
		f.foreground = false
	default:
		return protocol.Malformed("unknown lifecycle transition %q", name)
	}
	return nil
}

func (f *fakeBridge) Notify(p session.Payload) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, p)
	return f.foreground
}

func (f *fakeBridge) State() session.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return session.State{ID: "s-1", Foreground: f.foreground}
}

type fakeSockets struct {
	broadcasts int
}

func (f *fakeSockets) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusSwitchingProtocols)
}
func (f *fakeSockets) Broadcast(session.Payload) int { f.broadcasts++; return 1 }
func (f *fakeSockets) Connections() int { return 2 }

const adminKey = "admin-key"

func newTestServer(t *testing.T, b *fakeBridge) (*Server, *events.Hub) {
	t.Helper()
	hub := events.NewHub(16)
	s := New(Config{
		APIKey:      adminKey,
		ExecTimeout: time.Second,
		Tokens: []auth.TokenConfig{
			{Token: "reader", Scopes: []string{auth.ScopeEventsRO, auth.ScopeBridgeRO}},
		},
	}, b, nil, hub, log.Get())
	return s, hub
}

func do(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthzIsOpen(t *testing.T) {
	s, _ := newTestServer(t, &fakeBridge{})
	rec := do(t, s.Handler(), http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthzResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestAuthAndScopes(t *testing.T) {
	s, _ := newTestServer(t, &fakeBridge{})
	h := s.Handler()

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/state", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/state", "wrong", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/state", "reader", "").Code)
	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodPost, "/lifecycle/resume", "reader", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/lifecycle/resume", adminKey, "").Code)
}

func TestExec(t *testing.T) {
	b := &fakeBridge{callFunc: func(_ context.Context, cmd protocol.Command) (protocol.Response, error) {
		switch cmd.Name {
		case "getInstallationId":
			return protocol.Success(protocol.Value("inst")), nil
		case "subscribe":
			return protocol.Failure(protocol.ExternalService(assert.AnError)), nil
		default:
			return protocol.Failure(protocol.InvalidAction(cmd.Name)), nil
		}
	}}
	s, _ := newTestServer(t, b)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/exec/getInstallationId", adminKey, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp protocol.Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "inst", *resp.Value)

	rec = do(t, h, http.MethodPost, "/exec/subscribe", adminKey, `["news"]`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Len(t, b.lastCmd.Args, 1)

	rec = do(t, h, http.MethodPost, "/exec/nope", adminKey, `[]`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/exec/subscribe", adminKey, `{"channel":"news"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, protocol.CodeMalformedArguments, resp.Code)
}

func TestExecTimeout(t *testing.T) {
	b := &fakeBridge{callFunc: func(ctx context.Context, _ protocol.Command) (protocol.Response, error) {
		<-ctx.Done()
		return protocol.Response{}, ctx.Err()
	}}
	s, _ := newTestServer(t, b)
	s.config.ExecTimeout = 20 * time.Millisecond

	rec := do(t, s.Handler(), http.MethodPost, "/exec/getInstallationId", adminKey, "")
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestLifecycle(t *testing.T) {
	b := &fakeBridge{}
	s, _ := newTestServer(t, b)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/lifecycle/resume", adminKey, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp LifecycleResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Foreground)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/lifecycle/explode", adminKey, "").Code)
}

func TestNotification(t *testing.T) {
	b := &fakeBridge{}
	sockets := &fakeSockets{}
	s := New(Config{APIKey: adminKey}, b, sockets, nil, log.Get())
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/notifications", adminKey, `{"payload":{"alert":"hi"}}`)
	assert.Equal(t, http.StatusAccepted, rec.Code, "background bridge buffers the event")
	var resp NotificationResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.False(t, resp.Delivered)
	assert.Equal(t, 1, resp.Remote)

	require.NoError(t, b.Lifecycle("resume"))
	rec = do(t, h, http.MethodPost, "/notifications", adminKey, `{"payload":{"alert":"again"}}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, b.notified, 2)
	assert.Equal(t, 2, sockets.broadcasts)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/notifications", adminKey, `{"payload":[1]}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/notifications", adminKey, `{}`).Code)
}

func TestEventsStream(t *testing.T) {
	s, hub := newTestServer(t, &fakeBridge{})
	hub.Publish(events.CommandOK, map[string]string{"action": "subscribe"})

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer reader")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := http.DefaultClient.Do(req.WithContext(ctx))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	hub.Publish(events.EventDelivered, map[string]string{"callback": "onPush"})

	var types []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() && len(types) < 2 {
		if line := scanner.Text(); strings.HasPrefix(line, "event: ") {
			types = append(types, strings.TrimPrefix(line, "event: "))
		}
	}
	assert.Equal(t, []string{events.CommandOK, events.EventDelivered}, types)
}

func TestParseLastEventID(t *testing.T) {
	assert.Equal(t, int64(0), parseLastEventID(""))
	assert.Equal(t, int64(0), parseLastEventID("-3"))
	assert.Equal(t, int64(0), parseLastEventID("abc"))
	assert.Equal(t, int64(42), parseLastEventID("42"))
}

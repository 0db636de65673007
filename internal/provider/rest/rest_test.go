package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/pushbridge/internal/log"
	"github.com/mattjoyce/pushbridge/internal/provider"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

// fakeService records installation and event traffic.
type fakeService struct {
	mu       sync.Mutex
	creates  []installationBody
	updates  []installationBody
	events   map[string]eventBody
	headers  http.Header
	failWith string
}

func (f *fakeService) handler() http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			f.mu.Lock()
			f.headers = req.Header.Clone()
			fail := f.failWith
			f.mu.Unlock()
			if fail != "" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(map[string]any{"code": 100, "error": fail})
				return
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Post("/installations", func(w http.ResponseWriter, req *http.Request) {
		var body installationBody
		_ = json.NewDecoder(req.Body).Decode(&body)
		f.mu.Lock()
		f.creates = append(f.creates, body)
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(createdBody{ObjectID: "obj1234567", CreatedAt: "2026-01-01T00:00:00Z"})
	})
	r.Put("/installations/{objectId}", func(w http.ResponseWriter, req *http.Request) {
		if chi.URLParam(req, "objectId") != "obj1234567" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var body installationBody
		_ = json.NewDecoder(req.Body).Decode(&body)
		f.mu.Lock()
		f.updates = append(f.updates, body)
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"updatedAt":"2026-01-01T00:00:00Z"}`))
	})
	r.Post("/events/{name}", func(w http.ResponseWriter, req *http.Request) {
		var body eventBody
		_ = json.NewDecoder(req.Body).Decode(&body)
		f.mu.Lock()
		f.events[chi.URLParam(req, "name")] = body
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	})
	return r
}

func setup(t *testing.T) (*Provider, *fakeService) {
	t.Helper()
	fake := &fakeService{events: map[string]eventBody{}}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	p, err := New(Config{BaseURL: srv.URL, InstallationID: "inst-1"})
	require.NoError(t, err)
	_, err = p.Initialize(context.Background(), "app", "key").Wait(context.Background())
	require.NoError(t, err)
	return p, fake
}

func TestNewValidatesBaseURL(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
	_, err = New(Config{BaseURL: "not a url"})
	assert.Error(t, err)
}

func TestSubscribeCreatesThenUpdatesInstallation(t *testing.T) {
	p, fake := setup(t)
	ctx := context.Background()

	_, err := p.Subscribe(ctx, "news").Wait(ctx)
	require.NoError(t, err)
	_, err = p.Subscribe(ctx, "sports").Wait(ctx)
	require.NoError(t, err)

	fake.mu.Lock()
	require.Len(t, fake.creates, 1)
	assert.Equal(t, "inst-1", fake.creates[0].InstallationID)
	assert.Equal(t, "android", fake.creates[0].DeviceType)
	assert.Equal(t, []string{"news"}, fake.creates[0].Channels)
	require.Len(t, fake.updates, 1)
	assert.Equal(t, []string{"news", "sports"}, fake.updates[0].Channels)
	assert.Equal(t, "app", fake.headers.Get(headerAppID))
	assert.Equal(t, "key", fake.headers.Get(headerClientKey))
	fake.mu.Unlock()

	objectID, err := p.InstallationObjectID(ctx).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "obj1234567", objectID)

	subs, err := p.Subscriptions(ctx).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"news", "sports"}, subs)
}

func TestSubscribeFailureLeavesChannelsUnchanged(t *testing.T) {
	p, fake := setup(t)
	ctx := context.Background()

	_, err := p.Subscribe(ctx, "weather").Wait(ctx)
	require.NoError(t, err)

	fake.mu.Lock()
	fake.failWith = "network-error"
	fake.mu.Unlock()

	_, err = p.Subscribe(ctx, "news").Wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "network-error")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.Equal(t, 100, apiErr.Code)

	_, err = p.Unsubscribe(ctx, "weather").Wait(ctx)
	require.Error(t, err)

	subs, err := p.Subscriptions(ctx).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"weather"}, subs)
}

func TestTrackEventPostsDimensions(t *testing.T) {
	p, fake := setup(t)
	ctx := context.Background()

	_, err := p.TrackEvent(ctx, "open", map[string]string{"source": "push"}).Wait(ctx)
	require.NoError(t, err)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, map[string]string{"source": "push"}, fake.events["open"].Dimensions)
}

func TestCallsBeforeInitialize(t *testing.T) {
	p, err := New(Config{BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)
	ctx := context.Background()

	// Getters resolve with empty values; mutations need credentials.
	channels, err := p.Subscriptions(ctx).Wait(ctx)
	require.NoError(t, err)
	assert.Empty(t, channels)
	objectID, err := p.InstallationObjectID(ctx).Wait(ctx)
	require.NoError(t, err)
	assert.Empty(t, objectID)
	_, err = p.TrackEvent(ctx, "open", nil).Wait(ctx)
	assert.ErrorIs(t, err, provider.ErrNotInitialized)

	id, err := p.InstallationID(ctx).Wait(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

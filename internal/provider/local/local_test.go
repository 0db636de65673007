package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/pushbridge/internal/log"
	"github.com/mattjoyce/pushbridge/internal/provider"
	"github.com/mattjoyce/pushbridge/internal/storage"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "local.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func initialized(t *testing.T) *Provider {
	t.Helper()
	p := newTestProvider(t)
	_, err := p.Initialize(context.Background(), "app", "key").Wait(context.Background())
	require.NoError(t, err)
	return p
}

func TestInitializeRequiresCredentials(t *testing.T) {
	p := newTestProvider(t)
	_, err := p.Initialize(context.Background(), "", "key").Wait(context.Background())
	assert.Error(t, err)
}

func TestCallsBeforeInitialize(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	// Getters always resolve: empty set, unsaved object id.
	channels, err := p.Subscriptions(ctx).Wait(ctx)
	require.NoError(t, err)
	assert.NotNil(t, channels)
	assert.Empty(t, channels)
	objectID, err := p.InstallationObjectID(ctx).Wait(ctx)
	require.NoError(t, err)
	assert.Empty(t, objectID)

	_, err = p.Subscribe(ctx, "news").Wait(ctx)
	assert.ErrorIs(t, err, provider.ErrNotInitialized)

	// The installation id is available before initialization.
	id, err := p.InstallationID(ctx).Wait(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestInstallationIDIsStable(t *testing.T) {
	p := initialized(t)
	ctx := context.Background()

	a, err := p.InstallationID(ctx).Wait(ctx)
	require.NoError(t, err)
	b, err := p.InstallationID(ctx).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestObjectIDAssignedOnSave(t *testing.T) {
	p := initialized(t)
	ctx := context.Background()

	id, err := p.InstallationObjectID(ctx).Wait(ctx)
	require.NoError(t, err)
	assert.Empty(t, id, "unsaved installation has no object id")

	_, err = p.SaveInstallation(ctx).Wait(ctx)
	require.NoError(t, err)
	first, err := p.InstallationObjectID(ctx).Wait(ctx)
	require.NoError(t, err)
	assert.Len(t, first, objectIDLen)

	_, err = p.SaveInstallation(ctx).Wait(ctx)
	require.NoError(t, err)
	second, err := p.InstallationObjectID(ctx).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSubscribeUnsubscribe(t *testing.T) {
	p := initialized(t)
	ctx := context.Background()

	for _, ch := range []string{"sports", "news", "news"} {
		_, err := p.Subscribe(ctx, ch).Wait(ctx)
		require.NoError(t, err)
	}
	subs, err := p.Subscriptions(ctx).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"news", "sports"}, subs)

	_, err = p.Unsubscribe(ctx, "news").Wait(ctx)
	require.NoError(t, err)
	subs, err = p.Subscriptions(ctx).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"sports"}, subs)
}

func TestSubscribeRejectsInvalidChannel(t *testing.T) {
	p := initialized(t)
	ctx := context.Background()

	for _, ch := range []string{"", "1abc", "has space", "bad!"} {
		_, err := p.Subscribe(ctx, ch).Wait(ctx)
		assert.Error(t, err, "channel %q", ch)
	}
	subs, err := p.Subscriptions(ctx).Wait(ctx)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestTrackEventStoresTruncatedDimensions(t *testing.T) {
	p := initialized(t)
	ctx := context.Background()

	dims := map[string]string{}
	for i := range 10 {
		dims[fmt.Sprintf("k%02d", i)] = "v"
	}
	_, err := p.TrackEvent(ctx, "open", dims).Wait(ctx)
	require.NoError(t, err)

	events, err := p.Events(ctx, "open")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Len(t, events[0].Dimensions, provider.MaxDimensions)
	assert.Contains(t, events[0].Dimensions, "k00")
	assert.NotContains(t, events[0].Dimensions, "k09")
}

func TestTrackEventRejectsEmptyName(t *testing.T) {
	p := initialized(t)
	_, err := p.TrackEvent(context.Background(), " ", nil).Wait(context.Background())
	assert.Error(t, err)
}

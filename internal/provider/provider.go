// Package provider defines the narrow interface through which the bridge
// reaches the push/analytics service, plus the Future type every call
// returns.
package provider

import (
	"context"
	"errors"
)

//go:generate mockgen -destination=mocks/mock_provider.go -package=mocks github.com/mattjoyce/pushbridge/internal/provider Provider

// ErrNotInitialized is returned by mutating calls made before Initialize.
// The getters resolve with empty values instead.
var ErrNotInitialized = errors.New("provider not initialized")

// MaxDimensions is the number of dimension pairs the service stores per
// analytics event; extra pairs are dropped by the provider.
const MaxDimensions = 8

// Provider is the external push/analytics service.
type Provider interface {
	Initialize(ctx context.Context, appID, clientKey string) *Future[Void]
	InstallationID(ctx context.Context) *Future[string]
	InstallationObjectID(ctx context.Context) *Future[string]
	Subscriptions(ctx context.Context) *Future[[]string]
	Subscribe(ctx context.Context, channel string) *Future[Void]
	Unsubscribe(ctx context.Context, channel string) *Future[Void]
	TrackEvent(ctx context.Context, name string, dimensions map[string]string) *Future[Void]
	SaveInstallation(ctx context.Context) *Future[Void]
}

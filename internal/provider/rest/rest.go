// Package rest is a Provider that talks to a Parse-compatible REST endpoint.
// Channel membership is tracked in memory and pushed to the server with the
// installation on every subscription change.
package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/mattjoyce/pushbridge/internal/log"
	"github.com/mattjoyce/pushbridge/internal/provider"
)

const (
	headerAppID     = "X-Parse-Application-Id"
	headerClientKey = "X-Parse-Client-Key"

	defaultTimeout    = 30 * time.Second
	defaultDeviceType = "android"
)

// Config configures the REST provider.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	DeviceType string
	// InstallationID pins the installation identity; generated when empty.
	InstallationID string
}

// APIError is a non-2xx response from the service.
type APIError struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("service returned HTTP %d", e.Status)
}

type installationBody struct {
	InstallationID string   `json:"installationId,omitempty"`
	DeviceType     string   `json:"deviceType,omitempty"`
	Channels       []string `json:"channels"`
}

type createdBody struct {
	ObjectID  string `json:"objectId"`
	CreatedAt string `json:"createdAt"`
}

type eventBody struct {
	Dimensions map[string]string `json:"dimensions,omitempty"`
}

// Provider implements provider.Provider over HTTP.
type Provider struct {
	client *resty.Client
	cfg    Config
	logger *slog.Logger

	mu             sync.Mutex
	initialized    bool
	appID          string
	clientKey      string
	installationID string
	objectID       string
	channels       map[string]struct{}
}

var _ provider.Provider = (*Provider)(nil)

// New returns a REST provider. Credentials are attached on Initialize.
func New(cfg Config) (*Provider, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("rest provider: base url is empty")
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("rest provider: invalid base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.DeviceType == "" {
		cfg.DeviceType = defaultDeviceType
	}

	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetTimeout(cfg.Timeout)
	client.SetHeader("Content-Type", "application/json")

	return &Provider{
		client:         client,
		cfg:            cfg,
		logger:         log.WithComponent("provider.rest"),
		installationID: cfg.InstallationID,
		channels:       make(map[string]struct{}),
	}, nil
}

func (p *Provider) Initialize(ctx context.Context, appID, clientKey string) *provider.Future[provider.Void] {
	return provider.Go(func() (provider.Void, error) {
		if appID == "" || clientKey == "" {
			return provider.Void{}, errors.New("app id and client key are required")
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		p.appID, p.clientKey = appID, clientKey
		if p.installationID == "" {
			p.installationID = uuid.NewString()
		}
		p.initialized = true
		p.logger.Info("rest provider initialized", "base_url", p.cfg.BaseURL, "app_id", appID)
		return provider.Void{}, nil
	})
}

func (p *Provider) InstallationID(ctx context.Context) *provider.Future[string] {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.installationID == "" {
		p.installationID = uuid.NewString()
	}
	return provider.Resolved(p.installationID)
}

// InstallationObjectID resolves to "" until the installation has been
// created on the server.
func (p *Provider) InstallationObjectID(ctx context.Context) *provider.Future[string] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return provider.Resolved(p.objectID)
}

// Subscriptions resolves to the in-memory channel set, empty before
// Initialize.
func (p *Provider) Subscriptions(ctx context.Context) *provider.Future[[]string] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return provider.Resolved(p.channelListLocked())
}

func (p *Provider) Subscribe(ctx context.Context, channel string) *provider.Future[provider.Void] {
	return p.changeChannels(ctx, channel, true)
}

func (p *Provider) Unsubscribe(ctx context.Context, channel string) *provider.Future[provider.Void] {
	return p.changeChannels(ctx, channel, false)
}

// changeChannels applies the membership change, saves the installation, and
// rolls back on failure so the channel set matches the server.
func (p *Provider) changeChannels(ctx context.Context, channel string, add bool) *provider.Future[provider.Void] {
	return provider.Go(func() (provider.Void, error) {
		if channel == "" {
			return provider.Void{}, errors.New("channel name is empty")
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if !p.initialized {
			return provider.Void{}, provider.ErrNotInitialized
		}

		_, had := p.channels[channel]
		if add {
			p.channels[channel] = struct{}{}
		} else {
			delete(p.channels, channel)
		}
		if err := p.saveLocked(ctx); err != nil {
			if had {
				p.channels[channel] = struct{}{}
			} else {
				delete(p.channels, channel)
			}
			return provider.Void{}, err
		}
		return provider.Void{}, nil
	})
}

func (p *Provider) TrackEvent(ctx context.Context, name string, dimensions map[string]string) *provider.Future[provider.Void] {
	return provider.Go(func() (provider.Void, error) {
		if name == "" {
			return provider.Void{}, errors.New("event name is empty")
		}
		p.mu.Lock()
		if !p.initialized {
			p.mu.Unlock()
			return provider.Void{}, provider.ErrNotInitialized
		}
		req := p.requestLocked(ctx)
		p.mu.Unlock()

		resp, err := req.
			SetPathParam("name", name).
			SetBody(eventBody{Dimensions: provider.TruncateDimensions(dimensions)}).
			Post("/events/{name}")
		if err != nil {
			return provider.Void{}, fmt.Errorf("track event %q: %w", name, err)
		}
		return provider.Void{}, apiError(resp)
	})
}

func (p *Provider) SaveInstallation(ctx context.Context) *provider.Future[provider.Void] {
	return provider.Go(func() (provider.Void, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if !p.initialized {
			return provider.Void{}, provider.ErrNotInitialized
		}
		return provider.Void{}, p.saveLocked(ctx)
	})
}

// saveLocked creates the installation on first save and updates it after.
func (p *Provider) saveLocked(ctx context.Context) error {
	body := installationBody{Channels: p.channelListLocked()}

	if p.objectID == "" {
		body.InstallationID = p.installationID
		body.DeviceType = p.cfg.DeviceType
		var created createdBody
		resp, err := p.requestLocked(ctx).
			SetBody(body).
			SetResult(&created).
			Post("/installations")
		if err != nil {
			return fmt.Errorf("create installation: %w", err)
		}
		if err := apiError(resp); err != nil {
			return err
		}
		if created.ObjectID == "" {
			return errors.New("create installation: response missing objectId")
		}
		p.objectID = created.ObjectID
		p.logger.Info("installation created", "object_id", p.objectID)
		return nil
	}

	resp, err := p.requestLocked(ctx).
		SetPathParam("objectId", p.objectID).
		SetBody(body).
		Put("/installations/{objectId}")
	if err != nil {
		return fmt.Errorf("update installation: %w", err)
	}
	return apiError(resp)
}

// requestLocked starts a request carrying the credentials. Caller holds p.mu.
func (p *Provider) requestLocked(ctx context.Context) *resty.Request {
	return p.client.R().
		SetContext(ctx).
		SetHeader(headerAppID, p.appID).
		SetHeader(headerClientKey, p.clientKey).
		SetError(&APIError{})
}

func (p *Provider) channelListLocked() []string {
	out := make([]string, 0, len(p.channels))
	for ch := range p.channels {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

func apiError(resp *resty.Response) error {
	if !resp.IsError() {
		return nil
	}
	apiErr, ok := resp.Error().(*APIError)
	if !ok || apiErr == nil {
		apiErr = &APIError{}
	}
	apiErr.Status = resp.StatusCode()
	return apiErr
}

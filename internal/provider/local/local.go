// Package local is a Provider backed by an on-device SQLite datastore. It
// keeps the installation identity, channel subscriptions and tracked
// analytics events locally, the way the mobile SDK's local datastore does
// before anything is synced.
package local

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/pushbridge/internal/log"
	"github.com/mattjoyce/pushbridge/internal/provider"
)

// objectIDLen matches the length of server-assigned object ids.
const objectIDLen = 10

// Provider implements provider.Provider on a bootstrapped SQLite database
// (see storage.OpenSQLite).
type Provider struct {
	db     *sql.DB
	logger *slog.Logger

	// mu serializes read-modify-write sequences on the installation row.
	mu          sync.Mutex
	initialized atomic.Bool
}

var _ provider.Provider = (*Provider)(nil)

// New returns a Provider using db.
func New(db *sql.DB) *Provider {
	return &Provider{
		db:     db,
		logger: log.WithComponent("provider.local"),
	}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func (p *Provider) Initialize(ctx context.Context, appID, clientKey string) *provider.Future[provider.Void] {
	return provider.Go(func() (provider.Void, error) {
		if appID == "" || clientKey == "" {
			return provider.Void{}, errors.New("app id and client key are required")
		}
		p.mu.Lock()
		defer p.mu.Unlock()

		if _, err := p.ensureInstallationLocked(ctx); err != nil {
			return provider.Void{}, err
		}
		_, err := p.db.ExecContext(ctx, `
UPDATE installation SET app_id = ?, client_key = ?, updated_at = ? WHERE id = 1;
`, appID, clientKey, now())
		if err != nil {
			return provider.Void{}, fmt.Errorf("store credentials: %w", err)
		}
		p.initialized.Store(true)
		p.logger.Info("local datastore initialized", "app_id", appID)
		return provider.Void{}, nil
	})
}

// ensureInstallationLocked returns the installation id, creating the row
// on first use. Caller holds p.mu.
func (p *Provider) ensureInstallationLocked(ctx context.Context) (string, error) {
	var id string
	err := p.db.QueryRowContext(ctx, "SELECT installation_id FROM installation WHERE id = 1;").Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("read installation: %w", err)
	}

	id = uuid.NewString()
	_, err = p.db.ExecContext(ctx, `
INSERT INTO installation(id, installation_id, created_at) VALUES(1, ?, ?);
`, id, now())
	if err != nil {
		return "", fmt.Errorf("create installation: %w", err)
	}
	p.logger.Debug("created installation", "installation_id", id)
	return id, nil
}

func (p *Provider) InstallationID(ctx context.Context) *provider.Future[string] {
	return provider.Go(func() (string, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.ensureInstallationLocked(ctx)
	})
}

// InstallationObjectID resolves to "" until the installation has been saved,
// including before Initialize.
func (p *Provider) InstallationObjectID(ctx context.Context) *provider.Future[string] {
	return provider.Go(func() (string, error) {
		if !p.initialized.Load() {
			return "", nil
		}
		var objectID string
		err := p.db.QueryRowContext(ctx, "SELECT object_id FROM installation WHERE id = 1;").Scan(&objectID)
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("read object id: %w", err)
		}
		return objectID, nil
	})
}

// Subscriptions resolves to an empty set before Initialize.
func (p *Provider) Subscriptions(ctx context.Context) *provider.Future[[]string] {
	return provider.Go(func() ([]string, error) {
		if !p.initialized.Load() {
			return []string{}, nil
		}
		rows, err := p.db.QueryContext(ctx, "SELECT channel FROM subscription ORDER BY channel ASC;")
		if err != nil {
			return nil, fmt.Errorf("list subscriptions: %w", err)
		}
		defer rows.Close()

		out := []string{}
		for rows.Next() {
			var ch string
			if err := rows.Scan(&ch); err != nil {
				return nil, fmt.Errorf("scan subscription: %w", err)
			}
			out = append(out, ch)
		}
		return out, rows.Err()
	})
}

func (p *Provider) Subscribe(ctx context.Context, channel string) *provider.Future[provider.Void] {
	return provider.Go(func() (provider.Void, error) {
		if !p.initialized.Load() {
			return provider.Void{}, provider.ErrNotInitialized
		}
		if err := validateChannel(channel); err != nil {
			return provider.Void{}, err
		}
		_, err := p.db.ExecContext(ctx, `
INSERT INTO subscription(channel, created_at) VALUES(?, ?)
ON CONFLICT(channel) DO NOTHING;
`, channel, now())
		if err != nil {
			return provider.Void{}, fmt.Errorf("subscribe %q: %w", channel, err)
		}
		return provider.Void{}, nil
	})
}

func (p *Provider) Unsubscribe(ctx context.Context, channel string) *provider.Future[provider.Void] {
	return provider.Go(func() (provider.Void, error) {
		if !p.initialized.Load() {
			return provider.Void{}, provider.ErrNotInitialized
		}
		if _, err := p.db.ExecContext(ctx, "DELETE FROM subscription WHERE channel = ?;", channel); err != nil {
			return provider.Void{}, fmt.Errorf("unsubscribe %q: %w", channel, err)
		}
		return provider.Void{}, nil
	})
}

func (p *Provider) TrackEvent(ctx context.Context, name string, dimensions map[string]string) *provider.Future[provider.Void] {
	return provider.Go(func() (provider.Void, error) {
		if !p.initialized.Load() {
			return provider.Void{}, provider.ErrNotInitialized
		}
		if strings.TrimSpace(name) == "" {
			return provider.Void{}, errors.New("event name is empty")
		}
		kept := provider.TruncateDimensions(dimensions)
		if len(kept) < len(dimensions) {
			p.logger.Warn("dropping dimension pairs over the per-event limit",
				"event", name, "sent", len(dimensions), "kept", len(kept))
		}
		raw, err := json.Marshal(kept)
		if err != nil {
			return provider.Void{}, fmt.Errorf("marshal dimensions: %w", err)
		}
		_, err = p.db.ExecContext(ctx, `
INSERT INTO analytics_event(id, name, dimensions, created_at) VALUES(?, ?, ?, ?);
`, uuid.NewString(), name, string(raw), now())
		if err != nil {
			return provider.Void{}, fmt.Errorf("track event %q: %w", name, err)
		}
		return provider.Void{}, nil
	})
}

func (p *Provider) SaveInstallation(ctx context.Context) *provider.Future[provider.Void] {
	return provider.Go(func() (provider.Void, error) {
		if !p.initialized.Load() {
			return provider.Void{}, provider.ErrNotInitialized
		}
		p.mu.Lock()
		defer p.mu.Unlock()

		if _, err := p.ensureInstallationLocked(ctx); err != nil {
			return provider.Void{}, err
		}
		_, err := p.db.ExecContext(ctx, `
UPDATE installation
SET object_id = CASE WHEN object_id = '' THEN ? ELSE object_id END,
    updated_at = ?
WHERE id = 1;
`, newObjectID(), now())
		if err != nil {
			return provider.Void{}, fmt.Errorf("save installation: %w", err)
		}
		return provider.Void{}, nil
	})
}

// Event is a tracked analytics event as stored locally.
type Event struct {
	Name       string
	Dimensions map[string]string
	CreatedAt  time.Time
}

// Events returns tracked events for name, oldest first.
func (p *Provider) Events(ctx context.Context, name string) ([]Event, error) {
	rows, err := p.db.QueryContext(ctx, `
SELECT name, dimensions, created_at FROM analytics_event
WHERE name = ? ORDER BY created_at ASC, rowid ASC;
`, name)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			ev      Event
			dims    string
			created string
		)
		if err := rows.Scan(&ev.Name, &dims, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(dims), &ev.Dimensions); err != nil {
			return nil, fmt.Errorf("decode dimensions: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			ev.CreatedAt = t
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func validateChannel(channel string) error {
	if channel == "" {
		return errors.New("channel name is empty")
	}
	// Channel names must start with a letter and contain only letters,
	// digits, underscores and dashes.
	for i, r := range channel {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '_' || r == '-'):
		default:
			return fmt.Errorf("invalid channel name %q", channel)
		}
	}
	return nil
}

func newObjectID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:objectIDLen]
}

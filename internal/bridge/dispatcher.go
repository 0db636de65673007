package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/mattjoyce/pushbridge/internal/log"
	"github.com/mattjoyce/pushbridge/internal/protocol"
	"github.com/mattjoyce/pushbridge/internal/provider"
	"github.com/mattjoyce/pushbridge/internal/session"
	"github.com/mattjoyce/pushbridge/internal/workerpool"
)

const (
	ActionInitialize              = "initialize"
	ActionRegisterCallback        = "registerCallback"
	ActionGetInstallationID       = "getInstallationId"
	ActionGetInstallationObjectID = "getInstallationObjectId"
	ActionGetSubscriptions        = "getSubscriptions"
	ActionSubscribe               = "subscribe"
	ActionUnsubscribe             = "unsubscribe"
	ActionTrackEvent              = "trackEvent"
)

// Submitter runs tasks off the caller's goroutine. *workerpool.Pool
// satisfies it.
type Submitter interface {
	Submit(name string, task workerpool.Task) error
}

// handler executes one action and sends exactly one response.
type handler func(ctx context.Context, cmd protocol.Command, r protocol.Responder)

// Dispatcher validates commands and routes them to the provider.
type Dispatcher struct {
	provider provider.Provider
	session  *session.Session
	pool     Submitter
	observe  session.Observer
	logger   *slog.Logger

	init     *InitLatch
	handlers map[string]handler
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithObserver publishes command outcomes to o.
func WithObserver(o session.Observer) Option {
	return func(d *Dispatcher) { d.observe = o }
}

// WithInitLatch shares l with other dispatchers on the same provider so the
// provider is initialized once per process rather than once per session.
func WithInitLatch(l *InitLatch) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.init = l
		}
	}
}

// New creates a Dispatcher bound to one session. Without WithInitLatch it
// gets a latch of its own.
func New(p provider.Provider, s *session.Session, pool Submitter, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		provider: p,
		session:  s,
		pool:     pool,
		logger:   log.WithComponent("bridge"),
		init:     NewInitLatch(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.handlers = map[string]handler{
		ActionInitialize:              d.initialize,
		ActionRegisterCallback:        d.registerCallback,
		ActionGetInstallationID:       d.getInstallationID,
		ActionGetInstallationObjectID: d.getInstallationObjectID,
		ActionGetSubscriptions:        d.getSubscriptions,
		ActionSubscribe:               d.subscribe,
		ActionUnsubscribe:             d.unsubscribe,
		ActionTrackEvent:              d.trackEvent,
	}
	return d
}

// Handles reports whether action is recognized.
func (d *Dispatcher) Handles(action string) bool {
	_, ok := d.handlers[action]
	return ok
}

// Execute schedules cmd. It returns false, without responding, when the
// action is not recognized.
func (d *Dispatcher) Execute(cmd protocol.Command, r protocol.Responder) bool {
	h, ok := d.handlers[cmd.Name]
	if !ok {
		d.logger.Warn("unhandled action", "action", cmd.Name)
		return false
	}

	once := protocol.Once(d.observed(cmd.Name, r))
	err := d.pool.Submit(cmd.Name, func(ctx context.Context) {
		d.run(ctx, cmd, h, once)
	})
	if err != nil {
		once.Respond(protocol.Failure(&protocol.Error{
			Code:    protocol.CodeExternalService,
			Message: fmt.Sprintf("schedule %s: %v", cmd.Name, err),
		}))
	}
	return true
}

func (d *Dispatcher) run(ctx context.Context, cmd protocol.Command, h handler, r *protocol.OnceResponder) {
	logger := log.WithAction(cmd.Name)
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("action panicked", "panic", fmt.Sprint(rec))
			r.Respond(protocol.Failure(&protocol.Error{
				Code:    protocol.CodeUnmappedException,
				Message: fmt.Sprint(rec),
			}))
		}
		if !r.Sent() {
			// Handlers always respond; this guards the exactly-once contract.
			logger.Error("action finished without a response")
			r.Respond(protocol.Failure(&protocol.Error{Code: protocol.CodeUnmappedException, Message: "no response"}))
		}
		if n := r.Dropped(); n > 0 {
			logger.Warn("discarded extra responses", "count", n)
		}
	}()
	h(ctx, cmd, r)
}

// observed wraps r to log and publish the outcome.
func (d *Dispatcher) observed(action string, r protocol.Responder) protocol.Responder {
	start := time.Now()
	return protocol.ResponderFunc(func(resp protocol.Response) {
		logger := log.WithAction(action)
		durMS := time.Since(start).Milliseconds()
		if resp.OK() {
			logger.Debug("action succeeded", "duration_ms", durMS)
		} else {
			logger.Warn("action failed", "code", resp.Code, "error", resp.Error, "duration_ms", durMS)
		}
		if d.observe != nil {
			typ := "command.ok"
			if !resp.OK() {
				typ = "command.error"
			}
			d.observe(typ, map[string]any{
				"session_id":  d.session.ID(),
				"action":      action,
				"code":        resp.Code,
				"error":       resp.Error,
				"duration_ms": durMS,
			})
		}
		r.Respond(resp)
	})
}

// Initialized reports whether the provider has been initialized.
func (d *Dispatcher) Initialized() bool { return d.init.Done() }

// InitializeWith initializes the provider from host configuration, sharing
// the latch with the initialize action so scripts cannot initialize twice.
func (d *Dispatcher) InitializeWith(ctx context.Context, appID, clientKey string) error {
	_, err := d.init.Do(func() error {
		return d.initProvider(ctx, appID, clientKey)
	})
	return err
}

func (d *Dispatcher) initProvider(ctx context.Context, appID, clientKey string) error {
	d.logger.Info("initializing provider", "app_id", appID)
	if _, err := d.provider.Initialize(ctx, appID, clientKey).Wait(ctx); err != nil {
		return err
	}
	d.provider.SaveInstallation(ctx).Then(func(_ provider.Void, err error) {
		if err != nil {
			d.logger.Warn("background installation save failed", "error", err)
		}
	})
	return nil
}

func (d *Dispatcher) initialize(ctx context.Context, cmd protocol.Command, r protocol.Responder) {
	appID, err := cmd.NonEmptyString(0)
	if err != nil {
		r.Respond(protocol.Failure(err))
		return
	}
	clientKey, err := cmd.NonEmptyString(1)
	if err != nil {
		r.Respond(protocol.Failure(err))
		return
	}

	ran, err := d.init.Do(func() error {
		return d.initProvider(ctx, appID, clientKey)
	})
	if err != nil {
		r.Respond(protocol.Failure(err))
		return
	}
	if !ran {
		d.logger.Debug("provider already initialized; initialize is a no-op")
	}
	r.Respond(protocol.Success(nil))
}

func (d *Dispatcher) registerCallback(_ context.Context, cmd protocol.Command, r protocol.Responder) {
	id, err := cmd.NonEmptyString(0)
	if err != nil {
		r.Respond(protocol.Failure(err))
		return
	}
	if err := d.session.SetCallback(id); err != nil {
		r.Respond(protocol.Failure(err))
		return
	}
	r.Respond(protocol.Success(nil))
	// An event that arrived before the scripting layer was ready goes out now.
	d.session.TryFlush()
}

func (d *Dispatcher) getInstallationID(ctx context.Context, _ protocol.Command, r protocol.Responder) {
	id, err := d.provider.InstallationID(ctx).Wait(ctx)
	if err != nil {
		r.Respond(protocol.Failure(err))
		return
	}
	r.Respond(protocol.Success(protocol.Value(id)))
}

func (d *Dispatcher) getInstallationObjectID(ctx context.Context, _ protocol.Command, r protocol.Responder) {
	id, err := d.provider.InstallationObjectID(ctx).Wait(ctx)
	if err != nil {
		r.Respond(protocol.Failure(err))
		return
	}
	r.Respond(protocol.Success(protocol.Value(id)))
}

func (d *Dispatcher) getSubscriptions(ctx context.Context, _ protocol.Command, r protocol.Responder) {
	channels, err := d.provider.Subscriptions(ctx).Wait(ctx)
	if err != nil {
		r.Respond(protocol.Failure(err))
		return
	}
	r.Respond(protocol.Success(protocol.Value(FormatChannelSet(channels))))
}

func (d *Dispatcher) subscribe(ctx context.Context, cmd protocol.Command, r protocol.Responder) {
	channel, err := cmd.NonEmptyString(0)
	if err != nil {
		r.Respond(protocol.Failure(err))
		return
	}
	if _, err := d.provider.Subscribe(ctx, channel).Wait(ctx); err != nil {
		d.logger.Error("subscribe to channel failed", "channel", channel, "error", err)
		r.Respond(protocol.Failure(protocol.ExternalService(err)))
		return
	}
	if channels, err := d.provider.Subscriptions(ctx).Wait(ctx); err == nil {
		d.logger.Debug("subscribed", "channel", channel, "subscriptions", FormatChannelSet(channels))
	}
	d.provider.SaveInstallation(ctx).Then(func(_ provider.Void, err error) {
		if err != nil {
			d.logger.Warn("installation save after subscribe failed", "channel", channel, "error", err)
		}
	})
	r.Respond(protocol.Success(nil))
}

func (d *Dispatcher) unsubscribe(ctx context.Context, cmd protocol.Command, r protocol.Responder) {
	channel, err := cmd.NonEmptyString(0)
	if err != nil {
		r.Respond(protocol.Failure(err))
		return
	}
	if _, err := d.provider.Unsubscribe(ctx, channel).Wait(ctx); err != nil {
		d.logger.Error("unsubscribe from channel failed", "channel", channel, "error", err)
		r.Respond(protocol.Failure(protocol.ExternalService(err)))
		return
	}
	r.Respond(protocol.Success(nil))
}

func (d *Dispatcher) trackEvent(ctx context.Context, cmd protocol.Command, r protocol.Responder) {
	name, err := cmd.NonEmptyString(0)
	if err != nil {
		r.Respond(protocol.Failure(err))
		return
	}
	dims, err := cmd.StringMap(1)
	if err != nil {
		r.Respond(protocol.Failure(err))
		return
	}
	if len(dims) > provider.MaxDimensions {
		d.logger.Warn("provider stores only the first dimension pairs", "event", name, "sent", len(dims), "limit", provider.MaxDimensions)
	}
	if _, err := d.provider.TrackEvent(ctx, name, dims).Wait(ctx); err != nil {
		r.Respond(protocol.Failure(protocol.ExternalService(err)))
		return
	}
	r.Respond(protocol.Success(nil))
}

// FormatChannelSet renders channels as a single string, e.g. "[news, sports]".
func FormatChannelSet(channels []string) string {
	sorted := slices.Clone(channels)
	slices.Sort(sorted)
	return "[" + strings.Join(sorted, ", ") + "]"
}

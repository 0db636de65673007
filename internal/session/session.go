package session

import (
	"log/slog"
	"maps"
	"sync"

	"github.com/google/uuid"

	"github.com/mattjoyce/pushbridge/internal/log"
	"github.com/mattjoyce/pushbridge/internal/protocol"
)

// Payload is a structured external event, e.g. {"type":"open", ...}.
type Payload map[string]any

// Deliverer hands an invocation to the scripting layer. Delivery is
// fire-and-forget.
type Deliverer interface {
	Deliver(inv protocol.Invocation)
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(protocol.Invocation)

func (f DelivererFunc) Deliver(inv protocol.Invocation) { f(inv) }

// Observer receives activity notifications (event type + JSON-able data).
// events.Hub.Publish satisfies it.
type Observer func(eventType string, data any)

// State is a point-in-time view of a Session.
type State struct {
	ID         string `json:"id"`
	Foreground bool   `json:"foreground"`
	Callback   string `json:"callback,omitempty"`
	HasPending bool   `json:"has_pending"`
}

// Session is the explicit context shared by the dispatcher and the gate.
type Session struct {
	id        string
	deliverer Deliverer
	observe   Observer
	logger    *slog.Logger

	clearOnTeardown bool

	mu         sync.Mutex
	foreground bool
	callback   string
	pending    Payload
}

// Option configures a Session.
type Option func(*Session)

// WithObserver publishes gate activity to o.
func WithObserver(o Observer) Option {
	return func(s *Session) { s.observe = o }
}

// WithClearOnTeardown drops any pending payload on Teardown instead of
// carrying it into the next Attach.
func WithClearOnTeardown(clear bool) Option {
	return func(s *Session) { s.clearOnTeardown = clear }
}

// New creates a detached session.
func New(d Deliverer, opts ...Option) *Session {
	id := uuid.NewString()
	s := &Session{
		id:        id,
		deliverer: d,
		logger:    log.WithSession(id).With("component", "session"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session identifier used in logs and activity events.
func (s *Session) ID() string { return s.id }

// Attach marks the host view as attached: foreground, no callback.
func (s *Session) Attach() {
	s.mu.Lock()
	s.foreground = true
	s.callback = ""
	s.mu.Unlock()
	s.emit("lifecycle.attach", nil)
}

// Resume brings the session to the foreground and flushes any pending event.
func (s *Session) Resume() {
	s.mu.Lock()
	s.foreground = true
	s.mu.Unlock()
	s.emit("lifecycle.resume", nil)
	s.TryFlush()
}

// Pause moves the session to the background.
func (s *Session) Pause() {
	s.mu.Lock()
	s.foreground = false
	s.mu.Unlock()
	s.emit("lifecycle.pause", nil)
}

// Teardown detaches the session. A pending payload survives unless the
// session was built WithClearOnTeardown.
func (s *Session) Teardown() {
	s.mu.Lock()
	s.foreground = false
	s.callback = ""
	kept := s.pending != nil
	if s.clearOnTeardown {
		s.pending = nil
		kept = false
	}
	s.mu.Unlock()

	if kept {
		s.logger.Warn("pending event survives teardown; it will be delivered after the next attach")
	}
	s.emit("lifecycle.destroy", map[string]any{"pending_kept": kept})
}

// SetPending stores p, overwriting any undelivered payload. It does not
// attempt delivery.
func (s *Session) SetPending(p Payload) {
	s.mu.Lock()
	replaced := s.pending != nil
	s.pending = maps.Clone(p)
	s.mu.Unlock()

	if replaced {
		s.logger.Debug("pending event overwritten")
	}
	s.emit("event.buffered", map[string]any{"replaced": replaced})
}

// Notify stores p and immediately attempts delivery. It is the entry point
// for external events arriving while the application may be running.
func (s *Session) Notify(p Payload) bool {
	s.SetPending(p)
	return s.TryFlush()
}

// RegisterCallback records the scripting-side function that receives events
// and attempts delivery of any pending payload.
func (s *Session) RegisterCallback(id string) error {
	if err := s.SetCallback(id); err != nil {
		return err
	}
	s.TryFlush()
	return nil
}

// SetCallback records the callback without attempting delivery.
func (s *Session) SetCallback(id string) error {
	if id == "" {
		return protocol.Malformed("registerCallback: callback id is empty")
	}
	s.mu.Lock()
	s.callback = id
	s.mu.Unlock()
	return nil
}

// TryFlush delivers and clears the pending payload iff the session is in the
// foreground and a callback is registered. It reports whether a delivery
// happened.
func (s *Session) TryFlush() bool {
	s.mu.Lock()
	if !s.foreground || s.callback == "" || s.pending == nil {
		s.mu.Unlock()
		return false
	}
	inv := protocol.Invocation{Callback: s.callback, Payload: s.pending}
	s.pending = nil
	s.mu.Unlock()

	s.logger.Info("delivering pending event", "callback", inv.Callback)
	if s.deliverer != nil {
		s.deliverer.Deliver(inv)
	}
	s.emit("event.delivered", inv)
	return true
}

// Snapshot returns the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		ID:         s.id,
		Foreground: s.foreground,
		Callback:   s.callback,
		HasPending: s.pending != nil,
	}
}

// Pending returns a copy of the buffered payload, or nil.
func (s *Session) Pending() Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.pending)
}

func (s *Session) emit(eventType string, data any) {
	if s.observe == nil {
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	s.observe(eventType, map[string]any{"session_id": s.id, "data": data})
}

package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/mattjoyce/pushbridge/internal/protocol"
	"github.com/mattjoyce/pushbridge/internal/provider"
	"github.com/mattjoyce/pushbridge/internal/session"
)

// Lifecycle transitions forwarded by the host.
const (
	LifecycleAttach  = "attach"
	LifecycleResume  = "resume"
	LifecyclePause   = "pause"
	LifecycleDestroy = "destroy"
)

// Plugin is one bridge instance: a session plus the dispatcher bound to it.
// Hosts create one Plugin per attached view.
type Plugin struct {
	Session    *session.Session
	Dispatcher *Dispatcher
}

// PluginConfig carries the collaborators a Plugin needs.
type PluginConfig struct {
	Provider        provider.Provider
	Pool            Submitter
	Deliverer       session.Deliverer
	Observer        session.Observer
	ClearOnTeardown bool

	// Init is the process-wide initialization latch. Plugins sharing a
	// provider must share it; nil gives the plugin a private latch.
	Init *InitLatch
}

// NewPlugin wires a session and a dispatcher together. The plugin starts
// detached; call Attach when the host view is ready.
func NewPlugin(cfg PluginConfig) *Plugin {
	s := session.New(cfg.Deliverer,
		session.WithObserver(cfg.Observer),
		session.WithClearOnTeardown(cfg.ClearOnTeardown),
	)
	d := New(cfg.Provider, s, cfg.Pool, WithObserver(cfg.Observer), WithInitLatch(cfg.Init))
	return &Plugin{Session: s, Dispatcher: d}
}

// Execute forwards to the dispatcher.
func (p *Plugin) Execute(cmd protocol.Command, r protocol.Responder) bool {
	return p.Dispatcher.Execute(cmd, r)
}

// Lifecycle applies a named host transition.
func (p *Plugin) Lifecycle(name string) error {
	switch strings.ToLower(name) {
	case LifecycleAttach:
		p.Session.Attach()
	case LifecycleResume:
		p.Session.Resume()
	case LifecyclePause:
		p.Session.Pause()
	case LifecycleDestroy, "teardown":
		p.Session.Teardown()
	default:
		return protocol.Malformed("unknown lifecycle transition %q", name)
	}
	return nil
}

// Notify hands an external event (e.g. a notification opened) to the gate.
func (p *Plugin) Notify(payload session.Payload) bool {
	return p.Session.Notify(payload)
}

// SetLaunchEvent buffers the event that launched the application. It is
// delivered once the scripting layer registers its callback.
func (p *Plugin) SetLaunchEvent(payload session.Payload) {
	p.Session.SetPending(payload)
}

// Call dispatches cmd and waits for its response. Unknown actions yield an
// invalid-action error response.
func (p *Plugin) Call(ctx context.Context, cmd protocol.Command) (protocol.Response, error) {
	reply := protocol.NewReply()
	if !p.Execute(cmd, reply) {
		return protocol.Failure(protocol.InvalidAction(cmd.Name)), nil
	}
	select {
	case resp := <-reply.C():
		return resp, nil
	case <-ctx.Done():
		return protocol.Response{}, fmt.Errorf("waiting for %s: %w", cmd.Name, ctx.Err())
	}
}

// State returns a snapshot of the session.
func (p *Plugin) State() session.State {
	return p.Session.Snapshot()
}

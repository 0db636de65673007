// Package script embeds a JavaScript runtime as the scripting layer. The
// runtime is confined to one event-loop goroutine; commands issued from
// scripts complete asynchronously and their callbacks are queued back onto
// that loop, as are event deliveries.
package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"

	"github.com/mattjoyce/pushbridge/internal/bridge"
	"github.com/mattjoyce/pushbridge/internal/log"
	"github.com/mattjoyce/pushbridge/internal/protocol"
)

// ErrClosed is returned once the host has stopped.
var ErrClosed = errors.New("script host closed")

// Host owns one goja runtime and the loop that serializes access to it.
type Host struct {
	vm     *goja.Runtime
	plugin *bridge.Plugin
	logger *slog.Logger

	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	quit   chan struct{}
	closed bool

	// busy counts queued jobs plus exec calls awaiting their callback.
	busy atomic.Int64

	// interruptMu orders Eval timeouts against the end of the program they
	// target, so an interrupt never outlives it.
	interruptMu sync.Mutex
}

// Eval job states.
const (
	evalQueued int32 = iota
	evalRunning
	evalFinished
)

// New creates a host. Call Bind before running scripts that use the bridge.
func New() *Host {
	h := &Host{
		vm:     goja.New(),
		logger: log.WithComponent("script"),
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
	}
	go h.loop()
	return h
}

// Bind exposes plugin to scripts as the global `bridge` object.
func (h *Host) Bind(plugin *bridge.Plugin) error {
	errc := make(chan error, 1)
	if !h.enqueue(func() {
		h.plugin = plugin
		obj := h.vm.NewObject()
		for name, fn := range map[string]any{
			"exec":      h.jsExec,
			"lifecycle": h.jsLifecycle,
			"log":       h.jsLog,
		} {
			if err := obj.Set(name, fn); err != nil {
				errc <- err
				return
			}
		}
		errc <- h.vm.Set("bridge", obj)
	}) {
		return ErrClosed
	}
	return <-errc
}

func (h *Host) loop() {
	for {
		select {
		case <-h.quit:
			return
		case <-h.wake:
		}
		for {
			h.mu.Lock()
			if len(h.queue) == 0 {
				h.mu.Unlock()
				break
			}
			if h.closed {
				h.busy.Add(-int64(len(h.queue)))
				h.queue = nil
				h.mu.Unlock()
				return
			}
			job := h.queue[0]
			h.queue = h.queue[1:]
			h.mu.Unlock()

			h.runJob(job)
			h.busy.Add(-1)
		}
	}
}

func (h *Host) runJob(job func()) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("script job panicked", "panic", fmt.Sprint(rec))
		}
	}()
	h.interruptMu.Lock()
	h.vm.ClearInterrupt()
	h.interruptMu.Unlock()
	job()
}

// enqueue schedules fn on the loop. It never blocks, so it is safe to call
// from the loop itself.
func (h *Host) enqueue(fn func()) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.busy.Add(1)
	h.queue = append(h.queue, fn)
	h.mu.Unlock()

	select {
	case h.wake <- struct{}{}:
	default:
	}
	return true
}

// Eval runs src on the loop and waits for it to finish. A script still
// running when ctx ends is interrupted; one still queued never runs.
func (h *Host) Eval(ctx context.Context, src, name string) (goja.Value, error) {
	type result struct {
		val goja.Value
		err error
	}
	resultCh := make(chan result, 1)
	var state atomic.Int32
	if !h.enqueue(func() {
		if !state.CompareAndSwap(evalQueued, evalRunning) {
			return
		}
		prog, err := goja.Compile(name, src, false)
		var val goja.Value
		if err == nil {
			val, err = h.vm.RunProgram(prog)
		}
		h.interruptMu.Lock()
		state.Store(evalFinished)
		h.vm.ClearInterrupt()
		h.interruptMu.Unlock()
		resultCh <- result{val, err}
	}) {
		return nil, ErrClosed
	}

	select {
	case <-ctx.Done():
		h.interruptMu.Lock()
		if state.Load() == evalRunning {
			h.vm.Interrupt("timeout")
		} else {
			state.CompareAndSwap(evalQueued, evalFinished)
		}
		h.interruptMu.Unlock()
		return nil, fmt.Errorf("script %s timed out: %w", name, ctx.Err())
	case res := <-resultCh:
		if res.err != nil {
			return nil, fmt.Errorf("failed to run script %s: %w", name, res.err)
		}
		return res.val, nil
	}
}

// WaitIdle blocks until no jobs are queued and no exec call is awaiting
// its callback.
func (h *Host) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if h.busy.Load() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close stops the loop. Queued jobs are discarded.
func (h *Host) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.quit)
	h.vm.Interrupt("closed")
}

// Deliver evaluates the invocation snippet `callback(payload)` on the loop.
func (h *Host) Deliver(inv protocol.Invocation) {
	snippet, err := inv.Snippet()
	if err != nil {
		h.logger.Error("failed to render event delivery", "callback", inv.Callback, "error", err)
		return
	}
	if !h.enqueue(func() {
		if _, err := h.vm.RunString(snippet); err != nil {
			h.logger.Error("event callback failed", "callback", inv.Callback, "error", err)
		}
	}) {
		h.logger.Warn("dropping event delivery on closed host", "callback", inv.Callback)
	}
}

// jsExec implements bridge.exec(action, args, onSuccess, onError). It
// returns whether the action was recognized.
func (h *Host) jsExec(call goja.FunctionCall) goja.Value {
	action := call.Argument(0).String()
	var args []any
	if v := call.Argument(1); !goja.IsUndefined(v) && !goja.IsNull(v) {
		exported, ok := v.Export().([]any)
		if !ok {
			panic(h.vm.NewTypeError("bridge.exec: args must be an array"))
		}
		args = exported
	}
	onSuccess, _ := goja.AssertFunction(call.Argument(2))
	onError, _ := goja.AssertFunction(call.Argument(3))

	if h.plugin == nil {
		panic(h.vm.NewGoError(errors.New("bridge.exec: no plugin bound")))
	}

	cmd, err := protocol.NewCommand(action, args...)
	if err != nil {
		panic(h.vm.NewGoError(err))
	}

	h.busy.Add(1)
	respond := protocol.ResponderFunc(func(resp protocol.Response) {
		if !h.enqueue(func() { h.complete(action, resp, onSuccess, onError) }) {
			h.logger.Warn("dropping response on closed host", "action", action)
		}
		h.busy.Add(-1)
	})
	if !h.plugin.Execute(cmd, respond) {
		respond.Respond(protocol.Failure(protocol.InvalidAction(action)))
		return h.vm.ToValue(false)
	}
	return h.vm.ToValue(true)
}

func (h *Host) complete(action string, resp protocol.Response, onSuccess, onError goja.Callable) {
	var err error
	if resp.OK() {
		if onSuccess == nil {
			return
		}
		arg := goja.Undefined()
		if resp.Value != nil {
			arg = h.vm.ToValue(*resp.Value)
		}
		_, err = onSuccess(goja.Undefined(), arg)
	} else {
		if onError == nil {
			h.logger.Debug("unobserved command error", "action", action, "code", resp.Code, "error", resp.Error)
			return
		}
		_, err = onError(goja.Undefined(), h.vm.ToValue(resp.Error), h.vm.ToValue(string(resp.Code)))
	}
	if err != nil {
		h.logger.Error("command callback threw", "action", action, "error", err)
	}
}

func (h *Host) jsLifecycle(name string) {
	if h.plugin == nil {
		panic(h.vm.NewGoError(errors.New("bridge.lifecycle: no plugin bound")))
	}
	if err := h.plugin.Lifecycle(name); err != nil {
		panic(h.vm.NewGoError(err))
	}
}

func (h *Host) jsLog(msg string) {
	h.logger.Info("script", "message", msg)
}

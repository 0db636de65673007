// Package ws carries the bridge to a remote web view over a WebSocket.
// Each connection gets its own plugin: connecting attaches the session and
// disconnecting tears it down. An event still pending at teardown is handed
// to the next connection, so a reconnecting view receives it once it
// registers its callback.
package ws

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mattjoyce/pushbridge/internal/bridge"
	"github.com/mattjoyce/pushbridge/internal/events"
	"github.com/mattjoyce/pushbridge/internal/log"
	"github.com/mattjoyce/pushbridge/internal/protocol"
	"github.com/mattjoyce/pushbridge/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
	maxFrame   = 1 << 20
)

// PluginFactory builds a plugin whose events go to d.
type PluginFactory func(d session.Deliverer) *bridge.Plugin

// Handler upgrades HTTP requests and serves one bridge session per socket.
type Handler struct {
	newPlugin PluginFactory
	upgrader  websocket.Upgrader
	logger    *slog.Logger
	observer  session.Observer

	mu    sync.Mutex
	conns map[*conn]struct{}
	// carried is the pending event of the last torn-down session.
	carried session.Payload
}

// Option configures a Handler.
type Option func(*Handler)

// WithObserver reports connection.opened and connection.closed activity.
func WithObserver(o session.Observer) Option {
	return func(h *Handler) { h.observer = o }
}

// NewHandler returns a handler. checkOrigin may be nil to accept any origin.
func NewHandler(factory PluginFactory, checkOrigin func(*http.Request) bool, opts ...Option) *Handler {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	h := &Handler{
		newPlugin: factory,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		logger: log.WithComponent("ws"),
		conns:  make(map[*conn]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) publish(eventType string, c *conn, remote string) {
	if h.observer == nil {
		return
	}
	h.observer(eventType, map[string]any{
		"session_id": c.plugin.Session.ID(),
		"remote":     remote,
	})
}

// Connections returns the number of open sockets.
func (h *Handler) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Broadcast hands payload to every connected session's gate.
func (h *Handler) Broadcast(payload session.Payload) int {
	h.mu.Lock()
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	delivered := 0
	for _, c := range conns {
		if c.plugin.Notify(payload) {
			delivered++
		}
	}
	return delivered
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &conn{
		ws:   wsConn,
		send: make(chan *protocol.Outbound, sendBuffer),
		done: make(chan struct{}),
	}
	c.plugin = h.newPlugin(c)
	c.logger = log.WithSession(c.plugin.Session.ID()).With("remote", r.RemoteAddr)

	h.mu.Lock()
	h.conns[c] = struct{}{}
	carried := h.carried
	h.carried = nil
	h.mu.Unlock()

	c.logger.Info("web view connected")
	h.publish(events.ConnOpened, c, r.RemoteAddr)
	c.plugin.Session.Attach()
	if carried != nil {
		c.logger.Info("restoring event pending from a previous connection")
		c.plugin.Session.SetPending(carried)
	}

	go c.writePump()
	c.readPump()

	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()

	c.plugin.Session.Teardown()
	if pending := c.plugin.Session.Pending(); pending != nil {
		h.mu.Lock()
		h.carried = pending
		h.mu.Unlock()
	}
	c.close()
	h.publish(events.ConnClosed, c, r.RemoteAddr)
	c.logger.Info("web view disconnected")
}

type conn struct {
	ws     *websocket.Conn
	plugin *bridge.Plugin
	logger *slog.Logger

	send      chan *protocol.Outbound
	done      chan struct{}
	closeOnce sync.Once
}

func (c *conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// enqueue queues a frame for the writer. Frames are dropped once the
// connection is closing or when the client stops reading.
func (c *conn) enqueue(out *protocol.Outbound) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- out:
	case <-c.done:
	default:
		c.logger.Warn("send buffer full; dropping frame", "type", out.Type)
	}
}

// Deliver implements session.Deliverer.
func (c *conn) Deliver(inv protocol.Invocation) {
	snippet, err := inv.Snippet()
	if err != nil {
		c.logger.Error("failed to render event", "callback", inv.Callback, "error", err)
		return
	}
	c.enqueue(&protocol.Outbound{
		Type:     protocol.FrameEvent,
		Callback: inv.Callback,
		Payload:  inv.Payload,
		Snippet:  snippet,
	})
}

func (c *conn) respond(id string, resp protocol.Response) {
	resp.ID = id
	c.enqueue(&protocol.Outbound{Type: protocol.FrameResponse, Response: &resp})
}

func (c *conn) readPump() {
	c.ws.SetReadLimit(maxFrame)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, r, err := c.ws.NextReader()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		in, err := protocol.DecodeInbound(r)
		if err != nil {
			c.respond("", protocol.Failure(protocol.Malformed("%v", err)))
			continue
		}
		c.handle(in)
	}
}

func (c *conn) handle(in *protocol.Inbound) {
	if in.Lifecycle != "" {
		if err := c.plugin.Lifecycle(in.Lifecycle); err != nil {
			c.respond(in.ID, protocol.Failure(err))
			return
		}
		if in.ID != "" {
			c.respond(in.ID, protocol.Success(nil))
		}
		return
	}

	cmd, err := protocol.DecodeCommand(in.Action, in.Args)
	if err != nil {
		c.respond(in.ID, protocol.Failure(err))
		return
	}
	id := in.ID
	handled := c.plugin.Execute(cmd, protocol.ResponderFunc(func(resp protocol.Response) {
		c.respond(id, resp)
	}))
	if !handled {
		c.respond(id, protocol.Failure(protocol.InvalidAction(in.Action)))
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case out := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.ws.NextWriter(websocket.TextMessage)
			if err != nil {
				c.close()
				return
			}
			if err := protocol.EncodeOutbound(w, out); err != nil {
				c.logger.Error("failed to encode frame", "error", err)
			}
			if err := w.Close(); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

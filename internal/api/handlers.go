package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/pushbridge/internal/protocol"
)

const maxBodyBytes = 1 << 20

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Subscribers:   s.events.Subscribers(),
	}
	if s.sockets != nil {
		resp.Connections = s.sockets.Connections()
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleState handles GET /state.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	st := s.bridge.State()
	respondJSON(w, http.StatusOK, StateResponse{
		SessionID:  st.ID,
		Foreground: st.Foreground,
		Callback:   st.Callback,
		HasPending: st.HasPending,
	})
}

// handleExec handles POST /exec/{action}. The body is the JSON array of
// positional arguments; an empty body means none. The request waits for
// the command's single response.
func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	cmd, err := protocol.DecodeCommand(action, body)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, protocol.Failure(err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.ExecTimeout)
	defer cancel()

	resp, err := s.bridge.Call(ctx, cmd)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.writeError(w, http.StatusGatewayTimeout, err.Error())
			return
		}
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondJSON(w, statusFor(resp), resp)
}

// statusFor maps a command outcome onto an HTTP status.
func statusFor(resp protocol.Response) int {
	if resp.OK() {
		return http.StatusOK
	}
	switch resp.Code {
	case protocol.CodeMalformedArguments:
		return http.StatusBadRequest
	case protocol.CodeInvalidAction:
		return http.StatusNotFound
	case protocol.CodeExternalService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// handleLifecycle handles POST /lifecycle/{transition}.
func (s *Server) handleLifecycle(w http.ResponseWriter, r *http.Request) {
	transition := chi.URLParam(r, "transition")
	if err := s.bridge.Lifecycle(transition); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, LifecycleResponse{
		Transition: transition,
		Foreground: s.bridge.State().Foreground,
	})
}

// handleNotification handles POST /notifications: an external event such
// as an opened push notification.
func (s *Server) handleNotification(w http.ResponseWriter, r *http.Request) {
	var req NotificationRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Payload == nil {
		s.writeError(w, http.StatusBadRequest, "payload must be a JSON object")
		return
	}

	resp := NotificationResponse{Delivered: s.bridge.Notify(req.Payload)}
	if s.sockets != nil {
		resp.Remote = s.sockets.Broadcast(req.Payload)
	}
	status := http.StatusOK
	if !resp.Delivered {
		status = http.StatusAccepted
	}
	respondJSON(w, status, resp)
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}

package api

import "github.com/mattjoyce/pushbridge/internal/session"

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Connections   int    `json:"connections"`
	Subscribers   int    `json:"subscribers"`
}

// StateResponse is returned by GET /state.
type StateResponse struct {
	SessionID  string `json:"session_id"`
	Foreground bool   `json:"foreground"`
	Callback   string `json:"callback,omitempty"`
	HasPending bool   `json:"has_pending"`
}

// NotificationRequest is the body of POST /notifications.
type NotificationRequest struct {
	Payload session.Payload `json:"payload"`
}

// NotificationResponse reports where the event went. An event that was not
// delivered stays buffered until the scripting layer is ready.
type NotificationResponse struct {
	Delivered bool `json:"delivered"`
	Remote    int  `json:"remote_delivered"`
}

// LifecycleResponse is returned by POST /lifecycle/{transition}.
type LifecycleResponse struct {
	Transition string `json:"transition"`
	Foreground bool   `json:"foreground"`
}

package webhook

import "github.com/mattjoyce/pushbridge/internal/session"

// Sink receives a verified event payload and reports how many sessions it
// was delivered to immediately. Undelivered events stay buffered in the gate.
type Sink func(payload session.Payload) int

// Config holds webhook server configuration.
type Config struct {
	Listen    string
	Endpoints []EndpointConfig
}

// EndpointConfig defines a single webhook endpoint.
type EndpointConfig struct {
	Path            string
	Secret          string
	SignatureHeader string
	MaxBodySize     int64
}

// AcceptedResponse is returned for a verified event.
type AcceptedResponse struct {
	Delivered int `json:"delivered"`
}

// ErrorResponse is the JSON response for webhook errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

const (
	DefaultMaxBodySize     = 1 << 20
	DefaultSignatureHeader = "X-Signature-256"
)

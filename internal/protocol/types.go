package protocol

import (
	"encoding/json"
	"fmt"
)

// ErrorCode classifies a failed command for the scripting layer.
type ErrorCode string

const (
	CodeMalformedArguments ErrorCode = "malformed-arguments"
	CodeExternalService    ErrorCode = "external-service-error"
	CodeUnmappedException  ErrorCode = "unmapped-exception"

	// CodeInvalidAction is what transports report when the dispatcher
	// declines an action. The dispatcher itself never emits it.
	CodeInvalidAction ErrorCode = "invalid-action"
)

// InvalidAction is the transport-level response for an unhandled action.
func InvalidAction(action string) *Error {
	return &Error{Code: CodeInvalidAction, Message: fmt.Sprintf("unknown action %q", action)}
}

// Error is a coded failure destined for the error half of a response.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any *Error carrying the same code, so callers can use
// errors.Is(err, &Error{Code: CodeMalformedArguments}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// ErrMalformed matches every malformed-arguments error via errors.Is.
var ErrMalformed = &Error{Code: CodeMalformedArguments}

// Malformed builds a malformed-arguments error.
func Malformed(format string, args ...any) *Error {
	return &Error{Code: CodeMalformedArguments, Message: fmt.Sprintf(format, args...)}
}

// ExternalService wraps a provider failure. The provider's message is kept
// verbatim so the scripting layer sees e.g. "network-error".
func ExternalService(err error) *Error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &Error{Code: CodeExternalService, Message: msg}
}

// Command is one named request from the scripting layer.
type Command struct {
	Name string
	Args []json.RawMessage
}

// Response is the serialized outcome of a command.
type Response struct {
	ID     string    `json:"id,omitempty"`
	Status string    `json:"status"` // ok | error
	Value  *string   `json:"value,omitempty"`
	Code   ErrorCode `json:"code,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// OK reports whether the response is a success.
func (r Response) OK() bool { return r.Status == StatusOK }

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Invocation is one outbound event delivery to a registered callback.
type Invocation struct {
	Callback string         `json:"callback"`
	Payload  map[string]any `json:"payload"`
}

// Inbound is a frame sent by a remote scripting layer. Exactly one of
// Action or Lifecycle is set.
type Inbound struct {
	ID        string          `json:"id,omitempty"`
	Action    string          `json:"action,omitempty"`
	Args      json.RawMessage `json:"args,omitempty"`
	Lifecycle string          `json:"lifecycle,omitempty"`
}

// Outbound is a frame sent to a remote scripting layer: either a command
// response (Type "response") or an event delivery (Type "event").
type Outbound struct {
	Type     string         `json:"type"`
	Response *Response      `json:"response,omitempty"`
	Callback string         `json:"callback,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
	Snippet  string         `json:"snippet,omitempty"`
}

const (
	FrameResponse = "response"
	FrameEvent    = "event"
)

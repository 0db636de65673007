package protocol

import (
	"errors"
	"sync/atomic"
)

// Responder receives the single response for one dispatched command.
type Responder interface {
	Respond(Response)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(Response)

func (f ResponderFunc) Respond(r Response) { f(r) }

// Success builds an ok response. A nil value means "no result".
func Success(value *string) Response {
	return Response{Status: StatusOK, Value: value}
}

// Value is a convenience for Success(Value(s)).
func Value(s string) *string { return &s }

// Failure builds an error response from any error, classifying unknown
// errors as external-service-error.
func Failure(err error) Response {
	var pe *Error
	if !errors.As(err, &pe) {
		pe = ExternalService(err)
	}
	return Response{Status: StatusError, Code: pe.Code, Error: pe.Message}
}

// OnceResponder forwards only the first response to the wrapped Responder.
type OnceResponder struct {
	next    Responder
	sent    atomic.Bool
	dropped atomic.Int32
}

// Once wraps r so that at most one response is ever forwarded.
func Once(r Responder) *OnceResponder {
	return &OnceResponder{next: r}
}

func (o *OnceResponder) Respond(r Response) {
	if !o.sent.CompareAndSwap(false, true) {
		o.dropped.Add(1)
		return
	}
	o.next.Respond(r)
}

// Sent reports whether a response has been forwarded.
func (o *OnceResponder) Sent() bool { return o.sent.Load() }

// Dropped reports how many extra responses were discarded.
func (o *OnceResponder) Dropped() int { return int(o.dropped.Load()) }

// Reply is a Responder backed by a buffered channel, for callers that block
// on the outcome (HTTP handlers, tests).
type Reply struct {
	ch chan Response
}

// NewReply returns a Reply with room for exactly one response.
func NewReply() *Reply {
	return &Reply{ch: make(chan Response, 1)}
}

func (r *Reply) Respond(resp Response) {
	select {
	case r.ch <- resp:
	default:
	}
}

// C returns the channel the response arrives on.
func (r *Reply) C() <-chan Response { return r.ch }

package model

import (
	"context"
	"io"
	"time"
)

// Subscribable is the capability an abort handle must expose: a
// single cancellation event published under a well-known topic.
// *[AbortSignal] and EventBus.Bus both satisfy it.
type Subscribable interface {
	Subscribe(topic string, fn interface{}) error
}

// Unsubscribable is optionally implemented by a [Subscribable];
// when present, lifecycle handlers are detached once the request
// reaches a terminal state.
type Unsubscribable interface {
	Unsubscribe(topic string, handler interface{}) error
}

// BodyStream is a push-style request body. Producer-side failures are
// published as an "error" event; CloseWithError destroys the stream
// when the request it belongs to fails.
type BodyStream interface {
	io.Reader
	Subscribable
	CloseWithError(err error) error
}

// Request is the caller-supplied descriptor of a single exchange. It
// is not mutated after Prepare.
type Request struct {
	Path   string
	Method string
	Header Fields

	// Body is nil, []byte, string, or a BodyStream. Empty buffers and
	// strings are treated as absent.
	Body interface{}

	// Idempotent overrides the method-derived default (GET and HEAD
	// are idempotent) when non-nil.
	Idempotent *bool

	// Opaque is a caller correlation token echoed back untouched on
	// the ResponseStart.
	Opaque interface{}

	// ServerName overrides the certificate-verification name derived
	// from the Host header or the connection's target hostname.
	ServerName string

	// Signal, when non-nil, delivers a one-shot "abort" event that
	// fails the request with ErrRequestAborted.
	Signal Subscribable

	// Timeout bounds the time until response headers arrive. Zero
	// never times out; negative is rejected at prepare time.
	Timeout time.Duration
}

// ResponseStart is handed to the Handler once response headers for an
// exchange arrive.
type ResponseStart struct {
	StatusCode int
	Header     map[string][]string
	Opaque     interface{}

	// Resume signals willingness to receive more data. The pipeline
	// never pauses on its own in the current single-exchange model,
	// so the hook exists for consumers layered on top.
	Resume func()
}

// Handler observes the start of an exchange exactly once, with either
// an error or a ResponseStart, never both. A non-nil returned Sink
// receives the response body.
type Handler func(ctx context.Context, err error, start *ResponseStart) Sink

// Sink receives zero or more (nil, chunk) deliveries followed by
// exactly one terminal call: (nil, nil) on completion or (err, nil)
// on failure.
type Sink func(ctx context.Context, err error, chunk []byte)

// Package h1pipe is an HTTP/1.1 client transport. It serializes
// requests onto a single persistent connection per origin, parses
// responses incrementally and drives a strict per-request lifecycle
// with timeout, cancellation and streaming-body support. Responses
// are matched to requests in submission order; one exchange is in
// flight at a time.
package h1pipe

import (
	"github.com/crlx/h1pipe/internal"
	errs "github.com/crlx/h1pipe/internal/errors"
	"github.com/crlx/h1pipe/internal/model"
)

type Client = internal.Client
type Dialer = internal.Dialer
type CoreDialer = internal.CoreDialer
type Target = internal.Target
type Response = internal.Response

type Request = model.Request
type Field = model.Field
type Fields = model.Fields
type ResponseStart = model.ResponseStart
type Handler = model.Handler
type Sink = model.Sink
type Subscribable = model.Subscribable
type BodyStream = model.BodyStream
type AbortSignal = model.AbortSignal
type StreamBody = model.StreamBody

var (
	NewClient      = internal.NewClient
	WithDialer     = internal.WithDialer
	WithLogger     = internal.WithLogger
	NewAbortSignal = model.NewAbortSignal
	NewStreamBody  = model.NewStreamBody
)

// Error sentinels; match with errors.Is. Validation failures surface
// synchronously from Submit, everything else arrives through the
// handler or sink.
var (
	ErrInvalidArgument  = errs.ErrInvalidArgument
	ErrNotSupported     = errs.ErrNotSupported
	ErrRequestAborted   = errs.ErrRequestAborted
	ErrRequestTimeout   = errs.ErrRequestTimeout
	ErrConnectionClosed = errs.ErrConnectionClosed
	ErrProtocol         = errs.ErrProtocol
	ErrTransport        = errs.ErrTransport
)

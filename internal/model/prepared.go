package model

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/http/httpguts"

	errs "github.com/crlx/h1pipe/internal/errors"
)

// Event topics a request wires itself to at prepare time.
const (
	AbortTopic = "abort"
	ErrorTopic = "error"
)

// PreparedRequest is the lifecycle entity behind one submitted
// exchange. It owns the synthesized wire header, the timeout timer and
// the abort subscription, and forwards pipeline events to the caller's
// Handler and the Sink it returns.
//
// The start Handler is invoked exactly once, by either Headers or
// Error. A Sink, once obtained, receives zero or more chunks and then
// exactly one terminal delivery.
type PreparedRequest struct {
	*Request

	// ID correlates log lines across the pipeline.
	ID string

	ServerName    string
	Idempotent    bool
	Reset         bool
	ContentLength int64 // -1 when no content-length header was supplied
	RawHeader     []byte
	Streaming     bool

	ctx     context.Context
	handler Handler

	bodyBytes []byte
	stream    BodyStream

	mu         sync.Mutex
	finished   bool // start handler decided (headers delivered or failed)
	done       bool // terminal delivery happened
	delivering bool // start handler invocation in flight
	pendingErr error
	timer      *time.Timer
	abortFn    func()
	stop       chan struct{} // ends the context watch goroutine
	sink       Sink
}

// Prepare validates the descriptor and builds the wire-ready request
// state. Validation failures are synchronous; a descriptor that fails
// here is never enqueued and never touches the transport. hostname is
// the connection's target, used for the synthesized host header and
// the derived server name. Cancelling ctx fails the request with
// ErrRequestAborted.
func (r *Request) Prepare(ctx context.Context, hostname string, handler Handler) (*PreparedRequest, error) {
	if handler == nil {
		return nil, errs.ErrInvalidArgument.With("nil handler")
	}
	if r.Path == "" || r.Path[0] != '/' {
		return nil, errs.ErrInvalidArgument.With("path must begin with /")
	}
	if r.Method == "" || !httpguts.ValidHeaderFieldName(r.Method) {
		return nil, errs.ErrInvalidArgument.With("invalid method " + strconv.Quote(r.Method))
	}
	if r.Method == "CONNECT" {
		return nil, errs.ErrNotSupported.With("CONNECT method")
	}
	if r.Timeout < 0 {
		return nil, errs.ErrInvalidArgument.With("negative timeout")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	p := &PreparedRequest{
		Request:       r,
		ID:            uuid.NewString(),
		ContentLength: -1,
		ctx:           ctx,
		handler:       handler,
	}

	switch b := r.Body.(type) {
	case nil:
	case []byte:
		if len(b) > 0 {
			p.bodyBytes = b
		}
	case string:
		if len(b) > 0 {
			p.bodyBytes = []byte(b)
		}
	case BodyStream:
		p.stream = b
		p.Streaming = true
	default:
		return nil, errs.ErrInvalidArgument.With(fmt.Sprintf("unsupported body type: %T", r.Body))
	}

	hasBody := p.bodyBytes != nil || p.stream != nil
	p.Reset = hasBody && (r.Method == "GET" || r.Method == "HEAD")
	if r.Idempotent != nil {
		p.Idempotent = *r.Idempotent
	} else {
		p.Idempotent = r.Method == "GET" || r.Method == "HEAD"
	}

	if err := p.buildHeader(hostname); err != nil {
		return nil, err
	}
	p.deriveServerName(hostname)

	if p.stream != nil {
		if err := p.stream.Subscribe(ErrorTopic, func(err error) { p.Error(err) }); err != nil {
			return nil, errs.ErrInvalidArgument.With("body stream error subscription").Wrap(err)
		}
	}
	if r.Signal != nil {
		fn := func() { p.Error(errs.ErrRequestAborted) }
		if err := r.Signal.Subscribe(AbortTopic, fn); err != nil {
			return nil, errs.ErrInvalidArgument.With("abort subscription").Wrap(err)
		}
		p.abortFn = fn
	}
	if r.Timeout > 0 {
		p.timer = time.AfterFunc(r.Timeout, func() { p.Error(errs.ErrRequestTimeout) })
	}
	if ctx.Done() != nil {
		p.stop = make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				p.Error(errs.ErrRequestAborted.With("context done").Wrap(ctx.Err()))
			case <-p.stop:
			}
		}()
	}
	return p, nil
}

// buildHeader synthesizes the immutable header block:
//
//	GET /path HTTP/1.1\r\n
//	host: example.com\r\n
//	connection: keep-alive\r\n
//
// Supplied headers go out verbatim in order, except content-length,
// which is intercepted into the ContentLength field and written by the
// pipeline together with the terminating blank line.
func (p *PreparedRequest) buildHeader(hostname string) error {
	var b bytes.Buffer
	b.WriteString(p.Method)
	b.WriteByte(' ')
	b.WriteString(p.Path)
	b.WriteString(" HTTP/1.1\r\n")

	hostSupplied := false
	for _, h := range p.Request.Header {
		if strings.EqualFold(h.Name, "content-length") {
			cl, err := strconv.ParseInt(strings.TrimSpace(h.Value), 10, 64)
			if err != nil || cl < 0 {
				return errs.ErrInvalidArgument.With("invalid content-length " + strconv.Quote(h.Value))
			}
			p.ContentLength = cl
			continue
		}
		if !httpguts.ValidHeaderFieldName(h.Name) {
			return errs.ErrInvalidArgument.With("invalid header name " + strconv.Quote(h.Name))
		}
		if !httpguts.ValidHeaderFieldValue(h.Value) {
			return errs.ErrInvalidArgument.With("invalid value for header " + strconv.Quote(h.Name))
		}
		if strings.EqualFold(h.Name, "host") {
			hostSupplied = true
		}
		b.WriteString(h.Name)
		b.WriteString(": ")
		b.WriteString(h.Value)
		b.WriteString("\r\n")
	}
	if !hostSupplied {
		b.WriteString("host: ")
		b.WriteString(hostname)
		b.WriteString("\r\n")
	}
	b.WriteString("connection: keep-alive\r\n")
	p.RawHeader = b.Bytes()
	return nil
}

// deriveServerName resolves the name used for certificate-hostname
// checks: explicit override, then a supplied Host header, then the
// connection's target. Literal IP addresses clear it, they carry no
// name to verify.
func (p *PreparedRequest) deriveServerName(hostname string) {
	name := p.Request.ServerName
	if name == "" {
		if v, ok := p.Request.Header.Get("host"); ok {
			name = v
		} else {
			name = hostname
		}
	}
	if host, _, err := net.SplitHostPort(name); err == nil {
		name = host
	}
	if net.ParseIP(strings.Trim(name, "[]")) != nil {
		name = ""
	}
	p.ServerName = name
}

// BodyBuffer returns the normalized buffer body, nil when the request
// has none or streams it.
func (p *PreparedRequest) BodyBuffer() []byte { return p.bodyBytes }

// Stream returns the push-style body, nil unless Streaming.
func (p *PreparedRequest) Stream() BodyStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stream
}

// Finished reports whether the start handler already fired.
func (p *PreparedRequest) Finished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finished
}

// Headers delivers response headers to the caller. Informational
// responses (status < 200) are ignored and leave the timeout armed.
// The handler's returned Sink, if any, becomes the delivery sink for
// the response body.
func (p *PreparedRequest) Headers(status int, header Fields, resume func()) {
	p.mu.Lock()
	if status < 200 || p.finished {
		p.mu.Unlock()
		return
	}
	p.finished = true
	p.stopTimerLocked()
	p.delivering = true
	p.mu.Unlock()

	start := &ResponseStart{
		StatusCode: status,
		Header:     header.Fold(),
		Opaque:     p.Opaque,
		Resume:     resume,
	}
	sink := p.handler(p.ctx, nil, start)

	p.mu.Lock()
	p.delivering = false
	if !p.done {
		p.sink = sink
	}
	pending := p.pendingErr
	p.pendingErr = nil
	p.mu.Unlock()
	if pending != nil && sink != nil {
		sink(p.ctx, pending, nil)
	}
}

// PushBody forwards a response chunk to the delivery sink. Without a
// sink there is no listener and the chunk is dropped.
func (p *PreparedRequest) PushBody(chunk []byte) {
	p.mu.Lock()
	sink := p.sink
	done := p.done
	p.mu.Unlock()
	if done || sink == nil {
		return
	}
	sink(p.ctx, nil, chunk)
}

// Complete terminates a successful exchange. Trailers are accepted
// but not interpreted; whatever meaning they carry belongs to the
// caller. A streaming body the producer never finished is destroyed:
// its bytes have no exchange to belong to anymore, and destroying it
// also stops the pipeline's body copy.
func (p *PreparedRequest) Complete(trailers Fields) {
	_ = trailers
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return
	}
	p.done = true
	stream := p.stream
	p.stream = nil
	sink := p.sink
	p.sink = nil
	p.unsubscribeLocked()
	p.stopWatchLocked()
	p.mu.Unlock()
	if stream != nil {
		stream.CloseWithError(errs.ErrTransport.With("request body outlived its exchange"))
	}
	if sink != nil {
		sink(p.ctx, nil, nil)
	}
}

// Error fails the request. Safe to call from any state and from any
// goroutine; only the first call is observed. A still-live streaming
// body is destroyed with the same error. The error reaches the start
// handler when headers never arrived, the delivery sink otherwise.
func (p *PreparedRequest) Error(err error) {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return
	}
	p.done = true
	stream := p.stream
	p.stream = nil
	sink := p.sink
	p.sink = nil
	wasFinished := p.finished
	p.finished = true
	p.stopTimerLocked()
	p.unsubscribeLocked()
	p.stopWatchLocked()
	if p.delivering && sink == nil {
		// the start handler is mid-flight on another goroutine; let
		// Headers hand the error to whatever sink it returns
		p.pendingErr = err
	}
	p.mu.Unlock()

	if stream != nil {
		stream.CloseWithError(err)
	}
	if sink != nil {
		sink(p.ctx, err, nil)
		return
	}
	if !wasFinished {
		p.handler(p.ctx, err, nil)
	}
}

func (p *PreparedRequest) stopWatchLocked() {
	if p.stop != nil {
		close(p.stop)
		p.stop = nil
	}
}

func (p *PreparedRequest) stopTimerLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *PreparedRequest) unsubscribeLocked() {
	if p.abortFn == nil {
		return
	}
	fn := p.abortFn
	p.abortFn = nil
	if u, ok := p.Request.Signal.(Unsubscribable); ok {
		// EventBus holds its own lock while publishing, so an abort
		// handler can't unsubscribe itself synchronously
		go u.Unsubscribe(AbortTopic, fn)
	}
}

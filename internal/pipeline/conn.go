// Package pipeline serializes request dispatch onto one persistent
// transport and routes parsed response events back to the request
// that is in flight.
package pipeline

import (
	"bytes"
	"io"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	errs "github.com/crlx/h1pipe/internal/errors"
	"github.com/crlx/h1pipe/internal/model"
	"github.com/crlx/h1pipe/internal/nettools"
	"github.com/crlx/h1pipe/internal/parser"
)

type State int32

const (
	Connecting State = iota
	Ready
	Busy
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	case Busy:
		return "busy"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// readWakeInterval bounds how long the read loop parks in a poll
// before re-checking for shutdown.
const readWakeInterval = 50 * time.Millisecond

type Option func(*Conn)

func WithLogger(l *zap.Logger) Option {
	return func(c *Conn) { c.logger = l }
}

// Conn owns a connected transport, a FIFO backlog of prepared
// requests and the single current-exchange slot. Requests are written
// in submission order and responses matched back in the same order;
// at most one exchange is in flight at a time. Generalizing the slot
// into an ordered window of N exchanges is the designated extension
// point for pipelining, nothing in the event routing depends on the
// window being 1 except the slot itself.
//
// The slot is written only at dispatch and cleared only at message
// completion, failure or close.
type Conn struct {
	transport io.ReadWriteCloser
	logger    *zap.Logger
	parser    *parser.Parser

	mu         sync.Mutex
	state      State
	pending    []*model.PreparedRequest
	current    *model.PreparedRequest
	resetAfter bool // current exchange poisons reuse of this connection

	closeOnce sync.Once
	closed    chan struct{}
}

// New takes ownership of a connected transport and starts the read
// loop. The transport must not be used by anyone else afterwards.
func New(transport io.ReadWriteCloser, opts ...Option) *Conn {
	c := &Conn{
		transport: transport,
		logger:    zap.NewNop(),
		state:     Connecting,
		closed:    make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.parser = parser.New(events{c})
	c.state = Ready
	go c.readLoop()
	return c
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once the connection reached its terminal state.
func (c *Conn) Done() <-chan struct{} { return c.closed }

// Submit enqueues a prepared request for dispatch. All outcomes,
// including submission onto a closed connection, are delivered
// through the request's lifecycle, never returned here.
func (c *Conn) Submit(st *model.PreparedRequest) {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		st.Error(errs.ErrConnectionClosed.With("submitted after close"))
		return
	}
	c.pending = append(c.pending, st)
	c.mu.Unlock()
	c.dispatch()
}

// Close tears the connection down. The in-flight exchange and every
// still-queued request fail with a connection-closed error; none are
// silently dropped.
func (c *Conn) Close() error {
	c.close(errs.ErrConnectionClosed)
	return nil
}

func (c *Conn) dispatch() {
	c.mu.Lock()
	if c.state != Ready || c.current != nil || len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	st := c.pending[0]
	c.pending = c.pending[1:]
	c.current = st
	c.state = Busy
	c.resetAfter = st.Reset
	c.mu.Unlock()

	c.logger.Debug("dispatch",
		zap.String("request", st.ID),
		zap.String("method", st.Method),
		zap.String("path", st.Path))
	if err := c.writeRequest(st); err != nil {
		c.close(errs.ErrTransport.With("request write").Wrap(err))
	}
}

// writeRequest puts the synthesized header block, the deferred
// content-length, the blank line and a buffer body on the wire as a
// single write. Streaming bodies are copied behind it as the producer
// pushes data.
func (c *Conn) writeRequest(st *model.PreparedRequest) error {
	var b bytes.Buffer
	b.Grow(len(st.RawHeader) + len(st.BodyBuffer()) + 64)
	b.Write(st.RawHeader)
	if st.ContentLength >= 0 {
		b.WriteString("content-length: ")
		b.WriteString(strconv.FormatInt(st.ContentLength, 10))
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	if body := st.BodyBuffer(); body != nil {
		b.Write(body)
	}
	if _, err := c.transport.Write(b.Bytes()); err != nil {
		return err
	}
	if stream := st.Stream(); stream != nil {
		go c.copyStream(st, stream)
	}
	return nil
}

func (c *Conn) copyStream(st *model.PreparedRequest, stream model.BodyStream) {
	if _, err := io.Copy(c.transport, stream); err != nil {
		// a half-written body leaves the channel framing unknown
		c.close(errs.ErrTransport.With("stream body").Wrap(err))
	}
}

func (c *Conn) readLoop() {
	rc := nettools.SysConn(c.transport)
	buf := make([]byte, 32<<10)
	for {
		if c.State() == Closed {
			return
		}
		if rc != nil && !nettools.WaitReadable(rc, readWakeInterval) {
			continue
		}
		n, err := c.transport.Read(buf)
		if n > 0 {
			if perr := c.parser.Feed(buf[:n]); perr != nil {
				c.close(perr)
				return
			}
		}
		if err != nil {
			if err == io.EOF {
				c.close(errs.ErrConnectionClosed.With("closed by peer"))
			} else {
				c.close(errs.ErrTransport.With("read").Wrap(err))
			}
			return
		}
	}
}

// close is the single funnel into the Closed state. cause fails the
// in-flight exchange; queued requests always fail with a
// connection-closed error.
func (c *Conn) close(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = Closed
		cur := c.current
		c.current = nil
		pending := c.pending
		c.pending = nil
		c.mu.Unlock()

		c.transport.Close()
		if cur != nil {
			cur.Error(cause)
		}
		for _, st := range pending {
			st.Error(errs.ErrConnectionClosed.With("closed with request still queued"))
		}
		c.logger.Debug("connection closed", zap.NamedError("cause", cause))
		close(c.closed)
	})
}

// events routes parser output to the current exchange. Response bytes
// that cannot belong to it are a protocol violation and kill the
// connection rather than reassigning state. The callbacks run only on
// the read goroutine, so the parser itself needs no locking.
type events struct{ c *Conn }

func (e events) OnHeadersComplete(status int, header model.Fields) bool {
	c := e.c
	c.mu.Lock()
	st := c.current
	c.mu.Unlock()
	if st == nil {
		c.close(errs.ErrProtocol.With("response headers with no request in flight"))
		return false
	}
	c.logger.Debug("response headers",
		zap.String("request", st.ID),
		zap.Int("status", status))
	st.Headers(status, header, func() {
		c.logger.Debug("resume requested", zap.String("request", st.ID))
	})
	return st.Method == "HEAD"
}

func (e events) OnBodyChunk(chunk []byte) {
	c := e.c
	c.mu.Lock()
	st := c.current
	c.mu.Unlock()
	if st == nil {
		c.close(errs.ErrProtocol.With("response body with no request in flight"))
		return
	}
	st.PushBody(chunk)
}

func (e events) OnMessageComplete(trailer model.Fields) {
	c := e.c
	c.mu.Lock()
	st := c.current
	c.current = nil
	reset := c.resetAfter
	c.resetAfter = false
	if c.state == Busy {
		c.state = Ready
	}
	c.mu.Unlock()
	if st == nil {
		c.close(errs.ErrProtocol.With("message complete with no request in flight"))
		return
	}
	st.Complete(trailer)
	c.logger.Debug("exchange complete", zap.String("request", st.ID))
	if reset {
		// body on GET/HEAD may have desynchronized the response
		// stream on some servers, the channel cannot be trusted
		c.close(errs.ErrConnectionClosed.With("connection not reusable after this exchange"))
		return
	}
	c.dispatch()
}

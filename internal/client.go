package internal

import (
	"context"
	"io"
	"net"
	"net/url"

	"go.uber.org/zap"

	errs "github.com/crlx/h1pipe/internal/errors"
	"github.com/crlx/h1pipe/internal/model"
	"github.com/crlx/h1pipe/internal/pool"
)

var defaultPorts = map[string]string{
	"http": "80", "https": "443",
}

// Client binds request submission to one origin. It dials lazily,
// keeps a single pipelined connection per origin through its pool
// group and replaces it when it closes.
type Client struct {
	scheme   string
	addr     string // host:port
	hostname string

	dialer Dialer
	logger *zap.Logger
	conns  *pool.Group
}

type Option func(*Client)

func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient parses an origin of the form http[s]://host[:port]. Paths
// beyond the origin are rejected; requests carry their own.
func NewClient(origin string, opts ...Option) (*Client, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return nil, errs.ErrInvalidArgument.With("origin").Wrap(err)
	}
	port, ok := defaultPorts[u.Scheme]
	if !ok {
		return nil, errs.ErrInvalidArgument.With("unsupported origin scheme " + u.Scheme)
	}
	if u.Host == "" || (u.Path != "" && u.Path != "/") {
		return nil, errs.ErrInvalidArgument.With("origin must be scheme://host[:port]")
	}
	if u.Port() != "" {
		port = u.Port()
	}
	c := &Client{
		scheme:   u.Scheme,
		addr:     net.JoinHostPort(u.Hostname(), port),
		hostname: u.Hostname(),
		dialer:   &CoreDialer{},
		logger:   zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	c.conns = pool.NewGroup(c.logger)
	return c, nil
}

// Submit validates the descriptor and enqueues it on the origin's
// connection. Validation failures return synchronously; every later
// outcome reaches the handler or the sink it returns, exactly once.
func (c *Client) Submit(ctx context.Context, req *model.Request, handler model.Handler) error {
	st, err := req.Prepare(ctx, c.hostname, handler)
	if err != nil {
		return err
	}
	conn, err := c.conns.Get(ctx, c.addr, func(ctx context.Context) (io.ReadWriteCloser, error) {
		return c.dialer.Dial(ctx, Target{
			Addr:       c.addr,
			TLS:        c.scheme == "https",
			ServerName: st.ServerName,
		})
	})
	if err != nil {
		st.Error(errs.ErrTransport.With("dial " + c.addr).Wrap(err))
		return nil
	}
	conn.Submit(st)
	return nil
}

// Response is the aggregated result of [Client.Do].
type Response struct {
	StatusCode int
	Header     map[string][]string
	Body       []byte
}

// Do submits req and blocks until the exchange terminates, collecting
// the body. Cancelling ctx fails the exchange, it does not merely
// abandon it. Streaming consumers use Submit directly.
func (c *Client) Do(ctx context.Context, req *model.Request) (*Response, error) {
	type outcome struct {
		resp *Response
		err  error
	}
	ch := make(chan outcome, 1)
	resp := &Response{}
	handler := func(ctx context.Context, err error, start *model.ResponseStart) model.Sink {
		if err != nil {
			ch <- outcome{nil, err}
			return nil
		}
		resp.StatusCode = start.StatusCode
		resp.Header = start.Header
		return func(ctx context.Context, err error, chunk []byte) {
			switch {
			case err != nil:
				ch <- outcome{nil, err}
			case chunk == nil:
				ch <- outcome{resp, nil}
			default:
				resp.Body = append(resp.Body, chunk...)
			}
		}
	}
	if err := c.Submit(ctx, req, handler); err != nil {
		return nil, err
	}
	select {
	case o := <-ch:
		return o.resp, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close terminates the client's connections; queued and in-flight
// requests fail with a connection-closed error.
func (c *Client) Close() error {
	return c.conns.Close()
}

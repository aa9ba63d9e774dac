package internal_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	h1 "github.com/crlx/h1pipe/internal"
	errs "github.com/crlx/h1pipe/internal/errors"
	"github.com/crlx/h1pipe/internal/model"
)

// pipeDialer hands out the client end of a net.Pipe and runs script
// against the server end for every connection it produces.
type pipeDialer struct {
	script  func(server net.Conn)
	targets []h1.Target
}

func (d *pipeDialer) Dial(_ context.Context, t h1.Target) (io.ReadWriteCloser, error) {
	d.targets = append(d.targets, t)
	client, server := net.Pipe()
	go d.script(server)
	return client, nil
}

// respond reads one request off the wire and writes a canned response.
func respond(response string) func(net.Conn) {
	return func(server net.Conn) {
		buf := make([]byte, 4096)
		var got []byte
		for !bytes.Contains(got, []byte("\r\n\r\n")) {
			server.SetReadDeadline(time.Now().Add(time.Second))
			n, err := server.Read(buf)
			if err != nil {
				return
			}
			got = append(got, buf[:n]...)
		}
		server.Write([]byte(response))
	}
}

func TestDoRoundTrip(t *testing.T) {
	d := &pipeDialer{script: respond("HTTP/1.1 200 OK\r\ncontent-type: text/plain\r\ncontent-length: 5\r\n\r\nhello")}
	c, err := h1.NewClient("http://example.com", h1.WithDialer(d))
	require.NoError(t, err)
	defer c.Close()

	resp, err := c.Do(context.Background(), &model.Request{Method: "GET", Path: "/"})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, []string{"text/plain"}, resp.Header["content-type"])
	assert.Equal(t, "hello", string(resp.Body))

	require.Len(t, d.targets, 1)
	assert.Equal(t, "example.com:80", d.targets[0].Addr)
	assert.False(t, d.targets[0].TLS)
	assert.Equal(t, "example.com", d.targets[0].ServerName)
}

func TestHTTPSTarget(t *testing.T) {
	d := &pipeDialer{script: respond("HTTP/1.1 204 No Content\r\n\r\n")}
	c, err := h1.NewClient("https://example.com:8443", h1.WithDialer(d))
	require.NoError(t, err)
	defer c.Close()

	resp, err := c.Do(context.Background(), &model.Request{Method: "GET", Path: "/"})
	require.NoError(t, err)
	assert.Equal(t, 204, resp.StatusCode)

	require.Len(t, d.targets, 1)
	assert.Equal(t, "example.com:8443", d.targets[0].Addr)
	assert.True(t, d.targets[0].TLS)
}

func TestNewClientRejectsBadOrigins(t *testing.T) {
	for _, origin := range []string{
		"ftp://example.com",
		"http://",
		"http://example.com/path",
	} {
		_, err := h1.NewClient(origin)
		assert.ErrorIs(t, err, errs.ErrInvalidArgument, origin)
	}
}

func TestSubmitReturnsValidationErrors(t *testing.T) {
	d := &pipeDialer{script: func(server net.Conn) {}}
	c, err := h1.NewClient("http://example.com", h1.WithDialer(d))
	require.NoError(t, err)
	defer c.Close()

	err = c.Submit(context.Background(), &model.Request{Method: "GET", Path: "no-slash"},
		func(context.Context, error, *model.ResponseStart) model.Sink { return nil })
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
	assert.Empty(t, d.targets, "invalid request must not dial")
}

func TestDialFailureReachesHandler(t *testing.T) {
	c, err := h1.NewClient("http://example.com", h1.WithDialer(failDialer{}))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Do(context.Background(), &model.Request{Method: "GET", Path: "/"})
	assert.ErrorIs(t, err, errs.ErrTransport)
}

type failDialer struct{}

func (failDialer) Dial(context.Context, h1.Target) (io.ReadWriteCloser, error) {
	return nil, io.ErrClosedPipe
}

func TestDoHonorsContextCancellation(t *testing.T) {
	d := &pipeDialer{script: func(server net.Conn) {
		// swallow the request, never answer
		buf := make([]byte, 4096)
		for {
			server.SetReadDeadline(time.Now().Add(time.Second))
			if _, err := server.Read(buf); err != nil {
				return
			}
		}
	}}
	c, err := h1.NewClient("http://example.com", h1.WithDialer(d))
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err = c.Do(ctx, &model.Request{Method: "GET", Path: "/"})
	// either the abort raced through the handler or Do saw ctx first;
	// both carry the cancellation
	assert.ErrorIs(t, err, context.Canceled)
	if errors.Is(err, errs.ErrRequestAborted) {
		t.Log("cancellation delivered through the request lifecycle")
	}
}

func TestConnectionReplacedAfterClose(t *testing.T) {
	d := &pipeDialer{script: func(server net.Conn) {
		respond("HTTP/1.1 200 OK\r\ncontent-length: 2\r\n\r\nok")(server)
		server.Close()
	}}
	c, err := h1.NewClient("http://example.com", h1.WithDialer(d))
	require.NoError(t, err)
	defer c.Close()

	for i := 0; i < 2; i++ {
		resp, err := c.Do(context.Background(), &model.Request{Method: "GET", Path: "/"})
		require.NoError(t, err)
		assert.Equal(t, "ok", string(resp.Body))
		// let the pool observe the peer's close before the next attempt
		time.Sleep(20 * time.Millisecond)
	}
	assert.Len(t, d.targets, 2)
}

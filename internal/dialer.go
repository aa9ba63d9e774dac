package internal

import (
	"context"
	"crypto/tls"
	"io"
	"net"
)

// Target describes where a connection should be established and how
// its certificate should be verified.
type Target struct {
	Addr string // host:port
	TLS  bool

	// ServerName is the certificate-verification name derived at
	// prepare time; empty for literal IP addresses.
	ServerName string
}

// Dialers produce the connected transport a pipeline takes ownership
// of. They hold connection configs, never connection state, so they
// can be swapped on a Client without ceremony.
type Dialer interface {
	Dial(ctx context.Context, t Target) (io.ReadWriteCloser, error)
}

// CoreDialer is the default [Dialer]: plain TCP, with a client TLS
// handshake on top for https targets.
type CoreDialer struct {
	TLSConfig *tls.Config
}

var zeroDialer net.Dialer

func (d *CoreDialer) Dial(ctx context.Context, t Target) (io.ReadWriteCloser, error) {
	conn, err := zeroDialer.DialContext(ctx, "tcp", t.Addr)
	if err != nil {
		return nil, err
	}
	if !t.TLS {
		return conn, nil
	}
	config := d.TLSConfig.Clone()
	if config == nil {
		config = &tls.Config{}
	}
	if config.ServerName == "" {
		config.ServerName = t.ServerName
	}
	tc := tls.Client(conn, config)
	if err := tc.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return tc, nil
}

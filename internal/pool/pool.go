// Package pool keeps one live pipeline per origin, replacing
// connections that reached their terminal state. Anything smarter
// (idle caps, per-host limits) belongs to a layer above the
// single-connection core.
package pool

import (
	"context"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/crlx/h1pipe/internal/pipeline"
)

type Dial func(ctx context.Context) (io.ReadWriteCloser, error)

type Group struct {
	sync.RWMutex
	conns map[string]*pipeline.Conn

	logger *zap.Logger
}

func NewGroup(logger *zap.Logger) *Group {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Group{
		conns:  map[string]*pipeline.Conn{},
		logger: logger,
	}
}

// Get returns the live pipeline for key, dialing a fresh transport
// when none exists or the previous one closed.
func (g *Group) Get(ctx context.Context, key string, dial Dial) (*pipeline.Conn, error) {
	g.RLock()
	c, ok := g.conns[key]
	g.RUnlock()
	if ok && c.State() != pipeline.Closed {
		return c, nil
	}

	transport, err := dial(ctx)
	if err != nil {
		return nil, err
	}

	g.Lock()
	if c, ok = g.conns[key]; ok && c.State() != pipeline.Closed {
		// lost the race, keep the winner's connection
		g.Unlock()
		transport.Close()
		return c, nil
	}
	c = pipeline.New(transport, pipeline.WithLogger(g.logger.With(zap.String("origin", key))))
	g.conns[key] = c
	g.Unlock()
	return c, nil
}

// Close tears down every tracked pipeline. Queued and in-flight
// requests on each fail with a connection-closed error.
func (g *Group) Close() error {
	g.Lock()
	conns := g.conns
	g.conns = map[string]*pipeline.Conn{}
	g.Unlock()
	for _, c := range conns {
		c.Close()
	}
	return nil
}

// Package nettools exposes fd-level read readiness for transports
// that surface a raw descriptor. The pipeline read loop uses it to
// wake periodically instead of parking inside a read syscall forever.
package nettools

import (
	"io"
	"net"
	"syscall"
)

// SysConn unwraps a transport down to its raw descriptor, or nil when
// the transport cannot expose one (pipes, in-memory test conns).
func SysConn(c io.ReadWriteCloser) syscall.RawConn {
	if t, ok := c.(interface{ NetConn() net.Conn }); ok {
		// *tls.Conn and equivalents
		if rc := SysConn(t.NetConn()); rc != nil {
			return rc
		}
	}
	if sc, ok := c.(syscall.Conn); ok {
		if rc, err := sc.SyscallConn(); err == nil {
			return rc
		}
	}
	return nil
}

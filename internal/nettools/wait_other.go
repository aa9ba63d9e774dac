//go:build !darwin && !linux
// +build !darwin,!linux

package nettools

import (
	"syscall"
	"time"
)

// WaitReadable degrades to an immediate go-ahead on platforms without
// a poll binding; the read loop falls back to blocking reads.
func WaitReadable(syscall.RawConn, time.Duration) bool {
	return true
}

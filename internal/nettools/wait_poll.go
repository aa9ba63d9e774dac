//go:build darwin || linux
// +build darwin linux

package nettools

import (
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// WaitReadable blocks until the descriptor has pending bytes, the
// peer hung up, or timeout elapses. It reports true whenever a read
// should be attempted; syscall hiccups also report true so the caller
// observes the real error from the read itself.
func WaitReadable(rc syscall.RawConn, timeout time.Duration) (ready bool) {
	if err := rc.Control(func(fd uintptr) {
		pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		for {
			n, err := unix.Poll(pfd, int(timeout.Milliseconds()))
			if err == unix.EINTR {
				continue
			}
			if err != nil {
				ready = true
				return
			}
			ready = n > 0 && pfd[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0
			return
		}
	}); err != nil {
		return true
	}
	return ready
}

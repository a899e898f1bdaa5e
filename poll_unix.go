//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package msgsock

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// pollSet is the descriptor set of one readiness wait, rebuilt every iteration.
type pollSet struct {
	fds []unix.PollFd
}

func (p *pollSet) reset() {
	p.fds = p.fds[:0]
}

// add watches fd for input and returns its index in the set.
func (p *pollSet) add(fd int) int {
	p.fds = append(p.fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	return len(p.fds) - 1
}

// ready reports whether the descriptor at index i has input, a hangup or an error pending.
func (p *pollSet) ready(i int) bool {
	if i < 0 || i >= len(p.fds) {
		return false
	}
	return p.fds[i].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0
}

// wait blocks until a descriptor is ready or timeout elapses, returning the ready count.
func (p *pollSet) wait(timeout time.Duration) (int, error) {
	for {
		n, err := unix.Poll(p.fds, int(timeout/time.Millisecond))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, errors.Wrap(err, "poll")
		}
		return n, nil
	}
}

//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package msgsock

import (
	"net"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// writeNonBlocking issues one send(2) with MSG_DONTWAIT on the socket behind c.
func writeNonBlocking(c net.Conn, frame []byte) (int, error) {
	sc, ok := c.(syscall.Conn)
	if !ok {
		return 0, errors.Wrap(ErrInvalidArgument, "connection has no socket")
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return 0, err
	}

	var (
		n       int
		sendErr error
	)
	err = rc.Write(func(fd uintptr) bool {
		n, sendErr = unix.SendmsgN(int(fd), frame, nil, nil, unix.MSG_DONTWAIT)
		return true
	})
	if err != nil {
		return 0, err
	}
	if sendErr != nil {
		return 0, sendErr
	}
	return n, nil
}

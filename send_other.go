//go:build !(linux || darwin || dragonfly || freebsd || netbsd || openbsd)

package msgsock

import (
	"net"
	"time"

	"github.com/pkg/errors"
)

// writeNonBlocking approximates a non-blocking send with a one millisecond
// write deadline where MSG_DONTWAIT is unavailable.
func writeNonBlocking(c net.Conn, frame []byte) (int, error) {
	if err := c.SetWriteDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return 0, errors.Wrap(err, "set write deadline")
	}
	defer c.SetWriteDeadline(time.Time{})
	return c.Write(frame)
}

package msgsock

import (
	"net"

	"github.com/pkg/errors"
)

// sendFrame frames payload and transmits it with a single call.
// Non-blocking sends return a temporary error (see IsTemporary) instead of
// waiting for buffer space. A short write is reported as ErrIncompleteWrite
// and never retried.
func sendFrame(c net.Conn, payload []byte, nonBlocking bool) error {
	frame, err := Encode(payload)
	if err != nil {
		return err
	}

	var n int
	if nonBlocking {
		n, err = writeNonBlocking(c, frame)
	} else {
		n, err = c.Write(frame)
	}
	if err != nil {
		if n > 0 && n < len(frame) {
			return errors.Wrapf(ErrIncompleteWrite, "%d of %d bytes sent: %v", n, len(frame), err)
		}
		return errors.Wrap(err, "send message")
	}
	if n != len(frame) {
		return errors.Wrapf(ErrIncompleteWrite, "%d of %d bytes sent", n, len(frame))
	}
	return nil
}

func sendErrorReason(err error) string {
	switch {
	case errors.Is(err, ErrIncompleteWrite):
		return "incomplete"
	case errors.Is(err, ErrPayloadTooLarge):
		return "too_large"
	case errors.Is(err, ErrNotConnected):
		return "not_connected"
	case IsTemporary(err):
		return "would_block"
	default:
		return "os_error"
	}
}

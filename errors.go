package msgsock

import (
	"net"
	"os"
	"syscall"

	"github.com/pkg/errors"
)

// Protocol errors. Always fatal to the connection that produced them.
var (
	// ErrInvalidHeader is returned when a frame header does not start with two mark bytes.
	ErrInvalidHeader = errors.New("invalid message header mark")
	// ErrPayloadTooLarge is returned when a payload does not fit the 16-bit length field.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// Connection errors.
var (
	// ErrPeerClosed is returned when the remote side closed the stream.
	ErrPeerClosed = errors.New("peer closed connection")
	// ErrConnectionClosed is returned when operating on a connection that was shut down.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrIncompleteWrite is returned when a frame was only partially transmitted.
	// The remainder is not resent.
	ErrIncompleteWrite = errors.New("incomplete write")
)

// Server and client state errors.
var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrAlreadyListening = errors.New("already listening for messages")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrInvalidHandler   = errors.New("invalid message handler")
	ErrClientClosed     = errors.New("client closed")

	// ErrTerminated is returned by Client.Receive when the session was terminated
	// while waiting for data. It is not an I/O failure.
	ErrTerminated = errors.New("receive terminated")

	// ErrPollUnsupported is returned on platforms without a poll(2) implementation.
	ErrPollUnsupported = errors.New("readiness polling is not supported on this platform")
)

// errReadTimeout marks a read attempt that ran out its deadline without data.
var errReadTimeout = errors.New("read timeout")

// IsTemporary reports whether err is a would-block or timeout condition
// that the caller may retry later.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, errReadTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

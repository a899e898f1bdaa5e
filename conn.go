// Package msgsock implements a length-prefixed message protocol over TCP.
// A Server multiplexes many client connections with a readiness-polling loop
// and reassembles messages across partial reads; a Client talks to a single
// server with blocking sends and timed, terminable receives.
package msgsock

import (
	"io"
	"net"
	"sync/atomic"
	"syscall"

	"github.com/pkg/errors"
)

// Socket identifies a connection by its OS descriptor. -1 means unbound or closed.
type Socket int

// InvalidSocket is the Socket of a connection that is not open.
const InvalidSocket Socket = -1

// State is the receive state of a connection.
type State int32

// Receive states. Non-negative states are live.
const (
	StateFailed         State = -2
	StateClosed         State = -1
	StateAwaitingHeader State = 0
	StateAwaitingBody   State = 1
)

func (s State) String() string {
	switch s {
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	case StateAwaitingHeader:
		return "awaiting-header"
	case StateAwaitingBody:
		return "awaiting-body"
	default:
		return "unknown"
	}
}

// Conn is one accepted or outbound socket and its receive progress.
//
// The receive fields are driven by a single goroutine at a time: the server
// loop for accepted connections, the Receive caller (under the client's
// receive lock) for the client. Only state is read from other goroutines.
type Conn struct {
	raw  net.Conn
	sock Socket

	state atomic.Int32

	header  [HeaderSize]byte
	headerN int
	body    []byte
	bodyN   int

	// selected is set by the readiness wait for the current loop iteration.
	selected bool
	pollIdx  int

	lastErr error
}

// newConn wraps raw in a Conn awaiting its first header.
func newConn(raw net.Conn) *Conn {
	c := &Conn{raw: raw, sock: socketOf(raw), pollIdx: -1}
	c.state.Store(int32(StateAwaitingHeader))
	return c
}

// socketOf extracts the OS descriptor behind c, or InvalidSocket when c has none.
func socketOf(c any) Socket {
	sc, ok := c.(syscall.Conn)
	if !ok {
		return InvalidSocket
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return InvalidSocket
	}
	sock := InvalidSocket
	if err := rc.Control(func(fd uintptr) { sock = Socket(fd) }); err != nil {
		return InvalidSocket
	}
	return sock
}

// Socket returns the connection's descriptor.
func (c *Conn) Socket() Socket {
	return c.sock
}

// State returns the current receive state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

// Err returns the most recent error observed on the connection.
func (c *Conn) Err() error {
	return c.lastErr
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

func (c *Conn) live() bool {
	return c.State() >= StateAwaitingHeader
}

func (c *Conn) setState(s State) {
	c.state.Store(int32(s))
}

// fail records err, drops any partial message and marks the connection failed.
func (c *Conn) fail(err error) error {
	c.lastErr = err
	c.release()
	for {
		s := c.state.Load()
		if State(s) < StateAwaitingHeader || c.state.CompareAndSwap(s, int32(StateFailed)) {
			return err
		}
	}
}

// release drops any partially received message.
func (c *Conn) release() {
	c.body = nil
	c.bodyN = 0
	c.headerN = 0
}

// readStep advances the receive state machine by exactly one read.
//
// It returns a payload when a message completes; ownership of the slice passes
// to the caller. A nil payload with a nil error means progress was made but
// the message is not complete yet. errReadTimeout reports an expired read
// deadline and leaves the state untouched. Every other error leaves the
// connection in StateFailed.
func (c *Conn) readStep() ([]byte, error) {
	switch c.State() {
	case StateAwaitingHeader:
		return c.readHeader()
	case StateAwaitingBody:
		return c.readBody()
	case StateFailed:
		if c.lastErr != nil {
			return nil, c.lastErr
		}
		return nil, ErrConnectionClosed
	default:
		return nil, ErrConnectionClosed
	}
}

func (c *Conn) readHeader() ([]byte, error) {
	n, err := c.raw.Read(c.header[c.headerN:])
	c.headerN += n
	if c.headerN < HeaderSize {
		if err != nil {
			return nil, c.readError(err)
		}
		return nil, nil
	}

	size, derr := DecodeHeader(c.header[:])
	c.headerN = 0
	if derr != nil {
		return nil, c.fail(derr)
	}
	if size == 0 {
		return []byte{}, nil
	}

	c.body = make([]byte, size)
	c.bodyN = 0
	c.setState(StateAwaitingBody)
	return nil, nil
}

func (c *Conn) readBody() ([]byte, error) {
	n, err := c.raw.Read(c.body[c.bodyN:])
	c.bodyN += n
	if c.bodyN == len(c.body) {
		msg := c.body
		c.body = nil
		c.bodyN = 0
		c.setState(StateAwaitingHeader)
		return msg, nil
	}
	if err != nil {
		return nil, c.readError(err)
	}
	return nil, nil
}

// readError classifies a read error: deadline expiry is benign, everything else fails the connection.
func (c *Conn) readError(err error) error {
	if isTimeout(err) {
		return errReadTimeout
	}
	if errors.Is(err, io.EOF) {
		return c.fail(errors.Wrapf(ErrPeerClosed, "socket %d", c.sock))
	}
	return c.fail(errors.Wrapf(err, "receive on socket %d", c.sock))
}

// shutdown closes the socket in both directions. It is a no-op once the
// connection is closed. The partial message is left to the goroutine driving
// the receive side, see release.
func (c *Conn) shutdown() error {
	for {
		s := c.state.Load()
		if State(s) == StateClosed {
			return nil
		}
		if c.state.CompareAndSwap(s, int32(StateClosed)) {
			break
		}
	}

	if tcp, ok := c.raw.(*net.TCPConn); ok {
		_ = tcp.CloseRead()
		_ = tcp.CloseWrite()
	}
	return c.raw.Close()
}

package msgsock

import (
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// Client is a session with a single server. Sends are serialized so frames
// never interleave; receives are serialized so one message is reassembled at
// a time. A typical client runs Receive in a dedicated goroutine.
type Client struct {
	opts        clientOptions
	logger      Logger
	conn        *Conn
	sendTimeout time.Duration

	terminated atomic.Bool
	closed     atomic.Bool
	received   atomic.Uint64

	sendMu sync.Mutex
	rcvMu  sync.Mutex
}

// Dial connects to the server at ip:port. sendTimeout bounds each blocking
// send; zero or a negative value means sends may block indefinitely.
func Dial(ctx context.Context, ip string, port int, sendTimeout time.Duration, opts ...ClientOption) (*Client, error) {
	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}
	checkClientOptions(&o)

	addr, err := resolveAddr(ip, port)
	if err != nil {
		return nil, err
	}

	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp4", addr.String())
	if err != nil {
		return nil, errors.Wrapf(err, "connect to %s", net.JoinHostPort(ip, strconv.Itoa(port)))
	}
	if tcp, ok := raw.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	c := &Client{
		opts:        o,
		logger:      o.logger,
		conn:        newConn(raw),
		sendTimeout: sendTimeout,
	}
	c.opts.metrics.connected()
	c.logger.Debug("client connected", "socket", c.conn.sock, "remote_addr", raw.RemoteAddr())
	return c, nil
}

// Socket returns the descriptor of the client connection.
func (c *Client) Socket() Socket {
	return c.conn.sock
}

// Receive blocks until a complete message arrives and returns its payload,
// which the caller owns. Each read attempt is bounded by the receive timeout;
// an attempt that times out after Terminate was called makes Receive return
// ErrTerminated. Any other error means the connection failed and the caller
// must reconnect.
func (c *Client) Receive() ([]byte, error) {
	c.rcvMu.Lock()
	defer c.rcvMu.Unlock()

	for {
		if c.closed.Load() {
			return nil, ErrClientClosed
		}
		if err := c.conn.raw.SetReadDeadline(time.Now().Add(c.opts.receiveTimeout)); err != nil {
			if c.closed.Load() {
				return nil, ErrClientClosed
			}
			return nil, errors.Wrap(err, "set read deadline")
		}

		msg, err := c.conn.readStep()
		if err == nil {
			if msg == nil {
				continue
			}
			c.received.Add(1)
			c.opts.metrics.received(len(msg))
			return msg, nil
		}
		if errors.Is(err, errReadTimeout) {
			if c.terminated.Load() {
				return nil, ErrTerminated
			}
			continue
		}
		if c.closed.Load() {
			return nil, ErrClientClosed
		}
		c.logger.Debug("client receive failed", "socket", c.conn.sock, "error", err)
		return nil, err
	}
}

// Send frames payload and transmits it. With nonBlocking set, a full send
// buffer yields an error for which IsTemporary is true.
func (c *Client) Send(payload []byte, nonBlocking bool) error {
	if c.closed.Load() {
		return ErrClientClosed
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	var deadline time.Time
	if c.sendTimeout > 0 && !nonBlocking {
		deadline = time.Now().Add(c.sendTimeout)
	}
	if err := c.conn.raw.SetWriteDeadline(deadline); err != nil {
		return errors.Wrap(err, "set write deadline")
	}

	err := sendFrame(c.conn.raw, payload, nonBlocking)
	c.opts.metrics.sent(len(payload), err)
	if err != nil && !IsTemporary(err) {
		c.logger.Debug("client send failed", "socket", c.conn.sock, "error", err)
	}
	return err
}

// Terminate asks a pending or future Receive to give up at its next timed-out attempt.
func (c *Client) Terminate() {
	c.terminated.Store(true)
}

// Terminated reports whether Terminate or Close was called.
func (c *Client) Terminated() bool {
	return c.terminated.Load()
}

// Received returns the number of complete messages returned by Receive.
func (c *Client) Received() uint64 {
	return c.received.Load()
}

// Close shuts the connection down. Calls after the first are no-ops.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.terminated.Store(true)
	c.opts.metrics.closed(1)
	c.logger.Debug("client closed", "socket", c.conn.sock)
	return c.conn.shutdown()
}

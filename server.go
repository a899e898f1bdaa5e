package msgsock

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Server accepts TCP connections and reassembles the messages they carry,
// multiplexing every connection on one loop goroutine. Send may be called
// from any goroutine.
type Server struct {
	opts   serverOptions
	logger Logger

	mu        sync.Mutex // guards listener, listening, cancel and done
	listener  *net.TCPListener
	listening bool
	cancel    context.CancelFunc
	done      chan struct{}

	// Owned by the loop goroutine while listening.
	listenSock  Socket
	listenErr   error
	controlSock Socket
	poll        pollSet

	registry registry
}

// NewServer creates a server that is not yet bound to an address.
func NewServer(opts ...ServerOption) *Server {
	var o serverOptions
	for _, opt := range opts {
		opt(&o)
	}
	checkServerOptions(&o)

	return &Server{
		opts:        o,
		logger:      o.logger,
		listenSock:  InvalidSocket,
		controlSock: InvalidSocket,
	}
}

// resolveAddr validates a dotted-quad IPv4 address and port.
func resolveAddr(ip string, port int) (*net.TCPAddr, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.To4() == nil {
		return nil, errors.Wrapf(ErrInvalidArgument, "ip address %q", ip)
	}
	if port < 0 || port > 0xFFFF {
		return nil, errors.Wrapf(ErrInvalidArgument, "port %d", port)
	}
	return &net.TCPAddr{IP: parsed.To4(), Port: port}, nil
}

// Connect binds the server to ip:port and starts listening for connections.
// Port 0 picks an ephemeral port, see Addr.
func (s *Server) Connect(ip string, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return ErrAlreadyConnected
	}
	addr, err := resolveAddr(ip, port)
	if err != nil {
		return err
	}

	ln, err := net.ListenTCP("tcp4", addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", net.JoinHostPort(ip, strconv.Itoa(port)))
	}
	sock := socketOf(ln)
	if sock == InvalidSocket {
		_ = ln.Close()
		return errors.New("listener has no socket descriptor")
	}

	s.listener = ln
	s.listenSock = sock
	s.logger.Info("server bound", "addr", ln.Addr())
	return nil
}

// Addr returns the bound address, or nil when not connected.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenForMessages runs the server loop, reporting connections and messages to h.
// It blocks until ctx is done, a line is entered on the control input (when
// terminate-on-keypress is enabled), Close is called, or the listener fails.
// Every connection and the listener are shut down before it returns.
//
// The result is ctx.Err() after cancellation, the listener error after a
// listener failure, and nil after a keypress.
func (s *Server) ListenForMessages(ctx context.Context, h Handler) error {
	if h == nil {
		return ErrInvalidHandler
	}

	s.mu.Lock()
	if s.listener == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if s.listening {
		s.mu.Unlock()
		return ErrAlreadyListening
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.listening = true
	s.cancel = cancel
	s.done = done
	addr := s.listener.Addr()
	s.mu.Unlock()

	defer func() {
		cancel()
		s.shutdown()
		close(done)
	}()

	s.listenErr = nil
	s.controlSock = InvalidSocket
	if s.opts.terminateOnKeypress {
		s.controlSock = Socket(s.opts.control.Fd())
	}
	s.logger.Info("listening for messages", "addr", addr)

	for {
		r, err := s.waitReady(ctx)
		if err != nil {
			s.logger.Error("readiness wait failed", "error", err)
			return err
		}
		if r.Has(ListenerReady) {
			s.acceptOne(h)
		}
		if r.Has(DataReady) {
			s.receiveMessages(h)
		}
		if r.Has(TerminateRequested) {
			s.consumeControl()
			s.logger.Info("termination requested from control input")
			return nil
		}
		if s.listenErr != nil {
			return s.listenErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// consumeControl reads the pending line from the control input.
// It blocks until a newline arrives.
func (s *Server) consumeControl() {
	_, _ = bufio.NewReader(s.opts.control).ReadString('\n')
}

// acceptOne accepts a single pending connection and registers it.
// A timeout means nothing was pending. Any other error closes the listener,
// which ends the loop at the end of the current iteration.
func (s *Server) acceptOne(h Handler) {
	s.registry.acceptMu.Lock()
	defer s.registry.acceptMu.Unlock()

	_ = s.listener.SetDeadline(time.Now().Add(s.opts.acceptTimeout))
	raw, err := s.listener.AcceptTCP()
	if err != nil {
		if isTimeout(err) {
			s.logger.Debug("no pending connection")
			return
		}
		s.logger.Error("accept error", "error", err)
		_ = s.listener.Close()
		s.listenSock = InvalidSocket
		s.listenErr = errors.Wrap(err, "accept")
		return
	}
	_ = raw.SetNoDelay(true)

	c := newConn(raw)
	if c.sock == InvalidSocket || !s.registry.add(c) {
		s.logger.Warn("rejecting connection", "socket", c.sock, "remote_addr", raw.RemoteAddr())
		_ = raw.Close()
		return
	}
	s.opts.metrics.connected()
	s.logger.Debug("accepted connection", "socket", c.sock, "remote_addr", raw.RemoteAddr())

	h.OnConnectionAdded(c.sock)
}

// receiveMessages advances every selected connection by one read, delivers
// complete messages and reaps the connections that failed. It returns the
// number of connections dropped.
func (s *Server) receiveMessages(h Handler) int {
	for _, c := range s.registry.conns {
		if !c.selected {
			continue
		}
		c.selected = false

		_ = c.raw.SetReadDeadline(time.Now().Add(s.opts.pollInterval))
		msg, err := c.readStep()
		switch {
		case err == nil && msg != nil:
			s.opts.metrics.received(len(msg))
			h.OnMessage(c.sock, msg)
		case err == nil, errors.Is(err, errReadTimeout):
		default:
			s.logger.Debug("receive failed", "socket", c.sock, "error", err)
			h.OnConnectionDropped(c.sock)
		}
	}

	dropped := s.registry.reap()
	for _, c := range dropped {
		s.logger.Info("closing connection", "socket", c.sock, "error", c.Err())
	}
	s.opts.metrics.dropped(len(dropped))
	return len(dropped)
}

// Send frames payload and transmits it on the connection bound to sock.
// The registry lock is released before the transmit. With nonBlocking set, a
// full send buffer yields an error for which IsTemporary is true.
func (s *Server) Send(sock Socket, payload []byte, nonBlocking bool) error {
	c := s.registry.lookup(sock)
	if c == nil {
		err := errors.Wrapf(ErrNotConnected, "socket %d", sock)
		s.opts.metrics.sent(0, err)
		return err
	}

	err := sendFrame(c.raw, payload, nonBlocking)
	s.opts.metrics.sent(len(payload), err)
	if err != nil && !IsTemporary(err) {
		s.logger.Debug("send failed", "socket", sock, "error", err)
	}
	return err
}

// Connections returns the sockets of the live connections in accept order.
func (s *Server) Connections() []Socket {
	return s.registry.sockets()
}

// shutdown destroys every registered connection, then closes the listener.
func (s *Server) shutdown() {
	conns := s.registry.closeAll()
	s.opts.metrics.closed(len(conns))

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
	s.listenSock = InvalidSocket
	s.controlSock = InvalidSocket
	s.listening = false
	s.cancel = nil
	s.done = nil
	s.logger.Info("server stopped", "closed_connections", len(conns))
}

// Close stops a running loop and waits for it to shut down, or closes an idle
// listener. Safe to call multiple times. It must not be called from a Handler.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.listening {
		cancel, done := s.cancel, s.done
		s.mu.Unlock()
		cancel()
		<-done
		return nil
	}
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	s.listener = nil
	s.listenSock = InvalidSocket
	return err
}

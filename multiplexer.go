package msgsock

import "context"

// Readiness describes what a readiness wait found.
type Readiness uint8

// Readiness bits.
const (
	// ListenerReady means a connection is pending on the listener.
	ListenerReady Readiness = 1 << iota
	// DataReady means at least one connection was selected for reading.
	DataReady
	// TerminateRequested means the operator asked to stop via the control input.
	TerminateRequested
)

// Has reports whether all bits of f are set.
func (r Readiness) Has(f Readiness) bool {
	return r&f == f
}

// waitReady blocks until the listener, a live connection or the control input
// is ready, or until ctx is done. Each wait is bounded by the poll interval so
// cancellation is noticed within one interval; an idle interval may log the
// waiting message. Ready connections get selected set.
//
// It runs on the loop goroutine only, which is the registry's single writer,
// so the registry is walked without its lock.
func (s *Server) waitReady(ctx context.Context) (Readiness, error) {
	timeouts := 0
	for {
		s.poll.reset()

		listenIdx := -1
		if s.listenSock != InvalidSocket {
			listenIdx = s.poll.add(int(s.listenSock))
		}
		for _, c := range s.registry.conns {
			c.selected = false
			c.pollIdx = -1
			if c.live() {
				c.pollIdx = s.poll.add(int(c.sock))
			}
		}
		controlIdx := -1
		if s.controlSock != InvalidSocket {
			controlIdx = s.poll.add(int(s.controlSock))
		}

		n, err := s.poll.wait(s.opts.pollInterval)
		if err != nil {
			return 0, err
		}
		if n == 0 {
			if ctx.Err() != nil {
				return 0, nil
			}
			timeouts++
			if s.opts.waitingMessage != "" && timeouts%s.opts.waitingEvery == 0 {
				s.logger.Info(s.opts.waitingMessage, "connections", len(s.registry.conns))
			}
			continue
		}

		var r Readiness
		if s.poll.ready(listenIdx) {
			r |= ListenerReady
		}
		for _, c := range s.registry.conns {
			if c.pollIdx >= 0 && s.poll.ready(c.pollIdx) {
				c.selected = true
				r |= DataReady
			}
		}
		if s.poll.ready(controlIdx) {
			r |= TerminateRequested
		}
		return r, nil
	}
}

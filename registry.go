package msgsock

import "sync"

// registry is the insertion-ordered set of live server connections, unique by socket.
//
// Single-writer invariant: the slice is only mutated, always under mu, by the
// server loop goroutine (accept appends, reap removes). The loop may therefore
// walk it without the lock and touch the per-entry selected flag freely. Any
// other goroutine reads the slice only under mu.
type registry struct {
	// acceptMu serializes whole accept sequences.
	acceptMu sync.Mutex

	mu    sync.Mutex
	conns []*Conn
}

// add appends c unless a connection with the same socket is already present.
func (r *registry) add(c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.conns {
		if existing.sock == c.sock {
			return false
		}
	}
	r.conns = append(r.conns, c)
	return true
}

// lookup returns the live connection bound to sock.
func (r *registry) lookup(sock Socket) *Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.conns {
		if c.sock == sock && c.live() {
			return c
		}
	}
	return nil
}

// sockets returns the live sockets in insertion order.
func (r *registry) sockets() []Socket {
	r.mu.Lock()
	defer r.mu.Unlock()

	socks := make([]Socket, 0, len(r.conns))
	for _, c := range r.conns {
		if c.live() {
			socks = append(socks, c.sock)
		}
	}
	return socks
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// reap detaches every failed connection, shutting each down first.
// It returns the removed connections.
func (r *registry) reap() []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dropped []*Conn
	kept := r.conns[:0]
	for _, c := range r.conns {
		if c.State() != StateFailed {
			kept = append(kept, c)
			continue
		}
		c.release()
		_ = c.shutdown()
		dropped = append(dropped, c)
	}
	for i := len(kept); i < len(r.conns); i++ {
		r.conns[i] = nil
	}
	r.conns = kept
	return dropped
}

// closeAll shuts down and detaches every connection.
func (r *registry) closeAll() []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := r.conns
	for _, c := range all {
		c.release()
		_ = c.shutdown()
	}
	r.conns = nil
	return all
}

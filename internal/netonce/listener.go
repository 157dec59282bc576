// Package netonce adapts a single, already-accepted net.Conn into a
// net.Listener so a net/http.Server can own it directly. This lets the
// HTTP-speaking acceptors (CONNECT and the rewriting forward proxy) reuse
// the standard library's request parsing/framing instead of hand-rolling
// it, matching spec.md §1's framing of the HTTP library as "an opaque
// collaborator with a documented interface". It is grounded on the
// teacher's internal/socks5/ws_listener.go, which performs the same
// adaptation from a non-net.Listener transport to a net.Listener.
package netonce

import (
	"net"
	"sync"
)

// Listener serves exactly one connection to its first Accept call; every
// later Accept blocks until Close is called, at which point it returns
// net.ErrClosed. http.Server.Serve exits cleanly once that happens.
type Listener struct {
	addr net.Addr

	once    sync.Once
	connCh  chan net.Conn
	closeCh chan struct{}
}

// New wraps conn so it can be served via (*http.Server).Serve.
func New(conn net.Conn) *Listener {
	l := &Listener{
		addr:    conn.LocalAddr(),
		connCh:  make(chan net.Conn, 1),
		closeCh: make(chan struct{}),
	}
	l.connCh <- conn
	return l
}

// Accept returns the wrapped connection exactly once, then blocks until
// Close is called.
func (l *Listener) Accept() (net.Conn, error) {
	select {
	case conn, ok := <-l.connCh:
		if !ok {
			return nil, net.ErrClosed
		}
		return conn, nil
	case <-l.closeCh:
		return nil, net.ErrClosed
	}
}

// Close unblocks any pending or future Accept call. It does not close
// the wrapped connection — ownership of that socket belongs to whoever
// reclaimed it (via Hijack, for the CONNECT acceptor) or to the caller
// driving the HTTP server's lifetime.
func (l *Listener) Close() error {
	l.once.Do(func() { close(l.closeCh) })
	return nil
}

// Addr returns the wrapped connection's local address.
func (l *Listener) Addr() net.Addr { return l.addr }

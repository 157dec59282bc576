package listener

import (
	"net"
	"sync/atomic"
)

// halfCloser matches relay.Splice's own interface so countingConn can
// still participate in half-close when the wrapped upstream conn
// supports it.
type halfCloser interface {
	CloseWrite() error
}

// countingConn wraps a net.Conn to track bytes moved in each direction
// without taking part in the copy loop itself, so any acceptor family's
// Finalize (relay.Splice for socks5/httpconnect, the direct dispatcher
// reads/writes in httpproxy) gets instrumented transparently.
type countingConn struct {
	net.Conn
	read    atomic.Int64
	written atomic.Int64
}

func wrapCounting(conn net.Conn) *countingConn {
	return &countingConn{Conn: conn}
}

func (c *countingConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 {
		c.read.Add(int64(n))
	}
	return n, err
}

func (c *countingConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	if n > 0 {
		c.written.Add(int64(n))
	}
	return n, err
}

// CloseWrite forwards half-close to the wrapped conn when supported,
// otherwise it is a no-op rather than a full Close so the still-draining
// direction is left alone.
func (c *countingConn) CloseWrite() error {
	if hc, ok := c.Conn.(halfCloser); ok {
		return hc.CloseWrite()
	}
	return nil
}

// BytesRead returns bytes read from the wrapped conn, i.e. bytes flowing
// from upstream toward the inbound connection.
func (c *countingConn) BytesRead() int64 { return c.read.Load() }

// BytesWritten returns bytes written to the wrapped conn, i.e. bytes
// flowing from the inbound connection toward upstream.
func (c *countingConn) BytesWritten() int64 { return c.written.Load() }

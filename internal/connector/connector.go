// Package connector implements the outbound half of the acceptor
// pipeline: given an Endpoint, produce a connected net.Conn. It is
// grounded on the teacher's socks5.Dialer/DirectDialer pair.
package connector

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/postalsys/relaymux/internal/endpoint"
	"github.com/postalsys/relaymux/internal/relayerr"
)

// Connector produces a connected, bidirectional byte stream for an
// Endpoint. Failures surface unchanged (wrapped as relayerr.KindIO or
// relayerr.KindResolve, per spec.md §7).
type Connector interface {
	Connect(ctx context.Context, ep endpoint.Endpoint) (net.Conn, error)
}

// TCPConnector resolves an Endpoint through a Resolver and dials a plain
// TCP connection. Per spec.md §9's Open Question ("TcpConnector connects
// only to the first resolved address ... SHOULD try all and MAY try in
// parallel"), this implementation dials every resolved address
// concurrently and returns the first to succeed, cancelling the rest —
// tightening the single-address behavior the spec flags as a TODO.
type TCPConnector struct {
	Resolver endpoint.Resolver
	Dialer   net.Dialer
}

// NewTCPConnector builds a TCPConnector using the given resolver.
func NewTCPConnector(resolver endpoint.Resolver) *TCPConnector {
	return &TCPConnector{Resolver: resolver}
}

// Connect implements Connector.
func (c *TCPConnector) Connect(ctx context.Context, ep endpoint.Endpoint) (net.Conn, error) {
	resolver := c.Resolver
	if resolver == nil {
		resolver = endpoint.SystemResolver{}
	}

	candidates, err := endpoint.ResolveEndpoint(ctx, resolver, ep)
	if err != nil {
		return nil, relayerr.Wrap(relayerr.KindResolve, "connector.Connect", err)
	}
	if len(candidates) == 0 {
		return nil, relayerr.New(relayerr.KindResolve, "connector.Connect", errors.New("no addresses resolved"))
	}

	if len(candidates) == 1 {
		conn, err := c.Dialer.DialContext(ctx, "tcp", candidates[0].String())
		if err != nil {
			return nil, relayerr.Wrap(relayerr.KindIO, "connector.Connect", err)
		}
		return conn, nil
	}

	return c.dialAllFirstSuccess(ctx, candidates)
}

type dialResult struct {
	conn net.Conn
	err  error
}

// dialAllFirstSuccess races a dial to every candidate address, returning
// the first successful connection and cancelling/closing every other
// attempt once a winner is decided.
func (c *TCPConnector) dialAllFirstSuccess(ctx context.Context, candidates []endpoint.Endpoint) (net.Conn, error) {
	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan dialResult, len(candidates))
	var wg sync.WaitGroup
	for _, cand := range candidates {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			conn, err := c.Dialer.DialContext(dialCtx, "tcp", addr)
			results <- dialResult{conn: conn, err: err}
		}(cand.String())
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var lastErr error
	for res := range results {
		if res.err == nil {
			cancel() // stop any dials still in flight
			go drainAndClose(results)
			return res.conn, nil
		}
		lastErr = res.err
	}

	if lastErr == nil {
		lastErr = errors.New("all dial attempts failed")
	}
	return nil, relayerr.Wrap(relayerr.KindIO, "connector.Connect", lastErr)
}

// drainAndClose closes any connections that complete after a winner has
// already been picked, so we never leak a dangling dial.
func drainAndClose(results <-chan dialResult) {
	for res := range results {
		if res.conn != nil {
			res.conn.Close()
		}
	}
}

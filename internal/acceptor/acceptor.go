// Package acceptor declares the two-phase handshake contract spec.md
// §4.1 asks every inbound-protocol handler to implement: Acceptor peels
// bytes off the wire until a destination is known and yields a
// MidHandshake; the caller then picks an upstream (via a Connector or
// Router) before calling Finalize to start moving bytes. The split
// exists so routing/filtering policy can live entirely outside the
// acceptor — it never takes the upstream as an input to Handshake.
package acceptor

import (
	"context"
	"net"

	"github.com/postalsys/relaymux/internal/endpoint"
)

// Acceptor parses an inbound connection's handshake for one protocol and
// produces a MidHandshake once the destination endpoint is known.
// Handshake consumes the Acceptor: a value must not be reused after a
// call, whether it succeeds or fails.
type Acceptor interface {
	Handshake(ctx context.Context) (MidHandshake, error)
}

// MidHandshake is the short-lived carrier created once an Acceptor knows
// the target Endpoint but before any data is forwarded. It exclusively
// owns the inbound stream (and any residual parser state) until Finalize
// consumes it exactly once. If a MidHandshake is discarded without
// Finalize being called, the caller is responsible for closing whatever
// inbound resources it is holding.
type MidHandshake interface {
	// TargetEndpoint returns the decoded destination. It is pure and may
	// be called any number of times before Finalize; it always returns
	// the same value.
	TargetEndpoint() *endpoint.Endpoint

	// Finalize consumes the MidHandshake, writes any protocol success
	// frame to the inbound stream, and drives bytes between inbound and
	// upstream until completion.
	Finalize(ctx context.Context, upstream net.Conn) error
}

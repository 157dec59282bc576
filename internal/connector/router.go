package connector

import (
	"context"
	"net"

	"github.com/postalsys/relaymux/internal/endpoint"
	"github.com/postalsys/relaymux/internal/relayerr"
)

// Router tries an ordered list of Connectors for a given Endpoint and
// returns the first success in priority order (spec.md §4.7). Routers
// are tried sequentially here — the observable contract ("first success
// in deterministic priority order, ties resolve to the lower index") is
// satisfied without needing to run every candidate concurrently, since a
// sequential scan already returns the lowest-index success and never
// pays for connectors past the first winner.
type Router struct {
	Connectors []Connector
}

// NewRouter builds a Router over the given ordered candidate list.
func NewRouter(connectors ...Connector) *Router {
	return &Router{Connectors: connectors}
}

// Route implements Connector by trying each candidate connector in
// order and returning the first successful stream. If every candidate
// fails, it returns relayerr.KindNoRouteToDestination wrapping the final
// failure.
func (r *Router) Route(ctx context.Context, ep endpoint.Endpoint) (net.Conn, error) {
	var lastErr error
	for _, c := range r.Connectors {
		conn, err := c.Connect(ctx, ep)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, relayerr.New(relayerr.KindNoRouteToDestination, "router.Route", lastErr)
}

// Connect lets *Router itself satisfy Connector, so a Router can be
// nested inside another Router or passed wherever a Connector is
// expected.
func (r *Router) Connect(ctx context.Context, ep endpoint.Endpoint) (net.Conn, error) {
	return r.Route(ctx, ep)
}

// Package httpproxy implements the HTTP forward-proxy acceptor with
// per-request rewriting: a single inbound HTTP connection is served by
// a real net/http.Server for its whole lifetime, while the first
// forwarded request that names a usable host publishes the target
// endpoint to the outer coordinator and every forwarded request (that
// one included) is replayed onto a single upstream connection through
// a write-once sender slot. The target is read from the inbound request
// as received, not from the Rewriter's output, so a Rewriter that
// changes the host does not change which upstream is dialed. It is grounded on the teacher's
// other_examples sibling JillVernus-cc-bridge forwardproxy
// (handleHTTPForward's absolute-URI detection and hop-by-hop stripping)
// for the rewriting shape, with the outlet/slot coupling primitives
// built from the channel-and-mutex idioms used throughout the teacher's
// internal/socks5 and internal/forward packages.
package httpproxy

import (
	"context"
	"errors"
	"net"
	"net/http"

	accept "github.com/postalsys/relaymux/internal/acceptor"
	"github.com/postalsys/relaymux/internal/endpoint"
	"github.com/postalsys/relaymux/internal/netonce"
	"github.com/postalsys/relaymux/internal/relayerr"
)

// Acceptor implements acceptor.Acceptor for the HTTP rewriting forward
// proxy.
type Acceptor struct {
	conn     net.Conn
	rewriter Rewriter
}

// NewAcceptor builds a rewriting acceptor over an inbound connection.
// A nil rewriter defaults to DefaultRewriter, the plain pass-through
// forward-proxy behavior.
func NewAcceptor(conn net.Conn, rewriter Rewriter) *Acceptor {
	if rewriter == nil {
		rewriter = DefaultRewriter{}
	}
	return &Acceptor{conn: conn, rewriter: rewriter}
}

// Handshake spawns the inbound HTTP server and races the
// target-publication outlet against the server's own completion, per
// the rewriting acceptor's two possible outcomes: the outlet fires
// first and the (still-running) server is handed off inside a
// MidHandshake, or the server completes first — the client closed
// without ever producing a forwardable request — and Handshake fails
// with KindClosedWithoutRequest.
func (a *Acceptor) Handshake(ctx context.Context) (accept.MidHandshake, error) {
	listener := netonce.New(a.conn)
	out := newOutlet()
	slot := newSenderSlot()
	serveDone := make(chan error, 1)

	srv := &http.Server{
		Handler: a.handler(out, slot),
		ConnState: func(_ net.Conn, state http.ConnState) {
			if state == http.StateClosed || state == http.StateHijacked {
				listener.Close()
			}
		},
	}

	go func() { serveDone <- srv.Serve(listener) }()

	select {
	case <-out.fired:
		return &midHandshake{
			srv:       srv,
			serveDone: serveDone,
			slot:      slot,
			target:    out.ep,
		}, nil

	case err := <-serveDone:
		if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
			return nil, relayerr.Wrap(relayerr.KindIO, "httpproxy.Handshake", err)
		}
		return nil, relayerr.New(relayerr.KindClosedWithoutRequest, "httpproxy.Handshake", nil)

	case <-ctx.Done():
		listener.Close()
		return nil, ctx.Err()
	}
}

// handler builds the per-request HTTP handler: run the rewriter,
// answer synthetic responses directly, and for forwarded requests fire
// the outlet (at most once) before awaiting the sender slot.
func (a *Acceptor) handler(out *outlet, slot *senderSlot) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result, err := a.rewriter.Handle(r)
		if err != nil {
			http.Error(w, "rewrite failed: "+err.Error(), http.StatusBadGateway)
			return
		}

		if result.Response != nil {
			writeResponse(w, result.Response)
			return
		}
		req := result.Request
		if req == nil {
			http.Error(w, "rewriter produced neither request nor response", http.StatusInternalServerError)
			return
		}

		if ep, ok := usableTarget(r); ok {
			out.fire(ep)
		}

		d := slot.wait(r.Context())
		if d == nil {
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
			return
		}

		resp, err := d.submit(req)
		if err != nil {
			http.Error(w, "upstream error: "+err.Error(), http.StatusBadGateway)
			return
		}
		writeResponse(w, resp)
	})
}

// writeResponse copies a *http.Response (synthetic or upstream) onto
// the inbound ResponseWriter.
func writeResponse(w http.ResponseWriter, resp *http.Response) {
	defer resp.Body.Close()
	dst := w.Header()
	for k, vs := range resp.Header {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != nil {
		buf := make([]byte, 32*1024)
		for {
			n, rerr := resp.Body.Read(buf)
			if n > 0 {
				w.Write(buf[:n])
			}
			if rerr != nil {
				break
			}
		}
	}
}

// midHandshake implements acceptor.MidHandshake for the rewriting
// acceptor: Finalize populates the sender slot (unblocking every
// request parked on it) and then waits for the inbound server to run
// its course.
type midHandshake struct {
	srv       *http.Server
	serveDone chan error
	slot      *senderSlot
	target    endpoint.Endpoint
}

func (m *midHandshake) TargetEndpoint() *endpoint.Endpoint { return &m.target }

// Finalize populates the upstream sender slot and drains requests until
// the inbound connection closes.
func (m *midHandshake) Finalize(ctx context.Context, upstream net.Conn) error {
	d := newDispatcher(upstream)
	m.slot.populate(d)

	var err error
	select {
	case err = <-m.serveDone:
	case <-ctx.Done():
		err = ctx.Err()
	}
	close(d.jobs)

	if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return relayerr.Wrap(relayerr.KindIO, "httpproxy.Finalize", err)
	}
	return nil
}

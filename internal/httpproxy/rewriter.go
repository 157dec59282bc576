package httpproxy

import (
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/postalsys/relaymux/internal/endpoint"
)

// RewriteResult carries exactly one of Request or Response: Request asks
// the acceptor to forward (a possibly modified) request upstream;
// Response answers the inbound request directly without ever touching
// an upstream connection.
type RewriteResult struct {
	Request  *http.Request
	Response *http.Response
}

// Rewriter maps an inbound request to either a request to forward or a
// synthetic response. It is invoked sequentially, once per request, on
// a single inbound connection — a Rewriter may keep per-connection state
// but must not assume concurrent calls.
type Rewriter interface {
	Handle(req *http.Request) (RewriteResult, error)
}

// DefaultRewriter is the built-in transformer used when no Rewriter is
// supplied: it turns an absolute-form proxy request into an origin-form
// request suitable for the origin server, and strips hop-by-hop headers.
type DefaultRewriter struct{}

// Handle implements Rewriter.
func (DefaultRewriter) Handle(req *http.Request) (RewriteResult, error) {
	out := req.Clone(req.Context())
	toOriginForm(out)
	stripHopByHop(out.Header)
	return RewriteResult{Request: out}, nil
}

// toOriginForm replaces an absolute-form request-target with its path
// and query, falling back to "/" when the path is empty.
func toOriginForm(req *http.Request) {
	if !req.URL.IsAbs() {
		return
	}
	path := req.URL.Path
	if path == "" {
		path = "/"
	}
	req.URL = &url.URL{Path: path, RawQuery: req.URL.RawQuery}
	req.RequestURI = ""
}

// usableTarget computes the destination endpoint for a request per the
// port-default rule: an explicit port wins, else https implies 443,
// else 80. It looks at the original (pre-rewrite) request so that the
// host is read from the absolute-form URI or, for origin-form requests
// already addressed to this proxy via Host, from the Host header.
func usableTarget(req *http.Request) (endpoint.Endpoint, bool) {
	var host, portStr string
	if req.URL.IsAbs() {
		host, portStr = req.URL.Hostname(), req.URL.Port()
	} else if h, p, err := net.SplitHostPort(req.Host); err == nil {
		host, portStr = h, p
	} else {
		host = req.Host
	}
	if host == "" {
		return endpoint.Endpoint{}, false
	}

	port := 80
	if req.URL.Scheme == "https" {
		port = 443
	}
	if portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return endpoint.Endpoint{}, false
		}
		port = p
	}

	ep, err := endpoint.NewHostName(host, port)
	if err != nil {
		return endpoint.Endpoint{}, false
	}
	return ep, true
}

// hopHeaders are stripped unconditionally before dispatch upstream, per
// RFC 7230's obsoleted-but-still-observed hop-by-hop list.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// stripHopByHop removes the fixed hop-by-hop set, any header named by a
// Connection token, and any remaining Proxy-* header. The Proxy-*
// sweep tightens the rewriter beyond the fixed list: a non-standard
// Proxy-prefixed header is proxy-addressed information and must never
// reach the origin.
func stripHopByHop(h http.Header) {
	if c := h.Values("Connection"); len(c) > 0 {
		for name := range h {
			if httpguts.HeaderValuesContainsToken(c, name) {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
	for name := range h {
		if strings.HasPrefix(name, "Proxy-") {
			h.Del(name)
		}
	}
}

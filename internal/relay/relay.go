// Package relay implements the splicing primitive ("forward" in spec.md
// §4.8) that every finalized acceptor uses to bridge an inbound stream to
// its upstream connection. It is grounded on the teacher's
// internal/socks5.relay and internal/forward.relay, unified into one
// place and extended with optional per-direction throughput shaping.
package relay

import (
	"context"
	"io"
	"net"
	"sync"

	"golang.org/x/time/rate"
)

// halfCloser is implemented by connections that support half-close (TCP
// and most net.Conn implementations used as upstreams/inbounds here).
// Signaling CloseWrite lets the other direction keep draining until its
// own EOF instead of tearing the whole connection down immediately —
// the critical contract for tunneling long-lived upgraded connections.
type halfCloser interface {
	CloseWrite() error
}

// Limiters optionally shape the two directions of a Splice independently.
// A nil Limiters, or a nil field within it, imposes no shaping.
type Limiters struct {
	AtoB *rate.Limiter
	BtoA *rate.Limiter
}

// Splice copies bytes bidirectionally between a and b until both
// directions have closed, exactly mirroring spec.md §4.8: completion is
// defined as both copies finishing (EOF on read or error on write); any
// error from either direction is reported once, while the other
// direction is left to drain to its own EOF. Splice is symmetric —
// Splice(a, b) and Splice(b, a) transfer identical bytes in each
// direction.
func Splice(a, b net.Conn) error {
	return SpliceShaped(a, b, nil)
}

// SpliceShaped is Splice with optional per-direction rate limiting.
func SpliceShaped(a, b net.Conn, limiters *Limiters) error {
	var atob, btoa *rate.Limiter
	if limiters != nil {
		atob, btoa = limiters.AtoB, limiters.BtoA
	}

	errCh := make(chan error, 2)
	var once sync.Once
	var firstErr error

	copyDirection := func(dst, src net.Conn, limiter *rate.Limiter) {
		var err error
		if limiter == nil {
			_, err = io.Copy(dst, src)
		} else {
			_, err = io.Copy(dst, &limitedReader{r: src, limiter: limiter})
		}
		if hc, ok := dst.(halfCloser); ok {
			hc.CloseWrite()
		}
		if err != nil {
			once.Do(func() { firstErr = err })
		}
		errCh <- err
	}

	go copyDirection(b, a, atob)
	go copyDirection(a, b, btoa)

	<-errCh
	<-errCh

	if firstErr != nil && firstErr != io.EOF {
		return firstErr
	}
	return nil
}

// limitedReader throttles Read calls through a token-bucket rate.Limiter,
// grounded on the teacher's internal/filetransfer.RateLimitedReader.
type limitedReader struct {
	r       io.Reader
	limiter *rate.Limiter
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	if n > 0 {
		if werr := l.limiter.WaitN(context.Background(), n); werr != nil && err == nil {
			err = werr
		}
	}
	return n, err
}

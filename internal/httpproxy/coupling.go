package httpproxy

import (
	"context"
	"sync"

	"github.com/postalsys/relaymux/internal/endpoint"
)

// outlet is the single-shot target-publication channel: exactly one
// request per inbound connection gets to name the upstream endpoint.
type outlet struct {
	once  sync.Once
	fired chan struct{}
	ep    endpoint.Endpoint
}

func newOutlet() *outlet {
	return &outlet{fired: make(chan struct{})}
}

// fire publishes ep if the outlet has not already fired. Later calls
// are no-ops; the outlet keeps the first endpoint it saw.
func (o *outlet) fire(ep endpoint.Endpoint) {
	o.once.Do(func() {
		o.ep = ep
		close(o.fired)
	})
}

// senderSlot is the write-once, multi-reader cell holding the upstream
// dispatcher once Finalize establishes the upstream connection.
// Only the first populate takes effect; later calls are ignored. wait
// may be called from any number of concurrently parked request handlers.
type senderSlot struct {
	mu    sync.Mutex
	ready chan struct{}
	d     *dispatcher
}

func newSenderSlot() *senderSlot {
	return &senderSlot{ready: make(chan struct{})}
}

func (s *senderSlot) populate(d *dispatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.ready:
		return
	default:
	}
	s.d = d
	close(s.ready)
}

// wait blocks until the slot is populated or ctx is done, whichever
// comes first. A nil return means ctx ended the wait.
func (s *senderSlot) wait(ctx context.Context) *dispatcher {
	select {
	case <-s.ready:
		s.mu.Lock()
		d := s.d
		s.mu.Unlock()
		return d
	case <-ctx.Done():
		return nil
	}
}

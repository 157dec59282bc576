package httpproxy

import (
	"bufio"
	"net"
	"net/http"
)

// dispatchJob is one forwarded request awaiting a response from the
// dispatcher goroutine.
type dispatchJob struct {
	req    *http.Request
	respCh chan dispatchResult
}

type dispatchResult struct {
	resp *http.Response
	err  error
}

// dispatcher is the single goroutine that owns the upstream connection
// once it is established. It serializes requests in arrival order onto
// the wire and pairs each with its response, so that concurrent inbound
// requests parked on the sender slot never interleave their bytes on a
// connection the origin server expects to see one request at a time.
type dispatcher struct {
	jobs chan *dispatchJob
}

// newDispatcher spawns the run loop over upstream and returns the handle
// used to submit jobs. The caller is responsible for closing jobs once
// no further requests will be submitted.
func newDispatcher(upstream net.Conn) *dispatcher {
	d := &dispatcher{jobs: make(chan *dispatchJob, 8)}
	go d.run(upstream)
	return d
}

func (d *dispatcher) run(upstream net.Conn) {
	reader := bufio.NewReader(upstream)
	for job := range d.jobs {
		if err := job.req.Write(upstream); err != nil {
			job.respCh <- dispatchResult{err: err}
			continue
		}
		resp, err := http.ReadResponse(reader, job.req)
		job.respCh <- dispatchResult{resp: resp, err: err}
		if err != nil {
			continue
		}
	}
}

// submit enqueues req and blocks for its response.
func (d *dispatcher) submit(req *http.Request) (*http.Response, error) {
	respCh := make(chan dispatchResult, 1)
	d.jobs <- &dispatchJob{req: req, respCh: respCh}
	res := <-respCh
	return res.resp, res.err
}

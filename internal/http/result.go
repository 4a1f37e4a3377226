package http

import (
	"crypto/tls"
	"net/http"
	"net/http/httptrace"
	"time"
)

// Timing is the phase breakdown of one request. Phases that did not
// happen (DNS on a pooled connection, TLS on plain HTTP) are zero.
type Timing struct {
	DNSLookup    time.Duration `json:"dnsLookup,omitempty"`
	Connect      time.Duration `json:"connect,omitempty"`
	TLSHandshake time.Duration `json:"tlsHandshake,omitempty"`

	// Waiting is the gap between the last completed setup phase and the
	// first response byte, i.e. time spent waiting on the server.
	Waiting time.Duration `json:"waiting"`

	// Receiving is the time spent reading the response body.
	Receiving time.Duration `json:"receiving"`

	// Total covers everything from request start to body fully read.
	Total time.Duration `json:"total"`
}

// Result is the outcome of one request. A Result exists for every
// attempt, including ones that never reached the server.
type Result struct {
	Name       string
	StartedAt  time.Time
	Status     int
	StatusText string
	Proto      string
	Headers    http.Header
	Body       []byte
	Timing     Timing

	// Err is set when the request could not complete: connection
	// refused, deadline exceeded, body read failure. HTTP error status
	// codes are not errors.
	Err      error
	TimedOut bool

	BytesSent     int64
	BytesReceived int64
}

// Failed reports whether the request counts against http_req_failed:
// a transport error or a 4xx/5xx status.
func (r *Result) Failed() bool {
	return r.Err != nil || r.Status >= 400 || r.Status == 0
}

// Success is the inverse of Failed.
func (r *Result) Success() bool {
	return !r.Failed()
}

// Header returns a response header value, empty if the request never got
// a response.
func (r *Result) Header(name string) string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get(name)
}

// BodyString returns the response body as a string.
func (r *Result) BodyString() string {
	return string(r.Body)
}

// timingCapture accumulates phase timestamps from httptrace callbacks.
// All callbacks fire before the transport returns, so reading the final
// Timing after the body is drained needs no locking.
type timingCapture struct {
	Timing Timing

	start        time.Time
	dnsStart     time.Time
	connectStart time.Time
	tlsStart     time.Time
	firstByte    time.Time

	// lastPhaseEnd tracks where the previous setup phase finished so
	// Waiting measures only the server-side gap.
	lastPhaseEnd time.Time
}

// newTimingTrace builds an httptrace hooked up to a fresh capture.
func newTimingTrace(start time.Time) (*httptrace.ClientTrace, *timingCapture) {
	tc := &timingCapture{start: start, lastPhaseEnd: start}

	trace := &httptrace.ClientTrace{
		DNSStart: func(httptrace.DNSStartInfo) {
			tc.dnsStart = time.Now()
		},
		DNSDone: func(httptrace.DNSDoneInfo) {
			now := time.Now()
			tc.Timing.DNSLookup = now.Sub(tc.dnsStart)
			tc.lastPhaseEnd = now
		},
		ConnectStart: func(network, addr string) {
			tc.connectStart = time.Now()
		},
		ConnectDone: func(network, addr string, err error) {
			if err != nil {
				return
			}
			now := time.Now()
			tc.Timing.Connect = now.Sub(tc.connectStart)
			tc.lastPhaseEnd = now
		},
		TLSHandshakeStart: func() {
			tc.tlsStart = time.Now()
		},
		TLSHandshakeDone: func(_ tls.ConnectionState, err error) {
			if err != nil {
				return
			}
			now := time.Now()
			tc.Timing.TLSHandshake = now.Sub(tc.tlsStart)
			tc.lastPhaseEnd = now
		},
		GotFirstResponseByte: func() {
			tc.firstByte = time.Now()
			tc.Timing.Waiting = tc.firstByte.Sub(tc.lastPhaseEnd)
		},
	}

	return trace, tc
}

// finish closes out the capture once the body is read (or the request
// failed before producing one).
func (tc *timingCapture) finish(body []byte) {
	now := time.Now()
	if !tc.firstByte.IsZero() && body != nil {
		tc.Timing.Receiving = now.Sub(tc.firstByte)
	}
	tc.Timing.Total = now.Sub(tc.start)
}

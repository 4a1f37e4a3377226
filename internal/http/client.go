// Package http implements the HTTP client used by virtual users.
//
// The client differs from a general-purpose API client in two ways that
// matter under load: a failed request is data, not an error path (Do
// always returns a Result and the error travels inside it), and every
// completed call can be recorded straight into the metric sink with its
// full phase timing breakdown captured via httptrace.
package http

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/wesleyorama2/stampede/internal/metrics"
)

// Recorder receives one sample per completed request. The metric sink
// implements it; tests substitute their own.
type Recorder interface {
	RecordHTTP(metrics.HTTPSample)
}

// Config holds client construction options.
type Config struct {
	// BaseURL is prefixed to request URLs that start with "/".
	BaseURL string

	// Timeout is the default per-request deadline. Zero means 30s.
	Timeout time.Duration

	// Headers are added to every request. A request-level header with
	// the same name wins.
	Headers map[string]string

	// UserAgent overrides the default User-Agent header.
	UserAgent string

	// RPS caps the request rate across all VUs sharing this client.
	// Zero means no cap.
	RPS float64

	// Transport tuning. The pool should be sized for the peak VU count
	// so steady-state iterations reuse connections instead of paying
	// connect and TLS handshake cost every time.
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	DisableKeepAlives   bool
	DisableCompression  bool
	InsecureSkipVerify  bool
}

// Client executes requests for virtual users. One client is shared by all
// VUs of a run so they draw from one connection pool; ForScenario stamps
// a scenario name onto recorded samples without splitting the pool.
type Client struct {
	hc       *http.Client
	cfg      Config
	limiter  *rate.Limiter
	recorder Recorder
	scenario string
}

const defaultTimeout = 30 * time.Second

// NewClient creates a client. The recorder may be nil, in which case
// results are returned but nothing is recorded.
func NewClient(cfg Config, recorder Recorder) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 256
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = 256
	}
	if cfg.IdleConnTimeout <= 0 {
		cfg.IdleConnTimeout = 90 * time.Second
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
		DisableCompression:  cfg.DisableCompression,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	}

	return &Client{
		// The per-request deadline comes from the context so requests
		// can override it; http.Client.Timeout stays unset.
		hc:       &http.Client{Transport: transport},
		cfg:      cfg,
		limiter:  limiter,
		recorder: recorder,
	}
}

// ForScenario returns a client view that attributes recorded samples to
// the named scenario. The connection pool, limiter, and recorder are
// shared with the parent.
func (c *Client) ForScenario(name string) *Client {
	view := *c
	view.scenario = name
	return &view
}

// Request describes one HTTP call.
type Request struct {
	// Name identifies the request in per-request metrics. Empty names
	// fall back to "METHOD url".
	Name string

	Method  string
	URL     string
	Headers map[string]string
	Body    []byte

	// Timeout overrides the client default for this call.
	Timeout time.Duration
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, name, url string) *Result {
	return c.Do(ctx, &Request{Name: name, Method: http.MethodGet, URL: url})
}

// Post issues a POST request.
func (c *Client) Post(ctx context.Context, name, url string, body []byte) *Result {
	return c.Do(ctx, &Request{Name: name, Method: http.MethodPost, URL: url, Body: body})
}

// Put issues a PUT request.
func (c *Client) Put(ctx context.Context, name, url string, body []byte) *Result {
	return c.Do(ctx, &Request{Name: name, Method: http.MethodPut, URL: url, Body: body})
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, name, url string) *Result {
	return c.Do(ctx, &Request{Name: name, Method: http.MethodDelete, URL: url})
}

// Do executes one request, waits on the shared rate cap if one is set,
// captures phase timings, and records the sample. The returned Result is
// never nil; transport errors are carried in Result.Err.
func (c *Client) Do(ctx context.Context, req *Request) *Result {
	res := &Result{Name: c.requestName(req), StartedAt: time.Now()}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			res.Err = err
			res.Timing.Total = time.Since(res.StartedAt)
			c.record(req, res)
			return res
		}
		// The clock starts after the cap, not before: queueing for a
		// slot is not target latency.
		res.StartedAt = time.Now()
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := c.build(reqCtx, req)
	if err != nil {
		res.Err = fmt.Errorf("build request: %w", err)
		res.Timing.Total = time.Since(res.StartedAt)
		c.record(req, res)
		return res
	}
	res.BytesSent = approxRequestSize(httpReq, len(req.Body))

	trace, timing := newTimingTrace(res.StartedAt)
	httpReq = httpReq.WithContext(httptrace.WithClientTrace(reqCtx, trace))

	httpResp, err := c.hc.Do(httpReq)
	if err != nil {
		res.Err = err
		res.TimedOut = isTimeout(err)
		timing.finish(nil)
		res.Timing = timing.Timing
		c.record(req, res)
		return res
	}

	body, readErr := io.ReadAll(httpResp.Body)
	httpResp.Body.Close()
	timing.finish(body)
	res.Timing = timing.Timing

	res.Status = httpResp.StatusCode
	res.StatusText = httpResp.Status
	res.Proto = httpResp.Proto
	res.Headers = httpResp.Header
	res.Body = body
	res.BytesReceived = int64(len(body))
	if readErr != nil {
		res.Err = fmt.Errorf("read response body: %w", readErr)
		res.TimedOut = res.TimedOut || isTimeout(readErr)
	}

	c.record(req, res)
	return res
}

// Batch executes requests concurrently and returns results in input
// order. Each request still honors the shared rate cap.
func (c *Client) Batch(ctx context.Context, reqs ...*Request) []*Result {
	results := make([]*Result, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req *Request) {
			defer wg.Done()
			results[i] = c.Do(ctx, req)
		}(i, req)
	}
	wg.Wait()
	return results
}

func (c *Client) requestName(req *Request) string {
	if req.Name != "" {
		return req.Name
	}
	return req.Method + " " + req.URL
}

func (c *Client) build(ctx context.Context, req *Request) (*http.Request, error) {
	url := req.URL
	if strings.HasPrefix(url, "/") && c.cfg.BaseURL != "" {
		url = strings.TrimSuffix(c.cfg.BaseURL, "/") + url
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, body)
	if err != nil {
		return nil, err
	}

	for k, v := range c.cfg.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if httpReq.Header.Get("User-Agent") == "" {
		ua := c.cfg.UserAgent
		if ua == "" {
			ua = "stampede"
		}
		httpReq.Header.Set("User-Agent", ua)
	}

	return httpReq, nil
}

func (c *Client) record(req *Request, res *Result) {
	if c.recorder == nil {
		return
	}
	c.recorder.RecordHTTP(metrics.HTTPSample{
		Request:       res.Name,
		Scenario:      c.scenario,
		Duration:      res.Timing.Total,
		DNS:           res.Timing.DNSLookup,
		Connect:       res.Timing.Connect,
		TLSHandshake:  res.Timing.TLSHandshake,
		Waiting:       res.Timing.Waiting,
		Receiving:     res.Timing.Receiving,
		Failed:        res.Failed(),
		TimedOut:      res.TimedOut,
		BytesSent:     res.BytesSent,
		BytesReceived: res.BytesReceived,
	})
}

// isTimeout reports whether err is a deadline or network timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// approxRequestSize estimates wire bytes for data_sent: request line plus
// headers plus body. Exact framing (chunking, HTTP/2 compression) is not
// worth tracking per request under load.
func approxRequestSize(req *http.Request, bodyLen int) int64 {
	size := int64(len(req.Method) + len(req.URL.RequestURI()) + len(req.Proto) + 4)
	size += int64(len("Host: ") + len(req.Host) + 2)
	for k, vs := range req.Header {
		for _, v := range vs {
			size += int64(len(k) + len(v) + 4)
		}
	}
	size += 2 + int64(bodyLen)
	return size
}

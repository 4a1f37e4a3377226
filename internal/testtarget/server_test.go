package testtarget

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestServer(t *testing.T, opts Options) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(New(opts).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s: %v", url, err)
		}
	}
	return resp
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, Options{})

	var body map[string]string
	resp := getJSON(t, srv.URL+"/health", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q", body["status"])
	}
}

func TestDataEndpoint(t *testing.T) {
	srv := newTestServer(t, Options{})

	var body map[string]interface{}
	resp := getJSON(t, srv.URL+"/api/data", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if _, ok := body["items"]; !ok {
		t.Error("response missing items")
	}
}

func TestSlowEndpoint(t *testing.T) {
	srv := newTestServer(t, Options{})

	start := time.Now()
	resp := getJSON(t, srv.URL+"/api/slow?delay=100", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("responded in %v, want >= 100ms", elapsed)
	}

	resp = getJSON(t, srv.URL+"/api/slow?delay=bogus", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad delay: status = %d, want 400", resp.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv := newTestServer(t, Options{})

	tests := []struct {
		path string
		want int
	}{
		{"/status/200", 200},
		{"/status/404", 404},
		{"/status/503", 503},
		{"/status/999", 400},
		{"/status/abc", 400},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp := getJSON(t, srv.URL+tt.path, nil)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestFailRate(t *testing.T) {
	srv := newTestServer(t, Options{})

	var failures int
	for i := 0; i < 50; i++ {
		resp := getJSON(t, srv.URL+"/fail-rate?rate=1", nil)
		if resp.StatusCode == http.StatusInternalServerError {
			failures++
		}
	}
	if failures != 50 {
		t.Errorf("rate=1 failed %d of 50 requests", failures)
	}

	resp := getJSON(t, srv.URL+"/fail-rate?rate=0", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("rate=0: status = %d", resp.StatusCode)
	}

	resp = getJSON(t, srv.URL+"/fail-rate?rate=2", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("rate=2: status = %d, want 400", resp.StatusCode)
	}
}

func TestEcho(t *testing.T) {
	srv := newTestServer(t, Options{})

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/echo?q=1", strings.NewReader("hello"))
	req.Header.Set("X-Custom", "abc")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Method  string            `json:"method"`
		Query   string            `json:"query"`
		Headers map[string]string `json:"headers"`
		Body    string            `json:"body"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Method != "POST" || body.Query != "q=1" || body.Body != "hello" {
		t.Errorf("echo = %+v", body)
	}
	if body.Headers["X-Custom"] != "abc" {
		t.Errorf("headers = %v", body.Headers)
	}
}

func TestCachedProducts(t *testing.T) {
	srv := newTestServer(t, Options{
		CacheTTL: time.Minute,
		DBDelay:  50 * time.Millisecond,
	})

	resp := getJSON(t, srv.URL+"/api/products/cached", nil)
	if got := resp.Header.Get("X-Cache"); got != CacheMiss {
		t.Errorf("first request X-Cache = %q, want %q", got, CacheMiss)
	}

	resp = getJSON(t, srv.URL+"/api/products/cached", nil)
	if got := resp.Header.Get("X-Cache"); got != CacheHit {
		t.Errorf("second request X-Cache = %q, want %q", got, CacheHit)
	}

	// Invalidate and confirm the next request misses again.
	post, err := http.Post(srv.URL+"/api/cache/invalidate", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	post.Body.Close()

	resp = getJSON(t, srv.URL+"/api/products/cached", nil)
	if got := resp.Header.Get("X-Cache"); got != CacheMiss {
		t.Errorf("post-invalidate X-Cache = %q, want %q", got, CacheMiss)
	}
}

func TestCacheCoalescesConcurrentMisses(t *testing.T) {
	var loads int
	var mu sync.Mutex
	cache := newProductCache(time.Minute, func() ([]byte, error) {
		mu.Lock()
		loads++
		mu.Unlock()
		time.Sleep(100 * time.Millisecond)
		return []byte(`{}`), nil
	})

	const callers = 10
	outcomes := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, outcome, err := cache.Get()
			if err != nil {
				t.Error(err)
			}
			outcomes[i] = outcome
		}(i)
	}
	wg.Wait()

	if loads != 1 {
		t.Errorf("backing load ran %d times, want 1", loads)
	}

	var misses, waits int
	for _, o := range outcomes {
		switch o {
		case CacheMiss:
			misses++
		case CacheWait:
			waits++
		}
	}
	if misses == 0 {
		t.Error("no caller led the load")
	}
	if waits == 0 {
		t.Error("no callers coalesced onto the in-flight load")
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	cache := newProductCache(50*time.Millisecond, func() ([]byte, error) {
		return []byte(`{}`), nil
	})

	if _, outcome, _ := cache.Get(); outcome != CacheMiss {
		t.Fatalf("first get = %q", outcome)
	}
	if _, outcome, _ := cache.Get(); outcome != CacheHit {
		t.Fatalf("second get = %q", outcome)
	}

	time.Sleep(80 * time.Millisecond)
	if _, outcome, _ := cache.Get(); outcome != CacheMiss {
		t.Errorf("post-expiry get = %q, want %q", outcome, CacheMiss)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, Options{})

	getJSON(t, srv.URL+"/health", nil)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		"testtarget_requests_total",
		"testtarget_request_duration_seconds",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

package workload

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wesleyorama2/stampede/internal/config"
	xhttp "github.com/wesleyorama2/stampede/internal/http"
	"github.com/wesleyorama2/stampede/internal/metrics"
)

// buildEnv compiles a scenario against a fresh sink and returns the
// pieces needed to run iterations by hand.
func buildEnv(t *testing.T, baseURL string, sc *config.ScenarioConfig) (Func, *Env, *metrics.Sink) {
	t.Helper()

	reg := metrics.NewRegistry()
	sink, err := metrics.NewSink(reg)
	if err != nil {
		t.Fatal(err)
	}

	fn, err := Build("test", sc, sink, ".")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	client := xhttp.NewClient(xhttp.Config{BaseURL: baseURL, Timeout: 2 * time.Second}, sink)
	env := NewEnv(EnvConfig{
		Scenario: "test",
		Client:   client.ForScenario("test"),
		Sink:     sink,
		Vars:     map[string]string{"baseUrl": baseURL},
	})
	return fn, env, sink
}

func scenarioWith(reqs ...config.RequestConfig) *config.ScenarioConfig {
	return &config.ScenarioConfig{Executor: "constant-vus", VUs: 1, Requests: reqs}
}

func TestBuildRunsChecksAndRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"items": []int{1, 2, 3}, "status": "ok"})
	}))
	defer srv.Close()

	sc := scenarioWith(config.RequestConfig{
		Name:   "list",
		Method: "GET",
		URL:    "{{baseUrl}}/api/products",
		Checks: []config.CheckConfig{
			{Name: "status is 200", Type: "status", Equals: "200"},
			{Name: "has items", Type: "jsonpath", Path: "items", Exists: true},
			{Name: "status field ok", Type: "jsonpath", Path: "status", Equals: "ok"},
			{Name: "body mentions items", Type: "bodyContains", Value: "items"},
		},
	})

	fn, env, sink := buildEnv(t, srv.URL, sc)
	s := env.NewSession(1)
	s.Reset()

	if err := fn(context.Background(), s); err != nil {
		t.Fatalf("iteration failed: %v", err)
	}

	sum := sink.Snapshot()
	checks := sum.Metric(metrics.MetricChecks)
	if checks.Rate.Passes != 4 || checks.Rate.Fails != 0 {
		t.Errorf("checks = %+v, want 4 passes", checks.Rate)
	}
	reqs := sum.Metric(metrics.MetricHTTPReqs)
	if reqs.Counter.Count != 1 {
		t.Errorf("http_reqs = %v, want 1", reqs.Counter.Count)
	}
	if rs, ok := sum.Requests["list"]; !ok || rs.Latency.Count != 1 {
		t.Errorf("per-request stats missing or empty: %+v", sum.Requests)
	}
}

func TestBuildFailedCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sc := scenarioWith(config.RequestConfig{
		Name:   "flaky",
		Method: "GET",
		URL:    "{{baseUrl}}/boom",
		Checks: []config.CheckConfig{
			{Name: "status is 200", Type: "status", Equals: "200"},
		},
	})

	fn, env, sink := buildEnv(t, srv.URL, sc)
	s := env.NewSession(1)
	s.Reset()

	// A 5xx response is a failed request but not an iteration error.
	if err := fn(context.Background(), s); err != nil {
		t.Fatalf("iteration returned error for non-2xx response: %v", err)
	}

	sum := sink.Snapshot()
	if sum.Metric(metrics.MetricChecks).Rate.Fails != 1 {
		t.Errorf("check did not fail: %+v", sum.Metric(metrics.MetricChecks).Rate)
	}
	if sum.ErrorRate() != 1.0 {
		t.Errorf("error rate = %v, want 1.0", sum.ErrorRate())
	}
}

func TestBuildTransportErrorFailsAllChecks(t *testing.T) {
	sc := scenarioWith(config.RequestConfig{
		Name:   "unreachable",
		Method: "GET",
		URL:    "http://127.0.0.1:1/nothing",
		Checks: []config.CheckConfig{
			{Name: "status is 200", Type: "status", Equals: "200"},
			{Name: "fast enough", Type: "maxDuration", Value: "1s"},
		},
	})

	fn, env, sink := buildEnv(t, "", sc)
	s := env.NewSession(1)
	s.Reset()

	err := fn(context.Background(), s)
	if err == nil {
		t.Fatal("expected iteration error for unreachable target")
	}

	sum := sink.Snapshot()
	checks := sum.Metric(metrics.MetricChecks)
	if checks.Rate.Fails != 2 || checks.Rate.Passes != 0 {
		t.Errorf("checks = %+v, want both failed", checks.Rate)
	}
}

func TestBuildExtractionChain(t *testing.T) {
	var sawToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			json.NewEncoder(w).Encode(map[string]string{"token": "tok-42"})
		case "/me":
			sawToken = r.Header.Get("Authorization")
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	sc := scenarioWith(
		config.RequestConfig{
			Name:   "login",
			Method: "POST",
			URL:    "{{baseUrl}}/login",
			Extract: []config.ExtractConfig{
				{Name: "token", Source: "body", Path: "token"},
			},
		},
		config.RequestConfig{
			Name:    "me",
			Method:  "GET",
			URL:     "{{baseUrl}}/me",
			Headers: map[string]string{"Authorization": "Bearer {{token}}"},
		},
	)

	fn, env, _ := buildEnv(t, srv.URL, sc)
	s := env.NewSession(1)
	s.Reset()

	if err := fn(context.Background(), s); err != nil {
		t.Fatalf("iteration failed: %v", err)
	}
	if sawToken != "Bearer tok-42" {
		t.Errorf("Authorization header = %q, want extracted token", sawToken)
	}
}

func TestBuildThinkTime(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	sc := scenarioWith(config.RequestConfig{
		Name:      "paced",
		Method:    "GET",
		URL:       "{{baseUrl}}/",
		ThinkTime: config.Duration(50 * time.Millisecond),
	})

	fn, env, _ := buildEnv(t, srv.URL, sc)
	s := env.NewSession(1)
	s.Reset()

	start := time.Now()
	if err := fn(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("iteration took %v, think time not applied", elapsed)
	}
}

func TestBuildDeclaresNamesBeforeFreeze(t *testing.T) {
	reg := metrics.NewRegistry()
	sink, err := metrics.NewSink(reg)
	if err != nil {
		t.Fatal(err)
	}

	sc := scenarioWith(config.RequestConfig{
		Name: "r1", Method: "GET", URL: "http://x/",
		Checks: []config.CheckConfig{{Name: "c1", Type: "status", Equals: "200"}},
	})
	if _, err := Build("test", sc, sink, "."); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	reg.Freeze()

	// After freeze, building another scenario must fail loudly instead
	// of silently adding summary rows mid-run.
	sc2 := scenarioWith(config.RequestConfig{Name: "late", Method: "GET", URL: "http://x/"})
	if _, err := Build("late", sc2, sink, "."); err == nil {
		t.Error("Build succeeded after registry freeze")
	}
}

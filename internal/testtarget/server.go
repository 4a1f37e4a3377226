// Package testtarget is a self-contained HTTP server to load test
// against: fixed and tunable latency, a cached product catalog with
// miss coalescing, controllable error rates, and a prometheus
// endpoint. Tests mount Handler() in an httptest.Server; the
// standalone binary serves it on a port.
package testtarget

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	defaultCacheTTL = 30 * time.Second
	dbQueryDelay    = 200 * time.Millisecond
	maxSlowDelay    = 10 * time.Second
)

// Options tune the server. Zero values get defaults.
type Options struct {
	Logger *zap.Logger

	// CacheTTL is the product cache expiry, default 30s.
	CacheTTL time.Duration

	// DBDelay simulates the uncached catalog query, default 200ms.
	DBDelay time.Duration
}

// Server is the demo target.
type Server struct {
	logger  *zap.Logger
	cache   *productCache
	router  chi.Router
	dbDelay time.Duration

	reg      *prometheus.Registry
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	cacheOps *prometheus.CounterVec
}

// New builds a server with its own prometheus registry, so multiple
// instances can coexist in one process.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := opts.CacheTTL
	if ttl == 0 {
		ttl = defaultCacheTTL
	}
	dbDelay := opts.DBDelay
	if dbDelay == 0 {
		dbDelay = dbQueryDelay
	}

	s := &Server{
		logger:  logger,
		reg:     prometheus.NewRegistry(),
		dbDelay: dbDelay,
	}
	s.cache = newProductCache(ttl, func() ([]byte, error) {
		time.Sleep(dbDelay)
		return productPayload(), nil
	})

	s.requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "testtarget_requests_total",
			Help: "Total HTTP requests served",
		},
		[]string{"method", "path", "status"},
	)
	s.latency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "testtarget_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	s.cacheOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "testtarget_cache_ops_total",
			Help: "Product cache outcomes by type (hit, miss, wait)",
		},
		[]string{"outcome"},
	)
	s.reg.MustRegister(s.requests, s.latency, s.cacheOps)

	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.instrument)

	r.Get("/health", s.handleHealth)
	r.Get("/api/data", s.handleData)
	r.Get("/api/slow", s.handleSlow)
	r.Get("/api/products/db", s.handleProductsDB)
	r.Get("/api/products/cached", s.handleProductsCached)
	r.Post("/api/cache/invalidate", s.handleInvalidate)
	r.Get("/status/{code}", s.handleStatus)
	r.Get("/fail-rate", s.handleFailRate)
	r.HandleFunc("/echo", s.handleEcho)
	r.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))

	return r
}

// instrument records the request counter and latency histogram using
// the chi route pattern so path parameters don't explode cardinality.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = r.URL.Path
		}
		s.requests.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		s.latency.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	// Small jitter so latency distributions have some shape.
	time.Sleep(time.Duration(5+rand.Intn(10)) * time.Millisecond)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items":     []string{"alpha", "beta", "gamma"},
		"timestamp": time.Now().UnixMilli(),
	})
}

func (s *Server) handleSlow(w http.ResponseWriter, r *http.Request) {
	delay := 250 * time.Millisecond
	if q := r.URL.Query().Get("delay"); q != "" {
		ms, err := strconv.Atoi(q)
		if err != nil || ms < 0 {
			http.Error(w, "invalid delay", http.StatusBadRequest)
			return
		}
		delay = time.Duration(ms) * time.Millisecond
	}
	if delay > maxSlowDelay {
		delay = maxSlowDelay
	}

	select {
	case <-time.After(delay):
	case <-r.Context().Done():
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"delayedMs": delay.Milliseconds()})
}

func (s *Server) handleProductsDB(w http.ResponseWriter, r *http.Request) {
	time.Sleep(s.dbDelay)
	w.Header().Set("Content-Type", "application/json")
	w.Write(productPayload())
}

func (s *Server) handleProductsCached(w http.ResponseWriter, r *http.Request) {
	data, outcome, err := s.cache.Get()
	if err != nil {
		s.logger.Error("product cache load failed", zap.Error(err))
		http.Error(w, "cache load failed", http.StatusInternalServerError)
		return
	}
	s.cacheOps.WithLabelValues(outcome).Inc()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", outcome)
	w.Write(data)
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	s.cache.Invalidate()
	s.logger.Info("product cache invalidated")
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.Atoi(chi.URLParam(r, "code"))
	if err != nil || code < 100 || code > 599 {
		http.Error(w, "invalid status code", http.StatusBadRequest)
		return
	}
	w.WriteHeader(code)
	fmt.Fprintf(w, "status %d\n", code)
}

func (s *Server) handleFailRate(w http.ResponseWriter, r *http.Request) {
	failRate := 0.3
	if q := r.URL.Query().Get("rate"); q != "" {
		f, err := strconv.ParseFloat(q, 64)
		if err != nil || f < 0 || f > 1 {
			http.Error(w, "invalid rate", http.StatusBadRequest)
			return
		}
		failRate = f
	}

	if rand.Float64() < failRate {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEcho(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}

	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"method":  r.Method,
		"path":    r.URL.Path,
		"query":   r.URL.RawQuery,
		"headers": headers,
		"body":    string(body),
	})
}

func productPayload() []byte {
	products := []map[string]interface{}{
		{"id": 1, "name": "widget", "price": 9.99},
		{"id": 2, "name": "gadget", "price": 24.50},
		{"id": 3, "name": "sprocket", "price": 3.25},
		{"id": 4, "name": "flange", "price": 17.80},
	}
	data, _ := json.Marshal(map[string]interface{}{"products": products})
	return data
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

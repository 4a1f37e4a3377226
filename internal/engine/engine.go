// Package engine orchestrates a load test run: it wires the metric
// sink, HTTP client, data sources, and scenarios together, runs every
// scenario under its executor, and evaluates thresholds on the final
// summary.
package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/stampede/internal/config"
	"github.com/wesleyorama2/stampede/internal/data"
	"github.com/wesleyorama2/stampede/internal/executor"
	xhttp "github.com/wesleyorama2/stampede/internal/http"
	"github.com/wesleyorama2/stampede/internal/metrics"
	"github.com/wesleyorama2/stampede/internal/scenario"
	"github.com/wesleyorama2/stampede/internal/threshold"
	"github.com/wesleyorama2/stampede/internal/vu"
	"github.com/wesleyorama2/stampede/internal/workload"
)

// abortCheckInterval is how often abortable thresholds are re-evaluated
// against a live snapshot during the run.
const abortCheckInterval = 2 * time.Second

// Engine runs one test from a validated configuration.
//
// Example:
//
//	cfg, _ := config.LoadConfig("test.yaml")
//	eng, _ := engine.New(cfg, engine.Options{ConfigDir: config.ConfigDir("test.yaml")})
//	result, _ := eng.Run(ctx)
//	os.Exit(result.ExitCode())
type Engine struct {
	cfg    *config.TestConfig
	logger *zap.Logger

	reg        *metrics.Registry
	sink       *metrics.Sink
	client     *xhttp.Client
	sources    data.Sources
	scenarios  *scenario.Registry
	thresholds *threshold.Set

	runners map[string]*runner

	running     atomic.Bool
	aborted     atomic.Bool
	abortReason atomic.Pointer[string]
	cancelRun   atomic.Pointer[context.CancelFunc]
}

// runner pairs a scenario with its dedicated VU scheduler.
type runner struct {
	scenario *scenario.Scenario
	sched    *vu.Scheduler
}

// Options configure engine construction.
type Options struct {
	// Logger defaults to a no-op logger.
	Logger *zap.Logger

	// ConfigDir anchors relative paths (data files, schema files) from
	// the config. Defaults to the working directory.
	ConfigDir string
}

// New builds an engine from a configuration. Defaults are applied and
// the whole config validated; after New returns, the metric registry is
// frozen and nothing can add metrics, requests, or checks mid-run.
func New(cfg *config.TestConfig, opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	configDir := opts.ConfigDir
	if configDir == "" {
		configDir = "."
	}

	config.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	e := &Engine{
		cfg:     cfg,
		logger:  logger,
		reg:     metrics.NewRegistry(),
		runners: make(map[string]*runner),
	}

	sink, err := metrics.NewSink(e.reg)
	if err != nil {
		return nil, err
	}
	e.sink = sink

	if err := e.declareCustomMetrics(); err != nil {
		return nil, err
	}

	e.thresholds, err = cfg.BuildThresholds()
	if err != nil {
		return nil, fmt.Errorf("thresholds: %w", err)
	}

	if err := e.loadDataSources(configDir); err != nil {
		return nil, err
	}

	e.client = xhttp.NewClient(xhttp.Config{
		BaseURL:             cfg.Settings.BaseURL,
		Timeout:             cfg.Settings.Timeout.D(),
		Headers:             cfg.Settings.Headers,
		UserAgent:           cfg.Settings.UserAgent,
		RPS:                 cfg.Settings.RPS,
		MaxConnsPerHost:     cfg.Settings.MaxConnectionsPerHost,
		MaxIdleConnsPerHost: cfg.Settings.MaxIdleConnsPerHost,
		InsecureSkipVerify:  cfg.Settings.InsecureSkipVerify,
	}, sink)

	e.scenarios, err = scenario.Build(cfg, sink, configDir)
	if err != nil {
		return nil, err
	}

	vars := e.globalVars()
	for _, s := range e.scenarios.All() {
		env := s.NewEnv(workload.EnvConfig{
			Client:  e.client.ForScenario(s.Name),
			Sink:    sink,
			Sources: e.sources,
			Vars:    vars,
			Logger:  logger,
		})
		e.runners[s.Name] = &runner{
			scenario: s,
			sched:    vu.NewScheduler(env, s.Workload, sink, logger.With(zap.String("scenario", s.Name))),
		}
	}

	// Every metric, request, and check is declared by now.
	e.reg.Freeze()
	return e, nil
}

func (e *Engine) declareCustomMetrics() error {
	for name, mc := range e.cfg.Metrics {
		kind, ok := metrics.ParseKind(mc.Kind)
		if !ok {
			return fmt.Errorf("metric %q: unknown kind %q", name, mc.Kind)
		}
		unit, ok := metrics.ParseUnit(mc.Unit)
		if !ok {
			return fmt.Errorf("metric %q: unknown unit %q", name, mc.Unit)
		}
		if _, err := e.reg.Declare(name, kind, unit); err != nil {
			return fmt.Errorf("metric %q: %w", name, err)
		}
	}
	return nil
}

func (e *Engine) loadDataSources(configDir string) error {
	if len(e.cfg.Data) == 0 {
		return nil
	}
	e.sources = make(data.Sources, len(e.cfg.Data))
	for name, dc := range e.cfg.Data {
		mode, err := data.ParseMode(dc.Mode)
		if err != nil {
			return fmt.Errorf("data %q: %w", name, err)
		}
		src, err := data.LoadFile(name, dc.File, mode, configDir)
		if err != nil {
			return fmt.Errorf("data %q: %w", name, err)
		}
		e.sources[name] = src
		e.logger.Info("loaded data source",
			zap.String("source", name),
			zap.Int("rows", src.Len()))
	}
	return nil
}

// globalVars builds the static variable scope every scenario inherits.
func (e *Engine) globalVars() map[string]string {
	vars := make(map[string]string, len(e.cfg.Variables)+2)
	for k, v := range e.cfg.Variables {
		vars[k] = v
	}
	if e.cfg.Settings.BaseURL != "" {
		vars["baseUrl"] = e.cfg.Settings.BaseURL
		vars["baseURL"] = e.cfg.Settings.BaseURL
	}
	return vars
}

// Run executes every scenario and blocks until the run completes, is
// aborted by a threshold, or the context is cancelled. The returned
// Result is complete in all three cases; the error reports only
// infrastructure failures, never threshold outcomes.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("engine is already running")
	}
	defer e.running.Store(false)

	runCtx, cancel := context.WithCancel(ctx)
	e.cancelRun.Store(&cancel)
	defer cancel()

	if deadline := e.maxDuration(); deadline > 0 {
		var tcancel context.CancelFunc
		runCtx, tcancel = context.WithTimeout(runCtx, deadline)
		defer tcancel()
	}

	e.sink.Start()
	e.logger.Info("run started",
		zap.String("test", e.cfg.Name),
		zap.Int("scenarios", e.scenarios.Len()))

	if e.thresholds.HasAbortable() {
		go e.watchAbort(runCtx, cancel)
	}

	g, gctx := errgroup.WithContext(runCtx)
	for _, r := range e.runners {
		r := r
		g.Go(func() error {
			return e.runScenario(gctx, r)
		})
	}
	runErr := g.Wait()

	summary := e.sink.Finalize()
	results, passed := e.thresholds.Evaluate(summary)

	aborted := e.aborted.Load()
	reason := ""
	if p := e.abortReason.Load(); p != nil {
		reason = *p
	}

	result := &Result{
		Name:        e.cfg.Name,
		Description: e.cfg.Description,
		StartedAt:   summary.StartedAt,
		Duration:    summary.Duration,
		Passed:      passed && !aborted,
		Aborted:     aborted,
		AbortReason: reason,
		Summary:     summary,
		Thresholds:  results,
		Scenarios:   e.scenarioResults(),
	}

	e.logger.Info("run finished",
		zap.Bool("passed", result.Passed),
		zap.Bool("aborted", aborted),
		zap.Duration("duration", result.Duration))

	if runErr != nil && ctx.Err() == nil {
		return result, runErr
	}
	return result, nil
}

// runScenario waits out the scenario's start offset and runs its
// executor. The scenario stays pending, with zero VU activity, until
// the offset elapses.
func (e *Engine) runScenario(ctx context.Context, r *runner) error {
	if offset := r.scenario.StartTime; offset > 0 {
		e.logger.Info("scenario pending",
			zap.String("scenario", r.scenario.Name),
			zap.Duration("startTime", offset))
		timer := time.NewTimer(offset)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
	}

	e.logger.Info("scenario starting",
		zap.String("scenario", r.scenario.Name),
		zap.String("executor", string(r.scenario.Exec.Type())))

	if err := r.scenario.Exec.Run(ctx, r.sched); err != nil {
		return fmt.Errorf("scenario %q: %w", r.scenario.Name, err)
	}
	return nil
}

// watchAbort re-evaluates abortable thresholds against live snapshots
// and cancels the run on the first breach.
func (e *Engine) watchAbort(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(abortCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, abort := e.thresholds.EvaluateAbort(e.sink.Snapshot())
			if !abort {
				continue
			}
			reason := fmt.Sprintf("threshold %s: %s (actual %.4f)",
				res.Metric, res.Expression, res.Actual)
			e.abortReason.Store(&reason)
			e.aborted.Store(true)
			e.logger.Warn("aborting run on threshold breach",
				zap.String("metric", res.Metric),
				zap.String("expression", res.Expression),
				zap.Float64("actual", res.Actual))
			cancel()
			return
		}
	}
}

// maxDuration returns the run-level deadline: the configured
// maxDuration, or the latest planned scenario end when every scenario
// is bounded, or zero for no deadline.
func (e *Engine) maxDuration() time.Duration {
	if d := e.cfg.Settings.MaxDuration.D(); d > 0 {
		return d
	}
	return e.scenarios.TotalDuration()
}

func (e *Engine) scenarioResults() map[string]*ScenarioResult {
	out := make(map[string]*ScenarioResult, len(e.runners))
	for name, r := range e.runners {
		stats := r.scenario.Exec.Stats()
		out[name] = &ScenarioResult{
			Name:       name,
			Executor:   string(r.scenario.Exec.Type()),
			Iterations: stats.Iterations,
			Duration:   stats.Elapsed,
		}
	}
	return out
}

// Stop requests an early graceful stop of the whole run.
func (e *Engine) Stop() {
	for _, r := range e.runners {
		r.scenario.Exec.Stop()
	}
	if c := e.cancelRun.Load(); c != nil {
		(*c)()
	}
}

// Running reports whether a run is in progress.
func (e *Engine) Running() bool { return e.running.Load() }

// Config returns the engine's configuration.
func (e *Engine) Config() *config.TestConfig { return e.cfg }

// Snapshot returns a live metrics summary during the run.
func (e *Engine) Snapshot() *metrics.Summary { return e.sink.Snapshot() }

// Progress averages per-scenario progress, 0 to 1.
func (e *Engine) Progress() float64 {
	if len(e.runners) == 0 {
		return 0
	}
	var total float64
	for _, r := range e.runners {
		total += r.scenario.Exec.Progress()
	}
	return total / float64(len(e.runners))
}

// ScenarioStats returns live per-scenario executor stats.
func (e *Engine) ScenarioStats() map[string]*executor.Stats {
	out := make(map[string]*executor.Stats, len(e.runners))
	for name, r := range e.runners {
		out[name] = r.scenario.Exec.Stats()
	}
	return out
}

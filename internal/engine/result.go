package engine

import (
	"time"

	"github.com/wesleyorama2/stampede/internal/metrics"
	"github.com/wesleyorama2/stampede/internal/threshold"
)

// Exit codes, usable directly with os.Exit.
const (
	// ExitPassed means the run completed and all thresholds held.
	ExitPassed = 0
	// ExitThresholdFailed means the run completed but a threshold failed.
	ExitThresholdFailed = 1
	// ExitAborted means an abortOnFail threshold cut the run short.
	ExitAborted = 2
)

// Result is the complete outcome of one run.
type Result struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	StartedAt   time.Time     `json:"startedAt"`
	Duration    time.Duration `json:"duration"`

	// Passed is true when the run completed and every threshold held
	// (allowFail thresholds excepted).
	Passed bool `json:"passed"`

	// Aborted is true when an abortOnFail threshold stopped the run.
	Aborted     bool   `json:"aborted"`
	AbortReason string `json:"abortReason,omitempty"`

	Summary    *metrics.Summary           `json:"summary"`
	Thresholds []threshold.Result         `json:"thresholds,omitempty"`
	Scenarios  map[string]*ScenarioResult `json:"scenarios"`
}

// ScenarioResult is the per-scenario outcome.
type ScenarioResult struct {
	Name       string        `json:"name"`
	Executor   string        `json:"executor"`
	Iterations int64         `json:"iterations"`
	Duration   time.Duration `json:"duration"`
}

// ExitCode maps the outcome onto the process exit convention.
func (r *Result) ExitCode() int {
	switch {
	case r.Aborted:
		return ExitAborted
	case !r.Passed:
		return ExitThresholdFailed
	default:
		return ExitPassed
	}
}

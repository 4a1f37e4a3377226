package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/wesleyorama2/stampede/internal/data"
	"github.com/wesleyorama2/stampede/internal/metrics"
	"github.com/wesleyorama2/stampede/internal/threshold"
	"github.com/wesleyorama2/stampede/pkg/jsonschema"
)

// ValidationError is one problem found in the configuration.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every problem found in one pass, so a user
// fixing a config sees all of them at once instead of one per run.
type ValidationErrors []ValidationError

// Add appends a problem.
func (ve *ValidationErrors) Add(field, format string, args ...interface{}) {
	*ve = append(*ve, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// HasErrors reports whether any problem was recorded.
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Error implements the error interface.
func (ve ValidationErrors) Error() string {
	msgs := make([]string, len(ve))
	for i, e := range ve {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// executorTypes lists the recognized executor names. The executor
// package owns the semantics; the names are duplicated here so config
// validation does not depend on it.
var executorTypes = map[string]bool{
	"constant-vus":          true,
	"ramping-vus":           true,
	"constant-arrival-rate": true,
	"ramping-arrival-rate":  true,
	"shared-iterations":     true,
	"per-vu-iterations":     true,
}

// Validate walks the whole configuration and returns every problem
// found. A nil return means the config is safe to run.
func (c *TestConfig) Validate() error {
	var errs ValidationErrors

	c.validateSettings(&errs)
	c.validateData(&errs)

	// A scratch registry mirrors what the run will declare, so threshold
	// metric references are checked against the real schema.
	reg := c.validateMetrics(&errs)

	if len(c.Scenarios) == 0 {
		errs.Add("scenarios", "at least one scenario is required")
	}
	for name, sc := range c.Scenarios {
		if sc == nil {
			errs.Add("scenarios."+name, "scenario is empty")
			continue
		}
		c.validateScenario(name, sc, &errs)
	}

	c.validateThresholds(reg, &errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func (c *TestConfig) validateSettings(errs *ValidationErrors) {
	s := &c.Settings
	if s.Timeout < 0 {
		errs.Add("settings.timeout", "must not be negative")
	}
	if s.RPS < 0 {
		errs.Add("settings.rps", "must not be negative")
	}
	if s.MaxDuration < 0 {
		errs.Add("settings.maxDuration", "must not be negative")
	}
	if s.GracefulStop < 0 {
		errs.Add("settings.gracefulStop", "must not be negative")
	}
	if s.MaxConnectionsPerHost < 0 {
		errs.Add("settings.maxConnectionsPerHost", "must not be negative")
	}
}

func (c *TestConfig) validateData(errs *ValidationErrors) {
	for name, dc := range c.Data {
		field := "data." + name
		if dc.File == "" {
			errs.Add(field+".file", "file path is required")
		} else if ext := strings.ToLower(filepath.Ext(dc.File)); ext != ".csv" && ext != ".json" {
			errs.Add(field+".file", "unsupported format %q (use .csv or .json)", ext)
		}
		if _, err := data.ParseMode(dc.Mode); err != nil {
			errs.Add(field+".mode", "%v", err)
		}
	}
}

// validateMetrics declares built-ins plus customs on a scratch registry
// and returns it for threshold metric lookup.
func (c *TestConfig) validateMetrics(errs *ValidationErrors) *metrics.Registry {
	reg := metrics.NewRegistry()
	if _, err := metrics.RegisterBuiltins(reg); err != nil {
		errs.Add("metrics", "internal: %v", err)
		return reg
	}

	for name, mc := range c.Metrics {
		field := "metrics." + name
		kind, ok := metrics.ParseKind(mc.Kind)
		if !ok {
			errs.Add(field+".kind", "unknown kind %q (use counter, gauge, rate, or trend)", mc.Kind)
			continue
		}
		unit, ok := metrics.ParseUnit(mc.Unit)
		if !ok {
			errs.Add(field+".unit", "unknown unit %q (use duration or data, or omit)", mc.Unit)
			continue
		}
		if _, err := reg.Declare(name, kind, unit); err != nil {
			errs.Add(field, "%v", err)
		}
	}
	return reg
}

func (c *TestConfig) validateScenario(name string, sc *ScenarioConfig, errs *ValidationErrors) {
	field := "scenarios." + name

	if sc.Executor == "" {
		errs.Add(field+".executor", "executor type is required")
		return
	}
	if !executorTypes[sc.Executor] {
		errs.Add(field+".executor", "unknown executor %q", sc.Executor)
		return
	}

	if sc.StartTime < 0 {
		errs.Add(field+".startTime", "must not be negative")
	}
	if sc.GracefulStop < 0 {
		errs.Add(field+".gracefulStop", "must not be negative")
	}

	switch sc.Executor {
	case "constant-vus":
		if sc.VUs <= 0 {
			errs.Add(field+".vus", "must be > 0")
		}
		if sc.Duration <= 0 {
			errs.Add(field+".duration", "must be > 0")
		}

	case "ramping-vus", "ramping-arrival-rate":
		c.validateStages(field, sc.Stages, errs)

	case "constant-arrival-rate":
		if sc.Rate <= 0 {
			errs.Add(field+".rate", "must be > 0")
		}
		if sc.Duration <= 0 {
			errs.Add(field+".duration", "must be > 0")
		}

	case "shared-iterations", "per-vu-iterations":
		if sc.VUs <= 0 {
			errs.Add(field+".vus", "must be > 0")
		}
		if sc.Iterations <= 0 {
			errs.Add(field+".iterations", "must be > 0")
		}
	}

	switch sc.Executor {
	case "constant-arrival-rate", "ramping-arrival-rate":
		if sc.TimeUnit < 0 {
			errs.Add(field+".timeUnit", "must not be negative")
		}
		if sc.PreAllocatedVUs < 0 {
			errs.Add(field+".preAllocatedVUs", "must not be negative")
		}
		if sc.MaxVUs != 0 && sc.MaxVUs < sc.PreAllocatedVUs {
			errs.Add(field+".maxVUs", "must be >= preAllocatedVUs")
		}
	}

	if len(sc.Requests) == 0 {
		errs.Add(field+".requests", "at least one request is required")
	}
	for i := range sc.Requests {
		c.validateRequest(fmt.Sprintf("%s.requests[%d]", field, i), name, &sc.Requests[i], errs)
	}
}

func (c *TestConfig) validateStages(field string, stages []StageConfig, errs *ValidationErrors) {
	if len(stages) == 0 {
		errs.Add(field+".stages", "at least one stage is required")
		return
	}
	for i, st := range stages {
		if st.Duration <= 0 {
			errs.Add(fmt.Sprintf("%s.stages[%d].duration", field, i), "must be > 0")
		}
		if st.Target < 0 {
			errs.Add(fmt.Sprintf("%s.stages[%d].target", field, i), "must not be negative")
		}
	}
}

func (c *TestConfig) validateRequest(field, scenario string, req *RequestConfig, errs *ValidationErrors) {
	if req.URL == "" {
		errs.Add(field+".url", "url is required")
	} else if strings.HasPrefix(req.URL, "/") && c.Settings.BaseURL == "" && !strings.Contains(req.URL, "{{") {
		errs.Add(field+".url", "relative url needs settings.baseUrl")
	}

	if req.Timeout < 0 {
		errs.Add(field+".timeout", "must not be negative")
	}
	if req.ThinkTime < 0 {
		errs.Add(field+".thinkTime", "must not be negative")
	}

	for i := range req.Checks {
		c.validateCheck(fmt.Sprintf("%s.checks[%d]", field, i), &req.Checks[i], errs)
	}
	for i, ext := range req.Extract {
		extField := fmt.Sprintf("%s.extract[%d]", field, i)
		if ext.Name == "" {
			errs.Add(extField+".name", "variable name is required")
		}
		switch ext.Source {
		case "", "body":
			if ext.Path == "" {
				errs.Add(extField+".path", "jsonpath is required for body extraction")
			}
		case "header":
			if ext.Path == "" {
				errs.Add(extField+".path", "header name is required")
			}
		case "status":
		default:
			errs.Add(extField+".source", "unknown source %q (use body, header, or status)", ext.Source)
		}
	}
}

func (c *TestConfig) validateCheck(field string, check *CheckConfig, errs *ValidationErrors) {
	switch check.Type {
	case "status":
		hasEquals := check.Equals != ""
		hasRange := check.Min != 0 || check.Max != 0
		if !hasEquals && !hasRange {
			errs.Add(field, "status check needs equals or min/max")
		}
		if hasEquals {
			if _, err := strconv.Atoi(check.Equals); err != nil {
				errs.Add(field+".equals", "invalid status code %q", check.Equals)
			}
		}
		if hasRange && check.Max != 0 && check.Max < check.Min {
			errs.Add(field+".max", "must be >= min")
		}

	case "bodyContains":
		if check.Value == "" {
			errs.Add(field+".value", "substring is required")
		}

	case "maxDuration":
		d, err := ParseDurationString(check.Value)
		if err != nil {
			errs.Add(field+".value", "%v", err)
		} else if d <= 0 {
			errs.Add(field+".value", "must be > 0")
		}

	case "jsonpath":
		if check.Path == "" {
			errs.Add(field+".path", "jsonpath is required")
		}
		if !check.Exists && check.Equals == "" {
			errs.Add(field, "jsonpath check needs exists or equals")
		}

	case "jsonschema":
		if check.Schema == "" && check.SchemaFile == "" {
			errs.Add(field, "jsonschema check needs schema or schemaFile")
		}
		if check.Schema != "" {
			if _, err := jsonschema.Compile(check.Schema); err != nil {
				errs.Add(field+".schema", "%v", err)
			}
		}

	case "":
		errs.Add(field+".type", "check type is required")
	default:
		errs.Add(field+".type", "unknown check type %q", check.Type)
	}
}

func (c *TestConfig) validateThresholds(reg *metrics.Registry, errs *ValidationErrors) {
	for metricName, specs := range c.Thresholds {
		field := "thresholds." + metricName

		m, declared := reg.Get(metricName)
		if !declared {
			errs.Add(field, "metric %q is not declared (built-in or metrics section)", metricName)
			continue
		}

		for i, tc := range specs {
			exprField := fmt.Sprintf("%s[%d]", field, i)
			t, err := threshold.Parse(metricName, tc.Expression)
			if err != nil {
				errs.Add(exprField, "%v", err)
				continue
			}
			if err := t.CheckKind(m.Kind()); err != nil {
				errs.Add(exprField, "%v", err)
			}
		}
	}
}

// BuildThresholds compiles the threshold section into an evaluable set.
// Assumes Validate has passed; parse errors here are returned anyway so
// the call is safe on its own.
func (c *TestConfig) BuildThresholds() (*threshold.Set, error) {
	set := threshold.NewSet()
	for metricName, specs := range c.Thresholds {
		for _, tc := range specs {
			t, err := threshold.Parse(metricName, tc.Expression)
			if err != nil {
				return nil, err
			}
			t.AbortOnFail = tc.AbortOnFail
			t.AllowFail = tc.AllowFail
			set.Add(t)
		}
	}
	return set, nil
}

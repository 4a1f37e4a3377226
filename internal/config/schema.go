// Package config defines the test configuration surface: the YAML/JSON
// schema, the loader with environment overrides, and validation.
//
// Everything here is read once at process start. A configuration that
// survives Validate produces no errors later in the run; malformed
// stages, unknown executors, undeclared threshold metrics, and missing
// data files are all rejected before any traffic is generated.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// TestConfig is the root of a test definition.
//
// Example YAML:
//
//	name: "Checkout soak"
//	settings:
//	  baseUrl: http://localhost:8080
//	  timeout: 30s
//	scenarios:
//	  browse:
//	    executor: ramping-vus
//	    stages:
//	      - {duration: 30s, target: 10}
//	      - {duration: 2m,  target: 10}
//	      - {duration: 30s, target: 0}
//	    requests:
//	      - name: "List products"
//	        method: GET
//	        url: "{{baseUrl}}/api/products/cached"
//	thresholds:
//	  http_req_duration: ["p95 < 500ms"]
type TestConfig struct {
	// Name of the test, used in reports.
	Name string `json:"name" yaml:"name"`

	// Description is free text for reports.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Settings are global HTTP and run settings.
	Settings Settings `json:"settings,omitempty" yaml:"settings,omitempty"`

	// Variables are available to all scenarios via {{name}} placeholders.
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`

	// Data declares named data sources fed to iterations.
	Data map[string]DataConfig `json:"data,omitempty" yaml:"data,omitempty"`

	// Metrics declares custom metrics. Built-in metrics need no
	// declaration; a threshold or workload referencing a metric that is
	// neither built-in nor declared here is a configuration error.
	Metrics map[string]MetricConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`

	// Scenarios maps scenario name to its load profile.
	Scenarios map[string]*ScenarioConfig `json:"scenarios" yaml:"scenarios"`

	// Thresholds maps metric name to its pass/fail criteria.
	Thresholds map[string][]ThresholdConfig `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
}

// Settings are the global knobs shared by all scenarios.
type Settings struct {
	// BaseURL is prefixed to relative request URLs and exposed as the
	// {{baseUrl}} variable.
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`

	// Timeout is the default per-request deadline.
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// RPS caps the request rate across the whole run. Zero means no cap.
	RPS float64 `json:"rps,omitempty" yaml:"rps,omitempty"`

	// MaxDuration is the run-level deadline. Zero derives it from the
	// scenarios.
	MaxDuration Duration `json:"maxDuration,omitempty" yaml:"maxDuration,omitempty"`

	// GracefulStop is the default drain grace for scenarios that do not
	// set their own.
	GracefulStop Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// MaxConnectionsPerHost limits connections per target host. Zero is
	// unlimited.
	MaxConnectionsPerHost int `json:"maxConnectionsPerHost,omitempty" yaml:"maxConnectionsPerHost,omitempty"`

	// MaxIdleConnsPerHost sizes the idle connection pool per host.
	MaxIdleConnsPerHost int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`

	// UserAgent overrides the default User-Agent header.
	UserAgent string `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`

	// Headers are added to every request.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// DataConfig declares one data source.
type DataConfig struct {
	// File is the path to a .csv or .json file, relative to the config
	// file's directory.
	File string `json:"file" yaml:"file"`

	// Mode is "sequential" (default) or "random".
	Mode string `json:"mode,omitempty" yaml:"mode,omitempty"`
}

// MetricConfig declares one custom metric.
type MetricConfig struct {
	// Kind is "counter", "gauge", "rate", or "trend".
	Kind string `json:"kind" yaml:"kind"`

	// Unit is "" (plain number), "duration", or "data".
	Unit string `json:"unit,omitempty" yaml:"unit,omitempty"`
}

// ScenarioConfig defines one scenario: an executor policy plus the
// request list its virtual users execute.
type ScenarioConfig struct {
	// Executor selects the scheduling policy: constant-vus, ramping-vus,
	// constant-arrival-rate, ramping-arrival-rate, shared-iterations, or
	// per-vu-iterations.
	Executor string `json:"executor" yaml:"executor"`

	// StartTime delays the scenario relative to run start. The scenario
	// stays pending, with zero VU activity, until the run clock reaches
	// this offset.
	StartTime Duration `json:"startTime,omitempty" yaml:"startTime,omitempty"`

	// GracefulStop overrides settings.gracefulStop for this scenario.
	GracefulStop Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// VUs is the pool size for closed-model executors.
	VUs int `json:"vus,omitempty" yaml:"vus,omitempty"`

	// Duration is how long the scenario runs (closed model and
	// constant-arrival-rate), or a cap for iteration-based executors.
	Duration Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Iterations is the iteration budget for shared-iterations (total)
	// and per-vu-iterations (per VU).
	Iterations int64 `json:"iterations,omitempty" yaml:"iterations,omitempty"`

	// Rate is iteration starts per TimeUnit for arrival-rate executors.
	Rate float64 `json:"rate,omitempty" yaml:"rate,omitempty"`

	// TimeUnit is the denominator of Rate. Defaults to one second.
	TimeUnit Duration `json:"timeUnit,omitempty" yaml:"timeUnit,omitempty"`

	// PreAllocatedVUs is the initial pool for arrival-rate executors.
	PreAllocatedVUs int `json:"preAllocatedVUs,omitempty" yaml:"preAllocatedVUs,omitempty"`

	// MaxVUs caps pool growth for arrival-rate executors. When the cap
	// is reached and no VU is free, the iteration is dropped and counted.
	MaxVUs int `json:"maxVUs,omitempty" yaml:"maxVUs,omitempty"`

	// Stages drive the ramping executors. Targets are VU counts for
	// ramping-vus and rates for ramping-arrival-rate.
	Stages []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`

	// Requests are executed in order, once per iteration.
	Requests []RequestConfig `json:"requests" yaml:"requests"`

	// Tags become scenario-scoped variables.
	Tags map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// StageConfig is one (duration, target) pair of a ramp.
type StageConfig struct {
	Duration Duration `json:"duration" yaml:"duration"`
	Target   int      `json:"target" yaml:"target"`

	// Name is optional, for reporting.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// RequestConfig defines one HTTP call inside an iteration.
type RequestConfig struct {
	// Name identifies the request in per-request metrics. Empty names
	// get a generated one during defaulting.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Method defaults to GET.
	Method string `json:"method,omitempty" yaml:"method,omitempty"`

	// URL supports {{variable}} substitution. Relative URLs are resolved
	// against settings.baseUrl.
	URL string `json:"url" yaml:"url"`

	// Headers support variable substitution in values.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Body supports variable substitution.
	Body string `json:"body,omitempty" yaml:"body,omitempty"`

	// Timeout overrides the global request timeout for this call.
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// ThinkTime pauses the VU after this request.
	ThinkTime Duration `json:"thinkTime,omitempty" yaml:"thinkTime,omitempty"`

	// Checks are evaluated against the response.
	Checks []CheckConfig `json:"checks,omitempty" yaml:"checks,omitempty"`

	// Extract pulls values out of the response into iteration variables.
	Extract []ExtractConfig `json:"extract,omitempty" yaml:"extract,omitempty"`
}

// CheckConfig declares one assertion against a response.
type CheckConfig struct {
	// Name identifies the check in reports. Empty names get a generated
	// one during defaulting.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Type is "status", "bodyContains", "maxDuration", "jsonpath", or
	// "jsonschema".
	Type string `json:"type" yaml:"type"`

	// Equals is the expected value: a status code for status checks, a
	// string value for jsonpath checks.
	Equals string `json:"equals,omitempty" yaml:"equals,omitempty"`

	// Min and Max accept a status range instead of an exact code.
	Min int `json:"min,omitempty" yaml:"min,omitempty"`
	Max int `json:"max,omitempty" yaml:"max,omitempty"`

	// Value is the substring for bodyContains and the duration for
	// maxDuration.
	Value string `json:"value,omitempty" yaml:"value,omitempty"`

	// Path is the JSONPath expression for jsonpath checks.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Exists asserts that Path resolves, without comparing its value.
	Exists bool `json:"exists,omitempty" yaml:"exists,omitempty"`

	// Schema is an inline JSON Schema for jsonschema checks; SchemaFile
	// loads it from a file instead.
	Schema     string `json:"schema,omitempty" yaml:"schema,omitempty"`
	SchemaFile string `json:"schemaFile,omitempty" yaml:"schemaFile,omitempty"`
}

// ExtractConfig pulls a value out of a response into a variable visible
// to later requests of the same iteration.
type ExtractConfig struct {
	// Name of the variable to set.
	Name string `json:"name" yaml:"name"`

	// Source is "body" (default), "header", or "status".
	Source string `json:"source,omitempty" yaml:"source,omitempty"`

	// Path is the JSONPath for body extraction or the header name.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// ThresholdConfig is one criterion on a metric. In YAML it is either a
// bare expression string or a mapping with flags:
//
//	thresholds:
//	  http_req_duration:
//	    - "p95 < 500ms"
//	    - {expression: "p99 < 1.5s", abortOnFail: true}
type ThresholdConfig struct {
	Expression  string `json:"expression" yaml:"expression"`
	AbortOnFail bool   `json:"abortOnFail,omitempty" yaml:"abortOnFail,omitempty"`
	AllowFail   bool   `json:"allowFail,omitempty" yaml:"allowFail,omitempty"`
}

// UnmarshalYAML accepts both the bare-string and the mapping form.
func (t *ThresholdConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&t.Expression)
	}

	type plain ThresholdConfig
	return node.Decode((*plain)(t))
}

// UnmarshalJSON accepts both the bare-string and the object form.
func (t *ThresholdConfig) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		return yaml.Unmarshal(b, &t.Expression)
	}

	type plain ThresholdConfig
	return yaml.Unmarshal(b, (*plain)(t))
}

// Duration is a time.Duration that marshals as a duration string and
// unmarshals from a string ("30s", "1h30m") or a bare number of seconds.
type Duration time.Duration

// D returns the plain time.Duration.
func (d Duration) D() time.Duration {
	return time.Duration(d)
}

// Or returns the duration, or def when zero.
func (d Duration) Or(def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return time.Duration(d)
}

// String returns the duration in time.Duration notation.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "null" {
		s = ""
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

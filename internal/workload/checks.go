package workload

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/wesleyorama2/stampede/internal/config"
	xhttp "github.com/wesleyorama2/stampede/internal/http"
	"github.com/wesleyorama2/stampede/pkg/jsonpath"
	"github.com/wesleyorama2/stampede/pkg/jsonschema"
)

// compiledCheck is one declared check bound to its evaluation function.
// Compilation happens at build time so per-iteration evaluation does no
// parsing: status codes are ints, schemas are compiled, durations are
// time.Durations.
type compiledCheck struct {
	name string
	eval func(res *xhttp.Result) bool
}

// compileCheck turns a check declaration into an evaluator. Config
// validation has already run, but compile errors are returned anyway so
// the builder is safe on unvalidated input.
func compileCheck(cc *config.CheckConfig, configDir string) (*compiledCheck, error) {
	switch cc.Type {
	case "status":
		if cc.Equals != "" {
			want, err := strconv.Atoi(cc.Equals)
			if err != nil {
				return nil, fmt.Errorf("check %q: invalid status code %q", cc.Name, cc.Equals)
			}
			return &compiledCheck{name: cc.Name, eval: func(res *xhttp.Result) bool {
				return res.Status == want
			}}, nil
		}
		lo, hi := cc.Min, cc.Max
		if hi == 0 {
			hi = 599
		}
		return &compiledCheck{name: cc.Name, eval: func(res *xhttp.Result) bool {
			return res.Status >= lo && res.Status <= hi
		}}, nil

	case "bodyContains":
		want := cc.Value
		return &compiledCheck{name: cc.Name, eval: func(res *xhttp.Result) bool {
			return strings.Contains(res.BodyString(), want)
		}}, nil

	case "maxDuration":
		limit, err := config.ParseDurationString(cc.Value)
		if err != nil {
			return nil, fmt.Errorf("check %q: %w", cc.Name, err)
		}
		return &compiledCheck{name: cc.Name, eval: func(res *xhttp.Result) bool {
			return res.Timing.Total <= limit
		}}, nil

	case "jsonpath":
		path := cc.Path
		if cc.Exists {
			return &compiledCheck{name: cc.Name, eval: func(res *xhttp.Result) bool {
				return jsonpath.Exists(res.BodyString(), path)
			}}, nil
		}
		want := cc.Equals
		return &compiledCheck{name: cc.Name, eval: func(res *xhttp.Result) bool {
			got, err := jsonpath.Extract(res.BodyString(), path)
			return err == nil && got == want
		}}, nil

	case "jsonschema":
		schemaText := cc.Schema
		if schemaText == "" {
			path := cc.SchemaFile
			if !filepath.IsAbs(path) {
				path = filepath.Join(configDir, path)
			}
			raw, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("check %q: reading schema: %w", cc.Name, err)
			}
			schemaText = string(raw)
		}
		schema, err := jsonschema.Compile(schemaText)
		if err != nil {
			return nil, fmt.Errorf("check %q: %w", cc.Name, err)
		}
		return &compiledCheck{name: cc.Name, eval: func(res *xhttp.Result) bool {
			ok, err := schema.Validate(res.BodyString())
			return err == nil && ok
		}}, nil

	default:
		return nil, fmt.Errorf("check %q: unknown type %q", cc.Name, cc.Type)
	}
}

// runChecks evaluates a request's checks against its result. A request
// that never produced a response (transport error or timeout) fails all
// of its checks; the workload still continues with the next request.
func runChecks(s *Session, checks []*compiledCheck, res *xhttp.Result) {
	failed := res.Err != nil || res.TimedOut
	for _, c := range checks {
		if failed {
			s.Check(c.name, false)
			continue
		}
		s.Check(c.name, c.eval(res))
	}
}

package workload

import (
	"context"
	"fmt"
	"strconv"

	"github.com/wesleyorama2/stampede/internal/config"
	xhttp "github.com/wesleyorama2/stampede/internal/http"
	"github.com/wesleyorama2/stampede/internal/metrics"
	"github.com/wesleyorama2/stampede/pkg/jsonpath"
)

// compiledRequest is one request of the declarative workload with all
// config text resolved ahead of the run.
type compiledRequest struct {
	cfg     *config.RequestConfig
	checks  []*compiledCheck
	headers map[string]string
}

// Build compiles a scenario's declarative request list into a Func and
// declares its request and check names on the sink, fixing the summary
// schema before the registry freezes.
//
// The compiled function walks the requests in order: substitute
// variables, issue the call, evaluate checks, extract variables for
// later requests, pause for think time. A failed request fails its own
// checks and moves on; only context cancellation ends the iteration
// early, and that still happens between statements, never inside one.
func Build(scenario string, sc *config.ScenarioConfig, sink *metrics.Sink, configDir string) (Func, error) {
	if len(sc.Requests) == 0 {
		return nil, fmt.Errorf("scenario %q has no requests", scenario)
	}

	compiled := make([]*compiledRequest, 0, len(sc.Requests))
	for i := range sc.Requests {
		req := &sc.Requests[i]

		if err := sink.DeclareRequest(req.Name, scenario); err != nil {
			return nil, fmt.Errorf("scenario %q: %w", scenario, err)
		}

		cr := &compiledRequest{cfg: req, headers: req.Headers}
		for j := range req.Checks {
			check, err := compileCheck(&req.Checks[j], configDir)
			if err != nil {
				return nil, fmt.Errorf("scenario %q request %q: %w", scenario, req.Name, err)
			}
			if err := sink.DeclareCheck(check.name, scenario); err != nil {
				return nil, fmt.Errorf("scenario %q: %w", scenario, err)
			}
			cr.checks = append(cr.checks, check)
		}
		compiled = append(compiled, cr)
	}

	fn := func(ctx context.Context, s *Session) error {
		var firstErr error
		for _, cr := range compiled {
			if err := ctx.Err(); err != nil {
				return err
			}

			res := s.HTTP().Do(ctx, &xhttp.Request{
				Name:    cr.cfg.Name,
				Method:  cr.cfg.Method,
				URL:     s.Expand(cr.cfg.URL),
				Headers: expandHeaders(s, cr.headers),
				Body:    []byte(s.Expand(cr.cfg.Body)),
				Timeout: cr.cfg.Timeout.D(),
			})

			runChecks(s, cr.checks, res)

			if res.Err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("request %q: %w", cr.cfg.Name, res.Err)
				}
			} else {
				extractVariables(s, cr.cfg.Extract, res)
			}

			if tt := cr.cfg.ThinkTime.D(); tt > 0 {
				s.Sleep(ctx, tt)
			}
		}
		return firstErr
	}

	return fn, nil
}

func expandHeaders(s *Session, headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[k] = s.Expand(v)
	}
	return out
}

// extractVariables pulls declared values out of a response into the
// iteration scope. A failed extraction leaves the variable unset; a
// later request referencing it keeps the literal placeholder, which is
// deliberate so the miss is visible at the target.
func extractVariables(s *Session, extracts []config.ExtractConfig, res *xhttp.Result) {
	for _, ext := range extracts {
		switch ext.Source {
		case "", "body":
			if v, err := jsonpath.Extract(res.BodyString(), ext.Path); err == nil {
				s.SetVar(ext.Name, v)
			}
		case "header":
			if v := res.Header(ext.Path); v != "" {
				s.SetVar(ext.Name, v)
			}
		case "status":
			s.SetVar(ext.Name, strconv.Itoa(res.Status))
		}
	}
}

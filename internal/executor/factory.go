package executor

import (
	"fmt"

	"github.com/wesleyorama2/stampede/internal/config"
)

// New creates an uninitialized executor of the given type. Call Init
// before Run.
func New(t Type) (Executor, error) {
	switch t {
	case TypeConstantVUs:
		return NewConstantVUs(), nil
	case TypeRampingVUs:
		return NewRampingVUs(), nil
	case TypeConstantArrivalRate:
		return NewConstantArrivalRate(), nil
	case TypeRampingArrivalRate:
		return NewRampingArrivalRate(), nil
	case TypeSharedIterations:
		return NewSharedIterations(), nil
	case TypePerVUIterations:
		return NewPerVUIterations(), nil
	default:
		return nil, fmt.Errorf("unknown executor type %q", t)
	}
}

// ForScenario creates and initializes the executor for one validated
// scenario config.
func ForScenario(name string, sc *config.ScenarioConfig) (Executor, *Config, error) {
	cfg := FromScenario(name, sc)
	exec, err := New(cfg.Type)
	if err != nil {
		return nil, nil, fmt.Errorf("scenario %q: %w", name, err)
	}
	if err := exec.Init(cfg); err != nil {
		return nil, nil, err
	}
	return exec, cfg, nil
}

// IsValidType reports whether the name is a known executor type.
func IsValidType(name string) bool {
	switch Type(name) {
	case TypeConstantVUs, TypeRampingVUs, TypeConstantArrivalRate,
		TypeRampingArrivalRate, TypeSharedIterations, TypePerVUIterations:
		return true
	default:
		return false
	}
}

// Types returns every supported executor type.
func Types() []Type {
	return []Type{
		TypeConstantVUs,
		TypeRampingVUs,
		TypeConstantArrivalRate,
		TypeRampingArrivalRate,
		TypeSharedIterations,
		TypePerVUIterations,
	}
}

// Description documents one executor type for the CLI.
type Description struct {
	Type        Type
	Name        string
	Description string
	UseCases    []string
}

// Describe returns documentation for an executor type, or nil for an
// unknown one.
func Describe(t Type) *Description {
	switch t {
	case TypeConstantVUs:
		return &Description{
			Type:        TypeConstantVUs,
			Name:        "Constant VUs",
			Description: "Runs a fixed number of VUs for a duration. Each VU iterates as fast as the target allows (closed model).",
			UseCases: []string{
				"Basic load testing",
				"Max throughput for N concurrent users",
				"Soak testing",
			},
		}
	case TypeRampingVUs:
		return &Description{
			Type:        TypeRampingVUs,
			Name:        "Ramping VUs",
			Description: "Moves the VU count through stages, interpolating linearly between targets.",
			UseCases: []string{
				"Realistic traffic shapes (ramp-up, plateau, ramp-down)",
				"Finding the breaking point",
				"Gradual stress testing",
			},
		}
	case TypeConstantArrivalRate:
		return &Description{
			Type:        TypeConstantArrivalRate,
			Name:        "Constant Arrival Rate",
			Description: "Starts iterations at a fixed rate regardless of response time (open model). Grows the VU pool up to maxVUs; beyond that, iterations are dropped and counted.",
			UseCases: []string{
				"SLA validation at a known request rate",
				"Capacity testing with a predictable arrival pattern",
				"Detecting saturation via dropped_iterations",
			},
		}
	case TypeRampingArrivalRate:
		return &Description{
			Type:        TypeRampingArrivalRate,
			Name:        "Ramping Arrival Rate",
			Description: "Moves the iteration rate through stages, interpolating linearly between rate targets.",
			UseCases: []string{
				"Traffic patterns with changing request rates",
				"Auto-scaling behavior tests",
				"Gradual warm-up before a steady phase",
			},
		}
	case TypeSharedIterations:
		return &Description{
			Type:        TypeSharedIterations,
			Name:        "Shared Iterations",
			Description: "Runs a total iteration budget shared across a fixed VU pool. Fast VUs take more of the work.",
			UseCases: []string{
				"Fixed amounts of work (process N records)",
				"Comparable runs across environments",
			},
		}
	case TypePerVUIterations:
		return &Description{
			Type:        TypePerVUIterations,
			Name:        "Per-VU Iterations",
			Description: "Runs a fixed number of iterations on every VU. The work split is fixed per VU.",
			UseCases: []string{
				"Every VU must complete the same sequence",
				"Partitioned data sets walked to completion",
			},
		}
	default:
		return nil
	}
}

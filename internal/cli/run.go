package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/stampede/internal/config"
	"github.com/wesleyorama2/stampede/internal/engine"
	"github.com/wesleyorama2/stampede/internal/output"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a load test from a configuration file or CLI flags",
	Long: `Execute a load test with configurable executors, thresholds, and
live progress reporting.

Config file mode:
  stampede run --config test.yaml

Quick CLI mode (single scenario):
  stampede run --url https://api.example.com/health \
    --executor ramping-vus \
    --stages "30s:10,2m:10,30s:0"

Arrival rate mode:
  stampede run --url https://api.example.com/health \
    --executor constant-arrival-rate \
    --rate 100 \
    --duration 5m \
    --max-vus 200

Exit code is 0 when all thresholds pass, 1 on threshold failure, and 2
for configuration errors, aborted runs, and other runtime failures.`,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runLoadTest(cmd))
	},
}

func runLoadTest(cmd *cobra.Command) int {
	configFile, _ := cmd.Flags().GetString("config")
	url, _ := cmd.Flags().GetString("url")
	verbose, _ := cmd.Flags().GetBool("verbose")
	quiet, _ := cmd.Flags().GetBool("quiet")
	jsonOut, _ := cmd.Flags().GetBool("json")
	summaryExport, _ := cmd.Flags().GetString("summary-export")

	// Everything that can go wrong before traffic starts is a
	// configuration error and exits 2; 1 is reserved for threshold
	// failures on a completed run.
	cfg, err := loadRunConfig(cmd, configFile, url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	if cfg == nil {
		cmd.Help()
		return 2
	}

	if err := config.ApplyEnvOverrides(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error applying environment overrides: %v\n", err)
		return 2
	}

	logger := buildLogger(verbose, quiet || !verbose)
	defer logger.Sync() //nolint:errcheck

	eng, err := engine.New(cfg, engine.Options{
		Logger:    logger,
		ConfigDir: config.ConfigDir(configFile),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	noColor := !output.ShouldColor(os.Stdout)
	console := output.NewConsole(os.Stdout, noColor)
	if !quiet {
		console.RunHeader(cfg.Name, scenarioNames(cfg))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// First signal stops gracefully, a second one force-quits.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nstopping... (interrupt again to force quit)")
		eng.Stop()
		<-sigCh
		os.Exit(130)
	}()

	done := make(chan struct{})
	var result *engine.Result
	var runErr error
	go func() {
		defer close(done)
		result, runErr = eng.Run(ctx)
	}()

	showProgress := !quiet && !jsonOut
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-done:
			break loop
		case <-ticker.C:
			if showProgress {
				console.Progress(eng.Progress(), eng.Snapshot(), activeVUs(eng))
			}
		}
	}
	console.FinishProgress()

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error running test: %v\n", runErr)
		if result == nil {
			return 2
		}
	}

	if jsonOut {
		if err := output.EncodeJSON(os.Stdout, result); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing JSON summary: %v\n", err)
			return 2
		}
	} else {
		console.Summary(result)
	}

	if summaryExport != "" {
		if err := output.WriteJSON(summaryExport, result); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 2
		}
		if !quiet && !jsonOut {
			fmt.Printf("Summary written to %s\n", summaryExport)
		}
	}

	return result.ExitCode()
}

// loadRunConfig resolves the config from the file flag or quick-mode
// flags. A nil config with nil error means neither was given.
func loadRunConfig(cmd *cobra.Command, configFile, url string) (*config.TestConfig, error) {
	if configFile != "" {
		cfg, err := config.LoadConfig(configFile)
		if err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if url != "" {
		return buildQuickConfig(cmd, url)
	}
	return nil, nil
}

// buildQuickConfig assembles a single-scenario config from CLI flags.
func buildQuickConfig(cmd *cobra.Command, url string) (*config.TestConfig, error) {
	executorType, _ := cmd.Flags().GetString("executor")
	durationStr, _ := cmd.Flags().GetString("duration")
	vus, _ := cmd.Flags().GetInt("vus")
	stagesStr, _ := cmd.Flags().GetString("stages")
	rate, _ := cmd.Flags().GetFloat64("rate")
	maxVUs, _ := cmd.Flags().GetInt("max-vus")
	preAllocatedVUs, _ := cmd.Flags().GetInt("pre-allocated-vus")

	if executorType == "" {
		if stagesStr != "" {
			executorType = "ramping-vus"
		} else {
			executorType = "constant-vus"
		}
	}
	if vus == 0 && executorType == "constant-vus" {
		vus = 10
	}

	sc := &config.ScenarioConfig{
		Executor:        executorType,
		VUs:             vus,
		Rate:            rate,
		MaxVUs:          maxVUs,
		PreAllocatedVUs: preAllocatedVUs,
		Requests: []config.RequestConfig{
			{Name: "quick", Method: "GET", URL: url},
		},
	}

	if durationStr != "" {
		d, err := time.ParseDuration(durationStr)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q: %w", durationStr, err)
		}
		sc.Duration = config.Duration(d)
	} else if stagesStr == "" {
		sc.Duration = config.Duration(30 * time.Second)
	}

	if stagesStr != "" {
		stages, err := parseStages(stagesStr)
		if err != nil {
			return nil, err
		}
		sc.Stages = stages
	}

	return &config.TestConfig{
		Name:        "quick test",
		Description: fmt.Sprintf("Generated from CLI flags for %s", url),
		Scenarios: map[string]*config.ScenarioConfig{
			"quick": sc,
		},
	}, nil
}

// parseStages parses the "30s:10,2m:10,30s:0" stage shorthand.
func parseStages(s string) ([]config.StageConfig, error) {
	var stages []config.StageConfig
	for i, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		idx := strings.LastIndex(part, ":")
		if idx == -1 {
			return nil, fmt.Errorf("stage %d: expected 'duration:target' format, got %q", i+1, part)
		}

		d, err := time.ParseDuration(part[:idx])
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid duration %q: %w", i+1, part[:idx], err)
		}
		target, err := strconv.Atoi(part[idx+1:])
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid target %q: %w", i+1, part[idx+1:], err)
		}
		if target < 0 {
			return nil, fmt.Errorf("stage %d: target must not be negative", i+1)
		}

		stages = append(stages, config.StageConfig{
			Duration: config.Duration(d),
			Target:   target,
		})
	}
	if len(stages) == 0 {
		return nil, fmt.Errorf("at least one stage is required")
	}
	return stages, nil
}

func scenarioNames(cfg *config.TestConfig) []string {
	names := make([]string, 0, len(cfg.Scenarios))
	for name := range cfg.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func activeVUs(eng *engine.Engine) int {
	var total int
	for _, stats := range eng.ScenarioStats() {
		total += stats.ActiveVUs
	}
	return total
}

func init() {
	runCmd.Flags().StringP("config", "c", "", "Configuration file")
	runCmd.Flags().String("url", "", "URL to test (alternative to --config)")
	runCmd.Flags().String("executor", "", "Executor type: constant-vus, ramping-vus, constant-arrival-rate, ramping-arrival-rate, shared-iterations, per-vu-iterations")
	runCmd.Flags().Int("vus", 0, "Number of virtual users")
	runCmd.Flags().String("duration", "", "Test duration (e.g. 5m, 30s)")
	runCmd.Flags().String("stages", "", "Stages in 'duration:target,...' format for ramping executors")
	runCmd.Flags().Float64("rate", 0, "Iterations per second for arrival-rate executors")
	runCmd.Flags().Int("max-vus", 0, "Maximum VUs for arrival-rate executors")
	runCmd.Flags().Int("pre-allocated-vus", 0, "Pre-allocated VUs for arrival-rate executors")
	runCmd.Flags().String("summary-export", "", "Write the run summary as JSON to this path")
	runCmd.Flags().Bool("json", false, "Print the run summary as JSON instead of the console report")
	runCmd.Flags().BoolP("quiet", "q", false, "Disable live progress output")
	runCmd.Flags().BoolP("verbose", "v", false, "Enable verbose logging")
}

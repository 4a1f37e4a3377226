package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads and parses a test configuration file. YAML and JSON
// are both accepted; JSON is a subset of YAML, so one parser covers both.
//
// The returned config has not been validated or defaulted; callers run
// Validate and ApplyDefaults (the engine does both).
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ParseConfig(data, path)
}

// ParseConfig parses configuration bytes. The filename is used only in
// error messages and to resolve relative data-file paths via ConfigDir.
func ParseConfig(data []byte, filename string) (*TestConfig, error) {
	var cfg TestConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(filename), err)
	}
	return &cfg, nil
}

// ConfigDir returns the directory of a config path, for resolving
// relative data-file references.
func ConfigDir(path string) string {
	if path == "" {
		return "."
	}
	return filepath.Dir(path)
}

// ParseDurationString parses a duration from config text. It accepts Go
// duration notation ("30s", "1h30m"), a bare number meaning seconds, and
// the empty string meaning zero.
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	if d, err := time.ParseDuration(s); err == nil {
		// Negative durations survive parsing; validation rejects them
		// with field context.
		return d, nil
	}

	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}

	return 0, fmt.Errorf("invalid duration %q (use \"30s\", \"1h30m\", or seconds)", s)
}

// Environment variable overrides, read once at startup. They exist so a
// config checked into a repo can be retargeted by CI without editing.
const (
	EnvBaseURL     = "STAMPEDE_BASE_URL"
	EnvDuration    = "STAMPEDE_DURATION"
	EnvVUs         = "STAMPEDE_VUS"
	EnvRate        = "STAMPEDE_RATE"
	EnvRPS         = "STAMPEDE_RPS"
	EnvMaxDuration = "STAMPEDE_MAX_DURATION"
)

// ApplyEnvOverrides folds environment variables into the config. A
// malformed value is a configuration error, reported before any traffic.
// Scenario-level overrides (duration, vus, rate) apply to every scenario
// that uses the corresponding field.
func ApplyEnvOverrides(cfg *TestConfig) error {
	if v := os.Getenv(EnvBaseURL); v != "" {
		cfg.Settings.BaseURL = v
	}

	if v := os.Getenv(EnvRPS); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: invalid rate %q", EnvRPS, v)
		}
		cfg.Settings.RPS = rps
	}

	if v := os.Getenv(EnvMaxDuration); v != "" {
		d, err := ParseDurationString(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxDuration, err)
		}
		cfg.Settings.MaxDuration = Duration(d)
	}

	if v := os.Getenv(EnvDuration); v != "" {
		d, err := ParseDurationString(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvDuration, err)
		}
		for _, sc := range cfg.Scenarios {
			if sc.Duration != 0 {
				sc.Duration = Duration(d)
			}
		}
	}

	if v := os.Getenv(EnvVUs); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid count %q", EnvVUs, v)
		}
		for _, sc := range cfg.Scenarios {
			if sc.VUs != 0 {
				sc.VUs = n
			}
		}
	}

	if v := os.Getenv(EnvRate); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: invalid rate %q", EnvRate, v)
		}
		for _, sc := range cfg.Scenarios {
			if sc.Rate != 0 {
				sc.Rate = rate
			}
		}
	}

	return nil
}

// ApplyDefaults fills zero values with their documented defaults.
// Request and check names are generated here so every downstream table
// (per-request latency, per-check pass/fail) has a stable key.
func ApplyDefaults(cfg *TestConfig) {
	if cfg.Settings.Timeout == 0 {
		cfg.Settings.Timeout = Duration(30 * time.Second)
	}
	if cfg.Settings.GracefulStop == 0 {
		cfg.Settings.GracefulStop = Duration(30 * time.Second)
	}

	for name, sc := range cfg.Scenarios {
		if sc.GracefulStop == 0 {
			sc.GracefulStop = cfg.Settings.GracefulStop
		}
		if sc.TimeUnit == 0 {
			sc.TimeUnit = Duration(time.Second)
		}

		switch sc.Executor {
		case "constant-arrival-rate", "ramping-arrival-rate":
			if sc.PreAllocatedVUs == 0 {
				sc.PreAllocatedVUs = 1
			}
			if sc.MaxVUs == 0 {
				sc.MaxVUs = sc.PreAllocatedVUs
			}
			if sc.MaxVUs < sc.PreAllocatedVUs {
				sc.MaxVUs = sc.PreAllocatedVUs
			}
		}

		for i := range sc.Requests {
			req := &sc.Requests[i]
			if req.Method == "" {
				req.Method = "GET"
			}
			if req.Name == "" {
				req.Name = fmt.Sprintf("%s_request_%d", name, i+1)
			}
			for j := range req.Checks {
				if req.Checks[j].Name == "" {
					req.Checks[j].Name = fmt.Sprintf("%s: %s check %d", name, req.Name, j+1)
				}
			}
		}
	}
}

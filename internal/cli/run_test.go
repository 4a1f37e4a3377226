package cli

import (
	"testing"
	"time"

	"github.com/wesleyorama2/stampede/internal/config"
)

func TestParseStages(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []config.StageConfig
		wantErr bool
	}{
		{
			name:  "single stage",
			input: "30s:10",
			want: []config.StageConfig{
				{Duration: config.Duration(30 * time.Second), Target: 10},
			},
		},
		{
			name:  "ramp up hold ramp down",
			input: "30s:10,2m:10,30s:0",
			want: []config.StageConfig{
				{Duration: config.Duration(30 * time.Second), Target: 10},
				{Duration: config.Duration(2 * time.Minute), Target: 10},
				{Duration: config.Duration(30 * time.Second), Target: 0},
			},
		},
		{
			name:  "whitespace tolerated",
			input: " 10s:5 , 20s:0 ",
			want: []config.StageConfig{
				{Duration: config.Duration(10 * time.Second), Target: 5},
				{Duration: config.Duration(20 * time.Second), Target: 0},
			},
		},
		{name: "missing colon", input: "30s", wantErr: true},
		{name: "bad duration", input: "banana:10", wantErr: true},
		{name: "bad target", input: "30s:ten", wantErr: true},
		{name: "negative target", input: "30s:-1", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseStages(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseStages(%q): %v", tt.input, err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d stages, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].Duration != tt.want[i].Duration || got[i].Target != tt.want[i].Target {
					t.Errorf("stage %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestBuildQuickConfigDefaults(t *testing.T) {
	cfg, err := buildQuickConfig(runCmd, "http://localhost:8080/health")
	if err != nil {
		t.Fatal(err)
	}

	sc, ok := cfg.Scenarios["quick"]
	if !ok {
		t.Fatal("quick scenario missing")
	}
	if sc.Executor != "constant-vus" {
		t.Errorf("executor = %q, want constant-vus", sc.Executor)
	}
	if sc.VUs != 10 {
		t.Errorf("vus = %d, want 10", sc.VUs)
	}
	if sc.Duration != config.Duration(30*time.Second) {
		t.Errorf("duration = %v, want 30s", sc.Duration)
	}
	if len(sc.Requests) != 1 || sc.Requests[0].URL != "http://localhost:8080/health" {
		t.Errorf("requests = %+v", sc.Requests)
	}
}

func TestBuildQuickConfigStagesImplyRamping(t *testing.T) {
	if err := runCmd.Flags().Set("stages", "10s:5,10s:0"); err != nil {
		t.Fatal(err)
	}
	defer runCmd.Flags().Set("stages", "") //nolint:errcheck

	cfg, err := buildQuickConfig(runCmd, "http://localhost:8080/")
	if err != nil {
		t.Fatal(err)
	}

	sc := cfg.Scenarios["quick"]
	if sc.Executor != "ramping-vus" {
		t.Errorf("executor = %q, want ramping-vus", sc.Executor)
	}
	if len(sc.Stages) != 2 {
		t.Errorf("stages = %+v", sc.Stages)
	}
	if sc.Duration != 0 {
		t.Errorf("duration = %v, want unset with stages", sc.Duration)
	}
}

func TestBuildQuickConfigArrivalRate(t *testing.T) {
	for flag, val := range map[string]string{
		"executor": "constant-arrival-rate",
		"rate":     "100",
		"duration": "1m",
		"max-vus":  "50",
	} {
		if err := runCmd.Flags().Set(flag, val); err != nil {
			t.Fatal(err)
		}
	}
	defer func() {
		runCmd.Flags().Set("executor", "") //nolint:errcheck
		runCmd.Flags().Set("rate", "0")    //nolint:errcheck
		runCmd.Flags().Set("duration", "") //nolint:errcheck
		runCmd.Flags().Set("max-vus", "0") //nolint:errcheck
	}()

	cfg, err := buildQuickConfig(runCmd, "http://localhost:8080/")
	if err != nil {
		t.Fatal(err)
	}

	sc := cfg.Scenarios["quick"]
	if sc.Executor != "constant-arrival-rate" {
		t.Errorf("executor = %q", sc.Executor)
	}
	if sc.Rate != 100 || sc.MaxVUs != 50 {
		t.Errorf("rate = %v maxVUs = %d", sc.Rate, sc.MaxVUs)
	}
	if sc.Duration != config.Duration(time.Minute) {
		t.Errorf("duration = %v", sc.Duration)
	}
}

func TestBuildQuickConfigBadDuration(t *testing.T) {
	if err := runCmd.Flags().Set("duration", "forever"); err != nil {
		t.Fatal(err)
	}
	defer runCmd.Flags().Set("duration", "") //nolint:errcheck

	if _, err := buildQuickConfig(runCmd, "http://localhost:8080/"); err == nil {
		t.Error("expected error for bad duration")
	}
}

func TestRunConfigErrorsExitTwo(t *testing.T) {
	t.Run("missing config file", func(t *testing.T) {
		if err := runCmd.Flags().Set("config", "/nonexistent/missing.yaml"); err != nil {
			t.Fatal(err)
		}
		defer runCmd.Flags().Set("config", "") //nolint:errcheck

		if code := runLoadTest(runCmd); code != 2 {
			t.Errorf("exit code = %d, want 2", code)
		}
	})

	t.Run("neither config nor url", func(t *testing.T) {
		if code := runLoadTest(runCmd); code != 2 {
			t.Errorf("exit code = %d, want 2", code)
		}
	})

	t.Run("config rejected by engine", func(t *testing.T) {
		path := writeConfig(t, "name: broken\n")
		if err := runCmd.Flags().Set("config", path); err != nil {
			t.Fatal(err)
		}
		defer runCmd.Flags().Set("config", "") //nolint:errcheck

		if code := runLoadTest(runCmd); code != 2 {
			t.Errorf("exit code = %d, want 2", code)
		}
	})
}

func TestScenarioNamesSorted(t *testing.T) {
	cfg := &config.TestConfig{
		Scenarios: map[string]*config.ScenarioConfig{
			"zeta": {}, "alpha": {}, "mid": {},
		},
	}
	got := scenarioNames(cfg)
	want := []string{"alpha", "mid", "zeta"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("scenarioNames = %v, want %v", got, want)
		}
	}
}

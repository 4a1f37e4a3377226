package metrics

import (
	"errors"
	"testing"
)

func TestRegistry_Declare(t *testing.T) {
	reg := NewRegistry()

	c, err := reg.Counter("cache_hits", UnitDefault)
	if err != nil {
		t.Fatalf("Counter() error = %v", err)
	}
	if c.Name() != "cache_hits" {
		t.Errorf("Name() = %q, want %q", c.Name(), "cache_hits")
	}
	if c.Kind() != KindCounter {
		t.Errorf("Kind() = %v, want %v", c.Kind(), KindCounter)
	}

	// Redeclaring with the same kind returns the same handle.
	c2, err := reg.Counter("cache_hits", UnitDefault)
	if err != nil {
		t.Fatalf("Counter() redeclare error = %v", err)
	}
	if c2 != c {
		t.Error("redeclaring a counter should return the existing handle")
	}
}

func TestRegistry_KindConflict(t *testing.T) {
	reg := NewRegistry()

	if _, err := reg.Counter("latency", UnitDuration); err != nil {
		t.Fatalf("Counter() error = %v", err)
	}
	if _, err := reg.Trend("latency", UnitDuration); err == nil {
		t.Error("declaring an existing name with a different kind should fail")
	}
}

func TestRegistry_EmptyName(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Counter("", UnitDefault); err == nil {
		t.Error("empty metric name should be rejected")
	}
}

func TestRegistry_Freeze(t *testing.T) {
	reg := NewRegistry()

	c, err := reg.Counter("before", UnitDefault)
	if err != nil {
		t.Fatalf("Counter() error = %v", err)
	}

	reg.Freeze()

	if _, err := reg.Counter("after", UnitDefault); !errors.Is(err, ErrRegistryFrozen) {
		t.Errorf("declaring after Freeze: error = %v, want ErrRegistryFrozen", err)
	}

	// Handles declared before the freeze keep recording.
	c.Add(5)
	if got := c.Total(); got != 5 {
		t.Errorf("Total() = %v, want 5", got)
	}
}

func TestRegistry_All(t *testing.T) {
	reg := NewRegistry()
	reg.Counter("zeta", UnitDefault)
	reg.Rate("alpha")
	reg.Gauge("mid", UnitDefault)

	all := reg.All()
	if len(all) != 3 {
		t.Fatalf("All() returned %d metrics, want 3", len(all))
	}

	names := []string{all[0].Name(), all[1].Name(), all[2].Name()}
	want := []string{"alpha", "mid", "zeta"}
	for i := range names {
		if names[i] != want[i] {
			t.Errorf("All()[%d] = %q, want %q (sorted)", i, names[i], want[i])
		}
	}
}

func TestRegisterBuiltins(t *testing.T) {
	reg := NewRegistry()

	b, err := RegisterBuiltins(reg)
	if err != nil {
		t.Fatalf("RegisterBuiltins() error = %v", err)
	}

	if b.HTTPReqDuration.Kind() != KindTrend {
		t.Errorf("http_req_duration kind = %v, want trend", b.HTTPReqDuration.Kind())
	}
	if b.HTTPReqFailed.Kind() != KindRate {
		t.Errorf("http_req_failed kind = %v, want rate", b.HTTPReqFailed.Kind())
	}
	if _, ok := reg.Get(MetricDroppedIterations); !ok {
		t.Error("dropped_iterations should be declared")
	}

	// Registering twice is idempotent.
	if _, err := RegisterBuiltins(reg); err != nil {
		t.Errorf("second RegisterBuiltins() error = %v", err)
	}
}

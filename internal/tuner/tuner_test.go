package tuner

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"
)

func feed(t *Tuner, cost time.Duration, n int) {
	for i := 0; i < n; i++ {
		t.Observe(cost)
	}
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestDefaults(t *testing.T) {
	tu := New(DefaultConfig())
	if tu.LookAhead() != 0.1 || tu.ScheduleAhead() != 0.2 {
		t.Fatalf("initial = %v/%v, want 0.1/0.2", tu.LookAhead(), tu.ScheduleAhead())
	}
}

func TestNoChangeUntilWindowFills(t *testing.T) {
	tu := New(DefaultConfig())
	for i := 0; i < 9; i++ {
		if tu.Observe(time.Second) {
			t.Fatalf("look-ahead changed after %d samples", i+1)
		}
	}
	if !tu.Observe(time.Second) {
		t.Fatal("look-ahead did not change when the window filled")
	}
}

func TestGrowsOnExpensiveWakeups(t *testing.T) {
	tu := New(DefaultConfig())
	// One sample above half the look-ahead is enough.
	feed(tu, time.Millisecond, 9)
	tu.Observe(60 * time.Millisecond)
	if !near(tu.LookAhead(), 0.11) {
		t.Fatalf("LookAhead() = %v, want 0.11", tu.LookAhead())
	}
	if !near(tu.ScheduleAhead(), 0.22) {
		t.Fatalf("ScheduleAhead() = %v, want 0.22", tu.ScheduleAhead())
	}
}

func TestShrinksOnCheapWakeups(t *testing.T) {
	tu := New(DefaultConfig())
	feed(tu, time.Millisecond, 10)
	if !near(tu.LookAhead(), 0.09) {
		t.Fatalf("LookAhead() = %v, want 0.09", tu.LookAhead())
	}
	// Schedule-ahead never drops below its floor.
	feed(tu, time.Millisecond, 100)
	if !near(tu.LookAhead(), 0.05) {
		t.Fatalf("LookAhead() = %v, want floor 0.05", tu.LookAhead())
	}
	if !near(tu.ScheduleAhead(), 0.1) {
		t.Fatalf("ScheduleAhead() = %v, want 0.1", tu.ScheduleAhead())
	}
}

func TestHoldsInTheDeadBand(t *testing.T) {
	tu := New(DefaultConfig())
	// Mean 20ms is above 10% of 0.1s, max below 50%.
	feed(tu, 20*time.Millisecond, 10)
	if tu.LookAhead() != 0.1 {
		t.Fatalf("LookAhead() = %v, want unchanged 0.1", tu.LookAhead())
	}
	if tu.Adjustments() != 1 {
		t.Fatalf("Adjustments() = %d, want 1", tu.Adjustments())
	}
}

func TestStaysWithinBounds(t *testing.T) {
	cfg := DefaultConfig()
	tu := New(cfg)
	rng := rand.New(rand.NewPCG(7, 11))
	for i := 0; i < 20000; i++ {
		cost := time.Duration(rng.Int64N(int64(time.Second)))
		if rng.IntN(2) == 0 {
			cost = time.Duration(rng.Int64N(int64(2 * time.Millisecond)))
		}
		tu.Observe(cost)
		if la := tu.LookAhead(); la < cfg.Min-1e-12 || la > cfg.Max+1e-12 {
			t.Fatalf("LookAhead() = %v outside [%v, %v]", la, cfg.Min, cfg.Max)
		}
		if sa := tu.ScheduleAhead(); sa < 2*tu.LookAhead()-1e-12 || sa < cfg.ScheduleFloor {
			t.Fatalf("ScheduleAhead() = %v inconsistent with look-ahead %v", sa, tu.LookAhead())
		}
	}
}

func TestInvalidConfigFallsBack(t *testing.T) {
	tu := New(Config{Min: 1, Max: 0.5})
	if tu.Config() != DefaultConfig() {
		t.Fatalf("Config() = %+v, want defaults", tu.Config())
	}
}

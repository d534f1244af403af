package clock

import (
	"testing"
	"time"
)

func TestManualNeverRunsBackwards(t *testing.T) {
	c := NewManual()
	c.Set(2.5)
	c.Set(1.0)
	if got := c.CurrentTime(); got != 2.5 {
		t.Fatalf("CurrentTime() = %v, want 2.5", got)
	}
	c.Advance(-1)
	c.Advance(0.5)
	if got := c.CurrentTime(); got != 3.0 {
		t.Fatalf("CurrentTime() = %v, want 3.0", got)
	}
}

func TestManualWallStep(t *testing.T) {
	c := NewManual()
	c.SetWallStep(3 * time.Millisecond)
	a := c.Now()
	b := c.Now()
	if d := b.Sub(a); d != 3*time.Millisecond {
		t.Fatalf("wall delta = %v, want 3ms", d)
	}
}

func TestHybridPreRollDefault(t *testing.T) {
	h := NewHybrid(NewSystem(), 0)
	if h.PreRoll() != DefaultPreRoll {
		t.Fatalf("PreRoll() = %v, want %v", h.PreRoll(), DefaultPreRoll)
	}
	h = NewHybrid(NewSystem(), 0.25)
	if h.PreRoll() != 0.25 {
		t.Fatalf("PreRoll() = %v, want 0.25", h.PreRoll())
	}
}

func TestSystemIsMonotonic(t *testing.T) {
	s := NewSystem()
	prev := s.CurrentTime()
	for i := 0; i < 100; i++ {
		now := s.CurrentTime()
		if now < prev {
			t.Fatalf("clock went backwards: %v < %v", now, prev)
		}
		prev = now
	}
}

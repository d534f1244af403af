// Package tuner adapts the scheduler's look-ahead window to the measured cost
// of its wake-ups.
package tuner

import (
	"fmt"
	"time"
)

// Config holds the tuning constants.
type Config struct {
	Initial       float64 // seconds
	Min           float64
	Max           float64
	Step          float64
	Window        int
	GrowRatio     float64 // grow when max cost exceeds this share of look-ahead
	ShrinkRatio   float64 // shrink when mean cost is below this share
	ScheduleFloor float64 // lower bound of the schedule-ahead interval
}

// DefaultConfig returns the standard constants.
func DefaultConfig() Config {
	return Config{
		Initial:       0.1,
		Min:           0.05,
		Max:           0.5,
		Step:          0.01,
		Window:        10,
		GrowRatio:     0.5,
		ShrinkRatio:   0.1,
		ScheduleFloor: 0.1,
	}
}

// Validate reports inconsistent constants.
func (c Config) Validate() error {
	switch {
	case c.Min <= 0 || c.Max < c.Min:
		return fmt.Errorf("look-ahead bounds [%v, %v] are invalid", c.Min, c.Max)
	case c.Initial < c.Min || c.Initial > c.Max:
		return fmt.Errorf("initial look-ahead %v outside [%v, %v]", c.Initial, c.Min, c.Max)
	case c.Step <= 0:
		return fmt.Errorf("step %v must be positive", c.Step)
	case c.Window <= 0:
		return fmt.Errorf("window %d must be positive", c.Window)
	}
	return nil
}

// Tuner tracks wake-up cost over a bounded window.
type Tuner struct {
	cfg           Config
	lookAhead     float64
	scheduleAhead float64
	history       []time.Duration
	adjustments   int
}

// New returns a Tuner. Invalid constants are replaced by DefaultConfig.
func New(cfg Config) *Tuner {
	if cfg.Validate() != nil {
		cfg = DefaultConfig()
	}
	t := &Tuner{
		cfg:     cfg,
		history: make([]time.Duration, 0, cfg.Window),
	}
	t.Reset()
	return t
}

// Reset restores the initial look-ahead and clears the history.
func (t *Tuner) Reset() {
	t.lookAhead = t.cfg.Initial
	t.scheduleAhead = t.scheduleFor(t.lookAhead)
	t.history = t.history[:0]
}

func (t *Tuner) scheduleFor(lookAhead float64) float64 {
	return max(2*lookAhead, t.cfg.ScheduleFloor)
}

// LookAhead returns the current look-ahead window in seconds.
func (t *Tuner) LookAhead() float64 { return t.lookAhead }

// ScheduleAhead returns the expected interval between wake-ups in seconds.
func (t *Tuner) ScheduleAhead() float64 { return t.scheduleAhead }

// Config returns the constants in use.
func (t *Tuner) Config() Config { return t.cfg }

// Adjustments counts how many times the window was evaluated.
func (t *Tuner) Adjustments() int { return t.adjustments }

// Observe records the cost of one wake-up. Once the window is full the
// look-ahead is grown or shrunk by one step and the window is cleared. It
// reports whether the look-ahead changed.
func (t *Tuner) Observe(cost time.Duration) bool {
	t.history = append(t.history, cost)
	if len(t.history) < t.cfg.Window {
		return false
	}

	var sum, peak time.Duration
	for _, c := range t.history {
		sum += c
		if c > peak {
			peak = c
		}
	}
	mean := sum.Seconds() / float64(len(t.history))

	prev := t.lookAhead
	switch {
	case peak.Seconds() > t.cfg.GrowRatio*t.lookAhead:
		t.lookAhead = min(t.cfg.Max, t.lookAhead+t.cfg.Step)
	case mean < t.cfg.ShrinkRatio*t.lookAhead && t.lookAhead > t.cfg.Min:
		t.lookAhead = max(t.cfg.Min, t.lookAhead-t.cfg.Step)
	}
	t.scheduleAhead = t.scheduleFor(t.lookAhead)
	t.history = t.history[:0]
	t.adjustments++
	return t.lookAhead != prev
}

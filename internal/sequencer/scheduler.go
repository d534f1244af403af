// Package sequencer implements the look-ahead scheduler. On every wake-up of
// the host loop it emits all steps whose start falls inside the look-ahead
// window, placing them on the audio clock rather than on the wake-up time.
package sequencer

import (
	"log/slog"
	"math"
	"time"

	"github.com/icco/lookahead/internal/clock"
	"github.com/icco/lookahead/internal/diag"
	"github.com/icco/lookahead/internal/emitter"
	"github.com/icco/lookahead/internal/pattern"
	"github.com/icco/lookahead/internal/tuner"
)

const (
	DefaultStepsPerBar = 16
	DefaultCostWarn    = 5 * time.Millisecond
)

// Timing is a copy of the scheduler's timing state.
type Timing struct {
	Running        bool
	BPM            float64
	Multiplier     int
	SecondsPerStep float64
	SessionStart   float64
	NextStepTime   float64
	CurrentStep    int
	AbsoluteStep   int
	PatternLength  int
	LookAhead      float64
	ScheduleAhead  float64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithTuner replaces the default look-ahead tuner.
func WithTuner(t *tuner.Tuner) Option {
	return func(s *Scheduler) { s.tuner = t }
}

// WithRecorder enables bar diagnostics. The bar length follows the recorder.
func WithRecorder(r *diag.Recorder) Option {
	return func(s *Scheduler) { s.rec = r }
}

// WithStepsPerBar sets the bar length when no recorder is configured.
func WithStepsPerBar(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.stepsPerBar = n
		}
	}
}

// WithCostWarning sets the wake-up cost above which a warning is logged.
func WithCostWarning(d time.Duration) Option {
	return func(s *Scheduler) { s.costWarn = d }
}

// WithContinuous advances the source to its next sequence every time the
// pattern wraps, if the source supports it.
func WithContinuous(on bool) Option {
	return func(s *Scheduler) { s.continuous = on }
}

// Scheduler owns the timing state of one transport. It is not safe for
// concurrent use: all methods must be called from the host loop.
type Scheduler struct {
	clock       clock.Clock
	src         pattern.Source
	em          *emitter.Emitter
	tuner       *tuner.Tuner
	rec         *diag.Recorder
	log         *slog.Logger
	stepsPerBar int
	costWarn    time.Duration
	continuous  bool

	running       bool
	bpm           float64
	multiplier    int
	sps           float64
	sessionStart  float64
	displayAnchor float64
	nextStepTime  float64
	lastStepTime  float64
	currentStep   int
	absoluteStep  int
	patternLength int
	lastWake      time.Time

	// tempo last read from the source, to follow edits made there
	seenBPM  float64
	seenMult int
}

// New returns a stopped Scheduler that reads src and emits through em.
func New(clk clock.Clock, src pattern.Source, em *emitter.Emitter, opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:       clk,
		src:         src,
		em:          em,
		log:         slog.Default(),
		stepsPerBar: DefaultStepsPerBar,
		costWarn:    DefaultCostWarn,
	}
	for _, o := range opts {
		o(s)
	}
	if s.tuner == nil {
		s.tuner = tuner.New(tuner.DefaultConfig())
	}
	if s.rec != nil {
		s.stepsPerBar = s.rec.StepsPerBar()
	}
	return s
}

func stepDuration(bpm float64, multiplier int) float64 {
	return 60 / (bpm * float64(multiplier))
}

// Start anchors the session at the current audio time plus the pre-roll. It
// refuses to start with a non-positive tempo or multiplier. Calling Start on
// a running scheduler does nothing.
func (s *Scheduler) Start() error {
	if s.running {
		return nil
	}
	snap := s.src.Snapshot()
	if err := validateTempo(snap.BPM); err != nil {
		return err
	}
	if err := validateMultiplier(snap.Multiplier); err != nil {
		return err
	}

	s.bpm, s.seenBPM = snap.BPM, snap.BPM
	s.multiplier, s.seenMult = snap.Multiplier, snap.Multiplier
	s.sps = stepDuration(s.bpm, s.multiplier)
	s.patternLength = max(snap.PatternLength, 1)
	s.sessionStart = s.clock.CurrentTime() + s.clock.PreRoll()
	s.displayAnchor = s.sessionStart
	s.nextStepTime = s.sessionStart
	s.lastStepTime = 0
	s.currentStep = 0
	s.absoluteStep = 0
	s.lastWake = time.Time{}
	s.running = true

	s.log.Info("transport started",
		"bpm", s.bpm,
		"multiplier", s.multiplier,
		"session_start", s.sessionStart,
		"look_ahead", s.tuner.LookAhead())
	return nil
}

// Stop hard-stops every event still playing or scheduled, and resets the
// timing state. Ticks after Stop do nothing. Stop is idempotent.
func (s *Scheduler) Stop() {
	stopped := s.em.StopAll()
	if !s.running {
		return
	}
	if s.rec != nil {
		s.rec.Reset()
	}
	s.running = false
	s.sessionStart = 0
	s.displayAnchor = 0
	s.nextStepTime = 0
	s.lastStepTime = 0
	s.currentStep = 0
	s.absoluteStep = 0
	s.lastWake = time.Time{}

	s.log.Info("transport stopped", "stopped_events", stopped)
}

// Running reports whether the transport is started.
func (s *Scheduler) Running() bool { return s.running }

// Poll runs one tick at the current audio time.
func (s *Scheduler) Poll() int {
	return s.Tick(s.clock.CurrentTime())
}

// Tick schedules every step that starts before now plus the look-ahead. The
// amount of work depends only on now, so a late wake-up catches up in one
// call. It returns the number of events started.
func (s *Scheduler) Tick(now float64) int {
	if !s.running {
		return 0
	}
	entry := s.clock.Now()
	s.checkWake(entry)

	snap := s.src.Snapshot()
	s.follow(snap)
	s.resize(snap)

	emitted := 0
	horizon := now + s.tuner.LookAhead()
	for s.nextStepTime < horizon {
		t := s.nextStepTime
		step := s.currentStep
		abs := s.absoluteStep

		if s.rec != nil {
			s.rec.Schedule(abs, t)
		}
		emitted += s.em.EmitStep(snap, step, abs, t)

		s.lastStepTime = t
		s.nextStepTime += s.sps
		s.absoluteStep++
		s.currentStep = s.absoluteStep % s.patternLength

		if s.rec != nil && abs%s.stepsPerBar == s.stepsPerBar-1 {
			s.rec.CloseBar(abs / s.stepsPerBar)
		}
		if s.continuous && s.currentStep == 0 {
			if adv, ok := s.src.(pattern.Advancer); ok {
				adv.AdvanceSequence()
				snap = s.src.Snapshot()
				s.resize(snap)
			}
		}
	}

	if s.rec != nil {
		s.rec.Flush(now)
	}

	cost := s.clock.Now().Sub(entry)
	if s.tuner.Observe(cost) {
		s.log.Debug("look-ahead adjusted",
			"look_ahead", s.tuner.LookAhead(),
			"schedule_ahead", s.tuner.ScheduleAhead())
	}
	if cost > s.costWarn {
		s.log.Warn("slow wake-up", "cost_ms", float64(cost)/float64(time.Millisecond), "steps", emitted)
	}
	return emitted
}

// checkWake notes wake-ups that arrive later than the schedule-ahead
// interval after the previous one.
func (s *Scheduler) checkWake(entry time.Time) {
	if !s.lastWake.IsZero() {
		delay := entry.Sub(s.lastWake).Seconds()
		if expected := s.tuner.ScheduleAhead(); delay > expected {
			s.log.Debug("late wake-up", "delay_ms", delay*1000, "expected_ms", expected*1000)
		}
	}
	s.lastWake = entry
}

// follow applies tempo edits made in the source since the last tick.
// Invalid values are ignored and the previous tempo stays in effect.
func (s *Scheduler) follow(snap pattern.Snapshot) {
	if snap.BPM != s.seenBPM {
		s.seenBPM = snap.BPM
		if err := s.SetTempo(snap.BPM); err != nil {
			s.log.Warn("ignoring pattern tempo", "bpm", snap.BPM, "err", err)
		}
	}
	if snap.Multiplier != s.seenMult {
		s.seenMult = snap.Multiplier
		if err := s.SetScheduleMultiplier(snap.Multiplier); err != nil {
			s.log.Warn("ignoring pattern multiplier", "multiplier", snap.Multiplier, "err", err)
		}
	}
}

func (s *Scheduler) resize(snap pattern.Snapshot) {
	if snap.PatternLength > 0 && snap.PatternLength != s.patternLength {
		s.patternLength = snap.PatternLength
		s.currentStep = s.absoluteStep % s.patternLength
	}
}

// SetTempo changes the tempo. While running, the next step is placed one new
// step interval after the last scheduled step and counting continues.
func (s *Scheduler) SetTempo(bpm float64) error {
	if err := validateTempo(bpm); err != nil {
		return err
	}
	if bpm == s.bpm {
		return nil
	}
	s.bpm = bpm
	s.retime()
	s.log.Debug("tempo changed", "bpm", bpm, "seconds_per_step", s.sps)
	return nil
}

// SetScheduleMultiplier changes the number of steps per beat. It behaves like
// SetTempo.
func (s *Scheduler) SetScheduleMultiplier(n int) error {
	if err := validateMultiplier(n); err != nil {
		return err
	}
	if n == s.multiplier {
		return nil
	}
	s.multiplier = n
	s.retime()
	s.log.Debug("multiplier changed", "multiplier", n, "seconds_per_step", s.sps)
	return nil
}

func (s *Scheduler) retime() {
	if s.multiplier < 1 {
		// Not started yet; Start reads both values from the source.
		return
	}
	s.sps = stepDuration(s.bpm, s.multiplier)
	if !s.running || s.absoluteStep == 0 {
		return
	}
	s.nextStepTime = s.lastStepTime + s.sps
	s.displayAnchor = s.lastStepTime - float64(s.absoluteStep-1)*s.sps
}

// DisplayStep returns the step that is audible at audio time now. It is
// derived from elapsed time, not from the scheduling position, which runs
// ahead by the look-ahead window.
func (s *Scheduler) DisplayStep(now float64) int {
	if !s.running || now < s.displayAnchor || s.sps <= 0 {
		return 0
	}
	idx := int(math.Floor((now - s.displayAnchor) / s.sps))
	return idx % s.patternLength
}

// Timing returns a copy of the timing state.
func (s *Scheduler) Timing() Timing {
	return Timing{
		Running:        s.running,
		BPM:            s.bpm,
		Multiplier:     s.multiplier,
		SecondsPerStep: s.sps,
		SessionStart:   s.sessionStart,
		NextStepTime:   s.nextStepTime,
		CurrentStep:    s.currentStep,
		AbsoluteStep:   s.absoluteStep,
		PatternLength:  s.patternLength,
		LookAhead:      s.tuner.LookAhead(),
		ScheduleAhead:  s.tuner.ScheduleAhead(),
	}
}

// Emitter returns the emitter the scheduler drives.
func (s *Scheduler) Emitter() *emitter.Emitter { return s.em }

// Recorder returns the diagnostics recorder, or nil.
func (s *Scheduler) Recorder() *diag.Recorder { return s.rec }

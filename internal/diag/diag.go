// Package diag measures scheduling accuracy. For every bar it pairs the
// scheduled start of each step with the actual end reported by the backend
// and summarises the drift.
package diag

import (
	"log/slog"
	"math"
	"sort"
	"sync"
)

// Actual is an end notification for one step.
type Actual struct {
	End     float64 // audio time the backend reported
	Audible float64 // audible duration the event was planned with
}

// StepReport is the outcome of one scheduled step.
type StepReport struct {
	Step      int
	Scheduled float64
	End       float64
	Drift     float64 // End - (Scheduled + Audible)
	Pending   bool    // no end recorded yet
}

// BarReport summarises one bar.
type BarReport struct {
	Bar          int
	Steps        []StepReport
	Measured     int
	Pending      int
	MeanAbsDrift float64 // seconds, over measured steps only
	MaxAbsDrift  float64
}

// Analyze computes drift for the steps of one bar. Steps without an actual
// record are reported as pending and do not contribute to the mean.
func Analyze(bar int, scheduled map[int]float64, actual map[int]Actual) BarReport {
	steps := make([]int, 0, len(scheduled))
	for s := range scheduled {
		steps = append(steps, s)
	}
	sort.Ints(steps)

	rep := BarReport{Bar: bar, Steps: make([]StepReport, 0, len(steps))}
	var sum float64
	for _, s := range steps {
		sr := StepReport{Step: s, Scheduled: scheduled[s]}
		a, ok := actual[s]
		if !ok {
			sr.Pending = true
			rep.Pending++
			rep.Steps = append(rep.Steps, sr)
			continue
		}
		sr.End = a.End
		sr.Drift = a.End - (sr.Scheduled + a.Audible)
		abs := math.Abs(sr.Drift)
		sum += abs
		rep.MaxAbsDrift = max(rep.MaxAbsDrift, abs)
		rep.Measured++
		rep.Steps = append(rep.Steps, sr)
	}
	if rep.Measured > 0 {
		rep.MeanAbsDrift = sum / float64(rep.Measured)
	}
	return rep
}

// Config controls the recorder.
type Config struct {
	StepsPerBar int
	Settle      float64 // audio seconds to wait after a bar before reporting
	DriftWarn   float64 // mean drift above this is logged as a warning
}

// DefaultConfig returns 16 steps per bar, 0.75s settle and a 5ms warning.
func DefaultConfig() Config {
	return Config{StepsPerBar: 16, Settle: 0.75, DriftWarn: 0.005}
}

type barBuffer struct {
	scheduled map[int]float64
	actual    map[int]Actual
	last      float64
	closed    bool
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the logger reports are written to.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.log = l }
}

// WithReportHook registers fn to receive every report.
func WithReportHook(fn func(BarReport)) Option {
	return func(r *Recorder) { r.onReport = fn }
}

// Recorder collects per-bar records. Schedule, CloseBar and Flush are called
// from the scheduler; RecordEnd may be called from any goroutine.
type Recorder struct {
	mu       sync.Mutex
	cfg      Config
	log      *slog.Logger
	onReport func(BarReport)
	bars     map[int]*barBuffer
	last     BarReport
	hasLast  bool
	reports  int
}

// NewRecorder returns a Recorder.
func NewRecorder(cfg Config, opts ...Option) *Recorder {
	if cfg.StepsPerBar <= 0 {
		cfg.StepsPerBar = DefaultConfig().StepsPerBar
	}
	r := &Recorder{
		cfg:  cfg,
		log:  slog.Default(),
		bars: make(map[int]*barBuffer),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// StepsPerBar returns the bar length in steps.
func (r *Recorder) StepsPerBar() int { return r.cfg.StepsPerBar }

func (r *Recorder) split(absStep int) (bar, step int) {
	return absStep / r.cfg.StepsPerBar, absStep % r.cfg.StepsPerBar
}

// Schedule records the scheduled start time of an absolute step.
func (r *Recorder) Schedule(absStep int, t float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bar, step := r.split(absStep)
	b, ok := r.bars[bar]
	if !ok {
		b = &barBuffer{scheduled: make(map[int]float64), actual: make(map[int]Actual)}
		r.bars[bar] = b
	}
	b.scheduled[step] = t
	b.last = max(b.last, t)
}

// RecordEnd stores the actual end of an absolute step. Only the first record
// for a step is kept; ends for bars already reported or reset are dropped.
func (r *Recorder) RecordEnd(absStep int, end, audible float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	bar, step := r.split(absStep)
	b, ok := r.bars[bar]
	if !ok {
		return false
	}
	if _, seen := b.actual[step]; seen {
		return false
	}
	b.actual[step] = Actual{End: end, Audible: audible}
	return true
}

// CloseBar marks bar complete. It is reported by the first Flush after its
// settle time.
func (r *Recorder) CloseBar(bar int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.bars[bar]; ok {
		b.closed = true
	}
}

// Flush reports every closed bar whose settle time has passed at audio time
// now, oldest first.
func (r *Recorder) Flush(now float64) []BarReport {
	r.mu.Lock()
	var ready []int
	for bar, b := range r.bars {
		if b.closed && now >= b.last+r.cfg.Settle {
			ready = append(ready, bar)
		}
	}
	sort.Ints(ready)

	reports := make([]BarReport, 0, len(ready))
	for _, bar := range ready {
		b := r.bars[bar]
		delete(r.bars, bar)
		rep := Analyze(bar, b.scheduled, b.actual)
		reports = append(reports, rep)
		r.last = rep
		r.hasLast = true
		r.reports++
	}
	hook := r.onReport
	r.mu.Unlock()

	for _, rep := range reports {
		r.logReport(rep)
		if hook != nil {
			hook(rep)
		}
	}
	return reports
}

func (r *Recorder) logReport(rep BarReport) {
	attrs := []any{
		"bar", rep.Bar,
		"measured", rep.Measured,
		"pending", rep.Pending,
		"mean_drift_ms", rep.MeanAbsDrift * 1000,
		"max_drift_ms", rep.MaxAbsDrift * 1000,
	}
	switch {
	case rep.Measured == 0:
		r.log.Debug("bar timing pending", attrs...)
	case rep.MeanAbsDrift > r.cfg.DriftWarn:
		r.log.Warn("timing drift", attrs...)
	default:
		r.log.Debug("bar timing", attrs...)
	}
}

// Last returns the most recent report.
func (r *Recorder) Last() (BarReport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.hasLast
}

// Reports counts reports produced so far.
func (r *Recorder) Reports() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reports
}

// Reset drops every open bar.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bars = make(map[int]*barBuffer)
}

// Package emitter turns one step of one channel into a timed playback event:
// it computes offsets, rate and fades, builds the voice chain, starts it on
// the backend and tracks it until it ends or is stopped.
package emitter

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"

	"github.com/icco/lookahead/internal/audio"
	"github.com/icco/lookahead/internal/diag"
	"github.com/icco/lookahead/internal/pattern"
)

var (
	ErrMissingBuffer = errors.New("channel has no buffer")
	ErrBackend       = errors.New("backend failed to start event")
)

func missingBuffer(ch pattern.Channel) error {
	return fault.Wrap(ErrMissingBuffer,
		fmsg.With(fmt.Sprintf("channel %d (%s)", ch.ID, ch.Name)),
		ftag.With(ftag.NotFound))
}

func backendError(ch pattern.Channel, err error) error {
	return fault.Wrap(fmt.Errorf("%w: %w", ErrBackend, err),
		fmsg.With(fmt.Sprintf("channel %d (%s)", ch.ID, ch.Name)),
		ftag.With(ftag.Internal))
}

// Event is one scheduled playback. It owns the backend voice and is released
// exactly once, on natural end or on a hard stop.
type Event struct {
	ChannelID int
	Step      int
	AbsStep   int
	Time      float64
	Audible   float64

	emitter  *Emitter
	mu       sync.Mutex
	voice    audio.Voice
	released bool
}

// attach hands the started voice to the event. A voice that arrives after
// the event was already released is disposed at once.
func (e *Event) attach(v audio.Voice) bool {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		v.Dispose()
		return false
	}
	e.voice = v
	e.mu.Unlock()
	return true
}

// Release disposes the voice, removes the event from the active set and
// clears its descriptor. Only the first call has any effect.
func (e *Event) Release() {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return
	}
	e.released = true
	v := e.voice
	e.mu.Unlock()

	if v != nil {
		v.Dispose()
	}
	e.emitter.forget(e)
}

// Released reports whether Release has run.
func (e *Event) Released() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.released
}

func (e *Event) stop() {
	e.mu.Lock()
	v := e.voice
	e.mu.Unlock()
	if v != nil {
		v.Stop()
	}
	e.Release()
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithPublisher sets where active-playback descriptors are published.
func WithPublisher(p pattern.Publisher) Option {
	return func(em *Emitter) { em.pub = p }
}

// WithRecorder sets the diagnostics recorder that receives end times.
func WithRecorder(r *diag.Recorder) Option {
	return func(em *Emitter) { em.rec = r }
}

// WithDiagnosticChannel selects the channel whose ends are recorded. The
// default is channel 0.
func WithDiagnosticChannel(id int) Option {
	return func(em *Emitter) { em.diagChannel = id }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(em *Emitter) { em.log = l }
}

// Emitter starts events on a backend and tracks the live ones.
type Emitter struct {
	backend     audio.Backend
	pub         pattern.Publisher
	rec         *diag.Recorder
	diagChannel int
	log         *slog.Logger

	mu     sync.Mutex
	active map[*Event]struct{}

	emitted atomic.Int64
	skipped atomic.Int64
	failed  atomic.Int64
}

// New returns an Emitter on backend b.
func New(b audio.Backend, opts ...Option) *Emitter {
	em := &Emitter{
		backend: b,
		log:     slog.Default(),
		active:  make(map[*Event]struct{}),
	}
	for _, o := range opts {
		o(em)
	}
	return em
}

// EmitStep emits step of every audible channel whose step is active, at audio
// time t. absStep is the step count since the session started. It returns the
// number of events started; failures only skip the event concerned.
func (em *Emitter) EmitStep(snap pattern.Snapshot, step, absStep int, t float64) int {
	n := 0
	for _, ch := range snap.Channels {
		level := ch.Level(step)
		if level <= 0 || !snap.Audible(ch) {
			continue
		}
		if _, err := em.Emit(ch, level, step, absStep, t); err == nil {
			n++
		}
	}
	return n
}

// Emit starts one event.
func (em *Emitter) Emit(ch pattern.Channel, level float64, step, absStep int, t float64) (*Event, error) {
	plan, err := PlanEvent(ch, level, t)
	if err != nil {
		em.skipped.Add(1)
		em.log.Debug("skipping step", "channel", ch.ID, "step", step, "err", err)
		return nil, err
	}

	ev := &Event{
		ChannelID: ch.ID,
		Step:      step,
		AbsStep:   absStep,
		Time:      t,
		Audible:   plan.Audible,
		emitter:   em,
	}

	em.mu.Lock()
	em.active[ev] = struct{}{}
	em.mu.Unlock()

	voice, err := em.backend.Play(audio.PlayRequest{
		Buffer:   plan.Buffer,
		When:     t,
		Offset:   plan.Offset,
		Duration: plan.Audible * plan.Rate,
		Rate:     plan.Rate,
		Chain:    plan.Chain,
		OnEnded:  func(at float64) { em.ended(ev, at) },
	})
	if err != nil {
		em.mu.Lock()
		delete(em.active, ev)
		em.mu.Unlock()
		em.failed.Add(1)
		err = backendError(ch, err)
		em.log.Warn("event not started", "channel", ch.ID, "step", step, "time", t, "err", err)
		return nil, err
	}
	if !ev.attach(voice) {
		return ev, nil
	}
	em.emitted.Add(1)

	if em.pub != nil {
		em.pub.PublishActive(ch.ID, pattern.ActivePlayback{
			ScheduledTime: t,
			Duration:      plan.Audible,
			TrimStart:     ch.TrimStart,
			TrimEnd:       ch.TrimEnd,
			Reversed:      plan.Reversed,
		})
	}
	return ev, nil
}

func (em *Emitter) ended(ev *Event, at float64) {
	if ev.ChannelID == em.diagChannel && em.rec != nil {
		em.rec.RecordEnd(ev.AbsStep, at, ev.Audible)
	}
	ev.Release()
}

func (em *Emitter) forget(ev *Event) {
	em.mu.Lock()
	delete(em.active, ev)
	em.mu.Unlock()

	if em.pub != nil {
		em.pub.ClearActive(ev.ChannelID, ev.Time)
	}
}

// StopAll silences and releases every live event. It returns how many were
// stopped.
func (em *Emitter) StopAll() int {
	em.mu.Lock()
	live := make([]*Event, 0, len(em.active))
	for ev := range em.active {
		live = append(live, ev)
	}
	em.mu.Unlock()

	for _, ev := range live {
		ev.stop()
	}
	return len(live)
}

// Active returns the number of live events.
func (em *Emitter) Active() int {
	em.mu.Lock()
	defer em.mu.Unlock()
	return len(em.active)
}

// Stats reports counters since the emitter was created.
type Stats struct {
	Emitted int64
	Skipped int64
	Failed  int64
	Active  int
}

// Stats returns the emitter counters.
func (em *Emitter) Stats() Stats {
	return Stats{
		Emitted: em.emitted.Load(),
		Skipped: em.skipped.Load(),
		Failed:  em.failed.Load(),
		Active:  em.Active(),
	}
}

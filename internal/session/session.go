// Package session assembles a playable transport from a configuration: the
// pattern store, the emitter on an output backend, diagnostics, the tuner and
// the scheduler.
package session

import (
	"fmt"
	"log/slog"

	"github.com/icco/lookahead/internal/audio"
	"github.com/icco/lookahead/internal/audio/midiout"
	"github.com/icco/lookahead/internal/clock"
	"github.com/icco/lookahead/internal/config"
	"github.com/icco/lookahead/internal/diag"
	"github.com/icco/lookahead/internal/emitter"
	"github.com/icco/lookahead/internal/pattern"
	"github.com/icco/lookahead/internal/sequencer"
	"github.com/icco/lookahead/internal/tuner"
)

// BufferFunc returns the forward and reversed buffers of a channel.
type BufferFunc func(ch config.Channel) (fwd, rev audio.Buffer, err error)

// PCMBuffers synthesises each channel's voice at sampleRate.
func PCMBuffers(sampleRate int) BufferFunc {
	return func(ch config.Channel) (audio.Buffer, audio.Buffer, error) {
		pcm, err := audio.Synthesize(ch.Voice, uint8(ch.Note), sampleRate)
		if err != nil {
			return nil, nil, err
		}
		return pcm, pcm.Reversed(), nil
	}
}

// MIDIBuffers turns each channel into a note held for gate seconds.
// Reversal has no meaning for a note, so both handles are the same.
func MIDIBuffers(gate float64) BufferFunc {
	return func(ch config.Channel) (audio.Buffer, audio.Buffer, error) {
		n := midiout.Note{
			Key:     uint8(ch.Note),
			Channel: uint8(ch.MIDIChannel - 1),
			Gate:    gate,
		}
		return n, n, nil
	}
}

// Session is one assembled transport.
type Session struct {
	Config    *config.Config
	Clock     clock.Clock
	Backend   audio.Backend
	Store     *pattern.Store
	Tuner     *tuner.Tuner
	Recorder  *diag.Recorder
	Emitter   *emitter.Emitter
	Scheduler *sequencer.Scheduler
}

// New builds a stopped session. The configuration must already be valid.
func New(cfg *config.Config, clk clock.Clock, backend audio.Backend, buffers BufferFunc, log *slog.Logger) (*Session, error) {
	if log == nil {
		log = slog.Default()
	}

	store, err := BuildStore(cfg, buffers)
	if err != nil {
		return nil, err
	}

	s := &Session{
		Config:  cfg,
		Clock:   clk,
		Backend: backend,
		Store:   store,
		Tuner:   tuner.New(cfg.TunerConfig()),
	}

	emOpts := []emitter.Option{
		emitter.WithPublisher(store),
		emitter.WithLogger(log.With("component", "emitter")),
	}
	schedOpts := []sequencer.Option{
		sequencer.WithLogger(log.With("component", "scheduler")),
		sequencer.WithTuner(s.Tuner),
		sequencer.WithStepsPerBar(cfg.Transport.StepsPerBar),
		sequencer.WithCostWarning(cfg.Diagnostics.CostWarn),
		sequencer.WithContinuous(cfg.Transport.Continuous),
	}
	if cfg.Diagnostics.Enabled {
		s.Recorder = diag.NewRecorder(cfg.DiagConfig(), diag.WithLogger(log.With("component", "diag")))
		emOpts = append(emOpts,
			emitter.WithRecorder(s.Recorder),
			emitter.WithDiagnosticChannel(cfg.Diagnostics.Channel))
		schedOpts = append(schedOpts, sequencer.WithRecorder(s.Recorder))
	}

	s.Emitter = emitter.New(backend, emOpts...)
	s.Scheduler = sequencer.New(clk, store, s.Emitter, schedOpts...)
	return s, nil
}

// BuildStore creates the pattern store for cfg, attaching buffers to every
// channel and loading the extra sequences.
func BuildStore(cfg *config.Config, buffers BufferFunc) (*pattern.Store, error) {
	length := cfg.Transport.PatternLength
	store := pattern.NewStore(cfg.Transport.Tempo, cfg.Transport.Multiplier, length)

	ids := make(map[string]int, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		c := ch.Pattern(length)
		fwd, rev, err := buffers(ch)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", ch.Name, err)
		}
		c.Buffer, c.Reversed = fwd, rev
		ids[ch.Name] = store.AddChannel(c)
	}

	for _, seq := range cfg.Sequences {
		idx := store.AddSequence()
		for name, s := range seq {
			id, ok := ids[name]
			if !ok {
				return nil, fmt.Errorf("sequence %d: unknown channel %q", idx, name)
			}
			steps, err := pattern.ParseSteps(s)
			if err != nil {
				return nil, fmt.Errorf("sequence %d: %w", idx, err)
			}
			if err := store.SetSteps(idx, id, steps); err != nil {
				return nil, err
			}
		}
	}
	return store, nil
}

// Status is a point-in-time view of the session for display.
type Status struct {
	Timing      sequencer.Timing
	AudioTime   float64
	DisplayStep int
	Sequence    int
	Active      int
	Stats       emitter.Stats
	LastBar     *diag.BarReport
}

// Status reads the session state. It must be called from the host loop.
func (s *Session) Status() Status {
	now := s.Clock.CurrentTime()
	st := Status{
		Timing:      s.Scheduler.Timing(),
		AudioTime:   now,
		DisplayStep: s.Scheduler.DisplayStep(now),
		Sequence:    s.Store.Sequence(),
		Active:      s.Emitter.Active(),
		Stats:       s.Emitter.Stats(),
	}
	if s.Recorder != nil {
		if rep, ok := s.Recorder.Last(); ok {
			st.LastBar = &rep
		}
	}
	return st
}

package pattern

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
)

var (
	ErrUnknownChannel  = errors.New("unknown channel")
	ErrUnknownParam    = errors.New("unknown parameter")
	ErrUnknownSequence = errors.New("unknown sequence")
	ErrStepOutOfRange  = errors.New("step out of range")
)

// Store is a mutex-guarded pattern that implements Source, Publisher and
// Advancer. It may hold several sequences: alternative step grids for the same
// channels, selected one at a time.
type Store struct {
	mu         sync.RWMutex
	bpm        float64
	multiplier int
	length     int
	channels   []Channel
	sequences  [][][]float64 // sequence -> channel -> steps
	current    int
	active     map[int]ActivePlayback
}

// NewStore returns an empty store with one sequence.
func NewStore(bpm float64, multiplier, length int) *Store {
	if length <= 0 {
		length = 16
	}
	return &Store{
		bpm:        bpm,
		multiplier: multiplier,
		length:     length,
		sequences:  [][][]float64{nil},
		active:     make(map[int]ActivePlayback),
	}
}

func unknownChannel(id int) error {
	return fault.Wrap(ErrUnknownChannel,
		fmsg.WithDesc(fmt.Sprintf("channel %d", id), "No such channel"),
		ftag.With(ftag.NotFound))
}

// AddChannel appends c and returns its ID. c.Steps become the steps of the
// current sequence; other sequences start empty.
func (s *Store) AddChannel(c Channel) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	c.ID = len(s.channels)
	steps := s.fit(c.Steps)
	c.Steps = nil
	s.channels = append(s.channels, c)
	for i := range s.sequences {
		if i == s.current {
			s.sequences[i] = append(s.sequences[i], steps)
		} else {
			s.sequences[i] = append(s.sequences[i], make([]float64, s.length))
		}
	}
	return c.ID
}

// fit copies steps into a slice of exactly the pattern length.
func (s *Store) fit(steps []float64) []float64 {
	out := make([]float64, s.length)
	copy(out, steps)
	return out
}

// Snapshot returns a deep copy of the current sequence.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		BPM:           s.bpm,
		Multiplier:    s.multiplier,
		PatternLength: s.length,
		Channels:      make([]Channel, len(s.channels)),
	}
	for i, c := range s.channels {
		c.Steps = s.sequences[s.current][i]
		snap.Channels[i] = c.clone()
	}
	return snap
}

// Channel returns a copy of one channel with its current steps.
func (s *Store) Channel(id int) (Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id < 0 || id >= len(s.channels) {
		return Channel{}, false
	}
	c := s.channels[id]
	c.Steps = s.sequences[s.current][id]
	return c.clone(), true
}

// Len returns the pattern length.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.length
}

// SetBPM stores the tempo. Validation happens when the scheduler applies it.
func (s *Store) SetBPM(bpm float64) {
	s.mu.Lock()
	s.bpm = bpm
	s.mu.Unlock()
}

// SetMultiplier stores the schedule multiplier.
func (s *Store) SetMultiplier(n int) {
	s.mu.Lock()
	s.multiplier = n
	s.mu.Unlock()
}

// SetStep sets the level of one step in the current sequence.
func (s *Store) SetStep(channelID, step int, level float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if channelID < 0 || channelID >= len(s.channels) {
		return unknownChannel(channelID)
	}
	if step < 0 || step >= s.length {
		return fault.Wrap(ErrStepOutOfRange,
			fmsg.WithDesc(fmt.Sprintf("step %d of %d", step, s.length), "Step is outside the pattern"),
			ftag.With(ftag.InvalidArgument))
	}
	if level < 0 {
		level = 0
	}
	s.sequences[s.current][channelID][step] = level
	return nil
}

// ToggleStep flips a step between rest and full level.
func (s *Store) ToggleStep(channelID, step int) error {
	c, ok := s.Channel(channelID)
	if !ok {
		return unknownChannel(channelID)
	}
	level := 1.0
	if c.Level(step) > 0 {
		level = 0
	}
	return s.SetStep(channelID, step, level)
}

// SetSteps replaces the steps of a channel in sequence seq.
func (s *Store) SetSteps(seq, channelID int, steps []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq < 0 || seq >= len(s.sequences) {
		return fault.Wrap(ErrUnknownSequence,
			fmsg.With(fmt.Sprintf("sequence %d", seq)),
			ftag.With(ftag.NotFound))
	}
	if channelID < 0 || channelID >= len(s.channels) {
		return unknownChannel(channelID)
	}
	s.sequences[seq][channelID] = s.fit(steps)
	return nil
}

// SetParam sets a playback parameter of one channel, clamped to its range.
func (s *Store) SetParam(channelID int, p Param, v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if channelID < 0 || channelID >= len(s.channels) {
		return unknownChannel(channelID)
	}
	if !p.valid() {
		return fault.Wrap(ErrUnknownParam,
			fmsg.With(fmt.Sprintf("param %d", int(p))),
			ftag.With(ftag.NotFound))
	}
	return s.channels[channelID].Set(p, v)
}

// AddSequence appends an empty sequence and returns its index.
func (s *Store) AddSequence() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := make([][]float64, len(s.channels))
	for i := range seq {
		seq[i] = make([]float64, s.length)
	}
	s.sequences = append(s.sequences, seq)
	return len(s.sequences) - 1
}

// Sequences returns the number of sequences.
func (s *Store) Sequences() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sequences)
}

// Sequence returns the index of the current sequence.
func (s *Store) Sequence() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// SelectSequence makes seq current.
func (s *Store) SelectSequence(seq int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq < 0 || seq >= len(s.sequences) {
		return fault.Wrap(ErrUnknownSequence,
			fmsg.With(fmt.Sprintf("sequence %d", seq)),
			ftag.With(ftag.NotFound))
	}
	s.current = seq
	return nil
}

// AdvanceSequence moves to the next sequence, wrapping to the first.
func (s *Store) AdvanceSequence() {
	s.mu.Lock()
	s.current = (s.current + 1) % len(s.sequences)
	s.mu.Unlock()
}

func (s *Store) PublishActive(channelID int, ap ActivePlayback) {
	s.mu.Lock()
	s.active[channelID] = ap
	s.mu.Unlock()
}

func (s *Store) ClearActive(channelID int, scheduledTime float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ap, ok := s.active[channelID]; ok && ap.ScheduledTime == scheduledTime {
		delete(s.active, channelID)
	}
}

// Active returns the descriptor published for a channel, if any.
func (s *Store) Active(channelID int) (ActivePlayback, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ap, ok := s.active[channelID]
	return ap, ok
}

// Package clock provides the hybrid time sources used by the scheduler: a
// monotonic wall clock for measuring loop cost and an audio-domain clock,
// in seconds, on which playback events are placed.
package clock

import (
	"sync"
	"time"
)

// DefaultPreRoll is the offset added to the audio clock when a session starts,
// giving the first wake-up time to schedule step zero before it is due.
const DefaultPreRoll = 0.1

// AudioClock reports the audio-domain time in seconds.
type AudioClock interface {
	CurrentTime() float64
}

// Clock combines wall time and audio time.
type Clock interface {
	AudioClock
	Now() time.Time
	PreRoll() float64
}

// Hybrid pairs an audio clock with the system monotonic clock.
type Hybrid struct {
	audio   AudioClock
	preRoll float64
}

// NewHybrid wraps audio with the system wall clock. A non-positive preRoll
// falls back to DefaultPreRoll.
func NewHybrid(audio AudioClock, preRoll float64) *Hybrid {
	if preRoll <= 0 {
		preRoll = DefaultPreRoll
	}
	return &Hybrid{audio: audio, preRoll: preRoll}
}

func (h *Hybrid) CurrentTime() float64 { return h.audio.CurrentTime() }

func (h *Hybrid) Now() time.Time { return time.Now() }

func (h *Hybrid) PreRoll() float64 { return h.preRoll }

// System is an audio clock driven by the monotonic wall clock. Backends that
// have no sample clock of their own (MIDI) place events on it.
type System struct {
	start time.Time
}

// NewSystem returns a System clock whose zero is now.
func NewSystem() *System {
	return &System{start: time.Now()}
}

// CurrentTime returns the seconds elapsed since the clock was created.
func (s *System) CurrentTime() float64 {
	return time.Since(s.start).Seconds()
}

// Manual is a hand-driven clock for tests. Each call to Now advances the wall
// time by the configured step, which lets a test dictate the measured cost of
// a scheduler tick.
type Manual struct {
	mu       sync.Mutex
	audio    float64
	wall     time.Time
	wallStep time.Duration
	preRoll  float64
}

// NewManual returns a Manual clock at audio time zero with the default pre-roll.
func NewManual() *Manual {
	return &Manual{
		wall:    time.Unix(0, 0),
		preRoll: DefaultPreRoll,
	}
}

func (m *Manual) CurrentTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.audio
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wall = m.wall.Add(m.wallStep)
	return m.wall
}

func (m *Manual) PreRoll() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.preRoll
}

// Set moves the audio clock to t. The clock never runs backwards.
func (m *Manual) Set(t float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t > m.audio {
		m.audio = t
	}
}

// Advance moves the audio clock forward by d seconds.
func (m *Manual) Advance(d float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d > 0 {
		m.audio += d
	}
}

// SetWallStep sets how far each Now call moves the wall clock.
func (m *Manual) SetWallStep(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallStep = d
}

// SetPreRoll overrides the pre-roll.
func (m *Manual) SetPreRoll(p float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preRoll = p
}

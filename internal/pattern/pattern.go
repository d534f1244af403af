// Package pattern holds the caller-owned sequencer state: channels, their step
// grids and playback parameters, tempo, and the active-playback descriptors
// the emitter publishes back for display.
package pattern

import (
	"fmt"
	"strings"

	"github.com/icco/lookahead/internal/audio"
)

// Filter is a cutoff/resonance pair.
type Filter struct {
	Cutoff float64
	Q      float64
}

// Channel is one track of the pattern.
type Channel struct {
	ID       int
	Name     string
	Buffer   audio.Buffer
	Reversed audio.Buffer
	Reverse  bool

	// Steps holds one level per step: 0 is inactive, anything above is the
	// step gain.
	Steps []float64

	Pitch     float64 // semitones
	TrimStart float64
	TrimEnd   float64
	HPF       Filter
	LPF       Filter
	EQLow     float64 // dB
	EQMid     float64
	EQHigh    float64
	FadeIn    float64 // seconds
	FadeOut   float64
	Volume    float64
	Mute      bool
	Solo      bool
	Note      uint8
}

// NewChannel returns a channel with neutral parameters and length empty steps.
func NewChannel(name string, length int) Channel {
	return Channel{
		Name:    name,
		Steps:   make([]float64, length),
		TrimEnd: 1,
		HPF:     Filter{Cutoff: 20, Q: audio.DefaultQ},
		LPF:     Filter{Cutoff: 20000, Q: audio.DefaultQ},
		Volume:  1,
		Note:    60,
	}
}

// Level returns the step level, or 0 when step is outside the grid.
func (c Channel) Level(step int) float64 {
	if step < 0 || step >= len(c.Steps) {
		return 0
	}
	return c.Steps[step]
}

func (c Channel) clone() Channel {
	steps := make([]float64, len(c.Steps))
	copy(steps, c.Steps)
	c.Steps = steps
	return c
}

// Snapshot is an immutable copy of the pattern read by the scheduler.
type Snapshot struct {
	BPM           float64
	Multiplier    int
	PatternLength int
	Channels      []Channel
}

// Audible applies mute and solo: a muted channel never sounds, and when any
// channel is soloed only soloed channels sound.
func (s Snapshot) Audible(c Channel) bool {
	if c.Mute {
		return false
	}
	for _, other := range s.Channels {
		if other.Solo {
			return c.Solo
		}
	}
	return true
}

// ActivePlayback describes the most recent event started on a channel.
type ActivePlayback struct {
	ScheduledTime float64
	Duration      float64
	TrimStart     float64
	TrimEnd       float64
	Reversed      bool
}

// Source supplies pattern snapshots.
type Source interface {
	Snapshot() Snapshot
}

// Publisher receives active-playback descriptors.
type Publisher interface {
	PublishActive(channelID int, ap ActivePlayback)
	// ClearActive removes the descriptor unless a newer event has replaced
	// the one scheduled at scheduledTime.
	ClearActive(channelID int, scheduledTime float64)
}

// Advancer is implemented by sources that hold several sequences and can
// move to the next one when the pattern wraps.
type Advancer interface {
	AdvanceSequence()
}

// ParseSteps reads a step string such as "x...x...|x..x....". 'x' is a full
// level step, '1'-'9' are levels in ninths, '.', '-' and '0' are rests. Spaces
// and '|' are ignored.
func ParseSteps(s string) ([]float64, error) {
	var steps []float64
	for i, r := range s {
		switch {
		case r == 'x' || r == 'X':
			steps = append(steps, 1)
		case r == '.' || r == '-' || r == '0':
			steps = append(steps, 0)
		case r >= '1' && r <= '9':
			steps = append(steps, float64(r-'0')/9)
		case r == ' ' || r == '|':
		default:
			return nil, fmt.Errorf("invalid step %q at offset %d", r, i)
		}
	}
	return steps, nil
}

// FormatSteps is the inverse of ParseSteps for display.
func FormatSteps(steps []float64) string {
	var b strings.Builder
	for _, lvl := range steps {
		switch {
		case lvl <= 0:
			b.WriteByte('.')
		case lvl >= 1:
			b.WriteByte('x')
		default:
			n := int(lvl*9 + 0.5)
			if n < 1 {
				n = 1
			}
			b.WriteByte(byte('0' + n))
		}
	}
	return b.String()
}

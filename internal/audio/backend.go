// Package audio defines the playback backend contract used by the event
// emitter and provides an oto-based backend that renders PCM voices with a
// per-voice filter chain and gain envelope.
package audio

import "fmt"

// Buffer is an opaque, immutable handle to playable material.
type Buffer interface {
	// Duration in seconds at rate 1.
	Duration() float64
}

// StageKind identifies a filter stage in a voice chain.
type StageKind int

const (
	Highpass StageKind = iota
	Lowpass
	LowShelf
	Peaking
	HighShelf
)

func (k StageKind) String() string {
	switch k {
	case Highpass:
		return "highpass"
	case Lowpass:
		return "lowpass"
	case LowShelf:
		return "lowshelf"
	case Peaking:
		return "peaking"
	case HighShelf:
		return "highshelf"
	default:
		return fmt.Sprintf("stage(%d)", int(k))
	}
}

// Stage is one filter in the chain. GainDB is only used by shelf and peaking
// stages.
type Stage struct {
	Kind      StageKind
	Frequency float64
	Q         float64
	GainDB    float64
}

// ChainSpec describes the transient processing graph of a single voice:
// filters in order, then the gain stage driven by Gain.
type ChainSpec struct {
	Stages []Stage
	Gain   Envelope
}

// PlayRequest asks a backend to start Buffer at audio time When, reading
// Duration seconds of source material from Offset at playback Rate.
type PlayRequest struct {
	Buffer   Buffer
	When     float64
	Offset   float64
	Duration float64
	Rate     float64
	Chain    ChainSpec

	// OnEnded is called at most once, with the audio time at which the voice
	// finished naturally. It may be called from any goroutine. It is not
	// called for voices that were stopped.
	OnEnded func(at float64)
}

// AudibleDuration is the wall length of the request once rate is applied.
func (r PlayRequest) AudibleDuration() float64 {
	if r.Rate <= 0 {
		return r.Duration
	}
	return r.Duration / r.Rate
}

// Voice is a started playback. Stop silences it immediately; Dispose
// disconnects and frees everything the backend allocated for it. Both are
// safe to call more than once.
type Voice interface {
	Stop()
	Dispose()
}

// Backend realises timed playback on an audio-domain clock.
type Backend interface {
	CurrentTime() float64
	Play(req PlayRequest) (Voice, error)
}

// Package audiotest provides a deterministic audio backend for tests. Voices
// never produce sound; they end when the manual clock is advanced past their
// audible end.
package audiotest

import (
	"sync"

	"github.com/icco/lookahead/internal/audio"
	"github.com/icco/lookahead/internal/clock"
)

// Voice records one Play call.
type Voice struct {
	backend  *Backend
	Request  audio.PlayRequest
	stopped  bool
	disposed bool
	ended    bool
}

// End is the audio time at which the voice finishes on its own.
func (v *Voice) End() float64 {
	return v.Request.When + v.Request.AudibleDuration()
}

func (v *Voice) Stop() {
	b := v.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if !v.ended {
		v.stopped = true
	}
}

func (v *Voice) Dispose() {
	b := v.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if !v.ended {
		v.stopped = true
	}
	v.disposed = true
}

// Stopped reports whether the voice was cut off before its end.
func (v *Voice) Stopped() bool {
	v.backend.mu.Lock()
	defer v.backend.mu.Unlock()
	return v.stopped
}

// Disposed reports whether Dispose was called.
func (v *Voice) Disposed() bool {
	v.backend.mu.Lock()
	defer v.backend.mu.Unlock()
	return v.disposed
}

// Backend is a recording audio.Backend driven by a manual clock. It also
// satisfies clock.Clock so a scheduler can run on it directly.
type Backend struct {
	*clock.Manual

	mu     sync.Mutex
	voices []*Voice

	// Err, when set, is returned by every Play call.
	Err error
	// FailIf, when set, fails the Play calls it returns an error for.
	FailIf func(req audio.PlayRequest) error
	// EndLatency is added to the end time reported to OnEnded.
	EndLatency float64
}

// New returns a Backend at audio time zero.
func New() *Backend {
	return &Backend{Manual: clock.NewManual()}
}

func (b *Backend) Play(req audio.PlayRequest) (audio.Voice, error) {
	if b.Err != nil {
		return nil, b.Err
	}
	if b.FailIf != nil {
		if err := b.FailIf(req); err != nil {
			return nil, err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	v := &Voice{backend: b, Request: req}
	b.voices = append(b.voices, v)
	return v, nil
}

// Voices returns every voice played so far, in order.
func (b *Backend) Voices() []*Voice {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Voice, len(b.voices))
	copy(out, b.voices)
	return out
}

// Live counts voices that were neither disposed nor finished.
func (b *Backend) Live() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, v := range b.voices {
		if !v.disposed && !v.ended && !v.stopped {
			n++
		}
	}
	return n
}

// Advance moves the clock forward by d seconds and finishes due voices.
func (b *Backend) Advance(d float64) {
	b.Manual.Advance(d)
	b.FinishUntil(b.CurrentTime())
}

// FinishUntil fires OnEnded for every running voice whose end is at or
// before t.
func (b *Backend) FinishUntil(t float64) {
	type call struct {
		fn func(float64)
		at float64
	}
	var calls []call

	b.mu.Lock()
	for _, v := range b.voices {
		if v.ended || v.stopped {
			continue
		}
		if end := v.End(); end <= t {
			v.ended = true
			if v.Request.OnEnded != nil {
				calls = append(calls, call{fn: v.Request.OnEnded, at: end + b.EndLatency})
			}
		}
	}
	b.mu.Unlock()

	for _, c := range calls {
		c.fn(c.at)
	}
}

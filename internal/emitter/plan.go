package emitter

import (
	"math"

	"github.com/icco/lookahead/internal/audio"
	"github.com/icco/lookahead/internal/pattern"
)

const (
	// MinAudible keeps zero-length trims playable.
	MinAudible = 0.001

	// Filter stages are bypassed at these cutoffs.
	openHighpass = 20.0
	openLowpass  = 20000.0

	eqLowFreq  = 250.0
	eqMidFreq  = 1000.0
	eqMidQ     = 1.0
	eqHighFreq = 4000.0
)

// Plan is the computed playback of one channel at one step.
type Plan struct {
	Buffer   audio.Buffer
	When     float64
	Offset   float64 // source seconds
	Length   float64 // source seconds
	Rate     float64
	Audible  float64 // wall seconds
	FadeIn   float64 // effective, after clamping
	FadeOut  float64
	Peak     float64
	Reversed bool
	Chain    audio.ChainSpec
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

// PlanEvent computes the playback of ch at audio time t with the given step
// level. It fails with ErrMissingBuffer when the channel has nothing to play.
func PlanEvent(ch pattern.Channel, level, t float64) (Plan, error) {
	buf := ch.Buffer
	if ch.Reverse {
		buf = ch.Reversed
	}
	if buf == nil {
		return Plan{}, missingBuffer(ch)
	}

	rate := math.Pow(2, ch.Pitch/12)
	dur := buf.Duration()
	ts := clamp01(ch.TrimStart)
	te := max(ts, clamp01(ch.TrimEnd))

	var offset float64
	if ch.Reverse {
		offset = dur * (1 - te)
	} else {
		offset = dur * ts
	}
	length := dur * (te - ts)
	audible := max(length, MinAudible) / rate

	p := Plan{
		Buffer:   buf,
		When:     t,
		Offset:   offset,
		Length:   length,
		Rate:     rate,
		Audible:  audible,
		Peak:     level * ch.Volume,
		Reversed: ch.Reverse,
	}
	p.Chain.Stages = stages(ch)
	p.FadeIn, p.FadeOut, p.Chain.Gain = envelope(t, audible, p.Peak, ch.FadeIn, ch.FadeOut)
	return p, nil
}

// stages builds the filter chain, skipping stages that would have no effect.
func stages(ch pattern.Channel) []audio.Stage {
	var out []audio.Stage
	if ch.HPF.Cutoff > openHighpass {
		out = append(out, audio.Stage{Kind: audio.Highpass, Frequency: ch.HPF.Cutoff, Q: qOrDefault(ch.HPF.Q)})
	}
	if ch.LPF.Cutoff < openLowpass {
		out = append(out, audio.Stage{Kind: audio.Lowpass, Frequency: ch.LPF.Cutoff, Q: qOrDefault(ch.LPF.Q)})
	}
	if ch.EQLow != 0 {
		out = append(out, audio.Stage{Kind: audio.LowShelf, Frequency: eqLowFreq, GainDB: ch.EQLow})
	}
	if ch.EQMid != 0 {
		out = append(out, audio.Stage{Kind: audio.Peaking, Frequency: eqMidFreq, Q: eqMidQ, GainDB: ch.EQMid})
	}
	if ch.EQHigh != 0 {
		out = append(out, audio.Stage{Kind: audio.HighShelf, Frequency: eqHighFreq, GainDB: ch.EQHigh})
	}
	return out
}

func qOrDefault(q float64) float64 {
	if q <= 0 {
		return audio.DefaultQ
	}
	return q
}

// envelope returns the clamped fades and the gain automation for an event
// starting at t. Each fade is limited to half the audible duration.
func envelope(t, audible, peak, fadeIn, fadeOut float64) (float64, float64, audio.Envelope) {
	limit := audible / 2
	fi := min(max(fadeIn, 0), limit)
	fo := min(max(fadeOut, 0), limit)

	var env audio.Envelope
	if fi > 0 {
		env = env.SetAt(0, t).RampTo(peak, t+fi)
	} else {
		env = env.SetAt(peak, t)
	}

	if fo > 0 {
		end := t + audible
		start := end - fo
		if start > t+fi {
			env = env.SetAt(peak, start).RampTo(0, end)
		} else {
			env = env.RampTo(0, end)
		}
	}
	return fi, fo, env
}

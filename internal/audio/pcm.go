package audio

import "math"

// PCM is mono floating-point sample data.
type PCM struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the length of the buffer in seconds.
func (p *PCM) Duration() float64 {
	if p == nil || p.SampleRate <= 0 {
		return 0
	}
	return float64(len(p.Samples)) / float64(p.SampleRate)
}

// Reversed returns a copy of p played backwards.
func (p *PCM) Reversed() *PCM {
	out := make([]float32, len(p.Samples))
	for i, s := range p.Samples {
		out[len(out)-1-i] = s
	}
	return &PCM{Samples: out, SampleRate: p.SampleRate}
}

// At returns the sample at fractional position pos with linear
// interpolation. Positions outside the buffer are silent.
func (p *PCM) At(pos float64) float64 {
	if pos < 0 {
		return 0
	}
	i := int(math.Floor(pos))
	if i >= len(p.Samples) {
		return 0
	}
	frac := pos - float64(i)
	a := float64(p.Samples[i])
	if i+1 >= len(p.Samples) || frac == 0 {
		return a
	}
	b := float64(p.Samples[i+1])
	return a + (b-a)*frac
}

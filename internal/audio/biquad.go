package audio

import "math"

// DefaultQ is the Butterworth Q used when a stage leaves Q unset.
const DefaultQ = 0.707

// Biquad is a second-order IIR section (direct form I) with coefficients from
// the RBJ audio EQ cookbook.
type Biquad struct {
	b0, b1, b2, a1, a2 float64
	x1, x2, y1, y2     float64
}

// NewBiquad designs a filter for stage s at the given sample rate.
func NewBiquad(s Stage, sampleRate float64) *Biquad {
	nyquist := sampleRate / 2
	freq := s.Frequency
	if freq <= 0 {
		freq = 1
	}
	if freq >= nyquist {
		freq = nyquist * 0.999
	}
	q := s.Q
	if q <= 0 {
		q = DefaultQ
	}

	w0 := 2 * math.Pi * freq / sampleRate
	cosw := math.Cos(w0)
	sinw := math.Sin(w0)
	alpha := sinw / (2 * q)
	a := math.Pow(10, s.GainDB/40)

	var b0, b1, b2, a0, a1, a2 float64
	switch s.Kind {
	case Highpass:
		b0 = (1 + cosw) / 2
		b1 = -(1 + cosw)
		b2 = (1 + cosw) / 2
		a0 = 1 + alpha
		a1 = -2 * cosw
		a2 = 1 - alpha
	case Lowpass:
		b0 = (1 - cosw) / 2
		b1 = 1 - cosw
		b2 = (1 - cosw) / 2
		a0 = 1 + alpha
		a1 = -2 * cosw
		a2 = 1 - alpha
	case Peaking:
		b0 = 1 + alpha*a
		b1 = -2 * cosw
		b2 = 1 - alpha*a
		a0 = 1 + alpha/a
		a1 = -2 * cosw
		a2 = 1 - alpha/a
	case LowShelf, HighShelf:
		// Shelf slope of 1.
		alpha = sinw / 2 * math.Sqrt2
		sq := 2 * math.Sqrt(a) * alpha
		if s.Kind == LowShelf {
			b0 = a * ((a + 1) - (a-1)*cosw + sq)
			b1 = 2 * a * ((a - 1) - (a+1)*cosw)
			b2 = a * ((a + 1) - (a-1)*cosw - sq)
			a0 = (a + 1) + (a-1)*cosw + sq
			a1 = -2 * ((a - 1) + (a+1)*cosw)
			a2 = (a + 1) + (a-1)*cosw - sq
		} else {
			b0 = a * ((a + 1) + (a-1)*cosw + sq)
			b1 = -2 * a * ((a - 1) + (a+1)*cosw)
			b2 = a * ((a + 1) + (a-1)*cosw - sq)
			a0 = (a + 1) - (a-1)*cosw + sq
			a1 = 2 * ((a - 1) - (a+1)*cosw)
			a2 = (a + 1) - (a-1)*cosw - sq
		}
	default:
		return &Biquad{b0: 1}
	}

	return &Biquad{
		b0: b0 / a0,
		b1: b1 / a0,
		b2: b2 / a0,
		a1: a1 / a0,
		a2: a2 / a0,
	}
}

// Process filters one sample.
func (f *Biquad) Process(x float64) float64 {
	y := f.b0*x + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
	f.x2, f.x1 = f.x1, x
	f.y2, f.y1 = f.y1, y
	return y
}

// Reset clears the filter history.
func (f *Biquad) Reset() {
	f.x1, f.x2, f.y1, f.y2 = 0, 0, 0, 0
}

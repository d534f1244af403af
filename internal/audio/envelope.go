package audio

// Point is one automation event on a gain envelope. A Ramp point moves
// linearly from the previous point's value to Value, arriving at Time;
// otherwise the value jumps to Value at Time.
type Point struct {
	Time  float64
	Value float64
	Ramp  bool
}

// Envelope is a time-ordered list of automation points.
type Envelope []Point

// SetAt appends a step to v at t.
func (e Envelope) SetAt(v, t float64) Envelope {
	return append(e, Point{Time: t, Value: v})
}

// RampTo appends a linear ramp arriving at v at t.
func (e Envelope) RampTo(v, t float64) Envelope {
	return append(e, Point{Time: t, Value: v, Ramp: true})
}

// At evaluates the envelope at time t. An empty envelope is unity gain.
func (e Envelope) At(t float64) float64 {
	if len(e) == 0 {
		return 1
	}
	if t < e[0].Time {
		if e[0].Ramp {
			return 0
		}
		return e[0].Value
	}
	for i := 1; i < len(e); i++ {
		p := e[i]
		if t >= p.Time {
			continue
		}
		prev := e[i-1]
		if !p.Ramp {
			return prev.Value
		}
		span := p.Time - prev.Time
		if span <= 0 {
			return p.Value
		}
		return prev.Value + (p.Value-prev.Value)*(t-prev.Time)/span
	}
	return e[len(e)-1].Value
}

// Peak returns the largest value the envelope reaches.
func (e Envelope) Peak() float64 {
	if len(e) == 0 {
		return 1
	}
	peak := 0.0
	for _, p := range e {
		if p.Value > peak {
			peak = p.Value
		}
	}
	return peak
}

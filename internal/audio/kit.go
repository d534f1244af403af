package audio

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
)

// WaveType represents different oscillator wave shapes
type WaveType int

const (
	WaveSine WaveType = iota
	WaveSquare
	WaveSawtooth
	WaveTriangle
)

// renderer fills a buffer for one kit voice. note is only used by pitched
// voices.
type renderer struct {
	length float64 // seconds
	render func(out []float32, sampleRate float64, note uint8, rng *rand.Rand)
}

var kitVoices = map[string]renderer{
	"kick":  {length: 0.5, render: renderKick},
	"snare": {length: 0.25, render: renderSnare},
	"hat":   {length: 0.08, render: renderHat},
	"clap":  {length: 0.3, render: renderClap},
	"tone":  {length: 0.6, render: renderTone(WaveTriangle)},
	"blip":  {length: 0.12, render: renderTone(WaveSquare)},
}

// Voices lists the names Synthesize accepts, sorted.
func Voices() []string {
	names := make([]string, 0, len(kitVoices))
	for name := range kitVoices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Synthesize renders the named kit voice. Rendering is deterministic for a
// given name, note and sample rate.
func Synthesize(name string, note uint8, sampleRate int) (*PCM, error) {
	r, ok := kitVoices[name]
	if !ok {
		return nil, fmt.Errorf("unknown voice %q", name)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	n := int(r.length * float64(sampleRate))
	out := make([]float32, n)
	rng := rand.New(rand.NewPCG(uint64(len(name)), uint64(note)))
	r.render(out, float64(sampleRate), note, rng)
	return &PCM{Samples: out, SampleRate: sampleRate}, nil
}

// renderKick is a decaying sine with a downward pitch bend.
func renderKick(out []float32, sr float64, _ uint8, _ *rand.Rand) {
	var phase float64
	n := float64(len(out))
	for i := range out {
		t := float64(i) / n
		freq := 150 - 100*t
		phase += 2 * math.Pi * freq / sr
		out[i] = float32(math.Sin(phase) * math.Exp(-5*t))
	}
}

// renderSnare mixes a short body tone with decaying noise.
func renderSnare(out []float32, sr float64, _ uint8, rng *rand.Rand) {
	n := float64(len(out))
	for i := range out {
		t := float64(i) / n
		body := math.Sin(2*math.Pi*180*float64(i)/sr) * math.Exp(-12*t)
		noise := (rng.Float64()*2 - 1) * math.Exp(-6*t)
		out[i] = float32(0.4*body + 0.6*noise)
	}
}

// renderHat is a bright noise burst: first difference of white noise.
func renderHat(out []float32, _ float64, _ uint8, rng *rand.Rand) {
	n := float64(len(out))
	prev := 0.0
	for i := range out {
		t := float64(i) / n
		x := rng.Float64()*2 - 1
		out[i] = float32((x - prev) * 0.5 * math.Exp(-8*t))
		prev = x
	}
}

// renderClap is three quick noise bursts followed by a tail.
func renderClap(out []float32, sr float64, _ uint8, rng *rand.Rand) {
	burst := int(0.01 * sr)
	for i := range out {
		x := rng.Float64()*2 - 1
		var env float64
		switch {
		case i < 3*burst:
			env = math.Exp(-float64(i%burst) / (0.3 * float64(burst)))
		default:
			env = 0.7 * math.Exp(-float64(i-3*burst)/(0.05*sr))
		}
		out[i] = float32(x * env)
	}
}

// renderTone returns a pitched oscillator voice with a linear release.
func renderTone(wave WaveType) func([]float32, float64, uint8, *rand.Rand) {
	return func(out []float32, sr float64, note uint8, _ *rand.Rand) {
		if note == 0 {
			note = 60
		}
		freq := midiNoteToFreq(note)
		var phase float64
		n := float64(len(out))
		for i := range out {
			t := float64(i) / n
			env := 1 - t
			out[i] = float32(generateWave(wave, phase) * env * 0.6)
			phase += freq / sr
			if phase >= 1.0 {
				phase -= 1.0
			}
		}
	}
}

func generateWave(waveType WaveType, phase float64) float64 {
	switch waveType {
	case WaveSine:
		return math.Sin(2 * math.Pi * phase)
	case WaveSquare:
		if phase < 0.5 {
			return 0.8
		}
		return -0.8
	case WaveSawtooth:
		return 2*phase - 1
	case WaveTriangle:
		if phase < 0.5 {
			return 4*phase - 1
		}
		return 3 - 4*phase
	default:
		return math.Sin(2 * math.Pi * phase)
	}
}

// midiNoteToFreq converts a MIDI note number to frequency in Hz
func midiNoteToFreq(note uint8) float64 {
	// A4 (note 69) = 440 Hz
	return 440.0 * math.Pow(2.0, (float64(note)-69.0)/12.0)
}

package audio

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

const (
	DefaultSampleRate = 44100

	channelCount = 2 // stereo
	bitDepth     = 2 // 16-bit
)

var (
	ErrUnsupportedBuffer = errors.New("buffer is not PCM")
	ErrMixerClosed       = errors.New("mixer closed")
	ErrTooManyVoices     = errors.New("voice limit reached")
	ErrInvalidRate       = errors.New("playback rate must be positive")
)

type voiceState int

const (
	voicePending voiceState = iota
	voicePlaying
	voiceDone
	voiceStopped
)

// voice is one scheduled playback of a PCM buffer with its own filter chain
// and gain automation.
type voice struct {
	mixer   *Mixer
	pcm     *PCM
	start   int64   // output frame of the scheduled start
	pos     float64 // source position in samples
	end     float64
	step    float64 // source samples per output frame
	filters []*Biquad
	gain    Envelope
	onEnded func(at float64)
	state   voiceState
}

func (v *voice) Stop() {
	m := v.mixer
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.state == voicePending || v.state == voicePlaying {
		v.state = voiceStopped
	}
}

func (v *voice) Dispose() {
	m := v.mixer
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.state == voicePending || v.state == voicePlaying {
		v.state = voiceStopped
	}
	for i, other := range m.voices {
		if other == v {
			m.voices = append(m.voices[:i], m.voices[i+1:]...)
			break
		}
	}
	v.filters = nil
	v.onEnded = nil
}

// Mixer renders scheduled voices to an oto player. Its frame counter is the
// audio-domain clock that voices are placed on.
type Mixer struct {
	mu           sync.Mutex
	otoCtx       *oto.Context
	player       *oto.Player
	sampleRate   int
	frame        int64 // frames rendered so far
	lastChunk    int64
	lastRead     time.Time
	lastReported float64
	voices       []*voice
	maxVoices    int
	masterVolume float64
	running      bool
	now          func() time.Time
}

// NewMixer opens the default audio device and starts rendering.
func NewMixer(sampleRate int) (*Mixer, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channelCount,
		Format:       oto.FormatSignedInt16LE,
	}

	otoCtx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, err
	}
	<-readyChan

	m := newMixer(sampleRate)
	m.otoCtx = otoCtx

	// Start the audio stream
	m.player = otoCtx.NewPlayer(m)
	m.player.SetBufferSize(sampleRate / 20 * channelCount * bitDepth)
	m.player.Play()

	return m, nil
}

func newMixer(sampleRate int) *Mixer {
	return &Mixer{
		sampleRate:   sampleRate,
		maxVoices:    256,
		masterVolume: 0.5,
		running:      true,
		now:          time.Now,
	}
}

// SampleRate returns the output rate in Hz.
func (m *Mixer) SampleRate() int { return m.sampleRate }

// CurrentTime estimates the playing position in seconds. Between reads the
// position is extrapolated from the wall clock, never past the rendered
// frontier and never backwards.
func (m *Mixer) CurrentTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	sr := float64(m.sampleRate)
	t := float64(m.frame-m.lastChunk) / sr
	if !m.lastRead.IsZero() {
		t += m.now().Sub(m.lastRead).Seconds()
	}
	if frontier := float64(m.frame) / sr; t > frontier {
		t = frontier
	}
	if t < m.lastReported {
		t = m.lastReported
	}
	m.lastReported = t
	return t
}

// Play schedules req. Voices whose start time has already been rendered
// start on the next frame.
func (m *Mixer) Play(req PlayRequest) (Voice, error) {
	pcm, ok := req.Buffer.(*PCM)
	if !ok || pcm == nil || pcm.SampleRate <= 0 {
		return nil, ErrUnsupportedBuffer
	}
	if req.Rate <= 0 {
		return nil, ErrInvalidRate
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil, ErrMixerClosed
	}
	if len(m.voices) >= m.maxVoices {
		return nil, ErrTooManyVoices
	}

	sr := float64(m.sampleRate)
	start := int64(math.Round(req.When * sr))
	if start < m.frame {
		start = m.frame
	}

	src := float64(pcm.SampleRate)
	v := &voice{
		mixer:   m,
		pcm:     pcm,
		start:   start,
		pos:     req.Offset * src,
		end:     (req.Offset + req.Duration) * src,
		step:    req.Rate * src / sr,
		gain:    req.Chain.Gain,
		onEnded: req.OnEnded,
	}
	for _, st := range req.Chain.Stages {
		v.filters = append(v.filters, NewBiquad(st, sr))
	}
	m.voices = append(m.voices, v)
	return v, nil
}

type endedVoice struct {
	fn func(at float64)
	at float64
}

// Read implements io.Reader for the oto player: it mixes every voice into
// interleaved signed 16-bit little-endian stereo.
func (m *Mixer) Read(buf []byte) (int, error) {
	m.mu.Lock()

	numFrames := len(buf) / (channelCount * bitDepth)
	sr := float64(m.sampleRate)
	var ended []endedVoice

	for i := 0; i < numFrames; i++ {
		frame := m.frame + int64(i)
		t := float64(frame) / sr
		var sample float64

		for _, v := range m.voices {
			if v.state != voicePending && v.state != voicePlaying {
				continue
			}
			if frame < v.start {
				continue
			}
			v.state = voicePlaying

			x := v.pcm.At(v.pos)
			for _, f := range v.filters {
				x = f.Process(x)
			}
			sample += x * v.gain.At(t)

			v.pos += v.step
			if v.pos >= v.end {
				v.state = voiceDone
				if v.onEnded != nil {
					ended = append(ended, endedVoice{fn: v.onEnded, at: float64(frame+1) / sr})
					v.onEnded = nil
				}
			}
		}

		// Apply master volume and clip
		sample *= m.masterVolume
		if sample > 1.0 {
			sample = 1.0
		} else if sample < -1.0 {
			sample = -1.0
		}

		sampleInt := int16(sample * 32767)

		// Write stereo samples (same for L and R)
		idx := i * channelCount * bitDepth
		buf[idx] = byte(sampleInt)
		buf[idx+1] = byte(sampleInt >> 8)
		buf[idx+2] = byte(sampleInt)
		buf[idx+3] = byte(sampleInt >> 8)
	}

	m.frame += int64(numFrames)
	m.lastChunk = int64(numFrames)
	m.lastRead = m.now()
	m.mu.Unlock()

	// Callbacks run unlocked: they usually dispose the voice.
	for _, e := range ended {
		e.fn(e.at)
	}
	return len(buf), nil
}

// Voices returns the number of voices not yet disposed.
func (m *Mixer) Voices() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.voices)
}

// SetVolume sets the master volume (0.0 - 1.0)
func (m *Mixer) SetVolume(vol float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if vol < 0 {
		vol = 0
	} else if vol > 1 {
		vol = 1
	}
	m.masterVolume = vol
}

// Close stops output and refuses further voices.
func (m *Mixer) Close() error {
	m.mu.Lock()
	m.running = false
	for _, v := range m.voices {
		v.state = voiceStopped
	}
	m.voices = nil
	m.mu.Unlock()

	if m.player != nil {
		m.player.Pause()
	}
	return nil
}

// Package midiout realises scheduled events as MIDI notes on an output port.
// Note-on is sent at the scheduled time and note-off after the audible
// duration; timing relies on the system clock.
package midiout

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"github.com/icco/lookahead/internal/audio"
	"github.com/icco/lookahead/internal/clock"
)

var (
	ErrUnsupportedBuffer = errors.New("buffer is not a MIDI note")
	ErrClosed            = errors.New("midi output closed")
)

// Note is the buffer handle for MIDI channels: a key held for Gate seconds.
type Note struct {
	Key     uint8
	Channel uint8
	Gate    float64
}

// Duration implements audio.Buffer.
func (n Note) Duration() float64 { return n.Gate }

// Sender transmits one MIDI message.
type Sender func(msg midi.Message) error

// afterFunc runs f after d and returns a cancel function.
type afterFunc func(d time.Duration, f func()) (cancel func() bool)

func systemAfter(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

type voice struct {
	b        *Backend
	channel  uint8
	key      uint8
	cancelOn func() bool
	cancelOf func() bool
	sounding bool
	done     bool
	onEnded  func(float64)
}

// Backend implements audio.Backend on a MIDI sender.
type Backend struct {
	clock clock.AudioClock
	send  Sender
	after afterFunc
	log   *slog.Logger
	port  drivers.Out

	mu     sync.Mutex
	voices map[*voice]struct{}
	closed bool
}

// New returns a backend that sends through send and places events on clk.
func New(send Sender, clk clock.AudioClock, log *slog.Logger) *Backend {
	if log == nil {
		log = slog.Default()
	}
	return &Backend{
		clock:  clk,
		send:   send,
		after:  systemAfter,
		log:    log,
		voices: make(map[*voice]struct{}),
	}
}

// Open connects to the named output port, or the first port when name is
// empty.
func Open(name string, clk clock.AudioClock, log *slog.Logger) (*Backend, error) {
	var out drivers.Out
	if name == "" {
		outs := midi.GetOutPorts()
		if len(outs) == 0 {
			return nil, fmt.Errorf("no MIDI outputs found")
		}
		out = outs[0]
	} else {
		var err error
		out, err = midi.FindOutPort(name)
		if err != nil {
			return nil, fmt.Errorf("failed to find port %q: %w", name, err)
		}
	}

	send, err := midi.SendTo(out)
	if err != nil {
		return nil, fmt.Errorf("failed to open port %s: %w", out.String(), err)
	}
	b := New(send, clk, log)
	b.port = out
	return b, nil
}

// Ports lists the available output port names.
func Ports() []string {
	var names []string
	for _, out := range midi.GetOutPorts() {
		names = append(names, out.String())
	}
	return names
}

// CurrentTime implements audio.Backend.
func (b *Backend) CurrentTime() float64 { return b.clock.CurrentTime() }

// velocity maps the envelope peak onto 1..127.
func velocity(env audio.Envelope) uint8 {
	v := math.Round(env.Peak() * 127)
	return uint8(min(127, max(1, v)))
}

// transpose shifts key by the number of semitones that rate represents.
func transpose(key uint8, rate float64) uint8 {
	if rate <= 0 {
		return key
	}
	k := float64(key) + math.Round(12*math.Log2(rate))
	return uint8(min(127, max(0, k)))
}

// Play schedules a note-on at req.When and a note-off once the audible
// duration has passed.
func (b *Backend) Play(req audio.PlayRequest) (audio.Voice, error) {
	n, ok := req.Buffer.(Note)
	if !ok {
		return nil, ErrUnsupportedBuffer
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	v := &voice{
		b:       b,
		channel: n.Channel & 0x0F,
		key:     transpose(n.Key, req.Rate),
		onEnded: req.OnEnded,
	}
	vel := velocity(req.Chain.Gain)
	delay := time.Duration(max(0, req.When-b.clock.CurrentTime()) * float64(time.Second))
	gate := time.Duration(req.AudibleDuration() * float64(time.Second))

	v.cancelOn = b.after(delay, func() { b.noteOn(v, vel) })
	v.cancelOf = b.after(delay+gate, func() { b.noteOff(v, true) })
	b.voices[v] = struct{}{}
	return v, nil
}

func (b *Backend) noteOn(v *voice, vel uint8) {
	b.mu.Lock()
	if v.done {
		b.mu.Unlock()
		return
	}
	v.sounding = true
	b.mu.Unlock()

	if err := b.send(midi.NoteOn(v.channel, v.key, vel)); err != nil {
		b.log.Warn("note on failed", "channel", v.channel, "key", v.key, "err", err)
	}
}

// noteOff ends v. natural is false for stops, which do not notify.
func (b *Backend) noteOff(v *voice, natural bool) {
	b.mu.Lock()
	if v.done {
		b.mu.Unlock()
		return
	}
	v.done = true
	sounding := v.sounding
	v.sounding = false
	onEnded := v.onEnded
	v.onEnded = nil
	delete(b.voices, v)
	b.mu.Unlock()

	if sounding {
		if err := b.send(midi.NoteOff(v.channel, v.key)); err != nil {
			b.log.Warn("note off failed", "channel", v.channel, "key", v.key, "err", err)
		}
	}
	if natural && onEnded != nil {
		onEnded(b.clock.CurrentTime())
	}
}

func (v *voice) Stop() {
	v.cancelOn()
	v.cancelOf()
	v.b.noteOff(v, false)
}

func (v *voice) Dispose() {
	v.Stop()
}

// Pending returns the number of notes not yet finished.
func (b *Backend) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.voices)
}

// Close stops every pending note, sends all-notes-off on every channel and
// closes the port.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	live := make([]*voice, 0, len(b.voices))
	for v := range b.voices {
		live = append(live, v)
	}
	b.mu.Unlock()

	for _, v := range live {
		v.Stop()
	}
	for ch := uint8(0); ch < 16; ch++ {
		_ = b.send(midi.ControlChange(ch, 123, 0)) // All notes off
	}
	if b.port != nil {
		return b.port.Close()
	}
	return nil
}

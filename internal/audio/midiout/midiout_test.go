package midiout

import (
	"sync"
	"testing"
	"time"

	"gitlab.com/gomidi/midi/v2"

	"github.com/icco/lookahead/internal/audio"
	"github.com/icco/lookahead/internal/clock"
)

type pending struct {
	at        time.Duration
	f         func()
	cancelled bool
}

// fakeTimers runs callbacks only when fired.
type fakeTimers struct {
	mu    sync.Mutex
	queue []*pending
}

func (ft *fakeTimers) after(d time.Duration, f func()) func() bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	p := &pending{at: d, f: f}
	ft.queue = append(ft.queue, p)
	return func() bool {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		was := !p.cancelled
		p.cancelled = true
		return was
	}
}

// fire runs every callback due at or before d, in order.
func (ft *fakeTimers) fire(d time.Duration) {
	for {
		ft.mu.Lock()
		var next *pending
		for _, p := range ft.queue {
			if !p.cancelled && p.at <= d && (next == nil || p.at < next.at) {
				next = p
			}
		}
		if next != nil {
			next.cancelled = true
		}
		ft.mu.Unlock()
		if next == nil {
			return
		}
		next.f()
	}
}

type recorder struct {
	mu   sync.Mutex
	msgs []midi.Message
}

func (r *recorder) send(msg midi.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder) messages() []midi.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]midi.Message(nil), r.msgs...)
}

func newTestBackend() (*Backend, *fakeTimers, *recorder, *clock.Manual) {
	clk := clock.NewManual()
	rec := &recorder{}
	ft := &fakeTimers{}
	b := New(rec.send, clk, nil)
	b.after = ft.after
	return b, ft, rec, clk
}

func request(key uint8, when, gate float64, ended func(float64)) audio.PlayRequest {
	env := audio.Envelope{}.SetAt(0.5, when)
	return audio.PlayRequest{
		Buffer:   Note{Key: key, Channel: 9, Gate: gate},
		When:     when,
		Duration: gate,
		Rate:     1,
		Chain:    audio.ChainSpec{Gain: env},
		OnEnded:  ended,
	}
}

func TestPlaySendsNoteOnThenOff(t *testing.T) {
	b, ft, rec, clk := newTestBackend()

	var endedAt []float64
	_, err := b.Play(request(36, 0.1, 0.2, func(at float64) { endedAt = append(endedAt, at) }))
	if err != nil {
		t.Fatalf("Play() error = %v", err)
	}

	ft.fire(50 * time.Millisecond)
	if got := len(rec.messages()); got != 0 {
		t.Fatalf("sent %d messages before the start time", got)
	}

	ft.fire(100 * time.Millisecond)
	msgs := rec.messages()
	var ch, key, vel uint8
	if len(msgs) != 1 || !msgs[0].GetNoteOn(&ch, &key, &vel) {
		t.Fatalf("messages = %v, want one note on", msgs)
	}
	if ch != 9 || key != 36 || vel != 64 {
		t.Errorf("note on = ch %d key %d vel %d, want 9 36 64", ch, key, vel)
	}

	clk.Set(0.3)
	ft.fire(300 * time.Millisecond)
	msgs = rec.messages()
	if len(msgs) != 2 || !msgs[1].GetNoteOff(&ch, &key, &vel) {
		t.Fatalf("messages = %v, want note off second", msgs)
	}
	if len(endedAt) != 1 || endedAt[0] != 0.3 {
		t.Errorf("ended at %v, want [0.3]", endedAt)
	}
	if b.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", b.Pending())
	}
}

func TestStopBeforeStartSendsNothing(t *testing.T) {
	b, ft, rec, _ := newTestBackend()

	ended := false
	v, err := b.Play(request(40, 0.5, 0.1, func(float64) { ended = true }))
	if err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	v.Stop()
	v.Dispose()
	ft.fire(time.Second)

	if got := rec.messages(); len(got) != 0 {
		t.Errorf("messages = %v, want none", got)
	}
	if ended {
		t.Error("stopped note reported an end")
	}
}

func TestStopWhileSoundingSendsNoteOff(t *testing.T) {
	b, ft, rec, _ := newTestBackend()

	v, err := b.Play(request(40, 0, 1, nil))
	if err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	ft.fire(0)
	v.Stop()
	v.Stop()

	msgs := rec.messages()
	var ch, key, vel uint8
	if len(msgs) != 2 || !msgs[1].GetNoteOff(&ch, &key, &vel) {
		t.Fatalf("messages = %v, want note on then note off", msgs)
	}
}

func TestPitchTransposes(t *testing.T) {
	tests := []struct {
		key  uint8
		rate float64
		want uint8
	}{
		{60, 1, 60},
		{60, 2, 72},
		{60, 0.5, 48},
		{120, 4, 127},
		{5, 0.25, 0},
	}
	for _, tt := range tests {
		if got := transpose(tt.key, tt.rate); got != tt.want {
			t.Errorf("transpose(%d, %v) = %d, want %d", tt.key, tt.rate, got, tt.want)
		}
	}
}

func TestPlayRejectsPCM(t *testing.T) {
	b, _, _, _ := newTestBackend()
	_, err := b.Play(audio.PlayRequest{Buffer: &audio.PCM{SampleRate: 48000}, Rate: 1})
	if err != ErrUnsupportedBuffer {
		t.Fatalf("Play() error = %v, want %v", err, ErrUnsupportedBuffer)
	}
}

func TestCloseSilencesEverything(t *testing.T) {
	b, ft, rec, _ := newTestBackend()

	if _, err := b.Play(request(50, 0, 1, nil)); err != nil {
		t.Fatal(err)
	}
	ft.fire(0)
	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// note on, note off, then all-notes-off on 16 channels
	if got := len(rec.messages()); got != 18 {
		t.Errorf("sent %d messages, want 18", got)
	}
	if _, err := b.Play(request(50, 0, 1, nil)); err != ErrClosed {
		t.Errorf("Play() after Close error = %v, want %v", err, ErrClosed)
	}
}

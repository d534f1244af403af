package export

import (
	"bytes"
	"testing"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/icco/lookahead/internal/pattern"
)

func testSnapshot() pattern.Snapshot {
	kick := pattern.NewChannel("kick", 8)
	kick.ID = 0
	kick.Note = 36
	kick.Steps = []float64{1, 0, 0, 0, 1, 0, 0, 0}

	hat := pattern.NewChannel("hat", 8)
	hat.ID = 1
	hat.Note = 42
	hat.Volume = 0.5
	hat.Steps = []float64{0, 0, 1, 0, 0, 0, 1, 0}

	return pattern.Snapshot{BPM: 120, Multiplier: 4, PatternLength: 8, Channels: []pattern.Channel{kick, hat}}
}

type noteOn struct {
	tick uint32
	key  uint8
	vel  uint8
}

func readBack(t *testing.T, snap pattern.Snapshot, opts Options) *smf.SMF {
	t.Helper()
	var buf bytes.Buffer
	if err := Write(&buf, snap, opts); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	sm, err := smf.ReadFrom(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ReadFrom() error = %v", err)
	}
	return sm
}

func noteOns(tr smf.Track) []noteOn {
	var out []noteOn
	var at uint32
	for _, ev := range tr {
		at += ev.Delta
		var ch, key, vel uint8
		if midi.Message(ev.Message).GetNoteOn(&ch, &key, &vel) {
			out = append(out, noteOn{at, key, vel})
		}
	}
	return out
}

func TestWritePlacesSteps(t *testing.T) {
	sm := readBack(t, testSnapshot(), Options{Bars: 2})

	if len(sm.Tracks) != 3 {
		t.Fatalf("got %d tracks, want tempo plus 2", len(sm.Tracks))
	}

	var bpm float64
	found := false
	for _, ev := range sm.Tracks[0] {
		if ev.Message.GetMetaTempo(&bpm) {
			found = true
		}
	}
	if !found || bpm != 120 {
		t.Errorf("tempo = %v (found %v), want 120", bpm, found)
	}

	// 4 steps per quarter at 960 ticks is 240 ticks per step.
	kick := noteOns(sm.Tracks[1])
	want := []uint32{0, 960, 1920, 2880}
	if len(kick) != len(want) {
		t.Fatalf("kick notes = %v, want %d", kick, len(want))
	}
	for i, n := range kick {
		if n.tick != want[i] || n.key != 36 || n.vel != 127 {
			t.Errorf("kick[%d] = %+v, want tick %d key 36 vel 127", i, n, want[i])
		}
	}

	hat := noteOns(sm.Tracks[2])
	if len(hat) != 4 || hat[0].tick != 480 || hat[0].vel != 64 {
		t.Errorf("hat notes = %v", hat)
	}
}

func TestWriteSkipsMutedChannels(t *testing.T) {
	snap := testSnapshot()
	snap.Channels[1].Solo = true

	sm := readBack(t, snap, Options{})
	if n := len(noteOns(sm.Tracks[1])); n != 0 {
		t.Errorf("unsoloed kick has %d notes, want 0", n)
	}
	if n := len(noteOns(sm.Tracks[2])); n != 2 {
		t.Errorf("soloed hat has %d notes, want 2", n)
	}
}

func TestSMFRejectsInvalidTempo(t *testing.T) {
	snap := testSnapshot()
	snap.BPM = 0
	if _, err := SMF(snap, Options{}); err == nil {
		t.Error("SMF() accepted zero BPM")
	}
	snap.BPM = 120
	snap.Multiplier = 960
	if _, err := SMF(snap, Options{}); err == nil {
		t.Error("SMF() accepted a multiplier finer than the resolution")
	}
}

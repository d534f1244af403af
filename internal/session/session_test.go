package session

import (
	"testing"

	"github.com/icco/lookahead/internal/audio"
	"github.com/icco/lookahead/internal/audio/audiotest"
	"github.com/icco/lookahead/internal/audio/midiout"
	"github.com/icco/lookahead/internal/config"
)

func TestNewRunsDefaultKit(t *testing.T) {
	cfg := config.Default()
	b := audiotest.New()

	s, err := New(cfg, b, b, MIDIBuffers(cfg.Backend.Gate), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if s.Recorder == nil {
		t.Fatal("diagnostics enabled by default but no recorder")
	}
	if err := s.Scheduler.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// 120 BPM x4 is 0.125s per step; step 0 at the 0.1 pre-roll.
	if n := s.Scheduler.Tick(0.05); n != 1 {
		t.Fatalf("Tick(0.05) started %d events, want the kick only", n)
	}
	v := b.Voices()[0]
	if v.Request.When != 0.1 {
		t.Errorf("kick at %v, want 0.1", v.Request.When)
	}
	note, ok := v.Request.Buffer.(midiout.Note)
	if !ok || note.Key != 36 || note.Channel != 9 {
		t.Errorf("buffer = %#v, want kick note on MIDI channel 10", v.Request.Buffer)
	}

	st := s.Status()
	if !st.Timing.Running || st.Active != 1 || st.Stats.Emitted != 1 {
		t.Errorf("status = %+v", st)
	}
	if _, ok := s.Store.Active(0); !ok {
		t.Error("no active playback published for the kick")
	}

	s.Scheduler.Stop()
	if s.Emitter.Active() != 0 {
		t.Errorf("Active() = %d after Stop, want 0", s.Emitter.Active())
	}
}

func TestNewWithoutDiagnostics(t *testing.T) {
	cfg := config.Default()
	cfg.Diagnostics.Enabled = false
	b := audiotest.New()

	s, err := New(cfg, b, b, MIDIBuffers(0.1), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if s.Recorder != nil || s.Scheduler.Recorder() != nil {
		t.Error("recorder created with diagnostics disabled")
	}
	if s.Status().LastBar != nil {
		t.Error("Status() reported a bar without diagnostics")
	}
}

func TestBuildStoreSequences(t *testing.T) {
	cfg := config.Default()
	cfg.Sequences = []config.Sequence{{"kick": "x.x.x.x.x.x.x.x."}}

	store, err := BuildStore(cfg, MIDIBuffers(0.1))
	if err != nil {
		t.Fatalf("BuildStore() error = %v", err)
	}
	if store.Sequences() != 2 {
		t.Fatalf("Sequences() = %d, want 2", store.Sequences())
	}

	first := store.Snapshot()
	if first.Channels[0].Steps[2] != 0 || first.Channels[1].Steps[4] != 1 {
		t.Errorf("first sequence changed: %v", first.Channels[0].Steps)
	}

	store.AdvanceSequence()
	second := store.Snapshot()
	if second.Channels[0].Steps[2] != 1 {
		t.Errorf("kick steps = %v, want every other step", second.Channels[0].Steps)
	}
	if second.Channels[1].Steps[4] != 0 {
		t.Error("channels missing from a sequence should be silent")
	}
}

func TestPCMBuffers(t *testing.T) {
	ch := config.Default().Channels[0]
	fwd, rev, err := PCMBuffers(8000)(ch)
	if err != nil {
		t.Fatalf("PCMBuffers() error = %v", err)
	}
	f, ok := fwd.(*audio.PCM)
	if !ok || len(f.Samples) == 0 {
		t.Fatalf("forward buffer = %T", fwd)
	}
	r := rev.(*audio.PCM)
	if r.Samples[0] != f.Samples[len(f.Samples)-1] {
		t.Error("reversed buffer does not start with the last sample")
	}

	ch.Voice = "cowbell"
	if _, _, err := PCMBuffers(8000)(ch); err == nil {
		t.Error("unknown voice accepted")
	}
}

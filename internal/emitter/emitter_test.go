package emitter

import (
	"errors"
	"math"
	"testing"

	"github.com/Southclaws/fault/ftag"

	"github.com/icco/lookahead/internal/audio"
	"github.com/icco/lookahead/internal/audio/audiotest"
	"github.com/icco/lookahead/internal/diag"
	"github.com/icco/lookahead/internal/pattern"
)

type seconds float64

func (s seconds) Duration() float64 { return float64(s) }

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func channel(dur float64) pattern.Channel {
	ch := pattern.NewChannel("test", 4)
	ch.Buffer = seconds(dur)
	ch.Reversed = seconds(dur)
	return ch
}

func TestPlanForward(t *testing.T) {
	ch := channel(2)
	ch.TrimStart = 0.25
	ch.TrimEnd = 0.75

	p, err := PlanEvent(ch, 1, 10)
	if err != nil {
		t.Fatalf("PlanEvent() error = %v", err)
	}
	if !near(p.Offset, 0.5) || !near(p.Length, 1) || !near(p.Audible, 1) || p.Rate != 1 {
		t.Fatalf("plan = %+v", p)
	}
	if p.Chain.Stages != nil {
		t.Fatalf("stages = %v, want none for neutral settings", p.Chain.Stages)
	}
}

func TestPlanReversedMirrorsTrim(t *testing.T) {
	ch := channel(2)
	ch.TrimStart = 0.1
	ch.TrimEnd = 0.6
	ch.Reverse = true

	p, err := PlanEvent(ch, 1, 0)
	if err != nil {
		t.Fatalf("PlanEvent() error = %v", err)
	}
	if !near(p.Offset, 0.8) || !near(p.Length, 1) || !p.Reversed {
		t.Fatalf("plan = %+v, want offset 0.8 length 1", p)
	}
}

func TestPlanRateAndEpsilon(t *testing.T) {
	ch := channel(1)
	ch.Pitch = 12
	p, _ := PlanEvent(ch, 1, 0)
	if !near(p.Rate, 2) || !near(p.Audible, 0.5) {
		t.Fatalf("rate/audible = %v/%v, want 2/0.5", p.Rate, p.Audible)
	}

	ch = channel(1)
	ch.TrimStart = 0.5
	ch.TrimEnd = 0.5
	p, _ = PlanEvent(ch, 1, 0)
	if p.Length != 0 || !near(p.Audible, MinAudible) {
		t.Fatalf("length/audible = %v/%v, want 0/%v", p.Length, p.Audible, MinAudible)
	}

	// An end before the start is treated as an empty region.
	ch.TrimEnd = 0.2
	p, _ = PlanEvent(ch, 1, 0)
	if p.Length != 0 {
		t.Fatalf("length = %v, want 0", p.Length)
	}
}

func TestPlanMissingBuffer(t *testing.T) {
	ch := pattern.NewChannel("empty", 4)
	_, err := PlanEvent(ch, 1, 0)
	if !errors.Is(err, ErrMissingBuffer) || ftag.Get(err) != ftag.NotFound {
		t.Fatalf("PlanEvent() error = %v, want ErrMissingBuffer", err)
	}

	ch.Buffer = seconds(1)
	ch.Reverse = true
	if _, err := PlanEvent(ch, 1, 0); !errors.Is(err, ErrMissingBuffer) {
		t.Fatalf("PlanEvent(reverse without reversed buffer) error = %v", err)
	}
}

func TestFadeClampedToHalfAudible(t *testing.T) {
	ch := channel(0.5)
	ch.FadeIn = 1.0
	p, _ := PlanEvent(ch, 1, 0)
	if !near(p.FadeIn, 0.25) {
		t.Fatalf("FadeIn = %v, want 0.25", p.FadeIn)
	}
	if got := p.Chain.Gain.At(0.125); !near(got, 0.5) {
		t.Fatalf("gain at mid fade-in = %v, want 0.5", got)
	}
}

func TestFadeEnvelopeShapes(t *testing.T) {
	tests := []struct {
		name    string
		fadeIn  float64
		fadeOut float64
		at      float64
		want    float64
	}{
		{"no fades holds peak", 0, 0, 0.9, 0.8},
		{"fade-out holds then ramps", 0, 0.2, 0.7, 0.8},
		{"fade-out midpoint", 0, 0.2, 0.9, 0.4},
		{"fade-out reaches zero", 0, 0.2, 1.0, 0},
		{"overlapping fades", 0.5, 0.5, 0.75, 0.4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := channel(1)
			ch.Volume = 0.8
			ch.FadeIn = tt.fadeIn
			ch.FadeOut = tt.fadeOut
			p, _ := PlanEvent(ch, 1, 0)
			if got := p.Chain.Gain.At(tt.at); !near(got, tt.want) {
				t.Fatalf("gain at %v = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestChainStages(t *testing.T) {
	ch := channel(1)
	ch.HPF.Cutoff = 120
	ch.HPF.Q = 0
	ch.LPF.Cutoff = 8000
	ch.EQMid = -3

	p, _ := PlanEvent(ch, 1, 0)
	kinds := []audio.StageKind{}
	for _, s := range p.Chain.Stages {
		kinds = append(kinds, s.Kind)
	}
	want := []audio.StageKind{audio.Highpass, audio.Lowpass, audio.Peaking}
	if len(kinds) != len(want) {
		t.Fatalf("stages = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("stages = %v, want %v", kinds, want)
		}
	}
	if p.Chain.Stages[0].Q != audio.DefaultQ {
		t.Fatalf("highpass Q = %v, want default", p.Chain.Stages[0].Q)
	}
	if p.Chain.Stages[2].Frequency != 1000 || p.Chain.Stages[2].GainDB != -3 {
		t.Fatalf("mid band = %+v", p.Chain.Stages[2])
	}
}

func snapshotOf(chs ...pattern.Channel) pattern.Snapshot {
	for i := range chs {
		chs[i].ID = i
	}
	return pattern.Snapshot{BPM: 120, Multiplier: 1, PatternLength: 4, Channels: chs}
}

func TestEmitStepSkipsInactiveMutedAndMissing(t *testing.T) {
	b := audiotest.New()
	em := New(b)

	on := channel(0.5)
	on.Steps[0] = 1
	muted := on
	muted.Steps = []float64{1, 0, 0, 0}
	muted.Mute = true
	missing := pattern.NewChannel("missing", 4)
	missing.Steps[0] = 1
	rest := channel(0.5)

	n := em.EmitStep(snapshotOf(on, muted, missing, rest), 0, 0, 1.0)
	if n != 1 {
		t.Fatalf("EmitStep() = %d, want 1", n)
	}
	if len(b.Voices()) != 1 {
		t.Fatalf("backend got %d plays, want 1", len(b.Voices()))
	}
	if st := em.Stats(); st.Skipped != 1 || st.Emitted != 1 {
		t.Fatalf("Stats() = %+v", st)
	}
}

func TestBackendFailureSkipsOnlyThatEvent(t *testing.T) {
	b := audiotest.New()
	boom := errors.New("boom")
	bad := seconds(0.3)
	b.FailIf = func(req audio.PlayRequest) error {
		if req.Buffer == audio.Buffer(bad) {
			return boom
		}
		return nil
	}
	em := New(b)

	good := channel(0.5)
	good.Steps[0] = 1
	failing := channel(0.3)
	failing.Buffer = bad
	failing.Steps[0] = 1

	if n := em.EmitStep(snapshotOf(failing, good), 0, 0, 0); n != 1 {
		t.Fatalf("EmitStep() = %d, want 1", n)
	}

	_, err := em.Emit(failing, 1, 0, 0, 0)
	if !errors.Is(err, ErrBackend) || !errors.Is(err, boom) || ftag.Get(err) != ftag.Internal {
		t.Fatalf("Emit() error = %v", err)
	}
	if em.Active() != 1 {
		t.Fatalf("Active() = %d, want 1", em.Active())
	}
}

func TestEndReleasesAndRecords(t *testing.T) {
	b := audiotest.New()
	store := pattern.NewStore(120, 1, 4)
	rec := diag.NewRecorder(diag.Config{StepsPerBar: 4, Settle: 0})
	em := New(b, WithPublisher(store), WithRecorder(rec))

	kick := channel(0.5)
	kick.Steps[0] = 1
	hat := channel(0.25)
	hat.Steps[0] = 1
	snap := snapshotOf(kick, hat)

	rec.Schedule(0, 1.0)
	em.EmitStep(snap, 0, 0, 1.0)
	if _, ok := store.Active(0); !ok {
		t.Fatal("no descriptor published for channel 0")
	}

	b.Advance(1.6)
	if em.Active() != 0 {
		t.Fatalf("Active() = %d after ends, want 0", em.Active())
	}
	if _, ok := store.Active(0); ok {
		t.Fatal("descriptor not cleared on end")
	}
	for _, v := range b.Voices() {
		if !v.Disposed() {
			t.Fatal("voice not disposed on end")
		}
	}

	rec.CloseBar(0)
	reps := rec.Flush(10)
	if len(reps) != 1 || reps[0].Measured != 1 || reps[0].MeanAbsDrift > 1e-9 {
		t.Fatalf("reports = %+v", reps)
	}
}

func TestSupersededDescriptorSurvivesEnd(t *testing.T) {
	b := audiotest.New()
	store := pattern.NewStore(120, 1, 4)
	em := New(b, WithPublisher(store))

	ch := channel(1)
	ch.ID = 0
	em.Emit(ch, 1, 0, 0, 0)
	em.Emit(ch, 1, 1, 1, 0.5)

	b.Advance(1.2) // only the first has ended
	ap, ok := store.Active(0)
	if !ok || ap.ScheduledTime != 0.5 {
		t.Fatalf("Active(0) = %+v, %v; want the newer event", ap, ok)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	b := audiotest.New()
	em := New(b)
	ev, err := em.Emit(channel(1), 1, 0, 0, 0)
	if err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	ev.Release()
	ev.Release()
	if !ev.Released() || em.Active() != 0 {
		t.Fatalf("Released() = %v, Active() = %d", ev.Released(), em.Active())
	}
	// A late end notification is harmless.
	b.Advance(5)
	if em.Active() != 0 {
		t.Fatalf("Active() = %d, want 0", em.Active())
	}
}

func TestStopAll(t *testing.T) {
	b := audiotest.New()
	em := New(b)
	for i := 0; i < 5; i++ {
		if _, err := em.Emit(channel(1), 1, i, i, float64(i)*0.1); err != nil {
			t.Fatalf("Emit() error = %v", err)
		}
	}
	b.Advance(1.05) // first event ended

	if n := em.StopAll(); n != 4 {
		t.Fatalf("StopAll() = %d, want 4", n)
	}
	if em.Active() != 0 {
		t.Fatalf("Active() = %d after StopAll, want 0", em.Active())
	}
	voices := b.Voices()
	for i, v := range voices[1:] {
		if !v.Stopped() || !v.Disposed() {
			t.Fatalf("voice %d stopped=%v disposed=%v", i+1, v.Stopped(), v.Disposed())
		}
	}
	if b.Live() != 0 {
		t.Fatalf("backend Live() = %d, want 0", b.Live())
	}
}

package diag

import (
	"bytes"
	"log/slog"
	"math"
	"strings"
	"testing"
)

func TestAnalyzeDrift(t *testing.T) {
	scheduled := map[int]float64{0: 1.0, 4: 2.0, 8: 3.0}
	actual := map[int]Actual{
		0: {End: 1.502, Audible: 0.5},
		4: {End: 2.497, Audible: 0.5},
	}
	rep := Analyze(3, scheduled, actual)

	if rep.Bar != 3 || rep.Measured != 2 || rep.Pending != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if math.Abs(rep.MeanAbsDrift-0.0025) > 1e-9 {
		t.Fatalf("MeanAbsDrift = %v, want 0.0025", rep.MeanAbsDrift)
	}
	if math.Abs(rep.MaxAbsDrift-0.003) > 1e-9 {
		t.Fatalf("MaxAbsDrift = %v, want 0.003", rep.MaxAbsDrift)
	}
	if !rep.Steps[2].Pending || rep.Steps[2].Step != 8 {
		t.Fatalf("step 8 = %+v, want pending", rep.Steps[2])
	}
	if rep.Steps[1].Drift >= 0 {
		t.Fatalf("step 4 drift = %v, want negative", rep.Steps[1].Drift)
	}
}

func TestAnalyzePendingIsNotZeroDrift(t *testing.T) {
	rep := Analyze(0, map[int]float64{0: 0, 1: 0.5}, map[int]Actual{
		0: {End: 0.51, Audible: 0.5},
	})
	// A pending step counted as zero would halve the mean.
	if math.Abs(rep.MeanAbsDrift-0.01) > 1e-9 {
		t.Fatalf("MeanAbsDrift = %v, want 0.01", rep.MeanAbsDrift)
	}
}

func TestRecorderSettlesBeforeReporting(t *testing.T) {
	var hooked []BarReport
	r := NewRecorder(Config{StepsPerBar: 4, Settle: 0.75}, WithReportHook(func(rep BarReport) {
		hooked = append(hooked, rep)
	}))

	for i := 0; i < 4; i++ {
		r.Schedule(i, float64(i)*0.5)
	}
	r.CloseBar(0)
	r.RecordEnd(0, 0.25, 0.25)

	if got := r.Flush(1.6); len(got) != 0 {
		t.Fatalf("Flush(1.6) = %v, want nothing before settle", got)
	}

	// First end wins.
	r.RecordEnd(2, 1.25, 0.25)
	if r.RecordEnd(2, 9, 0.25) {
		t.Fatal("second RecordEnd for the same step was accepted")
	}

	got := r.Flush(2.25)
	if len(got) != 1 {
		t.Fatalf("Flush(2.25) returned %d reports, want 1", len(got))
	}
	if got[0].Measured != 2 || got[0].Pending != 2 || got[0].MeanAbsDrift != 0 {
		t.Fatalf("report = %+v", got[0])
	}
	if len(hooked) != 1 {
		t.Fatalf("hook called %d times, want 1", len(hooked))
	}
	if last, ok := r.Last(); !ok || last.Bar != 0 {
		t.Fatalf("Last() = %+v, %v", last, ok)
	}

	// The bar is gone once reported.
	if r.RecordEnd(3, 2, 0.25) {
		t.Fatal("RecordEnd accepted an end for a reported bar")
	}
}

func TestRecorderUnclosedBarWaits(t *testing.T) {
	r := NewRecorder(DefaultConfig())
	r.Schedule(0, 0)
	if got := r.Flush(100); len(got) != 0 {
		t.Fatalf("Flush() reported an open bar: %v", got)
	}
	r.Reset()
	r.CloseBar(0)
	if got := r.Flush(100); len(got) != 0 {
		t.Fatalf("Flush() after Reset = %v, want nothing", got)
	}
}

func TestRecorderWarnsOnDrift(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	r := NewRecorder(Config{StepsPerBar: 1, Settle: 0, DriftWarn: 0.005}, WithLogger(log))

	r.Schedule(0, 0)
	r.RecordEnd(0, 0.52, 0.5)
	r.CloseBar(0)
	r.Flush(1)

	if !strings.Contains(buf.String(), "timing drift") {
		t.Fatalf("log = %q, want a drift warning", buf.String())
	}
}

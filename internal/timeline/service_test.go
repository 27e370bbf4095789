package timeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestTimeline(t *testing.T) *Service {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "timeline.db")
	svc, err := NewService(dbPath)
	if err != nil {
		t.Fatalf("failed to create timeline service: %v", err)
	}
	t.Cleanup(func() {
		_ = svc.Close()
		_ = os.RemoveAll(dir)
	})
	return svc
}

func TestRecordRunAndList(t *testing.T) {
	svc := newTestTimeline(t)

	started := time.Now().Add(-time.Second)
	first := &GenerationRun{Sink: "sunset-shimmer", Trigger: "periodic", Status: RunSent, Output: "Hmph.", StartedAt: started, DurationMS: 120}
	if err := svc.RecordRun(first); err != nil {
		t.Fatalf("record run: %v", err)
	}
	if first.RunID == "" || first.ID == 0 {
		t.Fatalf("expected run id and row id, got %+v", first)
	}
	if err := svc.RecordRun(&GenerationRun{Sink: "other", Status: RunFailed, ErrorText: "backend down"}); err != nil {
		t.Fatalf("record run: %v", err)
	}

	all, err := svc.ListRuns("", 0)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(all) != 2 || all[0].Sink != "other" {
		t.Fatalf("expected newest first, got %+v", all)
	}
	if all[0].Trigger != "manual" {
		t.Fatalf("expected default trigger, got %q", all[0].Trigger)
	}

	only, err := svc.ListRuns("sunset-shimmer", 10)
	if err != nil {
		t.Fatalf("list runs by sink: %v", err)
	}
	if len(only) != 1 || only[0].Output != "Hmph." || only[0].DurationMS != 120 {
		t.Fatalf("unexpected filtered runs: %+v", only)
	}
	if d := only[0].StartedAt.Sub(started); d > time.Millisecond || d < -time.Millisecond {
		t.Fatalf("started_at round trip drifted by %v", d)
	}
}

func TestSinkSummaryCountsRuns(t *testing.T) {
	svc := newTestTimeline(t)

	for _, status := range []string{RunSent, RunDiscarded, RunFailed} {
		if err := svc.RecordRun(&GenerationRun{Sink: "s", Status: status}); err != nil {
			t.Fatalf("record run: %v", err)
		}
	}
	sum, err := svc.GetSinkSummary("s")
	if err != nil {
		t.Fatalf("get summary: %v", err)
	}
	if sum == nil || sum.RunCount != 3 || sum.LastStatus != RunFailed {
		t.Fatalf("unexpected summary: %+v", sum)
	}

	missing, err := svc.GetSinkSummary("never")
	if err != nil || missing != nil {
		t.Fatalf("expected nil summary for unknown sink, got %+v %v", missing, err)
	}

	all, err := svc.ListSinkSummaries()
	if err != nil || len(all) != 1 {
		t.Fatalf("list summaries = %+v, %v", all, err)
	}
}

func TestLoopEvents(t *testing.T) {
	svc := newTestTimeline(t)

	events := []*LoopEvent{
		{Sink: "s", Epoch: 1, Kind: "periodic", Event: LoopStarted},
		{Sink: "s", Epoch: 1, Kind: "periodic", Event: LoopSuperseded},
		{Sink: "s", Epoch: 2, Kind: "periodic", Event: LoopDied, ErrorText: "generation failed"},
		{Sink: "t", Epoch: 1, Kind: "fixed", Event: LoopStopped},
	}
	for _, ev := range events {
		if err := svc.RecordLoopEvent(ev); err != nil {
			t.Fatalf("record loop event: %v", err)
		}
	}

	got, err := svc.ListLoopEvents("s", 0)
	if err != nil {
		t.Fatalf("list loop events: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events for s, got %d", len(got))
	}
	if got[0].Event != LoopDied || got[0].ErrorText != "generation failed" || got[0].Epoch != 2 {
		t.Fatalf("unexpected newest event: %+v", got[0])
	}

	limited, err := svc.ListLoopEvents("", 1)
	if err != nil || len(limited) != 1 || limited[0].Sink != "t" {
		t.Fatalf("limited list = %+v, %v", limited, err)
	}
}

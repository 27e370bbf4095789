package sink

import (
	"errors"
	"testing"
	"time"
)

func TestRegisterDuplicateSink(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register("sunset-shimmer", Config{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := r.Register("sunset-shimmer", Config{}); !errors.Is(err, ErrDuplicateSink) {
		t.Fatalf("expected ErrDuplicateSink, got %v", err)
	}
}

func TestLookupUnknownSink(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Lookup("missing"); !errors.Is(err, ErrUnknownSink) {
		t.Fatalf("expected ErrUnknownSink, got %v", err)
	}
}

func TestRegisterInitialState(t *testing.T) {
	r := NewRegistry()
	st, err := r.Register("s", Config{Options: map[string]any{"prompt": "${history}"}})
	if err != nil {
		t.Fatal(err)
	}
	if st.Pending() != 0 || st.Epoch() != 0 || st.DefaultInterval() != 0 || st.CurrentInterval() != 0 {
		t.Fatalf("unexpected initial state: %+v", st.Snapshot())
	}

	opts := st.Options()
	opts["prompt"] = "mutated"
	if st.Options()["prompt"] != "${history}" {
		t.Fatal("Options must return a copy")
	}
}

func TestBeginResetsIntervalAndEndBalances(t *testing.T) {
	st := &State{name: "s"}
	st.StartEpoch(60 * time.Second)
	st.SetCurrentInterval(15 * time.Second)

	now := time.Now()
	st.Begin(now)
	if st.CurrentInterval() != 60*time.Second {
		t.Fatalf("Begin should reset current interval to default, got %v", st.CurrentInterval())
	}
	if st.Pending() != 1 || !st.LastAttempt().Equal(now) {
		t.Fatalf("unexpected state after Begin: %+v", st.Snapshot())
	}
	st.End()
	if st.Pending() != 0 {
		t.Fatalf("pending = %d after End", st.Pending())
	}
}

func TestStartEpochSeedsOnlyWhenUnset(t *testing.T) {
	st := &State{name: "s"}
	if e := st.StartEpoch(time.Minute); e != 1 {
		t.Fatalf("first epoch = %d", e)
	}
	if st.CurrentInterval() != time.Minute {
		t.Fatalf("current interval not seeded: %v", st.CurrentInterval())
	}
	st.SetCurrentInterval(5 * time.Second)
	if e := st.StartEpoch(2 * time.Minute); e != 2 {
		t.Fatalf("second epoch = %d", e)
	}
	if st.CurrentInterval() != 5*time.Second {
		t.Fatalf("StartEpoch must not overwrite a set current interval, got %v", st.CurrentInterval())
	}
	if st.DefaultInterval() != 2*time.Minute {
		t.Fatalf("default interval = %v", st.DefaultInterval())
	}
}

func TestDue(t *testing.T) {
	st := &State{name: "s"}
	st.StartEpoch(10 * time.Second)
	start := time.Now()
	st.Begin(start)
	st.End()

	due, wait := st.Due(start.Add(4 * time.Second))
	if due || wait != 6*time.Second {
		t.Fatalf("Due at +4s = (%v, %v), want (false, 6s)", due, wait)
	}
	if due, _ := st.Due(start.Add(10 * time.Second)); !due {
		t.Fatal("expected due at +10s")
	}
}

func TestLoopDiedIgnoresStaleEpoch(t *testing.T) {
	st := &State{name: "s"}
	old := st.StartEpoch(time.Second)
	st.StartEpoch(time.Second)

	st.LoopDied(old, errors.New("boom"))
	if !st.LoopAlive() || st.LastError() != nil {
		t.Fatal("stale loop must not mark the live loop dead")
	}

	st.LoopDied(st.Epoch(), errors.New("boom"))
	if st.LoopAlive() {
		t.Fatal("expected loop marked dead")
	}
	if snap := st.Snapshot(); snap.LastError != "boom" {
		t.Fatalf("snapshot last error = %q", snap.LastError)
	}
}

func TestSnapshotSortedByName(t *testing.T) {
	r := NewRegistry()
	for _, n := range []string{"c", "a", "b"} {
		if _, err := r.Register(n, Config{}); err != nil {
			t.Fatal(err)
		}
	}
	snaps := r.Snapshot()
	if len(snaps) != 3 || snaps[0].Name != "a" || snaps[2].Name != "c" {
		t.Fatalf("unexpected snapshot order: %+v", snaps)
	}
	if names := r.Names(); names[0] != "c" {
		t.Fatalf("Names should keep registration order, got %v", names)
	}
}

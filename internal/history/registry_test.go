package history

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func payloads(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Payload
	}
	return out
}

func TestRegisterDuplicateSource(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("user-messages", SourceConfig{DisplayName: "Anonymous", RetainedDepth: 10}); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := r.Register("user-messages", SourceConfig{})
	if !errors.Is(err, ErrDuplicateSource) {
		t.Fatalf("expected ErrDuplicateSource, got %v", err)
	}
}

func TestAcceptUnknownSource(t *testing.T) {
	r := NewRegistry()
	if err := r.Accept("nope", "", "hi"); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
}

func TestRetainedDepthScenario(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(WithClock(clock.Now))
	if err := r.Register("A", SourceConfig{RetainedDepth: 1}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("B", SourceConfig{RetainedDepth: 2}); err != nil {
		t.Fatal(err)
	}

	r.Accept("A", "A", "hi")
	clock.Advance(time.Second)
	r.Accept("B", "B", "hey")
	clock.Advance(time.Second)
	r.Accept("B", "B", "sup")

	a, _ := r.Messages("A")
	b, _ := r.Messages("B")
	if got := payloads(a); len(got) != 1 || got[0] != "hi" {
		t.Fatalf("A fifo = %v, want [hi]", got)
	}
	if got := payloads(b); len(got) != 2 || got[0] != "hey" || got[1] != "sup" {
		t.Fatalf("B fifo = %v, want [hey sup]", got)
	}

	lines := strings.Split(r.Render(), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), lines)
	}
	for i, want := range []string{`"hi"`, `"hey"`, `"sup"`} {
		if !strings.Contains(lines[i], want) {
			t.Errorf("line %d = %q, want it to contain %s", i, lines[i], want)
		}
	}
	if lines[0] != `- [A]: "hi" [Sent 2 seconds ago]` {
		t.Errorf("unexpected first line: %q", lines[0])
	}
	if lines[2] != `- [B]: "sup" [Sent Just now ago]` {
		t.Errorf("unexpected last line: %q", lines[2])
	}
}

func TestEvictsOldestFirst(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(WithClock(clock.Now))
	r.Register("s", SourceConfig{RetainedDepth: 3})
	for _, p := range []string{"1", "2", "3", "4", "5"} {
		r.Accept("s", "", p)
		clock.Advance(time.Millisecond)
	}
	msgs, _ := r.Messages("s")
	got := payloads(msgs)
	if strings.Join(got, ",") != "3,4,5" {
		t.Fatalf("fifo = %v, want [3 4 5]", got)
	}
}

func TestRenderOrderedAcrossSources(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(WithClock(clock.Now))
	names := []string{"x", "y", "z"}
	for _, n := range names {
		r.Register(n, SourceConfig{RetainedDepth: 50})
	}
	// Interleave irregularly so every source has gaps.
	seq := []string{"x", "x", "z", "y", "z", "z", "x", "y", "y", "x", "z"}
	for i, n := range seq {
		clock.Advance(time.Duration(i%3+1) * time.Second)
		r.Accept(n, "", n)
	}

	var stamps []time.Time
	for _, n := range names {
		msgs, _ := r.Messages(n)
		for _, m := range msgs {
			stamps = append(stamps, m.Timestamp)
		}
	}
	if len(stamps) != len(seq) {
		t.Fatalf("expected %d stored messages, got %d", len(seq), len(stamps))
	}

	lines := strings.Split(r.Render(), "\n")
	if len(lines) != len(seq) {
		t.Fatalf("expected %d lines, got %d", len(seq), len(lines))
	}
	for i, n := range seq {
		want := "- [" + n + "]: \"" + n + "\""
		if !strings.HasPrefix(lines[i], want) {
			t.Errorf("line %d = %q, want prefix %q", i, lines[i], want)
		}
	}
}

func TestRenderTieBrokenByRegistrationOrder(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(WithClock(clock.Now))
	r.Register("second", SourceConfig{RetainedDepth: 1})
	r.Register("first", SourceConfig{RetainedDepth: 1})
	r.Accept("first", "", "f")
	r.Accept("second", "", "s")

	lines := strings.Split(r.Render(), "\n")
	if !strings.HasPrefix(lines[0], "- [second]") || !strings.HasPrefix(lines[1], "- [first]") {
		t.Fatalf("tie should follow registration order, got %q", lines)
	}
}

func TestRenderCacheInvalidatedOnAccept(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(WithClock(clock.Now))
	r.Register("s", SourceConfig{RetainedDepth: 5})
	r.Accept("s", "", "one")

	first := r.Render()
	clock.Advance(10 * time.Second)
	if again := r.Render(); again != first {
		t.Fatalf("expected cached render, got %q vs %q", again, first)
	}

	r.Accept("s", "", "two")
	after := r.Render()
	if after == first {
		t.Fatal("render returned the pre-invalidation transcript")
	}
	if !strings.Contains(after, `"two"`) || !strings.Contains(after, "[Sent 10 seconds ago]") {
		t.Fatalf("unexpected transcript after accept: %q", after)
	}
}

func TestRenderEmpty(t *testing.T) {
	r := NewRegistry()
	if got := r.Render(); got != "" {
		t.Fatalf("expected empty render with no sources, got %q", got)
	}
	r.Register("s", SourceConfig{RetainedDepth: 2})
	if got := r.Render(); got != "" {
		t.Fatalf("expected empty render with empty fifo, got %q", got)
	}
}

func TestRenderEscapesMultilinePayload(t *testing.T) {
	r := NewRegistry()
	r.Register("s", SourceConfig{DisplayName: "Anonymous", RetainedDepth: 2})
	r.Accept("s", "", "line one\nline two")
	out := r.Render()
	if strings.Count(out, "\n") != 0 {
		t.Fatalf("payload newlines leaked into transcript: %q", out)
	}
	if !strings.HasPrefix(out, `- [Anonymous]: "line one\nline two"`) {
		t.Fatalf("unexpected line: %q", out)
	}
}

func TestAppendAsRoleUsesSeparateNamespace(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(WithClock(clock.Now), WithSyntheticDepth(2))
	r.Register("Sunset Shimmer", SourceConfig{RetainedDepth: 5})

	r.AppendAsRole("Sunset Shimmer", "first")
	clock.Advance(time.Second)
	r.AppendAsRole("Sunset Shimmer", "second")
	clock.Advance(time.Second)
	r.AppendAsRole("Sunset Shimmer", "third")

	inbound, _ := r.Messages("Sunset Shimmer")
	if len(inbound) != 0 {
		t.Fatalf("synthetic appends leaked into inbound source: %v", payloads(inbound))
	}
	own := r.RoleMessages("Sunset Shimmer")
	if strings.Join(payloads(own), ",") != "second,third" {
		t.Fatalf("synthetic fifo = %v, want [second third]", payloads(own))
	}
	if own[0].Source.Kind != KindSynthetic {
		t.Fatalf("expected synthetic kind, got %v", own[0].Source.Kind)
	}
	if !strings.Contains(r.Render(), `- [Sunset Shimmer]: "third"`) {
		t.Fatalf("own reply missing from transcript: %q", r.Render())
	}
}

func TestTimeskipShiftsRelativeTime(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(WithClock(clock.Now))
	r.Register("s", SourceConfig{RetainedDepth: 1})
	r.Accept("s", "", "hello")
	r.Timeskip(90 * time.Minute)
	if got := r.Render(); !strings.HasSuffix(got, "[Sent 1 hour, 30 minutes ago]") {
		t.Fatalf("unexpected render after timeskip: %q", got)
	}
}

func TestHumanDuration(t *testing.T) {
	cases := map[time.Duration]string{
		0:                            "Just now",
		500 * time.Millisecond:       "Just now",
		time.Second:                  "1 second",
		61 * time.Second:             "1 minute, 1 second",
		2*time.Hour + 5*time.Second:  "2 hours, 5 seconds",
		26*time.Hour + 3*time.Minute: "1 day, 2 hours, 3 minutes",
		-5 * time.Second:             "Just now",
	}
	for d, want := range cases {
		if got := HumanDuration(d); got != want {
			t.Errorf("HumanDuration(%v) = %q, want %q", d, got, want)
		}
	}
}

func TestConcurrentAcceptAndRender(t *testing.T) {
	r := NewRegistry()
	r.Register("a", SourceConfig{RetainedDepth: 4})
	r.Register("b", SourceConfig{RetainedDepth: 4})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := "a"
			if i%2 == 0 {
				name = "b"
			}
			for j := 0; j < 50; j++ {
				r.Accept(name, "", "msg")
				_ = r.Render()
			}
		}(i)
	}
	wg.Wait()

	for _, n := range []string{"a", "b"} {
		msgs, _ := r.Messages(n)
		if len(msgs) > 4 {
			t.Fatalf("source %s retained %d messages, depth is 4", n, len(msgs))
		}
	}
	if lines := strings.Split(r.Render(), "\n"); len(lines) != 8 {
		t.Fatalf("expected 8 lines, got %d", len(lines))
	}
}

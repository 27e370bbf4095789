package channels

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KafClaw/cadence/internal/bus"
	"github.com/slack-go/slack"
)

type fakeSlack struct {
	mu       sync.Mutex
	posted   []string
	channels []string
	limited  atomic.Int32
	fail     string
}

func (f *fakeSlack) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat.postMessage" {
			http.NotFound(w, r)
			return
		}
		if f.limited.Load() > 0 {
			f.limited.Add(-1)
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		if f.fail != "" {
			w.Write([]byte(`{"ok":false,"error":"` + f.fail + `"}`))
			return
		}
		f.mu.Lock()
		f.posted = append(f.posted, r.PostForm.Get("text"))
		f.channels = append(f.channels, r.PostForm.Get("channel"))
		f.mu.Unlock()
		w.Write([]byte(`{"ok":true,"channel":"C1","ts":"1"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeSlack) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.posted...)
}

func newTestChannel(t *testing.T, base string) *SlackChannel {
	t.Helper()
	ch, err := NewSlackChannel(SlackConfig{BotToken: "xoxb-test", APIBase: base, Channel: "C1"})
	if err != nil {
		t.Fatal(err)
	}
	ch.retryDelay = time.Millisecond
	return ch
}

func TestNewSlackChannelValidation(t *testing.T) {
	if _, err := NewSlackChannel(SlackConfig{Channel: "C1"}); err == nil {
		t.Fatal("expected error for missing token")
	}
	if _, err := NewSlackChannel(SlackConfig{BotToken: "xoxb"}); err == nil {
		t.Fatal("expected error for missing channel")
	}
	ch, err := NewSlackChannel(SlackConfig{BotToken: "xoxb", Channel: " C9 "})
	if err != nil {
		t.Fatal(err)
	}
	if ch.Name() != "slack:C9" {
		t.Fatalf("name = %q", ch.Name())
	}
}

func TestSlackDeliver(t *testing.T) {
	fake := &fakeSlack{}
	srv := fake.server(t)
	ch := newTestChannel(t, srv.URL)

	if err := ch.Deliver(context.Background(), bus.NewEnvelope("replies", "cadence", "  good morning \n")); err != nil {
		t.Fatal(err)
	}
	got := fake.texts()
	if len(got) != 1 || got[0] != "good morning" {
		t.Fatalf("posted = %q", got)
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.channels[0] != "C1" {
		t.Fatalf("channel = %q", fake.channels[0])
	}
}

func TestSlackDeliverRetriesRateLimit(t *testing.T) {
	fake := &fakeSlack{}
	fake.limited.Store(1)
	srv := fake.server(t)
	ch := newTestChannel(t, srv.URL)

	if err := ch.Deliver(context.Background(), bus.NewEnvelope("replies", "cadence", "after the wait")); err != nil {
		t.Fatalf("rate-limited post should succeed on retry: %v", err)
	}
	if got := fake.texts(); len(got) != 1 || got[0] != "after the wait" {
		t.Fatalf("posted = %q", got)
	}
}

func TestSlackDeliverAPIErrorNotRetried(t *testing.T) {
	fake := &fakeSlack{fail: "channel_not_found"}
	srv := fake.server(t)
	ch := newTestChannel(t, srv.URL)

	err := ch.Deliver(context.Background(), bus.NewEnvelope("replies", "cadence", "hello"))
	if err == nil {
		t.Fatal("expected API error")
	}
}

func TestWithRetry(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), 3, time.Millisecond, func() (bool, time.Duration, error) {
		calls++
		return true, 0, errors.New("boom")
	})
	if err == nil || calls != 3 {
		t.Fatalf("calls = %d, err = %v", calls, err)
	}

	calls = 0
	err = withRetry(context.Background(), 3, time.Millisecond, func() (bool, time.Duration, error) {
		calls++
		return false, 0, errors.New("fatal")
	})
	if err == nil || calls != 1 {
		t.Fatalf("non-retryable: calls = %d, err = %v", calls, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls = 0
	withRetry(ctx, 5, time.Hour, func() (bool, time.Duration, error) {
		calls++
		return true, 0, errors.New("again")
	})
	if calls != 1 {
		t.Fatalf("cancelled retry should stop after one call, got %d", calls)
	}
}

func TestWithRetryHonoursAdvertisedDelay(t *testing.T) {
	calls := 0
	start := time.Now()
	err := withRetry(context.Background(), 3, time.Hour, func() (bool, time.Duration, error) {
		calls++
		if calls == 1 {
			return true, 20 * time.Millisecond, errors.New("rate limited")
		}
		return false, 0, nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("calls = %d, err = %v", calls, err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond || elapsed > 5*time.Second {
		t.Fatalf("waited %v, want the advertised 20ms and no backoff on top", elapsed)
	}
}

func TestSlackRetryDecision(t *testing.T) {
	retry, after, err := slackRetryDecision(&slack.RateLimitedError{RetryAfter: 3 * time.Second})
	if !retry || after != 3*time.Second || err == nil {
		t.Fatalf("rate limit = (%v, %v, %v)", retry, after, err)
	}
	if retry, _, err := slackRetryDecision(errors.New("channel_not_found")); retry || err == nil {
		t.Fatalf("api error = (%v, %v)", retry, err)
	}
	if retry, _, err := slackRetryDecision(nil); retry || err != nil {
		t.Fatalf("success = (%v, %v)", retry, err)
	}
}

func TestAttachRelaysSinkReplies(t *testing.T) {
	fake := &fakeSlack{}
	srv := fake.server(t)
	ch := newTestChannel(t, srv.URL)

	b := bus.NewMessageBus("cadence")
	t.Cleanup(func() { b.Close() })
	if err := Attach(b, "replies", ch); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := b.Publish(ctx, "replies", "   "); err != nil {
		t.Fatal(err)
	}
	if err := b.Publish(ctx, "replies", "first"); err != nil {
		t.Fatal(err)
	}
	if err := b.Publish(ctx, "other", "ignored"); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(fake.texts()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := fake.texts(); len(got) != 1 || got[0] != "first" {
		t.Fatalf("relayed = %q", got)
	}
}

func TestAttachClosedTransport(t *testing.T) {
	b := bus.NewMessageBus("cadence")
	b.Close()
	ch, err := NewSlackChannel(SlackConfig{BotToken: "xoxb", Channel: "C1"})
	if err != nil {
		t.Fatal(err)
	}
	if err := Attach(b, "replies", ch); !errors.Is(err, bus.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

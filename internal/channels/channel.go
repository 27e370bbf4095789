// Package channels relays sink replies to external chat services.
package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/KafClaw/cadence/internal/bus"
)

// Channel delivers a reply to an external chat service.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, env *bus.Envelope) error
}

// Attach subscribes ch to the topic of sink so every reply published there
// is forwarded. Delivery failures are logged and do not stop the relay.
func Attach(t bus.Transport, sink string, ch Channel) error {
	if err := t.Subscribe(sink, func(ctx context.Context, env *bus.Envelope) error {
		if strings.TrimSpace(env.Content) == "" {
			return nil
		}
		if err := ch.Deliver(ctx, env); err != nil {
			slog.Warn("Relay delivery failed", "channel", ch.Name(), "sink", sink, "error", err)
			return err
		}
		slog.Debug("Relayed reply", "channel", ch.Name(), "sink", sink, "id", env.ID)
		return nil
	}); err != nil {
		return fmt.Errorf("attach %s to %s: %w", ch.Name(), sink, err)
	}
	return nil
}

// withRetry calls fn up to attempts times while fn reports the failure as
// retryable. A positive after from fn replaces the exponential backoff for
// that attempt.
func withRetry(ctx context.Context, attempts int, baseDelay time.Duration, fn func() (retryable bool, after time.Duration, err error)) error {
	if attempts <= 0 {
		attempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		retryable, after, err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable || i == attempts-1 {
			break
		}
		if after <= 0 {
			after = baseDelay * time.Duration(1<<i)
		}
		if err := sleep(ctx, after); err != nil {
			return lastErr
		}
	}
	return lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

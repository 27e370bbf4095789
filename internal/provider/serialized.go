package provider

import (
	"context"
	"sync/atomic"
)

// Serialized bounds the number of concurrent calls into a Generator.
// With one worker, generations for every sink run one at a time.
type Serialized struct {
	inner    Generator
	slots    chan struct{}
	inFlight atomic.Int32
}

// NewSerialized wraps g with a pool of workers slots. Values below one mean
// a single worker.
func NewSerialized(g Generator, workers int) *Serialized {
	if workers <= 0 {
		workers = 1
	}
	return &Serialized{inner: g, slots: make(chan struct{}, workers)}
}

// Generate waits for a free worker, or for ctx to end, then calls the
// wrapped generator.
func (s *Serialized) Generate(ctx context.Context, inputs map[string]any) (string, error) {
	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	s.inFlight.Add(1)
	defer func() {
		s.inFlight.Add(-1)
		<-s.slots
	}()
	return s.inner.Generate(ctx, inputs)
}

// Workers returns the pool size.
func (s *Serialized) Workers() int { return cap(s.slots) }

// InFlight returns the number of generations currently running.
func (s *Serialized) InFlight() int { return int(s.inFlight.Load()) }

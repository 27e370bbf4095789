// Package bus provides the transports an agent receives source messages on
// and publishes sink replies to: an in-process bus and a Kafka transport.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const subscriptionBuffer = 100

type subscription struct {
	topic   string
	handler Handler
	ch      chan *Envelope
}

// MessageBus is an in-process Transport. Each subscription drains its own
// queue on a dedicated goroutine.
type MessageBus struct {
	sender string

	mu     sync.RWMutex
	subs   map[string][]*subscription
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Transport = (*MessageBus)(nil)

// NewMessageBus creates a new message bus. Envelopes published through it
// carry sender.
func NewMessageBus(sender string) *MessageBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &MessageBus{
		sender: sender,
		subs:   make(map[string][]*subscription),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Subscribe registers a handler for envelopes on topic.
func (b *MessageBus) Subscribe(topic string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	sub := &subscription{topic: topic, handler: h, ch: make(chan *Envelope, subscriptionBuffer)}
	b.subs[topic] = append(b.subs[topic], sub)

	b.wg.Add(1)
	go b.dispatch(sub)
	return nil
}

func (b *MessageBus) dispatch(sub *subscription) {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case env := <-sub.ch:
			if err := sub.handler(b.ctx, env); err != nil {
				slog.Warn("Bus handler failed", "topic", sub.topic, "id", env.ID, "error", err)
			}
		}
	}
}

// Publish sends payload on topic under the bus's sender name.
func (b *MessageBus) Publish(ctx context.Context, topic, payload string) error {
	return b.Send(ctx, NewEnvelope(topic, b.sender, payload))
}

// Send queues env for every subscription on its topic. Envelopes on topics
// nobody listens to are dropped.
func (b *MessageBus) Send(ctx context.Context, env *Envelope) error {
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	subs := b.subs[env.Topic]
	if len(subs) == 0 {
		slog.Debug("Bus envelope dropped: no subscribers", "topic", env.Topic)
		return nil
	}
	for _, sub := range subs {
		select {
		case sub.ch <- env:
		case <-ctx.Done():
			return ctx.Err()
		case <-b.ctx.Done():
			return ErrClosed
		}
	}
	return nil
}

// Run blocks until ctx is cancelled. Delivery itself starts at Subscribe.
func (b *MessageBus) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.ctx.Done():
		return nil
	}
}

// Close stops every subscription and waits for in-flight handlers.
func (b *MessageBus) Close() error {
	b.cancel()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig configures a KafkaTransport.
type KafkaConfig struct {
	Brokers       string // comma separated
	ConsumerGroup string
	ClientID      string
	Sender        string
}

// KafkaTransport implements Transport using segmentio/kafka-go: one reader
// per subscribed topic within a consumer group, and a shared writer.
type KafkaTransport struct {
	cfg     KafkaConfig
	brokers []string
	writer  *kafka.Writer

	mu      sync.Mutex
	subs    map[string]Handler
	readers []*kafka.Reader
	ctx     context.Context
	closed  bool
	wg      sync.WaitGroup
}

var _ Transport = (*KafkaTransport)(nil)

// NewKafkaTransport creates a Kafka transport. No connection is made until
// the first publish or Run.
func NewKafkaTransport(cfg KafkaConfig) (*KafkaTransport, error) {
	brokers := splitBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if cfg.ConsumerGroup == "" {
		cfg.ConsumerGroup = "cadence"
	}
	return &KafkaTransport{
		cfg:     cfg,
		brokers: brokers,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
			Transport:              &kafka.Transport{ClientID: cfg.ClientID},
		},
		subs: make(map[string]Handler),
	}, nil
}

func splitBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Subscribe registers h for topic. Safe to call after Run.
func (k *KafkaTransport) Subscribe(topic string, h Handler) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return ErrClosed
	}
	if _, ok := k.subs[topic]; ok {
		return fmt.Errorf("kafka: topic %q already subscribed", topic)
	}
	k.subs[topic] = h
	if k.ctx != nil {
		k.startReaderLocked(k.ctx, topic, h)
	}
	return nil
}

// Run starts a reader per subscribed topic and blocks until ctx is done.
func (k *KafkaTransport) Run(ctx context.Context) error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return ErrClosed
	}
	k.ctx = ctx
	for topic, h := range k.subs {
		k.startReaderLocked(ctx, topic, h)
	}
	k.mu.Unlock()

	slog.Info("Kafka transport started", "brokers", k.brokers, "group", k.cfg.ConsumerGroup, "topics", len(k.subs))
	<-ctx.Done()
	return ctx.Err()
}

func (k *KafkaTransport) startReaderLocked(ctx context.Context, topic string, h Handler) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  k.brokers,
		Topic:    topic,
		GroupID:  k.cfg.ConsumerGroup,
		MinBytes: 1,
		MaxBytes: 10e6,
		Dialer: &kafka.Dialer{
			ClientID:  k.cfg.ClientID,
			Timeout:   10 * time.Second,
			DualStack: true,
		},
	})
	k.readers = append(k.readers, reader)

	k.wg.Add(1)
	go func(r *kafka.Reader, t string) {
		defer k.wg.Done()
		for {
			msg, err := r.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, io.EOF) {
					return
				}
				slog.Warn("Kafka transport: read error", "topic", t, "error", err)
				continue
			}
			deliver(ctx, h, msg)
		}
	}(reader, topic)
}

// deliver decodes msg and runs h, logging handler errors.
func deliver(ctx context.Context, h Handler, msg kafka.Message) {
	env := DecodeEnvelope(msg.Topic, msg.Key, msg.Value)
	if env.Timestamp.IsZero() {
		env.Timestamp = msg.Time
	}
	if err := h(ctx, env); err != nil {
		slog.Warn("Kafka transport: handler failed", "topic", msg.Topic, "offset", msg.Offset, "error", err)
	}
}

// Publish sends payload on topic under the configured sender name.
func (k *KafkaTransport) Publish(ctx context.Context, topic, payload string) error {
	return k.Send(ctx, NewEnvelope(topic, k.cfg.Sender, payload))
}

// Send writes env to its topic, keyed by sender.
func (k *KafkaTransport) Send(ctx context.Context, env *Envelope) error {
	k.mu.Lock()
	closed := k.closed
	k.mu.Unlock()
	if closed {
		return ErrClosed
	}

	msg, err := toMessage(env)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write %s: %w", env.Topic, err)
	}
	return nil
}

func toMessage(env *Envelope) (kafka.Message, error) {
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now()
	}
	value, err := env.Encode()
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode envelope: %w", err)
	}
	return kafka.Message{
		Topic: env.Topic,
		Key:   []byte(env.Sender),
		Value: value,
		Time:  env.Timestamp,
	}, nil
}

// Close stops all readers and flushes the writer.
func (k *KafkaTransport) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	readers := k.readers
	k.mu.Unlock()

	var errs []error
	for _, r := range readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	k.wg.Wait()
	if err := k.writer.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

package bus

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrClosed is returned when publishing on a closed transport.
var ErrClosed = errors.New("bus: transport closed")

// Envelope is a message addressed to a topic. Sources listen on the topic
// named after them; sinks publish on the topic named after them.
type Envelope struct {
	ID        string         `json:"id"`
	Topic     string         `json:"topic"`
	Sender    string         `json:"sender,omitempty"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewEnvelope creates an envelope with a fresh ID stamped now.
func NewEnvelope(topic, sender, content string) *Envelope {
	return &Envelope{
		ID:        uuid.NewString(),
		Topic:     topic,
		Sender:    sender,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// Encode returns the JSON wire form of the envelope.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope parses a wire value. Values that are not JSON envelopes are
// taken as plain text content so producers outside cadence can talk to it.
func DecodeEnvelope(topic string, key, value []byte) *Envelope {
	var env Envelope
	if err := json.Unmarshal(value, &env); err == nil && env.ID != "" {
		if env.Topic == "" {
			env.Topic = topic
		}
		return &env
	}
	env = Envelope{
		ID:      uuid.NewString(),
		Topic:   topic,
		Sender:  string(key),
		Content: string(value),
	}
	env.Timestamp = time.Now()
	return &env
}

// Handler processes an envelope delivered on a subscribed topic.
type Handler func(ctx context.Context, env *Envelope) error

// Transport is the messaging layer an agent listens and replies on.
type Transport interface {
	// Subscribe registers h for envelopes on topic. Envelopes on one topic
	// are delivered to a handler in order.
	Subscribe(topic string, h Handler) error
	// Publish sends payload on topic under the transport's own sender name.
	Publish(ctx context.Context, topic, payload string) error
	// Send delivers a prepared envelope.
	Send(ctx context.Context, env *Envelope) error
	// Run delivers envelopes until ctx is done.
	Run(ctx context.Context) error
	Close() error
}

// Package history keeps bounded per-source message buffers and renders them
// as one chronologically interleaved transcript.
package history

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrDuplicateSource is returned when a source name is registered twice.
	ErrDuplicateSource = errors.New("source already registered")
	// ErrUnknownSource is returned for operations on a source that was never registered.
	ErrUnknownSource = errors.New("unknown source")
)

// DefaultSyntheticDepth is how many of its own replies an agent keeps per display name.
const DefaultSyntheticDepth = 1

// SourceKind distinguishes real inbound sources from pseudo-sources used to
// inject an agent's own replies into its history.
type SourceKind int

const (
	KindInbound SourceKind = iota
	KindSynthetic
)

func (k SourceKind) String() string {
	switch k {
	case KindInbound:
		return "inbound"
	case KindSynthetic:
		return "synthetic"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// SourceID identifies a source. Synthetic sources live in their own namespace,
// so a synthetic "Anonymous" never collides with an inbound source of that name.
type SourceID struct {
	Kind SourceKind
	Name string
}

func (id SourceID) String() string {
	if id.Kind == KindSynthetic {
		return "synthetic:" + id.Name
	}
	return id.Name
}

// SourceConfig holds per-source settings.
type SourceConfig struct {
	DisplayName   string `json:"displayName"`
	RetainedDepth int    `json:"history"`
}

// Message is one stored inbound message. Immutable once stored.
type Message struct {
	Timestamp   time.Time
	Source      SourceID
	DisplayName string
	Payload     string
}

type source struct {
	id    SourceID
	cfg   SourceConfig
	order int
	fifo  []Message
}

// Registry holds every source and the cached transcript built from them.
// Safe for concurrent use.
type Registry struct {
	mu             sync.RWMutex
	sources        map[SourceID]*source
	ordered        []*source
	syntheticDepth int

	now    func() time.Time
	offset time.Duration

	cache    string
	cacheSet bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the wall clock used for timestamps and relative times.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithSyntheticDepth sets the retained depth of pseudo-sources created by AppendAsRole.
func WithSyntheticDepth(depth int) Option {
	return func(r *Registry) {
		if depth > 0 {
			r.syntheticDepth = depth
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sources:        make(map[SourceID]*source),
		syntheticDepth: DefaultSyntheticDepth,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register creates an empty FIFO for an inbound source.
func (r *Registry) Register(name string, cfg SourceConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := SourceID{Kind: KindInbound, Name: name}
	if _, ok := r.sources[id]; ok {
		return fmt.Errorf("register %q: %w", name, ErrDuplicateSource)
	}
	if cfg.DisplayName == "" {
		cfg.DisplayName = name
	}
	r.addLocked(id, cfg)
	return nil
}

// Has reports whether an inbound source with this name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sources[SourceID{Kind: KindInbound, Name: name}]
	return ok
}

// Config returns the configuration of an inbound source.
func (r *Registry) Config(name string) (SourceConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[SourceID{Kind: KindInbound, Name: name}]
	if !ok {
		return SourceConfig{}, fmt.Errorf("config %q: %w", name, ErrUnknownSource)
	}
	return src.cfg, nil
}

// Accept stores a message for an inbound source under the given label.
// An empty label falls back to the source's display name.
func (r *Registry) Accept(name, label, payload string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	src, ok := r.sources[SourceID{Kind: KindInbound, Name: name}]
	if !ok {
		return fmt.Errorf("accept %q: %w", name, ErrUnknownSource)
	}
	if label == "" {
		label = src.cfg.DisplayName
	}
	r.appendLocked(src, label, payload)
	return nil
}

// AppendAsRole records payload as if displayName had said it, through a
// synthetic pseudo-source created on first use.
func (r *Registry) AppendAsRole(displayName, payload string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := SourceID{Kind: KindSynthetic, Name: displayName}
	src, ok := r.sources[id]
	if !ok {
		src = r.addLocked(id, SourceConfig{DisplayName: displayName, RetainedDepth: r.syntheticDepth})
	}
	r.appendLocked(src, displayName, payload)
}

// Messages returns a copy of the retained messages of an inbound source, oldest first.
func (r *Registry) Messages(name string) ([]Message, error) {
	return r.messages(SourceID{Kind: KindInbound, Name: name})
}

// RoleMessages returns a copy of the messages appended under displayName via AppendAsRole.
func (r *Registry) RoleMessages(displayName string) []Message {
	msgs, _ := r.messages(SourceID{Kind: KindSynthetic, Name: displayName})
	return msgs
}

func (r *Registry) messages(id SourceID) ([]Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[id]
	if !ok {
		return nil, fmt.Errorf("messages %q: %w", id, ErrUnknownSource)
	}
	out := make([]Message, len(src.fifo))
	copy(out, src.fifo)
	return out, nil
}

// Timeskip moves the registry clock forward by d. Used to simulate elapsed time.
func (r *Registry) Timeskip(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offset += d
	r.invalidateLocked()
}

func (r *Registry) addLocked(id SourceID, cfg SourceConfig) *source {
	if cfg.RetainedDepth <= 0 {
		cfg.RetainedDepth = 1
	}
	src := &source{id: id, cfg: cfg, order: len(r.ordered)}
	r.sources[id] = src
	r.ordered = append(r.ordered, src)
	return src
}

func (r *Registry) appendLocked(src *source, label, payload string) {
	src.fifo = append(src.fifo, Message{
		Timestamp:   r.clockLocked(),
		Source:      src.id,
		DisplayName: label,
		Payload:     payload,
	})
	if over := len(src.fifo) - src.cfg.RetainedDepth; over > 0 {
		src.fifo = append(src.fifo[:0:0], src.fifo[over:]...)
	}
	r.invalidateLocked()
}

func (r *Registry) clockLocked() time.Time {
	return r.now().Add(r.offset)
}

func (r *Registry) invalidateLocked() {
	r.cache = ""
	r.cacheSet = false
}

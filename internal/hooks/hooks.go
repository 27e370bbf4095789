// Package hooks defines the pluggable transforms applied to inbound messages
// before they enter history and to generated replies before they are sent.
package hooks

import (
	"context"
	"strings"
	"time"
)

// Result is either a payload to keep or a discard.
type Result struct {
	payload string
	keep    bool
}

// Send returns a Result carrying payload.
func Send(payload string) Result { return Result{payload: payload, keep: true} }

// Discard returns a Result that drops the message.
func Discard() Result { return Result{} }

// Payload returns the payload and whether the result carries one.
func (r Result) Payload() (string, bool) { return r.payload, r.keep }

// Discarded reports whether the result drops the message.
func (r Result) Discarded() bool { return !r.keep }

// Control is what a post-hook may do to the scheduler while it runs.
type Control interface {
	// RequestDelay overrides the interval until the sink's next periodic wake.
	RequestDelay(sink string, d time.Duration) error
	// AppendAsRole records payload in history as said by displayName.
	AppendAsRole(displayName, payload string)
	// MaybeRespond runs another generation for sink.
	MaybeRespond(ctx context.Context, sink string) error
}

// PreHook transforms a raw inbound payload before it is accepted.
type PreHook interface {
	PreProcess(ctx context.Context, source, raw string) (Result, error)
}

// PostHook transforms a raw generation before it is sent.
type PostHook interface {
	PostProcess(ctx context.Context, ctl Control, sink, raw string) (Result, error)
}

// PreHookFunc adapts a function to PreHook.
type PreHookFunc func(ctx context.Context, source, raw string) (Result, error)

func (f PreHookFunc) PreProcess(ctx context.Context, source, raw string) (Result, error) {
	return f(ctx, source, raw)
}

// PostHookFunc adapts a function to PostHook.
type PostHookFunc func(ctx context.Context, ctl Control, sink, raw string) (Result, error)

func (f PostHookFunc) PostProcess(ctx context.Context, ctl Control, sink, raw string) (Result, error) {
	return f(ctx, ctl, sink, raw)
}

// Passthrough keeps every payload unchanged. It implements both hook kinds.
type Passthrough struct{}

func (Passthrough) PreProcess(_ context.Context, _, raw string) (Result, error) {
	return Send(raw), nil
}

func (Passthrough) PostProcess(_ context.Context, _ Control, _, raw string) (Result, error) {
	return Send(raw), nil
}

// TrimSpace trims inbound payloads and discards the ones left empty.
var TrimSpace = PreHookFunc(func(_ context.Context, _, raw string) (Result, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Discard(), nil
	}
	return Send(raw), nil
})

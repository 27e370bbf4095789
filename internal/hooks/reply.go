package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MalformedResponseError reports generator output that does not match the
// expected reply schema.
type MalformedResponseError struct {
	Raw    string
	Reason string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response: %s", e.Reason)
}

// MaxDelay bounds the wait a reply may request.
const MaxDelay = 24 * time.Hour

// checkDelay accepts finite delays in [0, MaxDelay].
func checkDelay(raw string, secs float64) error {
	switch {
	case math.IsNaN(secs) || math.IsInf(secs, 0):
		return &MalformedResponseError{Raw: raw, Reason: fmt.Sprintf("delay %v is not a number of seconds", secs)}
	case secs < 0:
		return &MalformedResponseError{Raw: raw, Reason: "negative delay"}
	case secs > MaxDelay.Seconds():
		return &MalformedResponseError{Raw: raw, Reason: fmt.Sprintf("delay %gs exceeds %v", secs, MaxDelay)}
	}
	return nil
}

// Reply is the decision a generator makes: say Message now, or wait Delay
// seconds for more context.
type Reply struct {
	Message *string  `json:"message,omitempty"`
	Delay   *float64 `json:"delay,omitempty"`
}

// ParseReply decodes a JSON reply object from raw. Surrounding prose or code
// fences around the object are tolerated.
func ParseReply(raw string) (Reply, error) {
	body := strings.TrimSpace(raw)
	if start, end := strings.Index(body, "{"), strings.LastIndex(body, "}"); start >= 0 && end > start {
		body = body[start : end+1]
	}

	var r Reply
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return Reply{}, &MalformedResponseError{Raw: raw, Reason: err.Error()}
	}
	switch {
	case r.Message != nil:
		return r, nil
	case r.Delay != nil:
		if err := checkDelay(raw, *r.Delay); err != nil {
			return Reply{}, err
		}
		return r, nil
	default:
		return Reply{}, &MalformedResponseError{Raw: raw, Reason: `neither "message" nor "delay" present`}
	}
}

// ParseFencedReply takes the last triple-backtick block of raw. A block of
// the form "delay:N" is a delay of N seconds, anything else is the message.
func ParseFencedReply(raw string) (Reply, error) {
	parts := strings.Split(raw, "```")
	if len(parts) < 3 {
		return Reply{}, &MalformedResponseError{Raw: raw, Reason: "no fenced block"}
	}
	// parts alternate outside/inside; with an odd count the last closed block is second to last.
	last := len(parts) - 2
	if last%2 == 0 {
		last--
	}
	body := strings.TrimSpace(parts[last])

	if rest, ok := strings.CutPrefix(body, "delay:"); ok {
		secs, err := strconv.ParseFloat(strings.TrimSpace(rest), 64)
		if err != nil {
			return Reply{}, &MalformedResponseError{Raw: raw, Reason: fmt.Sprintf("bad delay %q", rest)}
		}
		if err := checkDelay(raw, secs); err != nil {
			return Reply{}, err
		}
		return Reply{Delay: &secs}, nil
	}
	if body == "" {
		return Reply{}, &MalformedResponseError{Raw: raw, Reason: "empty fenced block"}
	}
	return Reply{Message: &body}, nil
}

// ReplyHook is a post-hook for generators that decide between replying now
// and waiting for more context.
//
// A message is sent and recorded in history under Name. A delay discards the
// cycle and moves the sink's next periodic wake. Malformed output is retried
// once; a second consecutive failure is logged and discarded.
type ReplyHook struct {
	Name  string
	Parse func(raw string) (Reply, error)

	mu       sync.Mutex
	failures map[string]int
}

// NewJSONReply creates a ReplyHook for {"message": "..."} or
// {"delay": seconds} replies.
func NewJSONReply(name string) *ReplyHook {
	return &ReplyHook{Name: name, Parse: ParseReply, failures: make(map[string]int)}
}

// NewFencedReply creates a ReplyHook for replies wrapped in triple backticks,
// where ```delay:N``` asks to wait N seconds.
func NewFencedReply(name string) *ReplyHook {
	return &ReplyHook{Name: name, Parse: ParseFencedReply, failures: make(map[string]int)}
}

func (h *ReplyHook) PostProcess(ctx context.Context, ctl Control, sink, raw string) (Result, error) {
	parse := h.Parse
	if parse == nil {
		parse = ParseReply
	}
	reply, err := parse(raw)
	if err != nil {
		if !h.recordFailure(sink) {
			slog.Error("Invalid generation, giving up", "sink", sink, "error", err, "raw", raw)
			return Discard(), nil
		}
		slog.Warn("Invalid generation, trying again", "sink", sink, "error", err)
		if err := ctl.MaybeRespond(ctx, sink); err != nil {
			return Discard(), fmt.Errorf("retry after malformed response: %w", err)
		}
		return Discard(), nil
	}
	h.resetFailures(sink)

	if reply.Message != nil {
		if h.Name != "" {
			ctl.AppendAsRole(h.Name, *reply.Message)
		}
		return Send(*reply.Message), nil
	}

	delay := time.Duration(*reply.Delay * float64(time.Second))
	if err := ctl.RequestDelay(sink, delay); err != nil {
		return Discard(), err
	}
	slog.Info("Retrying after delay", "sink", sink, "delay", delay)
	return Discard(), nil
}

// recordFailure counts a malformed response for sink and reports whether a
// retry is allowed. The count resets once the retry budget is spent.
func (h *ReplyHook) recordFailure(sink string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failures == nil {
		h.failures = make(map[string]int)
	}
	if h.failures[sink] == 0 {
		h.failures[sink] = 1
		return true
	}
	delete(h.failures, sink)
	return false
}

func (h *ReplyHook) resetFailures(sink string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.failures, sink)
}

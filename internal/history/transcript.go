package history

import (
	"container/heap"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Render returns every retained message across all sources as one transcript,
// oldest first. The result is cached until the next accepted message.
//
// Each line reads "- [name]: <payload> [Sent <relative> ago]". Relative times
// are computed when the transcript is built, not when messages arrive.
func (r *Registry) Render() string {
	r.mu.RLock()
	if r.cacheSet {
		out := r.cache
		r.mu.RUnlock()
		return out
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cacheSet {
		return r.cache
	}
	r.cache = r.mergeLocked(r.clockLocked())
	r.cacheSet = true
	return r.cache
}

// mergeLocked performs a k-way merge of the source FIFOs with a min-heap
// keyed by (timestamp, registration order).
func (r *Registry) mergeLocked(now time.Time) string {
	h := make(cursorHeap, 0, len(r.ordered))
	for _, src := range r.ordered {
		if len(src.fifo) > 0 {
			h = append(h, &cursor{src: src})
		}
	}
	if len(h) == 0 {
		return ""
	}
	heap.Init(&h)

	var lines []string
	for h.Len() > 0 {
		c := h[0]
		msg := c.src.fifo[c.next]
		lines = append(lines, formatLine(msg, now))

		c.next++
		if c.next < len(c.src.fifo) {
			heap.Fix(&h, 0)
		} else {
			heap.Pop(&h)
		}
	}
	return strings.Join(lines, "\n")
}

func formatLine(msg Message, now time.Time) string {
	encoded, err := json.Marshal(msg.Payload)
	if err != nil {
		encoded = []byte(fmt.Sprintf("%q", msg.Payload))
	}
	return fmt.Sprintf("- [%s]: %s [Sent %s ago]", msg.DisplayName, encoded, HumanDuration(now.Sub(msg.Timestamp)))
}

// HumanDuration renders d as "1 day, 2 hours, 3 minutes, 4 seconds", leaving
// out zero components. Anything under a second is "Just now".
func HumanDuration(d time.Duration) string {
	total := int64(d / time.Second)
	if total <= 0 {
		return "Just now"
	}
	days := total / 86400
	hours := total % 86400 / 3600
	minutes := total % 3600 / 60
	seconds := total % 60

	parts := make([]string, 0, 4)
	for _, c := range []struct {
		n    int64
		one  string
		many string
	}{
		{days, "day", "days"},
		{hours, "hour", "hours"},
		{minutes, "minute", "minutes"},
		{seconds, "second", "seconds"},
	} {
		switch {
		case c.n == 1:
			parts = append(parts, "1 "+c.one)
		case c.n > 1:
			parts = append(parts, fmt.Sprintf("%d %s", c.n, c.many))
		}
	}
	return strings.Join(parts, ", ")
}

type cursor struct {
	src  *source
	next int
}

type cursorHeap []*cursor

func (h cursorHeap) Len() int { return len(h) }

func (h cursorHeap) Less(i, j int) bool {
	a := h[i].src.fifo[h[i].next]
	b := h[j].src.fifo[h[j].next]
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return h[i].src.order < h[j].src.order
}

func (h cursorHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *cursorHeap) Push(x any) { *h = append(*h, x.(*cursor)) }

func (h *cursorHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}

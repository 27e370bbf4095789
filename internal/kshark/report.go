package kshark

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
)

// CheckStatus is the outcome of one check.
type CheckStatus string

const (
	OK   CheckStatus = "OK"
	WARN CheckStatus = "WARN"
	FAIL CheckStatus = "FAIL"
	SKIP CheckStatus = "SKIP"
)

// Layer names the protocol level a check runs at.
type Layer string

const (
	L3 Layer = "L3-Network"
	L4 Layer = "L4-TCP"
	L7 Layer = "L7-Kafka"
)

// Row is one check result. Hint is shown for rows that did not pass.
type Row struct {
	Component string      `json:"component"`
	Target    string      `json:"target"`
	Layer     Layer       `json:"layer"`
	Status    CheckStatus `json:"status"`
	Detail    string      `json:"detail"`
	Hint      string      `json:"hint,omitempty"`
}

// Report is the result of a Run.
type Report struct {
	Rows       []Row                 `json:"rows"`
	Summary    map[string]CheckStats `json:"summary"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	HasFailed  bool                  `json:"-"`
}

// CheckStats counts outcomes for one layer.
type CheckStats struct {
	OK   int `json:"ok"`
	WARN int `json:"warn"`
	FAIL int `json:"fail"`
	SKIP int `json:"skip"`
}

func (s *CheckStats) count(status CheckStatus) {
	switch status {
	case OK:
		s.OK++
	case WARN:
		s.WARN++
	case FAIL:
		s.FAIL++
	case SKIP:
		s.SKIP++
	}
}

func (r *Report) add(row Row) {
	r.HasFailed = r.HasFailed || row.Status == FAIL
	r.Rows = append(r.Rows, row)
}

func (r *Report) summarize() {
	r.Summary = make(map[string]CheckStats)
	for _, row := range r.Rows {
		stats := r.Summary[string(row.Layer)]
		stats.count(row.Status)
		r.Summary[string(row.Layer)] = stats
	}
}

var statusColor = map[CheckStatus]*color.Color{
	OK:   color.New(color.FgGreen),
	WARN: color.New(color.FgYellow),
	FAIL: color.New(color.FgRed),
}

const ruleWidth = 92

// Print writes the rows as a table followed by per-layer counts.
func (r *Report) Print(w io.Writer) {
	rule := strings.Repeat("-", ruleWidth)
	elapsed := r.FinishedAt.Sub(r.StartedAt).Truncate(time.Millisecond)
	fmt.Fprintf(w, "\nKafka transport health  (%s, %s)\n%s\n", r.StartedAt.Format(time.RFC3339), elapsed, rule)
	fmt.Fprintf(w, "%-5s %-10s %-26s %-12s %s\n%s\n", "", "Component", "Target", "Layer", "Detail", rule)

	for _, row := range r.Rows {
		line := fmt.Sprintf("%-5s %-10s %-26s %-12s %s", row.Status, row.Component, clip(row.Target, 26), row.Layer, row.Detail)
		if c, ok := statusColor[row.Status]; ok {
			line = c.Sprint(line)
		}
		fmt.Fprintln(w, line)
		if row.Status != OK && row.Hint != "" {
			fmt.Fprintf(w, "  -> Hint: %s\n", color.YellowString(row.Hint))
		}
	}
	fmt.Fprintln(w, rule)

	layers := make([]string, 0, len(r.Summary))
	for layer := range r.Summary {
		layers = append(layers, layer)
	}
	sort.Strings(layers)
	for _, layer := range layers {
		s := r.Summary[layer]
		fmt.Fprintf(w, "%-12s  OK:%d  WARN:%d  FAIL:%d  SKIP:%d\n", layer, s.OK, s.WARN, s.FAIL, s.SKIP)
	}
}

// clip shortens s to n bytes, marking the cut with "...".
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

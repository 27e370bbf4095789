package timeline

import (
	"time"
)

// Run statuses.
const (
	RunSent      = "sent"
	RunDiscarded = "discarded"
	RunFailed    = "failed"
)

// Loop event kinds.
const (
	LoopStarted    = "loop_started"
	LoopSuperseded = "loop_superseded"
	LoopDied       = "loop_died"
	LoopStopped    = "loop_stopped"
)

// GenerationRun is one call of the scheduler's respond cycle for a sink.
type GenerationRun struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	Sink       string    `json:"sink"`
	Trigger    string    `json:"trigger"` // reactive, periodic, fixed, retry, manual
	Status     string    `json:"status"`
	Output     string    `json:"output,omitempty"`
	ErrorText  string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
}

// LoopEvent records a lifecycle change of a periodic or fixed-interval loop.
type LoopEvent struct {
	ID        int64     `json:"id"`
	Sink      string    `json:"sink"`
	Epoch     int64     `json:"epoch"`
	Kind      string    `json:"kind"` // periodic or fixed
	Event     string    `json:"event"`
	ErrorText string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SinkSummary aggregates the runs of one sink.
type SinkSummary struct {
	Sink       string    `json:"sink"`
	LastStatus string    `json:"last_status"`
	LastRunAt  time.Time `json:"last_run_at"`
	RunCount   int       `json:"run_count"`
}

const Schema = `
CREATE TABLE IF NOT EXISTS generation_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT UNIQUE NOT NULL,
	sink TEXT NOT NULL,
	trigger_kind TEXT NOT NULL DEFAULT 'manual',
	status TEXT NOT NULL,
	output TEXT DEFAULT '',
	error_text TEXT DEFAULT '',
	started_at DATETIME NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_generation_runs_sink ON generation_runs(sink);
CREATE INDEX IF NOT EXISTS idx_generation_runs_started ON generation_runs(started_at);

CREATE TABLE IF NOT EXISTS loop_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sink TEXT NOT NULL,
	epoch INTEGER NOT NULL,
	kind TEXT NOT NULL,
	event TEXT NOT NULL,
	error_text TEXT DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_loop_events_sink ON loop_events(sink);

CREATE TABLE IF NOT EXISTS sink_runs (
	sink TEXT PRIMARY KEY,
	last_status TEXT NOT NULL,
	last_run_at DATETIME NOT NULL,
	run_count INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

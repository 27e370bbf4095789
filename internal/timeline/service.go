// Package timeline persists the generation run log and loop lifecycle events
// of a cadence agent in SQLite.
package timeline

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// DefaultListLimit caps list queries when the caller passes no limit.
const DefaultListLimit = 50

type Service struct {
	db *sql.DB
}

func NewService(dbPath string) (*Service, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open timeline db: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Service{db: db}, nil
}

func (s *Service) Close() error {
	return s.db.Close()
}

// RecordRun stores a generation run and bumps the sink's summary row.
// An empty RunID is filled with a fresh UUID.
func (s *Service) RecordRun(run *GenerationRun) error {
	if run.RunID == "" {
		run.RunID = uuid.NewString()
	}
	if run.Trigger == "" {
		run.Trigger = "manual"
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin run tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`INSERT INTO generation_runs (run_id, sink, trigger_kind, status, output, error_text, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.Sink, run.Trigger, run.Status, run.Output, run.ErrorText, run.StartedAt.UTC(), run.DurationMS)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		run.ID = id
	}

	_, err = tx.Exec(`INSERT INTO sink_runs (sink, last_status, last_run_at, run_count, updated_at)
		VALUES (?, ?, ?, 1, datetime('now'))
		ON CONFLICT(sink) DO UPDATE SET
			last_status = excluded.last_status,
			last_run_at = excluded.last_run_at,
			run_count = sink_runs.run_count + 1,
			updated_at = datetime('now')`,
		run.Sink, run.Status, run.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert sink run: %w", err)
	}
	return tx.Commit()
}

// RecordLoopEvent appends a loop lifecycle event.
func (s *Service) RecordLoopEvent(ev *LoopEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	res, err := s.db.Exec(`INSERT INTO loop_events (sink, epoch, kind, event, error_text, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.Sink, ev.Epoch, ev.Kind, ev.Event, ev.ErrorText, ev.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert loop event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		ev.ID = id
	}
	return nil
}

// ListRuns returns the most recent runs, newest first. An empty sink lists
// every sink.
func (s *Service) ListRuns(sink string, limit int) ([]GenerationRun, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query := `SELECT id, run_id, sink, trigger_kind, status, COALESCE(output,''), COALESCE(error_text,''), started_at, duration_ms
		FROM generation_runs WHERE 1=1`
	args := []interface{}{}
	if sink != "" {
		query += " AND sink = ?"
		args = append(args, sink)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []GenerationRun
	for rows.Next() {
		var r GenerationRun
		if err := rows.Scan(&r.ID, &r.RunID, &r.Sink, &r.Trigger, &r.Status, &r.Output, &r.ErrorText, &r.StartedAt, &r.DurationMS); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListLoopEvents returns the most recent loop events, newest first. An empty
// sink lists every sink.
func (s *Service) ListLoopEvents(sink string, limit int) ([]LoopEvent, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query := `SELECT id, sink, epoch, kind, event, COALESCE(error_text,''), created_at FROM loop_events WHERE 1=1`
	args := []interface{}{}
	if sink != "" {
		query += " AND sink = ?"
		args = append(args, sink)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []LoopEvent
	for rows.Next() {
		var e LoopEvent
		if err := rows.Scan(&e.ID, &e.Sink, &e.Epoch, &e.Kind, &e.Event, &e.ErrorText, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetSinkSummary returns the run summary of one sink, or nil if it never ran.
func (s *Service) GetSinkSummary(sink string) (*SinkSummary, error) {
	var r SinkSummary
	err := s.db.QueryRow(`SELECT sink, last_status, last_run_at, run_count FROM sink_runs WHERE sink = ?`, sink).
		Scan(&r.Sink, &r.LastStatus, &r.LastRunAt, &r.RunCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListSinkSummaries returns every sink summary ordered by sink name.
func (s *Service) ListSinkSummaries() ([]SinkSummary, error) {
	rows, err := s.db.Query(`SELECT sink, last_status, last_run_at, run_count FROM sink_runs ORDER BY sink`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SinkSummary
	for rows.Next() {
		var r SinkSummary
		if err := rows.Scan(&r.Sink, &r.LastStatus, &r.LastRunAt, &r.RunCount); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

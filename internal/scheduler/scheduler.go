// Package scheduler decides when a sink's generator runs: reactively on
// inbound messages, on a periodic cadence that generations may stretch or
// shorten, or on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/KafClaw/cadence/internal/history"
	"github.com/KafClaw/cadence/internal/hooks"
	"github.com/KafClaw/cadence/internal/sink"
	"github.com/KafClaw/cadence/internal/timeline"
	"github.com/google/uuid"
)

// ErrLocked is returned by Lock when another process holds the scheduler lock.
var ErrLocked = errors.New("scheduler lock held by another process")

// lockedBy wraps ErrLocked with the pid recorded in the lock file, if any.
func lockedBy(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return ErrLocked
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return ErrLocked
	}
	return fmt.Errorf("%w (pid %d)", ErrLocked, pid)
}

// Trigger names what started a generation.
type Trigger string

const (
	TriggerManual   Trigger = "manual"
	TriggerReactive Trigger = "reactive"
	TriggerPeriodic Trigger = "periodic"
	TriggerFixed    Trigger = "fixed"
	TriggerRetry    Trigger = "retry"
)

type triggerKey struct{}

// WithTrigger tags ctx so runs started under it are recorded with t.
func WithTrigger(ctx context.Context, t Trigger) context.Context {
	return context.WithValue(ctx, triggerKey{}, t)
}

func triggerFrom(ctx context.Context) Trigger {
	if t, ok := ctx.Value(triggerKey{}).(Trigger); ok {
		return t
	}
	return TriggerManual
}

// Generator produces raw output from a set of named inputs.
type Generator interface {
	Generate(ctx context.Context, inputs map[string]any) (string, error)
}

// Publisher sends a payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic, payload string) error
}

// Recorder persists runs and loop events. *timeline.Service implements it.
type Recorder interface {
	RecordRun(run *timeline.GenerationRun) error
	RecordLoopEvent(ev *timeline.LoopEvent) error
}

// GenerationError wraps a generator failure for a sink.
type GenerationError struct {
	Sink string
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation for sink %q failed: %v", e.Sink, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Config holds scheduler settings.
type Config struct {
	PendingBackoff time.Duration `json:"pendingBackoff" envconfig:"PENDING_BACKOFF"`
	LockPath       string        `json:"lockPath" envconfig:"LOCK_PATH"`
}

// DefaultConfig returns sensible scheduler defaults.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		PendingBackoff: time.Second,
		LockPath:       filepath.Join(home, ".cadence", "scheduler.lock"),
	}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithPostHook sets the hook applied to raw generations. Default Passthrough.
func WithPostHook(h hooks.PostHook) Option {
	return func(s *Scheduler) { s.post = h }
}

// WithRecorder persists runs and loop events to r.
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

// WithTemplateVars adds vars to every generation's inputs. Sink options take
// precedence over them.
func WithTemplateVars(vars map[string]any) Option {
	return func(s *Scheduler) { s.vars = maps.Clone(vars) }
}

// WithClock overrides time.Now for attempt bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler runs generations for the sinks of one agent.
type Scheduler struct {
	cfg      Config
	sinks    *sink.Registry
	history  *history.Registry
	gen      Generator
	pub      Publisher
	post     hooks.PostHook
	recorder Recorder
	vars     map[string]any
	now      func() time.Time

	lock  *agentLock
	loops sync.WaitGroup
}

var _ hooks.Control = (*Scheduler)(nil)

// New creates a Scheduler.
func New(cfg Config, sinks *sink.Registry, hist *history.Registry, gen Generator, pub Publisher, opts ...Option) *Scheduler {
	if cfg.PendingBackoff <= 0 {
		cfg.PendingBackoff = time.Second
	}
	s := &Scheduler{
		cfg:     cfg,
		sinks:   sinks,
		history: hist,
		gen:     gen,
		pub:     pub,
		post:    hooks.Passthrough{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.LockPath != "" {
		s.lock = &agentLock{path: cfg.LockPath}
	}
	return s
}

// Lock takes the process-wide scheduler lock so two processes never drive
// the same agent's loops. A Scheduler without a lock path always succeeds.
func (s *Scheduler) Lock() error {
	if s.lock == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.cfg.LockPath), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	if err := s.lock.acquire(); err != nil {
		if errors.Is(err, ErrLocked) {
			return err
		}
		return fmt.Errorf("scheduler lock: %w", err)
	}
	return nil
}

// Unlock releases the scheduler lock.
func (s *Scheduler) Unlock() error {
	if s.lock == nil {
		return nil
	}
	return s.lock.release()
}

// Wait blocks until every loop started by this scheduler has exited.
func (s *Scheduler) Wait() {
	s.loops.Wait()
}

// Status returns the scheduling and liveness state of every sink.
func (s *Scheduler) Status() []sink.Snapshot {
	return s.sinks.Snapshot()
}

// MaybeRespond runs one generation for the sink and publishes the result to
// the topic named after it. Pending is released before publishing, on every
// path.
func (s *Scheduler) MaybeRespond(ctx context.Context, name string) error {
	st, err := s.sinks.Lookup(name)
	if err != nil {
		return err
	}

	started := s.now()
	st.Begin(started)

	run := &timeline.GenerationRun{
		RunID:     uuid.NewString(),
		Sink:      name,
		Trigger:   string(triggerFrom(ctx)),
		StartedAt: started,
	}

	payload, ok, err := s.generate(ctx, st)
	run.DurationMS = s.now().Sub(started).Milliseconds()
	if err != nil {
		run.Status = timeline.RunFailed
		run.ErrorText = err.Error()
		s.recordRun(run)
		return err
	}
	if !ok {
		slog.Debug("Generation discarded", "sink", name, "trigger", run.Trigger)
		run.Status = timeline.RunDiscarded
		s.recordRun(run)
		return nil
	}

	if err := s.pub.Publish(ctx, name, payload); err != nil {
		run.Status = timeline.RunFailed
		run.ErrorText = err.Error()
		s.recordRun(run)
		return fmt.Errorf("publish to %s: %w", name, err)
	}
	slog.Info("Generation sent", "sink", name, "trigger", run.Trigger, "duration_ms", run.DurationMS)
	run.Status = timeline.RunSent
	run.Output = payload
	s.recordRun(run)
	return nil
}

// generate calls the generator and post-hook while the attempt is pending.
func (s *Scheduler) generate(ctx context.Context, st *sink.State) (string, bool, error) {
	defer st.End()

	inputs := make(map[string]any, len(s.vars)+4)
	maps.Copy(inputs, s.vars)
	maps.Copy(inputs, st.Options())
	inputs["history"] = s.history.Render()

	raw, err := s.gen.Generate(ctx, inputs)
	if err != nil {
		return "", false, &GenerationError{Sink: st.Name(), Err: err}
	}

	// A generation the post-hook starts itself is a retry.
	res, err := s.post.PostProcess(WithTrigger(ctx, TriggerRetry), s, st.Name(), raw)
	if err != nil {
		return "", false, fmt.Errorf("post-process %s: %w", st.Name(), err)
	}
	payload, ok := res.Payload()
	return payload, ok, nil
}

// RequestDelay sets the interval until the sink's next periodic wake. It
// leaves the last attempt untouched, so the wait counts from that attempt.
// Negative delays are refused.
func (s *Scheduler) RequestDelay(name string, d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("delay for sink %q must not be negative, got %v", name, d)
	}
	st, err := s.sinks.Lookup(name)
	if err != nil {
		return err
	}
	st.SetCurrentInterval(d)
	return nil
}

// AppendAsRole records payload in history under displayName.
func (s *Scheduler) AppendAsRole(displayName, payload string) {
	s.history.AppendAsRole(displayName, payload)
}

// StartPeriodicReaction installs interval as the sink's cadence and starts a
// loop for it. Any loop previously started for the sink exits at its next
// wake.
func (s *Scheduler) StartPeriodicReaction(ctx context.Context, name string, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("periodic interval for sink %q must be positive, got %v", name, interval)
	}
	st, err := s.sinks.Lookup(name)
	if err != nil {
		return err
	}
	epoch := st.StartEpoch(interval)
	s.recordLoop(name, epoch, "periodic", timeline.LoopStarted, nil)
	slog.Info("Periodic reaction started", "sink", name, "interval", interval, "epoch", epoch)

	s.loops.Add(1)
	go func() {
		defer s.loops.Done()
		s.runPeriodic(WithTrigger(ctx, TriggerPeriodic), st, epoch)
	}()
	return nil
}

func (s *Scheduler) runPeriodic(ctx context.Context, st *sink.State, epoch uint64) {
	name := st.Name()
	for {
		if ctx.Err() != nil {
			s.loopStopped(st, epoch, "periodic")
			return
		}
		if st.Epoch() != epoch {
			s.recordLoop(name, epoch, "periodic", timeline.LoopSuperseded, nil)
			slog.Debug("Periodic reaction superseded", "sink", name, "epoch", epoch)
			return
		}
		st.Beat(epoch, s.now())

		// Back off while any generation for this sink is in flight.
		if st.Pending() > 0 {
			if !sleep(ctx, s.cfg.PendingBackoff) {
				s.loopStopped(st, epoch, "periodic")
				return
			}
			continue
		}

		due, wait := st.Due(s.now())
		if due {
			if err := s.MaybeRespond(ctx, name); err != nil {
				if ctx.Err() != nil {
					s.loopStopped(st, epoch, "periodic")
					return
				}
				s.loopDied(st, epoch, "periodic", err)
				return
			}
			// Read after the generation: the post-hook may have requested a delay.
			wait = st.CurrentInterval()
		}
		if !sleep(ctx, wait) {
			s.loopStopped(st, epoch, "periodic")
			return
		}
	}
}

// StartFixedIntervalReaction starts a loop that generates for the sink every
// d, regardless of pending generations or requested delays. It supersedes
// any loop previously started for the sink.
func (s *Scheduler) StartFixedIntervalReaction(ctx context.Context, name string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("fixed interval for sink %q must be positive, got %v", name, d)
	}
	st, err := s.sinks.Lookup(name)
	if err != nil {
		return err
	}
	epoch := st.NextEpoch()
	s.recordLoop(name, epoch, "fixed", timeline.LoopStarted, nil)
	slog.Info("Fixed interval reaction started", "sink", name, "interval", d, "epoch", epoch)

	s.loops.Add(1)
	go func() {
		defer s.loops.Done()
		s.runFixed(WithTrigger(ctx, TriggerFixed), st, epoch, d)
	}()
	return nil
}

func (s *Scheduler) runFixed(ctx context.Context, st *sink.State, epoch uint64, d time.Duration) {
	name := st.Name()
	for {
		st.Beat(epoch, s.now())
		if !sleep(ctx, d) {
			s.loopStopped(st, epoch, "fixed")
			return
		}
		if st.Epoch() != epoch {
			s.recordLoop(name, epoch, "fixed", timeline.LoopSuperseded, nil)
			return
		}
		if err := s.MaybeRespond(ctx, name); err != nil {
			if ctx.Err() != nil {
				s.loopStopped(st, epoch, "fixed")
				return
			}
			s.loopDied(st, epoch, "fixed", err)
			return
		}
	}
}

func (s *Scheduler) loopDied(st *sink.State, epoch uint64, kind string, err error) {
	st.LoopDied(epoch, err)
	slog.Error("Reaction loop died", "sink", st.Name(), "kind", kind, "epoch", epoch, "error", err)
	s.recordLoop(st.Name(), epoch, kind, timeline.LoopDied, err)
}

func (s *Scheduler) loopStopped(st *sink.State, epoch uint64, kind string) {
	st.LoopDied(epoch, nil)
	slog.Info("Reaction loop stopped", "sink", st.Name(), "kind", kind, "epoch", epoch)
	s.recordLoop(st.Name(), epoch, kind, timeline.LoopStopped, nil)
}

// recordRun persists the run (best-effort).
func (s *Scheduler) recordRun(run *timeline.GenerationRun) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordRun(run); err != nil {
		slog.Warn("Failed to record generation run", "sink", run.Sink, "error", err)
	}
}

// recordLoop persists a loop lifecycle event (best-effort).
func (s *Scheduler) recordLoop(name string, epoch uint64, kind, event string, err error) {
	if s.recorder == nil {
		return
	}
	ev := &timeline.LoopEvent{
		Sink:      name,
		Epoch:     int64(epoch),
		Kind:      kind,
		Event:     event,
		CreatedAt: s.now(),
	}
	if err != nil {
		ev.ErrorText = err.Error()
	}
	if err := s.recorder.RecordLoopEvent(ev); err != nil {
		slog.Warn("Failed to record loop event", "sink", name, "event", event, "error", err)
	}
}

// sleep waits for d or until ctx is done. It reports whether the wait
// completed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Package agent wires sources, sinks and reactions onto a transport: inbound
// messages land in history and trigger generations for every wired sink.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/KafClaw/cadence/internal/bus"
	"github.com/KafClaw/cadence/internal/config"
	"github.com/KafClaw/cadence/internal/history"
	"github.com/KafClaw/cadence/internal/hooks"
	"github.com/KafClaw/cadence/internal/scheduler"
	"github.com/KafClaw/cadence/internal/sink"
	"golang.org/x/sync/errgroup"
)

// Options contains everything an Agent needs.
type Options struct {
	Transport bus.Transport
	Generator scheduler.Generator
	Recorder  scheduler.Recorder
	PreHook   hooks.PreHook
	PostHook  hooks.PostHook
	Scheduler scheduler.Config

	TemplateVars   map[string]any
	SyntheticDepth int
}

// Agent is one bus-attached agent.
type Agent struct {
	transport bus.Transport
	history   *history.Registry
	sinks     *sink.Registry
	sched     *scheduler.Scheduler
	pre       hooks.PreHook

	mu        sync.RWMutex
	reactions map[string][]string
}

// New creates an Agent with empty registries.
func New(opts Options) *Agent {
	pre := opts.PreHook
	if pre == nil {
		pre = hooks.Passthrough{}
	}
	schedOpts := []scheduler.Option{scheduler.WithTemplateVars(opts.TemplateVars)}
	if opts.PostHook != nil {
		schedOpts = append(schedOpts, scheduler.WithPostHook(opts.PostHook))
	}
	if opts.Recorder != nil {
		schedOpts = append(schedOpts, scheduler.WithRecorder(opts.Recorder))
	}

	hist := history.NewRegistry(history.WithSyntheticDepth(opts.SyntheticDepth))
	sinks := sink.NewRegistry()
	return &Agent{
		transport: opts.Transport,
		history:   hist,
		sinks:     sinks,
		sched:     scheduler.New(opts.Scheduler, sinks, hist, opts.Generator, opts.Transport, schedOpts...),
		pre:       pre,
		reactions: make(map[string][]string),
	}
}

// History returns the agent's source registry.
func (a *Agent) History() *history.Registry { return a.history }

// Sinks returns the agent's sink registry.
func (a *Agent) Sinks() *sink.Registry { return a.sinks }

// Scheduler returns the agent's scheduler.
func (a *Agent) Scheduler() *scheduler.Scheduler { return a.sched }

// RegisterSource registers a source and starts listening on the topic of the
// same name.
func (a *Agent) RegisterSource(name string, cfg history.SourceConfig) error {
	if err := a.history.Register(name, cfg); err != nil {
		return err
	}
	if err := a.transport.Subscribe(name, a.handle(name)); err != nil {
		return fmt.Errorf("subscribe to source %s: %w", name, err)
	}
	slog.Debug("Source registered", "source", name, "history", cfg.RetainedDepth)
	return nil
}

// RegisterSink registers a reply sink.
func (a *Agent) RegisterSink(name string, cfg sink.Config) error {
	if _, err := a.sinks.Register(name, cfg); err != nil {
		return err
	}
	slog.Debug("Sink registered", "sink", name)
	return nil
}

// WireReaction makes every message accepted from source trigger a generation
// for sinkName.
func (a *Agent) WireReaction(source, sinkName string) error {
	if _, err := a.sinks.Lookup(sinkName); err != nil {
		return fmt.Errorf("wire %s -> %s: %w", source, sinkName, err)
	}
	if !a.history.Has(source) {
		return fmt.Errorf("wire %s -> %s: %w", source, sinkName, history.ErrUnknownSource)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !slices.Contains(a.reactions[source], sinkName) {
		a.reactions[source] = append(a.reactions[source], sinkName)
	}
	return nil
}

// Reactions returns the sinks wired to source.
func (a *Agent) Reactions(source string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.reactions[source])
}

func (a *Agent) handle(source string) bus.Handler {
	return func(ctx context.Context, env *bus.Envelope) error {
		res, err := a.pre.PreProcess(ctx, source, env.Content)
		if err != nil {
			return fmt.Errorf("pre-process %s: %w", source, err)
		}
		payload, ok := res.Payload()
		if !ok {
			slog.Debug("Inbound message discarded", "source", source, "id", env.ID)
			return nil
		}
		if err := a.history.Accept(source, "", payload); err != nil {
			return err
		}
		return a.react(ctx, source)
	}
}

// react runs one generation for every sink wired to source, concurrently.
func (a *Agent) react(ctx context.Context, source string) error {
	targets := a.Reactions(source)
	if len(targets) == 0 {
		return nil
	}
	ctx = scheduler.WithTrigger(ctx, scheduler.TriggerReactive)

	var g errgroup.Group
	for _, name := range targets {
		g.Go(func() error {
			return a.sched.MaybeRespond(ctx, name)
		})
	}
	return g.Wait()
}

// Configure registers the sources, sinks and reactions of cfg and starts the
// periodic or fixed loop of every sink that declares one. Loops stop when
// ctx is cancelled.
func (a *Agent) Configure(ctx context.Context, cfg *config.Config) error {
	for _, s := range cfg.Sources {
		if err := a.RegisterSource(s.Name, history.SourceConfig{DisplayName: s.DisplayName, RetainedDepth: s.History}); err != nil {
			return err
		}
	}
	for _, s := range cfg.Sinks {
		if err := a.RegisterSink(s.Name, sink.Config{Options: s.Options}); err != nil {
			return err
		}
	}
	for _, r := range cfg.Reactions {
		if err := a.WireReaction(r.Source, r.Sink); err != nil {
			return err
		}
	}
	for _, s := range cfg.Sinks {
		switch {
		case s.FixedIntervalSeconds > 0:
			if err := a.sched.StartFixedIntervalReaction(ctx, s.Name, s.FixedInterval()); err != nil {
				return err
			}
		case s.IntervalSeconds > 0:
			if err := a.sched.StartPeriodicReaction(ctx, s.Name, s.Interval()); err != nil {
				return err
			}
		}
	}
	slog.Info("Agent configured",
		"sources", len(cfg.Sources), "sinks", len(cfg.Sinks), "reactions", len(cfg.Reactions))
	return nil
}

// Run delivers inbound messages until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	return a.transport.Run(ctx)
}

// Close stops the transport and waits for every loop to exit. Cancel the
// context passed to Configure first.
func (a *Agent) Close() error {
	err := a.transport.Close()
	a.sched.Wait()
	return err
}

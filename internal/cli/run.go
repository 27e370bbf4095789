package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/KafClaw/cadence/internal/agent"
	"github.com/KafClaw/cadence/internal/bus"
	"github.com/KafClaw/cadence/internal/channels"
	"github.com/KafClaw/cadence/internal/config"
	"github.com/KafClaw/cadence/internal/provider"
	"github.com/KafClaw/cadence/internal/scheduler"
	"github.com/KafClaw/cadence/internal/timeline"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent until interrupted",
	RunE:  runAgent,
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	setupLogging(cfg.Log, cmd.ErrOrStderr())
	printHeader(cmd.OutOrStdout(), "🕰️ Cadence Agent")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return runWithConfig(ctx, cfg, cmd.OutOrStdout())
}

// runWithConfig runs the agent described by cfg until ctx is done.
func runWithConfig(ctx context.Context, cfg *config.Config, out io.Writer) error {
	var recorder scheduler.Recorder
	if cfg.Timeline.Enabled {
		if err := config.EnsureDir(filepath.Dir(cfg.Timeline.DBPath)); err != nil {
			return fmt.Errorf("create timeline dir: %w", err)
		}
		tl, err := timeline.NewService(cfg.Timeline.DBPath)
		if err != nil {
			return err
		}
		defer tl.Close()
		recorder = tl
	}

	gen, err := provider.Resolve(cfg.Provider)
	if err != nil {
		return err
	}
	pre, err := agent.PreHookFor(cfg.Agent)
	if err != nil {
		return err
	}
	post, err := agent.PostHookFor(cfg.Agent)
	if err != nil {
		return err
	}
	tr, err := newTransport(cfg)
	if err != nil {
		return err
	}

	a := agent.New(agent.Options{
		Transport: tr,
		Generator: gen,
		Recorder:  recorder,
		PreHook:   pre,
		PostHook:  post,
		Scheduler: scheduler.Config{
			PendingBackoff: cfg.Scheduler.PendingBackoff(),
			LockPath:       cfg.Scheduler.LockPath,
		},
		TemplateVars:   templateVars(cfg.Agent.TemplateVars),
		SyntheticDepth: cfg.Agent.SyntheticDepth,
	})
	if err := a.Scheduler().Lock(); err != nil {
		tr.Close()
		return err
	}
	defer a.Scheduler().Unlock()

	loopCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		if err := a.Close(); err != nil {
			slog.Warn("Agent shutdown failed", "error", err)
		}
	}()

	if err := a.Configure(loopCtx, cfg); err != nil {
		return fmt.Errorf("configure agent: %w", err)
	}
	if err := attachRelays(tr, cfg); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s running: %d sources, %d sinks, %d reactions (%s transport, %s provider)\n",
		cfg.Agent.DisplayName, len(cfg.Sources), len(cfg.Sinks), len(cfg.Reactions), cfg.Transport.Kind, cfg.Provider.Kind)

	err = a.Run(loopCtx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	slog.Info("Agent stopped", "agent", cfg.Agent.Name)
	return err
}

func newTransport(cfg *config.Config) (bus.Transport, error) {
	switch cfg.Transport.Kind {
	case "", config.TransportInProc:
		return bus.NewMessageBus(cfg.Agent.Name), nil
	case config.TransportKafka:
		kt, err := bus.NewKafkaTransport(bus.KafkaConfig{
			Brokers:       cfg.Transport.Brokers,
			ConsumerGroup: cfg.Transport.ConsumerGroup,
			ClientID:      cfg.Transport.ClientID,
			Sender:        cfg.Agent.Name,
		})
		if err != nil {
			return nil, err
		}
		return kt, nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
	}
}

// attachRelays forwards sink replies to the chat channels cfg names.
func attachRelays(tr bus.Transport, cfg *config.Config) error {
	for _, r := range cfg.Relays {
		var ch channels.Channel
		switch r.Kind {
		case config.RelaySlack:
			sc, err := channels.NewSlackChannel(channels.SlackConfig{
				BotToken: cfg.Slack.BotToken,
				APIBase:  cfg.Slack.APIBase,
				Channel:  r.Channel,
			})
			if err != nil {
				return fmt.Errorf("relay %s: %w", r.Sink, err)
			}
			ch = sc
		default:
			return fmt.Errorf("relay %s: unknown kind %q", r.Sink, r.Kind)
		}
		if err := channels.Attach(tr, r.Sink, ch); err != nil {
			return err
		}
		slog.Info("Relay attached", "sink", r.Sink, "channel", ch.Name())
	}
	return nil
}

func templateVars(in map[string]string) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

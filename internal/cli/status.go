package cli

import (
	"fmt"
	"os"

	"github.com/KafClaw/cadence/internal/config"
	"github.com/KafClaw/cadence/internal/timeline"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "cadence %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and sink status",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		printHeader(out, "📊 Cadence Status")
		fmt.Fprintf(out, "Version:   %s\n", version)

		path, err := config.ConfigPath()
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err == nil {
			fmt.Fprintf(out, "Config:    %s (%s)\n", color.GreenString("✓ Found"), path)
		} else {
			fmt.Fprintf(out, "Config:    %s (run 'cadence onboard' first)\n", color.RedString("✗ Not found"))
		}

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(out, "Valid:     %s %v\n", color.RedString("✗"), err)
		}
		fmt.Fprintf(out, "Agent:     %s (%s)\n", cfg.Agent.DisplayName, cfg.Agent.Name)
		model := cfg.Provider.Model
		if model == "" {
			model = "default model"
		}
		fmt.Fprintf(out, "Provider:  %s %s (workers=%d)\n", cfg.Provider.Kind, model, cfg.Provider.Workers)
		fmt.Fprintf(out, "Transport: %s\n", cfg.Transport.Kind)
		fmt.Fprintf(out, "Hooks:     pre=%s post=%s\n", cfg.Agent.PreHook, cfg.Agent.PostHook)

		fmt.Fprintf(out, "Sources:   %d\n", len(cfg.Sources))
		for _, s := range cfg.Sources {
			fmt.Fprintf(out, "  - %s [%s] history=%d\n", s.Name, s.DisplayName, s.History)
		}

		summaries := sinkSummaries(cfg)
		fmt.Fprintf(out, "Sinks:     %d\n", len(cfg.Sinks))
		for _, s := range cfg.Sinks {
			cadence := "reactive only"
			switch {
			case s.FixedInterval() > 0:
				cadence = "every " + s.FixedInterval().String() + " (fixed)"
			case s.Interval() > 0:
				cadence = "every " + s.Interval().String()
			}
			line := fmt.Sprintf("  - %s: %s", s.Name, cadence)
			if sum, ok := summaries[s.Name]; ok {
				line += fmt.Sprintf(", %d runs, last %s", sum.RunCount, statusColor(sum.LastStatus))
			}
			fmt.Fprintln(out, line)
		}
		for _, r := range cfg.Reactions {
			fmt.Fprintf(out, "Reaction:  %s -> %s\n", r.Source, r.Sink)
		}
		for _, r := range cfg.Relays {
			token := "token missing"
			if cfg.Slack.BotToken != "" {
				token = "token set"
			}
			fmt.Fprintf(out, "Relay:     %s -> %s %s (%s)\n", r.Sink, r.Kind, r.Channel, token)
		}
		return nil
	},
}

// sinkSummaries reads run summaries from the timeline, if one exists.
func sinkSummaries(cfg *config.Config) map[string]timeline.SinkSummary {
	out := make(map[string]timeline.SinkSummary)
	if !cfg.Timeline.Enabled {
		return out
	}
	if _, err := os.Stat(cfg.Timeline.DBPath); err != nil {
		return out
	}
	tl, err := timeline.NewService(cfg.Timeline.DBPath)
	if err != nil {
		return out
	}
	defer tl.Close()
	list, err := tl.ListSinkSummaries()
	if err != nil {
		return out
	}
	for _, s := range list {
		out[s.Sink] = s
	}
	return out
}

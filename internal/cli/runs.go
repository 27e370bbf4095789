package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/KafClaw/cadence/internal/config"
	"github.com/KafClaw/cadence/internal/timeline"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	runsSink   string
	runsLimit  int
	runsEvents bool
	runsJSON   bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent generation runs and loop events",
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().StringVar(&runsSink, "sink", "", "Only show this sink")
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Maximum rows")
	runsCmd.Flags().BoolVar(&runsEvents, "events", false, "Show loop lifecycle events instead of runs")
	runsCmd.Flags().BoolVar(&runsJSON, "json", false, "Print JSON")
}

func runRuns(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if _, err := os.Stat(cfg.Timeline.DBPath); err != nil {
		return fmt.Errorf("no timeline at %s (has `cadence run` been started?)", cfg.Timeline.DBPath)
	}
	tl, err := timeline.NewService(cfg.Timeline.DBPath)
	if err != nil {
		return err
	}
	defer tl.Close()

	out := cmd.OutOrStdout()
	if runsEvents {
		events, err := tl.ListLoopEvents(runsSink, runsLimit)
		if err != nil {
			return fmt.Errorf("list loop events: %w", err)
		}
		if runsJSON {
			return writeJSON(out, events)
		}
		printLoopEvents(out, events)
		return nil
	}

	runs, err := tl.ListRuns(runsSink, runsLimit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if runsJSON {
		return writeJSON(out, runs)
	}
	printRuns(out, runs)
	return nil
}

func printRuns(w io.Writer, runs []timeline.GenerationRun) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	for _, r := range runs {
		detail := r.Output
		if r.ErrorText != "" {
			detail = r.ErrorText
		}
		fmt.Fprintf(w, "%s  %-16s %-9s %-9s %6dms  %s\n",
			r.StartedAt.Local().Format(time.DateTime), r.Sink, r.Trigger, statusColor(r.Status), r.DurationMS, oneLine(detail, 60))
	}
}

func printLoopEvents(w io.Writer, events []timeline.LoopEvent) {
	if len(events) == 0 {
		fmt.Fprintln(w, "No loop events recorded.")
		return
	}
	for _, e := range events {
		line := fmt.Sprintf("%s  %-16s %-8s epoch=%-3d %s",
			e.CreatedAt.Local().Format(time.DateTime), e.Sink, e.Kind, e.Epoch, e.Event)
		if e.ErrorText != "" {
			line += "  " + color.RedString(oneLine(e.ErrorText, 80))
		}
		fmt.Fprintln(w, line)
	}
}

func statusColor(status string) string {
	switch status {
	case timeline.RunSent:
		return color.GreenString(status)
	case timeline.RunFailed:
		return color.RedString(status)
	case timeline.RunDiscarded:
		return color.YellowString(status)
	default:
		return status
	}
}

func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > max {
		return s[:max-3] + "..."
	}
	return s
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

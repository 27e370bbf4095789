package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/KafClaw/cadence/internal/config"
	"github.com/KafClaw/cadence/internal/kshark"
	"github.com/spf13/cobra"
)

var doctorTimeout time.Duration

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the Kafka brokers and the source and sink topics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if cfg.Transport.Kind != config.TransportKafka {
			fmt.Fprintf(cmd.OutOrStdout(), "Transport is %q; nothing to check.\n", cfg.Transport.Kind)
			return nil
		}

		r := kshark.Run(cmd.Context(), kshark.Options{
			Brokers:  splitList(cfg.Transport.Brokers),
			Topics:   configTopics(cfg),
			ClientID: cfg.Transport.ClientID,
			Timeout:  doctorTimeout,
		})
		r.Print(cmd.OutOrStdout())
		if r.HasFailed {
			return errors.New("kafka checks failed")
		}
		return nil
	},
}

func init() {
	doctorCmd.Flags().DurationVar(&doctorTimeout, "timeout", 10*time.Second, "Per-check timeout")
	rootCmd.AddCommand(doctorCmd)
}

// configTopics lists every source and sink topic once, in config order.
func configTopics(cfg *config.Config) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, s := range cfg.Sources {
		add(s.Name)
	}
	for _, s := range cfg.Sinks {
		add(s.Name)
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

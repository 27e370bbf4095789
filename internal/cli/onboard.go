package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/KafClaw/cadence/internal/config"
	"github.com/KafClaw/cadence/internal/onboarding"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	onboardForce       bool
	onboardSystemd     bool
	onboardServiceUser string
	onboardServiceHome string
	onboardInstallRoot string
)

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Write a starter config with one source, one sink and a reaction",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.ConfigPath()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		_, statErr := os.Stat(path)
		switch {
		case statErr == nil && !onboardForce && !onboardSystemd:
			return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
		case statErr == nil && !onboardForce:
			fmt.Fprintf(out, "Keeping %s\n", path)
		default:
			if err := config.Save(starterConfig()); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Fprintf(out, "%s Wrote %s\n", color.GreenString("✓"), path)
		}

		if onboardSystemd {
			return installService(out)
		}
		fmt.Fprintln(out, "Set CADENCE_PROVIDER_API_KEY (or OPENAI_API_KEY), then run 'cadence run'.")
		return nil
	},
}

func installService(out io.Writer) error {
	bin, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve binary path: %w", err)
	}
	res, err := onboarding.SetupSystemd(onboarding.SetupOptions{
		ServiceUser: onboardServiceUser,
		ServiceHome: onboardServiceHome,
		BinaryPath:  bin,
		Version:     version,
		InstallRoot: onboardInstallRoot,
	})
	if err != nil {
		return fmt.Errorf("install service: %w", err)
	}
	fmt.Fprintf(out, "%s Wrote %s\n", color.GreenString("✓"), res.ServicePath)
	if res.EnvCreated {
		fmt.Fprintf(out, "%s Wrote %s (fill in secrets)\n", color.GreenString("✓"), res.EnvPath)
	}
	fmt.Fprintln(out, "Enable with: systemctl daemon-reload && systemctl enable --now cadence")
	return nil
}

func init() {
	onboardCmd.Flags().BoolVar(&onboardForce, "force", false, "Overwrite an existing config")
	onboardCmd.Flags().BoolVar(&onboardSystemd, "systemd", false, "Also install a systemd unit for 'cadence run'")
	onboardCmd.Flags().StringVar(&onboardServiceUser, "service-user", "cadence", "User the systemd unit runs as")
	onboardCmd.Flags().StringVar(&onboardServiceHome, "service-home", "", "Home directory of the service user (default: looked up)")
	onboardCmd.Flags().StringVar(&onboardInstallRoot, "install-root", "/", "Root directory for the systemd unit")
}

// starterConfig is the default config plus a chat source answered on a
// reply sink that also speaks up every ten minutes.
func starterConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Agent.PostHook = config.HookJSON
	cfg.Agent.TemplateVars = map[string]string{"persona": "a concise, friendly assistant"}
	cfg.Sources = []config.SourceConfig{{Name: "chat", DisplayName: "User", History: 20}}
	cfg.Sinks = []config.SinkConfig{{
		Name: "replies",
		Options: map[string]any{
			"system_prompt": "You are ${persona}. Answer with JSON: {\"message\": \"...\"} to speak, or {\"delay\": seconds} to stay quiet for a while.",
			"user_prompt":   "Conversation so far:\n${history}",
		},
		IntervalSeconds: 600,
	}}
	cfg.Reactions = []config.ReactionConfig{{Source: "chat", Sink: "replies"}}
	return cfg
}

package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/KafClaw/cadence/internal/cliconfig"
	"github.com/KafClaw/cadence/internal/config"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit the cadence config file",
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := config.ConfigPath()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), p)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get [path]",
	Short: "Print the effective value at a dotted path such as sinks[0].intervalSeconds",
	Long:  "Print the effective value (defaults, file and environment applied). Without a path the whole config is printed.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return printValue(cmd.OutOrStdout(), cfg)
		}
		val, err := cliconfig.Get(args[0])
		if err != nil {
			return err
		}
		return printValue(cmd.OutOrStdout(), val)
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <path> <value>",
	Short: "Set a value in the config file; value is JSON or a plain string",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cliconfig.Set(args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%s set %s\n", color.GreenString("✓"), args[0])
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <path>",
	Short: "Remove a value from the config file so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cliconfig.Unset(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%s unset %s\n", color.GreenString("✓"), args[0])
		return nil
	},
}

// printValue prints scalars bare and everything else as indented JSON.
func printValue(w io.Writer, v any) error {
	switch v.(type) {
	case nil:
		fmt.Fprintln(w, "null")
		return nil
	case string, float64, bool:
		fmt.Fprintln(w, v)
		return nil
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(out))
	return nil
}

func init() {
	configCmd.AddCommand(configPathCmd, configGetCmd, configSetCmd, configUnsetCmd)
	rootCmd.AddCommand(configCmd)
}

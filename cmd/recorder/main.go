package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/laurencee/wow-recorder/internal/platform/config"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// rootOptions are flags shared by every subcommand.
type rootOptions struct {
	envFile  string
	settings string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "recorder",
		Short:         "Records World of Warcraft activities from the combat log",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.envFile != "" {
				return config.Load(opts.envFile)
			}
			_ = config.Load()
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "load environment from this file instead of .env")
	cmd.PersistentFlags().StringVar(&opts.settings, "settings", "", "settings file (overrides SETTINGS_PATH)")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newVideosCommand(opts))
	cmd.AddCommand(newValidateCommand(opts))
	return cmd
}

// runtime reads the process settings, applying flag overrides.
func (o *rootOptions) runtime() config.Runtime {
	rt := config.LoadRuntime()
	if o.settings != "" {
		rt.SettingsPath = o.settings
	}
	return rt
}

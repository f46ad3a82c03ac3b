package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/laurencee/wow-recorder/internal/platform/logger"
	"github.com/laurencee/wow-recorder/internal/settings"
)

func newValidateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the settings file against its field rules",
		Long: `Check the settings file against its field rules.

Only static rules are checked. Paths, free disk space and the cloud store
are verified by the running recorder.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := opts.runtime()
			src := settings.NewSource(rt.SettingsPath, logger.Discard())
			if _, err := src.Load(); err != nil {
				return err
			}
			st, err := src.Current()
			if err != nil {
				return err
			}

			sections := []struct {
				name string
				cfg  any
			}{
				{"base", st.Base},
				{"video", st.Video},
				{"audio", st.Audio},
				{"flavour", st.Flavour},
				{"overlay", st.Overlay},
			}
			failed := 0
			out := cmd.OutOrStdout()
			for _, s := range sections {
				if err := settings.Check(s.cfg); err != nil {
					fmt.Fprintf(out, "%-8s %v\n", s.name, err)
					failed++
					continue
				}
				fmt.Fprintf(out, "%-8s ok\n", s.name)
			}
			if failed > 0 {
				return errors.New("settings are invalid")
			}
			return nil
		},
	}
}

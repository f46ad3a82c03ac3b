package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/laurencee/wow-recorder/internal/correlate"
	"github.com/laurencee/wow-recorder/internal/platform/logger"
	"github.com/laurencee/wow-recorder/internal/platform/metrics"
	"github.com/laurencee/wow-recorder/internal/settings"
	"github.com/laurencee/wow-recorder/internal/storage/disk"
)

func newVideosCommand(opts *rootOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "videos",
		Short: "List recorded videos from disk and cloud as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := opts.runtime()
			log := logger.NewWriter(cmd.ErrOrStderr(), rt.LogLevel, "text")

			src := settings.NewSource(rt.SettingsPath, log)
			if _, err := src.Load(); err != nil {
				return err
			}
			st, err := src.Current()
			if err != nil {
				return err
			}
			if st.Base.StoragePath == "" {
				return errors.New("storage path is not configured")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			store := disk.New(log)
			loader := correlate.NewLoader(log, metrics.New(), store, rt.ListConcurrency)
			if st.Base.CloudStorage && rt.CloudEnabled {
				c, err := openCloud(ctx, st.Base)
				if err != nil {
					return fmt.Errorf("open cloud store: %w", err)
				}
				defer c.Close()
				loader.SetCloud(c)
			}

			videos, err := loader.LoadAll(ctx, st.Base.StoragePath)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(videos)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "give up listing after this long")
	return cmd
}

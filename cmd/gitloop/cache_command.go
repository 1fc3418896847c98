package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"gitloop/internal/runner"
	"gitloop/internal/staging"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and clear the transcript and download caches",
	}

	cacheCmd.AddCommand(newCacheStatsCommand(ctx))
	cacheCmd.AddCommand(newCachePruneCommand(ctx))
	cacheCmd.AddCommand(newCacheClearCommand(ctx))

	return cacheCmd
}

func newCacheStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			store, err := ctx.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer ctx.close()
			transcripts, err := store.TranscriptCount(cmd.Context())
			if err != nil {
				return err
			}
			audio, err := staging.Size(cfg.AudioCacheDir())
			if err != nil {
				return err
			}
			httpBytes, err := staging.Size(cfg.HTTPCacheDir())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Transcripts: %d\n", transcripts)
			fmt.Fprintf(out, "Audio:       %s (%s)\n", humanBytes(audio), cfg.AudioCacheDir())
			fmt.Fprintf(out, "HTTP:        %s (%s)\n", humanBytes(httpBytes), cfg.HTTPCacheDir())
			return nil
		},
	}
}

func newCachePruneCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove audio downloads left behind by interrupted runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			result := staging.CleanStale(cmd.Context(), cfg.AudioCacheDir(), olderThan, ctx.loggerFor(cmd))
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Removed %d items (%s)\n", len(result.Removed), humanBytes(result.Freed))
			if len(result.Errors) > 0 {
				for _, e := range result.Errors {
					fmt.Fprintf(out, "  %s: %v\n", e.Path, e.Error)
				}
				return fmt.Errorf("%d items could not be removed", len(result.Errors))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", runner.StaleAudioAge, "Only remove items older than this")
	return cmd
}

func newCacheClearCommand(ctx *commandContext) *cobra.Command {
	var includeHTTP bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop cached transcripts and leftover audio downloads",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			store, err := ctx.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer ctx.close()
			removed, err := store.ClearTranscripts(cmd.Context())
			if err != nil {
				return err
			}
			if err := os.RemoveAll(cfg.AudioCacheDir()); err != nil {
				return fmt.Errorf("remove audio cache: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Removed %d cached transcripts\n", removed)
			fmt.Fprintf(out, "Cleared %s\n", cfg.AudioCacheDir())
			if includeHTTP {
				if err := os.RemoveAll(cfg.HTTPCacheDir()); err != nil {
					return fmt.Errorf("remove http cache: %w", err)
				}
				fmt.Fprintf(out, "Cleared %s\n", cfg.HTTPCacheDir())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&includeHTTP, "http", false, "Also clear the HTTP response cache")
	return cmd
}

func humanBytes(value int64) string {
	if value < 0 {
		value = 0
	}
	return humanize.IBytes(uint64(value))
}

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"gitloop/internal/archive"
	"gitloop/internal/language"
	"gitloop/internal/logging"
)

func newSourcesCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List configured sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			if asJSON {
				return writeJSON(cmd, cfg.Sources)
			}
			if len(cfg.Sources) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sources configured")
				return nil
			}
			rows := make([][]string, 0, len(cfg.Sources))
			for _, src := range cfg.Sources {
				rows = append(rows, []string{
					src.Key,
					src.DisplayName(),
					src.Type,
					yesNo(src.IsEnabled()),
					yesNo(src.Options.ExtractTranscript),
					languageNames(src.Options.TranscriptLanguages),
					truncate(src.URL, 60),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Key", "Name", "Type", "Enabled", "Transcripts", "Languages", "URL"},
				rows, nil,
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit sources as JSON")
	return cmd
}

func languageNames(codes []string) string {
	names := make([]string, 0, len(codes))
	for _, code := range codes {
		names = append(names, language.DisplayName(code))
	}
	return strings.Join(names, ", ")
}

func newRecoverCommand(ctx *commandContext) *cobra.Command {
	flags := &pipelineFlags{}
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Rebuild source indexes from their detail records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			filters, err := flags.filters(cmd, cfg)
			if err != nil {
				return err
			}
			logger := ctx.loggerFor(cmd)
			var failed int
			for _, src := range cfg.Select(filters) {
				idx, err := archive.NewStore(cfg.Paths.ArchiveDir, src, logger).Recover(cmd.Context())
				if err != nil {
					failed++
					logging.ErrorWithContext(logger, "index recovery failed", "index_recover",
						logging.String(logging.FieldSourceKey, src.Key),
						logging.Error(err),
					)
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", src.Key, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d entries\n", src.Key, idx.Len())
			}
			if failed > 0 {
				return fmt.Errorf("%w: %d sources could not be recovered", errFatalRun, failed)
			}
			return nil
		},
	}
	flags.registerSelection(cmd)
	return cmd
}

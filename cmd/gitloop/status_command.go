package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"gitloop/internal/archive"
	"gitloop/internal/config"
	"gitloop/internal/fileutil"
	"gitloop/internal/ledger"
	"gitloop/internal/materials"
)

type sourceStatus struct {
	Key           string      `json:"key"`
	Name          string      `json:"name"`
	Type          string      `json:"type"`
	Enabled       bool        `json:"enabled"`
	Entries       int         `json:"entries"`
	Materials     int         `json:"materials"`
	LastUpdated   *time.Time  `json:"last_updated,omitempty"`
	IndexError    string      `json:"index_error,omitempty"`
	LastArchive   *ledger.Run `json:"last_archive,omitempty"`
	LastMaterials *ledger.Run `json:"last_materials,omitempty"`
}

type statusReport struct {
	Sources     []sourceStatus `json:"sources"`
	RecentRuns  []ledger.Run   `json:"recent_runs"`
	Transcripts int            `json:"cached_transcripts"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show archive sizes, material counts and recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			store, err := ctx.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer ctx.close()
			report, err := collectStatus(cmd.Context(), cfg, store, ctx.loggerFor(cmd), limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, report)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderStatus(report, shouldColorize(cmd.OutOrStdout())))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "runs", 10, "Number of recent runs to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit status as JSON")
	return cmd
}

func collectStatus(ctx context.Context, cfg *config.Config, store *ledger.Store, logger *slog.Logger, limit int) (statusReport, error) {
	latest, err := store.LatestRuns(ctx)
	if err != nil {
		return statusReport{}, err
	}
	recent, err := store.RecentRuns(ctx, limit)
	if err != nil {
		return statusReport{}, err
	}
	cached, err := store.TranscriptCount(ctx)
	if err != nil {
		return statusReport{}, err
	}

	report := statusReport{RecentRuns: recent, Transcripts: cached}
	for _, src := range cfg.Sources {
		status := sourceStatus{
			Key:     src.Key,
			Name:    src.DisplayName(),
			Type:    src.Type,
			Enabled: src.IsEnabled(),
		}
		if run, ok := latest[ledger.RunKey(ledger.PhaseArchive, src.Type, src.Key)]; ok {
			status.LastArchive = &run
		}
		if run, ok := latest[ledger.RunKey(ledger.PhaseMaterials, src.Type, src.Key)]; ok {
			status.LastMaterials = &run
		}

		idx, err := archive.NewStore(cfg.Paths.ArchiveDir, src, logger).Load(ctx)
		if err != nil {
			status.IndexError = err.Error()
			report.Sources = append(report.Sources, status)
			continue
		}
		status.Entries = idx.Len()
		if !idx.LastUpdated.IsZero() {
			updated := idx.LastUpdated
			status.LastUpdated = &updated
		}
		for _, id := range idx.IDs() {
			exists, err := fileutil.Exists(materials.DocumentPath(cfg.Paths.MaterialsDir, src, id))
			if err != nil {
				return statusReport{}, err
			}
			if exists {
				status.Materials++
			}
		}
		report.Sources = append(report.Sources, status)
	}
	return report, nil
}

func renderStatus(report statusReport, colorize bool) string {
	var b strings.Builder
	for _, line := range renderSectionHeader("Sources", colorize) {
		b.WriteString(line + "\n")
	}
	if len(report.Sources) == 0 {
		b.WriteString("No sources configured\n")
	} else {
		rows := make([][]string, 0, len(report.Sources))
		for _, s := range report.Sources {
			updated := "-"
			if s.LastUpdated != nil {
				updated = s.LastUpdated.Local().Format("2006-01-02 15:04")
			}
			entries := strconv.Itoa(s.Entries)
			if s.IndexError != "" {
				entries = colorStatus(ledger.StatusFailed, colorize) + " (corrupt index)"
			}
			rows = append(rows, []string{
				s.Key,
				s.Type,
				yesNo(s.Enabled),
				entries,
				strconv.Itoa(s.Materials),
				updated,
				runCell(s.LastArchive, colorize),
				runCell(s.LastMaterials, colorize),
			})
		}
		b.WriteString(renderTable(
			[]string{"Source", "Type", "Enabled", "Entries", "Materials", "Updated", "Archive", "Materials run"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight},
		))
		b.WriteByte('\n')
	}

	b.WriteByte('\n')
	for _, line := range renderSectionHeader("Recent runs", colorize) {
		b.WriteString(line + "\n")
	}
	if len(report.RecentRuns) == 0 {
		b.WriteString("No runs recorded\n")
	} else {
		rows := make([][]string, 0, len(report.RecentRuns))
		for _, run := range report.RecentRuns {
			rows = append(rows, []string{
				run.StartedAt.Local().Format("2006-01-02 15:04:05"),
				run.Phase,
				run.SourceKey,
				colorStatus(run.Status, colorize),
				strconv.Itoa(run.New),
				strconv.Itoa(run.Skipped),
				strconv.Itoa(run.Errors),
				run.Duration().Round(time.Second).String(),
			})
		}
		b.WriteString(renderTable(
			[]string{"Started", "Phase", "Source", "Status", "New", "Skipped", "Errors", "Took"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight},
		))
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "\n%d cached transcripts\n", report.Transcripts)
	return b.String()
}

func runCell(run *ledger.Run, colorize bool) string {
	if run == nil {
		return "-"
	}
	return fmt.Sprintf("%s %s", colorStatus(run.Status, colorize), run.FinishedAt.Local().Format("01-02 15:04"))
}

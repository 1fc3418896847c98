package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"gitloop/internal/config"
	"gitloop/internal/logging"
	"gitloop/internal/notifications"
	"gitloop/internal/runner"
	"gitloop/internal/services"
)

// errFatalRun marks a run that must exit nonzero even though it completed.
var errFatalRun = errors.New("run aborted")

type pipelineFlags struct {
	sourceType string
	sourceKey  string
	force      bool
	max        int
	json       bool
}

func (f *pipelineFlags) registerSelection(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.sourceType, "type", "t", "", "Only process sources of this type (youtube, podcast, blog, news)")
	flags.StringVarP(&f.sourceKey, "source", "s", "", "Only process the source with this key")
}

func (f *pipelineFlags) register(cmd *cobra.Command) {
	f.registerSelection(cmd)
	flags := cmd.Flags()
	flags.BoolVarP(&f.force, "force", "f", false, "Reprocess entries that were already handled")
	flags.IntVar(&f.max, "max", 0, "Cap new entries per source (overrides max_entries_per_run)")
	flags.BoolVar(&f.json, "json", false, "Emit the run summary as JSON")
}

// filters starts from the environment defaults in cfg and applies the flags
// the user actually set.
func (f *pipelineFlags) filters(cmd *cobra.Command, cfg *config.Config) (config.Filters, error) {
	filters := cfg.Filters
	flags := cmd.Flags()
	if flags.Changed("type") {
		filters.SourceType = strings.ToLower(strings.TrimSpace(f.sourceType))
	}
	if flags.Changed("source") {
		filters.SourceKey = strings.TrimSpace(f.sourceKey)
	}
	if flags.Changed("force") {
		filters.Force = f.force
	}
	if flags.Changed("max") {
		if f.max < 0 {
			return filters, services.Wrap(services.ErrConfiguration, "cli", "parse flags", "--max must not be negative", nil)
		}
		filters.MaxEntries = f.max
	}
	if filters.SourceType != "" && !slices.Contains(config.SourceTypes, filters.SourceType) {
		return filters, services.Wrap(services.ErrConfiguration, "cli", "parse flags",
			fmt.Sprintf("unknown source type %q", filters.SourceType), nil)
	}
	return filters, nil
}

type phase func(r *runner.Runner, cmd *cobra.Command, filters config.Filters) (runner.Summary, error)

func archivePhase(r *runner.Runner, cmd *cobra.Command, filters config.Filters) (runner.Summary, error) {
	return r.Archive(cmd.Context(), filters)
}

func materialsPhase(r *runner.Runner, cmd *cobra.Command, filters config.Filters) (runner.Summary, error) {
	return r.Materials(cmd.Context(), filters)
}

func newArchiveCommand(ctx *commandContext) *cobra.Command {
	flags := &pipelineFlags{}
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Fetch new entries from every configured source into the archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPhases(ctx, cmd, flags, archivePhase)
		},
	}
	flags.register(cmd)
	return cmd
}

func newMaterialsCommand(ctx *commandContext) *cobra.Command {
	flags := &pipelineFlags{}
	cmd := &cobra.Command{
		Use:   "materials",
		Short: "Write Markdown materials for archived entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPhases(ctx, cmd, flags, materialsPhase)
		},
	}
	flags.register(cmd)
	return cmd
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	flags := &pipelineFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Archive every source, then write materials",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPhases(ctx, cmd, flags, archivePhase, materialsPhase)
		},
	}
	flags.register(cmd)
	return cmd
}

// runPhases executes phases in order. A fatal summary stops later phases and
// makes the command fail; per-entry and per-source failures do not.
func runPhases(ctx *commandContext, cmd *cobra.Command, flags *pipelineFlags, phases ...phase) error {
	cfg := ctx.configValue()
	filters, err := flags.filters(cmd, cfg)
	if err != nil {
		return err
	}
	if len(cfg.Select(filters)) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "No enabled sources match the selection")
		if flags.json {
			return writeJSON(cmd, []runner.Summary{})
		}
		return nil
	}

	store, err := ctx.openLedger(cmd.Context())
	if err != nil {
		return err
	}
	defer ctx.close()
	logger := ctx.loggerFor(cmd)
	r := runner.New(cfg, logger, store)
	notifier := notifications.NewService(cfg)
	started := time.Now()

	summaries := make([]runner.Summary, 0, len(phases))
	var fatal error
	for _, run := range phases {
		summary, err := run(r, cmd, filters)
		if err != nil {
			if nerr := notifier.NotifyError(context.WithoutCancel(cmd.Context()), err, summary.Phase); nerr != nil {
				logger.Warn("notification failed", logging.Error(nerr))
			}
			return err
		}
		summaries = append(summaries, summary)
		if summary.Fatal() {
			fatal = fmt.Errorf("%w: %s phase: %w", errFatalRun, summary.Phase, summary.Err())
			break
		}
	}

	if err := notifier.NotifyRunCompleted(context.WithoutCancel(cmd.Context()), summaries, time.Since(started)); err != nil {
		logging.WarnWithContext(logger, "notification failed", "notify_run",
			logging.Error(err),
			logging.String(logging.FieldImpact, "run summary was not delivered"),
		)
	}

	if flags.json {
		if err := writeJSON(cmd, summaries); err != nil {
			return err
		}
	} else {
		colorize := shouldColorize(cmd.OutOrStdout())
		for i, summary := range summaries {
			if i > 0 {
				fmt.Fprintln(cmd.OutOrStdout())
			}
			fmt.Fprint(cmd.OutOrStdout(), renderSummary(summary, colorize))
		}
	}
	return fatal
}

func renderSummary(summary runner.Summary, colorize bool) string {
	var b strings.Builder
	title := summary.Phase
	if title != "" {
		title = strings.ToUpper(title[:1]) + title[1:]
	}
	for _, line := range renderSectionHeader(title, colorize) {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	rows := make([][]string, 0, len(summary.Sources))
	for _, report := range summary.Sources {
		note := report.Message
		if report.Recovered {
			note = strings.TrimSpace("index recovered " + note)
		}
		if note == "" && report.Err != nil {
			note = report.Err.Error()
		}
		rows = append(rows, []string{
			report.SourceKey,
			report.SourceType,
			colorStatus(report.Status, colorize),
			strconv.Itoa(report.New),
			strconv.Itoa(report.Skipped),
			strconv.Itoa(report.Errors),
			truncate(note, 60),
		})
	}
	b.WriteString(renderTable(
		[]string{"Source", "Type", "Status", "New", "Skipped", "Errors", "Note"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
	))
	b.WriteByte('\n')
	created, skipped, failed := summary.Totals()
	fmt.Fprintf(&b, "%d new, %d skipped, %d errors across %d sources\n", created, skipped, failed, len(summary.Sources))
	return b.String()
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"gitloop/internal/config"
	"gitloop/internal/deps"
)

func newDepsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "deps",
		Short: "Check the external tools and credentials gitloop needs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			statuses := deps.CheckBinaries(deps.Requirements(cfg))
			if asJSON {
				return writeJSON(cmd, statuses)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderSectionHeader("Dependencies", colorize) {
				fmt.Fprintln(out, line)
			}
			for _, status := range statuses {
				kind := statusOK
				message := status.Command
				if !status.Available {
					kind = statusError
					if status.Optional {
						kind = statusWarn
					}
					message = status.Detail
				}
				if status.Optional {
					message = strings.TrimSpace(message + " (optional)")
				}
				fmt.Fprintln(out, renderStatusLine(status.Name, kind, message, colorize))
			}
			fmt.Fprintln(out, renderStatusLine("Transcription", credentialKind(cfg), credentialMessage(cfg), colorize))

			if missing := deps.MissingRequired(statuses); len(missing) > 0 {
				names := make([]string, 0, len(missing))
				for _, m := range missing {
					names = append(names, m.Name)
				}
				return fmt.Errorf("missing required tools: %s", strings.Join(names, ", "))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit dependency status as JSON")
	return cmd
}

func credentialKind(cfg *config.Config) statusKind {
	switch cfg.Transcription.Backend {
	case config.BackendGroq:
		if strings.TrimSpace(cfg.Transcription.APIKey) == "" {
			return statusWarn
		}
		return statusOK
	case config.BackendNone:
		return statusInfo
	default:
		return statusOK
	}
}

func credentialMessage(cfg *config.Config) string {
	switch cfg.Transcription.Backend {
	case config.BackendGroq:
		if strings.TrimSpace(cfg.Transcription.APIKey) == "" {
			return "groq backend without GROQ_API_KEY; audio transcription will fail"
		}
		return "groq (" + cfg.Transcription.Model + ")"
	case config.BackendNone:
		return "disabled; podcasts fall back to show notes"
	default:
		return cfg.Transcription.Backend
	}
}

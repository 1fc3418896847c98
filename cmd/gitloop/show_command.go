package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"gitloop/internal/archive"
	"gitloop/internal/config"
	"gitloop/internal/materials"
	"gitloop/internal/services"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	var (
		asHTML bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "show <source-key> <entry-id>",
		Short: "Print the material document written for an entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			src, ok := findSource(cfg, args[0])
			if !ok {
				return services.Wrap(services.ErrConfiguration, "cli", "show", fmt.Sprintf("unknown source %q", args[0]), nil)
			}
			if err := archive.ValidID(args[1]); err != nil {
				return err
			}
			path := materials.DocumentPath(cfg.Paths.MaterialsDir, src, args[1])
			data, err := os.ReadFile(path)
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("no material for %s/%s (run `gitloop materials --source %s`)", src.Key, args[1], src.Key)
			}
			if err != nil {
				return err
			}
			if !asHTML && !asJSON {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}

			doc, err := materials.ParseDocument(data)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			if asJSON {
				return writeJSON(cmd, doc)
			}
			html, err := doc.HTML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(html)
			return err
		},
	}
	cmd.Flags().BoolVar(&asHTML, "html", false, "Render the document body as HTML")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit frontmatter and body as JSON")
	return cmd
}

func findSource(cfg *config.Config, key string) (config.Source, bool) {
	for _, src := range cfg.Sources {
		if src.Key == key {
			return src, true
		}
	}
	return config.Source{}, false
}

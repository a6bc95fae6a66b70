package cmd

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/looks-salon/looks/internal/catalog"
	"github.com/looks-salon/looks/internal/prompts"
)

func newPromptsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompts",
		Short: "Inspect the prompt workbook",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show prompt workbook counts and presets without a prompt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := prompts.New(cfg.PromptsXLSX)
			if err := dir.Load(); err != nil {
				return err
			}
			cat := catalog.New(cfg.ImgRoot)
			if _, err := cat.Reload(); err != nil {
				return err
			}

			missing := []string{}
			for _, p := range cat.List("", "") {
				if _, ok := dir.Lookup(p.Filename); !ok {
					missing = append(missing, p.ID)
				}
			}

			status := dir.Status()
			return writeYAML(cmd, map[string]any{
				"source":          status.Source,
				"source_exists":   status.SourceExists,
				"entries":         status.Entries,
				"eligible_sheets": status.EligibleSheets,
				"presets":         cat.Len(),
				"without_prompt":  missing,
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "lookup <filename>",
		Short:   "Check whether a preset filename has a prompt",
		Example: `  looks prompts lookup Bob-01.jpg`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := prompts.New(cfg.PromptsXLSX)
			if err := dir.Load(); err != nil {
				return err
			}
			return writeYAML(cmd, dir.FuzzyLookup(args[0]))
		},
	})

	return cmd
}

func writeYAML(cmd *cobra.Command, v any) error {
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

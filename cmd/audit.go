package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/looks-salon/looks/internal/audit"
	"github.com/looks-salon/looks/internal/storage"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Export and summarize provider call audit logs",
	}

	var output string
	var concurrency int
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write every session's audit entries to a parquet file",
		Example: `  looks audit export --output calls.parquet
  looks audit export -o /tmp/calls.parquet --concurrency 16`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := audit.Export(cmd.Context(), storage.New(cfg.SessionsRoot), output, concurrency)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d audit entries to %s\n", n, output)
			return nil
		},
	}
	exportCmd.Flags().StringVarP(&output, "output", "o", "calls.parquet", "Parquet file to write")
	exportCmd.Flags().IntVar(&concurrency, "concurrency", 8, "Sessions read in parallel")

	var input string
	summaryCmd := &cobra.Command{
		Use:   "summary",
		Short: "Count exported audit entries per provider and status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := audit.Read(input)
			if err != nil {
				return err
			}
			return writeYAML(cmd, audit.Summarize(records))
		},
	}
	summaryCmd.Flags().StringVarP(&input, "input", "i", "calls.parquet", "Parquet file to read")

	cmd.AddCommand(exportCmd, summaryCmd)
	return cmd
}

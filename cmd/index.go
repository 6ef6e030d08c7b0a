package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tuhinx/bubt-annex-routine/internal/pipeline"
)

func newIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Rebuild routine_db.json from the staged documents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			p, err := appInstance.Pipeline()
			if err != nil {
				return err
			}
			rep, err := p.Index(cmd.Context())
			pipeline.WriteReport(cmd.OutOrStdout(), rep)
			return err
		},
	}
}

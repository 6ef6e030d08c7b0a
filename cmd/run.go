package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tuhinx/bubt-annex-routine/internal/pipeline"
)

func newRunCmd() *cobra.Command {
	var clean bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Acquire then index in one run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			p, err := appInstance.Pipeline()
			if err != nil {
				return err
			}
			reports, err := p.Run(cmd.Context(), clean)
			pipeline.WriteReport(cmd.OutOrStdout(), reports...)
			return err
		},
	}
	cmd.Flags().BoolVar(&clean, "clean", false, "remove previously staged PDFs before acquiring")
	return cmd
}

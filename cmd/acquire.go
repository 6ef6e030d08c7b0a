package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tuhinx/bubt-annex-routine/internal/pipeline"
)

func newAcquireCmd() *cobra.Command {
	var clean bool
	cmd := &cobra.Command{
		Use:   "acquire",
		Short: "Discover routine documents and stage them locally",
		Long: `Opens the listing page in headless Chrome, discovers routine links and
stages every document that is not already present. With --clean previously
staged PDFs are removed first; the published index and artifacts are kept.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			p, err := appInstance.Pipeline()
			if err != nil {
				return err
			}
			rep, err := p.Acquire(cmd.Context(), clean)
			pipeline.WriteReport(cmd.OutOrStdout(), rep)
			return err
		},
	}
	cmd.Flags().BoolVar(&clean, "clean", false, "remove previously staged PDFs before acquiring")
	return cmd
}

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/Protocol-Lattice/go-vision/pkg/models"
	"github.com/spf13/cobra"
)

func (a *app) modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the Bedrock models, regions and sampling limits",
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tDEFAULT")
			for _, m := range models.BedrockModels {
				def := ""
				if m == a.settings.Model {
					def = "*"
				}
				fmt.Fprintf(w, "%s\t%s\n", m, def)
			}
			fmt.Fprintln(w)
			fmt.Fprintln(w, "REGION\tDEFAULT")
			for _, r := range models.BedrockRegions {
				def := ""
				if r == a.settings.Region {
					def = "*"
				}
				fmt.Fprintf(w, "%s\t%s\n", r, def)
			}
			fmt.Fprintln(w)
			fmt.Fprintf(w, "max_tokens\t1-%d\n", models.MaxTokensLimit)
			fmt.Fprintf(w, "temperature\t0-1\n")
			fmt.Fprintf(w, "top_p\t0-1\n")
			fmt.Fprintf(w, "top_k\t0-%d\n", models.TopKLimit)
			return w.Flush()
		},
	}
}

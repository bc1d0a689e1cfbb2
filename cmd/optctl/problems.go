package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/descent/internal/optimization/solver"
	"github.com/copyleftdev/descent/internal/problems"
)

func newProblemsCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "problems",
		Short: "List the registered test problems and methods",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "" {
				return writeOutput(cmd.OutOrStdout(), output, map[string]interface{}{
					"problems": problems.List(),
					"methods":  solver.Methods(),
				})
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tDIM\tDESCRIPTION")
			for _, name := range problems.Names() {
				p, err := problems.Lookup(name)
				if err != nil {
					return err
				}
				dim := fmt.Sprintf("%d", p.Dim)
				if p.Dim == 0 {
					dim = fmt.Sprintf(">=%d", p.MinDim)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Name, dim, p.Description)
			}
			fmt.Fprintf(tw, "%s\tlen(b)\t%s\n", solver.QuadraticProblem, "½xᵀAx − bᵀx from the request's a and b")
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout())
			fmt.Fprintln(cmd.OutOrStdout(), "methods:", solver.Methods())
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "structured output: yaml or json")
	return cmd
}

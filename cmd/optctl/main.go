// Command optctl runs solves locally from YAML problem files.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "optctl",
		Short:         "Solve optimization problems with the descent kernel",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(
		newSolveCommand(),
		newProblemsCommand(),
	)
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "optctl:", err)
		os.Exit(1)
	}
}

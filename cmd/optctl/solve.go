package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	apperrors "github.com/copyleftdev/descent/internal/errors"
	"github.com/copyleftdev/descent/internal/optimization/solver"
)

type solveOpts struct {
	file    string
	method  string
	output  string
	history bool
	verbose bool
}

func newSolveCommand() *cobra.Command {
	opts := solveOpts{}

	cmd := &cobra.Command{
		Use:   "solve -f problem.yaml",
		Short: "Run the solve described by a problem file",
		Long: `Run the solve described by a YAML problem file and print the result.

A problem file names a registered problem or a quadratic with its A and b,
plus optional start point, linear constraints, bounds and options:

  method: sqp
  problem: quadratic
  a: [[2, 0], [0, 2]]
  b: [0, 0]
  constraints:
    - {kind: eq, a: [1, 1], b: 1}
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSolve(cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "problem file, - for stdin")
	cmd.Flags().StringVarP(&opts.method, "method", "m", "", "override the file's method")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "yaml", "output format: yaml or json")
	cmd.Flags().BoolVar(&opts.history, "history", false, "include per-iteration diagnostics")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log solver iterations to stderr")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// loadRequest decodes a problem file.
func loadRequest(data []byte) (solver.Request, error) {
	var req solver.Request
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&req); err != nil {
		return req, apperrors.Wrap(err, "invalid problem file").WithOperation("load")
	}
	return req, nil
}

func runSolve(stdin io.Reader, stdout, stderr io.Writer, opts solveOpts) error {
	var data []byte
	var err error
	if opts.file == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(opts.file)
	}
	if err != nil {
		return apperrors.Wrapf(err, "read %s", opts.file)
	}

	req, err := loadRequest(data)
	if err != nil {
		return err
	}
	if opts.method != "" {
		if req.Method, err = solver.ParseMethod(opts.method); err != nil {
			return err
		}
	}

	logger := zap.NewNop()
	if opts.verbose {
		cfg := zap.NewDevelopmentConfig()
		cfg.OutputPaths = []string{"stderr"}
		if logger, err = cfg.Build(); err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
	}

	res, err := solver.Solve(req, logger)
	if err != nil {
		return err
	}
	report := solver.NewReport(res, opts.history)
	if !report.Converged {
		fmt.Fprintf(stderr, "warning: %s stopped without converging: %s\n", req.Method, report.Status)
	}
	return writeOutput(stdout, opts.output, report)
}

func writeOutput(w io.Writer, format string, v interface{}) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return apperrors.Errorf("unknown output format %q", format)
	}
}

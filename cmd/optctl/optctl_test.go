package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/copyleftdev/descent/internal/optimization/solver"
)

const budgetProblem = `method: auglag
problem: quadratic
a: [[2, 0], [0, 2]]
b: [0, 0]
constraints:
  - {kind: eq, a: [1, 1], b: 1, name: budget}
`

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestSolveFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "problem.yaml")
	require.NoError(t, os.WriteFile(path, []byte(budgetProblem), 0o600))

	out, _, err := execute(t, "", "solve", "-f", path)
	require.NoError(t, err)

	var report solver.Report
	require.NoError(t, yaml.Unmarshal([]byte(out), &report))
	assert.True(t, report.Converged)
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, report.X, 1e-4)
	require.NotNil(t, report.Multipliers)
	assert.InDelta(t, -1, report.Multipliers.Equality[0], 1e-2)
	assert.Empty(t, report.History)
}

func TestSolveStdinJSON(t *testing.T) {
	out, _, err := execute(t, budgetProblem, "solve", "-f", "-", "--method", "sqp", "-o", "json", "--history")
	require.NoError(t, err)

	var report solver.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, report.X, 1e-6)
	assert.Len(t, report.History, report.Iterations)
}

func TestSolveErrors(t *testing.T) {
	_, _, err := execute(t, "", "solve")
	assert.Error(t, err)

	_, _, err = execute(t, "problem: booth\nmethd: bfgs\n", "solve", "-f", "-")
	assert.ErrorContains(t, err, "invalid problem file")

	_, _, err = execute(t, "problem: booth\n", "solve", "-f", "-", "-m", "annealing")
	assert.Error(t, err)

	_, _, err = execute(t, "problem: booth\n", "solve", "-f", "-", "-o", "xml")
	assert.ErrorContains(t, err, "unknown output format")
}

func TestSolveWarnsWhenNotConverged(t *testing.T) {
	_, stderr, err := execute(t, "method: lbfgs\nproblem: rosenbrock\noptions: {max_iterations: 2}\n", "solve", "-f", "-")
	require.NoError(t, err)
	assert.Contains(t, stderr, "stopped without converging")
}

func TestProblemsCommand(t *testing.T) {
	out, _, err := execute(t, "", "problems")
	require.NoError(t, err)
	assert.Contains(t, out, "rosenbrock")
	assert.Contains(t, out, "quadratic")
	assert.Contains(t, out, "nelder-mead")

	out, _, err = execute(t, "", "problems", "-o", "json")
	require.NoError(t, err)
	var catalog struct {
		Problems []struct {
			Name string `json:"name"`
		} `json:"problems"`
		Methods []string `json:"methods"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &catalog))
	assert.NotEmpty(t, catalog.Problems)
	assert.Contains(t, catalog.Methods, "trust-steihaug")
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/consensus/internal/coordinator"
	"github.com/dreamware/consensus/internal/problem"
	"github.com/dreamware/consensus/internal/worker"
)

// twoQuadratics is min (x-1)² + (x-5)² split over two problems; the
// consensus optimum is x = 3.
const twoQuadratics = `
problems:
  - name: left
    variables:
      - id: x
        quadratic: [2]
        linear: [-2]
  - name: right
    variables:
      - id: x
        quadratic: [2]
        linear: [-10]
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(testContext(t))
	return out.String(), err
}

// TestRunCommand tests solving a problem set from the command line
func TestRunCommand(t *testing.T) {
	set := writeFile(t, "set.yaml", twoQuadratics)

	tests := []struct {
		name   string
		args   []string
		mode   worker.DualOwnership
		rounds int

		// Mixed step sizes reach a consensus point, not necessarily the optimum.
		optimal bool
	}{
		{
			name:    "pull",
			args:    []string{"--iterations", "50"},
			mode:    worker.WorkerOwned,
			rounds:  50,
			optimal: true,
		},
		{
			name:    "push",
			args:    []string{"--iterations", "60", "--mode", "push"},
			mode:    worker.CoordinatorOwned,
			rounds:  60,
			optimal: true,
		},
		{
			name:   "spectral with per-problem step sizes",
			args:   []string{"--iterations", "80", "--spectral", "--rho-init", "0.5,2"},
			mode:   worker.WorkerOwned,
			rounds: 80,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, append([]string{"run", "--problems", set}, tt.args...)...)
			require.NoError(t, err)

			var res coordinator.Result
			require.NoError(t, json.Unmarshal([]byte(out), &res))
			require.Contains(t, res.Averages, problem.VarID("x"))
			if tt.optimal {
				assert.InDelta(t, 3.0, res.Averages["x"][0], 1e-3)
			}
			assert.Equal(t, tt.rounds, res.Rounds)
			assert.Equal(t, tt.mode, res.Mode)
		})
	}
}

// TestRunCommandConfigFile tests that flags override the config file
func TestRunCommandConfigFile(t *testing.T) {
	set := writeFile(t, "set.yaml", twoQuadratics)
	cfg := writeFile(t, "consensus.yaml", `
consensus:
  max_iterations: 7
  mode: push
`)

	out, err := execute(t, "run", "--config", cfg, "--problems", set)
	require.NoError(t, err)
	var res coordinator.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 7, res.Rounds)
	assert.Equal(t, worker.CoordinatorOwned, res.Mode)

	out, err = execute(t, "run", "--config", cfg, "--problems", set, "--iterations", "9", "--mode", "pull")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 9, res.Rounds)
	assert.Equal(t, worker.WorkerOwned, res.Mode)
}

// TestRunCommandErrors tests argument and configuration failures
func TestRunCommandErrors(t *testing.T) {
	set := writeFile(t, "set.yaml", twoQuadratics)
	infeasible := writeFile(t, "bad.yaml", `
problems:
  - name: crossed
    variables:
      - id: x
        quadratic: [2]
        linear: [0]
        lower: [1]
        upper: [0]
`)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"missing problems flag", []string{"run"}, "problems"},
		{"missing problem file", []string{"run", "--problems", filepath.Join(t.TempDir(), "nope.yaml")}, "failed to read problem set"},
		{"bad mode", []string{"run", "--problems", set, "--mode", "sideways"}, "consensus.mode"},
		{"step size mismatch", []string{"run", "--problems", set, "--rho-init", "1,2,3"}, "step sizes"},
		{"infeasible problem", []string{"run", "--problems", infeasible, "--iterations", "3"}, "consensus run failed"},
		{"missing config file", []string{"run", "--problems", set, "--config", filepath.Join(t.TempDir(), "nope.yaml")}, "failed to read config file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

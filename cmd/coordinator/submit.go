package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreamware/consensus/internal/cluster"
	"github.com/dreamware/consensus/internal/problem"
	"github.com/dreamware/consensus/internal/storage"
)

func newSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a problem set to a running coordinator service",
		Long: `Submit posts a problem set to a coordinator started with serve and
prints the stored run record. With --wait=false it returns as soon as the
run is accepted; fetch the outcome later with --run.`,
		Args: cobra.NoArgs,
		RunE: runSubmit,
	}
	cmd.Flags().String("server", "http://localhost:8080", "coordinator service URL")
	cmd.Flags().StringP("problems", "p", "", "problem set file (YAML or JSON)")
	cmd.Flags().String("run", "", "fetch an existing run instead of submitting")
	cmd.Flags().Bool("wait", true, "wait for the run to finish")
	cmd.Flags().Duration("timeout", 10*time.Minute, "request timeout")
	cmd.Flags().Int("iterations", 0, "number of consensus rounds")
	cmd.Flags().String("mode", "", "dual ownership: pull or push")
	cmd.Flags().Bool("spectral", false, "enable spectral step size adaptation")
	cmd.Flags().Float64Slice("rho-init", nil, "initial step size per problem")
	return cmd
}

func runSubmit(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	server, _ := flags.GetString("server")
	server = strings.TrimRight(server, "/")
	timeout, _ := flags.GetDuration("timeout")

	ctx := cmd.Context()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var run storage.Run
	if id, _ := flags.GetString("run"); id != "" {
		if err := cluster.GetJSON(ctx, server+"/runs/"+id, &run); err != nil {
			return fmt.Errorf("failed to fetch run: %w", err)
		}
		return printRun(cmd, run)
	}

	path, _ := flags.GetString("problems")
	if path == "" {
		return fmt.Errorf("either --problems or --run is required")
	}
	set, err := problem.LoadSet(path)
	if err != nil {
		return err
	}

	req := RunRequest{Problems: set.Problems}
	req.Iterations, _ = flags.GetInt("iterations")
	req.Mode, _ = flags.GetString("mode")
	if flags.Changed("spectral") {
		spectral, _ := flags.GetBool("spectral")
		req.Spectral = &spectral
	}
	if flags.Changed("rho-init") {
		req.RhoInit, _ = flags.GetFloat64Slice("rho-init")
	}

	url := server + "/runs"
	if wait, _ := flags.GetBool("wait"); wait {
		url += "?wait=true"
	}
	if err := cluster.PostJSON(ctx, url, req, &run); err != nil {
		return fmt.Errorf("failed to submit run: %w", err)
	}
	if err := printRun(cmd, run); err != nil {
		return err
	}
	if run.State == storage.StateFailed {
		return fmt.Errorf("run %s failed: %s", run.ID, run.Error)
	}
	return nil
}

func printRun(cmd *cobra.Command, run storage.Run) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(run)
}

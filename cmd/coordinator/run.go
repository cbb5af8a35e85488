package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dreamware/consensus/internal/config"
	"github.com/dreamware/consensus/internal/coordinator"
	"github.com/dreamware/consensus/internal/logging"
	"github.com/dreamware/consensus/internal/problem"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Solve a problem set with in-process workers",
		Long: `Run builds one worker per problem in the set, runs consensus ADMM for
the configured number of rounds and prints the final averages as JSON.`,
		Args: cobra.NoArgs,
		RunE: runRun,
	}
	cmd.Flags().StringP("problems", "p", "", "problem set file (YAML or JSON)")
	_ = cmd.MarkFlagRequired("problems")
	consensusFlags(cmd.Flags())
	return cmd
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	path, _ := cmd.Flags().GetString("problems")
	set, err := problem.LoadSet(path)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := solveSet(ctx, set, cfg, log)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// solveSet runs set to completion with in-process workers.
func solveSet(ctx context.Context, set *problem.SetSpec, cfg *config.Config, log *logging.Logger) (*coordinator.Result, error) {
	problems, err := set.Build()
	if err != nil {
		return nil, err
	}
	opts, err := cfg.CoordinatorOptions(log)
	if err != nil {
		return nil, err
	}

	log.Info("consensus run starting",
		"problems", len(problems),
		"mode", opts.Mode.String(),
		"iterations", opts.MaxIterations,
		"spectral", opts.Spectral)

	res, err := coordinator.Run(ctx, problems, opts)
	if err != nil {
		log.Error("consensus run failed", "error", err)
		return nil, fmt.Errorf("consensus run failed: %w", err)
	}

	log.Info("consensus run finished", "rounds", res.Rounds, "elapsed", res.Elapsed)
	return res, nil
}

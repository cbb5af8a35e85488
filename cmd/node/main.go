// Package main implements the consensus node, a remote worker that solves one
// sub-problem of a problem set and takes part in a consensus run driven by
// the coordinator hub.
//
// The node is a worker in the consensus system, responsible for:
//   - Building its sub-problem from a shared problem set file
//   - Joining the coordinator hub over a websocket
//   - Solving its proximal step every round and reporting the result
//   - Keeping its duals and step size (pull mode) or echoing them (push mode)
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│                Node                     │
//	├─────────────────────────────────────────┤
//	│  Startup:                               │
//	│    problem set  - Find --name           │
//	│    worker.New   - Local state           │
//	│    join         - Dial hub with retry   │
//	├─────────────────────────────────────────┤
//	│  Round loop (worker.Run):               │
//	│    solve → report → receive average     │
//	└─────────────────────────────────────────┘
//
// Configuration:
//   - --hub: Hub URL (default: "ws://localhost:8081/worker")
//   - --problems: Problem set file (required)
//   - --name: Problem to solve from the set (required)
//   - --config and CONSENSUS_* variables, as for the coordinator
//
// Example usage:
//
//	# Start a hub waiting for two workers
//	coordinator hub --workers 2 --iterations 200
//
//	# Start one node per problem
//	node --problems set.yaml --name left
//	node --problems set.yaml --name right
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dreamware/consensus/internal/cluster"
	"github.com/dreamware/consensus/internal/config"
	"github.com/dreamware/consensus/internal/logging"
	"github.com/dreamware/consensus/internal/problem"
	"github.com/dreamware/consensus/internal/stepsize"
	"github.com/dreamware/consensus/internal/worker"
)

// Join retry schedule. A node may start before its hub is listening.
var (
	joinAttempts = 10
	joinInterval = 400 * time.Millisecond
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "node",
		Short:        "Remote consensus worker",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         runNode,
	}
	fs := cmd.Flags()
	fs.StringP("config", "c", "", "config file (YAML)")
	fs.String("hub", "ws://localhost:8081/worker", "coordinator hub URL")
	fs.StringP("problems", "p", "", "problem set file (YAML or JSON)")
	fs.StringP("name", "n", "", "name of the problem this node solves")
	fs.Float64("rho", 0, "initial step size")
	fs.String("mode", "", "dual ownership: pull or push (must match the hub)")
	fs.Bool("spectral", false, "enable spectral step size adaptation")
	fs.Int("adapt-every", 0, "adaptation period")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("log-dir", "", "directory for consensus.log (default stderr)")
	_ = cmd.MarkFlagRequired("problems")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"rho":         "consensus.default_rho",
	"mode":        "consensus.mode",
	"spectral":    "consensus.spectral",
	"adapt-every": "consensus.adapt_every",
	"log-level":   "logging.level",
	"log-dir":     "logging.dir",
}

func runNode(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var log *logging.Logger
	if cfg.Logging.Dir == "" {
		log = logging.NewLoggerWithWriter(cmd.ErrOrStderr(), cfg.Logging.Level)
	} else if log, err = logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level); err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	fs := cmd.Flags()
	name, _ := fs.GetString("name")
	path, _ := fs.GetString("problems")
	hub, _ := fs.GetString("hub")
	log = log.With("node", name)

	w, err := newWorker(path, name, cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := join(ctx, hub, cluster.Hello{Name: name, Variables: w.Variables()}, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Info("joined hub", "hub", hub, "variables", len(w.Variables()))
	if err := w.Run(ctx, conn); err != nil {
		log.Error("worker stopped", "error", err)
		return err
	}
	log.Info("run finished")
	return nil
}

// newWorker builds the worker for the problem called name in the set at path.
func newWorker(path, name string, cfg *config.Config, log *logging.Logger) (*worker.Worker, error) {
	set, err := problem.LoadSet(path)
	if err != nil {
		return nil, err
	}
	spec, ok := set.Find(name)
	if !ok {
		return nil, fmt.Errorf("problem %q not found in %s", name, path)
	}
	p, err := spec.Build()
	if err != nil {
		return nil, err
	}
	mode, err := cfg.Consensus.DualOwnership()
	if err != nil {
		return nil, err
	}
	return worker.New(p, worker.Config{
		Rho:        cfg.Consensus.DefaultRho,
		Ownership:  mode,
		Solve:      cfg.SolveOptions(),
		Spectral:   cfg.Consensus.Spectral,
		AdaptEvery: cfg.Consensus.AdaptEvery,
		StepSize:   stepsize.Params{Eps: cfg.Consensus.Eps, C: cfg.Consensus.C},
		Logger:     log,
	})
}

// join dials the hub, retrying while it is not yet reachable.
func join(ctx context.Context, url string, hello cluster.Hello, log *logging.Logger) (cluster.WorkerConn, error) {
	var lastErr error
	for i := 0; i < joinAttempts; i++ {
		conn, err := cluster.DialWorker(ctx, url, hello)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		log.Warn("join retry", "attempt", i+1, "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(joinInterval):
		}
	}
	return nil, fmt.Errorf("failed to join hub after %d attempts: %w", joinAttempts, lastErr)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := config.New()
	path, _ := cmd.Flags().GetString("config")
	if err := config.ReadFile(v, path); err != nil {
		return nil, err
	}
	if err := bindFlags(v, cmd.Flags()); err != nil {
		return nil, err
	}
	return config.Load(v)
}

// bindFlags binds only changed flags so unset flags never shadow the file
// or environment.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.Visit(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || err != nil {
			return
		}
		err = v.BindPFlag(key, f)
	})
	if err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}
	return nil
}

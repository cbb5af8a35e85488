// Command coordinator drives consensus ADMM runs.
//
// It solves a problem set with in-process workers (run), serves runs over
// HTTP (serve), waits for remote workers on a websocket hub (hub), or
// submits a problem set to a running service (submit).
//
// Configuration comes from an optional YAML file (--config), CONSENSUS_*
// environment variables and command-line flags, in increasing precedence.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dreamware/consensus/internal/config"
	"github.com/dreamware/consensus/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "coordinator",
		Short: "Distributed consensus ADMM coordinator",
		Long: `Coordinator splits a convex problem into sub-problems that share
variables, runs one worker per sub-problem and drives them to agreement
with consensus ADMM.`,
		SilenceUsage: true,
	}

	// Global flags
	root.PersistentFlags().StringP("config", "c", "", "config file (YAML)")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-dir", "", "directory for consensus.log (default stderr)")

	root.AddCommand(newRunCmd(), newServeCmd(), newHubCmd(), newSubmitCmd())
	return root
}

// consensusFlags registers the flags that override consensus.* settings.
func consensusFlags(fs *pflag.FlagSet) {
	fs.Int("iterations", 0, "number of consensus rounds")
	fs.Float64("rho", 0, "initial step size for every worker")
	fs.Float64Slice("rho-init", nil, "initial step size per problem")
	fs.String("mode", "", "dual ownership: pull or push")
	fs.Bool("spectral", false, "enable spectral step size adaptation")
	fs.Int("adapt-every", 0, "adaptation period")
	fs.Duration("round-timeout", 0, "abort a round that takes longer (0 disables)")
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"log-level":     "logging.level",
	"log-dir":       "logging.dir",
	"iterations":    "consensus.max_iterations",
	"rho":           "consensus.default_rho",
	"mode":          "consensus.mode",
	"spectral":      "consensus.spectral",
	"adapt-every":   "consensus.adapt_every",
	"round-timeout": "consensus.round_timeout",
	"addr":          "server.addr",
	"hub-addr":      "server.hub_addr",
	"workers":       "server.workers",
	"join-timeout":  "server.join_timeout",
}

// loadConfig merges the config file, environment and the flags the user
// actually set on cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := config.New()
	path, _ := cmd.Flags().GetString("config")
	if err := config.ReadFile(v, path); err != nil {
		return nil, err
	}
	if err := bindFlags(v, cmd.Flags()); err != nil {
		return nil, err
	}
	// viper reads float slices back as their string form, so set them directly.
	if f := cmd.Flags().Lookup("rho-init"); f != nil && f.Changed {
		rhos, err := cmd.Flags().GetFloat64Slice("rho-init")
		if err != nil {
			return nil, err
		}
		v.Set("consensus.rho_init", rhos)
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

// newLogger logs to cfg.Logging.Dir, or to the command's stderr.
func newLogger(cmd *cobra.Command, cfg *config.Config) (*logging.Logger, error) {
	if cfg.Logging.Dir == "" {
		return logging.NewLoggerWithWriter(cmd.ErrOrStderr(), cfg.Logging.Level), nil
	}
	log, err := logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return log, nil
}

// Package config loads the consensus driver's configuration from a YAML file,
// CONSENSUS_* environment variables and command-line flags through viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dreamware/consensus/internal/coordinator"
	"github.com/dreamware/consensus/internal/logging"
	"github.com/dreamware/consensus/internal/problem"
	"github.com/dreamware/consensus/internal/stepsize"
	"github.com/dreamware/consensus/internal/worker"
)

// EnvPrefix prefixes every environment override, e.g.
// CONSENSUS_CONSENSUS_MAX_ITERATIONS=200.
const EnvPrefix = "CONSENSUS"

// Config holds all configuration
type Config struct {
	Consensus ConsensusConfig `mapstructure:"consensus"`
	Solver    SolverConfig    `mapstructure:"solver"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
}

// ConsensusConfig controls the ADMM round loop
type ConsensusConfig struct {
	// MaxIterations is the fixed number of rounds
	MaxIterations int `mapstructure:"max_iterations"`
	// DefaultRho is every worker's initial step size unless RhoInit is set
	DefaultRho float64 `mapstructure:"default_rho"`
	// RhoInit optionally gives one initial step size per problem
	RhoInit []float64 `mapstructure:"rho_init"`
	// Mode is "pull" (workers own duals) or "push" (coordinator owns duals)
	Mode string `mapstructure:"mode"`
	// Spectral enables spectral step size adaptation in pull mode
	Spectral bool `mapstructure:"spectral"`
	// AdaptEvery is the adaptation period; adaptation runs when round % AdaptEvery == 1
	AdaptEvery int `mapstructure:"adapt_every"`
	// Eps is the correlation safeguard threshold
	Eps float64 `mapstructure:"eps"`
	// C is the trust region convergence constant
	C float64 `mapstructure:"c"`
	// RoundTimeout aborts a round whose workers have not all reported (0 disables)
	RoundTimeout time.Duration `mapstructure:"round_timeout"`
}

// SolverConfig is passed through to every local solve
type SolverConfig struct {
	MaxIters  int            `mapstructure:"max_iters"`
	Tolerance float64        `mapstructure:"tolerance"`
	Verbose   bool           `mapstructure:"verbose"`
	Extra     map[string]any `mapstructure:"extra"`
}

// LoggingConfig controls structured logging
type LoggingConfig struct {
	// Level is one of debug, info, warn, error
	Level string `mapstructure:"level"`
	// Dir receives consensus.log; empty logs to stderr
	Dir string `mapstructure:"dir"`
}

// ServerConfig controls the HTTP service and the websocket hub
type ServerConfig struct {
	// Addr is the HTTP service listen address
	Addr string `mapstructure:"addr"`
	// HubAddr is the websocket hub listen address
	HubAddr string `mapstructure:"hub_addr"`
	// Workers is how many remote workers the hub waits for
	Workers int `mapstructure:"workers"`
	// JoinTimeout bounds the wait for remote workers (0 waits forever)
	JoinTimeout time.Duration `mapstructure:"join_timeout"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Consensus: ConsensusConfig{
			MaxIterations: coordinator.DefaultMaxIterations,
			DefaultRho:    coordinator.DefaultRho,
			Mode:          "pull",
			Spectral:      false,
			AdaptEvery:    worker.DefaultAdaptEvery,
			Eps:           stepsize.DefaultEps,
			C:             stepsize.DefaultC,
			RoundTimeout:  0,
		},
		Solver: SolverConfig{},
		Logging: LoggingConfig{
			Level: "info",
		},
		Server: ServerConfig{
			Addr:        ":8080",
			HubAddr:     ":8081",
			Workers:     2,
			JoinTimeout: 5 * time.Minute,
		},
	}
}

// SetDefaults registers default values with v
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	// Consensus defaults
	v.SetDefault("consensus.max_iterations", defaults.Consensus.MaxIterations)
	v.SetDefault("consensus.default_rho", defaults.Consensus.DefaultRho)
	v.SetDefault("consensus.rho_init", []float64{})
	v.SetDefault("consensus.mode", defaults.Consensus.Mode)
	v.SetDefault("consensus.spectral", defaults.Consensus.Spectral)
	v.SetDefault("consensus.adapt_every", defaults.Consensus.AdaptEvery)
	v.SetDefault("consensus.eps", defaults.Consensus.Eps)
	v.SetDefault("consensus.c", defaults.Consensus.C)
	v.SetDefault("consensus.round_timeout", defaults.Consensus.RoundTimeout)

	// Solver defaults
	v.SetDefault("solver.max_iters", defaults.Solver.MaxIters)
	v.SetDefault("solver.tolerance", defaults.Solver.Tolerance)
	v.SetDefault("solver.verbose", defaults.Solver.Verbose)

	// Logging defaults
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.dir", defaults.Logging.Dir)

	// Server defaults
	v.SetDefault("server.addr", defaults.Server.Addr)
	v.SetDefault("server.hub_addr", defaults.Server.HubAddr)
	v.SetDefault("server.workers", defaults.Server.Workers)
	v.SetDefault("server.join_timeout", defaults.Server.JoinTimeout)
}

// New returns a viper instance with defaults registered and environment
// overrides enabled.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ReadFile merges the YAML config file at path into v. An empty path is a
// no-op.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// Load unmarshals and validates the configuration held by v
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// Validate the configuration
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// DualOwnership returns the parsed consensus mode
func (c *ConsensusConfig) DualOwnership() (worker.DualOwnership, error) {
	return worker.ParseDualOwnership(c.Mode)
}

// SolveOptions returns the solver pass-through options
func (c *Config) SolveOptions() problem.Options {
	return problem.Options{
		MaxIters:  c.Solver.MaxIters,
		Tolerance: c.Solver.Tolerance,
		Verbose:   c.Solver.Verbose,
		Extra:     c.Solver.Extra,
	}
}

// CoordinatorOptions builds run options from the configuration
func (c *Config) CoordinatorOptions(log *logging.Logger) (coordinator.Options, error) {
	mode, err := c.Consensus.DualOwnership()
	if err != nil {
		return coordinator.Options{}, err
	}
	return coordinator.Options{
		RhoInit:       c.Consensus.RhoInit,
		DefaultRho:    c.Consensus.DefaultRho,
		MaxIterations: c.Consensus.MaxIterations,
		Mode:          mode,
		Spectral:      c.Consensus.Spectral,
		AdaptEvery:    c.Consensus.AdaptEvery,
		StepSize:      stepsize.Params{Eps: c.Consensus.Eps, C: c.Consensus.C},
		Solve:         c.SolveOptions(),
		RoundTimeout:  c.Consensus.RoundTimeout,
		Logger:        log,
	}, nil
}

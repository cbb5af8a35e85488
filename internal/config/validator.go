package config

import (
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "consensus.max_iterations")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidModes returns the accepted consensus modes
func ValidModes() []string {
	return []string{"pull", "push", "worker-owned", "coordinator-owned"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	add := func(field string, value any, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: msg})
	}

	// Consensus validation
	cc := c.Consensus
	if cc.MaxIterations < 1 {
		add("consensus.max_iterations", cc.MaxIterations, "must be at least 1")
	}
	if cc.DefaultRho <= 0 {
		add("consensus.default_rho", cc.DefaultRho, "must be positive")
	}
	for i, rho := range cc.RhoInit {
		if rho <= 0 {
			add(fmt.Sprintf("consensus.rho_init[%d]", i), rho, "must be positive")
		}
	}
	if _, err := cc.DualOwnership(); err != nil {
		add("consensus.mode", cc.Mode, fmt.Sprintf("must be one of %v", ValidModes()))
	}
	if cc.AdaptEvery < 1 {
		add("consensus.adapt_every", cc.AdaptEvery, "must be at least 1")
	}
	if cc.Eps < 0 || cc.Eps >= 1 {
		add("consensus.eps", cc.Eps, "must be in [0, 1)")
	}
	if cc.C <= 0 {
		add("consensus.c", cc.C, "must be positive")
	}
	if cc.RoundTimeout < 0 {
		add("consensus.round_timeout", cc.RoundTimeout, "must not be negative")
	}

	// Solver validation
	if c.Solver.MaxIters < 0 {
		add("solver.max_iters", c.Solver.MaxIters, "must not be negative")
	}
	if c.Solver.Tolerance < 0 {
		add("solver.tolerance", c.Solver.Tolerance, "must not be negative")
	}

	// Logging validation
	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		add("logging.level", c.Logging.Level, fmt.Sprintf("must be one of %v", ValidLogLevels()))
	}

	// Server validation
	if c.Server.Addr == "" {
		add("server.addr", c.Server.Addr, "must not be empty")
	}
	if c.Server.HubAddr == "" {
		add("server.hub_addr", c.Server.HubAddr, "must not be empty")
	}
	if c.Server.Workers < 1 {
		add("server.workers", c.Server.Workers, "must be at least 1")
	}
	if c.Server.JoinTimeout < 0 {
		add("server.join_timeout", c.Server.JoinTimeout, "must not be negative")
	}

	return errs
}

package lncfg

import (
	"fmt"
	"time"
)

var (
	// MinHealthCheckInterval is the minimum interval we allow between
	// health checks.
	MinHealthCheckInterval = time.Minute

	// MinHealthCheckTimeout is the minimum timeout we allow for health
	// check calls.
	MinHealthCheckTimeout = time.Second

	// MinHealthCheckBackoff is the minimum back off we allow between health
	// check retries.
	MinHealthCheckBackoff = time.Second
)

// HealthCheckConfig contains the configuration for the control port health
// check.
type HealthCheckConfig struct {
	Interval time.Duration `long:"interval" description:"How often to check that the control port answers, set to 0 to disable"`
	Attempts int           `long:"attempts" description:"The number of calls we will make for the check before failing. Set this value to 0 to disable a check."`
	Timeout  time.Duration `long:"timeout" description:"The amount of time we allow the health check to take before failing due to timeout"`
	Backoff  time.Duration `long:"backoff" description:"The amount of time we should backoff between failed health checks"`
}

// DefaultHealthCheck returns the default health check configuration.
func DefaultHealthCheck() HealthCheckConfig {
	return HealthCheckConfig{
		Interval: time.Minute,
		Attempts: 3,
		Timeout:  10 * time.Second,
		Backoff:  30 * time.Second,
	}
}

// Enabled returns whether the health check is switched on.
func (h *HealthCheckConfig) Enabled() bool {
	return h.Interval != 0 && h.Attempts != 0
}

// Validate checks the values configured for the health check. A disabled
// check is not validated further.
func (h *HealthCheckConfig) Validate() error {
	if !h.Enabled() {
		return nil
	}

	if h.Attempts < 0 {
		return fmt.Errorf("healthcheck.attempts must not be negative, "+
			"got %d", h.Attempts)
	}

	if h.Backoff < MinHealthCheckBackoff {
		return fmt.Errorf("healthcheck.backoff must be at least %v",
			MinHealthCheckBackoff)
	}

	if h.Timeout < MinHealthCheckTimeout {
		return fmt.Errorf("healthcheck.timeout must be at least %v",
			MinHealthCheckTimeout)
	}

	if h.Interval < MinHealthCheckInterval {
		return fmt.Errorf("healthcheck.interval must be at least %v",
			MinHealthCheckInterval)
	}

	return nil
}

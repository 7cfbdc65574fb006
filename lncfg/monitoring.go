package lncfg

import (
	"fmt"
	"net"
)

// Prometheus configures the Prometheus exporter.
type Prometheus struct {
	// Listen is the address the metrics endpoint binds to. The exporter
	// is disabled when empty.
	Listen string `long:"listen" description:"The interface and port to serve Prometheus metrics on, e.g. localhost:8989. Disabled if empty."`
}

// DefaultPrometheus is the default configuration for the Prometheus metrics
// exporter. The exporter is off by default.
func DefaultPrometheus() Prometheus {
	return Prometheus{}
}

// Enabled returns whether or not Prometheus monitoring is enabled.
func (p *Prometheus) Enabled() bool {
	return p.Listen != ""
}

// Validate checks the exporter options.
func (p *Prometheus) Validate() error {
	if !p.Enabled() {
		return nil
	}

	if _, _, err := net.SplitHostPort(p.Listen); err != nil {
		return fmt.Errorf("invalid prometheus.listen %q: %w", p.Listen,
			err)
	}

	return nil
}

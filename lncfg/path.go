package lncfg

import (
	"fmt"
	"time"

	"github.com/lightningnetwork/torpath/circuit"
	"github.com/lightningnetwork/torpath/pathsel"
)

// Path holds the path selection options.
type Path struct {
	Strategy     string        `long:"strategy" description:"The path selection strategy" choice:"weighted" choice:"uniform"`
	Hops         int           `long:"hops" description:"The number of hops of the circuit, 0 selects the strategy default (3 for weighted, 4 for uniform)"`
	BuildTimeout time.Duration `long:"buildtimeout" description:"How long to wait for the router to report a circuit built before selecting a new path"`
}

// DefaultPath returns the default path selection options.
func DefaultPath() Path {
	return Path{
		Strategy:     pathsel.StrategyWeighted,
		BuildTimeout: circuit.DefaultBuildTimeout,
	}
}

// Validate checks the path selection options.
func (p *Path) Validate() error {
	switch p.Strategy {
	case pathsel.StrategyWeighted, pathsel.StrategyUniform:
	default:
		return fmt.Errorf("unknown path.strategy %q", p.Strategy)
	}

	if p.Hops != 0 && p.Hops < pathsel.MinHops {
		return fmt.Errorf("path.hops must be 0 or at least %d, got %d",
			pathsel.MinHops, p.Hops)
	}

	if p.BuildTimeout <= 0 {
		return fmt.Errorf("path.buildtimeout must be positive, got %v",
			p.BuildTimeout)
	}

	return nil
}

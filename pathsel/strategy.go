package pathsel

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/lightningnetwork/torpath/relay"
	"github.com/lightningnetwork/torpath/weights"
)

const (
	// StrategyWeighted selects a bandwidth weighted path under subnet and
	// family constraints. It is the default.
	StrategyWeighted = "weighted"

	// StrategyUniform selects hops uniformly at random with only the basic
	// flag constraints.
	StrategyUniform = "uniform"

	// DefaultWeightedHops is the default length of a weighted path.
	DefaultWeightedHops = 3

	// DefaultUniformHops is the default length of a uniform path.
	DefaultUniformHops = 4

	// MinHops is the shortest path either strategy can produce.
	MinHops = 3
)

// Strategy selects a complete path from a pool of relays.
type Strategy interface {
	// Name returns the configuration name of the strategy.
	Name() string

	// SelectPath selects a path from the given relays. The slice is not
	// modified. On failure an error wrapping ErrNoPath is returned and the
	// caller should retry with a fresh copy of its pool.
	SelectPath(nodes []relay.Node) (*Path, error)
}

// Config holds everything needed to construct a Strategy.
type Config struct {
	// Strategy is the name of the strategy, StrategyWeighted if empty.
	Strategy string

	// Hops is the path length. Zero selects the strategy default.
	Hops int

	// Weights is the consensus bandwidth weight table. Only used by the
	// weighted strategy.
	Weights *weights.Table

	// Families is the family index. Only used by the weighted strategy.
	Families *relay.FamilyIndex

	// Rand is the randomness source. A time seeded PCG is used if nil.
	Rand Rand
}

// New returns the strategy named in the config.
func New(cfg Config) (Strategy, error) {
	rng := cfg.Rand
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	}

	if cfg.Hops != 0 && cfg.Hops < MinHops {
		return nil, fmt.Errorf("path length %d below minimum of %d",
			cfg.Hops, MinHops)
	}

	switch cfg.Strategy {
	case "", StrategyWeighted:
		return NewWeightedStrategy(&WeightedConfig{
			Weights:  cfg.Weights,
			Families: cfg.Families,
			Rand:     rng,
			Hops:     cfg.Hops,
		}), nil

	case StrategyUniform:
		return NewUniformStrategy(rng, cfg.Hops), nil

	default:
		return nil, fmt.Errorf("unknown path strategy %q", cfg.Strategy)
	}
}

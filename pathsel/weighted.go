package pathsel

import (
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/torpath/relay"
	"github.com/lightningnetwork/torpath/weights"
)

// WeightedConfig configures a WeightedStrategy.
type WeightedConfig struct {
	// Weights is the bandwidth weight table. Missing keys use the default
	// weight.
	Weights *weights.Table

	// Families is used to keep relays of the same family out of one path.
	Families *relay.FamilyIndex

	// Rand is the randomness source.
	Rand Rand

	// Hops is the path length, DefaultWeightedHops if zero.
	Hops int
}

// WeightedStrategy selects paths the way tor clients do: the exit first,
// then the guard, then the middle hops, each drawn by bandwidth times the
// consensus coefficient for its position. No two hops may share a /16 or a
// declared family member.
type WeightedStrategy struct {
	cfg *WeightedConfig
}

// A compile time check to ensure WeightedStrategy satisfies Strategy.
var _ Strategy = (*WeightedStrategy)(nil)

// NewWeightedStrategy creates a new weighted strategy.
func NewWeightedStrategy(cfg *WeightedConfig) *WeightedStrategy {
	if cfg.Hops == 0 {
		cfg.Hops = DefaultWeightedHops
	}

	return &WeightedStrategy{cfg: cfg}
}

// Name returns the configuration name of the strategy.
func (w *WeightedStrategy) Name() string {
	return StrategyWeighted
}

// sourceOf returns the weight source letter for a relay's flag combination.
func sourceOf(n relay.Node) weights.Source {
	switch {
	case n.IsDual():
		return weights.SourceDual
	case n.Flags.Has(relay.FlagGuard):
		return weights.SourceGuard
	case n.Flags.Has(relay.FlagExit):
		return weights.SourceExit
	default:
		return weights.SourceMiddle
	}
}

// weightFor returns the weight function for the given position.
func (w *WeightedStrategy) weightFor(pos weights.Position,
	src func(relay.Node) weights.Source) WeightFunc[relay.Node] {

	return func(n relay.Node) float64 {
		coeff := w.cfg.Weights.Lookup(pos, src(n))

		return float64(n.EffectiveBandwidth()) * float64(coeff)
	}
}

// pick samples from the candidates and removes the winner from the pool.
func (w *WeightedStrategy) pick(pool *Pool, role Role,
	candidates []relay.Node, weight WeightFunc[relay.Node]) fn.Option[relay.Node] {

	choice := Sample(w.cfg.Rand, candidates, weight)
	choice.WhenSome(func(n relay.Node) {
		pool.Remove(n.Fingerprint)
		log.Debugf("Selected %v as %v from %d candidates", n, role,
			len(candidates))
	})
	if choice.IsNone() {
		log.Debugf("No %v candidate among %d relays", role, pool.Len())
	}

	return choice
}

// SelectExit picks an exit: the relay must carry Exit and not BadExit. Dual
// flagged relays are weighted with Wed, the others with Wee.
func (w *WeightedStrategy) SelectExit(pool *Pool) fn.Option[relay.Node] {
	candidates := pool.Filter(func(n relay.Node) bool {
		return n.Flags.Has(relay.FlagExit) &&
			!n.Flags.Has(relay.FlagBadExit)
	})

	weight := w.weightFor(weights.PositionExit, func(n relay.Node) weights.Source {
		if n.Flags.Has(relay.FlagGuard) {
			return weights.SourceDual
		}

		return weights.SourceExit
	})

	return w.pick(pool, RoleExit, candidates, weight)
}

// SelectGuard picks a guard that carries Guard, is outside the exit's /16
// and shares no family member with the exit. Dual flagged relays are
// weighted with Wgd, the others with Wgg.
func (w *WeightedStrategy) SelectGuard(pool *Pool,
	exit relay.Node) fn.Option[relay.Node] {

	exitFamily := w.cfg.Families.Family(exit.Fingerprint)
	candidates := pool.Filter(func(n relay.Node) bool {
		return n.Flags.Has(relay.FlagGuard) &&
			!relay.SameSubnet(n.Address, exit.Address) &&
			w.cfg.Families.Disjoint(n.Fingerprint, exitFamily)
	})

	weight := w.weightFor(weights.PositionGuard, func(n relay.Node) weights.Source {
		if n.Flags.Has(relay.FlagExit) {
			return weights.SourceDual
		}

		return weights.SourceGuard
	})

	return w.pick(pool, RoleGuard, candidates, weight)
}

// SelectMiddle picks a middle hop that is outside the /16 of every already
// selected hop and shares no family member with any of them. The weight is
// one of Wmd, Wmg, Wme or Wmm depending on the relay's flags.
func (w *WeightedStrategy) SelectMiddle(pool *Pool,
	selected ...relay.Node) fn.Option[relay.Node] {

	families := make([]fn.Set[string], len(selected))
	for i, s := range selected {
		families[i] = w.cfg.Families.Family(s.Fingerprint)
	}

	candidates := pool.Filter(func(n relay.Node) bool {
		for _, s := range selected {
			if relay.SameSubnet(n.Address, s.Address) {
				return false
			}
		}

		return w.cfg.Families.Disjoint(n.Fingerprint, families...)
	})

	weight := w.weightFor(weights.PositionMiddle, sourceOf)

	return w.pick(pool, RoleMiddle, candidates, weight)
}

// SelectPath selects exit, guard and then the middle hops from nodes. The
// general eligibility filter is the caller's job, see relay.FilterEligible.
func (w *WeightedStrategy) SelectPath(nodes []relay.Node) (*Path, error) {
	pool := NewPool(nodes)

	exit, err := w.SelectExit(pool).UnwrapOrErr(roleError(RoleExit))
	if err != nil {
		return nil, err
	}

	guard, err := w.SelectGuard(pool, exit).UnwrapOrErr(
		roleError(RoleGuard),
	)
	if err != nil {
		return nil, err
	}

	selected := []relay.Node{exit, guard}
	middles := make([]relay.Node, 0, w.cfg.Hops-2)
	for len(middles) < w.cfg.Hops-2 {
		middle, err := w.SelectMiddle(pool, selected...).UnwrapOrErr(
			roleError(RoleMiddle),
		)
		if err != nil {
			return nil, err
		}

		middles = append(middles, middle)
		selected = append(selected, middle)
	}

	return newPath(guard, middles, exit), nil
}

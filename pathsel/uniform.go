package pathsel

import (
	"github.com/lightningnetwork/torpath/relay"
)

// drawsPerNode bounds the number of random draws the uniform strategy makes
// relative to the pool size before giving up.
const drawsPerNode = 64

// UniformStrategy selects relays uniformly at random without bandwidth
// weighting. The first Guard flagged draw becomes the guard, the first Exit
// flagged draw the exit, and any other acceptable draw fills the next middle
// slot. Only Valid, Stable, Running relays that are not BadExit are used.
type UniformStrategy struct {
	rng  Rand
	hops int
}

// A compile time check to ensure UniformStrategy satisfies Strategy.
var _ Strategy = (*UniformStrategy)(nil)

// NewUniformStrategy creates a uniform strategy producing paths of the given
// length, DefaultUniformHops if zero.
func NewUniformStrategy(rng Rand, hops int) *UniformStrategy {
	if hops == 0 {
		hops = DefaultUniformHops
	}

	return &UniformStrategy{
		rng:  rng,
		hops: hops,
	}
}

// Name returns the configuration name of the strategy.
func (u *UniformStrategy) Name() string {
	return StrategyUniform
}

// acceptable reports whether a relay may be used by the uniform strategy.
func acceptable(n relay.Node) bool {
	return n.Flags.HasAll(relay.FlagValid, relay.FlagStable,
		relay.FlagRunning) && !n.Flags.Has(relay.FlagBadExit)
}

// SelectPath draws relays until guard, exit and all middle slots are filled.
func (u *UniformStrategy) SelectPath(nodes []relay.Node) (*Path, error) {
	if len(nodes) == 0 {
		return nil, roleError(RoleGuard)
	}

	var (
		guard, exit *relay.Node
		middles     []relay.Node
		used        = make(map[string]struct{}, u.hops)
		numMiddles  = u.hops - 2
	)

	for draws := 0; draws < drawsPerNode*len(nodes); draws++ {
		n := nodes[u.rng.IntN(len(nodes))]
		if _, ok := used[n.Fingerprint]; ok || !acceptable(n) {
			continue
		}

		switch {
		case guard == nil && n.Flags.Has(relay.FlagGuard):
			guard = &n

		case exit == nil && n.Flags.Has(relay.FlagExit):
			exit = &n

		case len(middles) < numMiddles:
			middles = append(middles, n)

		default:
			continue
		}
		used[n.Fingerprint] = struct{}{}

		if guard != nil && exit != nil && len(middles) == numMiddles {
			return newPath(*guard, middles, *exit), nil
		}
	}

	// Report the first role that is still missing.
	switch {
	case guard == nil:
		return nil, roleError(RoleGuard)
	case exit == nil:
		return nil, roleError(RoleExit)
	default:
		return nil, roleError(RoleMiddle)
	}
}

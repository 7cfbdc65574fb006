package pathsel

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/torpath/relay"
	"github.com/lightningnetwork/torpath/weights"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var baseFlags = relay.NewFlagSet(
	relay.FlagStable, relay.FlagRunning, relay.FlagValid,
)

// testNode creates a relay with a unique fingerprint in its own /16.
func testNode(i int, flags ...relay.Flag) relay.Node {
	return relay.Node{
		Fingerprint: fmt.Sprintf("%040X", i),
		Nickname:    fmt.Sprintf("relay%d", i),
		Address:     fmt.Sprintf("10.%d.0.1", i),
		Flags:       relay.NewFlagSet(flags...),
		Bandwidth:   100,
	}
}

// newTestStrategy returns a weighted strategy with the given families and
// an empty weight table.
func newTestStrategy(hops int, families *relay.FamilyIndex) *WeightedStrategy {
	return NewWeightedStrategy(&WeightedConfig{
		Weights:  weights.NewTable(nil),
		Families: families,
		Rand:     newTestRand(),
		Hops:     hops,
	})
}

// TestSourceOf checks the weight source letter of each flag combination.
func TestSourceOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		flags string
		src   weights.Source
	}{
		{flags: "Fast Guard Exit Valid", src: weights.SourceDual},
		{flags: "Fast Guard Valid", src: weights.SourceGuard},
		{flags: "Exit Valid", src: weights.SourceExit},
		{flags: "Fast Running Valid", src: weights.SourceMiddle},
	}
	for _, test := range tests {
		n := relay.Node{Flags: relay.ParseFlags(test.flags)}
		require.Equal(t, test.src, sourceOf(n), test.flags)
		require.Equal(t, test.src == weights.SourceDual, n.IsDual(),
			test.flags)
	}
}

// TestSelectPathRoles is the ten relay scenario: exactly one Exit and one
// Guard flagged relay, all others plain. They must land in their roles and
// the middle must be one of the plain relays.
func TestSelectPathRoles(t *testing.T) {
	t.Parallel()

	nodes := []relay.Node{
		testNode(0, relay.FlagExit),
		testNode(1, relay.FlagGuard),
	}
	for i := 2; i < 10; i++ {
		nodes = append(nodes, testNode(i))
	}

	s := newTestStrategy(0, relay.NewFamilyIndex(nil))
	for i := 0; i < 50; i++ {
		path, err := s.SelectPath(nodes)
		require.NoError(t, err)
		require.Equal(t, 3, path.Len())

		require.Equal(t, nodes[0].Fingerprint, path.Exit().Fingerprint)
		require.Equal(t, nodes[1].Fingerprint, path.Guard().Fingerprint)

		middle := path.Middles()[0]
		require.NotEqual(t, nodes[0].Fingerprint, middle.Fingerprint)
		require.NotEqual(t, nodes[1].Fingerprint, middle.Fingerprint)
	}

	// The input slice must be left untouched.
	require.Len(t, nodes, 10)
}

// TestSelectGuardSameSubnet covers the case where the only guard shares the
// exit's /16: no guard can be found and the whole path fails.
func TestSelectGuardSameSubnet(t *testing.T) {
	t.Parallel()

	exit := testNode(0, relay.FlagExit)
	guard := testNode(1, relay.FlagGuard)
	guard.Address = "10.0.99.7"

	nodes := []relay.Node{exit, guard, testNode(2), testNode(3)}
	s := newTestStrategy(0, nil)

	pool := NewPool(nodes)
	require.Equal(t, exit, s.SelectExit(pool).UnwrapOrFail(t))
	require.True(t, s.SelectGuard(pool, exit).IsNone())

	_, err := s.SelectPath(nodes)
	require.ErrorIs(t, err, ErrNoPath)
	require.ErrorIs(t, err, ErrNoCandidate)
	require.Contains(t, err.Error(), RoleGuard.String())
}

// TestSelectExitFilters asserts BadExit and non exits are never chosen and
// that an empty pool yields None.
func TestSelectExitFilters(t *testing.T) {
	t.Parallel()

	s := newTestStrategy(0, nil)

	pool := NewPool([]relay.Node{
		testNode(0, relay.FlagExit, relay.FlagBadExit),
		testNode(1, relay.FlagGuard),
		testNode(2),
	})
	require.True(t, s.SelectExit(pool).IsNone())
	require.Equal(t, 3, pool.Len())

	require.True(t, s.SelectExit(NewPool(nil)).IsNone())

	_, err := s.SelectPath(pool.Nodes())
	require.ErrorIs(t, err, ErrNoPath)
	require.Contains(t, err.Error(), RoleExit.String())
}

// TestSelectRemovesFromPool checks each role removes its pick so the pool
// shrinks by one per hop.
func TestSelectRemovesFromPool(t *testing.T) {
	t.Parallel()

	s := newTestStrategy(0, nil)
	pool := NewPool([]relay.Node{
		testNode(0, relay.FlagExit),
		testNode(1, relay.FlagGuard),
		testNode(2),
	})

	exit := s.SelectExit(pool).UnwrapOrFail(t)
	require.Equal(t, 2, pool.Len())

	guard := s.SelectGuard(pool, exit).UnwrapOrFail(t)
	require.Equal(t, 1, pool.Len())

	middle := s.SelectMiddle(pool, exit, guard).UnwrapOrFail(t)
	require.Equal(t, 0, pool.Len())
	require.Equal(t, "relay2", middle.Nickname)

	require.False(t, pool.Remove(middle.Fingerprint))
}

// TestSelectMiddleFamily checks that middles sharing a family member with the
// exit or guard are excluded.
func TestSelectMiddleFamily(t *testing.T) {
	t.Parallel()

	exit := testNode(0, relay.FlagExit)
	guard := testNode(1, relay.FlagGuard)
	sibling := testNode(2)
	outsider := testNode(3)

	families := relay.NewFamilyIndex([]relay.FamilyDeclaration{
		{
			Fingerprint: guard.Fingerprint,
			Members:     []string{"$" + sibling.Fingerprint},
		},
		{
			Fingerprint: sibling.Fingerprint,
			Members:     []string{"$" + sibling.Fingerprint},
		},
	})
	s := newTestStrategy(0, families)

	for i := 0; i < 20; i++ {
		pool := NewPool([]relay.Node{sibling, outsider})
		middle := s.SelectMiddle(pool, exit, guard).UnwrapOrFail(t)
		require.Equal(t, outsider.Fingerprint, middle.Fingerprint)
	}

	pool := NewPool([]relay.Node{sibling})
	require.True(t, s.SelectMiddle(pool, exit, guard).IsNone())
}

// TestSelectWeightsByPosition checks the coefficient keys used for each role
// by zeroing every key but one.
func TestSelectWeightsByPosition(t *testing.T) {
	t.Parallel()

	dual := testNode(0, relay.FlagExit, relay.FlagGuard)
	exitOnly := testNode(1, relay.FlagExit)
	guardOnly := testNode(2, relay.FlagGuard)
	plain := testNode(3)

	tests := []struct {
		name     string
		weights  map[string]int64
		selectFn func(*WeightedStrategy, *Pool) fn.Option[relay.Node]
		expected relay.Node
	}{
		{
			name:    "exit prefers dual via Wed",
			weights: map[string]int64{"Wed": 1, "Wee": 0},
			selectFn: func(s *WeightedStrategy,
				p *Pool) fn.Option[relay.Node] {

				return s.SelectExit(p)
			},
			expected: dual,
		},
		{
			name:    "exit prefers exit only via Wee",
			weights: map[string]int64{"Wed": 0, "Wee": 1},
			selectFn: func(s *WeightedStrategy,
				p *Pool) fn.Option[relay.Node] {

				return s.SelectExit(p)
			},
			expected: exitOnly,
		},
		{
			name:    "guard prefers guard only via Wgg",
			weights: map[string]int64{"Wgd": 0, "Wgg": 1},
			selectFn: func(s *WeightedStrategy,
				p *Pool) fn.Option[relay.Node] {

				return s.SelectGuard(p, testNode(9, relay.FlagExit))
			},
			expected: guardOnly,
		},
		{
			name: "middle prefers plain via Wmm",
			weights: map[string]int64{
				"Wmd": 0, "Wme": 0, "Wmg": 0, "Wmm": 1,
			},
			selectFn: func(s *WeightedStrategy,
				p *Pool) fn.Option[relay.Node] {

				return s.SelectMiddle(p, testNode(9))
			},
			expected: plain,
		},
		{
			name: "middle prefers guard only via Wmg",
			weights: map[string]int64{
				"Wmd": 0, "Wme": 0, "Wmg": 1, "Wmm": 0,
			},
			selectFn: func(s *WeightedStrategy,
				p *Pool) fn.Option[relay.Node] {

				return s.SelectMiddle(p, testNode(9))
			},
			expected: guardOnly,
		},
	}

	for _, test := range tests {
		s := NewWeightedStrategy(&WeightedConfig{
			Weights: weights.NewTable(test.weights),
			Rand:    newTestRand(),
		})

		for i := 0; i < 20; i++ {
			pool := NewPool([]relay.Node{
				dual, exitOnly, guardOnly, plain,
			})
			got := test.selectFn(s, pool).UnwrapOrFail(t)
			require.Equal(t, test.expected.Fingerprint,
				got.Fingerprint, test.name)
		}
	}
}

// drawPool draws a pool where relays frequently collide on /16 and family,
// so that the constraints are actually exercised.
func drawPool(t *rapid.T) ([]relay.Node, *relay.FamilyIndex) {
	flagChoices := [][]relay.Flag{
		{relay.FlagExit},
		{relay.FlagGuard},
		{relay.FlagGuard, relay.FlagExit},
		{},
		{relay.FlagExit, relay.FlagBadExit},
	}

	size := rapid.IntRange(1, 40).Draw(t, "size")

	var (
		nodes []relay.Node
		decls []relay.FamilyDeclaration
	)
	for i := 0; i < size; i++ {
		flags := rapid.SampledFrom(flagChoices).Draw(t, "flags")
		n := relay.Node{
			Fingerprint: fmt.Sprintf("%040X", i),
			Nickname:    fmt.Sprintf("n%d", i),
			Address: fmt.Sprintf("10.%d.%d.1",
				rapid.IntRange(0, 7).Draw(t, "octet2"),
				rapid.IntRange(0, 254).Draw(t, "octet3")),
			Flags:     baseFlags.With(flags...),
			Bandwidth: rapid.Uint64Range(0, 1000).Draw(t, "bw"),
		}
		nodes = append(nodes, n)

		if rapid.Bool().Draw(t, "hasFamily") {
			member := rapid.IntRange(0, size-1).Draw(t, "member")
			decls = append(decls, relay.FamilyDeclaration{
				Fingerprint: n.Fingerprint,
				Members: []string{
					fmt.Sprintf("$%040X", member),
				},
			})
		}
	}

	return nodes, relay.NewFamilyIndex(decls)
}

// TestSelectPathInvariants checks that every successful path over a random
// pool has distinct hops in distinct /16s with disjoint families, and that
// every failure wraps ErrNoPath.
func TestSelectPathInvariants(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		nodes, families := drawPool(t)
		hops := rapid.IntRange(3, 5).Draw(t, "hops")
		seed := rapid.Uint64().Draw(t, "seed")

		s := NewWeightedStrategy(&WeightedConfig{
			Weights:  weights.NewTable(nil),
			Families: families,
			Rand:     rand.New(rand.NewPCG(seed, seed)),
			Hops:     hops,
		})

		path, err := s.SelectPath(nodes)
		if err != nil {
			require.ErrorIs(t, err, ErrNoPath)
			return
		}

		require.Equal(t, hops, path.Len())
		require.True(t, path.Guard().Flags.Has(relay.FlagGuard))
		require.True(t, path.Exit().Flags.Has(relay.FlagExit))
		require.False(t, path.Exit().Flags.Has(relay.FlagBadExit))

		seen := make(map[string]struct{})
		for i, a := range path.Hops {
			_, dup := seen[a.Node.Fingerprint]
			require.False(t, dup, "duplicate hop %v", a.Node)
			seen[a.Node.Fingerprint] = struct{}{}

			for _, b := range path.Hops[i+1:] {
				require.False(t, relay.SameSubnet(
					a.Node.Address, b.Node.Address,
				), "%v and %v share a /16", a.Node, b.Node)

				famA := families.Family(a.Node.Fingerprint)
				famB := families.Family(b.Node.Fingerprint)
				require.Zero(t, famA.Intersect(famB).Size(),
					"%v and %v share family", a.Node,
					b.Node)
			}
		}
	})
}

// TestSelectPathLonger checks that extra middle hops are added when a longer
// path is configured.
func TestSelectPathLonger(t *testing.T) {
	t.Parallel()

	nodes := []relay.Node{
		testNode(0, relay.FlagExit),
		testNode(1, relay.FlagGuard),
	}
	for i := 2; i < 6; i++ {
		nodes = append(nodes, testNode(i))
	}

	s := newTestStrategy(5, nil)
	path, err := s.SelectPath(nodes)
	require.NoError(t, err)
	require.Equal(t, 5, path.Len())
	require.Len(t, path.Middles(), 3)
	require.Equal(t, "Middle1", path.Label(1))
	require.Equal(t, "Exit", path.Label(4))

	// Six relays cannot make a seven hop path.
	_, err = newTestStrategy(7, nil).SelectPath(nodes)
	require.ErrorIs(t, err, ErrNoPath)
	require.Contains(t, err.Error(), RoleMiddle.String())
}

// TestUniformStrategy checks the uniform variant builds four hop paths with
// the right roles and fails when a role cannot be filled.
func TestUniformStrategy(t *testing.T) {
	t.Parallel()

	nodes := []relay.Node{
		testNode(0, relay.FlagExit),
		testNode(1, relay.FlagGuard),
		testNode(2, relay.FlagExit, relay.FlagBadExit),
		testNode(3),
		testNode(4),
		testNode(5, relay.FlagRunning),
	}
	for i := range nodes {
		if i != 5 {
			nodes[i].Flags = nodes[i].Flags.With(
				relay.FlagStable, relay.FlagRunning,
				relay.FlagValid,
			)
		}
	}

	s := NewUniformStrategy(newTestRand(), 0)
	require.Equal(t, StrategyUniform, s.Name())

	for i := 0; i < 20; i++ {
		path, err := s.SelectPath(nodes)
		require.NoError(t, err)
		require.Equal(t, 4, path.Len())
		require.Equal(t, "relay1", path.Guard().Nickname)
		require.Equal(t, "relay0", path.Exit().Nickname)
		require.ElementsMatch(t, []string{"relay3", "relay4"}, []string{
			path.Middles()[0].Nickname, path.Middles()[1].Nickname,
		})
		require.Equal(t, "Middle2", path.Label(2))
	}

	_, err := s.SelectPath(nodes[1:])
	require.ErrorIs(t, err, ErrNoPath)
	require.Contains(t, err.Error(), RoleExit.String())

	_, err = s.SelectPath(nil)
	require.ErrorIs(t, err, ErrNoPath)
}

// TestNewStrategy checks strategy construction from config.
func TestNewStrategy(t *testing.T) {
	t.Parallel()

	s, err := New(Config{})
	require.NoError(t, err)
	require.Equal(t, StrategyWeighted, s.Name())

	s, err = New(Config{Strategy: StrategyUniform, Hops: 5})
	require.NoError(t, err)
	require.Equal(t, StrategyUniform, s.Name())

	_, err = New(Config{Strategy: "fastest"})
	require.Error(t, err)

	_, err = New(Config{Hops: 2})
	require.Error(t, err)
}

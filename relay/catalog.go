package relay

import (
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Catalog is an in-memory snapshot of the candidate relays together with
// their family index. It is built once at startup and only read afterwards.
type Catalog struct {
	nodes    []Node
	byFP     map[string]int
	families *FamilyIndex
}

// NewCatalog creates a catalog from the given relays. Later duplicates of a
// fingerprint are dropped.
func NewCatalog(nodes []Node, families *FamilyIndex) *Catalog {
	if families == nil {
		families = NewFamilyIndex(nil)
	}

	c := &Catalog{
		nodes:    make([]Node, 0, len(nodes)),
		byFP:     make(map[string]int, len(nodes)),
		families: families,
	}

	for _, n := range nodes {
		n.Fingerprint = NormalizeFingerprint(n.Fingerprint)
		if _, ok := c.byFP[n.Fingerprint]; ok {
			log.Debugf("Skipping duplicate relay %v", n)
			continue
		}

		c.byFP[n.Fingerprint] = len(c.nodes)
		c.nodes = append(c.nodes, n)
	}

	log.Infof("Relay catalog built with %d relays", len(c.nodes))

	return c
}

// Pool returns a fresh copy of all relays. Callers may freely consume the
// returned slice.
func (c *Catalog) Pool() []Node {
	pool := make([]Node, len(c.nodes))
	copy(pool, c.nodes)

	return pool
}

// Len returns the number of relays in the catalog.
func (c *Catalog) Len() int {
	return len(c.nodes)
}

// Lookup returns the relay with the given fingerprint.
func (c *Catalog) Lookup(fingerprint string) fn.Option[Node] {
	i, ok := c.byFP[NormalizeFingerprint(fingerprint)]
	if !ok {
		return fn.None[Node]()
	}

	return fn.Some(c.nodes[i])
}

// Families returns the family index the catalog was built with.
func (c *Catalog) Families() *FamilyIndex {
	return c.families
}

// Eligible reports whether a relay passes the general selection filter: it
// must not have a stale descriptor and must be Stable, Running and Valid.
func Eligible(n Node) bool {
	if n.Flags.Has(FlagStaleDesc) {
		return false
	}

	return n.Flags.HasAll(FlagStable, FlagRunning, FlagValid)
}

// FilterEligible returns the relays of the pool that pass Eligible, in their
// original order.
func FilterEligible(pool []Node) []Node {
	out := make([]Node, 0, len(pool))
	for _, n := range pool {
		if Eligible(n) {
			out = append(out, n)
		}
	}

	return out
}

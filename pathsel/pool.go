package pathsel

import (
	"github.com/lightningnetwork/torpath/relay"
)

// Pool is the set of relays still available during a single selection
// attempt. Every role selection removes its pick, so later roles always see
// a strictly smaller pool.
type Pool struct {
	nodes []relay.Node
}

// NewPool creates a pool from a copy of the given relays.
func NewPool(nodes []relay.Node) *Pool {
	p := &Pool{
		nodes: make([]relay.Node, len(nodes)),
	}
	copy(p.nodes, nodes)

	return p
}

// Len returns the number of relays left.
func (p *Pool) Len() int {
	return len(p.nodes)
}

// Nodes returns the relays left in the pool. The slice must not be modified.
func (p *Pool) Nodes() []relay.Node {
	return p.nodes
}

// Filter returns the relays of the pool matching pred, in pool order.
func (p *Pool) Filter(pred func(relay.Node) bool) []relay.Node {
	var out []relay.Node
	for _, n := range p.nodes {
		if pred(n) {
			out = append(out, n)
		}
	}

	return out
}

// Remove takes the relay with the given fingerprint out of the pool. It
// returns false if it was not present.
func (p *Pool) Remove(fingerprint string) bool {
	for i, n := range p.nodes {
		if n.Fingerprint != fingerprint {
			continue
		}

		p.nodes = append(p.nodes[:i:i], p.nodes[i+1:]...)

		return true
	}

	return false
}

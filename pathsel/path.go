package pathsel

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lightningnetwork/torpath/relay"
)

var (
	// ErrNoCandidate is returned when no relay is eligible for a role.
	ErrNoCandidate = errors.New("no eligible candidate")

	// ErrNoPath is returned when a full path could not be selected from a
	// pool. It always wraps the role that failed.
	ErrNoPath = errors.New("unable to select path")
)

// Role is the position a relay occupies in a path.
type Role uint8

const (
	// RoleGuard is the entry hop.
	RoleGuard Role = iota

	// RoleMiddle is any hop between guard and exit.
	RoleMiddle

	// RoleExit is the last hop before the destination.
	RoleExit
)

// String returns the name of the role.
func (r Role) String() string {
	switch r {
	case RoleGuard:
		return "Guard"
	case RoleMiddle:
		return "Middle"
	case RoleExit:
		return "Exit"
	default:
		return "Unknown"
	}
}

// roleError wraps ErrNoPath and ErrNoCandidate with the failing role.
func roleError(role Role) error {
	return fmt.Errorf("%w: %v: %w", ErrNoPath, role, ErrNoCandidate)
}

// Hop is a single relay of a path together with its role.
type Hop struct {
	Role Role
	Node relay.Node
}

// Path is an ordered sequence of hops from guard to exit.
type Path struct {
	Hops []Hop
}

// Len returns the number of hops.
func (p *Path) Len() int {
	return len(p.Hops)
}

// Guard returns the entry hop.
func (p *Path) Guard() relay.Node {
	return p.Hops[0].Node
}

// Exit returns the final hop.
func (p *Path) Exit() relay.Node {
	return p.Hops[len(p.Hops)-1].Node
}

// Middles returns the hops between guard and exit.
func (p *Path) Middles() []relay.Node {
	var middles []relay.Node
	for _, h := range p.Hops[1 : len(p.Hops)-1] {
		middles = append(middles, h.Node)
	}

	return middles
}

// Fingerprints returns the hop fingerprints in guard to exit order, the form
// expected by a circuit build request.
func (p *Path) Fingerprints() []string {
	fps := make([]string, len(p.Hops))
	for i, h := range p.Hops {
		fps[i] = h.Node.Fingerprint
	}

	return fps
}

// Label returns the display label of the hop at index i. Middle hops are
// numbered when there is more than one of them.
func (p *Path) Label(i int) string {
	h := p.Hops[i]
	if h.Role != RoleMiddle || len(p.Hops) <= 3 {
		return h.Role.String()
	}

	return fmt.Sprintf("%v%d", h.Role, i)
}

// String returns the nicknames of the path joined by arrows.
func (p *Path) String() string {
	names := make([]string, len(p.Hops))
	for i, h := range p.Hops {
		names[i] = h.Node.Nickname
	}

	return strings.Join(names, " -> ")
}

// newPath assembles a path from the selected relays.
func newPath(guard relay.Node, middles []relay.Node, exit relay.Node) *Path {
	hops := make([]Hop, 0, len(middles)+2)
	hops = append(hops, Hop{Role: RoleGuard, Node: guard})
	for _, m := range middles {
		hops = append(hops, Hop{Role: RoleMiddle, Node: m})
	}
	hops = append(hops, Hop{Role: RoleExit, Node: exit})

	return &Path{Hops: hops}
}

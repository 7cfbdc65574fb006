package relay

import (
	"fmt"
)

// Node is a snapshot of a single relay taken from the network status
// documents. Nodes are never modified once the catalog is built.
type Node struct {
	// Fingerprint is the upper case hex encoding of the relay's identity
	// key digest.
	Fingerprint string

	// Nickname is the operator chosen display name.
	Nickname string

	// Address is the relay's advertised IP address.
	Address string

	// ORPort is the relay's onion routing port.
	ORPort uint16

	// Flags is the set of flags the authorities voted for the relay.
	Flags FlagSet

	// Bandwidth is the measured bandwidth weight from the "w" line. A zero
	// value means the weight was absent.
	Bandwidth uint64
}

// EffectiveBandwidth is the bandwidth used for weighting. Absent or zero
// bandwidth counts as 1 so that such relays remain selectable.
func (n Node) EffectiveBandwidth() uint64 {
	if n.Bandwidth == 0 {
		return 1
	}

	return n.Bandwidth
}

// IsDual returns true if the relay carries both the Guard and Exit flags.
func (n Node) IsDual() bool {
	return n.Flags.HasAll(FlagGuard, FlagExit)
}

// String returns a short human readable identifier for the node.
func (n Node) String() string {
	return fmt.Sprintf("%s(%s@%s)", n.Nickname, shortFingerprint(n.Fingerprint),
		n.Address)
}

// shortFingerprint truncates a fingerprint for log output.
func shortFingerprint(fp string) string {
	if len(fp) <= 8 {
		return fp
	}

	return fp[:8]
}

package relay

import (
	"strings"
)

// Flag is a single status flag assigned to a relay by the directory
// authorities.
type Flag uint16

const (
	// FlagAuthority marks a directory authority.
	FlagAuthority Flag = 1 << iota

	// FlagBadExit marks an exit that is known to misbehave. We never pick
	// these as the exit hop.
	FlagBadExit

	// FlagExit marks a relay whose exit policy allows general traffic.
	FlagExit

	// FlagFast marks a relay with above-threshold bandwidth.
	FlagFast

	// FlagGuard marks a relay suitable as the entry hop.
	FlagGuard

	// FlagHSDir marks an onion service directory.
	FlagHSDir

	// FlagMiddleOnly marks a relay that should only be used as a middle
	// hop.
	FlagMiddleOnly

	// FlagRunning marks a relay that is currently reachable.
	FlagRunning

	// FlagStable marks a relay suitable for long-lived circuits.
	FlagStable

	// FlagStaleDesc marks a relay whose descriptor is considered stale.
	FlagStaleDesc

	// FlagV2Dir marks a relay that serves directory information.
	FlagV2Dir

	// FlagValid marks a relay that has been validated.
	FlagValid
)

// flagNames maps each flag to the keyword used for it in a consensus "s"
// line.
var flagNames = []struct {
	flag Flag
	name string
}{
	{FlagAuthority, "Authority"},
	{FlagBadExit, "BadExit"},
	{FlagExit, "Exit"},
	{FlagFast, "Fast"},
	{FlagGuard, "Guard"},
	{FlagHSDir, "HSDir"},
	{FlagMiddleOnly, "MiddleOnly"},
	{FlagRunning, "Running"},
	{FlagStable, "Stable"},
	{FlagStaleDesc, "StaleDesc"},
	{FlagV2Dir, "V2Dir"},
	{FlagValid, "Valid"},
}

// String returns the consensus keyword of a single flag.
func (f Flag) String() string {
	for _, n := range flagNames {
		if n.flag == f {
			return n.name
		}
	}

	return "Unknown"
}

// FlagSet is an immutable set of relay flags.
type FlagSet uint16

// NewFlagSet returns a set containing the given flags.
func NewFlagSet(flags ...Flag) FlagSet {
	var s FlagSet
	for _, f := range flags {
		s |= FlagSet(f)
	}

	return s
}

// ParseFlags parses the space separated keywords of a consensus "s" line.
// Unknown keywords are ignored.
func ParseFlags(line string) FlagSet {
	var s FlagSet
	for _, word := range strings.Fields(line) {
		for _, n := range flagNames {
			if n.name == word {
				s |= FlagSet(n.flag)
				break
			}
		}
	}

	return s
}

// Has returns true if the set contains the flag.
func (s FlagSet) Has(f Flag) bool {
	return s&FlagSet(f) != 0
}

// HasAll returns true if the set contains every one of the given flags.
func (s FlagSet) HasAll(flags ...Flag) bool {
	for _, f := range flags {
		if !s.Has(f) {
			return false
		}
	}

	return true
}

// With returns a copy of the set with the given flags added.
func (s FlagSet) With(flags ...Flag) FlagSet {
	return s | NewFlagSet(flags...)
}

// String returns the flags in consensus order, space separated.
func (s FlagSet) String() string {
	var words []string
	for _, n := range flagNames {
		if s.Has(n.flag) {
			words = append(words, n.name)
		}
	}

	return strings.Join(words, " ")
}

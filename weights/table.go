package weights

import (
	"fmt"
)

// DefaultWeight is the coefficient used for any key missing from the
// consensus bandwidth-weights table.
const DefaultWeight int64 = 10000

// Position is the role a relay is being weighted for.
type Position byte

const (
	// PositionGuard weights a relay for the entry hop.
	PositionGuard Position = 'g'

	// PositionMiddle weights a relay for a middle hop.
	PositionMiddle Position = 'm'

	// PositionExit weights a relay for the exit hop.
	PositionExit Position = 'e'
)

// Source is the flag combination of the relay being weighted.
type Source byte

const (
	// SourceGuard is a relay carrying Guard but not Exit.
	SourceGuard Source = 'g'

	// SourceMiddle is a relay carrying neither Guard nor Exit.
	SourceMiddle Source = 'm'

	// SourceExit is a relay carrying Exit but not Guard.
	SourceExit Source = 'e'

	// SourceDual is a relay carrying both Guard and Exit.
	SourceDual Source = 'd'
)

// Key returns the consensus keyword for a position and source pair, e.g.
// "Wgd" for a dual flagged relay weighted as a guard.
func Key(pos Position, src Source) string {
	return fmt.Sprintf("W%c%c", pos, src)
}

// Table holds the integer coefficients of a consensus bandwidth-weights line.
// A Table is read-only once created.
type Table struct {
	weights map[string]int64
}

// NewTable creates a table from already parsed keyword/value pairs. The map
// is copied.
func NewTable(weights map[string]int64) *Table {
	t := &Table{
		weights: make(map[string]int64, len(weights)),
	}
	for k, v := range weights {
		t.weights[k] = v
	}

	return t
}

// Get returns the raw value stored under key.
func (t *Table) Get(key string) (int64, bool) {
	if t == nil {
		return 0, false
	}

	w, ok := t.weights[key]

	return w, ok
}

// Lookup returns the coefficient for the given position and source, falling
// back to DefaultWeight if the table has no such key.
func (t *Table) Lookup(pos Position, src Source) int64 {
	key := Key(pos, src)
	if w, ok := t.Get(key); ok {
		return w
	}

	log.Tracef("Bandwidth weight %v missing, using default %d", key,
		DefaultWeight)

	return DefaultWeight
}

// Len returns the number of coefficients in the table.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}

	return len(t.weights)
}

package circuit

import (
	"fmt"

	"github.com/lightningnetwork/torpath/pathsel"
)

// State is the state of the circuit builder.
type State uint8

const (
	// StateIdle is the state before Build is called.
	StateIdle State = iota

	// StateSelecting means a path is being selected from a fresh copy of
	// the relay pool.
	StateSelecting

	// StateRequestingBuild means a build request for the selected path is
	// outstanding.
	StateRequestingBuild

	// StateBuilt is the terminal state reached once a circuit is built.
	StateBuilt
)

// String returns a human readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateSelecting:
		return "Selecting"
	case StateRequestingBuild:
		return "RequestingBuild"
	case StateBuilt:
		return "Built"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// validTransition reports whether the builder may move from one state to
// another.
func validTransition(from, to State) bool {
	switch from {
	case StateIdle:
		return to == StateSelecting
	case StateSelecting:
		return to == StateSelecting || to == StateRequestingBuild
	case StateRequestingBuild:
		return to == StateSelecting || to == StateBuilt
	default:
		return false
	}
}

// Status is the status of a circuit as reported by the router.
type Status uint8

const (
	// StatusBuilding means the router is still extending the circuit.
	StatusBuilding Status = iota

	// StatusBuilt means every hop has been extended.
	StatusBuilt

	// StatusFailed means the circuit could not be built or was closed.
	StatusFailed
)

// String returns a human readable name for the status.
func (s Status) String() string {
	switch s {
	case StatusBuilding:
		return "BUILDING"
	case StatusBuilt:
		return "BUILT"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Circuit is a circuit the router built through a selected path.
type Circuit struct {
	// ID is the router assigned circuit identifier.
	ID string

	// Path is the path the circuit was built through.
	Path *pathsel.Path

	// Status is the last known status of the circuit.
	Status Status
}

// String returns the circuit ID together with its path.
func (c *Circuit) String() string {
	return fmt.Sprintf("circuit %s (%v) [%v]", c.ID, c.Status, c.Path)
}

package attach

import "sync/atomic"

// Guard is a single slot flag that lets exactly one stream claim a circuit.
// The zero value is unset and ready to use.
type Guard struct {
	set atomic.Bool
}

// TryAcquire sets the guard and returns true if it was unset. Of any number
// of concurrent callers exactly one wins.
func (g *Guard) TryAcquire() bool {
	return g.set.CompareAndSwap(false, true)
}

// Release unsets the guard so another stream may claim the slot.
func (g *Guard) Release() {
	g.set.Store(false)
}

// IsSet returns true if the guard is held.
func (g *Guard) IsSet() bool {
	return g.set.Load()
}

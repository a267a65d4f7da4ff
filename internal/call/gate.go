package call

import "sync/atomic"

// Admission limits how many listener sessions may ring at once.
type Admission interface {
	TryAcquire() bool
	Release()
}

// Gate is a single-slot admission gate. The slot is claimed and freed only
// through atomic operations; no lock is ever held across a blocking call.
type Gate struct {
	occupied atomic.Bool

	acquired atomic.Int64
	released atomic.Int64
}

// NewGate returns an unoccupied gate.
func NewGate() *Gate { return &Gate{} }

// TryAcquire claims the slot. It reports false when another session holds it.
func (g *Gate) TryAcquire() bool {
	if !g.occupied.CompareAndSwap(false, true) {
		return false
	}
	g.acquired.Add(1)
	return true
}

// Release frees the slot unconditionally.
func (g *Gate) Release() {
	g.released.Add(1)
	g.occupied.Store(false)
}

// Occupied reports whether a session currently holds the slot.
func (g *Gate) Occupied() bool { return g.occupied.Load() }

// Counts returns how many grants and releases the gate has seen.
func (g *Gate) Counts() (acquired, released int64) {
	return g.acquired.Load(), g.released.Load()
}

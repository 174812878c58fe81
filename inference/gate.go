package inference

import "sync/atomic"

// Gate admits at most one in-flight request per kind. Kinds are independent:
// a busy transcription never blocks a translation. A denied acquire means the
// caller drops the attempt; nothing waits.
type Gate struct {
	busy [numKinds]atomic.Bool
}

// TryAcquire marks kind busy and reports whether it was idle.
func (g *Gate) TryAcquire(kind Kind) bool {
	if kind < 0 || kind >= numKinds {
		return false
	}
	return g.busy[kind].CompareAndSwap(false, true)
}

// Release marks kind idle.
func (g *Gate) Release(kind Kind) {
	if kind < 0 || kind >= numKinds {
		return
	}
	g.busy[kind].Store(false)
}

// Busy reports whether a request of kind is in flight.
func (g *Gate) Busy(kind Kind) bool {
	if kind < 0 || kind >= numKinds {
		return false
	}
	return g.busy[kind].Load()
}

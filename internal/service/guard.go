package service

import (
	"sync"
)

// transitionGuard admits at most one in-flight stage transition per session id.
// TryAcquire returns false while another transition on the same id is running.
type transitionGuard struct {
	mu     sync.Mutex          // protects active
	active map[string]struct{} // session id -> transition in progress
}

func newTransitionGuard() *transitionGuard {
	return &transitionGuard{
		active: make(map[string]struct{}),
	}
}

// TryAcquire marks id busy and reports whether it was free. Callers that get true must
// defer Release(id).
func (g *transitionGuard) TryAcquire(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.active[id]; busy {
		return false
	}
	g.active[id] = struct{}{}
	return true
}

// Release marks id free again.
func (g *transitionGuard) Release(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, id)
}

// InFlight returns the number of sessions with a transition in progress.
func (g *transitionGuard) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active)
}

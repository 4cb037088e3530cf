package auth

import "sync"

// Guard is the redirect guard: a one-way flag claimed before navigating to
// the login entry point. It is never reset for the lifetime of the process;
// once a navigation is underway a second one must not start.
type Guard struct {
	mu         sync.Mutex
	inProgress bool
}

// NewGuard creates an unclaimed [Guard].
func NewGuard() *Guard {
	return &Guard{}
}

// TryBegin claims the guard. It returns true exactly once; every later call
// returns false.
func (g *Guard) TryBegin() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inProgress {
		return false
	}
	g.inProgress = true
	return true
}

// InProgress reports whether a navigation has been claimed.
func (g *Guard) InProgress() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inProgress
}

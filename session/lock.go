package session

import "sync"

// lockGuard models "the caller passes a lock guard by exclusive reference;
// the callee may release it once and must not re-acquire it." Go has no
// first-class movable mutex guard, so this is the small helper object the
// design calls for: PipelineExecutor.run receives one by pointer and calls
// Release exactly once, after which Session.Process's own deferred Release
// becomes a no-op.
type lockGuard struct {
	mu       *sync.Mutex
	once     sync.Once
	released bool
}

func newLockGuard(mu *sync.Mutex) *lockGuard {
	return &lockGuard{mu: mu}
}

// Release unlocks the underlying mutex. Safe to call more than once; only
// the first call has an effect.
func (g *lockGuard) Release() {
	g.once.Do(func() {
		g.mu.Unlock()
		g.released = true
	})
}

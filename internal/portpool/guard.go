package portpool

import "sync"

// Guard owns one assigned port plus a reference to the pool it came
// from. Release is idempotent and safe to call from any exit path —
// normal completion, error, or a deferred cleanup after a panic — so
// the owning session can simply `defer guard.Release()` once and the
// release runs exactly once however the session ends.
//
// Only one Guard should exist per assigned slot; the pool holds no
// back-reference to its guards.
type Guard struct {
	pool *PortPool
	port int
	once sync.Once
}

// NewGuard wraps an already-assigned port.
func NewGuard(pool *PortPool, port int) *Guard {
	return &Guard{pool: pool, port: port}
}

// Port returns the guarded port number.
func (g *Guard) Port() int { return g.port }

// Release returns the port to the pool. Safe to call more than once;
// only the first call has any effect.
func (g *Guard) Release() {
	g.once.Do(func() {
		g.pool.Release(g.port)
	})
}

package health

import "sync/atomic"

// ready gates the readiness probe during graceful shutdown. It starts true so
// a freshly booted process reports ready as soon as its dependencies do.
var ready atomic.Bool

func init() {
	ready.Store(true)
}

// SetReady flips the readiness gate. Call with false before draining so load
// balancers stop routing new traffic while in-flight requests finish.
func SetReady(v bool) {
	ready.Store(v)
}

// Ready reports the current readiness gate state.
func Ready() bool {
	return ready.Load()
}

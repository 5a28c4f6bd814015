// Package health provides composable probes and the handlers behind the
// liveness and readiness endpoints.
//
// Probes combine with [All] (AND), [Any] (OR), [Fixed] and [Timeout].
// [CheckFunc] adapts a plain function into a [Probe].
//
// [ShutdownGate] fails readiness as soon as draining starts so load
// balancers stop routing new connections before in-flight requests finish.
package health

// Package shutdown coordinates graceful process exit.
//
// # Overview
//
// Independent subsystems register exit hooks with a Coordinator. When an
// exit is requested, by a call to RequestExit or by a termination signal,
// the coordinator starts a drain session: every registered hook is invoked
// once, in registration order, and handed a Signal it must fire when its
// cleanup is done. The process terminates with the requested exit code once
// every hook has fired its Signal, or when the session deadline elapses,
// whichever comes first.
//
//	RequestExit(code, timeout)
//	        │
//	        ▼
//	┌──────────────────────────────────────────────┐
//	│ Session: invoke hooks in registration order  │
//	│   hook A ──ready──┐                          │
//	│   hook B ─────────┼──ready──┐                │
//	│   hook C ──ready──┘         │                │
//	└─────────────────────────────┼────────────────┘
//	             all ready ───────┴────── deadline
//	                    │                    │
//	                Completed             TimedOut
//	                    └────── Terminate(code) ──┘
//
// # Usage
//
//	coord := shutdown.NewCoordinator(shutdown.DefaultConfig())
//	stop := coord.HandleSignals() // SIGINT, SIGTERM
//	defer stop()
//
//	coord.RegisterFunc("cache", func(ready *shutdown.Signal) {
//	    go func() {
//	        cache.Flush()
//	        ready.Ready()
//	    }()
//	})
//
//	coord.RegisterContext("http", func(ctx context.Context) error {
//	    return server.Shutdown(ctx)
//	})
//
//	if !coord.RequestExit(0, 10*time.Second) {
//	    // an exit is already in progress
//	}
//
// # Guarantees
//
//   - RequestExit returns true exactly once per coordinator. Later calls,
//     including calls made from inside hooks, return false.
//   - Signal.Ready is idempotent.
//   - A hook that panics is reported and left outstanding; the remaining
//     hooks are still invoked.
//   - With no hooks registered the process terminates immediately.
//   - Once a session starts, termination always happens.
package shutdown

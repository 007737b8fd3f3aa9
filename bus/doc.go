// Package bus announces exit sequences to peer processes.
//
// # Overview
//
// A Notifier observes a shutdown.Coordinator and publishes two JSON notices
// per drain session on a MessageBus:
//
//	<prefix>.draining   the exit request was accepted and hooks are running
//	<prefix>.resolved   the session completed or timed out
//
// Peers subscribe to these subjects to stop routing work to a process that
// is going away, or to account for work it abandoned.
//
// # Available Implementations
//
//   - NATSBus: NATS client connection
//   - MemoryBus: In-memory implementation for testing and single-process use
//
// # Usage
//
//	nb, _ := bus.NewNATSBus(bus.DefaultNATSConfig())
//	notifier := bus.NewNotifier(nb, "drainkit.orders-7")
//	coord := shutdown.NewCoordinator(shutdown.Config{
//	    Observers: []shutdown.Observer{notifier},
//	})
//
//	sub, _ := peer.Subscribe("drainkit.orders-7.draining")
//	for msg := range sub.Messages() {
//	    notice, _ := bus.DecodeNotice(msg.Data)
//	    // Stop sending work to notice.Host
//	}
package bus

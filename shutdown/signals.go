package shutdown

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// ExitCodeForSignal returns the conventional exit status for a process
// terminated by sig: 128 plus the signal number. Signals without a number
// map to 1.
func ExitCodeForSignal(sig os.Signal) int {
	if s, ok := sig.(syscall.Signal); ok {
		return 128 + int(s)
	}
	return 1
}

// HandleSignals requests exit when one of sigs arrives, with the exit code
// from ExitCodeForSignal and the configured default timeout. With no
// arguments it listens for the platform's termination signals. Signals that
// arrive while draining are logged and ignored. The returned function stops
// signal delivery.
func (c *Coordinator) HandleSignals(sigs ...os.Signal) (stop func()) {
	if len(sigs) == 0 {
		sigs = terminationSignals
	}
	signal.Notify(c.signalChan, sigs...)
	c.handlers.Add(1)

	quit := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-c.signalChan:
				code := ExitCodeForSignal(sig)
				c.logger.Info("signal_received", map[string]interface{}{
					"signal": sig.String(),
					"code":   code,
				})
				c.RequestExit(code, c.config.DefaultTimeout)
			case <-quit:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(c.signalChan)
			c.handlers.Add(-1)
			close(quit)
			select {
			case <-c.signalChan:
			default:
			}
		})
	}
}

// Trigger injects sig as if the OS had delivered it. The signal is dropped
// unless a HandleSignals loop is active, so it never fires later.
func (c *Coordinator) Trigger(sig os.Signal) {
	if c.handlers.Load() == 0 {
		c.logger.Debug("signal_dropped", map[string]interface{}{"signal": sig.String()})
		return
	}
	select {
	case c.signalChan <- sig:
	default:
	}
}

//go:build unix

package shutdown

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// terminationSignals lists the signals that request a graceful exit.
// SIGTERM is what process managers (systemd, kubernetes) send.
var terminationSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// ParseSignal resolves a signal name such as "SIGTERM" or "hup".
func ParseSignal(name string) (os.Signal, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	if !strings.HasPrefix(n, "SIG") {
		n = "SIG" + n
	}
	if s := unix.SignalNum(n); s != 0 {
		return s, nil
	}
	return nil, fmt.Errorf("unknown signal: %s", name)
}

//go:build !unix

package shutdown

import (
	"fmt"
	"os"
	"strings"
	"syscall"
)

var terminationSignals = []os.Signal{os.Interrupt}

var signalNames = map[string]os.Signal{
	"SIGINT":  os.Interrupt,
	"SIGTERM": syscall.SIGTERM,
	"SIGKILL": os.Kill,
}

// ParseSignal resolves a signal name. Only SIGINT, SIGTERM and SIGKILL
// exist on this platform.
func ParseSignal(name string) (os.Signal, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	if !strings.HasPrefix(n, "SIG") {
		n = "SIG" + n
	}
	if s, ok := signalNames[n]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("unknown signal: %s", name)
}

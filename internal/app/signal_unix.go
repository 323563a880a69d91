//go:build unix

package app

import (
	"os"
	"syscall"
)

// activationSignals trigger push-to-talk when activation.signal is set.
var activationSignals = []os.Signal{syscall.SIGUSR1}

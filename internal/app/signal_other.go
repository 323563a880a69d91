//go:build !unix

package app

import "os"

// SIGUSR1 does not exist here; activation.signal is ignored.
var activationSignals []os.Signal

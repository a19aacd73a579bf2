//go:build !windows

package runner

import "golang.org/x/sys/unix"

// sendInterrupt raises SIGINT for this process so signal.NotifyContext
// cancels the run while the terminal is in raw mode.
func sendInterrupt() {
	_ = unix.Kill(unix.Getpid(), unix.SIGINT)
}

package runner

import (
	"fmt"
	"os"
	"time"

	"github.com/maxvaer/hhprobe/internal/scanner"
	"golang.org/x/term"
)

// startStdinToggle reads single keypresses from stdin and toggles the
// returned pauser on Enter or Space. The cleanup function restores the
// terminal. When stdin is not a terminal it returns a nil pauser, which
// never pauses.
func startStdinToggle(quiet bool) (pauser *scanner.Pauser, cleanup func()) {
	fd := int(os.Stdin.Fd())

	if !term.IsTerminal(fd) {
		return nil, func() {}
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		if !quiet {
			fmt.Fprintf(os.Stderr, "[!] Could not enable raw terminal: %v\n", err)
		}
		return nil, func() {}
	}

	// MakeRaw disables OPOST, so \n no longer moves the cursor back to
	// column 0. Only raw input is needed here.
	fixOutputProcessing(fd)

	pauser = scanner.NewPauser()

	cleanup = func() {
		_ = term.Restore(fd, oldState)
	}

	go func() {
		buf := make([]byte, 1)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				return
			}
			if n == 0 {
				continue
			}

			switch key := buf[0]; key {
			case 0x03:
				// Ctrl+C: hand the interrupt back to the signal handler.
				_ = term.Restore(fd, oldState)
				sendInterrupt()
				return
			case '\r', '\n', ' ':
				nowPaused := pauser.Toggle()
				if quiet {
					continue
				}
				if nowPaused {
					fmt.Fprintf(os.Stderr, "\r\033[K[*] Run PAUSED, press Enter or Space to resume\n")
				} else {
					fmt.Fprintf(os.Stderr, "\r\033[K[*] Run RESUMED (paused %s in total)\n", pauser.PausedDuration().Round(time.Second))
				}
			}
		}
	}()

	return pauser, cleanup
}

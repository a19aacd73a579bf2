package output

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Progress tracks and displays run progress on stderr.
type Progress struct {
	total     atomic.Int64
	completed atomic.Int64
	filtered  atomic.Int64
	errors    atomic.Int64
	start     time.Time
	done      chan struct{}
	stopped   chan struct{}
	quiet     bool

	mu sync.Mutex // serializes writes to w
	w  io.Writer
}

// NewProgress creates a progress tracker. Call Start() to begin display updates.
func NewProgress(total int, quiet bool) *Progress {
	p := &Progress{
		start:   time.Now(),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		quiet:   quiet,
		w:       os.Stderr,
	}
	p.total.Store(int64(total))
	return p
}

// SetTotal updates the number of expected combinations.
func (p *Progress) SetTotal(total int) {
	p.total.Store(int64(total))
}

// Start begins periodically printing progress to stderr.
func (p *Progress) Start() {
	if p.quiet {
		close(p.stopped)
		return
	}
	go func() {
		defer close(p.stopped)
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.Redraw()
			case <-p.done:
				p.Redraw()
				p.mu.Lock()
				fmt.Fprint(p.w, "\n")
				p.mu.Unlock()
				return
			}
		}
	}()
}

// Increment records a processed combination.
func (p *Progress) Increment() {
	p.completed.Add(1)
}

// IncrementFiltered records a filtered probe.
func (p *Progress) IncrementFiltered() {
	p.filtered.Add(1)
}

// IncrementErrors records a failed probe.
func (p *Progress) IncrementErrors() {
	p.errors.Add(1)
}

// Stop ends the progress display and waits for the final line.
func (p *Progress) Stop() {
	close(p.done)
	<-p.stopped
}

// ClearLine erases the progress line so a result can be printed in its
// place.
func (p *Progress) ClearLine() {
	if p.quiet {
		return
	}
	p.mu.Lock()
	fmt.Fprint(p.w, "\r\033[K")
	p.mu.Unlock()
}

// Redraw prints the progress line.
func (p *Progress) Redraw() {
	if p.quiet {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.w, p.line())
}

func (p *Progress) line() string {
	completed := p.completed.Load()
	total := p.total.Load()
	elapsed := time.Since(p.start).Seconds()
	rate := float64(0)
	if elapsed > 0 {
		rate = float64(completed) / elapsed
	}

	pct := float64(0)
	if total > 0 {
		pct = float64(completed) / float64(total) * 100
	}

	eta := ""
	if rate > 0 && completed < total {
		remaining := float64(total-completed) / rate
		eta = fmt.Sprintf("ETA: %s", time.Duration(remaining*float64(time.Second)).Round(time.Second))
	}

	return fmt.Sprintf("\r\033[K[%3.0f%%] %d/%d | %.0f req/s | Filtered: %d | Errors: %d | %s",
		pct, completed, total, rate,
		p.filtered.Load(), p.errors.Load(), eta)
}

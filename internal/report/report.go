// Package report is the speed/ETA reporter: a contract plus two
// implementations, a plain stdout ticker, always available, and a
// bubbletea/bubbles/lipgloss live terminal view for interactive runs.
package report

import (
	"fmt"
	"time"
)

// Reporter receives progress updates from a running producer/consumer or
// sort scenario and renders them however it sees fit. This is the minimal
// contract every implementation satisfies so the harness doesn't need to
// know which one is active.
type Reporter interface {
	// Update reports that bytesDone of bytesTotal have been processed so
	// far, having taken elapsed so far.
	Update(bytesDone, bytesTotal int64, elapsed time.Duration)
	// Done signals the run finished, with an optional trailing message
	// (e.g. a final speed/overhead/blocks line).
	Done(message string)
}

// StdoutReporter prints one line per Update call, rate-limited to avoid
// flooding the terminal on fast streams.
type StdoutReporter struct {
	lastPrint time.Time
	interval  time.Duration
}

// NewStdoutReporter creates a reporter that prints at most once per
// interval.
func NewStdoutReporter(interval time.Duration) *StdoutReporter {
	return &StdoutReporter{interval: interval}
}

// Update implements Reporter.
func (r *StdoutReporter) Update(bytesDone, bytesTotal int64, elapsed time.Duration) {
	now := time.Now()
	if !r.lastPrint.IsZero() && now.Sub(r.lastPrint) < r.interval {
		return
	}
	r.lastPrint = now

	mbDone := float64(bytesDone) / (1024 * 1024)
	speed := mbDone / elapsed.Seconds()
	pct := 100 * float64(bytesDone) / float64(bytesTotal)
	fmt.Printf("%6.1f%%  %8.1f MB/s  %v elapsed\n", pct, speed, elapsed.Round(time.Millisecond))
}

// Done implements Reporter.
func (r *StdoutReporter) Done(message string) {
	if message != "" {
		fmt.Println(message)
	}
}

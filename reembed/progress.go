package reembed

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// ProgressTracker writes a single updating progress line for one run.
type ProgressTracker struct {
	mu       sync.Mutex
	writer   io.Writer
	runID    string
	total    int
	interval int
	embedded int
	reported int
	batches  int
	start    time.Time
	now      func() time.Time
}

// NewProgressTracker reports on total chunks of runID every interval chunks.
func NewProgressTracker(writer io.Writer, runID string, total, interval int) *ProgressTracker {
	return &ProgressTracker{
		writer:   writer,
		runID:    runID,
		total:    total,
		interval: max(interval, 1),
		now:      time.Now,
	}
}

// Start resets the counters and the clock.
func (p *ProgressTracker) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.start = p.now()
	p.embedded, p.reported, p.batches = 0, 0, 0
}

// BatchDone records a stored batch of n chunks.
func (p *ProgressTracker) BatchDone(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.start.IsZero() {
		return
	}

	p.batches++
	p.embedded = min(p.embedded+n, p.total)
	if p.embedded-p.reported >= p.interval {
		p.report(p.now())
		p.reported = p.embedded
	}
}

// Finish writes the final line and returns the elapsed time.
func (p *ProgressTracker) Finish() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.start.IsZero() {
		return 0
	}

	end := p.now()
	p.report(end)
	fmt.Fprintln(p.writer)
	return end.Sub(p.start)
}

// Embedded returns the number of chunks stored so far.
func (p *ProgressTracker) Embedded() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.embedded
}

// report must be called with the lock held.
func (p *ProgressTracker) report(now time.Time) {
	percent := 100.0
	if p.total > 0 {
		percent = float64(p.embedded) / float64(p.total) * 100
	}
	fmt.Fprintf(p.writer, "\r%s: %d/%d chunks (%.1f%%) in %d batches, %.1f chunks/s",
		p.runID, p.embedded, p.total, percent, p.batches, rate(p.embedded, now.Sub(p.start)))
}

func rate(n int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(n) / elapsed.Seconds()
}

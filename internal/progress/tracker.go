package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Unit selects how a Tracker counts and renders progress.
type Unit int

const (
	// Bytes counts transferred bytes against an optional total size.
	Bytes Unit = iota
	// Percent counts from 0 to 100.
	Percent
)

// Options configures a Tracker.
type Options struct {
	// Label is printed in front of every progress line.
	Label string

	// Unit selects byte or percent counting.
	Unit Unit

	// Total is the expected final value in bytes. Zero means unknown.
	// Ignored for Percent, where the total is always 100.
	Total int64

	// Output is where to write progress output.
	// Default: os.Stdout
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration
}

// Tracker renders the progress of a single export or download.
//
// Add, Set and Write are safe to call from any goroutine, including before
// Start or after Stop.
type Tracker struct {
	opts Options

	current   atomic.Int64
	startTime time.Time
	lastTick  time.Time
	lastValue int64

	mu      sync.Mutex
	started bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewTracker creates a new progress tracker.
func NewTracker(opts Options) *Tracker {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.UpdateInterval <= 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}
	if opts.Unit == Percent {
		opts.Total = 100
	}

	return &Tracker{
		opts:   opts,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins printing progress lines.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started || t.stopped {
		return
	}
	t.started = true
	t.startTime = time.Now()
	t.lastTick = t.startTime

	go t.updateLoop()
}

// Stop prints the final line and waits for the update loop to exit.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	started := t.started
	t.mu.Unlock()

	close(t.stopCh)
	if started {
		<-t.doneCh
	}
}

// Add advances the tracker by n.
func (t *Tracker) Add(n int64) {
	t.current.Add(n)
}

// Set raises the tracker to v. Values lower than the current one are
// ignored, so progress never moves backwards.
func (t *Tracker) Set(v int64) {
	for {
		cur := t.current.Load()
		if v <= cur || t.current.CompareAndSwap(cur, v) {
			return
		}
	}
}

// Current returns the current value.
func (t *Tracker) Current() int64 {
	return t.current.Load()
}

// Write counts len(p) bytes, so a Tracker can sit behind an io.TeeReader or
// io.MultiWriter.
func (t *Tracker) Write(p []byte) (int, error) {
	t.current.Add(int64(len(p)))
	return len(p), nil
}

func (t *Tracker) updateLoop() {
	defer close(t.doneCh)

	ticker := time.NewTicker(t.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			t.printFinalStatus()
			return
		case <-ticker.C:
			t.printProgress()
		}
	}
}

func (t *Tracker) printProgress() {
	fmt.Fprintf(t.opts.Output, "\r[labexport] %s: %s    ", t.opts.Label, t.line(time.Now()))
}

func (t *Tracker) printFinalStatus() {
	fmt.Fprintf(t.opts.Output, "\r[labexport] %s: %s    \n", t.opts.Label, t.summary())
}

// line renders the current state. Only called from the update loop.
func (t *Tracker) line(now time.Time) string {
	cur := t.current.Load()

	if t.opts.Unit == Percent {
		return fmt.Sprintf("%d%%", min(cur, 100))
	}

	elapsed := now.Sub(t.lastTick).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(cur-t.lastValue) / elapsed
	if speed < 0 {
		speed = 0
	}
	t.lastTick = now
	t.lastValue = cur

	if t.opts.Total <= 0 {
		return fmt.Sprintf("%s | Speed: %s/s", FormatBytes(cur), FormatBytes(int64(speed)))
	}
	return fmt.Sprintf("%.1f%% | %s / %s | Speed: %s/s",
		float64(cur)/float64(t.opts.Total)*100,
		FormatBytes(cur),
		FormatBytes(t.opts.Total),
		FormatBytes(int64(speed)),
	)
}

func (t *Tracker) summary() string {
	cur := t.current.Load()
	if t.opts.Unit == Percent {
		return fmt.Sprintf("%d%%", min(cur, 100))
	}

	took := time.Since(t.startTime)
	avg := float64(cur) / max(took.Seconds(), 0.001)
	return fmt.Sprintf("%s in %s | Average speed: %s/s",
		FormatBytes(cur),
		took.Round(time.Millisecond),
		FormatBytes(int64(avg)),
	)
}

// FormatBytes formats a byte count with binary prefixes, e.g. "1.5 KiB".
func FormatBytes(b int64) string {
	if b < 0 {
		b = 0
	}
	return humanize.IBytes(uint64(b))
}

/*
	Package status renders the single-line progress display the
	Reductor refreshes on every loop tick: queue depth, per-engine
	in-flight/max counts, finished-job count, remaining DAG size, and
	running cost estimate -- the same fields the original reduction
	daemon's print_status() reports, throttled the same way so a busy
	loop doesn't spend more time drawing than scheduling.
*/
package status

import (
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
)

// EngineStat is one engine's contribution to the status line.
type EngineStat struct {
	Label    string
	JobCount int
	MaxJobs  int
}

// Snapshot is everything the status line needs for one render.
type Snapshot struct {
	QueueSize     int
	Engines       []EngineStat
	FinishedJobs  int
	RemainingSize int
	EstimatedCost float64
}

const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorCyan   = "\033[36m"
)

// pad right-pads s with spaces to width display columns, using
// go-runewidth so wide/narrow runes don't throw off alignment the way
// a naive len(s) would.
func pad(s string, width int) string {
	w := runewidth.StringWidth(s)
	if w >= width {
		return s
	}
	return s + strings.Repeat(" ", width-w)
}

// Line renders snap as one ANSI-colored status line.
func Line(snap Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "in queue: %s%s%5s%s", colorBold, colorYellow, pad(fmt.Sprint(snap.QueueSize), 5), colorReset)
	for _, e := range snap.Engines {
		fmt.Fprintf(&b, " %s (%d): %s%s%s%s", e.Label, e.MaxJobs, colorBold, colorRed, pad(fmt.Sprint(e.JobCount), 5), colorReset)
	}
	fmt.Fprintf(&b, " done: %s%s%s%s", colorBold, colorGreen, pad(fmt.Sprint(snap.FinishedJobs), 5), colorReset)
	fmt.Fprintf(&b, " remaining: %d", snap.RemainingSize)
	fmt.Fprintf(&b, "  |  cost: %s%s~$%.2f%s", colorBold, colorCyan, snap.EstimatedCost, colorReset)
	return b.String()
}

// Bar throttles how often Line actually gets rendered and written, so
// a tight scheduler loop can call Refresh on every tick without
// flooding the terminal.
type Bar struct {
	Interval time.Duration
	Out      func(string)

	last time.Time
}

// Refresh renders and emits snap's line if at least Interval has
// elapsed since the last render; otherwise it's a no-op.
func (b *Bar) Refresh(snap Snapshot, now time.Time) {
	if !b.last.IsZero() && now.Sub(b.last) < b.Interval {
		return
	}
	b.last = now
	if b.Out != nil {
		b.Out(Line(snap))
	}
}

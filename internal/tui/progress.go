// SPDX-License-Identifier: MPL-2.0

package tui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/progress"
)

const (
	// progressBarWidth is the rendered width of the progress bar.
	progressBarWidth = 30

	// clearLine returns the cursor to column one and erases to end of line,
	// so consecutive renders of different widths never leave residue.
	clearLine = "\r\x1b[K"
)

// plainMilestones are the completion percentages reported as log lines when
// the output is not a terminal.
var plainMilestones = []int{25, 50, 75, 100}

type (
	// ProgressOption configures a ProgressPrinter.
	ProgressOption func(*ProgressPrinter)

	// ProgressPrinter renders cumulative transfer progress. Update matches
	// the fetch package's progress callback signature, so a printer method
	// value plugs directly into a downloader.
	//
	// On a terminal each update repaints a single progress-bar line; on
	// anything else updates degrade to one log line per quarter completed.
	// A printer is not safe for concurrent use; downloads report from a
	// single goroutine.
	ProgressPrinter struct {
		w     io.Writer
		bar   progress.Model
		label string
		plain bool

		lastTransferred int64
		lastMilestone   int
		dirty           bool
	}
)

// WithProgressPlain forces plain milestone output, overriding terminal
// detection in either direction.
func WithProgressPlain(plain bool) ProgressOption {
	return func(p *ProgressPrinter) {
		p.plain = plain
	}
}

// NewProgressPrinter creates a printer writing to w, prefixing each update
// with label. An empty label falls back to "download".
func NewProgressPrinter(w io.Writer, label string, opts ...ProgressOption) *ProgressPrinter {
	if label == "" {
		label = "download"
	}
	p := &ProgressPrinter{
		w:     w,
		label: label,
		plain: !isTerminalWriter(w),
		bar: progress.New(
			progress.WithDefaultGradient(),
			progress.WithWidth(progressBarWidth),
		),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Update renders cumulative transfer progress. total is the expected size
// and may be negative when unknown; unknown sizes render transferred bytes
// only. A transferred value lower than the previous one starts a new
// transfer, resetting milestone tracking, so one printer can serve several
// sequential downloads.
func (p *ProgressPrinter) Update(transferred, total int64) {
	if transferred < p.lastTransferred {
		p.lastMilestone = 0
	}
	p.lastTransferred = transferred

	if p.plain {
		p.printMilestones(transferred, total)
		return
	}

	if total > 0 {
		ratio := float64(transferred) / float64(total)
		if ratio > 1 {
			ratio = 1
		}
		fmt.Fprintf(p.w, "%s%s %s %s", clearLine, p.label, p.bar.ViewAs(ratio), FormatBytes(transferred))
	} else {
		fmt.Fprintf(p.w, "%s%s %s", clearLine, p.label, FormatBytes(transferred))
	}
	p.dirty = true
}

// Finish terminates the in-place progress line and resets the printer for
// reuse. In plain mode there is no line to terminate.
func (p *ProgressPrinter) Finish() {
	if p.dirty {
		fmt.Fprintln(p.w)
	}
	p.dirty = false
	p.lastTransferred = 0
	p.lastMilestone = 0
}

// printMilestones emits one line per quarter completed. Unknown totals stay
// silent; the caller reports the final byte count when the transfer ends.
func (p *ProgressPrinter) printMilestones(transferred, total int64) {
	if total <= 0 {
		return
	}
	pct := int(transferred * 100 / total)
	if pct > 100 {
		pct = 100
	}
	for _, milestone := range plainMilestones {
		if pct >= milestone && p.lastMilestone < milestone {
			p.lastMilestone = milestone
			fmt.Fprintf(p.w, "%s: %d%% (%s of %s)\n", p.label, milestone, FormatBytes(transferred), FormatBytes(total))
		}
	}
}

// FormatBytes formats a byte count as a human-readable string.
func FormatBytes(bytes int64) string {
	switch {
	case bytes >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(1<<30))
	case bytes >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(1<<20))
	case bytes >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// SPDX-License-Identifier: MPL-2.0

// Package tui provides terminal feedback components built on Charm libraries.
//
// Spin animates a Bubble Tea spinner next to a long-running action, and
// ProgressPrinter renders a Bubbles progress bar for streaming downloads.
// Both degrade to plain line output when the destination is not a terminal,
// so piped and redirected runs produce readable logs instead of control
// sequences.
package tui

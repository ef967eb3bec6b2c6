// SPDX-License-Identifier: MPL-2.0

package tui

import (
	"io"
	"os"

	"golang.org/x/term"
)

// isTerminalWriter reports whether w is backed by a terminal. Non-file
// writers (buffers, pipes wrapped in counters) are never terminals.
func isTerminalWriter(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

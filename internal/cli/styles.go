// SPDX-License-Identifier: MPL-2.0

package cli

import "github.com/charmbracelet/lipgloss"

// Color palette shared by all command output, tuned for dark terminal
// backgrounds.
const (
	// ColorPrimary is purple, used for titles and headers.
	ColorPrimary = lipgloss.Color("#7C3AED")

	// ColorMuted is gray, used for secondary and de-emphasized text.
	ColorMuted = lipgloss.Color("#6B7280")

	// ColorSuccess is green, used for success markers.
	ColorSuccess = lipgloss.Color("#10B981")

	// ColorWarning is amber, used for warnings and caution states.
	ColorWarning = lipgloss.Color("#F59E0B")

	// ColorHighlight is blue, used for commands, paths, and links.
	ColorHighlight = lipgloss.Color("#3B82F6")
)

// Base styles built from the palette.
var (
	// TitleStyle is for section titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	// SubtitleStyle is for secondary headers and hints.
	SubtitleStyle = lipgloss.NewStyle().
			Foreground(ColorMuted)

	// SuccessStyle is for success messages and checkmarks.
	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	// WarningStyle is for warning messages.
	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	// CmdStyle is for command examples, file paths, and links.
	CmdStyle = lipgloss.NewStyle().
			Foreground(ColorHighlight)
)

// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable error handling with user-friendly messages.
//
// It combines structured errors carrying an operation, a resource and
// remediation suggestions with a catalog of known failure classes rendered as
// Markdown, so the CLI can tell the user both what broke and what to do next.
package issue

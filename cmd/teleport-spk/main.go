// SPDX-License-Identifier: MPL-2.0

// Command teleport-spk assembles chrooted Synology DSM cross-compilation
// build environments.
package main

import "github.com/haukened/teleport-spk/internal/cli"

func main() {
	cli.Execute()
}

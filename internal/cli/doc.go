// SPDX-License-Identifier: MPL-2.0

// Package cli implements the teleport-spk command tree.
//
// Commands are wired through an App value that carries every external
// touchpoint (configuration loading, the catalog client, the build runner,
// output streams) behind swappable seams, so command construction is
// side-effect free and tests never reach the network or the filesystem
// unless they choose to.
package cli

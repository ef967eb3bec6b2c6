// SPDX-License-Identifier: MPL-2.0

// Package selfupdate upgrades the running teleport-spk binary in place.
//
// Releases are published on GitHub with one tar.gz archive per platform
// and a checksums.txt manifest. Check compares the running version
// against the newest stable release; Apply downloads the matching
// archive, verifies its SHA-256 against the manifest, extracts the
// binary and atomically swaps it over the current executable.
//
// Binaries installed through go install are left alone: those upgrade
// through the Go toolchain, and overwriting them would only drift from
// what the module cache believes is installed.
package selfupdate

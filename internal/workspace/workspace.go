// SPDX-License-Identifier: MPL-2.0

// Package workspace manages the per-build working directory. A workspace is
// a uniquely named temporary tree holding the checked-out build scripts, the
// downloaded toolkit tarballs, and the project source. Destroy detaches any
// filesystems still mounted under the tree before removing it, because
// removing a directory that backs a live mount corrupts the mount table.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/haukened/teleport-spk/internal/mounts"
)

const (
	// Pattern names every workspace directory. The trailing star is replaced
	// by a unique suffix, so concurrent builds never collide.
	Pattern = "syno-build-*"

	scriptsDirName  = "scripts"
	tarballsDirName = "toolkit_tarballs"
	sourceDirName   = "source"

	dirPerm = 0o755
)

type (
	// Workspace is one per-build working directory.
	Workspace struct {
		root string
	}

	// Option configures workspace creation.
	Option func(*creator)

	creator struct {
		parentDir string
	}
)

// WithParentDir places the workspace under dir instead of the system
// temporary directory.
func WithParentDir(dir string) Option {
	return func(c *creator) {
		c.parentDir = dir
	}
}

// Create makes a fresh workspace with its scripts, tarball and source
// subdirectories already present.
func Create(opts ...Option) (*Workspace, error) {
	var c creator
	for _, opt := range opts {
		opt(&c)
	}

	root, err := os.MkdirTemp(c.parentDir, Pattern)
	if err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}

	ws := &Workspace{root: root}
	for _, dir := range []string{ws.ScriptsDir(), ws.TarballsDir(), ws.SourceDir()} {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			_ = os.RemoveAll(root)
			return nil, fmt.Errorf("creating workspace layout: %w", err)
		}
	}
	return ws, nil
}

// Root is the absolute path of the workspace directory.
func (w *Workspace) Root() string { return w.root }

// ScriptsDir is where the build-script repository is checked out.
func (w *Workspace) ScriptsDir() string { return filepath.Join(w.root, scriptsDirName) }

// TarballsDir is where toolkit tarballs are placed for the deployer.
func (w *Workspace) TarballsDir() string { return filepath.Join(w.root, tarballsDirName) }

// SourceDir is where project source is checked out for the build.
func (w *Workspace) SourceDir() string { return filepath.Join(w.root, sourceDirName) }

// Destroy detaches every filesystem mounted under the workspace, deepest
// first, then removes the tree. Calling Destroy on an already-removed
// workspace is a no-op, so teardown paths may run it unconditionally.
func (w *Workspace) Destroy(ctx context.Context) error {
	if _, err := os.Stat(w.root); os.IsNotExist(err) {
		return nil
	}

	table, err := mounts.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("scanning workspace mounts: %w", err)
	}
	if err := mounts.UnmountAll(mounts.Under(table, w.root)); err != nil {
		return fmt.Errorf("detaching workspace mounts: %w", err)
	}

	if err := os.RemoveAll(w.root); err != nil {
		return fmt.Errorf("removing workspace: %w", err)
	}
	return nil
}

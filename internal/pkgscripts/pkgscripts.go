// SPDX-License-Identifier: MPL-2.0

// Package pkgscripts drives the Synology pkgscripts-ng toolkit: it checks
// out the build-script repository at a version branch and runs its EnvDeploy
// script to assemble a chrooted build environment. Both operations shell out
// through an injectable command factory so tests never touch git or a real
// deploy.
package pkgscripts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/haukened/teleport-spk/internal/catalog"
	"github.com/haukened/teleport-spk/internal/mounts"
)

const (
	// DefaultRepoURL is the upstream build-script repository.
	DefaultRepoURL = "https://github.com/SynologyOpenSource/pkgscripts-ng.git"

	// DeployLogName is the file EnvDeploy output is captured to. It is
	// written outside the workspace so it survives teardown.
	DeployLogName = "envdeploy.log"

	gitBinary = "git"

	// deployScript is relative so exec resolves it against cmd.Dir; the
	// script expects to run from the checkout root.
	deployScript = "./EnvDeploy"
)

type (
	// ExecCommandFunc is the function signature for creating exec.Cmd.
	// It matches exec.CommandContext and can be replaced for testing.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// MountLister returns the live mount table. It matches mounts.Snapshot
	// and can be replaced for testing.
	MountLister func(ctx context.Context) ([]mounts.Point, error)

	// Repo wraps one checkout of the build-script repository.
	Repo struct {
		repoURL     string
		execCommand ExecCommandFunc
		listMounts  MountLister
	}

	// Option configures a Repo.
	Option func(*Repo)

	// GitError reports a failed git invocation, carrying its combined
	// output for diagnosis.
	GitError struct {
		Args   []string
		Output string
		Err    error
	}

	// DeployError reports a failed environment deploy. The full script
	// output is in the log file at LogPath.
	DeployError struct {
		Version  catalog.Version
		Platform catalog.Platform
		LogPath  string
		Err      error
	}
)

// Error implements the error interface for GitError.
func (e *GitError) Error() string {
	msg := fmt.Sprintf("git %s failed: %v", strings.Join(e.Args, " "), e.Err)
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

// Unwrap returns the underlying command error.
func (e *GitError) Unwrap() error { return e.Err }

// Error implements the error interface for DeployError.
func (e *DeployError) Error() string {
	return fmt.Sprintf("deploying DSM %s environment for %s: %v (full output in %s)",
		e.Version, e.Platform, e.Err, e.LogPath)
}

// Unwrap returns the underlying command error.
func (e *DeployError) Unwrap() error { return e.Err }

// WithRepoURL overrides the build-script repository URL.
func WithRepoURL(url string) Option {
	return func(r *Repo) {
		r.repoURL = url
	}
}

// WithExecCommand overrides the command factory. Intended for testing.
func WithExecCommand(fn ExecCommandFunc) Option {
	return func(r *Repo) {
		r.execCommand = fn
	}
}

// WithMountLister overrides how the live mount table is read. Intended for
// testing.
func WithMountLister(fn MountLister) Option {
	return func(r *Repo) {
		r.listMounts = fn
	}
}

// New creates a Repo with sensible defaults: the upstream repository URL,
// real subprocesses and the real mount table.
func New(opts ...Option) *Repo {
	r := &Repo{
		repoURL:     DefaultRepoURL,
		execCommand: exec.CommandContext,
		listMounts:  mounts.Snapshot,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Clone clones an arbitrary repository into destDir at its default branch.
// Used for the optional project source checkout.
func (r *Repo) Clone(ctx context.Context, url, destDir string) error {
	if err := r.runGit(ctx, "clone", url, destDir); err != nil {
		return fmt.Errorf("cloning %s: %w", url, err)
	}
	return nil
}

// Checkout clones the build-script repository into destDir and switches it
// to the given branch. Clone and checkout are separate git invocations so an
// unreachable repository is distinguishable from a missing version branch.
func (r *Repo) Checkout(ctx context.Context, branch, destDir string) error {
	if err := r.runGit(ctx, "clone", r.repoURL, destDir); err != nil {
		return fmt.Errorf("cloning build scripts: %w", err)
	}
	if err := r.runGit(ctx, "-C", destDir, "checkout", branch); err != nil {
		return fmt.Errorf("checking out branch %s: %w", branch, err)
	}
	return nil
}

// Deploy runs EnvDeploy from scriptsDir to unpack the toolkit into a chroot
// tree, capturing all script output to logPath. It returns the mounts the
// deploy created, computed by diffing the mount table around the run. The
// returned points are valid even when Deploy fails partway, so callers can
// always detach what was attached.
func (r *Repo) Deploy(ctx context.Context, scriptsDir string, version catalog.Version, platform catalog.Platform, logPath string) (points []mounts.Point, err error) {
	before, err := r.listMounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshotting mounts before deploy: %w", err)
	}

	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("creating deploy log: %w", err)
	}
	defer func() {
		if closeErr := logFile.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing deploy log: %w", closeErr)
		}
	}()

	cmd := r.execCommand(ctx, deployScript, "-D", "-v", version.String(), "-p", platform.String())
	cmd.Dir = scriptsDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	runErr := cmd.Run()

	// The after snapshot must run even when ctx was canceled mid-deploy,
	// otherwise created mounts cannot be attributed and would leak.
	after, snapErr := r.listMounts(context.WithoutCancel(ctx))
	if snapErr != nil {
		return nil, errors.Join(runErr, fmt.Errorf("snapshotting mounts after deploy: %w", snapErr))
	}
	points = mounts.Diff(before, after)

	if runErr != nil {
		return points, &DeployError{Version: version, Platform: platform, LogPath: logPath, Err: runErr}
	}
	return points, nil
}

func (r *Repo) runGit(ctx context.Context, args ...string) error {
	cmd := r.execCommand(ctx, gitBinary, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return &GitError{Args: args, Output: strings.TrimSpace(string(out)), Err: err}
	}
	return nil
}

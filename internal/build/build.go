// SPDX-License-Identifier: MPL-2.0

// Package build orchestrates one build-environment run: catalog resolution,
// artifact download, build-script checkout, environment deploy, and the
// teardown that follows no matter which stage failed. The runner is the only
// place that sequences these stages, so the teardown guarantee lives in
// exactly one defer.
package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/haukened/teleport-spk/internal/catalog"
	"github.com/haukened/teleport-spk/internal/fetch"
	"github.com/haukened/teleport-spk/internal/mounts"
	"github.com/haukened/teleport-spk/internal/pkgscripts"
	"github.com/haukened/teleport-spk/internal/workspace"
)

// Pipeline stages, in execution order. Stage names appear in error messages
// so a failure always says where the run stopped.
const (
	StageInit      Stage = "init"
	StageCatalog   Stage = "catalog"
	StageArtifacts Stage = "artifacts"
	StageWorkspace Stage = "workspace"
	StageDownload  Stage = "download"
	StageCheckout  Stage = "checkout"
	StageSource    Stage = "source"
	StageDeploy    Stage = "deploy"
	StageTeardown  Stage = "teardown"
)

// ErrNotRoot is returned when a run starts without elevated privileges.
// Deploying the environment mounts pseudo-filesystems, which requires root.
var ErrNotRoot = errors.New("elevated privileges required")

type (
	// Stage names one step of the pipeline.
	Stage string

	// StageError attributes a failure to the stage that raised it.
	StageError struct {
		Stage Stage
		Err   error
	}

	// Request describes one build-environment run. It is immutable once
	// validated.
	Request struct {
		// Version is the DSM version to target. Empty selects the newest
		// version the catalog offers.
		Version catalog.Version
		// Platform is the processor family to target.
		Platform catalog.Platform
		// CachePath is the artifact cache directory.
		CachePath string
		// UseCache enables the fingerprint cache.
		UseCache bool
		// SourceRepoURL, when set, names a project repository to clone into
		// the workspace source directory.
		SourceRepoURL string
		// DeployLogPath overrides where EnvDeploy output is captured. Empty
		// means pkgscripts.DeployLogName in the working directory, so the
		// log survives workspace teardown.
		DeployLogPath string
		// Timeout bounds the whole run. Zero means no limit.
		Timeout time.Duration
	}

	// Outcome reports what a completed run did.
	Outcome struct {
		Version   catalog.Version
		Platform  catalog.Platform
		Artifacts []string
		CacheHits int
		Mounts    int
		DeployLog string
	}

	// Catalog resolves supported versions and per-build artifact lists.
	Catalog interface {
		ListVersions(ctx context.Context) ([]catalog.Version, error)
		ResolveArtifacts(ctx context.Context, version catalog.Version, platform catalog.Platform) ([]string, error)
	}

	// Fetcher downloads one artifact to a destination path.
	Fetcher interface {
		Fetch(ctx context.Context, url, destPath string) (*fetch.Result, error)
	}

	// ScriptRepo checks out repositories and deploys the environment.
	ScriptRepo interface {
		Clone(ctx context.Context, url, destDir string) error
		Checkout(ctx context.Context, branch, destDir string) error
		Deploy(ctx context.Context, scriptsDir string, version catalog.Version, platform catalog.Platform, logPath string) ([]mounts.Point, error)
	}

	// Workspace is the per-run directory tree.
	Workspace interface {
		Root() string
		ScriptsDir() string
		TarballsDir() string
		SourceDir() string
		Destroy(ctx context.Context) error
	}

	// FetcherFactory builds a Fetcher for a cache configuration. The runner
	// calls it once per run, after the request is validated.
	FetcherFactory func(cachePath string, useCache bool) Fetcher

	// WorkspaceFactory creates the run workspace.
	WorkspaceFactory func() (Workspace, error)

	// SpinFunc wraps a long-running step with a progress indicator and
	// returns the step's error. The default runs the step directly.
	SpinFunc func(title string, fn func() error) error

	// Runner executes build-environment runs.
	Runner struct {
		catalog      Catalog
		repo         ScriptRepo
		newFetcher   FetcherFactory
		newWorkspace WorkspaceFactory
		detachMounts func([]mounts.Point) error
		spin         SpinFunc
		geteuid      func() int
	}

	// Option configures a Runner.
	Option func(*Runner)
)

// Error implements the error interface for StageError.
func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying stage failure.
func (e *StageError) Unwrap() error { return e.Err }

// Validate checks the request against the static platform set and the
// version syntax. It performs no I/O; catalog membership is checked later,
// once the version list has been fetched.
func (r Request) Validate() error {
	if err := r.Platform.Validate(); err != nil {
		return err
	}
	if r.Version != "" {
		if err := r.Version.Validate(); err != nil {
			return err
		}
	}
	if r.UseCache && r.CachePath == "" {
		return errors.New("cache path must be set when caching is enabled")
	}
	return nil
}

// WithCatalog overrides the version/artifact catalog client.
func WithCatalog(c Catalog) Option {
	return func(r *Runner) {
		r.catalog = c
	}
}

// WithScriptRepo overrides the build-script repository handler.
func WithScriptRepo(repo ScriptRepo) Option {
	return func(r *Runner) {
		r.repo = repo
	}
}

// WithFetcherFactory overrides how the artifact downloader is built, letting
// callers attach progress reporting or custom HTTP clients.
func WithFetcherFactory(fn FetcherFactory) Option {
	return func(r *Runner) {
		r.newFetcher = fn
	}
}

// WithWorkspaceFactory overrides how the run workspace is created.
func WithWorkspaceFactory(fn WorkspaceFactory) Option {
	return func(r *Runner) {
		r.newWorkspace = fn
	}
}

// WithSpinner sets the progress indicator wrapped around the deploy step.
func WithSpinner(fn SpinFunc) Option {
	return func(r *Runner) {
		r.spin = fn
	}
}

// WithMountDetacher overrides how deploy-created mounts are detached during
// teardown. Intended for testing.
func WithMountDetacher(fn func([]mounts.Point) error) Option {
	return func(r *Runner) {
		r.detachMounts = fn
	}
}

// WithGeteuid overrides the privilege probe. Intended for testing.
func WithGeteuid(fn func() int) Option {
	return func(r *Runner) {
		r.geteuid = fn
	}
}

// NewRunner creates a Runner with sensible defaults: the public catalog
// endpoints, the upstream build-script repository, real workspaces and
// mounts, and no progress display.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		catalog: catalog.NewClient(),
		repo:    pkgscripts.New(),
		newFetcher: func(cachePath string, useCache bool) Fetcher {
			return fetch.NewDownloader(cachePath, useCache)
		},
		newWorkspace: func() (Workspace, error) {
			ws, err := workspace.Create()
			if err != nil {
				return nil, err
			}
			return ws, nil
		},
		detachMounts: mounts.UnmountAll,
		spin:         func(_ string, fn func() error) error { return fn() },
		geteuid:      os.Geteuid,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the full pipeline for req. Validation happens before any
// network traffic, and catalog membership is confirmed before the workspace
// exists. Once the workspace is created, teardown is guaranteed: mounts the
// deploy created are detached and the workspace removed even when a later
// stage failed or ctx was canceled. A teardown failure is joined onto the
// stage error; if the pipeline itself succeeded, the Outcome is returned
// alongside the teardown error.
func (r *Runner) Run(ctx context.Context, req Request) (outcome *Outcome, err error) {
	if r.geteuid() != 0 {
		return nil, &StageError{Stage: StageInit, Err: ErrNotRoot}
	}
	if verr := req.Validate(); verr != nil {
		return nil, &StageError{Stage: StageInit, Err: verr}
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	versions, cerr := r.catalog.ListVersions(ctx)
	if cerr != nil {
		return nil, &StageError{Stage: StageCatalog, Err: cerr}
	}
	version := req.Version
	if version == "" {
		latest, ok := catalog.Latest(versions)
		if !ok {
			return nil, &StageError{Stage: StageCatalog, Err: errors.New("catalog returned no versions")}
		}
		version = latest
		slog.Debug("defaulted to newest DSM version", "version", version)
	} else if !catalog.Contains(versions, version) {
		return nil, &StageError{Stage: StageCatalog, Err: &catalog.UnsupportedVersionError{
			Value:     version,
			Supported: versions,
		}}
	}

	urls, aerr := r.catalog.ResolveArtifacts(ctx, version, req.Platform)
	if aerr != nil {
		return nil, &StageError{Stage: StageArtifacts, Err: aerr}
	}
	slog.Debug("resolved toolkit artifacts", "version", version, "platform", req.Platform, "count", len(urls))

	ws, werr := r.newWorkspace()
	if werr != nil {
		return nil, &StageError{Stage: StageWorkspace, Err: werr}
	}
	slog.Debug("created workspace", "root", ws.Root())

	var created []mounts.Point
	defer func() {
		// Teardown runs on a context that survives cancellation: a timed-out
		// run must still unmount and delete its workspace.
		if terr := r.teardown(context.WithoutCancel(ctx), ws, created); terr != nil {
			err = errors.Join(err, &StageError{Stage: StageTeardown, Err: terr})
		}
	}()

	fetcher := r.newFetcher(req.CachePath, req.UseCache)
	cacheHits := 0
	for _, url := range urls {
		dest := filepath.Join(ws.TarballsDir(), path.Base(url))
		res, ferr := fetcher.Fetch(ctx, url, dest)
		if ferr != nil {
			return nil, &StageError{Stage: StageDownload, Err: ferr}
		}
		if res.CacheHit {
			cacheHits++
			slog.Debug("artifact cache hit", "url", url, "fingerprint", res.Fingerprint)
		}
	}

	branch := version.Branch()
	if cherr := r.repo.Checkout(ctx, branch, ws.ScriptsDir()); cherr != nil {
		return nil, &StageError{Stage: StageCheckout, Err: cherr}
	}
	slog.Debug("checked out build scripts", "branch", branch)

	if req.SourceRepoURL != "" {
		if serr := r.repo.Clone(ctx, req.SourceRepoURL, ws.SourceDir()); serr != nil {
			return nil, &StageError{Stage: StageSource, Err: serr}
		}
		slog.Debug("checked out project source", "url", req.SourceRepoURL)
	}

	logPath := req.DeployLogPath
	if logPath == "" {
		logPath = pkgscripts.DeployLogName
	}
	derr := r.spin(fmt.Sprintf("Deploying DSM %s environment for %s", version, req.Platform), func() error {
		var deployErr error
		// created is assigned even on failure so teardown can detach
		// whatever the deploy managed to mount.
		created, deployErr = r.repo.Deploy(ctx, ws.ScriptsDir(), version, req.Platform, logPath)
		return deployErr
	})
	if derr != nil {
		return nil, &StageError{Stage: StageDeploy, Err: derr}
	}
	slog.Debug("environment deployed", "mounts", len(created), "log", logPath)

	return &Outcome{
		Version:   version,
		Platform:  req.Platform,
		Artifacts: urls,
		CacheHits: cacheHits,
		Mounts:    len(created),
		DeployLog: logPath,
	}, nil
}

// teardown detaches the mounts deploy created, then destroys the workspace.
// Destroy re-scans the live mount table under the workspace root before
// removal, so a mount the deploy created but never reported still blocks
// deletion instead of being deleted underneath.
func (r *Runner) teardown(ctx context.Context, ws Workspace, created []mounts.Point) error {
	var errs []error
	if err := r.detachMounts(created); err != nil {
		errs = append(errs, err)
	}
	if err := ws.Destroy(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

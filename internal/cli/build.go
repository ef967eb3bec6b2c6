// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/haukened/teleport-spk/internal/build"
	"github.com/haukened/teleport-spk/internal/catalog"
	"github.com/haukened/teleport-spk/internal/config"
	"github.com/haukened/teleport-spk/internal/fetch"
	"github.com/haukened/teleport-spk/internal/issue"
	"github.com/haukened/teleport-spk/internal/pkgscripts"
	"github.com/haukened/teleport-spk/internal/tui"
)

// buildFlags holds the build command's flag values.
type buildFlags struct {
	dsmVersion string
	processor  string
	cachePath  string
	noCache    bool
	source     string
	timeout    time.Duration
}

func newBuildCommand(app *App, root *rootFlags) *cobra.Command {
	flags := &buildFlags{}

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Deploy a DSM cross-compilation build environment",
		Long: `Build assembles a chrooted cross-compilation environment for one DSM
version and processor platform: it resolves the toolkit artifact list,
downloads the artifacts through the fingerprint cache, checks out the
vendor build scripts, deploys the environment with EnvDeploy, and tears
everything down again.

Deploying mounts pseudo-filesystems into the environment, so the command
must run as root.`,
		Example: `  sudo teleport-spk build --processor avoton
  sudo teleport-spk build --processor rtd1296 --dsm-version 7.1
  sudo teleport-spk build --processor avoton --nocache --timeout 30m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBuild(cmd, app, root, flags)
		},
	}

	cmd.Flags().StringVar(&flags.dsmVersion, "dsm-version", "", "DSM version to target (default: newest in the catalog)")
	cmd.Flags().StringVarP(&flags.processor, "processor", "p", "", "processor platform to build for (see 'teleport-spk platforms')")
	cmd.Flags().StringVar(&flags.cachePath, "cache-path", config.DefaultCachePath, "toolkit artifact cache directory")
	cmd.Flags().BoolVar(&flags.noCache, "nocache", false, "ignore cached artifacts and download fresh copies")
	cmd.Flags().StringVar(&flags.source, "source", "", "project repository to clone into the workspace source directory")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 0, "abort the run after this duration (0 means no limit)")
	_ = cmd.MarkFlagRequired("processor")

	return cmd
}

func runBuild(cmd *cobra.Command, app *App, root *rootFlags, flags *buildFlags) error {
	ctx := cmd.Context()

	cfg, _, err := app.loadConfig(ctx, root)
	if err != nil {
		return err
	}

	req := buildRequest(cmd, cfg, flags)
	if err := req.Validate(); err != nil {
		return app.runFailure(err, root)
	}

	if req.UseCache {
		if err := os.MkdirAll(req.CachePath, 0o755); err != nil {
			return fmt.Errorf("creating cache directory: %w", err)
		}
	}

	progress := tui.NewProgressPrinter(app.stdout, "toolkit", progressOptions(root)...)

	runner := app.NewRunner(
		build.WithCatalog(catalogClient(cfg)),
		build.WithScriptRepo(pkgscripts.New(pkgscripts.WithRepoURL(cfg.RepoURL.String()))),
		build.WithFetcherFactory(func(cachePath string, useCache bool) build.Fetcher {
			return fetch.NewDownloader(cachePath, useCache,
				fetch.WithProgress(progress.Update),
				fetch.WithUserAgent(userAgent()),
			)
		}),
		build.WithSpinner(stepSpinner(app, root, progress)),
	)

	outcome, err := runner.Run(ctx, req)
	progress.Finish()
	if err != nil {
		return app.runFailure(err, root)
	}

	reportOutcome(app.stdout, outcome)
	return nil
}

// buildRequest merges flag values over configuration. Flags win when set on
// the command line; otherwise config values apply.
func buildRequest(cmd *cobra.Command, cfg *config.Config, flags *buildFlags) build.Request {
	req := build.Request{
		Version:       catalog.Version(flags.dsmVersion),
		Platform:      catalog.Platform(flags.processor),
		CachePath:     cfg.CachePath.String(),
		UseCache:      !flags.noCache,
		SourceRepoURL: cfg.SourceRepoURL.String(),
		Timeout:       cfg.Timeout,
	}
	if cmd.Flags().Changed("cache-path") {
		req.CachePath = flags.cachePath
	}
	if cmd.Flags().Changed("source") {
		req.SourceRepoURL = flags.source
	}
	if cmd.Flags().Changed("timeout") {
		req.Timeout = flags.timeout
	}
	return req
}

// progressOptions builds the download progress options for the root flags.
func progressOptions(root *rootFlags) []tui.ProgressOption {
	if root.noColor {
		return []tui.ProgressOption{tui.WithProgressPlain(true)}
	}
	return nil
}

// stepSpinner adapts tui.Spin for the pipeline's long-running steps. Any
// open download progress line is terminated first so the spinner starts on
// its own line.
func stepSpinner(app *App, root *rootFlags, progress *tui.ProgressPrinter) build.SpinFunc {
	return func(title string, fn func() error) error {
		progress.Finish()
		opts := []tui.SpinOption{tui.WithSpinOutput(app.stdout)}
		if root.noColor {
			opts = append(opts, tui.WithSpinPlain(true))
		}
		return tui.Spin(title, fn, opts...)
	}
}

// reportOutcome prints the success summary for a completed run.
func reportOutcome(w io.Writer, out *build.Outcome) {
	fmt.Fprintf(w, "%s DSM %s build environment for %s deployed\n",
		SuccessStyle.Render("✓"), out.Version, out.Platform)
	cached := ""
	if out.CacheHits > 0 {
		cached = fmt.Sprintf(" (%d from cache)", out.CacheHits)
	}
	fmt.Fprintf(w, "  artifacts:  %d%s\n", len(out.Artifacts), cached)
	fmt.Fprintf(w, "  deploy log: %s\n", CmdStyle.Render(out.DeployLog))
}

// runFailure renders troubleshooting guidance for known failure classes and
// wraps err with the process exit code.
func (a *App) runFailure(err error, root *rootFlags) error {
	if id := issueFor(err); id != 0 {
		a.renderIssue(id, root)
	}
	code := exitFailure
	var gitErr *pkgscripts.GitError
	if errors.As(err, &gitErr) {
		code = exitRepository
	}
	return &ExitError{Code: code, Err: err}
}

// issueFor maps a pipeline failure to its troubleshooting issue. Zero means
// no guidance exists for this error class.
func issueFor(err error) issue.Id {
	var gitErr *pkgscripts.GitError
	var deployErr *pkgscripts.DeployError
	var stageErr *build.StageError

	switch {
	case errors.Is(err, build.ErrNotRoot):
		return issue.ElevatedPrivilegesId
	case errors.Is(err, catalog.ErrInvalidPlatform):
		return issue.UnsupportedPlatformId
	case errors.Is(err, catalog.ErrInvalidVersion), errors.Is(err, catalog.ErrUnsupportedVersion):
		return issue.UnsupportedVersionId
	case errors.As(err, &gitErr):
		if errors.Is(gitErr.Err, exec.ErrNotFound) {
			return issue.GitNotFoundId
		}
		return issue.ScriptsCheckoutFailedId
	case errors.As(err, &deployErr):
		return issue.DeployFailedId
	case errors.As(err, &stageErr):
		switch stageErr.Stage {
		case build.StageCatalog, build.StageArtifacts:
			return issue.CatalogUnreachableId
		case build.StageDownload:
			return issue.ToolkitDownloadFailedId
		case build.StageTeardown:
			return issue.MountBusyId
		}
	}
	return 0
}

// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/haukened/teleport-spk/internal/build"
	"github.com/haukened/teleport-spk/internal/catalog"
	"github.com/haukened/teleport-spk/internal/config"
	"github.com/haukened/teleport-spk/internal/issue"
	"github.com/haukened/teleport-spk/internal/selfupdate"
)

type (
	// VersionLister lists the DSM versions with published toolchains.
	VersionLister interface {
		ListVersions(ctx context.Context) ([]catalog.Version, error)
	}

	// BuildRunner executes one build-environment run.
	BuildRunner interface {
		Run(ctx context.Context, req build.Request) (*build.Outcome, error)
	}

	// Upgrader checks for and applies new releases of this binary.
	Upgrader interface {
		Check(ctx context.Context, targetVersion string) (*selfupdate.UpgradeCheck, error)
		Apply(ctx context.Context, release *selfupdate.Release) error
	}

	// Dependencies carries the external touchpoints of the command tree.
	// Any field left nil selects the production implementation, so callers
	// only fill in what they want to replace.
	Dependencies struct {
		// LoadConfig resolves the effective configuration.
		LoadConfig func(ctx context.Context, opts config.LoadOptions) (*config.Config, string, error)
		// NewCatalog builds the catalog client for a configuration.
		NewCatalog func(cfg *config.Config) VersionLister
		// NewRunner builds the pipeline runner the build command drives.
		NewRunner func(opts ...build.Option) BuildRunner
		// NewUpdater builds the self-update client for the running version.
		NewUpdater func(currentVersion string) Upgrader
		// Stdout and Stderr receive command output.
		Stdout io.Writer
		Stderr io.Writer
	}

	// App aggregates the dependencies all commands act through.
	App struct {
		LoadConfig func(ctx context.Context, opts config.LoadOptions) (*config.Config, string, error)
		NewCatalog func(cfg *config.Config) VersionLister
		NewRunner  func(opts ...build.Option) BuildRunner
		NewUpdater func(currentVersion string) Upgrader

		stdout io.Writer
		stderr io.Writer
	}
)

// NewApp assembles an App, substituting production implementations for every
// dependency left nil.
func NewApp(deps Dependencies) *App {
	if deps.LoadConfig == nil {
		deps.LoadConfig = config.Load
	}
	if deps.NewCatalog == nil {
		deps.NewCatalog = func(cfg *config.Config) VersionLister {
			return catalogClient(cfg)
		}
	}
	if deps.NewRunner == nil {
		deps.NewRunner = func(opts ...build.Option) BuildRunner {
			return build.NewRunner(opts...)
		}
	}
	if deps.NewUpdater == nil {
		deps.NewUpdater = func(currentVersion string) Upgrader {
			return selfupdate.NewUpdater(currentVersion)
		}
	}
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}

	return &App{
		LoadConfig: deps.LoadConfig,
		NewCatalog: deps.NewCatalog,
		NewRunner:  deps.NewRunner,
		NewUpdater: deps.NewUpdater,
		stdout:     deps.Stdout,
		stderr:     deps.Stderr,
	}
}

// loadConfig resolves the effective configuration, rendering the
// configuration troubleshooting guidance before surfacing a load failure.
func (a *App) loadConfig(ctx context.Context, root *rootFlags) (*config.Config, string, error) {
	cfg, path, err := a.LoadConfig(ctx, config.LoadOptions{ConfigFilePath: root.configFile})
	if err != nil {
		a.renderIssue(issue.ConfigLoadFailedId, root)
		if root.verbose {
			fmt.Fprintln(a.stderr, formatErrorForDisplay(err, true))
		}
		return nil, "", err
	}
	return cfg, path, nil
}

// renderIssue writes the remediation guidance for id to stderr. Rendering is
// best effort: a failed render logs and moves on so the original error still
// reaches the user.
func (a *App) renderIssue(id issue.Id, root *rootFlags) {
	iss := issue.Get(id)
	if iss == nil {
		return
	}
	rendered, err := iss.Render(issueStyle(root))
	if err != nil {
		slog.Debug("rendering troubleshooting guidance", "issue", int(id), "error", err)
		return
	}
	fmt.Fprint(a.stderr, rendered)
}

// issueStyle picks the glamour style for guidance output.
func issueStyle(root *rootFlags) string {
	if root.noColor {
		return "notty"
	}
	return "dark"
}

// catalogClient builds the production catalog client for cfg.
func catalogClient(cfg *config.Config) *catalog.Client {
	return catalog.NewClient(
		catalog.WithBranchesURL(cfg.BranchesURL.String()),
		catalog.WithToolkitURL(cfg.ToolkitURL.String()),
		catalog.WithUserAgent(userAgent()),
	)
}

// userAgent identifies this binary to the catalog endpoints.
func userAgent() string {
	return "teleport-spk/" + Version
}

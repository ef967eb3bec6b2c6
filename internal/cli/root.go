// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/haukened/teleport-spk/internal/issue"
)

// Build metadata, injected via ldflags at release time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// rootFlags holds the persistent flags every command inherits.
type rootFlags struct {
	configFile string
	verbose    bool
	noColor    bool
}

// NewRootCommand builds the full command tree wired to app.
func NewRootCommand(app *App) *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:   "teleport-spk",
		Short: "Assemble Synology DSM cross-compilation build environments",
		Long: TitleStyle.Render("teleport-spk") + SubtitleStyle.Render(" - Synology DSM build environments") + `

teleport-spk assembles chrooted cross-compilation environments for
Synology DSM packages. A build run resolves the toolchain catalog for a
DSM version and processor platform, downloads the toolkit artifacts
through a fingerprint cache, checks out the vendor build scripts, and
deploys the environment with EnvDeploy before tearing it down again.

` + SubtitleStyle.Render("Examples:") + `
  ` + CmdStyle.Render("sudo teleport-spk build --processor avoton") + `   deploy for the newest DSM
  ` + CmdStyle.Render("teleport-spk versions") + `                        list supported DSM versions
  ` + CmdStyle.Render("teleport-spk platforms") + `                       list processor platforms
  ` + CmdStyle.Render("teleport-spk cache list") + `                      inspect the artifact cache`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if flags.noColor {
				lipgloss.SetColorProfile(termenv.Ascii)
			}
			setupLogging(app.stderr, flags.verbose)
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&flags.configFile, "config", "", "config file (default: config.cue in the user config directory)")
	rootCmd.PersistentFlags().BoolVar(&flags.noColor, "no-color", false, "disable colors and animations")

	rootCmd.AddCommand(
		newBuildCommand(app, flags),
		newVersionsCommand(app, flags),
		newPlatformsCommand(app),
		newCacheCommand(app, flags),
		newConfigCommand(app, flags),
		newSelfupdateCommand(app, flags),
		newTroubleshootCommand(app, flags),
	)

	return rootCmd
}

// setupLogging routes slog through a charm logger writing to w. Verbose
// enables debug lines; the default level hides everything below info.
func setupLogging(w io.Writer, verbose bool) {
	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: false,
	})
	if verbose {
		logger.SetLevel(log.DebugLevel)
	}
	slog.SetDefault(slog.New(logger))
}

// Execute runs the command tree with production dependencies and exits the
// process on error. Called from main.
func Execute() {
	app := NewApp(Dependencies{})
	rootCmd := NewRootCommand(app)

	// fang overrides rootCmd.Version, so the version string goes in via
	// fang.WithVersion. The interrupt signal cancels the command context,
	// which unwinds the build pipeline through its teardown path.
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(exitFailure)
	}
}

// formatErrorForDisplay renders err for the user. Actionable errors print
// their suggestions, and verbose mode appends the full error chain.
func formatErrorForDisplay(err error, verbose bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verbose)
	}
	return err.Error()
}

// getVersionString formats the build metadata for --version.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate)
}

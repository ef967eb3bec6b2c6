// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haukened/teleport-spk/internal/selfupdate"
	"github.com/haukened/teleport-spk/internal/tui"
)

func newSelfupdateCommand(app *App, root *rootFlags) *cobra.Command {
	var checkOnly bool

	cmd := &cobra.Command{
		Use:   "selfupdate [version]",
		Short: "Upgrade teleport-spk to a newer release",
		Long: `Selfupdate replaces the running binary with a published release. Without
a version argument it targets the newest stable release; with one it
targets that release, which also allows deliberate downgrades.

The downloaded archive is verified against the release's checksum
manifest before the binary is swapped. Binaries installed with go
install are left alone and the matching go install command is printed
instead.`,
		Example: `  teleport-spk selfupdate
  teleport-spk selfupdate --check
  teleport-spk selfupdate v1.2.0`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := ""
			if len(args) == 1 {
				target = args[0]
			}
			return runSelfupdate(cmd, app, root, target, checkOnly)
		},
	}

	cmd.Flags().BoolVar(&checkOnly, "check", false, "only report whether an upgrade is available")

	return cmd
}

func runSelfupdate(cmd *cobra.Command, app *App, root *rootFlags, target string, checkOnly bool) error {
	ctx := cmd.Context()

	updater := app.NewUpdater(Version)
	check, err := updater.Check(ctx, target)
	if err != nil {
		return fmt.Errorf("checking for updates: %w", err)
	}

	fmt.Fprintln(app.stdout, check.Message)
	if !check.UpgradeAvailable {
		return nil
	}

	if check.InstallMethod == selfupdate.MethodGoInstall {
		fmt.Fprintln(app.stdout, "This binary is managed by go install. Upgrade with:")
		fmt.Fprintln(app.stdout, "  "+CmdStyle.Render("go install github.com/haukened/teleport-spk/cmd/teleport-spk@latest"))
		return nil
	}
	if checkOnly {
		fmt.Fprintf(app.stdout, "Run %s to upgrade.\n", CmdStyle.Render("teleport-spk selfupdate"))
		return nil
	}

	opts := []tui.SpinOption{tui.WithSpinOutput(app.stdout)}
	if root.noColor {
		opts = append(opts, tui.WithSpinPlain(true))
	}
	err = tui.Spin(fmt.Sprintf("Downloading teleport-spk %s", check.Target.TagName), func() error {
		return updater.Apply(ctx, check.Target)
	}, opts...)
	if err != nil {
		return fmt.Errorf("applying update: %w", err)
	}

	fmt.Fprintf(app.stdout, "%s Upgraded to %s\n", SuccessStyle.Render("✓"), check.Target.TagName)
	return nil
}

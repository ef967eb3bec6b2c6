// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haukened/teleport-spk/internal/catalog"
)

func newPlatformsCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "platforms",
		Short: "List supported processor platforms",
		Long: `Platforms prints every processor platform a build environment can be
deployed for. Pass one of these to 'build --processor'.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			fmt.Fprintln(app.stdout, TitleStyle.Render("Supported processor platforms"))
			for _, p := range catalog.Platforms() {
				fmt.Fprintf(app.stdout, "  %s\n", p)
			}
			fmt.Fprintf(app.stdout, "\n%s\n  %s\n",
				SubtitleStyle.Render("Find your device's platform:"),
				CmdStyle.Render("https://kb.synology.com/en-us/DSM/tutorial/What_kind_of_CPU_does_my_NAS_have"))
			return nil
		},
	}
}

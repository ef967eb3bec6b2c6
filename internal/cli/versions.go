// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haukened/teleport-spk/internal/catalog"
	"github.com/haukened/teleport-spk/internal/issue"
)

func newVersionsCommand(app *App, root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "versions",
		Short: "List DSM versions with published toolchains",
		Long: `Versions queries the build-script branch catalog and prints every DSM
version a toolchain is published for, oldest first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runVersions(cmd.Context(), app, root)
		},
	}
}

func runVersions(ctx context.Context, app *App, root *rootFlags) error {
	cfg, _, err := app.loadConfig(ctx, root)
	if err != nil {
		return err
	}

	versions, err := app.NewCatalog(cfg).ListVersions(ctx)
	if err != nil {
		app.renderIssue(issue.CatalogUnreachableId, root)
		return fmt.Errorf("listing DSM versions: %w", err)
	}

	catalog.SortVersions(versions)
	latest, ok := catalog.Latest(versions)

	fmt.Fprintln(app.stdout, TitleStyle.Render("Supported DSM versions"))
	for _, v := range versions {
		marker := ""
		if ok && v == latest {
			marker = " " + SuccessStyle.Render("(latest)")
		}
		fmt.Fprintf(app.stdout, "  %s%s\n", v, marker)
	}
	return nil
}

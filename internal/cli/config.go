// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/haukened/teleport-spk/internal/config"
)

func newConfigCommand(app *App, root *rootFlags) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage teleport-spk configuration",
		Long: `Config manages the teleport-spk configuration file. The file lives in
the user config directory (XDG_CONFIG_HOME, ~/.config by default) and
uses CUE syntax; every key falls back to a built-in default when absent.`,
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd, app, root)
		},
	}
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default config file",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runConfigInit(app)
		},
	}
	pathCmd := &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			path, err := defaultConfigPath()
			if err != nil {
				return err
			}
			fmt.Fprintln(app.stdout, path)
			return nil
		},
	}

	configCmd.AddCommand(showCmd, initCmd, pathCmd)
	return configCmd
}

func runConfigShow(cmd *cobra.Command, app *App, root *rootFlags) error {
	cfg, loadedFrom, err := app.loadConfig(cmd.Context(), root)
	if err != nil {
		return err
	}

	fmt.Fprintln(app.stdout, TitleStyle.Render("Current configuration"))
	if loadedFrom != "" {
		fmt.Fprintf(app.stdout, "%s %s\n\n", SubtitleStyle.Render("Loaded from:"), CmdStyle.Render(loadedFrom))
	} else {
		fmt.Fprintf(app.stdout, "%s\n\n", SubtitleStyle.Render("Using built-in defaults (no config file found)"))
	}

	fmt.Fprintf(app.stdout, "  %-16s %s\n", "cache_path", cfg.CachePath)
	fmt.Fprintf(app.stdout, "  %-16s %s\n", "repo_url", cfg.RepoURL)
	fmt.Fprintf(app.stdout, "  %-16s %s\n", "source_repo_url", orNone(cfg.SourceRepoURL.String()))
	fmt.Fprintf(app.stdout, "  %-16s %s\n", "branches_url", cfg.BranchesURL)
	fmt.Fprintf(app.stdout, "  %-16s %s\n", "toolkit_url", cfg.ToolkitURL)
	timeout := orNone("")
	if cfg.Timeout > 0 {
		timeout = cfg.Timeout.String()
	}
	fmt.Fprintf(app.stdout, "  %-16s %s\n", "timeout", timeout)
	return nil
}

func runConfigInit(app *App) error {
	path, err := defaultConfigPath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(app.stdout, "%s Config file already exists: %s\n",
			WarningStyle.Render("!"), CmdStyle.Render(path))
		return nil
	}

	if err := config.CreateDefaultConfig(); err != nil {
		return fmt.Errorf("creating default config: %w", err)
	}
	fmt.Fprintf(app.stdout, "%s Created %s\n", SuccessStyle.Render("✓"), CmdStyle.Render(path))
	return nil
}

// defaultConfigPath is where config init writes and config path points.
func defaultConfigPath() (string, error) {
	dir, err := config.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, config.ConfigFileName+"."+config.ConfigFileExt), nil
}

// orNone substitutes a muted placeholder for empty values.
func orNone(s string) string {
	if s == "" {
		return SubtitleStyle.Render("(none)")
	}
	return s
}

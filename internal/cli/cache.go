// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/haukened/teleport-spk/internal/config"
	"github.com/haukened/teleport-spk/internal/fetch"
	"github.com/haukened/teleport-spk/internal/tui"
)

// cacheEntry describes one fingerprint-keyed artifact in the cache.
type cacheEntry struct {
	name    string
	size    int64
	modTime time.Time
}

func newCacheCommand(app *App, root *rootFlags) *cobra.Command {
	var cachePath string

	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the toolkit artifact cache",
		Long: `Cache inspects and empties the fingerprint-keyed artifact cache that
build runs download toolkit tarballs into.`,
	}
	cacheCmd.PersistentFlags().StringVar(&cachePath, "cache-path", config.DefaultCachePath, "toolkit artifact cache directory")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List cached toolkit artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCacheList(cmd, app, root, &cachePath)
		},
	}
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove all cached toolkit artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCacheClear(cmd, app, root, &cachePath)
		},
	}

	cacheCmd.AddCommand(listCmd, clearCmd)
	return cacheCmd
}

func runCacheList(cmd *cobra.Command, app *App, root *rootFlags, flagValue *string) error {
	dir, err := resolveCachePath(cmd, app, root, *flagValue)
	if err != nil {
		return err
	}

	entries, total, err := readCacheEntries(dir)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintf(app.stdout, "%s\n", SubtitleStyle.Render("Cache is empty: "+dir))
		return nil
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(ColorMuted)).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers("FINGERPRINT", "SIZE", "MODIFIED")
	for _, e := range entries {
		t.Row(shortFingerprint(e.name), tui.FormatBytes(e.size), e.modTime.Format("2006-01-02 15:04"))
	}

	fmt.Fprintln(app.stdout, t)
	fmt.Fprintf(app.stdout, "%d entries, %s in %s\n", len(entries), tui.FormatBytes(total), CmdStyle.Render(dir))
	return nil
}

func runCacheClear(cmd *cobra.Command, app *App, root *rootFlags, flagValue *string) error {
	dir, err := resolveCachePath(cmd, app, root, *flagValue)
	if err != nil {
		return err
	}

	names, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(app.stdout, "%s\n", SubtitleStyle.Render("Cache is already empty: "+dir))
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading cache directory: %w", err)
	}

	removed := 0
	var freed int64
	for _, entry := range names {
		if entry.IsDir() || !isCacheFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if info, err := entry.Info(); err == nil {
			freed += info.Size()
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("removing cache entry: %w", err)
		}
		removed++
	}

	if removed == 0 {
		fmt.Fprintf(app.stdout, "%s\n", SubtitleStyle.Render("Cache is already empty: "+dir))
		return nil
	}
	fmt.Fprintf(app.stdout, "%s Removed %d cache entries, %s freed\n",
		SuccessStyle.Render("✓"), removed, tui.FormatBytes(freed))
	return nil
}

// resolveCachePath picks the cache directory: the --cache-path flag when set
// on the command line, the configured path otherwise.
func resolveCachePath(cmd *cobra.Command, app *App, root *rootFlags, flagValue string) (string, error) {
	if f := cmd.Flag("cache-path"); f != nil && f.Changed {
		return flagValue, nil
	}
	cfg, _, err := app.loadConfig(cmd.Context(), root)
	if err != nil {
		return "", err
	}
	return cfg.CachePath.String(), nil
}

// readCacheEntries lists completed cache entries in dir, newest first, along
// with their total size. A missing directory is an empty cache, not an error.
func readCacheEntries(dir string) ([]cacheEntry, int64, error) {
	names, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("reading cache directory: %w", err)
	}

	var entries []cacheEntry
	var total int64
	for _, entry := range names {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fetch.CacheFileSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		entries = append(entries, cacheEntry{name: entry.Name(), size: info.Size(), modTime: info.ModTime()})
		total += info.Size()
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].modTime.After(entries[j].modTime)
	})
	return entries, total, nil
}

// isCacheFile reports whether name belongs to the cache: a completed entry
// or an interrupted partial download.
func isCacheFile(name string) bool {
	return strings.HasSuffix(name, fetch.CacheFileSuffix) ||
		strings.HasSuffix(name, fetch.PartialFileSuffix)
}

// shortFingerprint abbreviates a cache file name to its first 12 hex digits.
func shortFingerprint(name string) string {
	fp := strings.TrimSuffix(name, fetch.CacheFileSuffix)
	if len(fp) > 12 {
		fp = fp[:12]
	}
	return fp
}

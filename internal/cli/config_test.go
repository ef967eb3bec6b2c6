// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haukened/teleport-spk/internal/config"
	"github.com/haukened/teleport-spk/internal/issue"
)

func TestConfigShow_PrintsDefaults(t *testing.T) {
	app, stdout, _ := newTestApp(Dependencies{
		LoadConfig: staticConfig(config.DefaultConfig(), ""),
	})

	if err := runCommand(t, app, "config", "show"); err != nil {
		t.Fatalf("config show: %v", err)
	}

	out := stdout.String()
	for _, want := range []string{
		"built-in defaults",
		"cache_path",
		config.DefaultCachePath,
		"repo_url",
		"pkgscripts-ng",
		"(none)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q:\n%s", want, out)
		}
	}
}

func TestConfigShow_NamesLoadedFile(t *testing.T) {
	app, stdout, _ := newTestApp(Dependencies{
		LoadConfig: staticConfig(config.DefaultConfig(), "/home/u/.config/teleport-spk/config.cue"),
	})

	if err := runCommand(t, app, "config", "show"); err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(stdout.String(), "/home/u/.config/teleport-spk/config.cue") {
		t.Errorf("missing loaded-from path:\n%s", stdout.String())
	}
}

// A config load failure renders the troubleshooting page; verbose mode also
// prints the actionable detail with suggestions and the error chain.
func TestConfigShow_LoadFailureVerboseDetail(t *testing.T) {
	loadErr := issue.NewErrorContext().
		WithOperation("load configuration").
		WithResource("config.cue").
		WithSuggestion(`Check the timeout syntax, e.g. "45m"`).
		Wrap(errors.New("timeout must be positive")).
		BuildError()
	failing := func(_ context.Context, _ config.LoadOptions) (*config.Config, string, error) {
		return nil, "", loadErr
	}

	app, _, stderr := newTestApp(Dependencies{LoadConfig: failing})
	if err := runCommand(t, app, "config", "show", "--no-color", "--verbose"); err == nil {
		t.Fatal("expected config show to fail")
	}
	out := stderr.String()
	for _, want := range []string{"Check the timeout syntax", "Error chain:", "timeout must be positive"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in stderr:\n%s", want, out)
		}
	}

	app, _, stderr = newTestApp(Dependencies{LoadConfig: failing})
	if err := runCommand(t, app, "config", "show", "--no-color"); err == nil {
		t.Fatal("expected config show to fail")
	}
	if strings.Contains(stderr.String(), "Error chain:") {
		t.Errorf("error chain printed without --verbose:\n%s", stderr.String())
	}
}

// Not parallel: the config directory override is process-wide.
func TestConfigInit_CreatesDefaultFile(t *testing.T) {
	dir := t.TempDir()
	config.SetConfigDirOverride(dir)
	t.Cleanup(config.Reset)

	app, stdout, _ := newTestApp(Dependencies{})
	if err := runCommand(t, app, "config", "init"); err != nil {
		t.Fatalf("config init: %v", err)
	}

	path := filepath.Join(dir, "config.cue")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected a config file at %s: %v", path, err)
	}
	if !strings.Contains(string(data), "cache_path") {
		t.Error("generated config missing cache_path")
	}
	if !strings.Contains(stdout.String(), "Created") {
		t.Errorf("expected creation notice:\n%s", stdout.String())
	}
}

// Not parallel: the config directory override is process-wide.
func TestConfigInit_DoesNotClobberExisting(t *testing.T) {
	dir := t.TempDir()
	config.SetConfigDirOverride(dir)
	t.Cleanup(config.Reset)

	path := filepath.Join(dir, "config.cue")
	if err := os.WriteFile(path, []byte(`cache_path: "/custom"`), 0o644); err != nil {
		t.Fatalf("writing existing config: %v", err)
	}

	app, stdout, _ := newTestApp(Dependencies{})
	if err := runCommand(t, app, "config", "init"); err != nil {
		t.Fatalf("config init: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading config: %v", err)
	}
	if string(data) != `cache_path: "/custom"` {
		t.Error("init overwrote an existing config file")
	}
	if !strings.Contains(stdout.String(), "already exists") {
		t.Errorf("expected already-exists notice:\n%s", stdout.String())
	}
}

// Not parallel: the config directory override is process-wide.
func TestConfigPath_PrintsLocation(t *testing.T) {
	dir := t.TempDir()
	config.SetConfigDirOverride(dir)
	t.Cleanup(config.Reset)

	app, stdout, _ := newTestApp(Dependencies{})
	if err := runCommand(t, app, "config", "path"); err != nil {
		t.Fatalf("config path: %v", err)
	}
	want := filepath.Join(dir, "config.cue") + "\n"
	if stdout.String() != want {
		t.Errorf("config path = %q, want %q", stdout.String(), want)
	}
}

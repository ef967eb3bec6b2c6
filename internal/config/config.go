// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/spf13/viper"

	"github.com/haukened/teleport-spk/internal/issue"
)

const (
	// AppName is the application name, doubling as the config directory name.
	AppName = "teleport-spk"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"

	// maxConfigFileSize rejects config files over 5MB before CUE parsing.
	maxConfigFileSize int64 = 5 * 1024 * 1024

	dirPerm  = 0o755
	filePerm = 0o644
)

//go:embed config_schema.cue
var configSchema string

// configDirOverride allows tests to override the config directory, bypassing
// os.UserHomeDir which does not reliably honor HOME everywhere.
var configDirOverride string //nolint:gochecknoglobals // Test seam for the config directory.

// SetConfigDirOverride sets a custom config directory path for tests.
func SetConfigDirOverride(dir string) {
	configDirOverride = dir
}

// Reset clears test overrides. Call from test cleanup to restore defaults.
func Reset() {
	configDirOverride = ""
}

// LoadOptions defines explicit configuration loading inputs.
type LoadOptions struct {
	// ConfigFilePath forces loading from a specific config file when set.
	ConfigFilePath string
	// ConfigDirPath overrides the config directory lookup when set.
	ConfigDirPath string
}

// ConfigDir returns the teleport-spk configuration directory following the
// XDG convention: $XDG_CONFIG_HOME, defaulting to ~/.config.
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		configDir = filepath.Join(home, ".config")
	}

	return filepath.Join(configDir, AppName), nil
}

// Load reads configuration from built-in defaults overlaid with the config
// file, when one exists. The second return value is the path of the file
// actually loaded, or "" when only defaults applied.
//
// Resolution order: opts.ConfigFilePath when set (missing file is an error),
// otherwise config.cue in the config directory, otherwise config.cue in the
// current directory, otherwise defaults alone.
func Load(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("loading configuration: %w", ctx.Err())
	default:
	}

	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("cache_path", string(defaults.CachePath))
	v.SetDefault("repo_url", string(defaults.RepoURL))
	v.SetDefault("source_repo_url", string(defaults.SourceRepoURL))
	v.SetDefault("branches_url", string(defaults.BranchesURL))
	v.SetDefault("toolkit_url", string(defaults.ToolkitURL))
	v.SetDefault("timeout", defaults.Timeout)

	resolvedPath := ""

	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Run 'teleport-spk config init' to create a default config").
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		if err := loadCUEIntoViper(v, opts.ConfigFilePath); err != nil {
			return nil, "", wrapLoadError(err, opts.ConfigFilePath)
		}
		resolvedPath = opts.ConfigFilePath
	} else {
		cfgDir, err := configDirWithOverride(opts.ConfigDirPath)
		if err != nil {
			return nil, "", err
		}

		cuePath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)
		localPath := ConfigFileName + "." + ConfigFileExt
		if fileExists(cuePath) {
			if err := loadCUEIntoViper(v, cuePath); err != nil {
				return nil, "", wrapLoadError(err, cuePath)
			}
			resolvedPath = cuePath
		} else if fileExists(localPath) {
			if err := loadCUEIntoViper(v, localPath); err != nil {
				return nil, "", wrapLoadError(err, localPath)
			}
			resolvedPath = localPath
		}
		// No config file anywhere: defaults apply, not an error.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("decoding configuration: %w", err)
	}

	if valid, errs := cfg.IsValid(); !valid {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(resolvedPath).
			WithSuggestion("Run 'teleport-spk config show' to inspect the effective configuration").
			Wrap(errors.Join(errs...)).
			BuildError()
	}

	return &cfg, resolvedPath, nil
}

// configDirWithOverride resolves the configuration directory, honoring
// explicit load options before the XDG default.
func configDirWithOverride(configDirPath string) (string, error) {
	if configDirPath != "" {
		return configDirPath, nil
	}

	return ConfigDir()
}

// wrapLoadError attaches remediation context to a config parse failure.
func wrapLoadError(err error, path string) error {
	return issue.NewErrorContext().
		WithOperation("load configuration").
		WithResource(path).
		WithSuggestion("Check that the file contains valid CUE syntax").
		WithSuggestion("Compare against 'teleport-spk config show' for the expected fields").
		Wrap(err).
		BuildError()
}

// loadCUEIntoViper parses a CUE file, validates it against the embedded
// #Config schema, and merges its contents into viper.
//
// The file decodes to map[string]any rather than a struct and validates with
// Concrete(false): every schema field is optional, and the map form is what
// viper's MergeConfigMap wants.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	if int64(len(data)) > maxConfigFileSize {
		return fmt.Errorf("%s: file size %d bytes exceeds maximum %d bytes", path, len(data), maxConfigFileSize)
	}

	cctx := cuecontext.New()

	schemaValue := cctx.CompileString(configSchema)
	if schemaValue.Err() != nil {
		return fmt.Errorf("compiling embedded config schema: %w", schemaValue.Err())
	}

	userValue := cctx.CompileBytes(data, cue.Filename(path))
	if userValue.Err() != nil {
		return formatCUEError(userValue.Err(), path)
	}

	schema := schemaValue.LookupPath(cue.ParsePath("#Config"))
	unified := schema.Unify(userValue)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return formatCUEError(err, path)
	}

	var configMap map[string]any
	if err := unified.Decode(&configMap); err != nil {
		return formatCUEError(err, path)
	}

	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("merging config: %w", err)
	}

	return nil
}

// formatCUEError rewrites a CUE error as "<file>: <field path>: <message>"
// lines so the user sees which field to fix.
func formatCUEError(err error, path string) error {
	cueErrs := cueerrors.Errors(err)
	if len(cueErrs) == 0 {
		return fmt.Errorf("%s: %w", path, err)
	}

	var lines []string
	for _, e := range cueErrs {
		fieldPath := formatFieldPath(cueerrors.Path(e))
		msg := e.Error()

		// CUE sometimes repeats the field path inside the message itself.
		if fieldPath != "" && strings.HasPrefix(msg, fieldPath) {
			msg = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(msg, fieldPath), ":"))
		}

		if fieldPath != "" {
			lines = append(lines, fieldPath+": "+msg)
		} else {
			lines = append(lines, msg)
		}
	}

	if len(lines) == 1 {
		return fmt.Errorf("%s: %s", path, lines[0])
	}
	return fmt.Errorf("%s: validation failed:\n  %s", path, strings.Join(lines, "\n  "))
}

// formatFieldPath joins CUE error path elements with dots, rendering purely
// numeric elements as array indices.
func formatFieldPath(parts []string) string {
	var b strings.Builder
	for i, part := range parts {
		if i > 0 && isAllDigits(part) {
			b.WriteString("[")
			b.WriteString(part)
			b.WriteString("]")
			continue
		}
		if i > 0 {
			b.WriteString(".")
		}
		b.WriteString(part)
	}
	return b.String()
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// EnsureConfigDir creates the config directory if it doesn't exist.
func EnsureConfigDir() error {
	cfgDir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(cfgDir, dirPerm)
}

// CreateDefaultConfig writes a default config file unless one already exists.
func CreateDefaultConfig() error {
	cfgDir, err := ConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfgDir, dirPerm); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	cfgPath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)

	if _, err := os.Stat(cfgPath); err == nil {
		return nil // File exists
	}

	if err := os.WriteFile(cfgPath, []byte(GenerateCUE(DefaultConfig())), filePerm); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// Save writes the configuration to the config directory.
func Save(cfg *Config) error {
	cfgDir, err := ConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfgDir, dirPerm); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	cfgPath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)

	if err := os.WriteFile(cfgPath, []byte(GenerateCUE(cfg)), filePerm); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// GenerateCUE renders cfg as a commented config.cue document that round-trips
// through Load.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// teleport-spk configuration file.\n")
	sb.WriteString("// Remove any line to fall back to the built-in default.\n\n")

	sb.WriteString(fmt.Sprintf("cache_path: %q\n", cfg.CachePath))
	sb.WriteString(fmt.Sprintf("repo_url: %q\n", cfg.RepoURL))
	if cfg.SourceRepoURL != "" {
		sb.WriteString(fmt.Sprintf("source_repo_url: %q\n", cfg.SourceRepoURL))
	}
	sb.WriteString(fmt.Sprintf("branches_url: %q\n", cfg.BranchesURL))
	sb.WriteString(fmt.Sprintf("toolkit_url: %q\n", cfg.ToolkitURL))
	sb.WriteString(fmt.Sprintf("timeout: %q\n", cfg.Timeout.String()))

	return sb.String()
}

// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haukened/teleport-spk/internal/catalog"
	"github.com/haukened/teleport-spk/internal/pkgscripts"
)

// DefaultCachePath is where toolkit artifacts are kept between runs.
const DefaultCachePath = "/var/cache/syno-build"

var (
	// ErrInvalidCachePath is the sentinel error wrapped by InvalidCachePathError.
	ErrInvalidCachePath = errors.New("invalid cache path")
	// ErrInvalidRepoURL is the sentinel error wrapped by InvalidRepoURLError.
	ErrInvalidRepoURL = errors.New("invalid repository URL")
	// ErrInvalidEndpointURL is the sentinel error wrapped by InvalidEndpointURLError.
	ErrInvalidEndpointURL = errors.New("invalid endpoint URL")
	// ErrInvalidTimeout is the sentinel error wrapped by InvalidTimeoutError.
	ErrInvalidTimeout = errors.New("invalid timeout")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// CachePath is the directory holding fingerprint-keyed toolkit artifacts.
	// A valid path must be non-empty and not whitespace-only.
	CachePath string

	// InvalidCachePathError is returned when a CachePath value is empty or
	// whitespace-only. It wraps ErrInvalidCachePath for errors.Is().
	InvalidCachePathError struct {
		Value CachePath
	}

	// RepoURL is a git remote in any form git accepts (https, ssh, file).
	// Whether the zero value is permitted depends on the field: the build
	// scripts repository is required, the project source repository is not.
	RepoURL string

	// InvalidRepoURLError is returned when a required RepoURL is empty, or
	// any RepoURL is whitespace-only. It wraps ErrInvalidRepoURL.
	InvalidRepoURLError struct {
		Value RepoURL
	}

	// EndpointURL is an HTTP(S) catalog endpoint.
	EndpointURL string

	// InvalidEndpointURLError is returned when an EndpointURL does not use
	// the http or https scheme. It wraps ErrInvalidEndpointURL.
	InvalidEndpointURLError struct {
		Value EndpointURL
	}

	// InvalidTimeoutError is returned when a timeout is negative.
	// It wraps ErrInvalidTimeout.
	InvalidTimeoutError struct {
		Value time.Duration
	}

	// InvalidConfigError is returned when a Config has invalid fields.
	// It wraps ErrInvalidConfig for errors.Is() compatibility and collects
	// field-level validation errors from all fields.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the application configuration.
	Config struct {
		// CachePath is the directory for fingerprint-keyed toolkit tarballs.
		CachePath CachePath `json:"cache_path" mapstructure:"cache_path"`
		// RepoURL is the git repository providing the DSM build scripts.
		RepoURL RepoURL `json:"repo_url" mapstructure:"repo_url"`
		// SourceRepoURL optionally names a project repository cloned into the
		// workspace source/ directory. Empty disables the checkout.
		SourceRepoURL RepoURL `json:"source_repo_url,omitempty" mapstructure:"source_repo_url"`
		// BranchesURL lists published DSM toolchain branches.
		BranchesURL EndpointURL `json:"branches_url" mapstructure:"branches_url"`
		// ToolkitURL resolves toolkit artifact lists per platform.
		ToolkitURL EndpointURL `json:"toolkit_url" mapstructure:"toolkit_url"`
		// Timeout bounds a whole build run. Zero means no limit.
		Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
	}
)

// String returns the string representation of the CachePath.
func (p CachePath) String() string { return string(p) }

// IsValid returns whether the CachePath is valid.
// A valid path must be non-empty and not whitespace-only.
func (p CachePath) IsValid() (bool, []error) {
	if strings.TrimSpace(string(p)) == "" {
		return false, []error{&InvalidCachePathError{Value: p}}
	}
	return true, nil
}

// Error implements the error interface for InvalidCachePathError.
func (e *InvalidCachePathError) Error() string {
	return fmt.Sprintf("invalid cache path %q: must be non-empty", e.Value)
}

// Unwrap returns ErrInvalidCachePath for errors.Is() compatibility.
func (e *InvalidCachePathError) Unwrap() error { return ErrInvalidCachePath }

// String returns the string representation of the RepoURL.
func (u RepoURL) String() string { return string(u) }

// IsValid returns whether the RepoURL is valid.
// A valid URL must be non-empty and not whitespace-only; callers with
// optional repository fields skip the check for the zero value.
func (u RepoURL) IsValid() (bool, []error) {
	if strings.TrimSpace(string(u)) == "" {
		return false, []error{&InvalidRepoURLError{Value: u}}
	}
	return true, nil
}

// Error implements the error interface for InvalidRepoURLError.
func (e *InvalidRepoURLError) Error() string {
	return fmt.Sprintf("invalid repository URL %q: must be non-empty", e.Value)
}

// Unwrap returns ErrInvalidRepoURL for errors.Is() compatibility.
func (e *InvalidRepoURLError) Unwrap() error { return ErrInvalidRepoURL }

// String returns the string representation of the EndpointURL.
func (u EndpointURL) String() string { return string(u) }

// IsValid returns whether the EndpointURL is valid.
// A valid endpoint uses the http or https scheme.
func (u EndpointURL) IsValid() (bool, []error) {
	s := string(u)
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return true, nil
	}
	return false, []error{&InvalidEndpointURLError{Value: u}}
}

// Error implements the error interface for InvalidEndpointURLError.
func (e *InvalidEndpointURLError) Error() string {
	return fmt.Sprintf("invalid endpoint URL %q: must use http or https", e.Value)
}

// Unwrap returns ErrInvalidEndpointURL for errors.Is() compatibility.
func (e *InvalidEndpointURLError) Unwrap() error { return ErrInvalidEndpointURL }

// Error implements the error interface for InvalidTimeoutError.
func (e *InvalidTimeoutError) Error() string {
	return fmt.Sprintf("invalid timeout %s: must not be negative", e.Value)
}

// Unwrap returns ErrInvalidTimeout for errors.Is() compatibility.
func (e *InvalidTimeoutError) Unwrap() error { return ErrInvalidTimeout }

// IsValid returns whether the Config has valid fields.
// It delegates to each field's IsValid(); SourceRepoURL is checked only when
// non-empty (the zero value means "no source checkout" and is always valid).
func (c Config) IsValid() (bool, []error) {
	var errs []error
	if valid, fieldErrs := c.CachePath.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.RepoURL.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if c.SourceRepoURL != "" {
		if valid, fieldErrs := c.SourceRepoURL.IsValid(); !valid {
			errs = append(errs, fieldErrs...)
		}
	}
	if valid, fieldErrs := c.BranchesURL.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.ToolkitURL.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if c.Timeout < 0 {
		errs = append(errs, &InvalidTimeoutError{Value: c.Timeout})
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	msgs := make([]string, 0, len(e.FieldErrors))
	for _, err := range e.FieldErrors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("invalid config: %d field error(s): %s",
		len(e.FieldErrors), strings.Join(msgs, "; "))
}

// Unwrap returns ErrInvalidConfig and every field error, so errors.Is
// reaches both the config-level sentinel and the field-level ones.
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}

// DefaultConfig returns the built-in defaults: the vendor's public catalog
// endpoints and scripts repository, the stock cache location, no source
// checkout and no time limit.
func DefaultConfig() *Config {
	return &Config{
		CachePath:     DefaultCachePath,
		RepoURL:       pkgscripts.DefaultRepoURL,
		SourceRepoURL: "",
		BranchesURL:   catalog.DefaultBranchesURL,
		ToolkitURL:    catalog.DefaultToolkitURL,
		Timeout:       0,
	}
}

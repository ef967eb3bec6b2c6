// SPDX-License-Identifier: MPL-2.0

// Package catalog resolves what a build may target: the fixed set of processor
// platforms the vendor toolchain supports, the DSM versions published as
// branches of the toolchain scripts repository, and the artifact URLs needed
// for a given (version, platform) pair.
package catalog

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/mod/semver"
)

const (
	// versionBranchPrefix is prepended to a DSM version to form the name of
	// the matching branch in the toolchain scripts repository ("7.1" → "DSM7.1").
	versionBranchPrefix = "DSM"
)

var (
	// ErrInvalidVersion is the sentinel error wrapped by InvalidVersionError.
	ErrInvalidVersion = errors.New("invalid DSM version")

	// ErrInvalidPlatform is the sentinel error wrapped by InvalidPlatformError.
	ErrInvalidPlatform = errors.New("invalid processor platform")

	// ErrUnsupportedVersion is the sentinel error wrapped by UnsupportedVersionError.
	ErrUnsupportedVersion = errors.New("unsupported DSM version")

	// platforms is the fixed set of processor platforms the vendor publishes
	// toolchains for. Ordering matches the vendor's own enumeration.
	platforms = []Platform{
		"bromolow", "avoton", "alpine", "braswell", "apollolake", "grantley",
		"alpine4k", "monaco", "broadwell", "broadwellntbap", "kvmx64",
		"kvmcloud", "armada38x", "denverton", "rtd1296", "broadwellnk",
		"armada37xx", "purley", "geminilake", "v1000", "epyc7002", "r1000",
		"broadwellnkv2", "rtd1619b",
	}
)

type (
	// Version is a DSM release version such as "7.1" or "6.2.4". Whether a
	// version is actually buildable is decided against the dynamically fetched
	// catalog (see Client.ListVersions); Validate only rejects values that can
	// never be valid.
	Version string

	// InvalidVersionError is returned when a Version value is empty or
	// whitespace-only. It wraps ErrInvalidVersion for errors.Is() compatibility.
	InvalidVersionError struct {
		Value Version
	}

	// Platform is a processor platform (package arch) such as "avoton".
	// A valid Platform is a member of the fixed supported set.
	Platform string

	// InvalidPlatformError is returned when a Platform value is not in the
	// supported set. It wraps ErrInvalidPlatform for errors.Is() compatibility.
	InvalidPlatformError struct {
		Value Platform
	}

	// UnsupportedVersionError is returned when a syntactically valid Version is
	// absent from the dynamically fetched catalog. It wraps ErrUnsupportedVersion
	// for errors.Is() compatibility.
	UnsupportedVersionError struct {
		Value     Version
		Supported []Version
	}
)

// Platforms returns the supported processor platforms in the vendor's order.
// The returned slice is a copy; callers may modify it freely.
func Platforms() []Platform {
	return slices.Clone(platforms)
}

// String returns the string representation of the Version.
func (v Version) String() string { return string(v) }

// Branch returns the toolchain scripts branch for this version ("7.1" → "DSM7.1").
func (v Version) Branch() string { return versionBranchPrefix + string(v) }

// Validate returns an error if the Version is empty or whitespace-only.
func (v Version) Validate() error {
	if strings.TrimSpace(string(v)) == "" {
		return &InvalidVersionError{Value: v}
	}
	return nil
}

// Error implements the error interface for InvalidVersionError.
func (e *InvalidVersionError) Error() string {
	return fmt.Sprintf("invalid DSM version %q: must be non-empty", e.Value)
}

// Unwrap returns ErrInvalidVersion for errors.Is() compatibility.
func (e *InvalidVersionError) Unwrap() error { return ErrInvalidVersion }

// String returns the string representation of the Platform.
func (p Platform) String() string { return string(p) }

// Validate returns an error if the Platform is not in the supported set.
func (p Platform) Validate() error {
	if !slices.Contains(platforms, p) {
		return &InvalidPlatformError{Value: p}
	}
	return nil
}

// Error implements the error interface for InvalidPlatformError.
func (e *InvalidPlatformError) Error() string {
	return fmt.Sprintf("invalid processor platform %q: not a supported platform", e.Value)
}

// Unwrap returns ErrInvalidPlatform for errors.Is() compatibility.
func (e *InvalidPlatformError) Unwrap() error { return ErrInvalidPlatform }

// Error implements the error interface for UnsupportedVersionError.
func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unsupported DSM version %q (supported: %s)",
		e.Value, joinVersions(e.Supported))
}

// Unwrap returns ErrUnsupportedVersion for errors.Is() compatibility.
func (e *UnsupportedVersionError) Unwrap() error { return ErrUnsupportedVersion }

// Latest returns the most recent version by semantic-version ordering, and
// false when the slice is empty. Versions that do not parse as semver sort
// before any that do, so a catalog of well-formed versions always wins out.
func Latest(versions []Version) (Version, bool) {
	if len(versions) == 0 {
		return "", false
	}
	best := versions[0]
	for _, v := range versions[1:] {
		if semver.Compare("v"+string(v), "v"+string(best)) > 0 {
			best = v
		}
	}
	return best, true
}

// Contains reports whether version is a member of the supported set.
func Contains(versions []Version, version Version) bool {
	return slices.Contains(versions, version)
}

// SortVersions sorts versions in ascending semantic-version order, in place.
// Used for display; the catalog itself preserves the remote ordering.
func SortVersions(versions []Version) {
	slices.SortStableFunc(versions, func(a, b Version) int {
		return semver.Compare("v"+string(a), "v"+string(b))
	})
}

// joinVersions renders a version list for error messages.
func joinVersions(versions []Version) string {
	parts := make([]string, 0, len(versions))
	for _, v := range versions {
		parts = append(parts, string(v))
	}
	return strings.Join(parts, ", ")
}

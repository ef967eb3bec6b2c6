// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/mod/semver"
)

const (
	binaryName = "teleport-spk"

	checksumManifestName = "checksums.txt"

	// maxBinaryBytes bounds the extracted binary size so a corrupt
	// archive cannot fill the disk.
	maxBinaryBytes = 256 << 20
)

// ErrManagedByGoInstall is returned by Apply when the binary was
// installed with go install and should be upgraded the same way.
var ErrManagedByGoInstall = errors.New("binary is managed by go install, upgrade with: go install " + modulePath + "/cmd/" + binaryName + "@latest")

// UpgradeCheck is the result of comparing the running binary against
// the published releases.
type UpgradeCheck struct {
	CurrentVersion   string
	LatestVersion    string
	Target           *Release
	InstallMethod    InstallMethod
	UpgradeAvailable bool
	Message          string
}

// Updater checks for and applies new releases of teleport-spk.
type Updater struct {
	client         *Client
	currentVersion string
}

// Option configures an Updater.
type Option func(*Updater)

// WithReleaseClient replaces the release client, typically with one
// pointed at a test server.
func WithReleaseClient(c *Client) Option {
	return func(u *Updater) { u.client = c }
}

// NewUpdater returns an Updater for the given running version. When
// GITHUB_TOKEN is set it is used to authenticate API calls, which
// raises the rate limit.
func NewUpdater(currentVersion string, opts ...Option) *Updater {
	u := &Updater{currentVersion: currentVersion}
	for _, opt := range opts {
		opt(u)
	}
	if u.client == nil {
		var copts []ClientOption
		if token := os.Getenv("GITHUB_TOKEN"); token != "" {
			copts = append(copts, WithToken(token))
		}
		copts = append(copts, WithUserAgent(binaryName+"/"+currentVersion))
		u.client = NewClient(copts...)
	}
	return u
}

// Check compares the running version against the release matching
// targetVersion, or against the newest stable release when
// targetVersion is empty.
func (u *Updater) Check(ctx context.Context, targetVersion string) (*UpgradeCheck, error) {
	check := &UpgradeCheck{
		CurrentVersion: u.currentVersion,
		InstallMethod:  detectInstallMethod(),
	}

	target, err := u.resolveTarget(ctx, targetVersion)
	if err != nil {
		return nil, err
	}
	check.Target = target
	check.LatestVersion = target.TagName

	current := normalizeTag(u.currentVersion)
	targetTag := normalizeTag(target.TagName)
	switch {
	case !semver.IsValid(current):
		// Development builds have no comparable version.
		check.UpgradeAvailable = true
		check.Message = fmt.Sprintf("Running a development build, newest release is %s.", target.TagName)
	case semver.Compare(targetTag, current) > 0:
		check.UpgradeAvailable = true
		check.Message = fmt.Sprintf("Upgrade available: %s -> %s.", current, target.TagName)
	case semver.Compare(targetTag, current) < 0 && targetVersion != "":
		// An explicit older target is a deliberate downgrade.
		check.UpgradeAvailable = true
		check.Message = fmt.Sprintf("Downgrading from %s to %s.", current, target.TagName)
	case semver.Compare(targetTag, current) < 0:
		check.Message = fmt.Sprintf("Running %s, ahead of the newest release %s.", current, target.TagName)
	default:
		check.Message = fmt.Sprintf("Already running the newest release, %s.", current)
	}
	return check, nil
}

func (u *Updater) resolveTarget(ctx context.Context, targetVersion string) (*Release, error) {
	if targetVersion != "" {
		tag := normalizeTag(targetVersion)
		if !semver.IsValid(tag) {
			return nil, fmt.Errorf("invalid version %q, expected something like v1.2.0", targetVersion)
		}
		rel, err := u.client.ReleaseByTag(ctx, tag)
		if err != nil {
			if errors.Is(err, ErrReleaseNotFound) {
				return nil, fmt.Errorf("no release tagged %s", tag)
			}
			return nil, err
		}
		return rel, nil
	}

	releases, err := u.client.StableReleases(ctx)
	if err != nil {
		return nil, err
	}
	if len(releases) == 0 {
		return nil, errors.New("no stable releases published yet")
	}
	return &releases[0], nil
}

// Apply downloads the release archive for this platform, verifies it
// against the release's checksum manifest and atomically replaces the
// running binary.
func (u *Updater) Apply(ctx context.Context, rel *Release) error {
	if detectInstallMethod() == MethodGoInstall {
		return ErrManagedByGoInstall
	}

	exe, err := executablePath()
	if err != nil {
		return fmt.Errorf("locating running binary: %w", err)
	}
	if resolved, err := evalSymlinks(exe); err == nil {
		exe = resolved
	}

	version := strings.TrimPrefix(rel.TagName, "v")
	archiveName := fmt.Sprintf("%s_%s_%s_%s.tar.gz", binaryName, version, runtime.GOOS, runtime.GOARCH)
	archive, ok := findAsset(rel, archiveName)
	if !ok {
		return fmt.Errorf("release %s has no archive for %s/%s", rel.TagName, runtime.GOOS, runtime.GOARCH)
	}
	manifest, ok := findAsset(rel, checksumManifestName)
	if !ok {
		return fmt.Errorf("release %s has no %s, refusing unverified upgrade", rel.TagName, checksumManifestName)
	}

	want, err := u.fetchChecksum(ctx, manifest, archiveName)
	if err != nil {
		return err
	}

	// The archive lands next to the binary so the final rename stays
	// on one filesystem.
	destDir := filepath.Dir(exe)
	archivePath, err := u.downloadArchive(ctx, archive, destDir)
	if err != nil {
		return err
	}
	defer os.Remove(archivePath)

	if err := verifyChecksum(archivePath, want); err != nil {
		return err
	}

	newBinary, err := extractBinary(archivePath, destDir)
	if err != nil {
		return err
	}

	mode := os.FileMode(0o755)
	if info, err := os.Stat(exe); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.Chmod(newBinary, mode); err != nil {
		os.Remove(newBinary)
		return fmt.Errorf("setting permissions on new binary: %w", err)
	}
	if err := os.Rename(newBinary, exe); err != nil {
		os.Remove(newBinary)
		return fmt.Errorf("replacing %s: %w", exe, err)
	}
	return nil
}

func (u *Updater) fetchChecksum(ctx context.Context, manifest Asset, archiveName string) (string, error) {
	rc, err := u.client.DownloadAsset(ctx, manifest)
	if err != nil {
		return "", fmt.Errorf("downloading %s: %w", checksumManifestName, err)
	}
	defer func() { _ = rc.Close() }() // read-only HTTP response body

	sums, err := parseChecksums(io.LimitReader(rc, maxJSONBytes))
	if err != nil {
		return "", err
	}
	want, ok := sums[archiveName]
	if !ok {
		return "", fmt.Errorf("%s has no entry for %s", checksumManifestName, archiveName)
	}
	return want, nil
}

func (u *Updater) downloadArchive(ctx context.Context, archive Asset, destDir string) (string, error) {
	rc, err := u.client.DownloadAsset(ctx, archive)
	if err != nil {
		return "", fmt.Errorf("downloading %s: %w", archive.Name, err)
	}
	defer func() { _ = rc.Close() }() // read-only HTTP response body

	tmp, err := os.CreateTemp(destDir, "."+binaryName+"-*.tar.gz")
	if err != nil {
		return "", fmt.Errorf("creating archive file: %w", err)
	}
	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("downloading %s: %w", archive.Name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("writing archive file: %w", err)
	}
	return tmp.Name(), nil
}

func findAsset(rel *Release, name string) (Asset, bool) {
	for _, asset := range rel.Assets {
		if asset.Name == name {
			return asset, true
		}
	}
	return Asset{}, false
}

// extractBinary pulls the teleport-spk binary out of the tar.gz
// archive into a temporary file in destDir and returns its path.
func extractBinary(archivePath, destDir string) (string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("opening archive: %w", err)
	}
	defer func() { _ = f.Close() }() // read-only file handle

	gz, err := gzip.NewReader(f)
	if err != nil {
		return "", fmt.Errorf("reading archive: %w", err)
	}
	defer func() { _ = gz.Close() }() // read-only decompressor

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return "", fmt.Errorf("archive does not contain %s", binaryName)
		}
		if err != nil {
			return "", fmt.Errorf("reading archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg || filepath.Base(hdr.Name) != binaryName {
			continue
		}
		if hdr.Size > maxBinaryBytes {
			return "", fmt.Errorf("binary in archive is %d bytes, larger than the %d byte limit", hdr.Size, maxBinaryBytes)
		}

		out, err := os.CreateTemp(destDir, "."+binaryName+"-new-*")
		if err != nil {
			return "", fmt.Errorf("creating new binary: %w", err)
		}
		if _, err := io.Copy(out, io.LimitReader(tr, maxBinaryBytes)); err != nil {
			out.Close()
			os.Remove(out.Name())
			return "", fmt.Errorf("extracting %s: %w", binaryName, err)
		}
		if err := out.Close(); err != nil {
			os.Remove(out.Name())
			return "", fmt.Errorf("writing new binary: %w", err)
		}
		return out.Name(), nil
	}
}

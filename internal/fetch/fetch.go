// SPDX-License-Identifier: MPL-2.0

// Package fetch resolves remote toolchain artifacts to local files through a
// content-fingerprint cache. The fingerprint is the artifact's ETag: two URLs
// with the same ETag are the same artifact, and re-fetching an unchanged URL
// transfers zero body bytes.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

const (
	// CacheFileSuffix is the extension of cache entries under the cache path.
	// Toolkit artifacts are xz-compressed tarballs.
	CacheFileSuffix = ".txz"

	// downloadChunkSize is the fixed read size for streaming downloads.
	// Cumulative progress is reported after each chunk.
	downloadChunkSize = 1024

	// PartialFileSuffix marks an in-flight download in the cache directory.
	// The file is renamed to its final name only after the body is fully
	// written, so a crashed run never leaves a truncated cache entry behind.
	PartialFileSuffix = ".partial"
)

var (
	// ErrNoFingerprint is the sentinel error wrapped by NoFingerprintError.
	ErrNoFingerprint = errors.New("no content fingerprint")
)

type (
	// ProgressFunc receives cumulative transfer progress. total is the
	// response's declared content length and may be -1 when unknown.
	ProgressFunc func(transferred, total int64)

	// Result describes how a Fetch was satisfied.
	Result struct {
		Fingerprint string // quote-stripped ETag; empty when caching is disabled
		CacheHit    bool   // true when no body transfer occurred
		Transferred int64  // body bytes transferred over the network
	}

	// NoFingerprintError is returned when the remote response carries no ETag
	// header, so the cache contract cannot be satisfied. It wraps
	// ErrNoFingerprint for errors.Is() compatibility.
	NoFingerprintError struct {
		URL string
	}

	// Downloader resolves artifact URLs to local files. With caching enabled it
	// keys downloads by content fingerprint under cachePath; with caching
	// disabled every Fetch streams directly to the destination.
	Downloader struct {
		httpClient *http.Client
		cachePath  string
		useCache   bool
		progress   ProgressFunc
		userAgent  string
	}

	// Option configures a Downloader during construction.
	Option func(*Downloader)
)

// Error implements the error interface for NoFingerprintError.
func (e *NoFingerprintError) Error() string {
	return fmt.Sprintf("no content fingerprint (ETag) for %s", e.URL)
}

// Unwrap returns ErrNoFingerprint for errors.Is() compatibility.
func (e *NoFingerprintError) Unwrap() error { return ErrNoFingerprint }

// WithHTTPClient sets a custom HTTP client, useful for tests or proxy configurations.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Downloader) {
		d.httpClient = c
	}
}

// WithProgress sets a callback receiving cumulative download progress.
func WithProgress(fn ProgressFunc) Option {
	return func(d *Downloader) {
		d.progress = fn
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(d *Downloader) {
		d.userAgent = ua
	}
}

// NewDownloader creates a Downloader that caches under cachePath when useCache
// is true. The cache directory must already exist; callers own its creation.
func NewDownloader(cachePath string, useCache bool, opts ...Option) *Downloader {
	d := &Downloader{
		httpClient: http.DefaultClient,
		cachePath:  cachePath,
		useCache:   useCache,
		userAgent:  "teleport-spk/dev",
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Fetch resolves url to destPath.
//
// With caching disabled the body is streamed directly to destPath. With
// caching enabled the artifact's fingerprint is obtained from a metadata-only
// request; if cachePath already holds that fingerprint the download is skipped
// entirely, otherwise the body is streamed into the cache. Either way the
// cache entry is then copied, never moved, to destPath, leaving the entry
// intact for future runs.
//
// Network failures during the metadata request or the body transfer propagate
// to the caller; no retry is performed.
func (d *Downloader) Fetch(ctx context.Context, url, destPath string) (*Result, error) {
	if !d.useCache {
		n, err := d.streamTo(ctx, url, destPath)
		if err != nil {
			return nil, fmt.Errorf("fetching %s: %w", url, err)
		}
		return &Result{Transferred: n}, nil
	}

	fingerprint, err := d.fingerprintFor(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}

	cacheFile := filepath.Join(d.cachePath, fingerprint+CacheFileSuffix)
	result := &Result{Fingerprint: fingerprint}

	if _, statErr := os.Stat(cacheFile); statErr == nil {
		result.CacheHit = true
	} else {
		n, dlErr := d.downloadToCache(ctx, url, cacheFile)
		if dlErr != nil {
			return nil, fmt.Errorf("fetching %s: %w", url, dlErr)
		}
		result.Transferred = n
	}

	if err := copyFile(cacheFile, destPath); err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}

	return result, nil
}

// fingerprintFor issues a metadata-only (HEAD) request and returns the
// artifact's ETag with surrounding quote characters stripped.
func (d *Downloader) fingerprintFor(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("creating metadata request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing metadata request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }() // HEAD response has no body

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("metadata request: unexpected status %d", resp.StatusCode)
	}

	etag := strings.Trim(resp.Header.Get("ETag"), `"`)
	if etag == "" {
		return "", &NoFingerprintError{URL: url}
	}

	return etag, nil
}

// downloadToCache streams url into cacheFile via a .partial sibling, renaming
// into place only once the body has been fully written.
func (d *Downloader) downloadToCache(ctx context.Context, url, cacheFile string) (int64, error) {
	partial := cacheFile + PartialFileSuffix

	n, err := d.streamTo(ctx, url, partial)
	if err != nil {
		// Best-effort removal of the partially written file.
		_ = os.Remove(partial)
		return 0, err
	}

	if err := os.Rename(partial, cacheFile); err != nil {
		_ = os.Remove(partial)
		return 0, fmt.Errorf("committing cache entry: %w", err)
	}

	return n, nil
}

// streamTo downloads url into path, reading the body in fixed-size chunks and
// reporting cumulative progress after each one. Returns the number of body
// bytes written.
func (d *Downloader) streamTo(ctx context.Context, url, path string) (_ int64, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("creating download request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("executing download request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }() // read-only HTTP response body

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download request: unexpected status %d", resp.StatusCode)
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	total := resp.ContentLength
	buf := make([]byte, downloadChunkSize)
	var transferred int64

	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := f.Write(buf[:n]); writeErr != nil {
				return transferred, fmt.Errorf("writing %s: %w", path, writeErr)
			}
			transferred += int64(n)
			if d.progress != nil {
				d.progress(transferred, total)
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return transferred, fmt.Errorf("reading response body: %w", readErr)
		}
	}

	return transferred, nil
}

// copyFile copies src to dst, truncating dst if it exists. The copy leaves the
// source in place; cache entries outlive the runs that created them.
func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer func() { _ = in.Close() }() // read-only file handle

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying %s to %s: %w", src, dst, err)
	}

	return nil
}

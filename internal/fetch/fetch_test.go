// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

// artifactServer serves a fixed artifact body with a configurable ETag and
// counts metadata (HEAD) and body (GET) requests separately.
type artifactServer struct {
	etag      string // served quoted, as real servers do
	body      []byte
	headCalls atomic.Int32
	getCalls  atomic.Int32
}

func (s *artifactServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.etag != "" {
		w.Header().Set("ETag", `"`+s.etag+`"`)
	}
	switch r.Method {
	case http.MethodHead:
		s.headCalls.Add(1)
	case http.MethodGet:
		s.getCalls.Add(1)
		_, _ = w.Write(s.body)
	default:
		http.Error(w, "unsupported method", http.StatusMethodNotAllowed)
	}
}

func TestFetch_CacheMissDownloadsAndCopies(t *testing.T) {
	t.Parallel()

	art := &artifactServer{etag: "abc123", body: []byte("toolchain tarball bytes")}
	srv := httptest.NewServer(art)
	defer srv.Close()

	cacheDir := t.TempDir()
	destPath := filepath.Join(t.TempDir(), "base_env.txz")

	d := NewDownloader(cacheDir, true)
	result, err := d.Fetch(context.Background(), srv.URL+"/base_env.txz", destPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.CacheHit {
		t.Error("first fetch against an empty cache must not be a cache hit")
	}
	if result.Fingerprint != "abc123" {
		t.Errorf("fingerprint: got %q, want %q (quotes stripped)", result.Fingerprint, "abc123")
	}
	if result.Transferred != int64(len(art.body)) {
		t.Errorf("transferred: got %d, want %d", result.Transferred, len(art.body))
	}

	// Destination holds the artifact bytes.
	got, err := os.ReadFile(destPath)
	if err != nil {
		t.Fatalf("reading destination: %v", err)
	}
	if !bytes.Equal(got, art.body) {
		t.Errorf("destination bytes differ from artifact body")
	}

	// The cache entry is keyed by fingerprint and survives the fetch (copy, not move).
	cached, err := os.ReadFile(filepath.Join(cacheDir, "abc123"+CacheFileSuffix))
	if err != nil {
		t.Fatalf("reading cache entry: %v", err)
	}
	if !bytes.Equal(cached, art.body) {
		t.Errorf("cache entry bytes differ from artifact body")
	}
}

func TestFetch_SecondFetchIsCacheHit(t *testing.T) {
	t.Parallel()

	art := &artifactServer{etag: "stable-etag", body: []byte("unchanged artifact")}
	srv := httptest.NewServer(art)
	defer srv.Close()

	cacheDir := t.TempDir()
	destDir := t.TempDir()
	d := NewDownloader(cacheDir, true)

	first, err := d.Fetch(context.Background(), srv.URL+"/a.txz", filepath.Join(destDir, "first.txz"))
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if first.CacheHit {
		t.Fatal("first fetch must miss")
	}

	second, err := d.Fetch(context.Background(), srv.URL+"/a.txz", filepath.Join(destDir, "second.txz"))
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}

	if !second.CacheHit {
		t.Error("second fetch with unchanged fingerprint must be a cache hit")
	}
	if second.Transferred != 0 {
		t.Errorf("cache hit transferred %d body bytes, want 0", second.Transferred)
	}
	if n := art.getCalls.Load(); n != 1 {
		t.Errorf("expected exactly 1 body download across both fetches, got %d", n)
	}

	// Both destinations are byte-identical.
	a, _ := os.ReadFile(filepath.Join(destDir, "first.txz"))
	b, _ := os.ReadFile(filepath.Join(destDir, "second.txz"))
	if !bytes.Equal(a, b) {
		t.Error("destinations from hit and miss differ")
	}
}

func TestFetch_SharedFingerprintSharesCacheEntry(t *testing.T) {
	t.Parallel()

	// Two distinct URLs whose content fingerprint happens to match: the cache
	// is fingerprint-keyed, not URL-keyed, so one entry serves both.
	art := &artifactServer{etag: "shared", body: []byte("identical bytes")}
	srv := httptest.NewServer(art)
	defer srv.Close()

	cacheDir := t.TempDir()
	destDir := t.TempDir()
	d := NewDownloader(cacheDir, true)

	if _, err := d.Fetch(context.Background(), srv.URL+"/mirror-one.txz", filepath.Join(destDir, "one.txz")); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if _, err := d.Fetch(context.Background(), srv.URL+"/mirror-two.txz", filepath.Join(destDir, "two.txz")); err != nil {
		t.Fatalf("second fetch: %v", err)
	}

	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		t.Fatalf("reading cache dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly 1 cache entry, got %d", len(entries))
	}
	if n := art.getCalls.Load(); n != 1 {
		t.Errorf("expected 1 body download for shared fingerprint, got %d", n)
	}

	one, _ := os.ReadFile(filepath.Join(destDir, "one.txz"))
	two, _ := os.ReadFile(filepath.Join(destDir, "two.txz"))
	if !bytes.Equal(one, two) {
		t.Error("destinations for shared fingerprint differ")
	}
}

func TestFetch_NoCacheAlwaysDownloads(t *testing.T) {
	t.Parallel()

	art := &artifactServer{etag: "ignored", body: []byte("artifact")}
	srv := httptest.NewServer(art)
	defer srv.Close()

	cacheDir := t.TempDir()
	destPath := filepath.Join(t.TempDir(), "dest.txz")

	d := NewDownloader(cacheDir, false)
	for i := 0; i < 2; i++ {
		result, err := d.Fetch(context.Background(), srv.URL+"/a.txz", destPath)
		if err != nil {
			t.Fatalf("fetch %d: %v", i+1, err)
		}
		if result.CacheHit {
			t.Errorf("fetch %d: cache hit with caching disabled", i+1)
		}
	}

	if n := art.getCalls.Load(); n != 2 {
		t.Errorf("expected 2 body downloads with caching disabled, got %d", n)
	}
	if n := art.headCalls.Load(); n != 0 {
		t.Errorf("expected no metadata requests with caching disabled, got %d", n)
	}

	// Nothing may land in the cache directory.
	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		t.Fatalf("reading cache dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("cache dir not empty with caching disabled: %v", entries)
	}
}

func TestFetch_ErrorWhenNoFingerprint(t *testing.T) {
	t.Parallel()

	art := &artifactServer{etag: "", body: []byte("artifact")}
	srv := httptest.NewServer(art)
	defer srv.Close()

	d := NewDownloader(t.TempDir(), true)
	_, err := d.Fetch(context.Background(), srv.URL+"/a.txz", filepath.Join(t.TempDir(), "dest.txz"))
	if err == nil {
		t.Fatal("expected error when the remote serves no ETag, got nil")
	}
	if !errors.Is(err, ErrNoFingerprint) {
		t.Errorf("expected ErrNoFingerprint, got %v", err)
	}

	var nfErr *NoFingerprintError
	if !errors.As(err, &nfErr) {
		t.Errorf("expected *NoFingerprintError, got %T", err)
	}
}

func TestFetch_ProgressReportsCumulativeBytes(t *testing.T) {
	t.Parallel()

	// Three chunks: 1024 + 1024 + 452.
	body := bytes.Repeat([]byte("x"), 2500)
	art := &artifactServer{etag: "big", body: body}
	srv := httptest.NewServer(art)
	defer srv.Close()

	var transfers []int64
	var lastTotal int64
	d := NewDownloader(t.TempDir(), true, WithProgress(func(transferred, total int64) {
		transfers = append(transfers, transferred)
		lastTotal = total
	}))

	if _, err := d.Fetch(context.Background(), srv.URL+"/big.txz", filepath.Join(t.TempDir(), "big.txz")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(transfers) == 0 {
		t.Fatal("progress callback never invoked")
	}
	for i := 1; i < len(transfers); i++ {
		if transfers[i] < transfers[i-1] {
			t.Fatalf("progress regressed: %d after %d", transfers[i], transfers[i-1])
		}
	}
	if final := transfers[len(transfers)-1]; final != int64(len(body)) {
		t.Errorf("final cumulative transfer: got %d, want %d", final, len(body))
	}
	if lastTotal != int64(len(body)) {
		t.Errorf("declared total: got %d, want %d", lastTotal, len(body))
	}
}

func TestFetch_TruncatedBodyLeavesNoCacheEntry(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"truncated"`)
		if r.Method == http.MethodHead {
			return
		}
		// Declare more bytes than are written; the server closes the
		// connection early and the client sees a mid-transfer failure.
		w.Header().Set("Content-Length", "4096")
		_, _ = w.Write([]byte("short"))
	}))
	defer srv.Close()

	cacheDir := t.TempDir()
	d := NewDownloader(cacheDir, true)

	_, err := d.Fetch(context.Background(), srv.URL+"/a.txz", filepath.Join(t.TempDir(), "dest.txz"))
	if err == nil {
		t.Fatal("expected error for truncated body, got nil")
	}

	// Neither a committed entry nor a partial file may remain.
	entries, readErr := os.ReadDir(cacheDir)
	if readErr != nil {
		t.Fatalf("reading cache dir: %v", readErr)
	}
	if len(entries) != 0 {
		t.Errorf("truncated download left cache entries behind: %v", entries)
	}
}

func TestFetch_ErrorOnNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer srv.Close()

	d := NewDownloader(t.TempDir(), true)
	if _, err := d.Fetch(context.Background(), srv.URL+"/missing.txz", filepath.Join(t.TempDir(), "dest.txz")); err == nil {
		t.Fatal("expected error for 404 response, got nil")
	}
}

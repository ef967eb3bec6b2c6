// SPDX-License-Identifier: MPL-2.0

package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestListVersions_StripsPrefixAndExcludesMaster(t *testing.T) {
	t.Parallel()

	branches := []repoBranch{
		{Name: "DSM6.2"},
		{Name: "DSM7.0"},
		{Name: "DSM7.1"},
		{Name: "master"},
	}

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(branches); err != nil {
			t.Errorf("encoding branches: %v", err)
		}
	}))
	defer srv.Close()

	client := NewClient(WithBranchesURL(srv.URL))
	got, err := client.ListVersions(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// master excluded, DSM prefix stripped, remote order preserved.
	want := []Version{"6.2", "7.0", "7.1"}
	if len(got) != len(want) {
		t.Fatalf("expected %d versions, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("version[%d]: got %q, want %q", i, got[i], want[i])
		}
	}

	// The whole catalog comes from a single request.
	if n := calls.Load(); n != 1 {
		t.Errorf("expected exactly 1 branch-list call, got %d", n)
	}
}

func TestListVersions_ErrorOnNonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewClient(WithBranchesURL(srv.URL))
	if _, err := client.ListVersions(context.Background()); err == nil {
		t.Fatal("expected error for non-200 status, got nil")
	}
}

func TestListVersions_ErrorOnMalformedBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte("not json at all")); err != nil {
			t.Errorf("writing body: %v", err)
		}
	}))
	defer srv.Close()

	client := NewClient(WithBranchesURL(srv.URL))
	if _, err := client.ListVersions(context.Background()); err == nil {
		t.Fatal("expected error for malformed body, got nil")
	}
}

func TestListVersions_ErrorOnEmptyCatalog(t *testing.T) {
	t.Parallel()

	// Only the development branch exists: no version can be derived.
	branches := []repoBranch{{Name: "master"}}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(branches); err != nil {
			t.Errorf("encoding branches: %v", err)
		}
	}))
	defer srv.Close()

	client := NewClient(WithBranchesURL(srv.URL))
	if _, err := client.ListVersions(context.Background()); err == nil {
		t.Fatal("expected error for empty catalog, got nil")
	}
}

func TestResolveArtifacts_ConcatenatesBaseThenPlatform(t *testing.T) {
	t.Parallel()

	lists := map[string][]string{
		"base":   {"https://downloads.example.com/base_env-7.1.txz"},
		"avoton": {"https://downloads.example.com/ds.avoton-7.1.dev.txz", "https://downloads.example.com/ds.avoton-7.1.env.txz"},
	}

	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)

		target := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		list, ok := lists[target]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(downloadList{FileList: list}); err != nil {
			t.Errorf("encoding list: %v", err)
		}
	}))
	defer srv.Close()

	client := NewClient(WithToolkitURL(srv.URL))
	got, err := client.ResolveArtifacts(context.Background(), "7.1", "avoton")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := append(append([]string{}, lists["base"]...), lists["avoton"]...)
	if len(got) != len(want) {
		t.Fatalf("expected %d artifact URLs, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("artifact[%d]: got %q, want %q", i, got[i], want[i])
		}
	}

	// Exactly two catalog calls: base first, then the requested platform.
	if len(paths) != 2 {
		t.Fatalf("expected 2 catalog calls, got %d: %v", len(paths), paths)
	}
	if !strings.HasSuffix(paths[0], "/7.1/base") {
		t.Errorf("first call path: got %q, want suffix %q", paths[0], "/7.1/base")
	}
	if !strings.HasSuffix(paths[1], "/7.1/avoton") {
		t.Errorf("second call path: got %q, want suffix %q", paths[1], "/7.1/avoton")
	}
}

func TestResolveArtifacts_ErrorOnMissingFileList(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// Valid JSON, but the fileList field is absent.
		if _, err := w.Write([]byte(`{"status": "ok"}`)); err != nil {
			t.Errorf("writing body: %v", err)
		}
	}))
	defer srv.Close()

	client := NewClient(WithToolkitURL(srv.URL))
	_, err := client.ResolveArtifacts(context.Background(), "7.1", "avoton")
	if err == nil {
		t.Fatal("expected error for response missing fileList, got nil")
	}
	if !strings.Contains(err.Error(), "fileList") {
		t.Errorf("error %q should name the missing field", err)
	}
}

func TestResolveArtifacts_EmptyFileListIsValid(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{"fileList": []}`)); err != nil {
			t.Errorf("writing body: %v", err)
		}
	}))
	defer srv.Close()

	client := NewClient(WithToolkitURL(srv.URL))
	got, err := client.ResolveArtifacts(context.Background(), "7.1", "avoton")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no artifacts, got %v", got)
	}
}

func TestResolveArtifacts_ErrorOnPlatformRequestFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/base") {
			w.Header().Set("Content-Type", "application/json")
			if _, err := w.Write([]byte(`{"fileList": ["https://downloads.example.com/base.txz"]}`)); err != nil {
				t.Errorf("writing body: %v", err)
			}
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := NewClient(WithToolkitURL(srv.URL))
	if _, err := client.ResolveArtifacts(context.Background(), "7.1", "avoton"); err == nil {
		t.Fatal("expected error when the platform request fails, got nil")
	}
}

func TestClient_SendsUserAgent(t *testing.T) {
	t.Parallel()

	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode([]repoBranch{{Name: "DSM7.1"}}); err != nil {
			t.Errorf("encoding branches: %v", err)
		}
	}))
	defer srv.Close()

	client := NewClient(WithBranchesURL(srv.URL), WithUserAgent("teleport-spk/1.2.3"))
	if _, err := client.ListVersions(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotUA != "teleport-spk/1.2.3" {
		t.Errorf("User-Agent: got %q, want %q", gotUA, "teleport-spk/1.2.3")
	}
}

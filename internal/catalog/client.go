// SPDX-License-Identifier: MPL-2.0

package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	// DefaultBranchesURL lists the branches of the vendor's toolchain scripts
	// repository. One branch exists per published DSM version, plus "master".
	DefaultBranchesURL = "https://api.github.com/repos/SynologyOpenSource/pkgscripts-ng/branches"

	// DefaultToolkitURL is the vendor's toolkit catalog endpoint. Appending
	// /<version>/<platform> yields the download list for that pair.
	DefaultToolkitURL = "https://dataautoupdate7.synology.com/toolchain/v1/get_download_list/toolkit"

	// basePlatform is the pseudo-platform whose artifact set every build
	// needs in addition to the requested platform's set.
	basePlatform = "base"

	// masterBranch is the repository's development branch; it does not
	// correspond to a DSM version and is excluded from the catalog.
	masterBranch = "master"

	// defaultUserAgent identifies this tool to the remote APIs.
	defaultUserAgent = "teleport-spk/dev"

	// maxJSONResponseBytes is the upper bound on JSON API response size (10 MB).
	// Prevents unbounded memory consumption from malicious or malformed responses.
	maxJSONResponseBytes = 10 << 20
)

type (
	// Client queries the remote catalogs: the branch-listing API for supported
	// DSM versions and the toolkit API for per-(version, platform) artifact
	// lists. No retries are performed; a transient failure aborts the run.
	Client struct {
		httpClient  *http.Client
		branchesURL string // branch-listing endpoint (overridable for tests)
		toolkitURL  string // toolkit catalog endpoint (overridable for tests)
		userAgent   string // User-Agent header value
	}

	// ClientOption configures a Client during construction.
	ClientOption func(*Client)

	// repoBranch is the JSON wire format of one entry in the branch-listing
	// API response.
	repoBranch struct {
		Name string `json:"name"`
	}

	// downloadList is the JSON wire format of a toolkit catalog response.
	// FileList stays nil when the field is absent, which callers treat as a
	// malformed response.
	downloadList struct {
		FileList []string `json:"fileList"`
	}
)

// WithHTTPClient sets a custom HTTP client, useful for tests or proxy configurations.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithBranchesURL overrides the branch-listing endpoint, primarily for test servers.
func WithBranchesURL(u string) ClientOption {
	return func(cl *Client) {
		cl.branchesURL = strings.TrimRight(u, "/")
	}
}

// WithToolkitURL overrides the toolkit catalog endpoint, primarily for test servers.
func WithToolkitURL(u string) ClientOption {
	return func(cl *Client) {
		cl.toolkitURL = strings.TrimRight(u, "/")
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) ClientOption {
	return func(cl *Client) {
		cl.userAgent = ua
	}
}

// NewClient creates a Client with sensible defaults: the vendor's production
// endpoints and http.DefaultClient.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient:  http.DefaultClient,
		branchesURL: DefaultBranchesURL,
		toolkitURL:  DefaultToolkitURL,
		userAgent:   defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListVersions fetches the supported DSM versions from the branch-listing
// endpoint in a single request. Branch names have the version prefix stripped
// ("DSM7.1" → "7.1") and the development branch is excluded. The remote
// ordering is preserved. An unreachable endpoint or unparsable body is an
// error; there is no safe default version.
func (c *Client) ListVersions(ctx context.Context) ([]Version, error) {
	resp, err := c.doRequest(ctx, c.branchesURL)
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	defer func() { _ = resp.Body.Close() }() // read-only response body

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing versions: unexpected status %d", resp.StatusCode)
	}

	var branches []repoBranch
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJSONResponseBytes)).Decode(&branches); err != nil {
		return nil, fmt.Errorf("listing versions: decoding response: %w", err)
	}

	versions := make([]Version, 0, len(branches))
	for _, b := range branches {
		if b.Name == masterBranch {
			continue
		}
		versions = append(versions, Version(strings.TrimPrefix(b.Name, versionBranchPrefix)))
	}

	if len(versions) == 0 {
		return nil, fmt.Errorf("listing versions: no version branches found")
	}

	return versions, nil
}

// ResolveArtifacts returns the toolkit artifact URLs needed for the given
// (version, platform) pair: the "base" set followed by the platform set, in
// catalog order. Either request failing, or a response without the file list,
// is an error; no retry is performed.
func (c *Client) ResolveArtifacts(ctx context.Context, version Version, platform Platform) ([]string, error) {
	var urls []string

	for _, target := range []string{basePlatform, string(platform)} {
		list, err := c.downloadListFor(ctx, version, target)
		if err != nil {
			return nil, err
		}
		urls = append(urls, list...)
	}

	return urls, nil
}

// downloadListFor fetches the file list for one (version, target) pair, where
// target is either the pseudo-platform "base" or a concrete platform name.
func (c *Client) downloadListFor(ctx context.Context, version Version, target string) ([]string, error) {
	listURL := fmt.Sprintf("%s/%s/%s", c.toolkitURL, version, target)

	resp, err := c.doRequest(ctx, listURL)
	if err != nil {
		return nil, fmt.Errorf("resolving artifacts for %s/%s: %w", version, target, err)
	}
	defer func() { _ = resp.Body.Close() }() // read-only response body

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("resolving artifacts for %s/%s: unexpected status %d", version, target, resp.StatusCode)
	}

	var list downloadList
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJSONResponseBytes)).Decode(&list); err != nil {
		return nil, fmt.Errorf("resolving artifacts for %s/%s: decoding response: %w", version, target, err)
	}

	// A JSON body without the fileList field decodes to a nil slice; an empty
	// list decodes to a non-nil one. Only the former is malformed.
	if list.FileList == nil {
		return nil, fmt.Errorf("resolving artifacts for %s/%s: response missing fileList", version, target)
	}

	return list.FileList, nil
}

// doRequest creates and executes a GET request with common headers.
func (c *Client) doRequest(ctx context.Context, reqURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}

	return resp, nil
}

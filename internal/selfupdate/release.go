// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"golang.org/x/mod/semver"
)

const (
	releaseOwner = "haukened"
	releaseRepo  = "teleport-spk"

	defaultAPIBaseURL = "https://api.github.com"

	// maxJSONBytes bounds the release listing response so a
	// misbehaving endpoint cannot exhaust memory.
	maxJSONBytes = 10 << 20
)

// ErrReleaseNotFound is returned when the requested tag does not exist.
var ErrReleaseNotFound = errors.New("release not found")

// RateLimitError is returned when the GitHub API refuses the request
// because the rate limit is exhausted.
type RateLimitError struct {
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	if e.ResetAt.IsZero() {
		return "github api rate limit exceeded"
	}
	return fmt.Sprintf("github api rate limit exceeded, resets at %s", e.ResetAt.Format(time.Kitchen))
}

// Release is one published release of teleport-spk.
type Release struct {
	TagName    string    `json:"tag_name"`
	Name       string    `json:"name"`
	Draft      bool      `json:"draft"`
	Prerelease bool      `json:"prerelease"`
	Assets     []Asset   `json:"assets"`
	HTMLURL    string    `json:"html_url"`
	CreatedAt  time.Time `json:"created_at"`
}

// Asset is one downloadable file attached to a release.
type Asset struct {
	Name        string `json:"name"`
	DownloadURL string `json:"browser_download_url"`
	Size        int64  `json:"size"`
}

// Client fetches teleport-spk releases from the GitHub API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	owner      string
	repo       string
	token      string
	userAgent  string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client used for API calls.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithBaseURL points the client at a different API endpoint.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = u }
}

// WithRepo overrides the release repository.
func WithRepo(owner, repo string) ClientOption {
	return func(c *Client) { c.owner, c.repo = owner, repo }
}

// WithToken authenticates API calls. The token is only ever sent to
// GitHub-owned hosts.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithUserAgent sets the User-Agent header on API calls.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}

// NewClient returns a release client for the teleport-spk repository.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultAPIBaseURL,
		owner:      releaseOwner,
		repo:       releaseRepo,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StableReleases returns published stable releases, newest first.
// Drafts and pre-releases are filtered out.
func (c *Client) StableReleases(ctx context.Context) ([]Release, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/releases?per_page=30", c.baseURL, c.owner, c.repo)
	resp, err := c.get(ctx, endpoint, "application/vnd.github+json")
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }() // read-only response body

	var all []Release
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJSONBytes)).Decode(&all); err != nil {
		return nil, fmt.Errorf("decoding release list: %w", err)
	}

	stable := make([]Release, 0, len(all))
	for _, rel := range all {
		if rel.Draft || rel.Prerelease {
			continue
		}
		stable = append(stable, rel)
	}
	sortReleases(stable)
	return stable, nil
}

// ReleaseByTag fetches a single release by its tag, for example
// "v1.2.0". Returns ErrReleaseNotFound when the tag does not exist.
func (c *Client) ReleaseByTag(ctx context.Context, tag string) (*Release, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/releases/tags/%s", c.baseURL, c.owner, c.repo, url.PathEscape(tag))
	resp, err := c.get(ctx, endpoint, "application/vnd.github+json")
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }() // read-only response body

	var rel Release
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJSONBytes)).Decode(&rel); err != nil {
		return nil, fmt.Errorf("decoding release %s: %w", tag, err)
	}
	return &rel, nil
}

// DownloadAsset streams one release asset. The caller must close the
// returned reader.
func (c *Client) DownloadAsset(ctx context.Context, asset Asset) (io.ReadCloser, error) {
	resp, err := c.get(ctx, asset.DownloadURL, "application/octet-stream")
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) get(ctx context.Context, rawURL, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", redactURL(rawURL), err)
	}
	req.Header.Set("Accept", accept)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.token != "" && isGitHubHost(req.URL.Host) {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", redactURL(rawURL), err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp, nil
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, ErrReleaseNotFound
	case resp.StatusCode == http.StatusForbidden && rateLimited(resp):
		resp.Body.Close()
		return nil, &RateLimitError{ResetAt: rateLimitReset(resp)}
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("fetching %s: unexpected status %s", redactURL(rawURL), resp.Status)
	}
}

// sortReleases orders releases by semver tag descending. Tags that do
// not parse as semver sort last, keeping GitHub's recency order.
func sortReleases(releases []Release) {
	slices.SortStableFunc(releases, func(a, b Release) int {
		at, bt := normalizeTag(a.TagName), normalizeTag(b.TagName)
		av, bv := semver.IsValid(at), semver.IsValid(bt)
		switch {
		case av && bv:
			return -semver.Compare(at, bt)
		case av:
			return -1
		case bv:
			return 1
		default:
			return 0
		}
	})
}

func normalizeTag(tag string) string {
	if tag == "" {
		return tag
	}
	if tag[0] != 'v' {
		return "v" + tag
	}
	return tag
}

func rateLimited(resp *http.Response) bool {
	return resp.Header.Get("X-RateLimit-Remaining") == "0"
}

func rateLimitReset(resp *http.Response) time.Time {
	epoch, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(epoch, 0)
}

// isGitHubHost reports whether the host belongs to GitHub. The auth
// token must never leak to redirect targets on other domains.
func isGitHubHost(host string) bool {
	switch host {
	case "github.com", "api.github.com", "objects.githubusercontent.com", "release-assets.githubusercontent.com":
		return true
	}
	return false
}

// redactURL strips query parameters and userinfo before a URL is
// embedded in an error message.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "(unparseable url)"
	}
	u.RawQuery = ""
	u.User = nil
	return u.String()
}

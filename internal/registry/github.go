// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	releasesPerPage = 10

	// maxReleasePages bounds pagination; release feeds publish every few
	// days, so five pages reach every interpreter still worth installing.
	maxReleasePages = 5

	maxReleasePageBytes = 10 << 20
)

type (
	// RateLimitError reports an exhausted GitHub API quota.
	RateLimitError struct {
		Limit     int
		Remaining int
		ResetAt   time.Time
	}

	// Release is a published GitHub release.
	Release struct {
		TagName    string  `json:"tag_name"`
		Prerelease bool    `json:"prerelease"`
		Draft      bool    `json:"draft"`
		Assets     []Asset `json:"assets"`
	}

	// Asset is one file attached to a release.
	Asset struct {
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
		Size               int64  `json:"size"`
	}

	// GitHubClient lists the releases of one repository.
	GitHubClient struct {
		httpClient *http.Client
		owner      string
		repo       string
		baseURL    string
		token      string
		userAgent  string
	}

	// ClientOption configures a GitHubClient.
	ClientOption func(*GitHubClient)
)

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("GitHub API rate limit of %d requests exceeded, resets at %s",
		e.Limit, e.ResetAt.UTC().Format("15:04 UTC"))
}

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(g *GitHubClient) { g.httpClient = c }
}

// WithBaseURL points the client at another API root, such as a test server
// or GitHub Enterprise.
func WithBaseURL(base string) ClientOption {
	return func(g *GitHubClient) { g.baseURL = strings.TrimRight(base, "/") }
}

// WithToken authenticates API requests, raising the rate limit from 60 to
// 5000 requests an hour.
func WithToken(token string) ClientOption {
	return func(g *GitHubClient) { g.token = token }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(g *GitHubClient) { g.userAgent = ua }
}

// NewGitHubClient creates a client for owner/repo.
func NewGitHubClient(owner, repo string, opts ...ClientOption) *GitHubClient {
	c := &GitHubClient{
		httpClient: http.DefaultClient,
		owner:      owner,
		repo:       repo,
		baseURL:    "https://api.github.com",
		userAgent:  "pyvm/dev",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Repo returns "owner/repo".
func (c *GitHubClient) Repo() string { return c.owner + "/" + c.repo }

// ListReleases returns published releases in API order (newest first),
// following Link pagination for at most maxReleasePages pages.
func (c *GitHubClient) ListReleases(ctx context.Context) ([]Release, error) {
	next := fmt.Sprintf("%s/repos/%s/releases?per_page=%d", c.baseURL, c.Repo(), releasesPerPage)

	var releases []Release
	for page := 0; page < maxReleasePages && next != ""; page++ {
		batch, link, err := c.fetchPage(ctx, next)
		if err != nil {
			return nil, err
		}
		for _, r := range batch {
			if !r.Draft {
				releases = append(releases, r)
			}
		}
		next = link
	}
	return releases, nil
}

// fetchPage GETs one page of releases and returns the "next" link.
func (c *GitHubClient) fetchPage(ctx context.Context, pageURL string) (_ []Release, next string, _ error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return nil, "", fmt.Errorf("listing releases of %s: %w", c.Repo(), err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", c.userAgent)
	// A Link header could point elsewhere; the token stays with the API host.
	if c.token != "" && sameHost(req.URL, c.baseURL) {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("listing releases of %s: %w", c.Repo(), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if rl := rateLimited(resp.Header); rl != nil {
		return nil, "", rl
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("listing releases of %s: unexpected status %d", c.Repo(), resp.StatusCode)
	}

	var batch []Release
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxReleasePageBytes)).Decode(&batch); err != nil {
		return nil, "", fmt.Errorf("decoding releases of %s: %w", c.Repo(), err)
	}
	return batch, parseLinkHeader(resp.Header.Get("Link")), nil
}

// rateLimited returns a RateLimitError when X-RateLimit-Remaining is 0.
// Missing or malformed headers mean no limit was hit.
func rateLimited(h http.Header) *RateLimitError {
	remaining, err := strconv.Atoi(h.Get("X-RateLimit-Remaining"))
	if err != nil || remaining > 0 {
		return nil
	}
	limit, _ := strconv.Atoi(h.Get("X-RateLimit-Limit"))
	reset, _ := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64)
	return &RateLimitError{Limit: limit, ResetAt: time.Unix(reset, 0)}
}

// parseLinkHeader returns the rel="next" target of a Link header:
//
//	<https://api.github.com/...?page=2>; rel="next", <...>; rel="last"
func parseLinkHeader(header string) string {
	for link := range strings.SplitSeq(header, ",") {
		target, params, ok := strings.Cut(strings.TrimSpace(link), ";")
		if !ok || !strings.Contains(params, `rel="next"`) {
			continue
		}
		target = strings.TrimSpace(target)
		if strings.HasPrefix(target, "<") && strings.HasSuffix(target, ">") {
			return target[1 : len(target)-1]
		}
	}
	return ""
}

func sameHost(u *url.URL, baseURL string) bool {
	base, err := url.Parse(baseURL)
	return err == nil && strings.EqualFold(u.Host, base.Host)
}

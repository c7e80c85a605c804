// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// DefaultUserAgent is sent when no other User-Agent is configured.
const DefaultUserAgent = "pyvm/dev"

// trustedTokenHosts may receive the GitHub token. Release assets redirect to
// objects.githubusercontent.com, which must not see it.
var trustedTokenHosts = []string{"github.com", "api.github.com"}

type (
	// HTTPFetcher downloads over http and https.
	HTTPFetcher struct {
		client    *http.Client
		userAgent string
		token     string
		// tokenHosts extends trustedTokenHosts (test servers).
		tokenHosts []string
	}

	// HTTPOption configures an HTTPFetcher.
	HTTPOption func(*HTTPFetcher)
)

// WithHTTPClient sets a custom HTTP client, useful for tests or proxy configurations.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(f *HTTPFetcher) { f.client = c }
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) HTTPOption {
	return func(f *HTTPFetcher) { f.userAgent = ua }
}

// WithToken sets a GitHub token attached only to GitHub hosts (and any
// extra hosts given).
func WithToken(token string, extraHosts ...string) HTTPOption {
	return func(f *HTTPFetcher) {
		f.token = token
		f.tokenHosts = append(f.tokenHosts, extraHosts...)
	}
}

// NewHTTPFetcher creates an HTTPFetcher using http.DefaultClient.
func NewHTTPFetcher(opts ...HTTPOption) *HTTPFetcher {
	f := &HTTPFetcher{
		client:    http.DefaultClient,
		userAgent: DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Open issues a GET and returns the body on 200.
func (f *HTTPFetcher) Open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request for %s: %w", redactURL(rawURL), err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	if f.token != "" && f.trusted(req.URL) {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", redactURL(rawURL), err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, &StatusError{URL: redactURL(rawURL), Code: resp.StatusCode}
	}
	return resp.Body, nil
}

func (f *HTTPFetcher) trusted(u *url.URL) bool {
	for _, h := range trustedTokenHosts {
		if strings.EqualFold(u.Hostname(), h) {
			return true
		}
	}
	for _, h := range f.tokenHosts {
		if strings.EqualFold(u.Host, h) {
			return true
		}
	}
	return false
}

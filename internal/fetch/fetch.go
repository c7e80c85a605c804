// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/charmbracelet/log"
)

var (
	// ErrUnsupportedScheme is returned for URL schemes no fetcher handles.
	ErrUnsupportedScheme = errors.New("unsupported URL scheme")
	// ErrNotFound is returned when the remote object does not exist.
	ErrNotFound = errors.New("not found")
)

type (
	// Fetcher streams the resource at a URL. The caller closes the body.
	Fetcher interface {
		Open(ctx context.Context, rawURL string) (io.ReadCloser, error)
	}

	// StatusError reports an unexpected response status. URL is redacted.
	StatusError struct {
		URL  string
		Code int
	}

	// Client dispatches to a Fetcher per URL scheme.
	Client struct {
		schemes map[string]Fetcher
		mirror  string
		logger  *log.Logger
	}

	// Option configures a Client.
	Option func(*Client)
)

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("fetching %s: unexpected status %d", e.URL, e.Code)
}

// Unwrap returns ErrNotFound for 404 responses.
func (e *StatusError) Unwrap() error {
	if e.Code == 404 {
		return ErrNotFound
	}
	return nil
}

// WithFetcher registers f for scheme, replacing any default.
func WithFetcher(scheme string, f Fetcher) Option {
	return func(c *Client) { c.schemes[strings.ToLower(scheme)] = f }
}

// WithMirror rewrites every URL to <mirror>/<basename>.
func WithMirror(mirror string) Option {
	return func(c *Client) { c.mirror = strings.TrimRight(mirror, "/") }
}

// WithLogger sets the logger used for debug output.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client with http, https and file fetchers. s3 is only
// available when registered with WithFetcher (see NewS3Fetcher).
func New(opts ...Option) *Client {
	httpf := NewHTTPFetcher()
	c := &Client{
		schemes: map[string]Fetcher{
			"http":  httpf,
			"https": httpf,
			"file":  FileFetcher{},
		},
		logger: log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open resolves rawURL through the mirror and streams it.
func (c *Client) Open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	target, err := RewriteMirror(c.mirror, rawURL)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parsing URL %s: %w", redactURL(target), err)
	}
	f, ok := c.schemes[strings.ToLower(u.Scheme)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	c.logger.Debug("fetching", "url", redactURL(target))
	return f.Open(ctx, target)
}

// RewriteMirror returns rawURL unchanged when mirror is empty, otherwise
// <mirror>/<basename of rawURL's path>.
func RewriteMirror(mirror, rawURL string) (string, error) {
	if mirror == "" {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing URL %s: %w", redactURL(rawURL), err)
	}
	base := path.Base(u.Path)
	if base == "/" || base == "." || base == "" {
		return "", fmt.Errorf("URL %s has no file name to mirror", redactURL(rawURL))
	}
	return strings.TrimRight(mirror, "/") + "/" + base, nil
}

// redactURL strips query parameters, fragments and user info from a URL for
// safe inclusion in error messages.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid-url>"
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil
	return u.String()
}

// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func TestListReleases_PaginationAndDrafts(t *testing.T) {
	t.Parallel()

	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "application/vnd.github+json" {
			t.Errorf("Accept = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		var page []Release
		switch r.URL.Query().Get("page") {
		case "":
			page = []Release{{TagName: "20240107"}, {TagName: "20240101", Draft: true}}
			w.Header().Set("Link", fmt.Sprintf(`<%s/repos/o/r/releases?page=2>; rel="next"`, srvURL))
		case "2":
			page = []Release{{TagName: "20231002"}}
		}
		if err := json.NewEncoder(w).Encode(page); err != nil {
			t.Errorf("encoding: %v", err)
		}
	}))
	defer srv.Close()
	srvURL = srv.URL

	got, err := NewGitHubClient("o", "r", WithBaseURL(srv.URL)).ListReleases(context.Background())
	if err != nil {
		t.Fatalf("ListReleases() error: %v", err)
	}
	if len(got) != 2 || got[0].TagName != "20240107" || got[1].TagName != "20231002" {
		t.Errorf("ListReleases() = %+v", got)
	}
}

func TestListReleases_RateLimit(t *testing.T) {
	t.Parallel()

	reset := time.Date(2026, 1, 2, 15, 4, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Limit", "60")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewGitHubClient("o", "r", WithBaseURL(srv.URL)).ListReleases(context.Background())
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("ListReleases() = %v, want RateLimitError", err)
	}
	if rl.Limit != 60 || !rl.ResetAt.Equal(reset) {
		t.Errorf("RateLimitError = %+v", rl)
	}
}

func TestListReleases_TokenOnlyForAPIHost(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		_, _ = w.Write([]byte("[]"))
	}))
	defer srv.Close()

	if _, err := NewGitHubClient("o", "r", WithBaseURL(srv.URL), WithToken("tok")).ListReleases(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestParseLinkHeader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		header, want string
	}{
		{"", ""},
		{`<https://api.github.com/x?page=2>; rel="next", <https://api.github.com/x?page=9>; rel="last"`, "https://api.github.com/x?page=2"},
		{`<https://api.github.com/x?page=9>; rel="last"`, ""},
	}
	for _, tt := range tests {
		if got := parseLinkHeader(tt.header); got != tt.want {
			t.Errorf("parseLinkHeader(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

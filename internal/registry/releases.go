// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"context"
	"fmt"
	"regexp"
	"runtime"

	"github.com/pyvm/pyvm/pkg/version"
)

// ChecksumsAsset is the name of the sha256sum file published with each release.
const ChecksumsAsset = "SHA256SUMS"

// assetRegex matches python-build-standalone "install_only" archives:
// cpython-3.12.1+20240107-x86_64-unknown-linux-gnu-install_only.tar.gz
var assetRegex = regexp.MustCompile(`^cpython-(\d+\.\d+\.\d+(?:(?:a|b|rc)\d+)?)\+(\d+)-(.+)-install_only\.tar\.gz$`)

type (
	// ReleaseLister lists releases. *GitHubClient implements it.
	ReleaseLister interface {
		ListReleases(ctx context.Context) ([]Release, error)
		Repo() string
	}

	// ReleaseSource turns a prebuilt interpreter release feed into binary
	// definitions for one platform triple.
	ReleaseSource struct {
		client ReleaseLister
		triple string
	}
)

// NewReleaseSource creates a release source for the host platform.
func NewReleaseSource(client ReleaseLister) *ReleaseSource {
	return &ReleaseSource{client: client, triple: HostTriple()}
}

// WithTriple returns a copy of s targeting another platform triple.
func (s *ReleaseSource) WithTriple(triple string) *ReleaseSource {
	return &ReleaseSource{client: s.client, triple: triple}
}

// Name identifies the source in diagnostics.
func (s *ReleaseSource) Name() string { return "github:" + s.client.Repo() }

// List returns one binary definition per interpreter version. Releases are
// walked newest first so the latest build of each version wins.
func (s *ReleaseSource) List(ctx context.Context) ([]Definition, error) {
	if s.triple == "" {
		return nil, fmt.Errorf("no prebuilt interpreters for %s/%s", runtime.GOOS, runtime.GOARCH)
	}
	releases, err := s.client.ListReleases(ctx)
	if err != nil {
		return nil, err
	}

	var (
		defs []Definition
		seen = make(map[string]bool)
	)
	for _, rel := range releases {
		checksumURL := ""
		for _, a := range rel.Assets {
			if a.Name == ChecksumsAsset {
				checksumURL = a.BrowserDownloadURL
			}
		}
		for _, a := range rel.Assets {
			m := assetRegex.FindStringSubmatch(a.Name)
			if m == nil || m[3] != s.triple {
				continue
			}
			name := m[1]
			if _, err := version.Parse(name); err != nil || seen[name] {
				continue
			}
			seen[name] = true
			defs = append(defs, Definition{
				Name:            name,
				Kind:            KindBinary,
				URL:             a.BrowserDownloadURL,
				ChecksumURL:     checksumURL,
				Archive:         FormatTarGz,
				StripComponents: 1,
				Source:          s.Name() + "@" + rel.TagName,
			})
		}
	}
	return defs, nil
}

// HostTriple returns the build triple of the running platform, or "" when
// no prebuilt interpreters are published for it.
func HostTriple() string {
	return triple(runtime.GOOS, runtime.GOARCH)
}

func triple(goos, goarch string) string {
	arch := map[string]string{"amd64": "x86_64", "arm64": "aarch64"}[goarch]
	if arch == "" {
		return ""
	}
	switch goos {
	case "linux":
		return arch + "-unknown-linux-gnu"
	case "darwin":
		return arch + "-apple-darwin"
	case "windows":
		return arch + "-pc-windows-msvc"
	}
	return ""
}

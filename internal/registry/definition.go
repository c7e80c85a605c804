// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/pyvm/pyvm/pkg/version"
)

const (
	// KindSource archives are compiled with the build script.
	KindSource Kind = "source"
	// KindBinary archives are relocatable prebuilt trees.
	KindBinary Kind = "binary"

	FormatTarGz  ArchiveFormat = "tar.gz"
	FormatTarZst ArchiveFormat = "tar.zst"
	FormatZip    ArchiveFormat = "zip"
)

var (
	// ErrInvalidDefinition is the sentinel error wrapped by InvalidDefinitionError.
	ErrInvalidDefinition = errors.New("invalid definition")
	// ErrUnknownArchiveFormat is returned when no format is given and none can
	// be inferred from the URL.
	ErrUnknownArchiveFormat = errors.New("unknown archive format")
)

type (
	// Kind says how a definition is installed.
	Kind string

	// ArchiveFormat names a supported archive encoding.
	ArchiveFormat string

	// Definition is everything the install manager needs to produce one
	// version directory.
	Definition struct {
		Name            string        `json:"name" yaml:"name"`
		Kind            Kind          `json:"kind" yaml:"kind"`
		URL             string        `json:"url" yaml:"url"`
		SHA256          string        `json:"sha256,omitempty" yaml:"sha256,omitempty"`
		ChecksumURL     string        `json:"checksum_url,omitempty" yaml:"checksum_url,omitempty"`
		Archive         ArchiveFormat `json:"archive" yaml:"archive"`
		StripComponents int           `json:"strip_components" yaml:"strip_components"`
		Build           string        `json:"build,omitempty" yaml:"build,omitempty"`
		ConfigureOpts   []string      `json:"configure_opts,omitempty" yaml:"configure_opts,omitempty"`
		// Source identifies where the definition came from (file path or
		// release feed) for receipts and diagnostics.
		Source string `json:"source" yaml:"source"`
	}

	// InvalidDefinitionError collects field-level validation errors.
	InvalidDefinitionError struct {
		Name        string
		FieldErrors []error
	}
)

// Error implements the error interface.
func (e *InvalidDefinitionError) Error() string {
	msgs := make([]string, 0, len(e.FieldErrors))
	for _, err := range e.FieldErrors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("invalid definition %q: %s", e.Name, strings.Join(msgs, "; "))
}

// Unwrap returns ErrInvalidDefinition for errors.Is() compatibility.
func (e *InvalidDefinitionError) Unwrap() error { return ErrInvalidDefinition }

// Validate checks the definition is installable.
func (d *Definition) Validate() error {
	var errs []error
	if err := version.Spec(d.Name).Validate(); err != nil {
		errs = append(errs, err)
	}
	switch d.Kind {
	case KindSource, KindBinary:
	default:
		errs = append(errs, fmt.Errorf("kind %q: must be source or binary", d.Kind))
	}
	if d.URL == "" {
		errs = append(errs, errors.New("url: must be non-empty"))
	}
	switch d.Archive {
	case FormatTarGz, FormatTarZst, FormatZip:
	default:
		errs = append(errs, fmt.Errorf("archive %q: %w", d.Archive, ErrUnknownArchiveFormat))
	}
	if d.StripComponents < 0 {
		errs = append(errs, fmt.Errorf("strip_components: must be >= 0, got %d", d.StripComponents))
	}
	if len(errs) > 0 {
		return &InvalidDefinitionError{Name: d.Name, FieldErrors: errs}
	}
	return nil
}

// ArchiveName is the file name used for the download cache.
func (d *Definition) ArchiveName() string {
	if u, err := url.Parse(d.URL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "/" && base != "." {
			return base
		}
	}
	return d.Name + "." + string(d.Archive)
}

// Verified reports whether the archive can be checked against a known hash.
func (d *Definition) Verified() bool {
	return d.SHA256 != "" || d.ChecksumURL != ""
}

// InferArchiveFormat maps a URL or file name suffix onto an ArchiveFormat.
func InferArchiveFormat(name string) (ArchiveFormat, error) {
	if u, err := url.Parse(name); err == nil && u.Path != "" {
		name = u.Path
	}
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz, nil
	case strings.HasSuffix(lower, ".tar.zst"), strings.HasSuffix(lower, ".tzst"):
		return FormatTarZst, nil
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownArchiveFormat, path.Base(name))
}

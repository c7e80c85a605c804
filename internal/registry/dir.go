// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pyvm/pyvm/pkg/cueutil"
)

// DefinitionExt is the file extension of definition files.
const DefinitionExt = ".cue"

//go:embed definition_schema.cue
var definitionSchema []byte

type (
	// DirSource reads one *.cue definition per version from a list of
	// directories. Missing directories are skipped; earlier directories win.
	DirSource struct {
		dirs []string
	}

	// definitionFile is the decoded CUE form of a Definition.
	definitionFile struct {
		Name            string   `json:"name"`
		Kind            string   `json:"kind"`
		URL             string   `json:"url"`
		SHA256          string   `json:"sha256"`
		ChecksumURL     string   `json:"checksum_url"`
		Archive         string   `json:"archive"`
		StripComponents int      `json:"strip_components"`
		Build           string   `json:"build"`
		ConfigureOpts   []string `json:"configure_opts"`
	}
)

// NewDirSource creates a DirSource over dirs.
func NewDirSource(dirs ...string) *DirSource {
	return &DirSource{dirs: slices.Clone(dirs)}
}

// Name identifies the source in diagnostics.
func (s *DirSource) Name() string {
	return "definitions(" + strings.Join(s.dirs, string(os.PathListSeparator)) + ")"
}

// List parses every definition file. A file that fails validation is an
// error: a broken definition is something the user must fix.
func (s *DirSource) List(ctx context.Context) ([]Definition, error) {
	var (
		defs []Definition
		seen = make(map[string]bool)
	)
	for _, dir := range s.dirs {
		entries, err := os.ReadDir(dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading definitions directory %s: %w", dir, err)
		}
		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if entry.IsDir() || filepath.Ext(entry.Name()) != DefinitionExt {
				continue
			}
			def, err := LoadDefinitionFile(filepath.Join(dir, entry.Name()))
			if err != nil {
				return nil, err
			}
			if seen[def.Name] {
				continue
			}
			seen[def.Name] = true
			defs = append(defs, *def)
		}
	}
	return defs, nil
}

// LoadDefinitionFile parses and validates a single definition file.
func LoadDefinitionFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading definition: %w", err)
	}
	return ParseDefinition(data, path)
}

// ParseDefinition parses definition CUE. The name defaults to the file stem
// and, when given, must match it.
func ParseDefinition(data []byte, path string) (*Definition, error) {
	result, err := cueutil.ParseAndDecode[definitionFile](definitionSchema, data, "#Definition", cueutil.WithFilename(path))
	if err != nil {
		return nil, err
	}
	f := result.Value

	stem := strings.TrimSuffix(filepath.Base(path), DefinitionExt)
	if f.Name == "" {
		f.Name = stem
	} else if f.Name != stem {
		return nil, &cueutil.ValidationError{
			FilePath:   path,
			CUEPath:    "name",
			Message:    fmt.Sprintf("name %q does not match file name %q", f.Name, stem),
			Suggestion: fmt.Sprintf("rename the file to %s%s or drop the name field", f.Name, DefinitionExt),
		}
	}

	def := &Definition{
		Name:            f.Name,
		Kind:            Kind(f.Kind),
		URL:             f.URL,
		SHA256:          strings.ToLower(f.SHA256),
		ChecksumURL:     f.ChecksumURL,
		Archive:         ArchiveFormat(f.Archive),
		StripComponents: f.StripComponents,
		Build:           f.Build,
		ConfigureOpts:   f.ConfigureOpts,
		Source:          path,
	}
	if def.Archive == "" {
		if def.Archive, err = InferArchiveFormat(def.URL); err != nil {
			return nil, &cueutil.ValidationError{
				FilePath:   path,
				CUEPath:    "archive",
				Message:    err.Error(),
				Suggestion: `set archive to "tar.gz", "tar.zst" or "zip"`,
			}
		}
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

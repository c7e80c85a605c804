// SPDX-License-Identifier: MPL-2.0

package activation

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pyvm/pyvm/pkg/version"
)

// LocalFileName is the directory-local version file.
const LocalFileName = ".python-version"

// maxVersionFileBytes bounds how much of a version file is read (64 KB).
const maxVersionFileBytes = 64 << 10

// ParseVersionFile reads version names from r. Names are separated by
// newlines or whitespace; "#" starts a comment and blank lines are ignored.
func ParseVersionFile(r io.Reader) ([]string, error) {
	var versions []string
	scanner := bufio.NewScanner(io.LimitReader(r, maxVersionFileBytes))
	for scanner.Scan() {
		line, _, _ := strings.Cut(scanner.Text(), "#")
		for _, field := range strings.Fields(line) {
			if err := version.Spec(field).Validate(); err != nil {
				return nil, err
			}
			versions = append(versions, field)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading version file: %w", err)
	}
	return versions, nil
}

// ReadVersionFile parses the version file at path.
func ReadVersionFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }() // read-only

	versions, err := ParseVersionFile(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return versions, nil
}

// WriteVersionFile writes versions one per line through a temp file and
// rename, so readers never see a partial file.
func WriteVersionFile(path string, versions []string) error {
	if len(versions) == 0 {
		return errors.New("no versions given")
	}
	for _, v := range versions {
		if err := version.Spec(v).Validate(); err != nil {
			return err
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	_, err = tmp.WriteString(strings.Join(versions, "\n") + "\n")
	if closeErr := tmp.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(tmp.Name(), 0o644)
	}
	if err == nil {
		err = os.Rename(tmp.Name(), path)
	}
	if err != nil {
		_ = os.Remove(tmp.Name()) // Best-effort cleanup of temp file
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// FindLocalFile searches dir and its parents for a .python-version file.
func FindLocalFile(dir string) (string, bool) {
	dir = filepath.Clean(dir)
	for {
		candidate := filepath.Join(dir, LocalFileName)
		if fi, err := os.Stat(candidate); err == nil && fi.Mode().IsRegular() {
			return candidate, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func localPath(dir string) string {
	return filepath.Join(dir, LocalFileName)
}

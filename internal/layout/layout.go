// SPDX-License-Identifier: MPL-2.0

// Package layout names the directories under the pyvm root.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultDirName is the root directory name under $HOME.
	DefaultDirName = ".pyvm"

	// StagingPrefix marks in-flight installs inside the versions directory.
	StagingPrefix = ".staging-"
)

// Layout resolves paths under one root directory.
type Layout struct {
	root string
}

// New returns a Layout rooted at root.
func New(root string) Layout {
	return Layout{root: filepath.Clean(root)}
}

// ResolveRoot returns configured (from PYVM_ROOT or the config file) as an
// absolute path, expanding a leading "~/". An empty value selects
// $HOME/.pyvm.
func ResolveRoot(configured string) (string, error) {
	configured = strings.TrimSpace(configured)
	if configured == "" || configured == "~" || strings.HasPrefix(configured, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		switch {
		case configured == "":
			return filepath.Join(home, DefaultDirName), nil
		case configured == "~":
			return home, nil
		default:
			return filepath.Join(home, configured[2:]), nil
		}
	}
	abs, err := filepath.Abs(configured)
	if err != nil {
		return "", fmt.Errorf("resolving root %s: %w", configured, err)
	}
	return abs, nil
}

// Root returns the pyvm root directory.
func (l Layout) Root() string { return l.root }

// Versions holds one directory per installed version plus in-flight staging
// directories.
func (l Layout) Versions() string { return filepath.Join(l.root, "versions") }

// Shims holds the generated dispatch scripts put on PATH by `pyvm init`.
func (l Layout) Shims() string { return filepath.Join(l.root, "shims") }

// Cache holds downloaded archives, keyed by file name.
func (l Layout) Cache() string { return filepath.Join(l.root, "cache") }

// Locks holds per-version install locks.
func (l Layout) Locks() string { return filepath.Join(l.root, "locks") }

// Definitions is the cloned definitions repository.
func (l Layout) Definitions() string { return filepath.Join(l.root, "definitions") }

// GlobalVersionFile is the file holding the global default selection.
func (l Layout) GlobalVersionFile() string { return filepath.Join(l.root, "version") }

// Version returns the install prefix of name.
func (l Layout) Version(name string) string { return filepath.Join(l.Versions(), name) }

// VersionBin returns the executable directory of name.
func (l Layout) VersionBin(name string) string { return filepath.Join(l.Version(name), "bin") }

// Lock returns the install lock file of name.
func (l Layout) Lock(name string) string { return filepath.Join(l.Locks(), name+".lock") }

// Ensure creates the root and its standard subdirectories.
func (l Layout) Ensure() error {
	for _, dir := range []string{l.Versions(), l.Shims(), l.Cache(), l.Locks()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

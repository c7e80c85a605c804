// SPDX-License-Identifier: MPL-2.0

package activation

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pyvm/pyvm/internal/layout"
	"github.com/pyvm/pyvm/pkg/version"
)

const (
	// EnvVersion is the session override.
	EnvVersion = "PYVM_VERSION"
	// EnvPythonVersion is honoured as the session override when
	// EnvVersion is unset.
	EnvPythonVersion = "PYTHON_VERSION"

	SourceSession Source = "session"
	SourceLocal   Source = "local"
	SourceGlobal  Source = "global"
	SourceDefault Source = "default"
)

// ErrVersionNotInstalled is the sentinel error wrapped by VersionNotInstalledError.
var ErrVersionNotInstalled = errors.New("version not installed")

type (
	// Source names the precedence level a selection came from.
	Source string

	// Selection is the outcome of walking the precedence chain.
	Selection struct {
		// Requested holds the names as written in the winning source.
		Requested []string
		// Versions holds installed names matching Requested, set by Resolve.
		// A requested prefix selects the newest installed match.
		Versions []string
		Source   Source
		// Origin is the environment variable or file that set the
		// selection, "" for SourceDefault.
		Origin string
	}

	// VersionNotInstalledError reports a selected version that is missing.
	VersionNotInstalledError struct {
		Version string
		Origin  string
	}

	// Context resolves selections for one pyvm root.
	Context struct {
		layout    layout.Layout
		getenv    func(string) string
		installed func() ([]string, error)
	}

	// Option configures a Context.
	Option func(*Context)
)

// Error implements the error interface.
func (e *VersionNotInstalledError) Error() string {
	if e.Origin == "" {
		return fmt.Sprintf("version '%s' is not installed", e.Version)
	}
	return fmt.Sprintf("version '%s' is not installed (set by %s)", e.Version, e.Origin)
}

// Unwrap returns ErrVersionNotInstalled for errors.Is() compatibility.
func (e *VersionNotInstalledError) Unwrap() error { return ErrVersionNotInstalled }

// Describe returns "(set by <origin>)" as shown by `pyvm version`.
func (s *Selection) Describe() string {
	switch s.Source {
	case SourceSession:
		return "(set by " + s.Origin + " environment variable)"
	case SourceLocal, SourceGlobal:
		return "(set by " + s.Origin + ")"
	}
	return "(default)"
}

// WithGetenv replaces os.Getenv.
func WithGetenv(fn func(string) string) Option {
	return func(c *Context) { c.getenv = fn }
}

// WithInstalled replaces the directory listing used to check selections.
func WithInstalled(fn func() ([]string, error)) Option {
	return func(c *Context) { c.installed = fn }
}

// New creates a Context for the root described by l.
func New(l layout.Layout, opts ...Option) *Context {
	c := &Context{layout: l, getenv: os.Getenv}
	c.installed = c.listVersions
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Select walks the precedence chain from dir without checking that the
// selected versions exist.
func (c *Context) Select(dir string) (*Selection, error) {
	for _, env := range []string{EnvVersion, EnvPythonVersion} {
		if versions := splitSession(c.getenv(env)); len(versions) > 0 {
			for _, v := range versions {
				if err := version.Spec(v).Validate(); err != nil {
					return nil, fmt.Errorf("%s: %w", env, err)
				}
			}
			return &Selection{Requested: versions, Source: SourceSession, Origin: env}, nil
		}
	}

	// An empty or comment-only file does not stop the search.
	if path, ok := FindLocalFile(dir); ok {
		versions, err := ReadVersionFile(path)
		if err != nil {
			return nil, err
		}
		if len(versions) > 0 {
			return &Selection{Requested: versions, Source: SourceLocal, Origin: path}, nil
		}
	}

	global := c.layout.GlobalVersionFile()
	versions, err := ReadVersionFile(global)
	if err != nil && !isNotExist(err) {
		return nil, err
	}
	if len(versions) > 0 {
		return &Selection{Requested: versions, Source: SourceGlobal, Origin: global}, nil
	}

	return &Selection{Requested: []string{string(version.System)}, Source: SourceDefault}, nil
}

// Resolve selects versions from dir and maps each onto an installed name.
// Every missing version is reported as a *VersionNotInstalledError carrying
// the origin of the selection.
func (c *Context) Resolve(dir string) (*Selection, error) {
	sel, err := c.Select(dir)
	if err != nil {
		return nil, err
	}
	sel.Versions, err = c.match(sel.Requested, sel.Origin)
	if err != nil {
		return nil, err
	}
	return sel, nil
}

// CheckInstalled returns an error for any name in versions that is neither
// installed nor "system".
func (c *Context) CheckInstalled(versions []string) error {
	_, err := c.match(versions, "")
	return err
}

func (c *Context) match(requested []string, origin string) ([]string, error) {
	installed, err := c.installed()
	if err != nil {
		return nil, err
	}

	var (
		out  []string
		errs []error
	)
	for _, v := range requested {
		if version.Spec(v) == version.System {
			out = append(out, v)
			continue
		}
		name, ok := version.Match(version.Spec(v), installed)
		if !ok {
			errs = append(errs, &VersionNotInstalledError{Version: v, Origin: origin})
			continue
		}
		out = append(out, name)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// Global returns the versions in the global file, or nil.
func (c *Context) Global() ([]string, error) {
	versions, err := ReadVersionFile(c.layout.GlobalVersionFile())
	if isNotExist(err) {
		return nil, nil
	}
	return versions, err
}

// SetGlobal replaces the global selection.
func (c *Context) SetGlobal(versions []string) error {
	return WriteVersionFile(c.layout.GlobalVersionFile(), versions)
}

// Local returns the versions in dir/.python-version (dir only, parents are
// not searched) and the file path.
func (c *Context) Local(dir string) ([]string, string, error) {
	path := localPath(dir)
	versions, err := ReadVersionFile(path)
	if err != nil {
		return nil, path, err
	}
	return versions, path, nil
}

// SetLocal writes dir/.python-version.
func (c *Context) SetLocal(dir string, versions []string) error {
	return WriteVersionFile(localPath(dir), versions)
}

// UnsetLocal removes dir/.python-version. A missing file is reported as
// fs.ErrNotExist.
func (c *Context) UnsetLocal(dir string) error {
	return os.Remove(localPath(dir))
}

func (c *Context) listVersions() ([]string, error) {
	entries, err := os.ReadDir(c.layout.Versions())
	if isNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		// Stat follows symlinked versions.
		if fi, err := os.Stat(c.layout.Version(e.Name())); err == nil && fi.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// splitSession splits a session value on ':' (as pyenv does) and whitespace.
func splitSession(value string) []string {
	return strings.FieldsFunc(value, func(r rune) bool {
		return r == ':' || r == ' ' || r == '\t' || r == '\n'
	})
}

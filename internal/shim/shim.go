// SPDX-License-Identifier: MPL-2.0

package shim

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"mvdan.cc/sh/v3/syntax"

	"github.com/pyvm/pyvm/internal/activation"
	"github.com/pyvm/pyvm/internal/layout"
	"github.com/pyvm/pyvm/internal/lockfile"
	"github.com/pyvm/pyvm/internal/metrics"
	"github.com/pyvm/pyvm/pkg/version"
)

const (
	// LockFileName guards the shims directory during a rehash.
	LockFileName = ".pyvm-shim"

	// rehashStaleAfter is far above any real rehash duration.
	rehashStaleAfter = time.Minute
)

var (
	// ErrCommandNotFound is the sentinel error wrapped by CommandNotFoundError.
	ErrCommandNotFound = errors.New("command not found")
	// ErrNoSelection is returned by Exec and Which for an unresolved selection.
	ErrNoSelection = errors.New("no versions selected")
)

type (
	// Manager owns the shims directory of one pyvm root.
	Manager struct {
		layout     layout.Layout
		logger     *log.Logger
		metrics    *metrics.Recorder
		executable string
		installed  func() ([]string, error)
		environ    func() []string
		exec       func(path string, argv, env []string) error
	}

	// Option configures a Manager.
	Option func(*Manager)

	// RehashResult summarizes a rehash.
	RehashResult struct {
		// Shims lists every shim present after the rehash.
		Shims []string
		// Added lists shims that were created or rewritten.
		Added []string
		// Removed lists shims for executables that no longer exist.
		Removed []string
	}

	// CommandNotFoundError reports a command none of the selected versions
	// provide.
	CommandNotFoundError struct {
		Command  string
		Selected []string
		// ProvidedBy lists installed versions that do have the command.
		ProvidedBy []string
	}

	// ExitStatusError carries the exit status of a command run as a child
	// process, on platforms where Exec cannot replace the process.
	ExitStatusError struct {
		Code int
	}
)

// Error implements the error interface.
func (e *CommandNotFoundError) Error() string {
	msg := fmt.Sprintf("%s: command not found", e.Command)
	if len(e.ProvidedBy) > 0 {
		msg += fmt.Sprintf("; the '%s' command exists in these versions: %s",
			e.Command, strings.Join(e.ProvidedBy, ", "))
	}
	return msg
}

// Unwrap returns ErrCommandNotFound for errors.Is() compatibility.
func (e *CommandNotFoundError) Unwrap() error { return ErrCommandNotFound }

// Error implements the error interface.
func (e *ExitStatusError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics records rehashes on r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(m *Manager) { m.metrics = r }
}

// WithExecutable sets the pyvm binary shims dispatch to. The default is
// "pyvm", looked up on PATH when the shim runs.
func WithExecutable(path string) Option {
	return func(m *Manager) { m.executable = path }
}

// WithInstalled replaces the listing of installed version names.
func WithInstalled(fn func() ([]string, error)) Option {
	return func(m *Manager) { m.installed = fn }
}

// WithEnviron replaces os.Environ as the base environment for Exec.
func WithEnviron(fn func() []string) Option {
	return func(m *Manager) { m.environ = fn }
}

// WithExecFunc replaces the process replacement performed by Exec.
func WithExecFunc(fn func(path string, argv, env []string) error) Option {
	return func(m *Manager) { m.exec = fn }
}

// New creates a Manager for the root described by l.
func New(l layout.Layout, opts ...Option) *Manager {
	m := &Manager{
		layout:     l,
		logger:     log.New(io.Discard),
		executable: "pyvm",
		environ:    os.Environ,
		exec:       execProcess,
	}
	m.installed = m.listVersions
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Rehash writes a shim for every executable in any installed version's bin
// directory and removes shims whose executable disappeared. Concurrent
// rehashes are rejected with a *lockfile.LockedError.
func (m *Manager) Rehash(ctx context.Context) (*RehashResult, error) {
	shimsDir := m.layout.Shims()
	if err := os.MkdirAll(shimsDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating shims directory: %w", err)
	}

	lock, err := lockfile.Acquire(filepath.Join(shimsDir, LockFileName), lockfile.WithStaleAfter(rehashStaleAfter))
	if err != nil {
		return nil, fmt.Errorf("cannot rehash: %w", err)
	}
	defer func() { _ = lock.Release() }()

	names, err := m.executables(ctx)
	if err != nil {
		return nil, err
	}

	content, err := m.script()
	if err != nil {
		return nil, err
	}

	result := &RehashResult{Shims: names}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		written, err := writeShim(filepath.Join(shimsDir, name), content)
		if err != nil {
			return nil, err
		}
		if written {
			result.Added = append(result.Added, name)
		}
	}

	entries, err := os.ReadDir(shimsDir)
	if err != nil {
		return nil, fmt.Errorf("reading shims directory: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || e.IsDir() {
			continue
		}
		if _, ok := slices.BinarySearch(names, name); ok {
			continue
		}
		if err := os.Remove(filepath.Join(shimsDir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("removing stale shim %s: %w", name, err)
		}
		result.Removed = append(result.Removed, name)
	}

	m.logger.Debug("rehashed shims", "total", len(names), "added", len(result.Added), "removed", len(result.Removed))
	m.metrics.Rehashed()
	return result, nil
}

// executables returns the sorted, de-duplicated executable names across all
// installed versions.
func (m *Manager) executables(ctx context.Context) ([]string, error) {
	versions, err := m.installed()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for _, v := range versions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bin := m.layout.VersionBin(v)
		entries, err := os.ReadDir(bin)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", bin, err)
		}
		for _, e := range entries {
			if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			if _, ok := findExecutable(bin, e.Name()); ok {
				seen[e.Name()] = true
			}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// script renders the shim body. Every shim is identical; the command name
// is taken from $0.
func (m *Manager) script() ([]byte, error) {
	root, err := syntax.Quote(m.layout.Root(), syntax.LangPOSIX)
	if err != nil {
		return nil, fmt.Errorf("quoting root: %w", err)
	}
	exe, err := syntax.Quote(m.executable, syntax.LangPOSIX)
	if err != nil {
		return nil, fmt.Errorf("quoting executable: %w", err)
	}

	var b bytes.Buffer
	b.WriteString("#!/bin/sh\n")
	b.WriteString("set -e\n")
	b.WriteString("[ -n \"$PYVM_DEBUG\" ] && set -x\n")
	b.WriteString("\n")
	b.WriteString("program=\"${0##*/}\"\n")
	fmt.Fprintf(&b, "export PYVM_ROOT=%s\n", root)
	fmt.Fprintf(&b, "exec %s exec \"$program\" \"$@\"\n", exe)
	return b.Bytes(), nil
}

// writeShim writes content to path through a temp file and rename, skipping
// the write when the file already holds content. It reports whether it wrote.
func writeShim(path string, content []byte) (bool, error) {
	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, content) {
		if info, err := os.Stat(path); err == nil && info.Mode().Perm()&0o111 != 0 {
			return false, nil
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".shim-*")
	if err != nil {
		return false, fmt.Errorf("creating shim: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return false, fmt.Errorf("writing shim: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return false, fmt.Errorf("closing shim: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o755); err != nil {
		return false, fmt.Errorf("chmod shim: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return false, fmt.Errorf("installing shim: %w", err)
	}
	success = true
	return true, nil
}

// Which returns the absolute path of command in the first selected version
// that provides it. "system" searches PATH with the shims directory removed.
func (m *Manager) Which(command string, sel *activation.Selection) (string, error) {
	return m.which(command, sel, m.cleanPath())
}

func (m *Manager) which(command string, sel *activation.Selection, systemPath string) (string, error) {
	if sel == nil || len(sel.Versions) == 0 {
		return "", ErrNoSelection
	}
	for _, v := range sel.Versions {
		if version.Spec(v) == version.System {
			if p, ok := findInPath(command, systemPath); ok {
				return p, nil
			}
			continue
		}
		if p, ok := findExecutable(m.layout.VersionBin(v), command); ok {
			return p, nil
		}
	}

	notFound := &CommandNotFoundError{Command: command, Selected: slices.Clone(sel.Versions)}
	if providers, err := m.Whence(command); err == nil {
		notFound.ProvidedBy = providers
	}
	return "", notFound
}

// Whence lists installed versions whose bin directory provides command,
// newest first.
func (m *Manager) Whence(command string) ([]string, error) {
	versions, err := m.installed()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, v := range versions {
		if _, ok := findExecutable(m.layout.VersionBin(v), command); ok {
			out = append(out, v)
		}
	}
	version.SortDesc(out)
	return out, nil
}

// Exec runs command from the selected versions, replacing the current
// process where the platform allows it. PATH is rewritten so that the bin
// directories of the selected versions come first and the shims directory is
// absent, which keeps a shim from re-entering itself.
func (m *Manager) Exec(ctx context.Context, command string, args []string, sel *activation.Selection) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sel == nil || len(sel.Versions) == 0 {
		return ErrNoSelection
	}

	env := m.environ()
	systemPath := RemoveFromPath(lookupEnv(env, "PATH"), m.layout.Shims())

	path, err := m.which(command, sel, systemPath)
	if err != nil {
		return err
	}

	var bins []string
	for _, v := range sel.Versions {
		if version.Spec(v) != version.System {
			bins = append(bins, m.layout.VersionBin(v))
		}
	}
	env = setEnv(env, "PATH", PrependPath(systemPath, bins...))
	env = setEnv(env, "PYVM_ROOT", m.layout.Root())

	m.logger.Debug("exec", "command", command, "path", path, "versions", sel.Versions)
	argv := append([]string{command}, args...)
	return m.exec(path, argv, env)
}

// cleanPath is the process PATH without the shims directory.
func (m *Manager) cleanPath() string {
	return RemoveFromPath(lookupEnv(m.environ(), "PATH"), m.layout.Shims())
}

func (m *Manager) listVersions() ([]string, error) {
	entries, err := os.ReadDir(m.layout.Versions())
	if errors.Is(err, fs.ErrNotExist) {
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
		if fi, err := os.Stat(m.layout.Version(e.Name())); err == nil && fi.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func lookupEnv(env []string, key string) string {
	for i := len(env) - 1; i >= 0; i-- {
		if k, v, ok := strings.Cut(env[i], "="); ok && k == key {
			return v
		}
	}
	return ""
}

// setEnv returns env with key set to value, replacing every prior entry.
func setEnv(env []string, key, value string) []string {
	out := make([]string, 0, len(env)+1)
	for _, kv := range env {
		if k, _, ok := strings.Cut(kv, "="); ok && k == key {
			continue
		}
		out = append(out, kv)
	}
	return append(out, key+"="+value)
}

// SPDX-License-Identifier: MPL-2.0

package shim

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"mvdan.cc/sh/v3/syntax"

	"github.com/pyvm/pyvm/internal/activation"
	"github.com/pyvm/pyvm/internal/layout"
	"github.com/pyvm/pyvm/internal/lockfile"
	"github.com/pyvm/pyvm/internal/metrics"
	tu "github.com/pyvm/pyvm/internal/testutil"
	"github.com/pyvm/pyvm/pkg/platform"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == platform.Windows {
		t.Skip("shims and execute bits are POSIX-only")
	}
}

// newTestRoot installs fake versions: each maps to the executables in its bin.
func newTestRoot(t *testing.T, versions map[string][]string) layout.Layout {
	t.Helper()
	l := layout.New(filepath.Join(t.TempDir(), "root"))
	for v, exes := range versions {
		tu.MustMkdirAll(t, l.VersionBin(v), 0o755)
		for _, exe := range exes {
			tu.MustWriteFile(t, filepath.Join(l.VersionBin(v), exe), []byte("#!/bin/sh\n"), 0o755)
		}
	}
	tu.MustMkdirAll(t, filepath.Join(l.Versions(), ".staging-3.13.0-x", "bin"), 0o755)
	tu.MustWriteFile(t, filepath.Join(l.Versions(), ".staging-3.13.0-x", "bin", "python3.13"), []byte("x"), 0o755)
	return l
}

func TestRehash(t *testing.T) {
	t.Parallel()
	skipOnWindows(t)

	l := newTestRoot(t, map[string][]string{
		"3.11.4": {"python", "python3", "python3.11", "pip3"},
		"3.12.1": {"python", "python3", "python3.12", "idle3"},
	})
	// Not executable: no shim.
	tu.MustWriteFile(t, filepath.Join(l.VersionBin("3.12.1"), "README"), []byte("x"), 0o644)
	// Stale shim from an uninstalled version.
	tu.MustWriteFile(t, filepath.Join(l.Shims(), "python3.9"), []byte("old"), 0o755)

	rec := metrics.New()
	m := New(l, WithExecutable("/opt/pyvm/bin/pyvm"), WithMetrics(rec))

	result, err := m.Rehash(context.Background())
	if err != nil {
		t.Fatalf("Rehash() error: %v", err)
	}

	want := []string{"idle3", "pip3", "python", "python3", "python3.11", "python3.12"}
	if !slices.Equal(result.Shims, want) {
		t.Errorf("Shims = %v, want %v", result.Shims, want)
	}
	if !slices.Equal(result.Added, want) {
		t.Errorf("Added = %v, want %v", result.Added, want)
	}
	if !slices.Equal(result.Removed, []string{"python3.9"}) {
		t.Errorf("Removed = %v, want [python3.9]", result.Removed)
	}
	if _, err := os.Stat(filepath.Join(l.Shims(), "python3.9")); !os.IsNotExist(err) {
		t.Error("stale shim should be removed")
	}
	if _, err := os.Stat(filepath.Join(l.Shims(), LockFileName)); !os.IsNotExist(err) {
		t.Error("rehash lock should be released")
	}

	info, err := os.Stat(filepath.Join(l.Shims(), "python3"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0o111 == 0 {
		t.Errorf("shim mode = %v, want executable", info.Mode())
	}
	body := tu.MustReadFile(t, filepath.Join(l.Shims(), "python3"))
	if !strings.Contains(body, "exec '/opt/pyvm/bin/pyvm' exec \"$program\" \"$@\"") &&
		!strings.Contains(body, "exec /opt/pyvm/bin/pyvm exec \"$program\" \"$@\"") {
		t.Errorf("shim does not dispatch to pyvm exec:\n%s", body)
	}
	if !strings.Contains(body, "export PYVM_ROOT=") || !strings.Contains(body, l.Root()) {
		t.Errorf("shim does not pin PYVM_ROOT:\n%s", body)
	}
	if _, err := syntax.NewParser(syntax.Variant(syntax.LangPOSIX)).Parse(strings.NewReader(body), "shim"); err != nil {
		t.Errorf("shim is not valid POSIX sh: %v", err)
	}

	expected := `
# HELP pyvm_rehash_total Shim regenerations.
# TYPE pyvm_rehash_total counter
pyvm_rehash_total 1
`
	if err := testutil.GatherAndCompare(rec.Gatherer(), strings.NewReader(expected), "pyvm_rehash_total"); err != nil {
		t.Error(err)
	}
}

func TestRehash_Idempotent(t *testing.T) {
	t.Parallel()
	skipOnWindows(t)

	l := newTestRoot(t, map[string][]string{"3.11.4": {"python3"}})
	m := New(l)

	if _, err := m.Rehash(context.Background()); err != nil {
		t.Fatal(err)
	}
	result, err := m.Rehash(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Added) != 0 || len(result.Removed) != 0 {
		t.Errorf("second Rehash() changed shims: added %v removed %v", result.Added, result.Removed)
	}
}

func TestRehash_Locked(t *testing.T) {
	t.Parallel()

	l := newTestRoot(t, nil)
	lock, err := lockfile.Acquire(filepath.Join(l.Shims(), LockFileName))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lock.Release() }()

	_, err = New(l).Rehash(context.Background())
	if !errors.Is(err, lockfile.ErrLocked) {
		t.Fatalf("Rehash() error = %v, want ErrLocked", err)
	}
}

func TestRehash_NoVersions(t *testing.T) {
	t.Parallel()

	l := layout.New(filepath.Join(t.TempDir(), "root"))
	result, err := New(l).Rehash(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Shims) != 0 {
		t.Errorf("Shims = %v, want none", result.Shims)
	}
}

func TestWhich(t *testing.T) {
	t.Parallel()
	skipOnWindows(t)

	l := newTestRoot(t, map[string][]string{
		"3.11.4": {"python3", "python3.11"},
		"3.12.1": {"python3", "python3.12"},
	})

	sysBin := filepath.Join(t.TempDir(), "usr", "bin")
	tu.MustWriteFile(t, filepath.Join(sysBin, "python3"), []byte("#!/bin/sh\n"), 0o755)
	// A shim earlier on PATH must never be returned for "system".
	tu.MustWriteFile(t, filepath.Join(l.Shims(), "python3"), []byte("#!/bin/sh\n"), 0o755)
	path := l.Shims() + string(filepath.ListSeparator) + sysBin

	m := New(l, WithEnviron(func() []string { return []string{"PATH=" + path} }))

	tests := []struct {
		name     string
		command  string
		versions []string
		want     string
		wantErr  bool
	}{
		{"first version wins", "python3", []string{"3.12.1", "3.11.4"}, filepath.Join(l.VersionBin("3.12.1"), "python3"), false},
		{"falls through to later version", "python3.11", []string{"3.12.1", "3.11.4"}, filepath.Join(l.VersionBin("3.11.4"), "python3.11"), false},
		{"system skips shims", "python3", []string{"system"}, filepath.Join(sysBin, "python3"), false},
		{"version before system", "python3.12", []string{"system", "3.12.1"}, filepath.Join(l.VersionBin("3.12.1"), "python3.12"), false},
		{"missing", "python3.12", []string{"3.11.4"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := m.Which(tt.command, &activation.Selection{Versions: tt.versions})
			if tt.wantErr {
				if !errors.Is(err, ErrCommandNotFound) {
					t.Fatalf("Which() error = %v, want ErrCommandNotFound", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Which() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Which() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWhich_NotFoundListsProviders(t *testing.T) {
	t.Parallel()
	skipOnWindows(t)

	l := newTestRoot(t, map[string][]string{
		"3.11.4": {"python3"},
		"3.12.1": {"python3", "python3.12"},
		"3.12.3": {"python3", "python3.12"},
	})
	m := New(l, WithEnviron(func() []string { return nil }))

	_, err := m.Which("python3.12", &activation.Selection{Versions: []string{"3.11.4"}})
	var notFound *CommandNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("Which() error = %v, want *CommandNotFoundError", err)
	}
	if !slices.Equal(notFound.ProvidedBy, []string{"3.12.3", "3.12.1"}) {
		t.Errorf("ProvidedBy = %v, want [3.12.3 3.12.1]", notFound.ProvidedBy)
	}
	if !strings.Contains(err.Error(), "3.12.3, 3.12.1") {
		t.Errorf("error should list providers: %v", err)
	}
}

func TestWhich_NoSelection(t *testing.T) {
	t.Parallel()

	m := New(newTestRoot(t, nil))
	if _, err := m.Which("python", &activation.Selection{}); !errors.Is(err, ErrNoSelection) {
		t.Errorf("Which() error = %v, want ErrNoSelection", err)
	}
}

func TestWhence(t *testing.T) {
	t.Parallel()
	skipOnWindows(t)

	l := newTestRoot(t, map[string][]string{
		"3.10.13":         {"python3", "2to3"},
		"3.12.1":          {"python3"},
		"pypy3.10-7.3.12": {"python3", "pypy3"},
	})
	m := New(l)

	tests := []struct {
		command string
		want    []string
	}{
		{"python3", []string{"3.12.1", "3.10.13", "pypy3.10-7.3.12"}},
		{"2to3", []string{"3.10.13"}},
		{"pypy3", []string{"pypy3.10-7.3.12"}},
		{"ruby", nil},
	}
	for _, tt := range tests {
		got, err := m.Whence(tt.command)
		if err != nil {
			t.Fatalf("Whence(%q) error: %v", tt.command, err)
		}
		if !slices.Equal(got, tt.want) {
			t.Errorf("Whence(%q) = %v, want %v", tt.command, got, tt.want)
		}
	}
}

func TestExec(t *testing.T) {
	t.Parallel()
	skipOnWindows(t)

	l := newTestRoot(t, map[string][]string{
		"3.11.4": {"python3"},
		"3.12.1": {"python3"},
	})
	sysBin := filepath.Join(t.TempDir(), "bin")
	tu.MustMkdirAll(t, sysBin, 0o755)
	sep := string(filepath.ListSeparator)

	var (
		gotPath string
		gotArgv []string
		gotEnv  []string
	)
	m := New(l,
		WithEnviron(func() []string {
			return []string{"HOME=/home/u", "PATH=" + l.Shims() + sep + sysBin, "PYVM_ROOT=/elsewhere"}
		}),
		WithExecFunc(func(path string, argv, env []string) error {
			gotPath, gotArgv, gotEnv = path, argv, env
			return nil
		}),
	)

	sel := &activation.Selection{Versions: []string{"3.12.1", "system", "3.11.4"}}
	if err := m.Exec(context.Background(), "python3", []string{"-c", "print(1)"}, sel); err != nil {
		t.Fatalf("Exec() error: %v", err)
	}

	if want := filepath.Join(l.VersionBin("3.12.1"), "python3"); gotPath != want {
		t.Errorf("path = %q, want %q", gotPath, want)
	}
	if !slices.Equal(gotArgv, []string{"python3", "-c", "print(1)"}) {
		t.Errorf("argv = %v", gotArgv)
	}
	wantPATH := strings.Join([]string{l.VersionBin("3.12.1"), l.VersionBin("3.11.4"), sysBin}, sep)
	if got := lookupEnv(gotEnv, "PATH"); got != wantPATH {
		t.Errorf("PATH = %q, want %q", got, wantPATH)
	}
	if got := lookupEnv(gotEnv, "PYVM_ROOT"); got != l.Root() {
		t.Errorf("PYVM_ROOT = %q, want %q", got, l.Root())
	}
	if got := lookupEnv(gotEnv, "HOME"); got != "/home/u" {
		t.Errorf("HOME = %q, want /home/u", got)
	}
}

func TestExec_CommandNotFound(t *testing.T) {
	t.Parallel()
	skipOnWindows(t)

	l := newTestRoot(t, map[string][]string{"3.11.4": {"python3"}})
	called := false
	m := New(l,
		WithEnviron(func() []string { return []string{"PATH="} }),
		WithExecFunc(func(string, []string, []string) error { called = true; return nil }),
	)

	err := m.Exec(context.Background(), "pip3", nil, &activation.Selection{Versions: []string{"3.11.4"}})
	if !errors.Is(err, ErrCommandNotFound) {
		t.Fatalf("Exec() error = %v, want ErrCommandNotFound", err)
	}
	if called {
		t.Error("exec should not run for a missing command")
	}
}

func TestExec_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := New(newTestRoot(t, nil))
	if err := m.Exec(ctx, "python3", nil, &activation.Selection{Versions: []string{"system"}}); !errors.Is(err, context.Canceled) {
		t.Errorf("Exec() error = %v, want context.Canceled", err)
	}
}

// SPDX-License-Identifier: MPL-2.0

package activation

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/pyvm/pyvm/internal/layout"
	"github.com/pyvm/pyvm/internal/testutil"
	"github.com/pyvm/pyvm/pkg/version"
)

func mapEnv(env map[string]string) func(string) string {
	return func(k string) string { return env[k] }
}

// newTestContext creates a root with the given installed versions and a
// project directory tree project/sub/deeper.
func newTestContext(t *testing.T, env map[string]string, installed ...string) (*Context, layout.Layout, string) {
	t.Helper()

	root := layout.New(filepath.Join(t.TempDir(), "root"))
	for _, v := range installed {
		testutil.MustMkdirAll(t, root.VersionBin(v), 0o755)
	}
	testutil.MustMkdirAll(t, filepath.Join(root.Versions(), ".staging-3.13.0-x"), 0o755)

	project := filepath.Join(t.TempDir(), "project")
	testutil.MustMkdirAll(t, filepath.Join(project, "sub", "deeper"), 0o755)

	return New(root, WithGetenv(mapEnv(env))), root, project
}

func TestSelect_Precedence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		env        map[string]string
		local      string // content of project/.python-version
		global     string
		wantSource Source
		want       []string
	}{
		{"default", nil, "", "", SourceDefault, []string{"system"}},
		{"global", nil, "", "3.11.4\n", SourceGlobal, []string{"3.11.4"}},
		{"local over global", nil, "3.12.1\n", "3.11.4\n", SourceLocal, []string{"3.12.1"}},
		{"PYTHON_VERSION over local", map[string]string{EnvPythonVersion: "3.10.13"}, "3.12.1\n", "", SourceSession, []string{"3.10.13"}},
		{"PYVM_VERSION over PYTHON_VERSION", map[string]string{EnvVersion: "3.9.18:3.12.1", EnvPythonVersion: "3.10.13"}, "3.12.1\n", "", SourceSession, []string{"3.9.18", "3.12.1"}},
		{"blank session ignored", map[string]string{EnvVersion: "  "}, "", "3.11.4\n", SourceGlobal, []string{"3.11.4"}},
		{"empty local falls through", nil, "# nothing here\n\n", "3.11.4\n", SourceGlobal, []string{"3.11.4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx, root, project := newTestContext(t, tt.env)
			if tt.local != "" {
				testutil.MustWriteFile(t, filepath.Join(project, LocalFileName), []byte(tt.local), 0o644)
			}
			if tt.global != "" {
				testutil.MustWriteFile(t, root.GlobalVersionFile(), []byte(tt.global), 0o644)
			}

			sel, err := ctx.Select(filepath.Join(project, "sub", "deeper"))
			if err != nil {
				t.Fatalf("Select() error: %v", err)
			}
			if sel.Source != tt.wantSource || !slices.Equal(sel.Requested, tt.want) {
				t.Errorf("Select() = %s %v, want %s %v", sel.Source, sel.Requested, tt.wantSource, tt.want)
			}
		})
	}
}

func TestSelect_NearestLocalFileWins(t *testing.T) {
	t.Parallel()

	ctx, _, project := newTestContext(t, nil)
	testutil.MustWriteFile(t, filepath.Join(project, LocalFileName), []byte("3.11.4\n"), 0o644)
	nearer := filepath.Join(project, "sub", LocalFileName)
	testutil.MustWriteFile(t, nearer, []byte("3.12.1\n"), 0o644)

	sel, err := ctx.Select(filepath.Join(project, "sub", "deeper"))
	if err != nil {
		t.Fatal(err)
	}
	if sel.Origin != nearer || sel.Requested[0] != "3.12.1" {
		t.Errorf("Select() = %+v, want the nearest file", sel)
	}
	if got := sel.Describe(); got != "(set by "+nearer+")" {
		t.Errorf("Describe() = %q", got)
	}
}

func TestSelect_InvalidSession(t *testing.T) {
	t.Parallel()

	ctx, _, project := newTestContext(t, map[string]string{EnvVersion: "../../bin"})
	if _, err := ctx.Select(project); !errors.Is(err, version.ErrInvalidSpec) {
		t.Errorf("Select() = %v, want ErrInvalidSpec", err)
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	ctx, _, project := newTestContext(t, map[string]string{EnvVersion: "3.11:system"}, "3.11.4", "3.11.9", "3.12.1")

	sel, err := ctx.Resolve(project)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if !slices.Equal(sel.Versions, []string{"3.11.9", "system"}) {
		t.Errorf("Versions = %v, want the newest 3.11 and system", sel.Versions)
	}
	if got := sel.Describe(); got != "(set by PYVM_VERSION environment variable)" {
		t.Errorf("Describe() = %q", got)
	}
}

func TestResolve_NotInstalled(t *testing.T) {
	t.Parallel()

	ctx, _, project := newTestContext(t, nil, "3.11.4")
	local := filepath.Join(project, LocalFileName)
	testutil.MustWriteFile(t, local, []byte("3.12.1 3.11.4 3.13.0-x\n"), 0o644)

	_, err := ctx.Resolve(project)
	var nie *VersionNotInstalledError
	if !errors.As(err, &nie) || !errors.Is(err, ErrVersionNotInstalled) {
		t.Fatalf("Resolve() = %v, want VersionNotInstalledError", err)
	}
	if nie.Version != "3.12.1" || nie.Origin != local {
		t.Errorf("VersionNotInstalledError = %+v", nie)
	}
	if !strings.Contains(err.Error(), "3.13.0-x") {
		t.Errorf("every missing version should be reported, got %v", err)
	}
}

func TestGlobalAndLocal(t *testing.T) {
	t.Parallel()

	ctx, root, project := newTestContext(t, nil, "3.11.4")

	if got, err := ctx.Global(); err != nil || got != nil {
		t.Errorf("Global() without a file = %v, %v", got, err)
	}
	if err := ctx.SetGlobal([]string{"3.11.4", "system"}); err != nil {
		t.Fatal(err)
	}
	if got := testutil.MustReadFile(t, root.GlobalVersionFile()); got != "3.11.4\nsystem\n" {
		t.Errorf("global file = %q", got)
	}
	if err := ctx.SetGlobal(nil); err == nil {
		t.Error("SetGlobal(nil) should fail")
	}
	if err := ctx.SetGlobal([]string{"a/b"}); !errors.Is(err, version.ErrInvalidSpec) {
		t.Errorf("SetGlobal(a/b) = %v, want ErrInvalidSpec", err)
	}

	if err := ctx.SetLocal(project, []string{"3.11.4"}); err != nil {
		t.Fatal(err)
	}
	versions, path, err := ctx.Local(project)
	if err != nil || path != filepath.Join(project, LocalFileName) || !slices.Equal(versions, []string{"3.11.4"}) {
		t.Errorf("Local() = %v, %q, %v", versions, path, err)
	}
	if _, _, err := ctx.Local(filepath.Join(project, "sub")); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Local() must not search parents, got %v", err)
	}

	if err := ctx.UnsetLocal(project); err != nil {
		t.Fatal(err)
	}
	if err := ctx.UnsetLocal(project); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("second UnsetLocal() = %v, want ErrNotExist", err)
	}

	leftovers, _ := filepath.Glob(filepath.Join(project, ".*.tmp*"))
	entries, _ := os.ReadDir(project)
	if len(leftovers) != 0 || len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}

func TestCheckInstalled(t *testing.T) {
	t.Parallel()

	ctx, _, _ := newTestContext(t, nil, "3.11.4")
	if err := ctx.CheckInstalled([]string{"3.11.4", "3.11", "system"}); err != nil {
		t.Errorf("CheckInstalled() = %v", err)
	}
	if err := ctx.CheckInstalled([]string{"3.12"}); !errors.Is(err, ErrVersionNotInstalled) {
		t.Errorf("CheckInstalled(3.12) = %v, want ErrVersionNotInstalled", err)
	}
}

func TestParseVersionFile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{"single", "3.11.4\n", []string{"3.11.4"}, false},
		{"crlf", "3.11.4\r\n3.10.13\r\n", []string{"3.11.4", "3.10.13"}, false},
		{"comments and blanks", "# project\n\n3.12.1  # primary\n  3.11.4\n", []string{"3.12.1", "3.11.4"}, false},
		{"space separated", "3.12.1 3.11.4 system", []string{"3.12.1", "3.11.4", "system"}, false},
		{"empty", "", nil, false},
		{"traversal", "../../etc\n", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseVersionFile(strings.NewReader(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseVersionFile() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("ParseVersionFile() = %v, want %v", got, tt.want)
			}
		})
	}
}

// SPDX-License-Identifier: MPL-2.0

package layout

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pyvm/pyvm/internal/testutil"
)

func TestResolveRoot(t *testing.T) {
	home := t.TempDir()
	t.Cleanup(testutil.SetHomeDir(t, home))

	abs := filepath.Join(t.TempDir(), "root")
	tests := []struct {
		in, want string
	}{
		{"", filepath.Join(home, ".pyvm")},
		{"  ", filepath.Join(home, ".pyvm")},
		{"~", home},
		{"~/tools/pyvm", filepath.Join(home, "tools", "pyvm")},
		{abs, abs},
	}
	for _, tt := range tests {
		got, err := ResolveRoot(tt.in)
		if err != nil {
			t.Fatalf("ResolveRoot(%q) error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ResolveRoot(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLayout_Paths(t *testing.T) {
	t.Parallel()

	l := New("/opt/pyvm/")
	if got := l.VersionBin("3.11.4"); got != filepath.Join("/opt/pyvm", "versions", "3.11.4", "bin") {
		t.Errorf("VersionBin() = %q", got)
	}
	if got := l.Lock("3.11.4"); got != filepath.Join("/opt/pyvm", "locks", "3.11.4.lock") {
		t.Errorf("Lock() = %q", got)
	}
	if got := l.GlobalVersionFile(); got != filepath.Join("/opt/pyvm", "version") {
		t.Errorf("GlobalVersionFile() = %q", got)
	}
}

func TestLayout_Ensure(t *testing.T) {
	t.Parallel()

	l := New(filepath.Join(t.TempDir(), "root"))
	if err := l.Ensure(); err != nil {
		t.Fatal(err)
	}
	for _, dir := range []string{l.Versions(), l.Shims(), l.Cache(), l.Locks()} {
		if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
			t.Errorf("Ensure() did not create %s", dir)
		}
	}
}

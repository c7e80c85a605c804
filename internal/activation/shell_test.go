// SPDX-License-Identifier: MPL-2.0

package activation

import (
	"errors"
	"testing"
)

func TestParseShell(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Shell
		wantErr bool
	}{
		{"bash", Bash, false},
		{"/usr/bin/zsh", Zsh, false},
		{"-bash", Bash, false},
		{"/usr/local/bin/fish", Fish, false},
		{"dash", Sh, false},
		{"pwsh", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseShell(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrUnsupportedShell) {
				t.Errorf("ParseShell(%q) = %v, want ErrUnsupportedShell", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseShell(%q) = %q, %v, want %q", tt.in, got, err, tt.want)
		}
	}

	if got := DetectShell(func(string) string { return "" }); got != Sh {
		t.Errorf("DetectShell() without $SHELL = %q, want sh", got)
	}
}

func TestShellOverride(t *testing.T) {
	t.Parallel()

	versions := []string{"3.12.1", "3.11.4"}
	tests := []struct {
		shell      Shell
		set, unset string
	}{
		{Bash, `export PYVM_VERSION="3.12.1:3.11.4"`, "unset PYVM_VERSION"},
		{Zsh, `export PYVM_VERSION="3.12.1:3.11.4"`, "unset PYVM_VERSION"},
		{Fish, `set -gx PYVM_VERSION "3.12.1:3.11.4"`, "set -e PYVM_VERSION"},
	}
	for _, tt := range tests {
		if got := ShellOverride(tt.shell, versions); got != tt.set {
			t.Errorf("ShellOverride(%s) = %q, want %q", tt.shell, got, tt.set)
		}
		if got := ShellUnset(tt.shell); got != tt.unset {
			t.Errorf("ShellUnset(%s) = %q, want %q", tt.shell, got, tt.unset)
		}
	}
}

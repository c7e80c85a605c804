// SPDX-License-Identifier: MPL-2.0

package activation

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Supported shells.
const (
	Bash Shell = "bash"
	Zsh  Shell = "zsh"
	Fish Shell = "fish"
	Sh   Shell = "sh"
)

// ErrUnsupportedShell is returned by ParseShell.
var ErrUnsupportedShell = fmt.Errorf("unsupported shell (want %s, %s, %s or %s)", Bash, Zsh, Fish, Sh)

// Shell selects the syntax of generated shell code.
type Shell string

// ParseShell accepts a shell name or path ("/usr/bin/zsh", "-bash").
func ParseShell(s string) (Shell, error) {
	name := strings.TrimPrefix(filepath.Base(strings.TrimSpace(s)), "-")
	switch sh := Shell(name); sh {
	case Bash, Zsh, Fish, Sh:
		return sh, nil
	case "dash", "ash", "ksh":
		return Sh, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedShell, s)
}

// DetectShell derives the shell from $SHELL, defaulting to Sh.
func DetectShell(getenv func(string) string) Shell {
	if sh, err := ParseShell(getenv("SHELL")); err == nil {
		return sh
	}
	return Sh
}

// ShellOverride returns the statement that sets the session override.
func ShellOverride(sh Shell, versions []string) string {
	value := strings.Join(versions, ":")
	if sh == Fish {
		return fmt.Sprintf("set -gx %s %q", EnvVersion, value)
	}
	return fmt.Sprintf("export %s=%q", EnvVersion, value)
}

// ShellUnset returns the statement that clears the session override.
func ShellUnset(sh Shell) string {
	if sh == Fish {
		return "set -e " + EnvVersion
	}
	return "unset " + EnvVersion
}

// SPDX-License-Identifier: MPL-2.0

//go:build !windows

package shim

import (
	"os"
	"path/filepath"
	"syscall"
)

// execProcess replaces the current process. It only returns on failure.
func execProcess(path string, argv, env []string) error {
	return syscall.Exec(path, argv, env)
}

// findExecutable reports dir/name when it is a file with any execute bit.
// Symlinks are followed.
func findExecutable(dir, name string) (string, bool) {
	candidate := filepath.Join(dir, name)
	info, err := os.Stat(candidate)
	if err != nil || !info.Mode().IsRegular() || info.Mode().Perm()&0o111 == 0 {
		return "", false
	}
	return candidate, true
}

// SPDX-License-Identifier: MPL-2.0

//go:build windows

package shim

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// execProcess cannot replace the process on Windows, so it runs a child
// with the same stdio. A non-zero exit is reported as an *ExitStatusError.
func execProcess(path string, argv, env []string) error {
	cmd := exec.Command(path, argv[1:]...)
	cmd.Env = env
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitStatusError{Code: exitErr.ExitCode()}
	}
	return err
}

// findExecutable tries name and then name with each PATHEXT extension.
func findExecutable(dir, name string) (string, bool) {
	exts := []string{""}
	if filepath.Ext(name) == "" {
		pathext := os.Getenv("PATHEXT")
		if pathext == "" {
			pathext = ".COM;.EXE;.BAT;.CMD"
		}
		exts = append(exts, strings.Split(strings.ToLower(pathext), ";")...)
	}
	for _, ext := range exts {
		candidate := filepath.Join(dir, name+ext)
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			return candidate, true
		}
	}
	return "", false
}

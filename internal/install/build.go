// SPDX-License-Identifier: MPL-2.0

package install

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// DefaultBuildScript configures, compiles and stages a CPython source tree.
// Scripts install into $DESTDIR$PREFIX; the staged tree is moved into place
// after the build succeeds.
const DefaultBuildScript = `./configure --prefix="$PREFIX" $CONFIGURE_OPTS
make $MAKE_OPTS
make install DESTDIR="$DESTDIR"`

// buildLogTail is the number of trailing build log lines kept in BuildError.
const buildLogTail = 20

// ErrBuildFailed is the sentinel error wrapped by BuildError.
var ErrBuildFailed = errors.New("build failed")

type (
	// BuildEnv is the environment a build script runs in.
	BuildEnv struct {
		// Prefix is the final install prefix (versions/<name>).
		Prefix string
		// DestDir is the staging root the script installs under.
		DestDir string
		// SrcDir is the extracted source tree and the working directory.
		SrcDir        string
		Jobs          int
		ConfigureOpts []string
		// Output receives the combined stdout and stderr of the script.
		Output io.Writer
	}

	// BuildError reports a build script that failed.
	BuildError struct {
		ExitCode int
		// LogPath is the kept build log. It is empty unless KeepFailed is set,
		// since the log is removed with the staging directory.
		LogPath string
		// Tail holds the last lines of the build log.
		Tail  []string
		Cause error
	}
)

// Error implements the error interface. The tail of the build log follows
// the summary, one indented line each.
func (e *BuildError) Error() string {
	var msg strings.Builder
	if e.ExitCode != 0 {
		fmt.Fprintf(&msg, "build script exited with status %d", e.ExitCode)
	} else {
		fmt.Fprintf(&msg, "build script failed: %v", e.Cause)
	}
	if len(e.Tail) > 0 {
		msg.WriteString("\nlast lines of the build log:")
		for _, line := range e.Tail {
			msg.WriteString("\n    ")
			msg.WriteString(line)
		}
	}
	return msg.String()
}

// Unwrap returns ErrBuildFailed and the cause for errors.Is() compatibility.
func (e *BuildError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrBuildFailed, e.Cause}
	}
	return []error{ErrBuildFailed}
}

// RunBuild runs script with the embedded POSIX shell interpreter. An empty
// script runs DefaultBuildScript. Each line of the default script is a
// separate command and the first failure stops the build (errexit).
func RunBuild(ctx context.Context, script string, env BuildEnv) error {
	if strings.TrimSpace(script) == "" {
		script = DefaultBuildScript
	}

	prog, err := syntax.NewParser().Parse(strings.NewReader(script), "build")
	if err != nil {
		return &BuildError{Cause: fmt.Errorf("failed to parse script: %w", err)}
	}

	out := env.Output
	if out == nil {
		out = io.Discard
	}

	runner, err := interp.New(
		interp.Dir(env.SrcDir),
		interp.Env(expand.ListEnviron(buildEnviron(env)...)),
		interp.StdIO(nil, out, out),
		interp.Params("-e"),
	)
	if err != nil {
		return &BuildError{Cause: fmt.Errorf("failed to create interpreter: %w", err)}
	}

	if err := runner.Run(ctx, prog); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var exitStatus interp.ExitStatus
		if errors.As(err, &exitStatus) {
			return &BuildError{ExitCode: int(exitStatus)}
		}
		return &BuildError{Cause: err}
	}
	return nil
}

// buildEnviron inherits the process environment and adds the build
// variables. $PREFIX/bin is not put on PATH; nothing is installed there yet.
func buildEnviron(env BuildEnv) []string {
	jobs := env.Jobs
	if jobs < 1 {
		jobs = runtime.NumCPU()
	}
	return append(os.Environ(),
		"PREFIX="+env.Prefix,
		"DESTDIR="+env.DestDir,
		"SRC_DIR="+env.SrcDir,
		"MAKE_OPTS=-j"+strconv.Itoa(jobs),
		"CONFIGURE_OPTS="+strings.Join(env.ConfigureOpts, " "),
	)
}

// stagedPrefix is where a script that honours DESTDIR put PREFIX.
func stagedPrefix(destDir, prefix string) string {
	return filepath.Join(destDir, strings.TrimPrefix(prefix, filepath.VolumeName(prefix)))
}

// tailLines returns the last n lines of the file at path.
func tailLines(path string, n int) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer func() { _ = f.Close() }() // read-only

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	return lines
}

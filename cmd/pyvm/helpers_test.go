// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"

	"github.com/pyvm/pyvm/internal/config"
	"github.com/pyvm/pyvm/internal/fetch"
	"github.com/pyvm/pyvm/internal/install"
	"github.com/pyvm/pyvm/internal/testutil"
)

// staticConfig serves a fixed configuration without touching the filesystem.
type staticConfig struct {
	cfg *config.Config
}

func (s staticConfig) Load(context.Context, config.LoadOptions) (*config.Config, error) {
	return s.cfg, nil
}

type execCall struct {
	path string
	argv []string
	env  []string
}

// harness runs the CLI in-process against a temporary root.
type harness struct {
	t       *testing.T
	root    string
	defs    string
	wd      string
	env     map[string]string
	cfg     *config.Config
	confirm bool
	execs   []execCall
	stdout  bytes.Buffer
	stderr  bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shims and exec need a POSIX system")
	}

	base := t.TempDir()
	h := &harness{
		t:    t,
		root: filepath.Join(base, "root"),
		defs: filepath.Join(base, "defs"),
		wd:   filepath.Join(base, "project"),
		cfg:  config.DefaultConfig(),
	}
	testutil.MustMkdirAll(t, h.wd, 0o755)
	testutil.MustMkdirAll(t, h.defs, 0o755)
	emptyPath := filepath.Join(base, "empty-path")
	testutil.MustMkdirAll(t, emptyPath, 0o755)

	h.cfg.Registry.DefinitionDirs = []string{h.defs}
	h.env = map[string]string{
		EnvRoot: h.root,
		"PATH":  emptyPath,
		"SHELL": "/bin/bash",
	}
	return h
}

// run executes args and returns the exit status. Output accumulates in
// h.stdout and h.stderr until reset.
func (h *harness) run(args ...string) int {
	h.t.Helper()
	h.stdout.Reset()
	h.stderr.Reset()

	app, err := NewApp(Dependencies{
		Config: staticConfig{cfg: h.cfg},
		Stdin:  strings.NewReader(""),
		Stdout: &h.stdout,
		Stderr: &h.stderr,
		Getenv: func(key string) string { return h.env[key] },
		Getwd:  func() (string, error) { return h.wd, nil },
		Confirm: func(string) (bool, error) {
			return h.confirm, nil
		},
		Environ: func() []string {
			out := make([]string, 0, len(h.env))
			for k, v := range h.env {
				out = append(out, k+"="+v)
			}
			slices.Sort(out)
			return out
		},
		Exec: func(path string, argv, env []string) error {
			h.execs = append(h.execs, execCall{path: path, argv: argv, env: env})
			return nil
		},
	})
	if err != nil {
		h.t.Fatal(err)
	}
	return app.Run(context.Background(), args)
}

// mustRun fails the test unless args exit 0.
func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	if code := h.run(args...); code != 0 {
		h.t.Fatalf("pyvm %s: exit %d\nstdout:\n%s\nstderr:\n%s", strings.Join(args, " "), code, h.stdout.String(), h.stderr.String())
	}
	return h.stdout.String()
}

// addRelease publishes a prebuilt interpreter for name in the definitions
// directory.
func (h *harness) addRelease(name string, executables ...string) {
	h.t.Helper()
	archive := filepath.Join(h.t.TempDir(), "cpython-"+name+".tar.gz")
	if err := writeRelease(archive, "cpython-"+name, executables); err != nil {
		h.t.Fatal(err)
	}
	if err := writeDefinition(h.defs, name, archive); err != nil {
		h.t.Fatal(err)
	}
}

// addSource publishes a source definition for name whose build runs script.
func (h *harness) addSource(name, script string) {
	h.t.Helper()
	archive := filepath.Join(h.t.TempDir(), "Python-"+name+".tar.gz")
	if err := writeRelease(archive, "Python-"+name, nil); err != nil {
		h.t.Fatal(err)
	}
	sum, err := install.ComputeFileHash(archive)
	if err != nil {
		h.t.Fatal(err)
	}
	body := fmt.Sprintf("kind: \"source\"\nurl: %q\nsha256: %q\nbuild: %q\n", fetch.FileURL(archive), sum, script)
	testutil.MustWriteFile(h.t, filepath.Join(h.defs, name+".cue"), []byte(body), 0o644)
}

// writeRelease writes a tar.gz holding <top>/bin/python3 plus executables.
func writeRelease(path, top string, executables []string) error {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	files := append([]string{"python3"}, executables...)
	if err := tw.WriteHeader(&tar.Header{Name: top + "/bin/", Typeflag: tar.TypeDir, Mode: 0o755}); err != nil {
		return err
	}
	for _, name := range files {
		body := []byte("#!/bin/sh\necho " + name + "\n")
		hdr := &tar.Header{Name: top + "/bin/" + name, Typeflag: tar.TypeReg, Mode: 0o755, Size: int64(len(body))}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if _, err := tw.Write(body); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	if err := gw.Close(); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// writeDefinition writes dir/<name>.cue pointing at archive.
func writeDefinition(dir, name, archive string) error {
	sum, err := install.ComputeFileHash(archive)
	if err != nil {
		return err
	}
	body := fmt.Sprintf("kind: \"binary\"\nurl: %q\nsha256: %q\n", fetch.FileURL(archive), sum)
	return os.WriteFile(filepath.Join(dir, name+".cue"), []byte(body), fs.FileMode(0o644))
}

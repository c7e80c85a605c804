// SPDX-License-Identifier: MPL-2.0

package install

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/pyvm/pyvm/internal/fetch"
	"github.com/pyvm/pyvm/internal/layout"
	"github.com/pyvm/pyvm/internal/lockfile"
	"github.com/pyvm/pyvm/internal/metrics"
	"github.com/pyvm/pyvm/internal/registry"
	"github.com/pyvm/pyvm/pkg/platform"
	"github.com/pyvm/pyvm/pkg/version"
)

// maxChecksumFileBytes bounds a downloaded SHA256SUMS file (1 MB).
const maxChecksumFileBytes = 1 << 20

var (
	// ErrAlreadyInstalled is returned when the version directory exists.
	ErrAlreadyInstalled = errors.New("version already installed")
	// ErrNotInstalled is returned for operations on a missing version.
	ErrNotInstalled = errors.New("version not installed")
	// ErrUnverified is returned for definitions without a checksum unless
	// Options.AllowUnverified is set.
	ErrUnverified = errors.New("definition has no checksum")
	// ErrInvalidInstall is returned when a staged tree has no interpreter.
	ErrInvalidInstall = errors.New("install produced no interpreter")
	// ErrDownloadFailed is the sentinel error wrapped by DownloadError.
	ErrDownloadFailed = errors.New("download failed")
)

type (
	// Resolver maps a requested spec onto a definition.
	Resolver interface {
		Resolve(ctx context.Context, spec version.Spec) (*registry.Definition, error)
	}

	// Options controls a single install.
	Options struct {
		// SkipExisting returns an existing install instead of ErrAlreadyInstalled.
		SkipExisting bool
		// Force replaces an existing install once the new one is staged.
		Force bool
		// KeepFailed leaves the staging directory of a failed install in place.
		KeepFailed bool
		// AllowUnverified installs definitions that carry no checksum.
		AllowUnverified bool
		// Jobs is passed to make as -j<Jobs>.
		Jobs int
		// Parallel bounds concurrent installs in InstallMany (default 1).
		Parallel int
	}

	// InstalledVersion is a complete version directory.
	InstalledVersion struct {
		Name   string
		Prefix string
		// Receipt is nil for directories not created by pyvm.
		Receipt *Receipt
	}

	// DownloadError reports a failed transfer.
	DownloadError struct {
		URL string
		Err error
	}

	// Manager installs and removes versions under one root.
	Manager struct {
		layout      layout.Layout
		resolver    Resolver
		fetcher     fetch.Fetcher
		logger      *log.Logger
		metrics     *metrics.Recorder
		rehash      func(context.Context) error
		buildOutput io.Writer
		now         func() time.Time
		newID       func() string
		lockStale   time.Duration

		group singleflight.Group
		// rehashMu serializes rehashes from parallel installs.
		rehashMu sync.Mutex
	}

	// Option configures a Manager.
	Option func(*Manager)
)

// Error implements the error interface.
func (e *DownloadError) Error() string {
	return fmt.Sprintf("downloading %s: %v", e.URL, e.Err)
}

// Unwrap returns ErrDownloadFailed and the transport error.
func (e *DownloadError) Unwrap() []error { return []error{ErrDownloadFailed, e.Err} }

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics records install metrics.
func WithMetrics(r *metrics.Recorder) Option {
	return func(m *Manager) { m.metrics = r }
}

// WithRehash sets the hook run after every install and uninstall.
func WithRehash(fn func(context.Context) error) Option {
	return func(m *Manager) { m.rehash = fn }
}

// WithBuildOutput streams build script output to w in addition to the
// build log.
func WithBuildOutput(w io.Writer) Option {
	return func(m *Manager) { m.buildOutput = w }
}

// WithClock sets the time source for receipts and lock staleness.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLockStaleAfter overrides lockfile.DefaultStaleAfter.
func WithLockStaleAfter(d time.Duration) Option {
	return func(m *Manager) { m.lockStale = d }
}

// NewManager creates a Manager for the root described by l.
func NewManager(l layout.Layout, resolver Resolver, fetcher fetch.Fetcher, opts ...Option) *Manager {
	m := &Manager{
		layout:    l,
		resolver:  resolver,
		fetcher:   fetcher,
		logger:    log.New(io.Discard),
		now:       time.Now,
		newID:     uuid.NewString,
		lockStale: lockfile.DefaultStaleAfter,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Install resolves spec and installs the definition it names.
func (m *Manager) Install(ctx context.Context, spec version.Spec, opts Options) (*InstalledVersion, error) {
	def, err := m.resolver.Resolve(ctx, spec)
	if err != nil {
		return nil, err
	}
	return m.InstallDefinition(ctx, def, opts)
}

// InstallDefinition installs def. Concurrent calls for the same name within
// this process share one install; other processes are excluded by the
// per-version lock file.
func (m *Manager) InstallDefinition(ctx context.Context, def *registry.Definition, opts Options) (*InstalledVersion, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	v, err, _ := m.group.Do(def.Name, func() (any, error) {
		return m.install(ctx, def, opts)
	})
	if err != nil {
		return nil, err
	}
	return v.(*InstalledVersion), nil
}

// InstallMany installs distinct versions concurrently, at most
// opts.Parallel at a time. Specs resolving to the same name are installed
// once. Every spec is attempted; failures are joined.
func (m *Manager) InstallMany(ctx context.Context, specs []version.Spec, opts Options) ([]*InstalledVersion, error) {
	var (
		defs []*registry.Definition
		seen = make(map[string]bool)
		errs []error
	)
	for _, spec := range specs {
		def, err := m.resolver.Resolve(ctx, spec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[def.Name] {
			continue
		}
		seen[def.Name] = true
		defs = append(defs, def)
	}

	results := make([]*InstalledVersion, len(defs))
	installErrs := make([]error, len(defs))

	var g errgroup.Group
	g.SetLimit(max(1, opts.Parallel))
	for i, def := range defs {
		g.Go(func() error {
			iv, err := m.InstallDefinition(ctx, def, opts)
			if err != nil {
				installErrs[i] = fmt.Errorf("%s: %w", def.Name, err)
				return nil
			}
			results[i] = iv
			return nil
		})
	}
	_ = g.Wait() // workers record their own errors

	installed := slices.DeleteFunc(results, func(iv *InstalledVersion) bool { return iv == nil })
	return installed, errors.Join(append(errs, installErrs...)...)
}

func (m *Manager) install(ctx context.Context, def *registry.Definition, opts Options) (_ *InstalledVersion, err error) {
	start := m.now()
	outcome := metrics.OutcomeFailed
	defer func() {
		m.metrics.ObserveInstall(string(def.Kind), outcome, m.now().Sub(start))
	}()

	if iv, done, err := m.checkExisting(def.Name, opts); done {
		if err == nil {
			outcome = metrics.OutcomeSkipped
		}
		return iv, err
	}
	if !def.Verified() && !opts.AllowUnverified {
		return nil, fmt.Errorf("%w: %s", ErrUnverified, def.Name)
	}
	if err := m.layout.Ensure(); err != nil {
		return nil, err
	}

	lock, err := lockfile.Acquire(m.layout.Lock(def.Name),
		lockfile.WithStaleAfter(m.lockStale), lockfile.WithClock(m.now))
	if err != nil {
		return nil, err
	}
	defer func() {
		if relErr := lock.Release(); relErr != nil && err == nil {
			err = relErr
		}
	}()
	// Source builds can take longer than the stale timeout.
	defer lock.KeepAlive()()

	// Another process may have completed the install before we got the lock.
	if iv, done, err := m.checkExisting(def.Name, opts); done {
		if err == nil {
			outcome = metrics.OutcomeSkipped
		}
		return iv, err
	}

	logger := m.logger.With("version", def.Name)
	logger.Info("installing", "kind", def.Kind, "source", def.Source)

	archive, sum, err := m.download(ctx, def)
	if err != nil {
		return nil, err
	}

	id := m.newID()
	staging := filepath.Join(m.layout.Versions(), layout.StagingPrefix+def.Name+"-"+id)
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	defer func() {
		if err != nil && opts.KeepFailed {
			logger.Warn("keeping failed install", "dir", staging)
			return
		}
		if rmErr := os.RemoveAll(staging); rmErr != nil {
			logger.Warn("removing staging directory", "dir", staging, "err", rmErr)
		}
	}()

	staged, err := m.stage(ctx, def, staging, archive, opts)
	if err != nil {
		return nil, err
	}
	if err := postCheck(staged); err != nil {
		return nil, err
	}

	receipt := &Receipt{
		Name:        def.Name,
		ID:          id,
		Kind:        def.Kind,
		Source:      def.Source,
		URL:         def.URL,
		SHA256:      sum,
		InstalledAt: m.now().UTC().Truncate(time.Second),
	}
	if err := WriteReceipt(staged, receipt); err != nil {
		return nil, err
	}

	final := m.layout.Version(def.Name)
	if err := commit(staged, final, filepath.Join(staging, "previous")); err != nil {
		return nil, err
	}
	outcome = metrics.OutcomeInstalled
	logger.Info("installed", "prefix", final, "took", m.now().Sub(start).Round(time.Millisecond))

	m.runRehash(ctx)
	return &InstalledVersion{Name: def.Name, Prefix: final, Receipt: receipt}, nil
}

// checkExisting reports whether the install is already decided by an
// existing directory.
func (m *Manager) checkExisting(name string, opts Options) (*InstalledVersion, bool, error) {
	_, err := os.Stat(m.layout.Version(name))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, false, nil
	case err != nil:
		return nil, true, err
	case opts.Force:
		return nil, false, nil
	case opts.SkipExisting:
		iv, err := m.Get(name)
		return iv, true, err
	}
	return nil, true, fmt.Errorf("%w: %s", ErrAlreadyInstalled, name)
}

// stage extracts and, for source definitions, builds def below staging. It
// returns the directory that becomes the install prefix.
func (m *Manager) stage(ctx context.Context, def *registry.Definition, staging, archive string, opts Options) (string, error) {
	src := filepath.Join(staging, "src")
	if err := Extract(archive, def.Archive, src, ExtractOptions{StripComponents: def.StripComponents}); err != nil {
		return "", fmt.Errorf("extracting %s: %w", filepath.Base(archive), err)
	}
	if def.Kind == registry.KindBinary {
		return src, nil
	}

	logPath := filepath.Join(staging, "build.log")
	logFile, err := os.Create(logPath)
	if err != nil {
		return "", fmt.Errorf("creating build log: %w", err)
	}
	defer func() { _ = logFile.Close() }() // flushed before tailLines reads it below

	var out io.Writer = logFile
	if m.buildOutput != nil {
		out = io.MultiWriter(logFile, m.buildOutput)
	}

	final := m.layout.Version(def.Name)
	destDir := filepath.Join(staging, "destdir")
	m.logger.Info("building", "version", def.Name, "log", logPath)

	err = RunBuild(ctx, def.Build, BuildEnv{
		Prefix:        final,
		DestDir:       destDir,
		SrcDir:        src,
		Jobs:          opts.Jobs,
		ConfigureOpts: def.ConfigureOpts,
		Output:        out,
	})
	if err != nil {
		var be *BuildError
		if errors.As(err, &be) {
			_ = logFile.Sync()
			be.Tail = tailLines(logPath, buildLogTail)
			if opts.KeepFailed {
				be.LogPath = logPath
			}
		}
		return "", err
	}

	staged := stagedPrefix(destDir, final)
	if fi, err := os.Stat(staged); err != nil || !fi.IsDir() {
		return "", fmt.Errorf("%w: build did not install into $DESTDIR$PREFIX (%s)", ErrInvalidInstall, staged)
	}
	return staged, nil
}

// download returns a verified archive in the cache and its SHA256. A cached
// archive is reused when it verifies; one that does not is replaced.
func (m *Manager) download(ctx context.Context, def *registry.Definition) (path, sum string, err error) {
	expected, err := m.expectedHash(ctx, def)
	if err != nil {
		return "", "", err
	}

	cached := filepath.Join(m.layout.Cache(), def.ArchiveName())
	if _, statErr := os.Stat(cached); statErr == nil {
		if expected == "" {
			m.metrics.CacheHit()
			sum, err := ComputeFileHash(cached)
			return cached, sum, err
		}
		if VerifyFile(cached, expected) == nil {
			m.metrics.CacheHit()
			m.logger.Debug("using cached archive", "path", cached)
			return cached, expected, nil
		}
		m.logger.Warn("cached archive failed verification, downloading again", "path", cached)
		_ = os.Remove(cached)
	}

	n, err := m.fetchTo(ctx, def.URL, cached)
	m.metrics.AddDownloadBytes(n)
	if err != nil {
		return "", "", err
	}

	if expected == "" {
		sum, err := ComputeFileHash(cached)
		return cached, sum, err
	}
	if err := VerifyFile(cached, expected); err != nil {
		_ = os.Remove(cached)
		return "", "", err
	}
	return cached, expected, nil
}

// expectedHash returns the definition's SHA256, looking it up in the
// checksum file when only ChecksumURL is given. "" means unverified.
func (m *Manager) expectedHash(ctx context.Context, def *registry.Definition) (string, error) {
	if def.SHA256 != "" {
		return strings.ToLower(def.SHA256), nil
	}
	if def.ChecksumURL == "" {
		return "", nil
	}

	body, err := m.fetcher.Open(ctx, def.ChecksumURL)
	if err != nil {
		return "", &DownloadError{URL: def.ChecksumURL, Err: err}
	}
	defer func() { _ = body.Close() }() // read-only

	entries, err := ParseChecksums(io.LimitReader(body, maxChecksumFileBytes))
	if err != nil {
		return "", fmt.Errorf("parsing %s: %w", def.ChecksumURL, err)
	}
	return FindChecksum(entries, def.ArchiveName())
}

// fetchTo downloads rawURL into dest through a temp file in the same
// directory, so dest is either complete or absent.
func (m *Manager) fetchTo(ctx context.Context, rawURL, dest string) (_ int64, err error) {
	body, err := m.fetcher.Open(ctx, rawURL)
	if err != nil {
		return 0, &DownloadError{URL: rawURL, Err: err}
	}
	defer func() { _ = body.Close() }() // read-only

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		if err != nil {
			// Best-effort removal of partially written temp file.
			_ = os.Remove(tmp.Name())
		}
	}()

	n, err := io.Copy(tmp, body)
	if closeErr := tmp.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		return n, &DownloadError{URL: rawURL, Err: err}
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return n, fmt.Errorf("moving download into cache: %w", err)
	}
	return n, nil
}

// postCheck requires bin/python or bin/python3 under prefix and links
// python to python3 when only the latter exists.
func postCheck(prefix string) error {
	bin := filepath.Join(prefix, "bin")
	if fi, err := os.Stat(bin); err != nil || !fi.IsDir() {
		return fmt.Errorf("%w: %s has no bin directory", ErrInvalidInstall, prefix)
	}
	exists := func(name string) bool {
		_, err := os.Stat(filepath.Join(bin, name))
		return err == nil
	}
	if exists("python") || (runtime.GOOS == platform.Windows && exists("python.exe")) {
		return nil
	}
	if !exists("python3") {
		return fmt.Errorf("%w: no python or python3 in %s", ErrInvalidInstall, bin)
	}
	if err := os.Symlink("python3", filepath.Join(bin, "python")); err != nil {
		return fmt.Errorf("linking python to python3: %w", err)
	}
	return nil
}

// commit renames staged onto final. An existing final directory (Force) is
// moved to previous first and restored if the rename fails.
func commit(staged, final, previous string) error {
	replaced := false
	if _, err := os.Stat(final); err == nil {
		if err := os.Rename(final, previous); err != nil {
			return fmt.Errorf("moving existing install aside: %w", err)
		}
		replaced = true
	}
	if err := os.Rename(staged, final); err != nil {
		if replaced {
			_ = os.Rename(previous, final) // best-effort restore
		}
		return fmt.Errorf("moving install into place: %w", err)
	}
	return nil
}

// Uninstall removes an installed version and rehashes.
func (m *Manager) Uninstall(ctx context.Context, name string) (err error) {
	if err := version.Spec(name).Validate(); err != nil {
		return err
	}
	final := m.layout.Version(name)
	if _, err := os.Stat(final); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotInstalled, name)
	}

	lock, err := lockfile.Acquire(m.layout.Lock(name),
		lockfile.WithStaleAfter(m.lockStale), lockfile.WithClock(m.now))
	if err != nil {
		return err
	}
	defer func() {
		if relErr := lock.Release(); relErr != nil && err == nil {
			err = relErr
		}
	}()

	// Rename first so a half-deleted tree is never visible as a version.
	trash := filepath.Join(m.layout.Versions(), layout.StagingPrefix+name+"-"+m.newID()+"-removing")
	if err := os.Rename(final, trash); err != nil {
		return fmt.Errorf("removing %s: %w", name, err)
	}
	if err := os.RemoveAll(trash); err != nil {
		return fmt.Errorf("removing %s: %w", trash, err)
	}
	m.logger.Info("uninstalled", "version", name)

	m.runRehash(ctx)
	return nil
}

// Installed lists installed versions ordered oldest to newest, numeric
// versions before flavored names.
func (m *Manager) Installed() ([]InstalledVersion, error) {
	entries, err := os.ReadDir(m.layout.Versions())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}

	var out []InstalledVersion
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") || !isDir(m.layout.Versions(), e) {
			continue
		}
		iv := InstalledVersion{Name: e.Name(), Prefix: m.layout.Version(e.Name())}
		if r, err := ReadReceipt(iv.Prefix); err == nil {
			iv.Receipt = r
		}
		out = append(out, iv)
	}
	slices.SortFunc(out, func(a, b InstalledVersion) int {
		return cmp.Or(version.Compare(a.Name, b.Name), strings.Compare(a.Name, b.Name))
	})
	return out, nil
}

// isDir follows symlinks, so versions linked in from elsewhere count.
func isDir(parent string, e fs.DirEntry) bool {
	if e.IsDir() {
		return true
	}
	fi, err := os.Stat(filepath.Join(parent, e.Name()))
	return err == nil && fi.IsDir()
}

// Get returns the installed version name.
func (m *Manager) Get(name string) (*InstalledVersion, error) {
	if err := version.Spec(name).Validate(); err != nil {
		return nil, err
	}
	prefix := m.layout.Version(name)
	fi, err := os.Stat(prefix)
	if err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotInstalled, name)
	}
	iv := &InstalledVersion{Name: name, Prefix: prefix}
	if r, err := ReadReceipt(prefix); err == nil {
		iv.Receipt = r
	}
	return iv, nil
}

// Prefix returns the install directory of name.
func (m *Manager) Prefix(name string) (string, error) {
	iv, err := m.Get(name)
	if err != nil {
		return "", err
	}
	return iv.Prefix, nil
}

func (m *Manager) runRehash(ctx context.Context) {
	if m.rehash == nil {
		return
	}
	m.rehashMu.Lock()
	defer m.rehashMu.Unlock()
	// The install itself is complete; a stale shim set is repaired by the
	// next rehash.
	if err := m.rehash(ctx); err != nil {
		m.logger.Warn("rehashing shims", "err", err)
	}
}

// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/log"
	"golang.org/x/term"

	"github.com/pyvm/pyvm/internal/activation"
	"github.com/pyvm/pyvm/internal/config"
	"github.com/pyvm/pyvm/internal/fetch"
	"github.com/pyvm/pyvm/internal/install"
	"github.com/pyvm/pyvm/internal/layout"
	"github.com/pyvm/pyvm/internal/metrics"
	"github.com/pyvm/pyvm/internal/registry"
	"github.com/pyvm/pyvm/internal/shim"
	"github.com/pyvm/pyvm/pkg/types"
)

const (
	// EnvRoot overrides the root directory.
	EnvRoot = "PYVM_ROOT"
	// EnvDebug enables debug logging.
	EnvDebug = "PYVM_DEBUG"
	// EnvGitHubToken authenticates release listing and definition clones.
	EnvGitHubToken = "GITHUB_TOKEN"
)

type (
	// ConfigProvider loads configuration using explicit options.
	ConfigProvider interface {
		Load(ctx context.Context, opts config.LoadOptions) (*config.Config, error)
	}

	// App wires CLI services and shared dependencies. Cobra handlers receive
	// an App and delegate to the services it builds.
	App struct {
		Config ConfigProvider

		stdin   io.Reader
		stdout  io.Writer
		stderr  io.Writer
		getenv  func(string) string
		getwd   func() (string, error)
		confirm func(title string) (bool, error)
		environ func() []string
		execFn  func(path string, argv, env []string) error

		// Set from persistent flags.
		verbose    bool
		configPath string

		svc *services
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config  ConfigProvider
		Stdin   io.Reader
		Stdout  io.Writer
		Stderr  io.Writer
		Getenv  func(string) string
		Getwd   func() (string, error)
		Confirm func(title string) (bool, error)
		// Environ is the base environment for `pyvm exec`.
		Environ func() []string
		// Exec replaces the process in `pyvm exec`.
		Exec func(path string, argv, env []string) error
	}

	// services are built once per invocation from the loaded configuration.
	services struct {
		cfg        *config.Config
		layout     layout.Layout
		logger     *log.Logger
		metrics    *metrics.Recorder
		registry   *registry.Registry
		installer  *install.Manager
		shims      *shim.Manager
		activation *activation.Context
	}
)

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) (*App, error) {
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	if deps.Stdin == nil {
		deps.Stdin = os.Stdin
	}
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	if deps.Getenv == nil {
		deps.Getenv = os.Getenv
	}
	if deps.Getwd == nil {
		deps.Getwd = os.Getwd
	}
	if deps.Confirm == nil {
		deps.Confirm = confirmPrompt
	}
	if deps.Environ == nil {
		deps.Environ = os.Environ
	}

	return &App{
		Config:  deps.Config,
		stdin:   deps.Stdin,
		stdout:  deps.Stdout,
		stderr:  deps.Stderr,
		getenv:  deps.Getenv,
		getwd:   deps.Getwd,
		confirm: deps.Confirm,
		environ: deps.Environ,
		execFn:  deps.Exec,
	}, nil
}

// services loads configuration and builds the domain services on first use.
func (a *App) services(ctx context.Context) (*services, error) {
	if a.svc != nil {
		return a.svc, nil
	}

	cfg, err := a.Config.Load(ctx, config.LoadOptions{ConfigFilePath: types.FilesystemPath(a.configPath)})
	if err != nil {
		return nil, err
	}

	logger := a.newLogger(cfg)

	configuredRoot := a.getenv(EnvRoot)
	if configuredRoot == "" {
		configuredRoot = cfg.Root
	}
	root, err := layout.ResolveRoot(configuredRoot)
	if err != nil {
		return nil, err
	}
	l := layout.New(root)
	rec := metrics.New()
	token := a.getenv(EnvGitHubToken)
	ua := "pyvm/" + Version

	dirs := append([]string{l.Definitions()}, cfg.Registry.DefinitionDirs...)
	sources := []registry.Source{registry.NewDirSource(dirs...)}
	if cfg.Registry.Releases.Enabled {
		client := registry.NewGitHubClient(cfg.Registry.Releases.Owner, cfg.Registry.Releases.Repo,
			registry.WithToken(token), registry.WithUserAgent(ua))
		sources = append(sources, registry.NewReleaseSource(client))
	}
	syncer := registry.NewGitSyncer(l.Definitions(), cfg.Registry.Repository, cfg.Registry.Ref,
		registry.WithSyncLogger(logger.WithPrefix("registry")))
	reg := registry.New(sources,
		registry.WithAliases(cfg.Aliases),
		registry.WithSyncer(syncer),
		registry.WithLogger(logger.WithPrefix("registry")))

	httpFetcher := fetch.NewHTTPFetcher(fetch.WithToken(token), fetch.WithUserAgent(ua))
	fetcher := fetch.New(
		fetch.WithFetcher("http", httpFetcher),
		fetch.WithFetcher("https", httpFetcher),
		fetch.WithFetcher("s3", fetch.NewS3Fetcher(fetch.S3Options{
			Region:   cfg.Fetch.S3Region,
			Endpoint: cfg.Fetch.S3Endpoint,
		})),
		fetch.WithMirror(cfg.Fetch.Mirror),
		fetch.WithLogger(logger.WithPrefix("fetch")),
	)

	shimOpts := []shim.Option{
		shim.WithLogger(logger.WithPrefix("shim")),
		shim.WithMetrics(rec),
		shim.WithEnviron(a.environ),
	}
	if exe, err := os.Executable(); err == nil {
		shimOpts = append(shimOpts, shim.WithExecutable(exe))
	}
	if a.execFn != nil {
		shimOpts = append(shimOpts, shim.WithExecFunc(a.execFn))
	}
	shims := shim.New(l, shimOpts...)

	installOpts := []install.Option{
		install.WithLogger(logger.WithPrefix("install")),
		install.WithMetrics(rec),
		install.WithRehash(func(ctx context.Context) error {
			_, err := shims.Rehash(ctx)
			return err
		}),
	}
	if a.verbose {
		installOpts = append(installOpts, install.WithBuildOutput(a.stderr))
	}

	a.svc = &services{
		cfg:        cfg,
		layout:     l,
		logger:     logger,
		metrics:    rec,
		registry:   reg,
		installer:  install.NewManager(l, reg, fetcher, installOpts...),
		shims:      shims,
		activation: activation.New(l, activation.WithGetenv(a.getenv)),
	}
	return a.svc, nil
}

func (a *App) newLogger(cfg *config.Config) *log.Logger {
	level := cfg.UI.LogLevel.Level()
	if a.verbose || cfg.UI.Verbose || a.getenv(EnvDebug) != "" {
		level = log.DebugLevel
	}
	return log.NewWithOptions(a.stderr, log.Options{
		Prefix: "pyvm",
		Level:  level,
	})
}

// flushMetrics writes the metrics textfile when one is configured.
func (s *services) flushMetrics() {
	if err := s.metrics.WriteTextfile(s.cfg.Metrics.Textfile); err != nil {
		s.logger.Warn("writing metrics", "err", err)
	}
}

// confirmPrompt asks a yes/no question on the terminal. Without a terminal
// it refuses, so scripts must pass --force.
func confirmPrompt(title string) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, fmt.Errorf("refusing to prompt without a terminal; pass --force")
	}
	ok := false
	err := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	return ok, err
}

// wd returns the working directory used for local version files.
func (a *App) wd() (string, error) {
	dir, err := a.getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}
	return dir, nil
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.stdout, format, args...)
}

func (a *App) println(s ...string) {
	fmt.Fprintln(a.stdout, strings.Join(s, " "))
}

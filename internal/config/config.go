// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/viper"

	"github.com/pyvm/pyvm/internal/issue"
	"github.com/pyvm/pyvm/pkg/cueutil"
	"github.com/pyvm/pyvm/pkg/platform"
)

const (
	// AppName is the application name.
	AppName = "pyvm"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes environment overrides (PYVM_INSTALL_JOBS...).
	EnvPrefix = "PYVM"
)

//go:embed config_schema.cue
var configSchema string

// ConfigDir returns the pyvm configuration directory using platform-specific
// conventions: Windows uses %APPDATA%, macOS uses ~/Library/Application Support,
// and Linux/others use $XDG_CONFIG_HOME (defaulting to ~/.config).
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	var configDir string

	switch runtime.GOOS {
	case platform.Windows:
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case platform.Darwin:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default:
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(configDir, AppName), nil
}

// FilePath returns the path of the config file inside dir, or inside
// ConfigDir() when dir is empty.
func FilePath(dir string) (string, error) {
	if dir == "" {
		var err error
		if dir, err = ConfigDir(); err != nil {
			return "", err
		}
	}
	return filepath.Join(dir, ConfigFileName+"."+ConfigFileExt), nil
}

// LoadWithPath loads configuration and reports which file it came from ("" when
// only defaults and environment overrides applied).
func LoadWithPath(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	if err := opts.Validate(); err != nil {
		return nil, "", err
	}

	v := newViper()

	resolvedPath := ""
	if opts.ConfigFilePath != "" {
		path := string(opts.ConfigFilePath)
		if !fileExists(path) {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(path).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Use 'pyvm config show' to see the default configuration").
				WithIssue(issue.ConfigLoadFailedId).
				Wrap(fmt.Errorf("config file not found: %s", path)).
				BuildError()
		}
		if err := loadCUEIntoViper(v, path); err != nil {
			return nil, "", loadError(path, err)
		}
		resolvedPath = path
	} else {
		cuePath, err := FilePath(string(opts.ConfigDirPath))
		if err != nil {
			return nil, "", err
		}
		if fileExists(cuePath) {
			if err := loadCUEIntoViper(v, cuePath); err != nil {
				return nil, "", loadError(cuePath, err)
			}
			resolvedPath = cuePath
		}
		// No config file is not an error; defaults apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Aliases == nil {
		cfg.Aliases = map[string]string{}
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(resolvedPath).
			WithSuggestion("Check PYVM_* environment variables for typos").
			WithIssue(issue.ConfigLoadFailedId).
			Wrap(err).
			BuildError()
	}

	return &cfg, resolvedPath, nil
}

func loadError(path string, err error) error {
	return issue.NewErrorContext().
		WithOperation("load configuration").
		WithResource(path).
		WithSuggestion("Check that the file contains valid CUE syntax").
		WithSuggestion("Verify the configuration values match the expected schema").
		WithIssue(issue.ConfigLoadFailedId).
		Wrap(err).
		BuildError()
}

// newViper returns a Viper instance holding every default so that
// AutomaticEnv can resolve PYVM_ overrides for each key.
func newViper() *viper.Viper {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("root", defaults.Root)
	v.SetDefault("aliases", defaults.Aliases)
	v.SetDefault("registry.repository", defaults.Registry.Repository)
	v.SetDefault("registry.ref", defaults.Registry.Ref)
	v.SetDefault("registry.definition_dirs", defaults.Registry.DefinitionDirs)
	v.SetDefault("registry.releases.enabled", defaults.Registry.Releases.Enabled)
	v.SetDefault("registry.releases.owner", defaults.Registry.Releases.Owner)
	v.SetDefault("registry.releases.repo", defaults.Registry.Releases.Repo)
	v.SetDefault("fetch.mirror", defaults.Fetch.Mirror)
	v.SetDefault("fetch.s3_region", defaults.Fetch.S3Region)
	v.SetDefault("fetch.s3_endpoint", defaults.Fetch.S3Endpoint)
	v.SetDefault("install.jobs", defaults.Install.Jobs)
	v.SetDefault("install.keep_failed", defaults.Install.KeepFailed)
	v.SetDefault("install.allow_unverified", defaults.Install.AllowUnverified)
	v.SetDefault("ui.color_scheme", defaults.UI.ColorScheme)
	v.SetDefault("ui.verbose", defaults.UI.Verbose)
	v.SetDefault("ui.log_level", defaults.UI.LogLevel)
	v.SetDefault("metrics.textfile", defaults.Metrics.Textfile)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// loadCUEIntoViper parses a CUE file, validates it against the #Config schema,
// and merges its contents into Viper.
//
// cueutil.ParseAndDecode is not used here: the config decodes to a map for
// Viper, and every field is optional so concreteness is not required.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := cueutil.CheckFileSize(data, cueutil.DefaultMaxFileSize, path); err != nil {
		return err
	}

	ctx := cuecontext.New()

	schemaValue := ctx.CompileString(configSchema)
	if schemaValue.Err() != nil {
		return fmt.Errorf("internal error: failed to compile config schema: %w", schemaValue.Err())
	}

	userValue := ctx.CompileBytes(data, cue.Filename(path))
	if userValue.Err() != nil {
		return cueutil.FormatError(userValue.Err(), path)
	}

	schema := schemaValue.LookupPath(cue.ParsePath("#Config"))
	unified := schema.Unify(userValue)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return cueutil.FormatError(err, path)
	}

	var configMap map[string]any
	if err := unified.Decode(&configMap); err != nil {
		return cueutil.FormatError(err, path)
	}

	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}

	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// CreateDefaultConfig writes a default config file into dir (ConfigDir()
// when empty) unless one already exists. It returns the file path and
// whether it was created.
func CreateDefaultConfig(dir string) (string, bool, error) {
	cfgPath, err := FilePath(dir)
	if err != nil {
		return "", false, err
	}
	if fileExists(cfgPath) {
		return cfgPath, false, nil
	}
	if err := Save(cfgPath, DefaultConfig()); err != nil {
		return "", false, err
	}
	return cfgPath, true, nil
}

// Save writes cfg to path as CUE.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(GenerateCUE(cfg)), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateCUE generates a CUE representation of the configuration.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// pyvm configuration file\n")
	sb.WriteString("// Every key may be overridden with a PYVM_ environment variable\n")
	sb.WriteString("// (PYVM_INSTALL_JOBS, PYVM_FETCH_MIRROR, ...).\n\n")

	if cfg.Root != "" {
		fmt.Fprintf(&sb, "root: %q\n\n", cfg.Root)
	}

	if len(cfg.Aliases) > 0 {
		sb.WriteString("aliases: {\n")
		for _, name := range slices.Sorted(maps.Keys(cfg.Aliases)) {
			fmt.Fprintf(&sb, "\t%q: %q\n", name, cfg.Aliases[name])
		}
		sb.WriteString("}\n\n")
	}

	sb.WriteString("registry: {\n")
	fmt.Fprintf(&sb, "\trepository: %q\n", cfg.Registry.Repository)
	fmt.Fprintf(&sb, "\tref: %q\n", cfg.Registry.Ref)
	if len(cfg.Registry.DefinitionDirs) > 0 {
		sb.WriteString("\tdefinition_dirs: [\n")
		for _, dir := range cfg.Registry.DefinitionDirs {
			fmt.Fprintf(&sb, "\t\t%q,\n", dir)
		}
		sb.WriteString("\t]\n")
	}
	sb.WriteString("\treleases: {\n")
	fmt.Fprintf(&sb, "\t\tenabled: %v\n", cfg.Registry.Releases.Enabled)
	fmt.Fprintf(&sb, "\t\towner: %q\n", cfg.Registry.Releases.Owner)
	fmt.Fprintf(&sb, "\t\trepo: %q\n", cfg.Registry.Releases.Repo)
	sb.WriteString("\t}\n")
	sb.WriteString("}\n")

	sb.WriteString("\nfetch: {\n")
	if cfg.Fetch.Mirror != "" {
		fmt.Fprintf(&sb, "\tmirror: %q\n", cfg.Fetch.Mirror)
	}
	fmt.Fprintf(&sb, "\ts3_region: %q\n", cfg.Fetch.S3Region)
	if cfg.Fetch.S3Endpoint != "" {
		fmt.Fprintf(&sb, "\ts3_endpoint: %q\n", cfg.Fetch.S3Endpoint)
	}
	sb.WriteString("}\n")

	sb.WriteString("\ninstall: {\n")
	fmt.Fprintf(&sb, "\tjobs: %d\n", cfg.Install.Jobs)
	fmt.Fprintf(&sb, "\tkeep_failed: %v\n", cfg.Install.KeepFailed)
	fmt.Fprintf(&sb, "\tallow_unverified: %v\n", cfg.Install.AllowUnverified)
	sb.WriteString("}\n")

	sb.WriteString("\nui: {\n")
	fmt.Fprintf(&sb, "\tcolor_scheme: %q\n", cfg.UI.ColorScheme)
	fmt.Fprintf(&sb, "\tverbose: %v\n", cfg.UI.Verbose)
	fmt.Fprintf(&sb, "\tlog_level: %q\n", cfg.UI.LogLevel)
	sb.WriteString("}\n")

	if cfg.Metrics.Textfile != "" {
		sb.WriteString("\nmetrics: {\n")
		fmt.Fprintf(&sb, "\ttextfile: %q\n", cfg.Metrics.Textfile)
		sb.WriteString("}\n")
	}

	return sb.String()
}

// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/charmbracelet/log"
)

const (
	// ColorSchemeAuto detects the terminal color scheme automatically.
	ColorSchemeAuto ColorScheme = "auto"
	// ColorSchemeDark forces dark color scheme.
	ColorSchemeDark ColorScheme = "dark"
	// ColorSchemeLight forces light color scheme.
	ColorSchemeLight ColorScheme = "light"

	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"

	// DefaultDefinitionsRepository is cloned by 'pyvm update' when no
	// repository is configured.
	DefaultDefinitionsRepository = "https://github.com/pyvm/definitions.git"
	// DefaultDefinitionsRef is the branch checked out in the definitions clone.
	DefaultDefinitionsRef = "main"
	// DefaultReleasesOwner and DefaultReleasesRepo name the prebuilt
	// interpreter release feed.
	DefaultReleasesOwner = "astral-sh"
	DefaultReleasesRepo  = "python-build-standalone"
)

var (
	// ErrInvalidColorScheme is returned when a ColorScheme value is not recognized.
	ErrInvalidColorScheme = errors.New("invalid color scheme")
	// ErrInvalidLogLevel is returned when a LogLevel value is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// ColorScheme specifies the terminal color scheme preference.
	ColorScheme string

	// InvalidColorSchemeError is returned when a ColorScheme value is not recognized.
	InvalidColorSchemeError struct {
		Value ColorScheme
	}

	// LogLevel is the minimum level written to stderr.
	LogLevel string

	// InvalidLogLevelError is returned when a LogLevel value is not recognized.
	InvalidLogLevelError struct {
		Value LogLevel
	}

	// InvalidConfigError collects field-level validation errors from all
	// sub-components of a Config.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the application configuration.
	Config struct {
		// Root overrides the default $HOME/.pyvm. PYVM_ROOT wins over both.
		Root string `json:"root" mapstructure:"root" yaml:"root"`
		// Aliases maps user names to version specs.
		Aliases map[string]string `json:"aliases" mapstructure:"aliases" yaml:"aliases"`
		// Registry configures where definitions come from.
		Registry RegistryConfig `json:"registry" mapstructure:"registry" yaml:"registry"`
		// Fetch configures archive downloads.
		Fetch FetchConfig `json:"fetch" mapstructure:"fetch" yaml:"fetch"`
		// Install configures the install manager.
		Install InstallConfig `json:"install" mapstructure:"install" yaml:"install"`
		// UI configures the user interface.
		UI UIConfig `json:"ui" mapstructure:"ui" yaml:"ui"`
		// Metrics configures install metric export.
		Metrics MetricsConfig `json:"metrics" mapstructure:"metrics" yaml:"metrics"`
	}

	// RegistryConfig configures definition sources.
	RegistryConfig struct {
		// Repository is the git URL of the definitions repository.
		Repository string `json:"repository" mapstructure:"repository" yaml:"repository"`
		// Ref is the branch synced by 'pyvm update'.
		Ref string `json:"ref" mapstructure:"ref" yaml:"ref"`
		// DefinitionDirs are extra directories of *.cue definitions, searched
		// after the synced definitions directory.
		DefinitionDirs []string `json:"definition_dirs" mapstructure:"definition_dirs" yaml:"definition_dirs"`
		// Releases configures the prebuilt release feed.
		Releases ReleasesConfig `json:"releases" mapstructure:"releases" yaml:"releases"`
	}

	// ReleasesConfig configures the GitHub release source.
	ReleasesConfig struct {
		Enabled bool   `json:"enabled" mapstructure:"enabled" yaml:"enabled"`
		Owner   string `json:"owner" mapstructure:"owner" yaml:"owner"`
		Repo    string `json:"repo" mapstructure:"repo" yaml:"repo"`
	}

	// FetchConfig configures downloads.
	FetchConfig struct {
		// Mirror rewrites definition URLs to <mirror>/<basename>.
		Mirror string `json:"mirror" mapstructure:"mirror" yaml:"mirror"`
		// S3Region is the region used for s3:// URLs.
		S3Region string `json:"s3_region" mapstructure:"s3_region" yaml:"s3_region"`
		// S3Endpoint overrides the S3 endpoint (MinIO and other compatible stores).
		S3Endpoint string `json:"s3_endpoint" mapstructure:"s3_endpoint" yaml:"s3_endpoint"`
	}

	// InstallConfig configures installs.
	InstallConfig struct {
		// Jobs is passed to make as -j<jobs> and bounds parallel installs.
		Jobs int `json:"jobs" mapstructure:"jobs" yaml:"jobs"`
		// KeepFailed leaves the staging directory behind after a failure.
		KeepFailed bool `json:"keep_failed" mapstructure:"keep_failed" yaml:"keep_failed"`
		// AllowUnverified permits definitions without a checksum.
		AllowUnverified bool `json:"allow_unverified" mapstructure:"allow_unverified" yaml:"allow_unverified"`
	}

	// UIConfig configures the user interface.
	UIConfig struct {
		ColorScheme ColorScheme `json:"color_scheme" mapstructure:"color_scheme" yaml:"color_scheme"`
		Verbose     bool        `json:"verbose" mapstructure:"verbose" yaml:"verbose"`
		LogLevel    LogLevel    `json:"log_level" mapstructure:"log_level" yaml:"log_level"`
	}

	// MetricsConfig configures metric export.
	MetricsConfig struct {
		// Textfile is a node-exporter textfile path written after installs.
		Textfile string `json:"textfile" mapstructure:"textfile" yaml:"textfile"`
	}
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Aliases: map[string]string{},
		Registry: RegistryConfig{
			Repository:     DefaultDefinitionsRepository,
			Ref:            DefaultDefinitionsRef,
			DefinitionDirs: []string{},
			Releases: ReleasesConfig{
				Enabled: false,
				Owner:   DefaultReleasesOwner,
				Repo:    DefaultReleasesRepo,
			},
		},
		Fetch: FetchConfig{
			S3Region: "us-east-1",
		},
		Install: InstallConfig{
			Jobs: defaultJobs(),
		},
		UI: UIConfig{
			ColorScheme: ColorSchemeAuto,
			LogLevel:    LogLevelWarn,
		},
	}
}

func defaultJobs() int {
	return min(max(runtime.NumCPU(), 1), 64)
}

// Error implements the error interface.
func (e *InvalidColorSchemeError) Error() string {
	return fmt.Sprintf("invalid color scheme %q (valid: auto, dark, light)", e.Value)
}

// Unwrap returns ErrInvalidColorScheme for errors.Is() compatibility.
func (e *InvalidColorSchemeError) Unwrap() error { return ErrInvalidColorScheme }

// Validate returns an error if the ColorScheme is not one of the defined schemes.
func (c ColorScheme) Validate() error {
	switch c {
	case ColorSchemeAuto, ColorSchemeDark, ColorSchemeLight:
		return nil
	default:
		return &InvalidColorSchemeError{Value: c}
	}
}

// String returns the string representation of the ColorScheme.
func (c ColorScheme) String() string { return string(c) }

// Error implements the error interface.
func (e *InvalidLogLevelError) Error() string {
	return fmt.Sprintf("invalid log level %q (valid: debug, info, warn, error)", e.Value)
}

// Unwrap returns ErrInvalidLogLevel for errors.Is() compatibility.
func (e *InvalidLogLevelError) Unwrap() error { return ErrInvalidLogLevel }

// Validate returns an error if the LogLevel is not recognized.
func (l LogLevel) Validate() error {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return nil
	default:
		return &InvalidLogLevelError{Value: l}
	}
}

// Level maps the LogLevel onto a charmbracelet/log level. Unknown values map
// to warn.
func (l LogLevel) Level() log.Level {
	switch l {
	case LogLevelDebug:
		return log.DebugLevel
	case LogLevelInfo:
		return log.InfoLevel
	case LogLevelError:
		return log.ErrorLevel
	default:
		return log.WarnLevel
	}
}

// Error implements the error interface.
func (e *InvalidConfigError) Error() string {
	msgs := make([]string, 0, len(e.FieldErrors))
	for _, err := range e.FieldErrors {
		msgs = append(msgs, err.Error())
	}
	return "invalid config: " + strings.Join(msgs, "; ")
}

// Unwrap returns ErrInvalidConfig for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// Validate checks constraints that survive environment overrides, which
// bypass the CUE schema.
func (c *Config) Validate() error {
	var errs []error
	if err := c.UI.ColorScheme.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.UI.LogLevel.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Install.Jobs < 1 {
		errs = append(errs, fmt.Errorf("install.jobs must be >= 1, got %d", c.Install.Jobs))
	}
	if c.Registry.Ref == "" {
		errs = append(errs, errors.New("registry.ref must be non-empty"))
	}
	if m := c.Fetch.Mirror; m != "" && !strings.Contains(m, "://") {
		errs = append(errs, fmt.Errorf("fetch.mirror %q must be a URL", m))
	}
	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}

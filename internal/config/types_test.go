// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"testing"

	"github.com/charmbracelet/log"
)

func TestColorScheme_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		scheme  ColorScheme
		wantErr bool
	}{
		{ColorSchemeAuto, false},
		{ColorSchemeDark, false},
		{ColorSchemeLight, false},
		{"", true},
		{"AUTO", true},
		{"solarized", true},
	}

	for _, tt := range tests {
		t.Run(string(tt.scheme), func(t *testing.T) {
			t.Parallel()

			err := tt.scheme.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("ColorScheme(%q).Validate() = %v, wantErr %v", tt.scheme, err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidColorScheme) {
				t.Errorf("error should wrap ErrInvalidColorScheme, got: %v", err)
			}
		})
	}
}

func TestLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level   LogLevel
		want    log.Level
		wantErr bool
	}{
		{LogLevelDebug, log.DebugLevel, false},
		{LogLevelInfo, log.InfoLevel, false},
		{LogLevelWarn, log.WarnLevel, false},
		{LogLevelError, log.ErrorLevel, false},
		{"trace", log.WarnLevel, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			t.Parallel()

			if got := tt.level.Level(); got != tt.want {
				t.Errorf("Level() = %v, want %v", got, tt.want)
			}
			err := tt.level.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidLogLevel) {
				t.Errorf("error should wrap ErrInvalidLogLevel, got: %v", err)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() = %v", err)
	}

	cfg := DefaultConfig()
	cfg.Install.Jobs = 0
	cfg.UI.LogLevel = "loud"
	cfg.Fetch.Mirror = "mirror.example.com"

	err := cfg.Validate()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Validate() = %v, want ErrInvalidConfig", err)
	}
	var cfgErr *InvalidConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error should be *InvalidConfigError, got %T", err)
	}
	if len(cfgErr.FieldErrors) != 3 {
		t.Errorf("FieldErrors = %v, want 3 entries", cfgErr.FieldErrors)
	}
}

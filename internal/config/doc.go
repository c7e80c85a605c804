// SPDX-License-Identifier: MPL-2.0

// Package config handles pyvm configuration using Viper with CUE as the file format.
//
// Configuration is loaded from $XDG_CONFIG_HOME/pyvm/config.cue on Linux,
// ~/Library/Application Support/pyvm/config.cue on macOS and
// %APPDATA%\pyvm\config.cue on Windows. Every key can be overridden through a
// PYVM_ prefixed environment variable (PYVM_INSTALL_JOBS, PYVM_FETCH_MIRROR...).
//
// Files are validated against the embedded #Config schema (config_schema.cue)
// before they are merged over the defaults.
package config

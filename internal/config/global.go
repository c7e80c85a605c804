// SPDX-License-Identifier: MPL-2.0

package config

// configDirOverride replaces ConfigDir() when set. Tests use it because
// os.UserHomeDir ignores HOME on Windows.
var configDirOverride string

// SetConfigDirOverride makes ConfigDir return dir.
func SetConfigDirOverride(dir string) {
	configDirOverride = dir
}

// Reset clears SetConfigDirOverride.
func Reset() {
	configDirOverride = ""
}

// SPDX-License-Identifier: MPL-2.0

// Package testutil provides helper functions for tests that handle errors
// appropriately, reducing boilerplate and ensuring consistent error handling.
//
// Common helpers include environment variable management (MustSetenv,
// MustUnsetenv, SetHomeDir, IsolateEnv), file operations (MustWriteFile,
// MustMkdirAll, MustReadFile) and a FakeClock for code that takes a now function.
package testutil

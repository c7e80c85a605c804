// SPDX-License-Identifier: MPL-2.0

// Package shim maintains the shims directory and dispatches commands to the
// selected interpreter version.
//
// A shim is a small POSIX sh script named after an executable found in any
// installed version's bin directory. It re-enters pyvm as
// `pyvm exec <name> "$@"`; exec resolves the active selection, prepends the
// chosen version's bin directory to PATH and replaces the process.
package shim

// SPDX-License-Identifier: MPL-2.0

// Package version parses and orders interpreter version strings.
//
// A Spec is what a user typed ("3.11.4", "3.12", "latest", "system",
// "pypy3.10-7.3.12"); a Version is the parsed numeric form of a CPython-style
// release. Ordering delegates to golang.org/x/mod/semver after mapping
// pre-release suffixes (a1, b2, rc1) onto semver pre-release identifiers.
package version

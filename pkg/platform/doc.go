// SPDX-License-Identifier: MPL-2.0

// Package platform holds the few OS facts pyvm branches on: GOOS names and
// the file names Windows refuses to create, which can never name a version
// directory.
package platform

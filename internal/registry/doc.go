// SPDX-License-Identifier: MPL-2.0

// Package registry resolves version specs to installable definitions.
//
// Definitions come from Sources queried in order: CUE definition directories
// (one file per version, validated against the embedded #Definition schema)
// and, optionally, a GitHub release feed of prebuilt interpreters. The first
// source that carries a name wins. GitSyncer keeps the definitions directory
// in step with a remote repository.
package registry

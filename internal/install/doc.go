// SPDX-License-Identifier: MPL-2.0

// Package install materializes interpreter versions under the pyvm root.
//
// An install resolves a definition, downloads and verifies its archive into
// the shared cache, extracts it into a staging directory next to the final
// prefix, builds it when it is a source archive, writes a receipt and then
// renames the staging prefix into place. A version directory is therefore
// either complete or absent; failed installs leave nothing behind unless
// KeepFailed is set.
package install

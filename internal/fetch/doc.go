// SPDX-License-Identifier: MPL-2.0

// Package fetch streams archives from http(s), file and s3 URLs.
//
// A Client dispatches on the URL scheme. Mirror rewriting maps a definition
// URL onto <mirror>/<basename> before dispatch, so one mirror can serve every
// upstream host.
package fetch

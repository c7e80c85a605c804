// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for pyvm.
//
// App is the composition root: it loads configuration once per invocation
// and wires the registry, install manager, shim manager and activation
// context that the command handlers delegate to.
package cmd

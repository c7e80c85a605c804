// SPDX-License-Identifier: MPL-2.0

// Package activation decides which installed versions are active.
//
// The first source that names at least one version wins:
//
//  1. the session override, PYVM_VERSION, then PYTHON_VERSION
//  2. a .python-version file in the working directory or any parent
//  3. the global file $PYVM_ROOT/version
//  4. "system"
//
// Resolution only reads; files change through SetGlobal, SetLocal and
// UnsetLocal.
package activation

// SPDX-License-Identifier: MPL-2.0

package shim

import (
	"path/filepath"
	"strings"
)

// PrependPath returns path with dirs moved to the front, in order. Empty
// entries and duplicates are dropped; the relative order of the remaining
// entries is kept.
func PrependPath(path string, dirs ...string) string {
	seen := make(map[string]bool)
	var out []string
	add := func(entry string) {
		if entry == "" {
			return
		}
		key := filepath.Clean(entry)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, entry)
	}
	for _, d := range dirs {
		add(d)
	}
	for _, entry := range filepath.SplitList(path) {
		add(entry)
	}
	return strings.Join(out, string(filepath.ListSeparator))
}

// RemoveFromPath returns path without any entry equal to one of dirs.
func RemoveFromPath(path string, dirs ...string) string {
	drop := make(map[string]bool, len(dirs))
	for _, d := range dirs {
		drop[filepath.Clean(d)] = true
	}
	var out []string
	for _, entry := range filepath.SplitList(path) {
		if entry == "" || drop[filepath.Clean(entry)] {
			continue
		}
		out = append(out, entry)
	}
	return strings.Join(out, string(filepath.ListSeparator))
}

// findInPath looks name up in the directories of path.
func findInPath(name, path string) (string, bool) {
	for _, dir := range filepath.SplitList(path) {
		if dir == "" {
			continue
		}
		if candidate, ok := findExecutable(dir, name); ok {
			return candidate, true
		}
	}
	return "", false
}

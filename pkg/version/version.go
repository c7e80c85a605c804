// SPDX-License-Identifier: MPL-2.0

package version

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// versionRegex matches CPython-style versions: 3, 3.11, 3.11.4, 3.13.0rc1.
// The pre-release suffix is only meaningful on a full three-part version.
var versionRegex = regexp.MustCompile(`^v?(\d+)(?:\.(\d+))?(?:\.(\d+))?(?:(a|b|rc)(\d+))?$`)

// Version represents a parsed numeric interpreter version.
type Version struct {
	Major int
	Minor int
	Patch int
	// PreKind is the pre-release kind ("a", "b", "rc"), empty for final releases.
	PreKind string
	// PreNum is the pre-release ordinal (the 1 in "rc1").
	PreNum int
	// Precision is the number of numeric components given (1-3).
	Precision int
	// Original is the input string.
	Original string
}

// Parse parses a version string into a Version.
func Parse(s string) (*Version, error) {
	matches := versionRegex.FindStringSubmatch(strings.TrimSpace(s))
	if matches == nil {
		return nil, fmt.Errorf("invalid version format: %q", s)
	}

	v := &Version{Original: s, Precision: 1}

	var err error
	if v.Major, err = strconv.Atoi(matches[1]); err != nil {
		return nil, fmt.Errorf("invalid major version: %w", err)
	}
	if matches[2] != "" {
		if v.Minor, err = strconv.Atoi(matches[2]); err != nil {
			return nil, fmt.Errorf("invalid minor version: %w", err)
		}
		v.Precision = 2
	}
	if matches[3] != "" {
		if v.Patch, err = strconv.Atoi(matches[3]); err != nil {
			return nil, fmt.Errorf("invalid patch version: %w", err)
		}
		v.Precision = 3
	}
	if matches[4] != "" {
		if v.Precision != 3 {
			return nil, fmt.Errorf("invalid version format: %q (pre-release requires major.minor.patch)", s)
		}
		v.PreKind = matches[4]
		if v.PreNum, err = strconv.Atoi(matches[5]); err != nil {
			return nil, fmt.Errorf("invalid pre-release number: %w", err)
		}
	}

	return v, nil
}

// IsPrerelease reports whether v is an alpha, beta or release candidate.
func (v *Version) IsPrerelease() bool { return v.PreKind != "" }

// String returns the canonical form without a "v" prefix, keeping the
// original precision (e.g. "3.11", "3.13.0rc1").
func (v *Version) String() string {
	var sb strings.Builder
	sb.WriteString(strconv.Itoa(v.Major))
	if v.Precision >= 2 {
		sb.WriteString(".")
		sb.WriteString(strconv.Itoa(v.Minor))
	}
	if v.Precision >= 3 {
		sb.WriteString(".")
		sb.WriteString(strconv.Itoa(v.Patch))
	}
	if v.PreKind != "" {
		sb.WriteString(v.PreKind)
		sb.WriteString(strconv.Itoa(v.PreNum))
	}
	return sb.String()
}

// semver maps v onto a golang.org/x/mod/semver string. Pre-release kinds
// become dot-separated identifiers so that "a" < "b" < "rc" sorts lexically
// and the ordinal compares numerically (rc.2 < rc.10).
func (v *Version) semver() string {
	s := fmt.Sprintf("v%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.PreKind != "" {
		s += fmt.Sprintf("-%s.%d", v.PreKind, v.PreNum)
	}
	return s
}

// Compare returns -1, 0 or 1 when v is lower than, equal to or higher than other.
func (v *Version) Compare(other *Version) int {
	return semver.Compare(v.semver(), other.semver())
}

// Covers reports whether v, read as a prefix, covers other. A prefix never
// covers pre-releases, so "3.13" does not select "3.13.0rc1".
func (v *Version) Covers(other *Version) bool {
	if other.IsPrerelease() && !v.IsPrerelease() {
		return false
	}
	switch v.Precision {
	case 1:
		return v.Major == other.Major
	case 2:
		return v.Major == other.Major && v.Minor == other.Minor
	default:
		return v.Compare(other) == 0
	}
}

// Compare orders two version names, newest last. Names that do not parse as
// numeric versions sort after numeric ones and compare lexically among
// themselves, keeping flavored builds (pypy, miniconda) grouped at the end.
func Compare(a, b string) int {
	va, errA := Parse(a)
	vb, errB := Parse(b)
	switch {
	case errA == nil && errB == nil:
		if c := va.Compare(vb); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	default:
		return strings.Compare(a, b)
	}
}

// SortDesc sorts names newest first, numeric versions ahead of flavored names.
func SortDesc(names []string) {
	slices.SortStableFunc(names, func(a, b string) int {
		va, errA := Parse(a)
		vb, errB := Parse(b)
		switch {
		case errA == nil && errB == nil:
			return vb.Compare(va)
		case errA == nil:
			return -1
		case errB == nil:
			return 1
		default:
			return strings.Compare(a, b)
		}
	})
}

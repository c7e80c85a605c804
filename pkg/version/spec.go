// SPDX-License-Identifier: MPL-2.0

package version

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/pyvm/pyvm/pkg/platform"
)

const (
	// Latest selects the highest stable version available.
	Latest Spec = "latest"
	// System selects the interpreter found on PATH outside pyvm.
	System Spec = "system"

	// KindExact is a fully specified numeric version (3.11.4, 3.13.0rc1).
	KindExact Kind = "exact"
	// KindPrefix is a partial numeric version (3, 3.11).
	KindPrefix Kind = "prefix"
	// KindLatest is the "latest" alias.
	KindLatest Kind = "latest"
	// KindSystem is the "system" alias.
	KindSystem Kind = "system"
	// KindName is an opaque name: a flavored build or a user alias.
	KindName Kind = "name"
)

// ErrInvalidSpec is the sentinel error wrapped by InvalidSpecError.
var ErrInvalidSpec = errors.New("invalid version spec")

// specCharsRegex restricts specs to characters that are safe as a single
// directory name.
var specCharsRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._+\-]*$`)

type (
	// Spec is a version identifier requested by the user. It is parsed per
	// invocation and never persisted in resolved form.
	Spec string

	// Kind classifies a Spec.
	Kind string

	// InvalidSpecError is returned when a Spec is empty, contains path
	// separators, or contains characters that cannot name a directory.
	InvalidSpecError struct {
		Value  Spec
		Reason string
	}
)

// Error implements the error interface.
func (e *InvalidSpecError) Error() string {
	return fmt.Sprintf("invalid version spec %q: %s", e.Value, e.Reason)
}

// Unwrap returns ErrInvalidSpec so callers can use errors.Is for programmatic detection.
func (e *InvalidSpecError) Unwrap() error { return ErrInvalidSpec }

// String returns the string representation of the Spec.
func (s Spec) String() string { return string(s) }

// IsValid returns whether the Spec can be resolved and used as a directory
// name, and a list of validation errors if it cannot.
func (s Spec) IsValid() (bool, []error) {
	str := string(s)
	switch {
	case strings.TrimSpace(str) == "":
		return false, []error{&InvalidSpecError{Value: s, Reason: "must be non-empty"}}
	case strings.ContainsAny(str, `/\`):
		return false, []error{&InvalidSpecError{Value: s, Reason: "must not contain path separators"}}
	case strings.Contains(str, ".."):
		return false, []error{&InvalidSpecError{Value: s, Reason: "must not contain '..'"}}
	case !specCharsRegex.MatchString(str):
		return false, []error{&InvalidSpecError{Value: s, Reason: "may only contain letters, digits, '.', '_', '+' and '-'"}}
	case platform.IsWindowsReservedName(str):
		return false, []error{&InvalidSpecError{Value: s, Reason: "is a reserved device name on Windows"}}
	}
	return true, nil
}

// Validate returns the first validation error, or nil.
func (s Spec) Validate() error {
	if ok, errs := s.IsValid(); !ok {
		return errs[0]
	}
	return nil
}

// Normalize trims surrounding whitespace and drops a leading "v" from
// numeric specs so that "v3.11.4" and "3.11.4" name the same directory.
func (s Spec) Normalize() Spec {
	trimmed := strings.TrimSpace(string(s))
	if v, err := Parse(trimmed); err == nil {
		return Spec(v.String())
	}
	return Spec(trimmed)
}

// Kind classifies the spec.
func (s Spec) Kind() Kind {
	switch s {
	case Latest:
		return KindLatest
	case System:
		return KindSystem
	}
	v, err := Parse(string(s))
	if err != nil {
		return KindName
	}
	if v.Precision < 3 {
		return KindPrefix
	}
	return KindExact
}

// Match selects the candidate a spec refers to. An exact string match always
// wins; prefixes and "latest" pick the highest stable candidate they cover.
// Names and exact versions only match literally (after normalization).
func Match(s Spec, candidates []string) (string, bool) {
	norm := s.Normalize()
	for _, c := range candidates {
		if c == string(s) || Spec(c).Normalize() == norm {
			return c, true
		}
	}

	var want *Version
	switch norm.Kind() {
	case KindLatest:
	case KindPrefix:
		v, err := Parse(string(norm))
		if err != nil {
			return "", false
		}
		want = v
	default:
		return "", false
	}

	var (
		best     string
		bestVers *Version
	)
	for _, c := range candidates {
		cv, err := Parse(c)
		if err != nil || cv.IsPrerelease() || cv.Precision < 3 {
			continue
		}
		if want != nil && !want.Covers(cv) {
			continue
		}
		if bestVers == nil || cv.Compare(bestVers) > 0 {
			best, bestVers = c, cv
		}
	}
	return best, bestVers != nil
}

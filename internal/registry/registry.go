// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/sahilm/fuzzy"

	"github.com/pyvm/pyvm/pkg/version"
)

const (
	// maxAliasDepth bounds alias chains (work -> stable -> 3.12 ...).
	maxAliasDepth = 8
	// maxSuggestions caps "did you mean" candidates.
	maxSuggestions = 5
)

var (
	// ErrDefinitionNotFound is returned when no source has a matching definition.
	ErrDefinitionNotFound = errors.New("definition not found")
	// ErrAliasCycle is returned when alias expansion loops or exceeds maxAliasDepth.
	ErrAliasCycle = errors.New("alias cycle")
	// ErrSystemNotInstallable is returned when resolving "system".
	ErrSystemNotInstallable = errors.New(`"system" refers to the interpreter outside pyvm and cannot be installed`)
	// ErrSyncNotConfigured is returned by Sync when no GitSyncer was given.
	ErrSyncNotConfigured = errors.New("no definitions repository configured")
)

type (
	// Source provides definitions.
	Source interface {
		Name() string
		List(ctx context.Context) ([]Definition, error)
	}

	// NotFoundError reports a spec no source could satisfy.
	NotFoundError struct {
		Spec        version.Spec
		Suggestions []string
		// SourceErr joins errors from sources that could not be listed.
		SourceErr error
	}

	// AliasError reports a broken alias chain.
	AliasError struct {
		Chain []string
	}

	// Registry resolves specs against an ordered list of sources.
	Registry struct {
		sources []Source
		aliases map[string]string
		syncer  *GitSyncer
		logger  *log.Logger

		mu     sync.Mutex
		cached []Definition
	}

	// Option configures a Registry.
	Option func(*Registry)
)

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	msg := fmt.Sprintf("no definition for %q", e.Spec)
	if len(e.Suggestions) > 0 {
		msg += " (did you mean " + strings.Join(e.Suggestions, ", ") + "?)"
	}
	return msg
}

// Unwrap exposes ErrDefinitionNotFound and any source failures.
func (e *NotFoundError) Unwrap() []error {
	if e.SourceErr != nil {
		return []error{ErrDefinitionNotFound, e.SourceErr}
	}
	return []error{ErrDefinitionNotFound}
}

// Error implements the error interface.
func (e *AliasError) Error() string {
	return "alias cycle: " + strings.Join(e.Chain, " -> ")
}

// Unwrap returns ErrAliasCycle for errors.Is() compatibility.
func (e *AliasError) Unwrap() error { return ErrAliasCycle }

// WithAliases sets user aliases expanded before lookup.
func WithAliases(aliases map[string]string) Option {
	return func(r *Registry) { r.aliases = aliases }
}

// WithSyncer sets the syncer used by Sync.
func WithSyncer(s *GitSyncer) Option {
	return func(r *Registry) { r.syncer = s }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New creates a Registry querying sources in order.
func New(sources []Source, opts ...Option) *Registry {
	r := &Registry{
		sources: sources,
		aliases: map[string]string{},
		logger:  log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ExpandAlias follows user aliases from spec. A spec that names no alias is
// returned unchanged.
func (r *Registry) ExpandAlias(spec version.Spec) (version.Spec, error) {
	chain := []string{string(spec)}
	seen := map[string]bool{string(spec): true}
	cur := string(spec)
	for range maxAliasDepth {
		target, ok := r.aliases[cur]
		if !ok {
			return version.Spec(cur), nil
		}
		chain = append(chain, target)
		if seen[target] {
			return "", &AliasError{Chain: chain}
		}
		seen[target] = true
		cur = target
	}
	if _, ok := r.aliases[cur]; ok {
		return "", &AliasError{Chain: append(chain, "...")}
	}
	return version.Spec(cur), nil
}

// Resolve returns the definition spec refers to. Exact names win; prefixes
// and "latest" select the highest stable version.
func (r *Registry) Resolve(ctx context.Context, spec version.Spec) (*Definition, error) {
	expanded, err := r.ExpandAlias(spec)
	if err != nil {
		return nil, err
	}
	if err := expanded.Validate(); err != nil {
		return nil, err
	}
	if expanded == version.System {
		return nil, ErrSystemNotInstallable
	}

	defs, sourceErr := r.collect(ctx, false)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	names := make([]string, len(defs))
	for i := range defs {
		names[i] = defs[i].Name
	}
	if name, ok := version.Match(expanded, names); ok {
		for i := range defs {
			if defs[i].Name == name {
				def := defs[i]
				r.logger.Debug("resolved", "spec", spec, "name", def.Name, "source", def.Source)
				return &def, nil
			}
		}
	}

	return nil, &NotFoundError{
		Spec:        spec,
		Suggestions: Suggest(string(expanded), names),
		SourceErr:   sourceErr,
	}
}

// List returns every definition, deduplicated by name (first source wins)
// and sorted newest first. Any source failure is an error.
func (r *Registry) List(ctx context.Context) ([]Definition, error) {
	defs, err := r.collect(ctx, true)
	if err != nil {
		return nil, err
	}
	SortDefinitions(defs)
	return defs, nil
}

// Sync updates the definitions repository and drops cached listings.
func (r *Registry) Sync(ctx context.Context) (*SyncResult, error) {
	if r.syncer == nil {
		return nil, ErrSyncNotConfigured
	}
	res, err := r.syncer.Sync(ctx)
	r.mu.Lock()
	r.cached = nil
	r.mu.Unlock()
	return res, err
}

// collect merges all sources. With strict unset, failing sources are logged
// and skipped so that an offline release feed does not hide local
// definitions; their errors are returned alongside the partial result.
func (r *Registry) collect(ctx context.Context, strict bool) ([]Definition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil {
		return append([]Definition(nil), r.cached...), nil
	}

	var (
		merged []Definition
		seen   = make(map[string]bool)
		errs   []error
	)
	for _, src := range r.sources {
		defs, err := src.List(ctx)
		if err != nil {
			err = fmt.Errorf("%s: %w", src.Name(), err)
			if strict {
				return nil, err
			}
			r.logger.Warn("definition source unavailable", "source", src.Name(), "err", err)
			errs = append(errs, err)
			continue
		}
		for _, d := range defs {
			if seen[d.Name] {
				continue
			}
			seen[d.Name] = true
			merged = append(merged, d)
		}
	}
	if len(errs) == 0 {
		r.cached = merged
	}
	return append([]Definition(nil), merged...), errors.Join(errs...)
}

// Suggest returns up to five names fuzzily matching pattern, best first.
func Suggest(pattern string, names []string) []string {
	matches := fuzzy.Find(pattern, names)
	out := make([]string, 0, min(len(matches), maxSuggestions))
	for _, m := range matches {
		if len(out) == maxSuggestions {
			break
		}
		out = append(out, m.Str)
	}
	return out
}

// SortDefinitions orders definitions newest first, numeric versions before
// flavored names.
func SortDefinitions(defs []Definition) {
	names := make([]string, len(defs))
	byName := make(map[string]Definition, len(defs))
	for i, d := range defs {
		names[i] = d.Name
		byName[d.Name] = d
	}
	version.SortDesc(names)
	for i, n := range names {
		defs[i] = byName[n]
	}
}

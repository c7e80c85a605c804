// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/pyvm/pyvm/pkg/version"
)

type staticSource struct {
	name  string
	defs  []Definition
	err   error
	calls int
}

func (s *staticSource) Name() string { return s.name }

func (s *staticSource) List(context.Context) ([]Definition, error) {
	s.calls++
	return s.defs, s.err
}

func defs(names ...string) []Definition {
	out := make([]Definition, 0, len(names))
	for _, n := range names {
		out = append(out, Definition{Name: n, Kind: KindSource, URL: "https://x/" + n + ".tgz", Archive: FormatTarGz})
	}
	return out
}

func TestRegistry_Resolve(t *testing.T) {
	t.Parallel()

	local := &staticSource{name: "local", defs: defs("3.11.4", "3.11.9", "3.12.1", "3.13.0rc1", "pypy3.10-7.3.12")}
	feed := &staticSource{name: "feed", defs: defs("3.12.2", "3.11.4")}
	feed.defs[1].Source = "feed"

	r := New([]Source{local, feed}, WithAliases(map[string]string{
		"work":   "stable",
		"stable": "3.11",
	}))

	tests := []struct {
		spec version.Spec
		want string
	}{
		{"3.11.4", "3.11.4"},
		{"v3.11.4", "3.11.4"},
		{"3.11", "3.11.9"},
		{"3.12", "3.12.2"},
		{"latest", "3.12.2"},
		{"3.13.0rc1", "3.13.0rc1"},
		{"pypy3.10-7.3.12", "pypy3.10-7.3.12"},
		{"work", "3.11.9"},
	}
	for _, tt := range tests {
		def, err := r.Resolve(context.Background(), tt.spec)
		if err != nil {
			t.Errorf("Resolve(%q) error: %v", tt.spec, err)
			continue
		}
		if def.Name != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.spec, def.Name, tt.want)
		}
	}

	def, _ := r.Resolve(context.Background(), "3.11.4")
	if def.Source == "feed" {
		t.Error("first source should win for duplicate names")
	}
	if local.calls != 1 {
		t.Errorf("sources should be listed once and cached, got %d calls", local.calls)
	}
}

func TestRegistry_ResolveErrors(t *testing.T) {
	t.Parallel()

	r := New([]Source{&staticSource{name: "local", defs: defs("3.11.4", "3.11.9", "3.10.13")}},
		WithAliases(map[string]string{"a": "b", "b": "a"}))

	_, err := r.Resolve(context.Background(), "311")
	var nf *NotFoundError
	if !errors.As(err, &nf) || !errors.Is(err, ErrDefinitionNotFound) {
		t.Fatalf("Resolve(311) = %v, want NotFoundError", err)
	}
	if len(nf.Suggestions) == 0 || !slices.Contains(nf.Suggestions, "3.11.4") {
		t.Errorf("Suggestions = %v, want 3.11.4 among them", nf.Suggestions)
	}

	if _, err := r.Resolve(context.Background(), "a"); !errors.Is(err, ErrAliasCycle) {
		t.Errorf("Resolve(a) = %v, want ErrAliasCycle", err)
	}
	if _, err := r.Resolve(context.Background(), "system"); !errors.Is(err, ErrSystemNotInstallable) {
		t.Errorf("Resolve(system) = %v, want ErrSystemNotInstallable", err)
	}
	if _, err := r.Resolve(context.Background(), "../3.11"); !errors.Is(err, version.ErrInvalidSpec) {
		t.Errorf("Resolve(../3.11) = %v, want ErrInvalidSpec", err)
	}
	if _, err := r.Resolve(context.Background(), "  "); !errors.Is(err, version.ErrInvalidSpec) {
		t.Errorf("Resolve(blank) = %v, want ErrInvalidSpec", err)
	}
}

func TestRegistry_ExpandAliasDepth(t *testing.T) {
	t.Parallel()

	aliases := map[string]string{}
	prev := "a0"
	for i := 1; i <= maxAliasDepth+1; i++ {
		next := "a" + string(rune('0'+i))
		aliases[prev] = next
		prev = next
	}
	r := New(nil, WithAliases(aliases))
	if _, err := r.ExpandAlias("a0"); !errors.Is(err, ErrAliasCycle) {
		t.Errorf("ExpandAlias() past max depth = %v, want ErrAliasCycle", err)
	}
	if got, err := r.ExpandAlias("a2"); err != nil || got != "a9" {
		t.Errorf("ExpandAlias(a2) = %q, %v, want a9", got, err)
	}
	if got, _ := r.ExpandAlias("3.11"); got != "3.11" {
		t.Errorf("non-alias should pass through, got %q", got)
	}
}

func TestRegistry_PartialSourceFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("network down")
	r := New([]Source{
		&staticSource{name: "feed", err: boom},
		&staticSource{name: "local", defs: defs("3.11.4")},
	})

	def, err := r.Resolve(context.Background(), "3.11.4")
	if err != nil || def.Name != "3.11.4" {
		t.Fatalf("Resolve() should succeed from the healthy source, got %v, %v", def, err)
	}

	_, err = r.Resolve(context.Background(), "3.12.0")
	if !errors.Is(err, boom) || !errors.Is(err, ErrDefinitionNotFound) {
		t.Errorf("not-found error should carry the source failure, got %v", err)
	}

	if _, err := r.List(context.Background()); !errors.Is(err, boom) {
		t.Errorf("List() = %v, want strict failure", err)
	}
}

func TestRegistry_ListSorted(t *testing.T) {
	t.Parallel()

	r := New([]Source{&staticSource{name: "s", defs: defs("3.10.13", "pypy3.10-7.3.12", "3.12.1", "3.12.0rc1")}})
	got, err := r.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, d := range got {
		names = append(names, d.Name)
	}
	want := []string{"3.12.1", "3.12.0rc1", "3.10.13", "pypy3.10-7.3.12"}
	if !slices.Equal(names, want) {
		t.Errorf("List() = %v, want %v", names, want)
	}
}

func TestRegistry_SyncNotConfigured(t *testing.T) {
	t.Parallel()

	if _, err := New(nil).Sync(context.Background()); !errors.Is(err, ErrSyncNotConfigured) {
		t.Errorf("Sync() = %v, want ErrSyncNotConfigured", err)
	}
}

// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
)

// ErrNotARepository is returned when the definitions directory exists, is
// not empty and is not a git checkout. Sync never overwrites such a directory.
var ErrNotARepository = errors.New("definitions directory exists and is not a git repository")

const githubHost = "github.com"

type (
	// GitSyncer clones and updates the definitions repository.
	GitSyncer struct {
		dir    string
		url    string
		ref    string
		auth   transport.AuthMethod
		logger *log.Logger
	}

	// SyncOption configures a GitSyncer.
	SyncOption func(*GitSyncer)

	// SyncResult describes what Sync did.
	SyncResult struct {
		// Cloned is true when the directory was created by this sync.
		Cloned bool
		// Commit is the hash checked out after the sync.
		Commit string
		// Previous is the hash checked out before the sync ("" when cloned).
		Previous string
	}
)

// WithSyncAuth overrides credential detection.
func WithSyncAuth(auth transport.AuthMethod) SyncOption {
	return func(s *GitSyncer) { s.auth = auth }
}

// WithSyncLogger sets the logger.
func WithSyncLogger(l *log.Logger) SyncOption {
	return func(s *GitSyncer) { s.logger = l }
}

// NewGitSyncer creates a syncer that keeps dir at ref of the repository at
// repoURL. Credentials come from GITHUB_TOKEN for https://github.com URLs and
// from the usual ~/.ssh keys for ssh URLs.
func NewGitSyncer(dir, repoURL, ref string, opts ...SyncOption) *GitSyncer {
	s := &GitSyncer{
		dir:    dir,
		url:    repoURL,
		ref:    ref,
		logger: log.New(io.Discard),
	}
	s.auth = detectAuth(repoURL)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the checkout directory.
func (s *GitSyncer) Dir() string { return s.dir }

// Sync clones the repository when dir is missing or empty, otherwise fetches
// ref and hard-resets the worktree to it. Running it twice is a no-op.
func (s *GitSyncer) Sync(ctx context.Context) (*SyncResult, error) {
	repo, err := git.PlainOpen(s.dir)
	switch {
	case errors.Is(err, git.ErrRepositoryNotExists):
		empty, emptyErr := isEmptyDir(s.dir)
		if emptyErr != nil {
			return nil, emptyErr
		}
		if !empty {
			return nil, fmt.Errorf("%w: %s", ErrNotARepository, s.dir)
		}
		return s.clone(ctx)
	case err != nil:
		return nil, fmt.Errorf("opening definitions repository: %w", err)
	}
	return s.update(ctx, repo)
}

func (s *GitSyncer) clone(ctx context.Context) (*SyncResult, error) {
	if err := os.MkdirAll(filepath.Dir(s.dir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create parent directory: %w", err)
	}
	s.logger.Info("cloning definitions", "url", s.url, "ref", s.ref)

	repo, err := git.PlainCloneContext(ctx, s.dir, false, &git.CloneOptions{
		URL:           s.url,
		Auth:          s.auth,
		ReferenceName: plumbing.NewBranchReferenceName(s.ref),
		SingleBranch:  true,
	})
	if err != nil {
		// Best-effort cleanup so the next sync starts from an empty directory.
		_ = os.RemoveAll(s.dir)
		return nil, fmt.Errorf("cloning %s: %w", s.url, err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD: %w", err)
	}
	return &SyncResult{Cloned: true, Commit: head.Hash().String()}, nil
}

func (s *GitSyncer) update(ctx context.Context, repo *git.Repository) (*SyncResult, error) {
	var previous string
	if head, err := repo.Head(); err == nil {
		previous = head.Hash().String()
	}

	remoteRef := plumbing.NewRemoteReferenceName("origin", s.ref)
	spec := gitconfig.RefSpec(fmt.Sprintf("+%s:%s", plumbing.NewBranchReferenceName(s.ref), remoteRef))

	s.logger.Info("fetching definitions", "ref", s.ref)
	err := repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: "origin",
		RefSpecs:   []gitconfig.RefSpec{spec},
		Auth:       s.auth,
		Force:      true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil, fmt.Errorf("fetching %s: %w", s.ref, err)
	}

	ref, err := repo.Reference(remoteRef, true)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", remoteRef, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}
	if err := wt.Reset(&git.ResetOptions{Commit: ref.Hash(), Mode: git.HardReset}); err != nil {
		return nil, fmt.Errorf("resetting to %s: %w", ref.Hash(), err)
	}

	return &SyncResult{Commit: ref.Hash().String(), Previous: previous}, nil
}

// detectAuth picks credentials matching the URL's transport. go-git rejects
// an ssh auth method for an https remote and vice versa. GITHUB_TOKEN is only
// ever sent to github.com.
func detectAuth(rawURL string) transport.AuthMethod {
	if strings.HasPrefix(rawURL, "git@") || strings.HasPrefix(rawURL, "ssh://") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		for _, name := range []string{"id_ed25519", "id_rsa", "id_ecdsa"} {
			keyPath := filepath.Join(home, ".ssh", name)
			if _, err := os.Stat(keyPath); err != nil {
				continue
			}
			if auth, err := ssh.NewPublicKeysFromFile("git", keyPath, ""); err == nil {
				return auth
			}
		}
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "https" || !strings.EqualFold(u.Hostname(), githubHost) {
		return nil
	}
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		return &githttp.BasicAuth{Username: "x-access-token", Password: token}
	}
	return nil
}

func isEmptyDir(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", dir, err)
	}
	return len(entries) == 0, nil
}

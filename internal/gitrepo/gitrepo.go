// Package gitrepo wraps go-git for the template repository: open,
// init, clone, commit-all, push, and remote inspection.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ErrNoChanges is returned by CommitAll when the worktree is clean.
var ErrNoChanges = errors.New("gitrepo: no changes to commit")

// Repo is a handle on a local git repository.
type Repo struct {
	path string
	repo *git.Repository
}

// Open opens an existing repository at path.
func Open(path string) (*Repo, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("gitrepo: open %s: %w", path, err)
	}
	return &Repo{path: path, repo: repo}, nil
}

// Init creates a new repository at path.
func Init(path string) (*Repo, error) {
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("gitrepo: init %s: %w", path, err)
	}
	return &Repo{path: path, repo: repo}, nil
}

// Clone clones remoteURL into path.
func Clone(ctx context.Context, remoteURL, path string) (*Repo, error) {
	repo, err := git.PlainCloneContext(ctx, path, false, &git.CloneOptions{
		URL: remoteURL,
	})
	if err != nil {
		return nil, fmt.Errorf("gitrepo: clone %s: %w", remoteURL, err)
	}
	return &Repo{path: path, repo: repo}, nil
}

// IsRepository reports whether path contains a valid git repository.
func IsRepository(path string) bool {
	_, err := git.PlainOpen(path)
	return err == nil
}

// Path returns the repository's working directory.
func (r *Repo) Path() string {
	return r.path
}

// CommitAll stages every change in the worktree and commits it.
// Returns ErrNoChanges when there is nothing to commit.
func (r *Repo) CommitAll(message, authorName, authorEmail string) (string, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("gitrepo: worktree: %w", err)
	}

	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("gitrepo: stage changes: %w", err)
	}

	status, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("gitrepo: status: %w", err)
	}
	if status.IsClean() {
		return "", ErrNoChanges
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  authorName,
			Email: authorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("gitrepo: commit: %w", err)
	}
	return hash.String(), nil
}

// Push pushes branch to the named remote. An already-up-to-date remote
// is not an error.
func (r *Repo) Push(ctx context.Context, remote, branch string) error {
	refSpec := config.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch))
	err := r.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: remote,
		RefSpecs:   []config.RefSpec{refSpec},
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("gitrepo: push %s %s: %w", remote, branch, err)
	}
	return nil
}

// Remotes returns remote names mapped to their first URL.
func (r *Repo) Remotes() (map[string]string, error) {
	remotes, err := r.repo.Remotes()
	if err != nil {
		return nil, fmt.Errorf("gitrepo: list remotes: %w", err)
	}
	out := make(map[string]string, len(remotes))
	for _, remote := range remotes {
		cfg := remote.Config()
		if len(cfg.URLs) > 0 {
			out[cfg.Name] = cfg.URLs[0]
		}
	}
	return out, nil
}

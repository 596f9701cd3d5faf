// Package vcs records passing features as commits.
package vcs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/harness/internal/features"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Committer commits the work for a feature.
type Committer interface {
	Commit(ctx context.Context, f features.Feature) (features.CommitRef, error)
}

// Message returns the commit message for f.
func Message(f features.Feature) string {
	return fmt.Sprintf("feat(%s): %s (#%d)", f.Category, f.Name, f.ID)
}

// GitCommitter stages every change in a worktree and commits it.
type GitCommitter struct {
	dir   string
	name  string
	email string
	init  bool
	now   func() time.Time
}

// Option configures a GitCommitter.
type Option func(*GitCommitter)

// WithInit creates the repository on first commit if dir is not one.
func WithInit() Option {
	return func(g *GitCommitter) {
		g.init = true
	}
}

// WithClock overrides time.Now for commit timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *GitCommitter) {
		g.now = now
	}
}

// NewGitCommitter commits in dir as the given author.
func NewGitCommitter(dir, name, email string, opts ...Option) *GitCommitter {
	g := &GitCommitter{dir: dir, name: name, email: email, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Commit implements Committer. A feature that changed no files still gets
// an empty commit so every passing feature has a reference.
func (g *GitCommitter) Commit(ctx context.Context, f features.Feature) (features.CommitRef, error) {
	if err := ctx.Err(); err != nil {
		return features.CommitRef{}, err
	}
	repo, err := g.open()
	if err != nil {
		return features.CommitRef{}, err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return features.CommitRef{}, fmt.Errorf("opening worktree: %w", err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return features.CommitRef{}, fmt.Errorf("staging changes: %w", err)
	}

	when := g.now()
	msg := Message(f)
	hash, err := wt.Commit(msg, &git.CommitOptions{
		Author:            &object.Signature{Name: g.name, Email: g.email, When: when},
		AllowEmptyCommits: true,
	})
	if err != nil {
		return features.CommitRef{}, fmt.Errorf("committing feature %d: %w", f.ID, err)
	}
	return features.CommitRef{SHA: hash.String(), Message: msg, Timestamp: when}, nil
}

func (g *GitCommitter) open() (*git.Repository, error) {
	repo, err := git.PlainOpen(g.dir)
	if errors.Is(err, git.ErrRepositoryNotExists) && g.init {
		repo, err = git.PlainInit(g.dir, false)
	}
	if err != nil {
		return nil, fmt.Errorf("opening repository %s: %w", g.dir, err)
	}
	return repo, nil
}

// Branch returns the checked-out branch of the repository at dir, or ""
// when dir is not a repository or HEAD is detached.
func Branch(dir string) string {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return ""
	}
	head, err := repo.Head()
	if err != nil || !head.Name().IsBranch() {
		return ""
	}
	return head.Name().Short()
}

// NopCommitter records nothing.
type NopCommitter struct{}

// Commit implements Committer.
func (NopCommitter) Commit(context.Context, features.Feature) (features.CommitRef, error) {
	return features.CommitRef{}, nil
}

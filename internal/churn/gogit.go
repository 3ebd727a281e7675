package churn

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// GoGit reads history in-process with go-git, for hosts without a git
// binary.
type GoGit struct {
	repoRoot string
}

// NewGoGit creates a go-git history source.
func NewGoGit(repoRoot string) *GoGit {
	return &GoGit{repoRoot: repoRoot}
}

// Name returns "go-git".
func (g *GoGit) Name() string { return "go-git" }

// Log walks commits reachable from HEAD. Like the git source, paths are
// relative to repoRoot and changes outside it are left out.
func (g *GoGit) Log(ctx context.Context, since time.Time, path string) ([]Commit, error) {
	repo, err := git.PlainOpenWithOptions(g.repoRoot, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, err
	}
	prefix, err := subdirPrefix(repo, g.repoRoot)
	if err != nil {
		return nil, err
	}

	opts := &git.LogOptions{Order: git.LogOrderCommitterTime}
	if !since.IsZero() {
		opts.Since = &since
	}
	if path != "" {
		p := prefix + path
		opts.FileName = &p
	}

	iter, err := repo.Log(opts)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var commits []Commit
	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.NumParents() > 1 {
			return nil
		}
		commit := Commit{Hash: c.Hash.String(), Author: c.Author.Name, When: c.Author.When}
		if path != "" {
			commit.Files = []string{path}
		} else {
			stats, err := c.Stats()
			if err != nil {
				return nil
			}
			for _, s := range stats {
				if rel, ok := strings.CutPrefix(s.Name, prefix); ok {
					commit.Files = append(commit.Files, rel)
				}
			}
		}
		commits = append(commits, commit)
		return nil
	})
	if err != nil && !errors.Is(err, storer.ErrStop) {
		return nil, err
	}
	return commits, nil
}

// subdirPrefix is the slash-terminated path of dir inside the repository's
// worktree, or "" when dir is the worktree root.
func subdirPrefix(repo *git.Repository, dir string) (string, error) {
	wt, err := repo.Worktree()
	if errors.Is(err, git.ErrIsBareRepository) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	top, err := filepath.EvalSymlinks(wt.Filesystem.Root())
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if abs, err = filepath.EvalSymlinks(abs); err != nil {
		return "", err
	}
	rel, err := filepath.Rel(top, abs)
	if err != nil || rel == "." {
		return "", err
	}
	return filepath.ToSlash(rel) + "/", nil
}

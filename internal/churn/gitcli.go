package churn

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"gatekeeper/internal/errors"
)

// Each commit header is commitMarker followed by hash, author and date
// separated by fieldSep. Neither byte can occur in an author name.
const (
	commitMarker = "\x1ecommit\x1f"
	fieldSep     = "\x1f"
	logFormat    = "%x1ecommit%x1f%H%x1f%an%x1f%aI"
)

// GitCLI reads history by running the git binary.
type GitCLI struct {
	repoRoot string
}

// NewGitCLI creates a git-binary history source.
func NewGitCLI(repoRoot string) *GitCLI {
	return &GitCLI{repoRoot: repoRoot}
}

// Name returns "git".
func (g *GitCLI) Name() string { return "git" }

// Log runs git log --name-only and parses its output. Paths are relative
// to repoRoot, which may be a subdirectory of the repository; changes
// outside it are left out.
func (g *GitCLI) Log(ctx context.Context, since time.Time, path string) ([]Commit, error) {
	args := []string{"log", "--no-merges", "--name-only", "--relative", "--format=" + logFormat}
	if !since.IsZero() {
		args = append(args, "--since="+since.Format(time.RFC3339))
	}
	if path != "" {
		args = append(args, "--follow", "--", path)
	}

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.repoRoot

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.New(errors.Timeout, "git log timed out", err)
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("git log failed: %s: %w", strings.TrimSpace(string(exitErr.Stderr)), err)
		}
		return nil, fmt.Errorf("git log failed: %w", err)
	}
	return parseLog(string(out)), nil
}

// parseLog reads the commit-marker/name-only format produced by Log.
func parseLog(out string) []Commit {
	var commits []Commit
	var cur *Commit

	scanner := bufio.NewScanner(strings.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, commitMarker) {
			parts := strings.SplitN(strings.TrimPrefix(line, commitMarker), fieldSep, 3)
			if len(parts) < 3 {
				cur = nil
				continue
			}
			when, _ := time.Parse(time.RFC3339, parts[2])
			commits = append(commits, Commit{Hash: parts[0], Author: parts[1], When: when})
			cur = &commits[len(commits)-1]
			continue
		}
		line = strings.TrimSpace(line)
		if line == "" || cur == nil {
			continue
		}
		cur.Files = append(cur.Files, line)
	}
	return commits
}

// Package scm is the boundary to source control: repository trees, pull
// request diffs, file contents, and verdict publishing.
package scm

import (
	"context"
	"strings"

	"gatekeeper/internal/pipeline"
)

// TreeEntry is one file in a repository tree.
type TreeEntry struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
	SHA  string `json:"sha,omitempty"`
}

// File change statuses.
const (
	StatusAdded    = "added"
	StatusModified = "modified"
	StatusRemoved  = "removed"
	StatusRenamed  = "renamed"
)

// ChangedFile is one file touched by a pull request. Patch is a unified
// diff fragment.
type ChangedFile struct {
	Path         string `json:"path"`
	PreviousPath string `json:"previousPath,omitempty"`
	Status       string `json:"status"`
	Additions    int    `json:"additions"`
	Deletions    int    `json:"deletions"`
	Patch        string `json:"patch,omitempty"`
}

// PullRequest is the metadata of a pull request.
type PullRequest struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	HeadSHA string `json:"headSha"`
	HeadRef string `json:"headRef"`
	BaseRef string `json:"baseRef"`
}

// Provider reads from and writes to one repository. Read failures caused
// by rate limiting or transient outages are RECOVERABLE_PROVIDER_ERRORs.
type Provider interface {
	Name() string
	ListRepositoryTree(ctx context.Context, ref string) ([]TreeEntry, error)
	GetPullRequest(ctx context.Context, number int) (*PullRequest, error)
	ListChangedFiles(ctx context.Context, prNumber int) ([]ChangedFile, error)
	GetFileContent(ctx context.Context, path, ref string) ([]byte, error)
	PostCommitStatus(ctx context.Context, sha string, verdict pipeline.Status, description string) error
	PostReviewComment(ctx context.Context, prNumber int, body, event string) error
}

// AddedLines extracts the added lines of a unified diff, without the
// leading '+'.
func AddedLines(patch string) string {
	var b strings.Builder
	for _, line := range strings.Split(patch, "\n") {
		if strings.HasPrefix(line, "+++") || !strings.HasPrefix(line, "+") {
			continue
		}
		b.WriteString(line[1:])
		b.WriteByte('\n')
	}
	return b.String()
}

// CommitState maps a verdict onto a commit status state.
func CommitState(s pipeline.Status) string {
	switch s {
	case pipeline.StatusBlock:
		return "failure"
	case pipeline.StatusPass, pipeline.StatusWarn, pipeline.StatusOverridden:
		return "success"
	default:
		return "pending"
	}
}

// SplitRepoID splits "owner/name".
func SplitRepoID(repoID string) (owner, name string, ok bool) {
	owner, name, ok = strings.Cut(repoID, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", false
	}
	return owner, name, true
}

// LocalRoot returns the working copy behind p, if it has one.
func LocalRoot(p Provider) (string, bool) {
	switch v := p.(type) {
	case *LocalProvider:
		return v.Root(), true
	case *FallbackProvider:
		return LocalRoot(v.Secondary)
	}
	return "", false
}

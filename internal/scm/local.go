package scm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	fdiff "github.com/go-git/go-git/v5/plumbing/format/diff"
	"github.com/go-git/go-git/v5/plumbing/object"

	"gatekeeper/internal/errors"
	"gatekeeper/internal/pipeline"
	"gatekeeper/internal/slogutil"
)

// Pull request heads are looked up under these refs, in order.
var prRefFormats = []string{
	"refs/pull/%d/head",
	"refs/remotes/origin/pr/%d",
	"refs/heads/pr/%d",
	"refs/heads/pr-%d",
}

// Base revisions tried when a pull request names no base.
var defaultBases = []string{"refs/remotes/origin/HEAD", "refs/heads/main", "refs/heads/master", "HEAD"}

// LocalProvider serves a repository checked out on disk. Pull requests are
// read from fetched PR refs and compared against their merge base. Status
// and review writes are logged and dropped.
type LocalProvider struct {
	root   string
	logger *slog.Logger
}

// NewLocalProvider opens the repository at root or any parent of it.
func NewLocalProvider(root string, logger *slog.Logger) (*LocalProvider, error) {
	p := &LocalProvider{root: root, logger: slogutil.OrDiscard(logger)}
	if _, err := p.open(); err != nil {
		return nil, err
	}
	return p, nil
}

// Name returns "local".
func (p *LocalProvider) Name() string { return "local" }

// Root returns the repository path.
func (p *LocalProvider) Root() string { return p.root }

func (p *LocalProvider) open() (*git.Repository, error) {
	repo, err := git.PlainOpenWithOptions(p.root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, errors.NewConfigurationError("not a git repository: "+p.root, err)
	}
	return repo, nil
}

func (p *LocalProvider) commit(repo *git.Repository, rev string) (*object.Commit, error) {
	if rev == "" {
		rev = "HEAD"
	}
	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, errors.New(errors.NotFound, "unknown revision "+rev, err)
	}
	c, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return c, nil
}

func (p *LocalProvider) ListRepositoryTree(ctx context.Context, ref string) ([]TreeEntry, error) {
	repo, err := p.open()
	if err != nil {
		return nil, err
	}
	c, err := p.commit(repo, ref)
	if err != nil {
		return nil, err
	}
	tree, err := c.Tree()
	if err != nil {
		return nil, err
	}
	var entries []TreeEntry
	err = tree.Files().ForEach(func(f *object.File) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		entries = append(entries, TreeEntry{Path: f.Name, Size: f.Size, SHA: f.Hash.String()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (p *LocalProvider) headRef(repo *git.Repository, number int) (plumbing.ReferenceName, error) {
	for _, format := range prRefFormats {
		name := plumbing.ReferenceName(fmt.Sprintf(format, number))
		if _, err := repo.Reference(name, true); err == nil {
			return name, nil
		}
	}
	return "", errors.New(errors.NotFound, fmt.Sprintf("no ref for pull request %d", number), nil)
}

func (p *LocalProvider) baseRef(repo *git.Repository) (plumbing.ReferenceName, error) {
	for _, b := range defaultBases {
		name := plumbing.ReferenceName(b)
		if _, err := repo.Reference(name, true); err == nil {
			return name, nil
		}
	}
	return "", errors.New(errors.NotFound, "no base branch found", nil)
}

func (p *LocalProvider) GetPullRequest(ctx context.Context, number int) (*PullRequest, error) {
	repo, err := p.open()
	if err != nil {
		return nil, err
	}
	head, err := p.headRef(repo, number)
	if err != nil {
		return nil, err
	}
	c, err := p.commit(repo, string(head))
	if err != nil {
		return nil, err
	}
	base, _ := p.baseRef(repo)
	title, body, _ := strings.Cut(strings.TrimSpace(c.Message), "\n")
	return &PullRequest{
		Number:  number,
		Title:   title,
		Body:    strings.TrimSpace(body),
		HeadSHA: c.Hash.String(),
		HeadRef: string(head),
		BaseRef: string(base),
	}, nil
}

// ListChangedFiles diffs the pull request head against its merge base with
// the default branch.
func (p *LocalProvider) ListChangedFiles(ctx context.Context, prNumber int) ([]ChangedFile, error) {
	repo, err := p.open()
	if err != nil {
		return nil, err
	}
	headName, err := p.headRef(repo, prNumber)
	if err != nil {
		return nil, err
	}
	baseName, err := p.baseRef(repo)
	if err != nil {
		return nil, err
	}
	return p.diff(ctx, repo, string(baseName), string(headName))
}

// Diff lists the files changed between two revisions, compared from their
// merge base.
func (p *LocalProvider) Diff(ctx context.Context, baseRev, headRev string) ([]ChangedFile, error) {
	repo, err := p.open()
	if err != nil {
		return nil, err
	}
	return p.diff(ctx, repo, baseRev, headRev)
}

func (p *LocalProvider) diff(ctx context.Context, repo *git.Repository, baseRev, headRev string) ([]ChangedFile, error) {
	head, err := p.commit(repo, headRev)
	if err != nil {
		return nil, err
	}
	base, err := p.commit(repo, baseRev)
	if err != nil {
		return nil, err
	}
	if bases, err := base.MergeBase(head); err == nil && len(bases) > 0 {
		base = bases[0]
	}

	patch, err := base.PatchContext(ctx, head)
	if err != nil {
		return nil, fmt.Errorf("diff %s..%s: %w", baseRev, headRev, err)
	}

	var out []ChangedFile
	for _, fp := range patch.FilePatches() {
		from, to := fp.Files()
		cf := ChangedFile{Status: StatusModified}
		switch {
		case from == nil && to != nil:
			cf.Status, cf.Path = StatusAdded, to.Path()
		case to == nil && from != nil:
			cf.Status, cf.Path = StatusRemoved, from.Path()
		case from != nil && to != nil:
			cf.Path = to.Path()
			if from.Path() != to.Path() {
				cf.Status, cf.PreviousPath = StatusRenamed, from.Path()
			}
		default:
			continue
		}
		if !fp.IsBinary() {
			cf.Patch, cf.Additions, cf.Deletions = renderChunks(fp.Chunks())
		}
		out = append(out, cf)
	}
	return out, nil
}

// renderChunks writes the chunks as unified diff body lines.
func renderChunks(chunks []fdiff.Chunk) (string, int, int) {
	var b strings.Builder
	adds, dels := 0, 0
	for _, ch := range chunks {
		prefix := " "
		switch ch.Type() {
		case fdiff.Add:
			prefix = "+"
		case fdiff.Delete:
			prefix = "-"
		}
		lines := strings.Split(strings.TrimSuffix(ch.Content(), "\n"), "\n")
		for _, l := range lines {
			switch prefix {
			case "+":
				adds++
			case "-":
				dels++
			}
			b.WriteString(prefix)
			b.WriteString(l)
			b.WriteByte('\n')
		}
	}
	return b.String(), adds, dels
}

func (p *LocalProvider) GetFileContent(ctx context.Context, path, ref string) ([]byte, error) {
	repo, err := p.open()
	if err != nil {
		return nil, err
	}
	c, err := p.commit(repo, ref)
	if err != nil {
		return nil, err
	}
	f, err := c.File(path)
	if err != nil {
		return nil, errors.New(errors.NotFound, fmt.Sprintf("%s not found at %s", path, ref), err)
	}
	r, err := f.Reader()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (p *LocalProvider) PostCommitStatus(ctx context.Context, sha string, verdict pipeline.Status, description string) error {
	p.logger.Info("commit status",
		"sha", sha,
		"state", CommitState(verdict),
		"description", description,
	)
	return nil
}

func (p *LocalProvider) PostReviewComment(ctx context.Context, prNumber int, body, event string) error {
	p.logger.Info("review",
		"pr", prNumber,
		"event", event,
		"bytes", len(body),
	)
	return nil
}

package scm

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/google/go-github/v62/github"

	"gatekeeper/internal/errors"
	"gatekeeper/internal/pipeline"
	"gatekeeper/internal/slogutil"
)

// StatusContext names the commit status posted by gatekeeper.
const StatusContext = "gatekeeper"

const perPage = 100

// GitHubProvider talks to the GitHub REST API for one repository.
type GitHubProvider struct {
	client *github.Client
	owner  string
	repo   string
	logger *slog.Logger
}

// NewGitHubProvider builds a provider for repoID ("owner/name"). baseURL
// selects a GitHub Enterprise API endpoint.
func NewGitHubProvider(repoID, token, baseURL string, logger *slog.Logger) (*GitHubProvider, error) {
	owner, name, ok := SplitRepoID(repoID)
	if !ok {
		return nil, errors.NewValidationError(fmt.Sprintf("repository id %q is not owner/name", repoID), nil)
	}
	client := github.NewClient(nil)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	if baseURL != "" {
		var err error
		if client, err = client.WithEnterpriseURLs(baseURL, baseURL); err != nil {
			return nil, errors.NewConfigurationError("invalid provider base URL", err)
		}
	}
	return NewGitHubProviderWithClient(client, owner, name, logger), nil
}

// NewGitHubProviderWithClient wraps an existing client.
func NewGitHubProviderWithClient(client *github.Client, owner, repo string, logger *slog.Logger) *GitHubProvider {
	return &GitHubProvider{client: client, owner: owner, repo: repo, logger: slogutil.OrDiscard(logger)}
}

// Name returns "github".
func (p *GitHubProvider) Name() string { return "github" }

func (p *GitHubProvider) ListRepositoryTree(ctx context.Context, ref string) ([]TreeEntry, error) {
	if ref == "" {
		ref = "HEAD"
	}
	tree, _, err := p.client.Git.GetTree(ctx, p.owner, p.repo, ref, true)
	if err != nil {
		return nil, classify("list tree", err)
	}
	if tree.GetTruncated() {
		p.logger.Warn("repository tree truncated by the API", "repo", p.owner+"/"+p.repo, "ref", ref)
	}
	entries := make([]TreeEntry, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		if e.GetType() != "blob" {
			continue
		}
		entries = append(entries, TreeEntry{Path: e.GetPath(), Size: int64(e.GetSize()), SHA: e.GetSHA()})
	}
	return entries, nil
}

func (p *GitHubProvider) GetPullRequest(ctx context.Context, number int) (*PullRequest, error) {
	pr, _, err := p.client.PullRequests.Get(ctx, p.owner, p.repo, number)
	if err != nil {
		return nil, classify(fmt.Sprintf("get pull request %d", number), err)
	}
	return &PullRequest{
		Number:  pr.GetNumber(),
		Title:   pr.GetTitle(),
		Body:    pr.GetBody(),
		HeadSHA: pr.GetHead().GetSHA(),
		HeadRef: pr.GetHead().GetRef(),
		BaseRef: pr.GetBase().GetRef(),
	}, nil
}

func (p *GitHubProvider) ListChangedFiles(ctx context.Context, prNumber int) ([]ChangedFile, error) {
	var out []ChangedFile
	opts := &github.ListOptions{PerPage: perPage}
	for {
		files, resp, err := p.client.PullRequests.ListFiles(ctx, p.owner, p.repo, prNumber, opts)
		if err != nil {
			return nil, classify(fmt.Sprintf("list files of pull request %d", prNumber), err)
		}
		for _, f := range files {
			out = append(out, ChangedFile{
				Path:         f.GetFilename(),
				PreviousPath: f.GetPreviousFilename(),
				Status:       f.GetStatus(),
				Additions:    f.GetAdditions(),
				Deletions:    f.GetDeletions(),
				Patch:        f.GetPatch(),
			})
		}
		if resp == nil || resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

func (p *GitHubProvider) GetFileContent(ctx context.Context, path, ref string) ([]byte, error) {
	fc, _, _, err := p.client.Repositories.GetContents(ctx, p.owner, p.repo, path, &github.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		return nil, classify("get content of "+path, err)
	}
	if fc == nil {
		return nil, errors.NewValidationError(path+" is a directory", nil)
	}
	content, err := fc.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decode content of %s: %w", path, err)
	}
	if content == "" && fc.GetSize() > 0 {
		// Files over 1 MB come back without inline content.
		blob, _, err := p.client.Git.GetBlobRaw(ctx, p.owner, p.repo, fc.GetSHA())
		if err != nil {
			return nil, classify("get blob of "+path, err)
		}
		return blob, nil
	}
	return []byte(content), nil
}

func (p *GitHubProvider) PostCommitStatus(ctx context.Context, sha string, verdict pipeline.Status, description string) error {
	status := &github.RepoStatus{
		State:       github.String(CommitState(verdict)),
		Description: github.String(description),
		Context:     github.String(StatusContext),
	}
	if _, _, err := p.client.Repositories.CreateStatus(ctx, p.owner, p.repo, sha, status); err != nil {
		return classify("post commit status", err)
	}
	return nil
}

func (p *GitHubProvider) PostReviewComment(ctx context.Context, prNumber int, body, event string) error {
	review := &github.PullRequestReviewRequest{Body: github.String(body), Event: github.String(event)}
	if _, _, err := p.client.PullRequests.CreateReview(ctx, p.owner, p.repo, prNumber, review); err != nil {
		return classify("post review", err)
	}
	return nil
}

// classify maps API failures onto the error taxonomy. Rate limits,
// server errors and network failures are recoverable.
func classify(op string, err error) error {
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	var respErr *github.ErrorResponse
	var netErr net.Error

	switch {
	case errors.As(err, &rateErr), errors.As(err, &abuseErr):
		return errors.NewRecoverableProviderError(op+": rate limited", err)
	case errors.As(err, &respErr) && respErr.Response != nil:
		code := respErr.Response.StatusCode
		switch {
		case code == http.StatusForbidden, code == http.StatusTooManyRequests, code >= 500:
			return errors.NewRecoverableProviderError(fmt.Sprintf("%s: HTTP %d", op, code), err)
		case code == http.StatusNotFound:
			return errors.New(errors.NotFound, op+": not found", err)
		}
	case errors.As(err, &netErr):
		return errors.NewRecoverableProviderError(op+": network failure", err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

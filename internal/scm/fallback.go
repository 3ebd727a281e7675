package scm

import (
	"context"
	"log/slog"

	"gatekeeper/internal/errors"
	"gatekeeper/internal/pipeline"
	"gatekeeper/internal/slogutil"
)

// FallbackProvider serves reads from Primary and retries them on Secondary
// when Primary fails with a recoverable error. Writes only go to Primary.
type FallbackProvider struct {
	Primary   Provider
	Secondary Provider
	logger    *slog.Logger
}

// NewFallbackProvider chains two providers.
func NewFallbackProvider(primary, secondary Provider, logger *slog.Logger) *FallbackProvider {
	return &FallbackProvider{Primary: primary, Secondary: secondary, logger: slogutil.OrDiscard(logger)}
}

func (f *FallbackProvider) Name() string {
	return f.Primary.Name() + "+" + f.Secondary.Name()
}

func (f *FallbackProvider) fallback(op string, err error) bool {
	if !errors.HasCode(err, errors.RecoverableProvider) {
		return false
	}
	f.logger.Warn("provider read failed, using fallback",
		"op", op,
		"primary", f.Primary.Name(),
		"fallback", f.Secondary.Name(),
		"error", err.Error(),
	)
	return true
}

func (f *FallbackProvider) ListRepositoryTree(ctx context.Context, ref string) ([]TreeEntry, error) {
	out, err := f.Primary.ListRepositoryTree(ctx, ref)
	if err != nil && f.fallback("tree", err) {
		return f.Secondary.ListRepositoryTree(ctx, ref)
	}
	return out, err
}

func (f *FallbackProvider) GetPullRequest(ctx context.Context, number int) (*PullRequest, error) {
	out, err := f.Primary.GetPullRequest(ctx, number)
	if err != nil && f.fallback("pull request", err) {
		return f.Secondary.GetPullRequest(ctx, number)
	}
	return out, err
}

func (f *FallbackProvider) ListChangedFiles(ctx context.Context, prNumber int) ([]ChangedFile, error) {
	out, err := f.Primary.ListChangedFiles(ctx, prNumber)
	if err != nil && f.fallback("changed files", err) {
		return f.Secondary.ListChangedFiles(ctx, prNumber)
	}
	return out, err
}

func (f *FallbackProvider) GetFileContent(ctx context.Context, path, ref string) ([]byte, error) {
	out, err := f.Primary.GetFileContent(ctx, path, ref)
	if err != nil && f.fallback("content", err) {
		return f.Secondary.GetFileContent(ctx, path, ref)
	}
	return out, err
}

func (f *FallbackProvider) PostCommitStatus(ctx context.Context, sha string, verdict pipeline.Status, description string) error {
	return f.Primary.PostCommitStatus(ctx, sha, verdict, description)
}

func (f *FallbackProvider) PostReviewComment(ctx context.Context, prNumber int, body, event string) error {
	return f.Primary.PostReviewComment(ctx, prNumber, body, event)
}

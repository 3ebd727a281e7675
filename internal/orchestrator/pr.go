package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"gatekeeper/internal/complexity"
	"gatekeeper/internal/errors"
	"gatekeeper/internal/events"
	"gatekeeper/internal/pipeline"
	"gatekeeper/internal/scm"
	"gatekeeper/internal/store"
)

// PRRequest asks for the verdict of one pull request.
type PRRequest struct {
	RepoID   string
	PRNumber int
	// HeadSHA pins the analyzed revision; empty uses the current head.
	HeadSHA  string
	Title    string
	TicketID string
	// Ticket overrides the ticket derived from the pull request.
	Ticket *pipeline.Ticket
	JobID  string
}

var ticketKey = regexp.MustCompile(`\b[A-Z][A-Z0-9]+-\d+\b`)

// AnalyzePR runs the verdict pipeline over the changed files of a pull
// request, records the verdict, and reports it back to the provider.
// Re-running the same head revision replaces the record with an identical
// verdict; a manual override survives until the head moves.
func (o *Orchestrator) AnalyzePR(ctx context.Context, req PRRequest) (*store.PullRequestRecord, error) {
	if req.RepoID == "" {
		return nil, errors.NewValidationError("repoId is required", nil)
	}
	if req.PRNumber < 1 {
		return nil, errors.NewValidationError("prNumber must be positive", nil)
	}
	log := o.logger.With("repo", req.RepoID, "pr", req.PRNumber, "job", req.JobID)

	provider, err := o.providers(req.RepoID)
	if err != nil {
		o.recordPending(ctx, req, req.HeadSHA, req.Title, err)
		return nil, err
	}
	pr, err := provider.GetPullRequest(ctx, req.PRNumber)
	if err != nil {
		err = fmt.Errorf("get pull request: %w", err)
		o.recordPending(ctx, req, req.HeadSHA, req.Title, err)
		return nil, err
	}
	head := req.HeadSHA
	if head == "" {
		head = pr.HeadSHA
	}
	title := req.Title
	if title == "" {
		title = pr.Title
	}

	changed, err := provider.ListChangedFiles(ctx, req.PRNumber)
	if err != nil {
		err = fmt.Errorf("list changed files: %w", err)
		o.recordPending(ctx, req, head, title, err)
		return nil, err
	}
	files, err := o.loadChanged(ctx, provider, changed, head)
	if err != nil {
		o.recordPending(ctx, req, head, title, err)
		return nil, err
	}
	log.Info("pull request analysis started", "head", head, "files", len(files))

	in := &pipeline.Input{
		RepoID:   req.RepoID,
		PRNumber: req.PRNumber,
		HeadSHA:  head,
		Title:    title,
		Files:    files,
		Ticket:   linkTicket(req, title, pr.Body, changed),
	}
	res := o.pipeline.Run(ctx, in)

	rec := store.PullRequestFromResult(res, title)
	if prev, err := o.store.GetPullRequest(ctx, req.RepoID, req.PRNumber); err == nil &&
		prev.Status == pipeline.StatusOverridden && prev.HeadSHA == head {
		rec.Status = pipeline.StatusOverridden
		rec.OverrideReason = prev.OverrideReason
	}
	if err := o.store.UpsertPullRequest(ctx, rec); err != nil {
		return nil, fmt.Errorf("store pull request: %w", err)
	}

	o.report(ctx, provider, res, rec)

	if _, err := o.metrics.RecomputeAll(ctx, req.RepoID); err != nil {
		log.Warn("failed to recompute metrics", "error", err.Error())
	}
	o.events.Publish(req.RepoID, events.TypePRCompleted, events.PRCompleted{
		PRNumber:     req.PRNumber,
		HeadSHA:      head,
		Status:       string(rec.Status),
		HealthScore:  rec.HealthScore.Current,
		RiskScore:    rec.RiskScore,
		BlockReasons: rec.BlockReasons,
	})
	log.Info("pull request analysis completed",
		"status", string(rec.Status),
		"health", rec.HealthScore.Current,
		"risk", rec.RiskScore,
		"blocks", len(rec.BlockReasons),
	)
	return rec, nil
}

// recordPending replaces the stored verdict with a PENDING record for head
// carrying the reason the analysis stopped, so a verdict for an older head
// is never mistaken for the current one. An override on the same head is
// left in place.
func (o *Orchestrator) recordPending(ctx context.Context, req PRRequest, head, title string, cause error) {
	ctx = context.WithoutCancel(ctx)
	prev, err := o.store.GetPullRequest(ctx, req.RepoID, req.PRNumber)
	if err == nil {
		if prev.Status == pipeline.StatusOverridden && head != "" && prev.HeadSHA == head {
			return
		}
		if title == "" {
			title = prev.Title
		}
	}
	rec := &store.PullRequestRecord{
		RepoID:      req.RepoID,
		PRNumber:    req.PRNumber,
		HeadSHA:     head,
		Title:       title,
		Status:      pipeline.StatusPending,
		HealthScore: pipeline.HealthScore{Current: 100},
		Error:       cause.Error(),
		UpdatedAt:   o.now().UTC(),
	}
	if err := o.store.UpsertPullRequest(ctx, rec); err != nil {
		o.logger.Error("failed to record pending pull request",
			"repo", req.RepoID, "pr", req.PRNumber, "error", err.Error())
		return
	}
	o.logger.Warn("pull request analysis incomplete",
		"repo", req.RepoID, "pr", req.PRNumber, "head", head, "error", cause.Error())
}

// loadChanged fetches the head content of each changed file. Files that
// disappeared at head are skipped; removed files carry no content.
func (o *Orchestrator) loadChanged(ctx context.Context, provider scm.Provider, changed []scm.ChangedFile, head string) ([]pipeline.ChangedFile, error) {
	files := make([]pipeline.ChangedFile, 0, len(changed))
	for _, c := range changed {
		f := pipeline.ChangedFile{
			Path:     c.Path,
			Language: complexity.LanguageFromPath(c.Path),
			Patch:    scm.AddedLines(c.Patch),
			Status:   c.Status,
		}
		if c.Status != scm.StatusRemoved {
			content, err := provider.GetFileContent(ctx, c.Path, head)
			switch {
			case errors.HasCode(err, errors.NotFound):
				o.logger.Debug("changed file missing at head", "path", c.Path, "head", head)
				continue
			case err != nil:
				return nil, fmt.Errorf("get %s: %w", c.Path, err)
			}
			if limit := o.cfg.Analysis.MaxFileBytes; limit > 0 && int64(len(content)) > limit {
				o.logger.Debug("changed file over size limit", "path", c.Path, "bytes", len(content))
				continue
			}
			f.Content = content
			f.SizeLOC = complexity.CountLOC(string(content))
		}
		files = append(files, f)
	}
	return files, nil
}

// linkTicket derives the ticket of a pull request from an explicit ticket,
// the requested ticket ID, or a key such as ABC-123 in the title.
func linkTicket(req PRRequest, title, body string, changed []scm.ChangedFile) *pipeline.Ticket {
	if req.Ticket != nil {
		return req.Ticket
	}
	id := req.TicketID
	if id == "" {
		id = ticketKey.FindString(title)
	}
	if id == "" {
		return nil
	}
	t := &pipeline.Ticket{
		ID:          id,
		Title:       strings.TrimSpace(strings.Replace(title, id, "", 1)),
		Description: body,
	}
	for _, c := range changed {
		if strings.Contains(body, c.Path) {
			t.Paths = append(t.Paths, c.Path)
		}
	}
	return t
}

// report posts the verdict back to the provider. Failures are logged and
// never fail the analysis.
func (o *Orchestrator) report(ctx context.Context, provider scm.Provider, res *pipeline.Result, rec *store.PullRequestRecord) {
	log := o.logger.With("repo", rec.RepoID, "pr", rec.PRNumber, "provider", provider.Name())
	if o.cfg.Pipeline.PostStatus && rec.HeadSHA != "" {
		desc := pipeline.StatusDescription(res)
		if rec.Status == pipeline.StatusOverridden {
			desc = "Overridden: " + rec.OverrideReason
		}
		if err := provider.PostCommitStatus(ctx, rec.HeadSHA, rec.Status, desc); err != nil {
			log.Warn("failed to post commit status", "error", err.Error())
		}
	}
	if o.cfg.Pipeline.PostReview && rec.Status != pipeline.StatusOverridden {
		if err := provider.PostReviewComment(ctx, rec.PRNumber, pipeline.ReviewBody(res), pipeline.ReviewEvent(res.Status)); err != nil {
			log.Warn("failed to post review comment", "error", err.Error())
		}
	}
}

// Override marks a pull request as OVERRIDDEN with a reason and reports
// the new state on its head commit.
func (o *Orchestrator) Override(ctx context.Context, repoID string, number int, reason string) (*store.PullRequestRecord, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, errors.NewValidationError("override reason is required", nil)
	}
	rec, err := o.store.GetPullRequest(ctx, repoID, number)
	if err != nil {
		return nil, err
	}
	if !rec.Status.IsTerminal() {
		return nil, errors.NewValidationError(fmt.Sprintf("pull request %d has no verdict yet", number), nil).
			WithDetails(map[string]any{"status": string(rec.Status)})
	}
	rec.Status = pipeline.StatusOverridden
	rec.OverrideReason = reason
	rec.UpdatedAt = o.now().UTC()
	if err := o.store.UpsertPullRequest(ctx, rec); err != nil {
		return nil, fmt.Errorf("store pull request: %w", err)
	}

	if o.cfg.Pipeline.PostStatus && rec.HeadSHA != "" {
		if provider, err := o.providers(repoID); err == nil {
			if err := provider.PostCommitStatus(ctx, rec.HeadSHA, rec.Status, "Overridden: "+reason); err != nil {
				o.logger.Warn("failed to post commit status", "repo", repoID, "pr", number, "error", err.Error())
			}
		}
	}
	if _, err := o.metrics.RecomputeAll(ctx, repoID); err != nil {
		o.logger.Warn("failed to recompute metrics", "repo", repoID, "error", err.Error())
	}
	o.events.Publish(repoID, events.TypePRCompleted, events.PRCompleted{
		PRNumber:     number,
		HeadSHA:      rec.HeadSHA,
		Status:       string(rec.Status),
		HealthScore:  rec.HealthScore.Current,
		RiskScore:    rec.RiskScore,
		BlockReasons: rec.BlockReasons,
	})
	o.logger.Info("pull request overridden", "repo", repoID, "pr", number, "reason", reason)
	return rec, nil
}

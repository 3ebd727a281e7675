package webhooks

import (
	"fmt"
	"strings"

	"github.com/google/go-github/v62/github"

	"gatekeeper/internal/errors"
	"gatekeeper/internal/jobs"
)

// Parse maps a verified delivery onto a Command. Unknown event types and
// uninteresting actions yield a Command with no job; malformed payloads
// yield a ValidationError.
func Parse(event string, body []byte) (*Command, error) {
	switch event {
	case EventPing, EventPullRequest, EventPush:
	case "":
		return nil, errors.NewValidationError("missing "+EventHeader+" header", nil)
	default:
		return &Command{Event: event, Reason: "event type is not handled"}, nil
	}

	parsed, err := github.ParseWebHook(event, body)
	if err != nil {
		return nil, errors.NewValidationError("malformed "+event+" payload", err)
	}

	switch e := parsed.(type) {
	case *github.PingEvent:
		return &Command{Event: event, Reason: "pong"}, nil
	case *github.PullRequestEvent:
		return parsePullRequest(e)
	case *github.PushEvent:
		return parsePush(e)
	default:
		return nil, errors.NewValidationError(fmt.Sprintf("unexpected payload type %T", parsed), nil)
	}
}

func parsePullRequest(e *github.PullRequestEvent) (*Command, error) {
	repoID := e.GetRepo().GetFullName()
	pr := e.GetPullRequest()
	number := e.GetNumber()
	if number == 0 {
		number = pr.GetNumber()
	}
	if repoID == "" || number == 0 {
		return nil, errors.NewValidationError("pull_request payload lacks a repository or number", nil)
	}
	cmd := &Command{Event: EventPullRequest, RepoID: repoID}
	if !pullRequestActions[e.GetAction()] {
		cmd.Reason = fmt.Sprintf("pull_request action %q is not analyzed", e.GetAction())
		return cmd, nil
	}
	payload := jobs.PRPayload{
		RepoID:   repoID,
		PRNumber: number,
		HeadSHA:  pr.GetHead().GetSHA(),
		Title:    pr.GetTitle(),
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	cmd.Job = jobs.JobPRAnalysis
	cmd.Payload = payload
	return cmd, nil
}

func parsePush(e *github.PushEvent) (*Command, error) {
	repo := e.GetRepo()
	repoID := repo.GetFullName()
	if repoID == "" {
		return nil, errors.NewValidationError("push payload lacks a repository", nil)
	}
	cmd := &Command{Event: EventPush, RepoID: repoID}
	branch, ok := strings.CutPrefix(e.GetRef(), "refs/heads/")
	switch {
	case !ok:
		cmd.Reason = "push is not to a branch"
	case e.GetDeleted():
		cmd.Reason = "branch deleted"
	case repo.GetDefaultBranch() != "" && branch != repo.GetDefaultBranch():
		cmd.Reason = fmt.Sprintf("push to %s, not the default branch %s", branch, repo.GetDefaultBranch())
	}
	if cmd.Reason != "" {
		return cmd, nil
	}
	cmd.Job = jobs.JobFullScan
	cmd.Payload = jobs.ScanPayload{RepoID: repoID, Branch: branch}
	return cmd, nil
}

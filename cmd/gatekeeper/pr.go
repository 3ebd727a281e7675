package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"gatekeeper/internal/errors"
	"gatekeeper/internal/jobs"
	"gatekeeper/internal/pipeline"
	"gatekeeper/internal/store"
)

var (
	prRepo     string
	prHead     string
	prTitle    string
	prTicket   string
	prWait     bool
	prReason   string
	prFindings bool
)

var prCmd = &cobra.Command{
	Use:   "pr",
	Short: "Analyze pull requests and manage their verdicts",
}

var prAnalyzeCmd = &cobra.Command{
	Use:   "analyze <number>",
	Short: "Queue the verdict pipeline for a pull request",
	Long: `Queue a pr-analysis job. With --wait the job is processed by this
process and the verdict is printed once it finishes.`,
	Args: cobra.ExactArgs(1),
	RunE: runPRAnalyze,
}

var prShowCmd = &cobra.Command{
	Use:   "show <number>",
	Short: "Show the recorded verdict of a pull request",
	Args:  cobra.ExactArgs(1),
	RunE:  runPRShow,
}

var prOverrideCmd = &cobra.Command{
	Use:   "override <number>",
	Short: "Mark a pull request verdict as OVERRIDDEN",
	Args:  cobra.ExactArgs(1),
	RunE:  runPROverride,
}

func init() {
	prCmd.PersistentFlags().StringVar(&prRepo, "repo", "", "Repository ID owner/name (required)")
	_ = prCmd.MarkPersistentFlagRequired("repo")

	prAnalyzeCmd.Flags().StringVar(&prHead, "head", "", "Head commit SHA (default: the provider's current head)")
	prAnalyzeCmd.Flags().StringVar(&prTitle, "title", "", "Title override")
	prAnalyzeCmd.Flags().StringVar(&prTicket, "ticket", "", "Linked ticket ID")
	prAnalyzeCmd.Flags().BoolVar(&prWait, "wait", false, "Process the job here and print the verdict")

	prShowCmd.Flags().BoolVar(&prFindings, "findings", false, "List every finding")

	prOverrideCmd.Flags().StringVar(&prReason, "reason", "", "Why the verdict is overridden (required)")
	_ = prOverrideCmd.MarkFlagRequired("reason")

	prCmd.AddCommand(prAnalyzeCmd, prShowCmd, prOverrideCmd)
	rootCmd.AddCommand(prCmd)
}

func parsePRNumber(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, errors.NewValidationError("pull request number must be a positive integer", err)
	}
	return n, nil
}

func runPRAnalyze(cmd *cobra.Command, args []string) error {
	f, err := format()
	if err != nil {
		return err
	}
	number, err := parsePRNumber(args[0])
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, appOptions{queues: true})
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	q := a.queues.Default()
	if prWait {
		a.orch.RegisterHandlers(q)
	}
	job, err := q.Enqueue(ctx, jobs.JobPRAnalysis, jobs.PRPayload{
		RepoID:   prRepo,
		PRNumber: number,
		HeadSHA:  prHead,
		Title:    prTitle,
		TicketID: prTicket,
	})
	if job == nil {
		return err
	}
	if !prWait {
		if f == FormatJSON {
			return writeJSON(os.Stdout, job.ToSummary())
		}
		fmt.Printf("Queued %s job %s\n", job.Name, job.ID)
		return nil
	}

	job, err = waitForJob(ctx, q, job.ID)
	if err != nil {
		return err
	}
	if job.Status != jobs.JobCompleted {
		return fmt.Errorf("job %s %s: %s", job.ID, job.Status, job.Error)
	}
	rec, err := a.store.GetPullRequest(ctx, prRepo, number)
	if err != nil {
		return err
	}
	if f == FormatJSON {
		return writeJSON(os.Stdout, rec)
	}
	return printPullRequest(os.Stdout, rec, prFindings)
}

func runPRShow(cmd *cobra.Command, args []string) error {
	f, err := format()
	if err != nil {
		return err
	}
	number, err := parsePRNumber(args[0])
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	rec, err := a.store.GetPullRequest(ctx, prRepo, number)
	if err != nil {
		return err
	}
	if f == FormatJSON {
		return writeJSON(os.Stdout, rec)
	}
	return printPullRequest(os.Stdout, rec, prFindings)
}

func runPROverride(cmd *cobra.Command, args []string) error {
	f, err := format()
	if err != nil {
		return err
	}
	number, err := parsePRNumber(args[0])
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	rec, err := a.orch.Override(ctx, prRepo, number, prReason)
	if err != nil {
		return err
	}
	if f == FormatJSON {
		return writeJSON(os.Stdout, rec)
	}
	return printPullRequest(os.Stdout, rec, false)
}

func printPullRequest(w io.Writer, rec *store.PullRequestRecord, findings bool) error {
	fmt.Fprintf(w, "%s #%d %s\n", rec.RepoID, rec.PRNumber, rec.Title)
	fmt.Fprintf(w, "  verdict  %s\n", verdictString(rec.Status))
	if rec.Error != "" {
		fmt.Fprintf(w, "  error    %s\n", rec.Error)
	}
	if rec.OverrideReason != "" {
		fmt.Fprintf(w, "  override %s\n", rec.OverrideReason)
	}
	fmt.Fprintf(w, "  head     %s\n", rec.HeadSHA)
	fmt.Fprintf(w, "  risk     %.2f\n", rec.RiskScore)
	if rec.HealthScore.HasBaseline {
		fmt.Fprintf(w, "  health   %.2f (baseline %.2f, delta %+.2f)\n",
			rec.HealthScore.Current, rec.HealthScore.Baseline, rec.HealthScore.Delta)
	} else {
		fmt.Fprintf(w, "  health   %.2f (no baseline)\n", rec.HealthScore.Current)
	}
	for _, r := range rec.BlockReasons {
		fmt.Fprintf(w, "  %s %s\n", color.RedString("block:"), r)
	}
	for _, r := range rec.WarnReasons {
		fmt.Fprintf(w, "  %s %s\n", color.YellowString("warn: "), r)
	}

	fmt.Fprintln(w)
	rows := make([][]string, 0, len(rec.AnalysisResults))
	for _, lr := range rec.AnalysisResults {
		rows = append(rows, []string{lr.Name, string(lr.Status), fmt.Sprintf("%.1f", lr.Score), lr.Summary})
	}
	if err := renderTable(w, []string{"Layer", "Status", "Score", "Summary"}, rows); err != nil {
		return err
	}

	if !findings || len(rec.Findings) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	width := pathWidth(5)
	rows = rows[:0]
	for _, fd := range rec.Findings {
		loc := fd.Path
		if fd.Line > 0 {
			loc = fmt.Sprintf("%s:%d", fd.Path, fd.Line)
		}
		rows = append(rows, []string{
			severityString(fd.Severity),
			fd.Layer,
			fd.Rule,
			truncatePath(loc, width),
			fd.Message,
		})
	}
	return renderTable(w, []string{"Severity", "Layer", "Rule", "Location", "Message"}, rows)
}

func severityString(s pipeline.Severity) string {
	switch s {
	case pipeline.SeverityCritical, pipeline.SeverityHigh:
		return color.RedString(string(s))
	case pipeline.SeverityMedium:
		return color.YellowString(string(s))
	default:
		return string(s)
	}
}

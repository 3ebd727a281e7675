package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"gatekeeper/internal/jobs"
)

var (
	jobsLimit  int
	jobsStatus string
	jobsName   string
	jobsQueue  string
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage analysis jobs",
	Long: `List, check status, and cancel queued analysis jobs.

Examples:
  gatekeeper jobs list
  gatekeeper jobs list --status=failed --name=pr-analysis
  gatekeeper jobs status <job-id>
  gatekeeper jobs cancel <job-id>
  gatekeeper jobs stats`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent jobs",
	RunE:  runJobsList,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Get status of a specific job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a queued job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsCancel,
}

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job counts by state",
	RunE:  runJobsStats,
}

func init() {
	jobsCmd.PersistentFlags().StringVar(&jobsQueue, "queue", jobs.DefaultQueue, "Queue name")
	jobsListCmd.Flags().IntVar(&jobsLimit, "limit", 20, "Maximum number of jobs to list")
	jobsListCmd.Flags().StringVar(&jobsStatus, "status", "", "Filter by status (comma-separated): queued, running, completed, failed, cancelled")
	jobsListCmd.Flags().StringVar(&jobsName, "name", "", "Filter by job name: full-scan, pr-analysis")

	jobsCmd.AddCommand(jobsListCmd, jobsStatusCmd, jobsCancelCmd, jobsStatsCmd)
	rootCmd.AddCommand(jobsCmd)
}

// withQueue opens the registry and hands fn the selected queue.
func withQueue(cmd *cobra.Command, fn func(ctx context.Context, q jobs.Queue) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	reg, err := jobs.Open(ctx, cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	defer func() { _ = reg.CloseAll(context.Background()) }()

	q, err := reg.Get(ctx, jobsQueue)
	if err != nil {
		return err
	}
	return fn(ctx, q)
}

func runJobsList(cmd *cobra.Command, args []string) error {
	f, err := format()
	if err != nil {
		return err
	}
	opts := jobs.ListJobsOptions{Limit: jobsLimit}
	for _, s := range splitList(jobsStatus) {
		opts.Status = append(opts.Status, jobs.JobStatus(s))
	}
	opts.Name = splitList(jobsName)

	return withQueue(cmd, func(ctx context.Context, q jobs.Queue) error {
		resp, err := q.ListJobs(ctx, opts)
		if err != nil {
			return err
		}
		if f == FormatJSON {
			return writeJSON(os.Stdout, resp)
		}
		if len(resp.Jobs) == 0 {
			fmt.Println("No jobs found")
			return nil
		}
		rows := make([][]string, 0, len(resp.Jobs))
		for _, j := range resp.Jobs {
			rows = append(rows, []string{
				j.ID,
				j.Name,
				string(j.Status),
				strconv.Itoa(j.Progress) + "%",
				strconv.Itoa(j.Attempts),
				j.CreatedAt.Local().Format(time.DateTime),
				j.Error,
			})
		}
		if err := renderTable(os.Stdout, []string{"ID", "Name", "Status", "Progress", "Attempts", "Created", "Error"}, rows); err != nil {
			return err
		}
		fmt.Printf("Showing %d of %d jobs\n", len(resp.Jobs), resp.TotalCount)
		return nil
	})
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	f, err := format()
	if err != nil {
		return err
	}
	return withQueue(cmd, func(ctx context.Context, q jobs.Queue) error {
		job, err := q.GetJob(ctx, args[0])
		if err != nil {
			return err
		}
		if f == FormatJSON {
			return writeJSON(os.Stdout, job)
		}
		fmt.Printf("Job:      %s\n", job.ID)
		fmt.Printf("Name:     %s\n", job.Name)
		fmt.Printf("Status:   %s\n", job.Status)
		fmt.Printf("Progress: %d%%\n", job.Progress)
		fmt.Printf("Attempts: %d/%d\n", job.Attempts, job.MaxAttempts)
		fmt.Printf("Created:  %s\n", job.CreatedAt.Local().Format(time.DateTime))
		if job.StartedAt != nil {
			fmt.Printf("Started:  %s\n", job.StartedAt.Local().Format(time.DateTime))
		}
		if job.CompletedAt != nil {
			fmt.Printf("Finished: %s (%s)\n", job.CompletedAt.Local().Format(time.DateTime), job.Duration().Round(time.Millisecond))
		}
		if job.Error != "" {
			fmt.Printf("Error:    %s\n", job.Error)
		}
		if len(job.Result) > 0 {
			fmt.Printf("Result:   %s\n", string(job.Result))
		}
		return nil
	})
}

func runJobsCancel(cmd *cobra.Command, args []string) error {
	return withQueue(cmd, func(ctx context.Context, q jobs.Queue) error {
		if err := q.Cancel(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Job %s cancelled\n", args[0])
		return nil
	})
}

func runJobsStats(cmd *cobra.Command, args []string) error {
	f, err := format()
	if err != nil {
		return err
	}
	return withQueue(cmd, func(ctx context.Context, q jobs.Queue) error {
		st := q.Stats()
		if f == FormatJSON {
			return writeJSON(os.Stdout, st)
		}
		return renderTable(os.Stdout,
			[]string{"Backend", "Queued", "Active", "Completed", "Failed", "Cancelled"},
			[][]string{{
				st.Backend,
				strconv.Itoa(st.Queued),
				strconv.Itoa(st.Active),
				strconv.Itoa(st.Completed),
				strconv.Itoa(st.Failed),
				strconv.Itoa(st.Cancelled),
			}})
	})
}

// waitForJob polls until the job reaches a terminal state.
func waitForJob(ctx context.Context, q jobs.Queue, id string) (*jobs.Job, error) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		job, err := q.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.IsTerminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

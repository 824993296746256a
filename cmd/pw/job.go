package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/zulandar/presswork/internal/job"
	"github.com/zulandar/presswork/internal/metrics"
	"github.com/zulandar/presswork/internal/models"
	"github.com/zulandar/presswork/internal/quota"
	"github.com/zulandar/presswork/internal/recovery"
	"gorm.io/gorm"
)

func newJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Generation job commands",
	}

	cmd.AddCommand(newJobShowCmd())
	cmd.AddCommand(newJobListCmd())
	cmd.AddCommand(newJobRetryCmd())
	cmd.AddCommand(newJobEnqueueCmd())
	return cmd
}

func newJobShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a generation job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobShow(cmd, configPath, args[0])
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runJobShow(cmd *cobra.Command, configPath, jobID string) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	j, err := job.Get(gormDB, jobID)
	if err != nil {
		return err
	}
	if _, err := recovery.ReconcileJob(gormDB, j, cfg.Recovery.StuckTimeout); err != nil {
		return err
	}
	printJob(cmd.OutOrStdout(), j)
	return nil
}

func printJob(out io.Writer, j *models.GenerationJob) {
	fmt.Fprintf(out, "Job:        %s\n", j.ID)
	fmt.Fprintf(out, "Website:    %s\n", j.WebsiteID)
	fmt.Fprintf(out, "Keyword:    %s\n", j.Keyword)
	fmt.Fprintf(out, "Status:     %s\n", colorStatus(j.Status))
	fmt.Fprintf(out, "Step:       %s (%d%%)\n", orDash(j.CurrentStep), j.Progress)
	fmt.Fprintf(out, "Source:     %s\n", j.Source)
	fmt.Fprintf(out, "Attempts:   %d\n", j.Attempts)
	fmt.Fprintf(out, "Created:    %s\n", j.CreatedAt.Format(time.RFC3339))
	if j.StartedAt != nil {
		fmt.Fprintf(out, "Started:    %s\n", j.StartedAt.Format(time.RFC3339))
	}
	if j.CompletedAt != nil {
		fmt.Fprintf(out, "Completed:  %s\n", j.CompletedAt.Format(time.RFC3339))
	}
	if j.BlogPostID != nil {
		fmt.Fprintf(out, "Blog post:  %s\n", *j.BlogPostID)
	}
	if j.Error != nil {
		fmt.Fprintf(out, "Error:      %s\n", color.RedString(*j.Error))
	}
}

func newJobListCmd() *cobra.Command {
	var (
		configPath string
		websiteID  string
		status     string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent generation jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobList(cmd, configPath, job.ListOpts{WebsiteID: websiteID, Status: status, Limit: limit})
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&websiteID, "website", "", "filter by website id")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of jobs to show")
	return cmd
}

func runJobList(cmd *cobra.Command, configPath string, opts job.ListOpts) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	jobs, err := job.List(gormDB, opts)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs.")
		return nil
	}

	width := terminalWidth(out)
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, []string{
			j.ID,
			j.WebsiteID,
			truncate(j.Keyword, max(16, width/4)),
			colorStatus(j.Status),
			fmt.Sprintf("%d%%", j.Progress),
			j.CreatedAt.Format("2006-01-02 15:04"),
		})
	}
	return renderTable(out, []string{"ID", "Website", "Keyword", "Status", "Progress", "Created"}, rows)
}

func newJobRetryCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "retry <id>",
		Short: "Requeue a failed job",
		Long:  "Resets a FAILED job to QUEUED and dispatches it. In-process dispatch runs the job before the command returns.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobRetry(cmd, configPath, args[0])
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runJobRetry(cmd *cobra.Command, configPath, jobID string) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	j, err := job.Get(a.db, jobID)
	if err != nil {
		return err
	}
	if err := checkQuota(a.db, j.WebsiteID); err != nil {
		return err
	}
	if _, err := job.Retry(a.db, jobID); err != nil {
		return err
	}
	fmt.Fprintf(out, "Job %s requeued\n", jobID)
	return dispatchAndWait(cmd, a, jobID)
}

func newJobEnqueueCmd() *cobra.Command {
	var (
		configPath    string
		websiteID     string
		keyword       string
		contentLength string
		autoPublish   bool
	)

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a generation job for a website",
		Long:  "Checks the website's quota, queues a job for the keyword and dispatches it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobEnqueue(cmd, configPath, job.EnqueueOpts{
				WebsiteID:     websiteID,
				Keyword:       keyword,
				ContentLength: contentLength,
				AutoPublish:   autoPublish,
				Source:        job.SourceCLI,
				Exclusive:     true,
			})
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&websiteID, "website", "", "website id (required)")
	cmd.Flags().StringVar(&keyword, "keyword", "", "keyword to write about (required)")
	cmd.Flags().StringVar(&contentLength, "length", "", "content length: short, medium or long")
	cmd.Flags().BoolVar(&autoPublish, "auto-publish", false, "publish the post when the job completes")
	_ = cmd.MarkFlagRequired("website")
	_ = cmd.MarkFlagRequired("keyword")
	return cmd
}

func runJobEnqueue(cmd *cobra.Command, configPath string, opts job.EnqueueOpts) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}

	if err := checkQuota(a.db, opts.WebsiteID); err != nil {
		return err
	}
	j, err := job.Enqueue(a.db, opts)
	if err != nil {
		return err
	}
	metrics.JobEnqueued(job.SourceCLI)
	fmt.Fprintf(cmd.OutOrStdout(), "Job %s queued for %s\n", j.ID, opts.WebsiteID)
	return dispatchAndWait(cmd, a, j.ID)
}

func checkQuota(db *gorm.DB, websiteID string) error {
	limit, err := quota.CheckGenerationLimit(db, websiteID)
	if err != nil {
		return err
	}
	if !limit.Allowed {
		return errors.New(limit.Reason)
	}
	if limit.ActiveJobs > 0 {
		return fmt.Errorf("website %s already has an active job", websiteID)
	}
	return nil
}

// dispatchAndWait hands the job to the dispatcher and waits for it to drain.
func dispatchAndWait(cmd *cobra.Command, a *app, jobID string) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	if err := a.dispatcher.Dispatch(ctx, jobID); err != nil {
		return err
	}
	waitCtx, done := context.WithTimeout(ctx, a.cfg.Dispatch.JobTimeout+time.Minute)
	defer done()
	if err := a.dispatcher.Shutdown(waitCtx); err != nil {
		return fmt.Errorf("wait for job %s: %w", jobID, err)
	}

	j, err := job.Get(a.db, jobID)
	if err != nil {
		return err
	}
	printJob(cmd.OutOrStdout(), j)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/zulandar/presswork/internal/recovery"
	"github.com/zulandar/presswork/internal/scheduler"
)

func newTriggerCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Run the scheduled trigger once",
		Long: `Recovers stuck jobs, publishes scheduled posts that are due and enqueues
one job for every auto-publish website inside its publish window.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrigger(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runTrigger(cmd *cobra.Command, configPath string) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	rep, err := a.trigger.Run(ctx, time.Now())
	if err != nil {
		return err
	}
	printReport(cmd.OutOrStdout(), rep)

	// Jobs dispatched in process run here; wait for them before exiting.
	waitCtx, done := context.WithTimeout(ctx, a.cfg.Dispatch.JobTimeout+time.Minute)
	defer done()
	if err := a.dispatcher.Shutdown(waitCtx); err != nil {
		return fmt.Errorf("wait for dispatched jobs: %w", err)
	}
	return nil
}

func printReport(out io.Writer, rep *scheduler.Report) {
	fmt.Fprintf(out, "Recovered:        %d\n", rep.Recovered)
	fmt.Fprintf(out, "Posts published:  %d\n", len(rep.PostsPublished))
	fmt.Fprintf(out, "Websites checked: %d\n", rep.WebsitesChecked)
	fmt.Fprintf(out, "Jobs enqueued:    %s\n", color.GreenString("%d", len(rep.JobsEnqueued)))
	for _, id := range rep.JobsEnqueued {
		fmt.Fprintf(out, "  %s\n", id)
	}
	if len(rep.Skipped) > 0 {
		fmt.Fprintf(out, "Skipped:          %d\n", len(rep.Skipped))
		ids := make([]string, 0, len(rep.Skipped))
		for id := range rep.Skipped {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(out, "  %-24s %s\n", id, color.YellowString(rep.Skipped[id]))
		}
	}
	if rep.Errors > 0 {
		fmt.Fprintf(out, "Errors:           %s\n", color.RedString("%d", rep.Errors))
	}
}

func newSweepCmd() *cobra.Command {
	var (
		configPath string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Fail jobs stuck in PROCESSING",
		Long:  "Marks every PROCESSING job that started longer ago than the stuck timeout as FAILED and prints the count.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd, configPath, timeout)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "stuck timeout (overrides recovery.stuck_timeout)")
	return cmd
}

func runSweep(cmd *cobra.Command, configPath string, timeout time.Duration) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = cfg.Recovery.StuckTimeout
	}

	n, err := recovery.RecoverStuckJobs(gormDB, timeout)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Recovered %d stuck %s (timeout %s)\n", n, plural(n, "job"), timeout)
	return nil
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

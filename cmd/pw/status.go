package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"
	"github.com/zulandar/presswork/internal/config"
	"github.com/zulandar/presswork/internal/job"
	"github.com/zulandar/presswork/internal/scheduler"
	"github.com/zulandar/presswork/internal/worker"
	"golang.org/x/term"
	"gorm.io/gorm"
)

const defaultTerminalWidth = 100

func newStatusCmd() *cobra.Command {
	var (
		configPath string
		watch      bool
		interval   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show job counts, workers and the next trigger",
		Long:  "Displays jobs by status, registered workers and the next scheduled trigger. Use --watch for auto-refresh.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, configPath, watch, interval)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVar(&watch, "watch", false, "auto-refresh")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "refresh interval for --watch")
	return cmd
}

func runStatus(cmd *cobra.Command, configPath string, watch bool, interval time.Duration) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	ctx, cancel := signalContext(cmd)
	defer cancel()

	for {
		if watch && isTerminal(out) {
			// Clear screen.
			fmt.Fprint(out, "\033[2J\033[H")
		}
		if err := printStatus(out, gormDB, cfg, time.Now()); err != nil {
			return err
		}
		if !watch {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
		if !isTerminal(out) {
			fmt.Fprintln(out)
		}
	}
}

func printStatus(out io.Writer, gormDB *gorm.DB, cfg *config.Config, now time.Time) error {
	counts, err := job.CountByStatus(gormDB)
	if err != nil {
		return err
	}
	statuses := []string{job.StatusQueued, job.StatusProcessing, job.StatusCompleted, job.StatusFailed}
	rows := make([][]string, 0, len(statuses))
	for _, s := range statuses {
		rows = append(rows, []string{colorStatus(s), fmt.Sprintf("%d", counts[s])})
	}
	fmt.Fprintln(out, color.New(color.Bold).Sprint("Jobs"))
	if err := renderTable(out, []string{"Status", "Count"}, rows); err != nil {
		return err
	}

	workers, err := worker.List(gormDB)
	if err != nil {
		return err
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, color.New(color.Bold).Sprint("Workers"))
	if len(workers) == 0 {
		fmt.Fprintln(out, "  none registered")
	} else {
		rows = rows[:0]
		for _, w := range workers {
			rows = append(rows, []string{
				w.ID,
				w.Hostname,
				w.Status,
				orDash(w.CurrentJob),
				fmt.Sprintf("%d", w.Processed),
				now.Sub(w.LastActivity).Round(time.Second).String(),
			})
		}
		if err := renderTable(out, []string{"ID", "Host", "Status", "Job", "Processed", "Last seen"}, rows); err != nil {
			return err
		}
	}

	fmt.Fprintln(out)
	if !cfg.Scheduler.Enabled {
		fmt.Fprintln(out, "Scheduler: disabled")
		return nil
	}
	next, err := scheduler.NextRun(cfg.Scheduler.TriggerCron, now)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Next trigger: %s (in %s)\n", next.Format(time.RFC3339), next.Sub(now).Round(time.Second))
	return nil
}

func colorStatus(status string) string {
	switch status {
	case job.StatusQueued:
		return color.CyanString(status)
	case job.StatusProcessing:
		return color.YellowString(status)
	case job.StatusCompleted:
		return color.GreenString(status)
	case job.StatusFailed:
		return color.RedString(status)
	default:
		return status
	}
}

func renderTable(out io.Writer, header []string, rows [][]string) error {
	table := tablewriter.NewTable(out,
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Formatting: tw.CellFormatting{AutoWrap: tw.WrapNone},
				Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			},
			Header: tw.CellConfig{
				Formatting: tw.CellFormatting{AutoFormat: tw.On},
				Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			},
		}),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Separators: tw.Separators{ShowHeader: tw.Off},
			},
		}),
	)
	table.Header(header)
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

func isTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func terminalWidth(out io.Writer) int {
	f, ok := out.(*os.File)
	if !ok {
		return defaultTerminalWidth
	}
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil || w <= 0 {
		return defaultTerminalWidth
	}
	return w
}

package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/presswork/internal/api"
	"github.com/zulandar/presswork/internal/config"
	"github.com/zulandar/presswork/internal/scheduler"
	"github.com/zulandar/presswork/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Serves the job API and internal endpoints, dispatches jobs and runs the cron scheduler when enabled.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	out := cmd.OutOrStdout()

	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	if port > 0 {
		a.cfg.Server.Port = port
	}

	// The server answers pulls itself so an external scheduler can drive
	// execution without a separate worker process.
	puller, err := worker.NewPuller(worker.PullerOpts{
		DB:           a.db,
		Runner:       a.executor,
		StuckTimeout: a.cfg.Recovery.StuckTimeout,
		Logger:       a.log,
	})
	if err != nil {
		return err
	}

	router := api.NewRouter(api.Deps{
		Service:            a.service,
		Trigger:            a.trigger,
		Puller:             puller,
		TriggerSecret:      a.cfg.Server.TriggerSecret,
		WorkerSecret:       a.cfg.Server.WorkerSecret,
		RateLimitPerMinute: a.cfg.Server.RateLimitPerMinute,
		AuthCacheTTL:       a.cfg.Auth.CacheTTL,
		AuthCacheSize:      a.cfg.Auth.CacheSize,
		Logger:             a.log,
	})

	ctx, cancel := signalContext(cmd)
	defer cancel()

	var c *scheduler.Cron
	if a.cfg.Scheduler.Enabled {
		c, err = scheduler.NewCron(scheduler.CronOpts{
			DB:             a.db,
			Trigger:        a.trigger,
			TriggerSpec:    a.cfg.Scheduler.TriggerCron,
			QuotaResetSpec: a.cfg.Scheduler.QuotaResetCron,
			Logger:         a.log,
		})
		if err != nil {
			return err
		}
		c.Start()
		fmt.Fprintf(out, "Scheduler running (trigger %q, quota reset %q)\n", a.cfg.Scheduler.TriggerCron, a.cfg.Scheduler.QuotaResetCron)
	}

	fmt.Fprintf(out, "Dispatch mode: %s\n", a.cfg.Dispatch.Mode)
	fmt.Fprintf(out, "Publish channels: %s\n", strings.Join(a.fanout.Channels(), ", "))
	serveErr := api.Start(ctx, api.StartOpts{
		Handler:      router,
		Port:         a.cfg.Server.Port,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: pullWriteTimeout(a.cfg),
		Out:          out,
	})
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if c != nil {
		if err := c.Stop(shutdownCtx); err != nil {
			a.log.Warn().Err(err).Msg("scheduler stop")
		}
	}
	if err := a.dispatcher.Shutdown(shutdownCtx); err != nil {
		a.log.Warn().Err(err).Msg("dispatcher shutdown; running jobs will be recovered by the next sweep")
	}
	fmt.Fprintln(out, "Server stopped.")
	return serveErr
}

// pullWriteTimeout is the write timeout of a listener that serves
// /internal/worker. A pull runs the whole job before it answers.
func pullWriteTimeout(cfg *config.Config) time.Duration {
	return max(cfg.Server.WriteTimeout, cfg.Dispatch.JobTimeout+time.Minute)
}

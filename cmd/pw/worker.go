package main

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/presswork/internal/api"
	"github.com/zulandar/presswork/internal/worker"
	"golang.org/x/sync/errgroup"
)

func newWorkerCmd() *cobra.Command {
	var (
		configPath   string
		port         int
		pollInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Start the worker daemon",
		Long: `Registers a worker, polls the queue for jobs and serves the internal
pull endpoint that remote dispatch notifies.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd, configPath, port, pollInterval)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port for the pull endpoint (overrides worker.port)")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 0, "interval between queue polls (overrides worker.poll_interval)")
	return cmd
}

func runWorker(cmd *cobra.Command, configPath string, port int, pollInterval time.Duration) error {
	out := cmd.OutOrStdout()

	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	if port > 0 {
		a.cfg.Worker.Port = port
	}
	if pollInterval > 0 {
		a.cfg.Worker.PollInterval = pollInterval
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(gctx, worker.RunOpts{
			DB:                a.db,
			Runner:            a.executor,
			StuckTimeout:      a.cfg.Recovery.StuckTimeout,
			PollInterval:      a.cfg.Worker.PollInterval,
			HeartbeatInterval: a.cfg.Worker.HeartbeatInterval,
			Logger:            a.log,
			Out:               out,
			Ready: func(p *worker.Puller) {
				router := api.NewRouter(api.Deps{
					Puller:       p,
					WorkerSecret: a.cfg.Server.WorkerSecret,
					Logger:       a.log,
				})
				g.Go(func() error {
					return api.Start(gctx, api.StartOpts{
						Handler:      router,
						Port:         a.cfg.Worker.Port,
						WriteTimeout: pullWriteTimeout(a.cfg),
						ReadTimeout:  a.cfg.Server.ReadTimeout,
						Out:          out,
					})
				})
			},
		})
	})

	return g.Wait()
}

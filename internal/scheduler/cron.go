package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/zulandar/presswork/internal/quota"
	"gorm.io/gorm"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextRun returns the next fire time of a 5-field cron expression after from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("scheduler: parse %q: %w", expr, err)
	}
	return sched.Next(from), nil
}

// CronOpts configures the periodic jobs run by the server.
type CronOpts struct {
	DB             *gorm.DB
	Trigger        *Trigger
	TriggerSpec    string
	QuotaResetSpec string
	Logger         zerolog.Logger
}

// Cron runs the trigger and the monthly quota reset on their schedules. A run
// that is still going when its next tick fires is skipped, not stacked.
type Cron struct {
	c   *cron.Cron
	log zerolog.Logger
}

// NewCron registers the schedules. Nothing runs until Start.
func NewCron(opts CronOpts) (*Cron, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("scheduler: db is required")
	}
	if opts.Trigger == nil {
		return nil, fmt.Errorf("scheduler: trigger is required")
	}
	log := opts.Logger.With().Str("component", "cron").Logger()
	cl := cronLogger{log: log}

	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	if _, err := c.AddFunc(opts.TriggerSpec, func() {
		if _, err := opts.Trigger.Run(context.Background(), time.Now()); err != nil {
			log.Error().Err(err).Msg("scheduled trigger")
		}
	}); err != nil {
		return nil, fmt.Errorf("scheduler: trigger schedule %q: %w", opts.TriggerSpec, err)
	}

	if _, err := c.AddFunc(opts.QuotaResetSpec, func() {
		n, err := quota.ResetMonthly(opts.DB, time.Now())
		if err != nil {
			log.Error().Err(err).Msg("monthly quota reset")
			return
		}
		log.Info().Int64("organizations", n).Msg("monthly quota reset")
	}); err != nil {
		return nil, fmt.Errorf("scheduler: quota reset schedule %q: %w", opts.QuotaResetSpec, err)
	}

	return &Cron{c: c, log: log}, nil
}

// Start runs the schedules in the background.
func (c *Cron) Start() {
	c.c.Start()
}

// Stop halts the schedules and waits for running jobs until ctx expires.
func (c *Cron) Stop(ctx context.Context) error {
	done := c.c.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

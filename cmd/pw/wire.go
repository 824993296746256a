package main

import (
	"fmt"
	"net/http"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/zulandar/presswork/internal/config"
	"github.com/zulandar/presswork/internal/db"
	"github.com/zulandar/presswork/internal/dispatch"
	"github.com/zulandar/presswork/internal/executor"
	"github.com/zulandar/presswork/internal/logging"
	"github.com/zulandar/presswork/internal/pipeline"
	"github.com/zulandar/presswork/internal/publish"
	"github.com/zulandar/presswork/internal/publish/discord"
	"github.com/zulandar/presswork/internal/publish/github"
	"github.com/zulandar/presswork/internal/publish/slack"
	"github.com/zulandar/presswork/internal/publish/social"
	"github.com/zulandar/presswork/internal/scheduler"
	"github.com/zulandar/presswork/internal/service"
	"gorm.io/gorm"
)

// app holds the components shared by the long-running commands.
type app struct {
	cfg        *config.Config
	db         *gorm.DB
	log        zerolog.Logger
	fanout     *publish.Fanout
	executor   *executor.Executor
	dispatcher dispatch.Dispatcher
	service    *service.Service
	trigger    *scheduler.Trigger
}

// loadConfig reads .env if present, then the config file.
func loadConfig(configPath string) (*config.Config, error) {
	_ = godotenv.Load()
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return cfg, gormDB, nil
}

// newChannels returns every publish channel. Each one only pushes for sites
// whose publish config enables it.
func newChannels(cfg *config.Config) []publish.Channel {
	client := &http.Client{Timeout: cfg.Publish.Timeout}
	httpOpts := publish.HTTPOpts{Client: client, UserAgent: cfg.Publish.UserAgent}
	socialOpts := social.Opts{HTTPClient: client, UserAgent: cfg.Publish.UserAgent}
	return []publish.Channel{
		publish.NewIndexNow(httpOpts),
		publish.NewWebhook(httpOpts),
		publish.NewWordPress(httpOpts),
		slack.New(slack.Opts{}),
		discord.New(discord.Opts{}),
		social.NewX(socialOpts),
		social.NewLinkedIn(socialOpts),
		github.New(github.Opts{HTTPClient: client}),
	}
}

// newGenerator picks the remote generation service, or the offline generator
// when no endpoint is configured.
func newGenerator(cfg config.GenerationConfig) pipeline.Generator {
	if cfg.Endpoint == "" {
		return pipeline.Synthetic{}
	}
	return pipeline.NewHTTPGenerator(pipeline.HTTPOpts{
		Endpoint:          cfg.Endpoint,
		APIKey:            cfg.APIKey,
		RequestsPerMinute: cfg.RequestsPerMinute,
		Timeout:           cfg.Timeout,
	})
}

// newApp connects to the database and wires the executor, dispatcher,
// service and trigger.
func newApp(configPath string) (*app, error) {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, db: gormDB, log: logging.New(cfg.Log.Level, cfg.Log.Format)}

	a.fanout, err = publish.NewFanout(publish.FanoutOpts{
		DB:          gormDB,
		Channels:    newChannels(cfg),
		Logger:      a.log,
		TaskTimeout: cfg.Publish.Timeout,
	})
	if err != nil {
		return nil, err
	}

	a.executor, err = executor.New(executor.Opts{
		DB:        gormDB,
		Pipeline:  pipeline.New(newGenerator(cfg.Generation)),
		Publisher: a.fanout,
		Logger:    a.log,
	})
	if err != nil {
		return nil, err
	}

	a.dispatcher, err = dispatch.New(cfg.Dispatch, cfg.Server.WorkerSecret, a.executor, a.log)
	if err != nil {
		return nil, err
	}

	a.service, err = service.New(service.Opts{
		DB:           gormDB,
		Dispatcher:   a.dispatcher,
		Publisher:    a.fanout,
		StuckTimeout: cfg.Recovery.StuckTimeout,
		BulkMax:      cfg.Bulk.MaxPerRequest,
		Logger:       a.log,
	})
	if err != nil {
		return nil, err
	}

	a.trigger, err = scheduler.NewTrigger(scheduler.TriggerOpts{
		DB:           gormDB,
		Dispatcher:   a.dispatcher,
		Publisher:    a.fanout,
		StuckTimeout: cfg.Recovery.StuckTimeout,
		Logger:       a.log,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Package api serves the HTTP surface: the public job API, the internal
// trigger and worker endpoints, health and metrics.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/zulandar/presswork/internal/scheduler"
	"github.com/zulandar/presswork/internal/service"
	"github.com/zulandar/presswork/internal/worker"
)

const (
	TriggerSecretHeader = "X-Trigger-Secret"
	WorkerSecretHeader  = "X-Worker-Secret"
)

// TriggerRunner runs one scheduled trigger pass.
type TriggerRunner interface {
	Run(ctx context.Context, now time.Time) (*scheduler.Report, error)
}

// Puller performs one worker pull.
type Puller interface {
	Pull(ctx context.Context, jobID string) (worker.PullResult, error)
}

// Deps are the components the router serves. Trigger and Puller are
// optional; their routes are only mounted when set.
type Deps struct {
	Service            *service.Service
	Trigger            TriggerRunner
	Puller             Puller
	TriggerSecret      string
	WorkerSecret       string
	RateLimitPerMinute int
	AuthCacheTTL       time.Duration
	AuthCacheSize      int
	Logger             zerolog.Logger
}

// NewRouter builds the gin engine for deps.
func NewRouter(deps Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestID(), accessLog(deps.Logger))

	router.GET("/healthz", handleHealth())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if deps.Service != nil {
		auth := newAuthenticator(deps.Service, deps.AuthCacheTTL, deps.AuthCacheSize, deps.RateLimitPerMinute)
		v1 := router.Group("/api/v1", auth.requireAPIKey())
		v1.POST("/jobs", handleCreateJob(deps.Service))
		v1.POST("/jobs/bulk", handleBulk(deps.Service))
		v1.GET("/jobs/:id", handleGetJob(deps.Service))
		v1.POST("/jobs/:id", handleRetryJob(deps.Service))
		v1.POST("/jobs/:id/retry", handleRetryJob(deps.Service))
		v1.POST("/posts/:id/publish", handlePublishPost(deps.Service))
		v1.POST("/keys/rotate", handleRotateKey(deps.Service, auth))
	}

	internal := router.Group("/internal")
	if deps.Trigger != nil {
		internal.POST("/trigger", requireSecret(TriggerSecretHeader, deps.TriggerSecret), handleTrigger(deps.Trigger, deps.Logger))
	}
	if deps.Puller != nil {
		internal.POST("/worker", requireSecret(WorkerSecretHeader, deps.WorkerSecret), handleWorkerPull(deps.Puller, deps.Logger))
	}

	return router
}

// StartOpts holds configuration for the HTTP server.
type StartOpts struct {
	Handler      http.Handler
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Out          io.Writer
}

// Start serves opts.Handler. It blocks until ctx is cancelled, then shuts
// down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Handler == nil {
		return fmt.Errorf("api: handler is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.Port),
		Handler:      opts.Handler,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "API listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

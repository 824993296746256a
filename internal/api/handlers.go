package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/zulandar/presswork/internal/service"
)

var kindStatus = map[service.Kind]int{
	service.KindBadRequest:    http.StatusBadRequest,
	service.KindNotFound:      http.StatusNotFound,
	service.KindForbidden:     http.StatusForbidden,
	service.KindConflict:      http.StatusConflict,
	service.KindQuotaExceeded: http.StatusTooManyRequests,
	service.KindInternal:      http.StatusInternalServerError,
}

// writeError maps a service error to its status. Internal causes are attached
// to the context for the access log, never returned.
func writeError(c *gin.Context, err error) {
	kind := service.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	if status == http.StatusInternalServerError {
		c.Error(err)
	}
	c.JSON(status, gin.H{"error": service.Message(err)})
}

// bindJSON decodes the body into v. An empty body leaves v unchanged.
func bindJSON(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		abortError(c, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func handleCreateJob(svc *service.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req service.CreateJobRequest
		if !bindJSON(c, &req) {
			return
		}
		ref, err := svc.CreateJob(c.Request.Context(), orgID(c), req)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, ref)
	}
}

func handleGetJob(svc *service.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		view, err := svc.GetJob(c.Request.Context(), orgID(c), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

func handleRetryJob(svc *service.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ref, err := svc.RetryJob(c.Request.Context(), orgID(c), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, ref)
	}
}

func handleBulk(svc *service.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req service.BulkRequest
		if !bindJSON(c, &req) {
			return
		}
		res, err := svc.BulkEnqueue(c.Request.Context(), orgID(c), req)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, res)
	}
}

func handlePublishPost(svc *service.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		rep, err := svc.PublishPost(c.Request.Context(), orgID(c), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, rep)
	}
}

// handleRotateKey issues a new API key for the caller's organization. The
// key used for this request stops working immediately.
func handleRotateKey(svc *service.Service, auth *authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, err := svc.RotateAPIKey(c.Request.Context(), orgID(c))
		if err != nil {
			writeError(c, err)
			return
		}
		auth.revoke(c.GetString(keyHashKey))
		c.JSON(http.StatusOK, gin.H{"apiKey": key})
	}
}

func handleTrigger(tr TriggerRunner, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		rep, err := tr.Run(c.Request.Context(), time.Now())
		if err != nil {
			log.Error().Err(err).Msg("trigger")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, rep)
	}
}

func handleWorkerPull(p Puller, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			JobID string `json:"jobId"`
		}
		if !bindJSON(c, &req) {
			return
		}
		res, err := p.Pull(c.Request.Context(), req.JobID)
		if err != nil {
			log.Error().Err(err).Str("job_id", res.JobID).Msg("worker pull")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

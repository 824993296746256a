package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/zulandar/presswork/internal/cache"
	"github.com/zulandar/presswork/internal/models"
	"github.com/zulandar/presswork/internal/service"
	"golang.org/x/time/rate"
)

const (
	requestIDHeader = "X-Request-ID"
	orgKey          = "org"
	keyHashKey      = "api_key_hash"
)

// requestID tags every request with an id, reusing the caller's when given.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDHeader, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func accessLog(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ev := log.Info()
		if status >= http.StatusInternalServerError {
			ev = log.Error()
		}
		if len(c.Errors) > 0 {
			ev = ev.Str("error", c.Errors.String())
		}
		ev.Str("request_id", c.GetString(requestIDHeader)).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// authenticator resolves API keys to organizations and holds one rate
// limiter per key. Both live in caches owned by the server.
type authenticator struct {
	svc      *service.Service
	orgs     *cache.TTL[string, *models.Organization]
	limiters *cache.TTL[string, *rate.Limiter]
	perMin   int
}

func newAuthenticator(svc *service.Service, ttl time.Duration, size, perMin int) *authenticator {
	return &authenticator{
		svc:      svc,
		orgs:     cache.New[string, *models.Organization](cache.Opts{Size: size, TTL: ttl}),
		limiters: cache.New[string, *rate.Limiter](cache.Opts{Size: size, TTL: time.Hour}),
		perMin:   perMin,
	}
}

// requireAPIKey authenticates the bearer token and applies the per-key rate
// limit.
func (a *authenticator) requireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := bearerToken(c.GetHeader("Authorization"))
		if key == "" {
			abortError(c, http.StatusUnauthorized, "missing API key")
			return
		}
		hash := service.HashAPIKey(key)

		org, err := a.orgs.GetOrCreate(hash, func() (*models.Organization, error) {
			return a.svc.Authenticate(c.Request.Context(), key)
		})
		if err != nil {
			if service.KindOf(err) == service.KindNotFound {
				abortError(c, http.StatusUnauthorized, "invalid API key")
				return
			}
			abortError(c, http.StatusInternalServerError, "internal error")
			return
		}

		if a.perMin > 0 {
			lim, _ := a.limiters.GetOrCreate(hash, func() (*rate.Limiter, error) {
				return rate.NewLimiter(rate.Every(time.Minute/time.Duration(a.perMin)), a.perMin), nil
			})
			if !lim.Allow() {
				abortError(c, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
		}

		c.Set(orgKey, org)
		c.Set(keyHashKey, hash)
		c.Next()
	}
}

// revoke forgets a key's organization and limiter so the key is checked
// against the database on its next use.
func (a *authenticator) revoke(hash string) {
	a.orgs.Invalidate(hash)
	a.limiters.Invalidate(hash)
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// requireSecret guards internal endpoints with a shared secret header. An
// empty configured secret rejects every request.
func requireSecret(header, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(header)
		if secret == "" || got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			abortError(c, http.StatusUnauthorized, "invalid secret")
			return
		}
		c.Next()
	}
}

func orgID(c *gin.Context) string {
	v, ok := c.Get(orgKey)
	if !ok {
		return ""
	}
	return v.(*models.Organization).ID
}

func abortError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

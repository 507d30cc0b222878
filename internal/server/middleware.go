package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zbridge-dev/zbridge/internal/apierr"
	"github.com/zbridge-dev/zbridge/internal/config"
	"github.com/zbridge-dev/zbridge/internal/obs"
)

// ErrorResponse is the error body shape both dialects share.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the OpenAI-style error fields.
type ErrorDetail struct {
	Message string      `json:"message"`
	Type    string      `json:"type"`
	Code    string      `json:"code,omitempty"`
	Param   interface{} `json:"param"`
}

func abortWithError(c *gin.Context, err error) {
	apiErr := apierr.From(err)
	c.AbortWithStatusJSON(apiErr.Status(), ErrorResponse{
		Error: ErrorDetail{
			Message: apiErr.Message,
			Type:    string(apiErr.Kind),
			Code:    apiErr.Code,
		},
	})
}

// CORSMiddleware sets the configured CORS headers and short-circuits
// preflight requests.
func CORSMiddleware(origins string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", origins)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Api-Key, Anthropic-Version")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// AuthMiddleware gates the model endpoints behind the shared key. Both
// `Authorization: Bearer <k>` and `X-Api-Key: <k>` are accepted. With no
// key configured the gate is open.
func AuthMiddleware(cfg *config.AppConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.AuthRequired() {
			c.Next()
			return
		}

		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		token = strings.TrimSpace(token)
		xApiKey := c.GetHeader("X-Api-Key")

		if token == "" && xApiKey == "" {
			abortWithError(c, apierr.New(apierr.KindUnauthorized, "Authorization header required"))
			return
		}
		if token != cfg.APIKey && xApiKey != cfg.APIKey {
			abortWithError(c, apierr.New(apierr.KindUnauthorized, "invalid API key"))
			return
		}
		c.Next()
	}
}

// ConcurrencyLimiter caps in-flight requests with a semaphore; overflow is
// rejected immediately with 429 rather than queued.
func ConcurrencyLimiter(max int) gin.HandlerFunc {
	sem := make(chan struct{}, max)
	return func(c *gin.Context) {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
			c.Next()
		default:
			abortWithError(c, apierr.New(apierr.KindRateLimited, "too many concurrent requests"))
		}
	}
}

// StatsMiddleware feeds the performance monitor.
func StatsMiddleware(monitor *obs.Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		monitor.RequestStarted()
		c.Next()
		monitor.RequestFinished(c.FullPath(), time.Since(start), c.Writer.Status() >= 400)
	}
}

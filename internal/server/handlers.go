package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/zbridge-dev/zbridge/internal/apierr"
	"github.com/zbridge-dev/zbridge/internal/upstream"
)

const serviceName = "zbridge"

const modelsCacheKey = "upstream:models"

func (s *Server) handleIndex(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": serviceName,
		"version": s.version,
		"endpoints": []string{
			"/health",
			"/metrics",
			"/v1/models",
			"/v1/chat/completions",
			"/v1/messages",
		},
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": serviceName,
	})
}

func (s *Server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.monitor.Snapshot(s.cache.Stats()))
}

// handleModels serves the OpenAI-format model list, shaped from the upstream
// catalog and cached for the configured TTL.
func (s *Server) handleModels(c *gin.Context) {
	if cached, ok := s.cache.Get(modelsCacheKey); ok {
		c.JSON(http.StatusOK, cached)
		return
	}

	catalog, err := s.upstream.Models(c.Request.Context())
	if err != nil {
		logrus.Errorf("model list fetch failed: %v", err)
		// Degrade to the configured default so clients can still route.
		c.JSON(http.StatusOK, s.fallbackModelList())
		return
	}

	var models []gin.H
	for _, m := range catalog.Data {
		if m.Info.IsActive != nil && !*m.Info.IsActive {
			continue
		}
		created := m.Info.CreatedAt
		if created == 0 {
			created = time.Now().Unix()
		}
		models = append(models, gin.H{
			"id":       m.ID,
			"object":   "model",
			"name":     formatModelName(m),
			"created":  created,
			"owned_by": "z.ai",
		})
	}
	if len(models) == 0 {
		c.JSON(http.StatusOK, s.fallbackModelList())
		return
	}

	body := gin.H{"object": "list", "data": models}
	s.cache.Set(modelsCacheKey, body, s.cfg.ModelsCacheTTL)
	c.JSON(http.StatusOK, body)
}

// formatModelName keeps GLM/Z family ids as display names and falls back to
// the upstream-provided name for the rest.
func formatModelName(m upstream.Model) string {
	upper := strings.ToUpper(m.ID)
	if strings.HasPrefix(upper, "GLM") || strings.HasPrefix(upper, "Z") {
		return m.ID
	}
	if m.Name != "" {
		return m.Name
	}
	return m.ID
}

func (s *Server) fallbackModelList() gin.H {
	return gin.H{
		"object": "list",
		"data": []gin.H{
			{
				"id":       s.cfg.ModelName,
				"object":   "model",
				"created":  time.Now().Unix(),
				"owned_by": "z.ai",
			},
		},
	}
}

// isTimeout reports whether err is the upstream timeout kind, the one case
// the non-stream path may retry once.
func isTimeout(err error) bool {
	return apierr.From(err).Kind == apierr.KindUpstreamTimeout
}

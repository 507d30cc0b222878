package server

import (
	"encoding/json"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/zbridge-dev/zbridge/internal/apierr"
	"github.com/zbridge-dev/zbridge/pkg/adaptor"
)

// handleMessages serves the Anthropic Messages dialect.
func (s *Server) handleMessages(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		abortWithError(c, apierr.Wrap(apierr.KindInvalidRequest, "unreadable request body", err))
		return
	}

	var req adaptor.AnthropicMessageRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		abortWithError(c, apierr.Wrap(apierr.KindInvalidRequest, "malformed request body", err))
		return
	}
	if err := req.Validate(); err != nil {
		abortWithError(c, err)
		return
	}

	ureq, err := req.ToUpstream(s.cfg, raw)
	if err != nil {
		abortWithError(c, err)
		return
	}

	opts := adaptor.Options{
		Dialect:         adaptor.DialectAnthropic,
		Model:           string(req.Model),
		ResponseID:      "msg_" + uuid.NewString(),
		ReasoningMode:   s.cfg.ReasoningMode,
		PromptChars:     adaptor.PromptChars(ureq.Messages),
		ToolCallTimeout: s.cfg.ToolCallTimeout,
		Monitor:         s.monitor,
		ContentCache:    s.cache,
		ContentTTL:      s.cfg.ContentCacheTTL,
	}

	if req.Stream {
		s.streamResponse(c, opts, ureq)
		return
	}
	s.completeResponse(c, opts, ureq)
}

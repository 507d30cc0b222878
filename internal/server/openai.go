package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zbridge-dev/zbridge/internal/apierr"
	"github.com/zbridge-dev/zbridge/internal/upstream"
	"github.com/zbridge-dev/zbridge/pkg/adaptor"
)

// handleChatCompletions serves the OpenAI Chat Completions dialect.
func (s *Server) handleChatCompletions(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		abortWithError(c, apierr.Wrap(apierr.KindInvalidRequest, "unreadable request body", err))
		return
	}

	var req adaptor.OpenAIChatRequest
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
		Dialect:         adaptor.DialectOpenAI,
		Model:           string(req.Model),
		ResponseID:      "chatcmpl-" + uuid.NewString(),
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

// streamResponse runs the translation pipeline and writes the live SSE
// stream. Errors after the first byte are delivered in-stream by the engine.
func (s *Server) streamResponse(c *gin.Context, opts adaptor.Options, ureq *upstream.Request) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.StreamTimeout)
	defer cancel()

	body, err := s.upstream.ChatCompletion(ctx, ureq)
	if err != nil {
		abortWithError(c, err)
		return
	}

	frames := upstream.ParseStream(ctx, body, s.cfg.StreamTimeout, s.monitor.ParseError)
	chunks := adaptor.NewEngine(opts).Run(ctx, frames)
	writeSSE(c, opts.Dialect, chunks)
}

// completeResponse serves non-streaming callers through the same engine,
// folding the chunk stream with the finalizer. One retry is allowed on an
// upstream timeout since nothing has been shipped yet.
func (s *Server) completeResponse(c *gin.Context, opts adaptor.Options, ureq *upstream.Request) {
	result, err := s.translateOnce(c.Request.Context(), opts, ureq)
	if err != nil && isTimeout(err) {
		logrus.Warnf("retrying non-stream request %s after upstream timeout", opts.ResponseID)
		result, err = s.translateOnce(c.Request.Context(), opts, ureq)
	}
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) translateOnce(parent context.Context, opts adaptor.Options, ureq *upstream.Request) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(parent, s.cfg.RequestTimeout)
	defer cancel()

	body, err := s.upstream.ChatCompletion(ctx, ureq)
	if err != nil {
		return nil, err
	}

	frames := upstream.ParseStream(ctx, body, s.cfg.StreamTimeout, s.monitor.ParseError)
	eng := adaptor.NewEngine(opts)
	chunks := eng.Run(ctx, frames)

	if opts.Dialect == adaptor.DialectAnthropic {
		return eng.FinalizeAnthropic(chunks)
	}
	return eng.FinalizeOpenAI(chunks)
}

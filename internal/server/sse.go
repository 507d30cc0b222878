package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/zbridge-dev/zbridge/pkg/adaptor"
)

// keepAliveInterval is the silence window after which a keep-alive is sent.
const keepAliveInterval = 15 * time.Second

// writeSSE drains the engine's chunk channel onto the wire in FIFO order.
// OpenAI chunks become `data: <json>` lines with a `data: [DONE]` terminator;
// Anthropic chunks become `event:`/`data:` pairs. Quiet periods are bridged
// with a comment line or a ping event per dialect.
func writeSSE(c *gin.Context, dialect adaptor.Dialect, chunks <-chan adaptor.OutboundChunk) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		logrus.Error("streaming unsupported by connection")
		return
	}

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if dialect == adaptor.DialectAnthropic {
				fmt.Fprintf(c.Writer, "event: ping\ndata: {\"type\":\"ping\"}\n\n")
			} else {
				fmt.Fprint(c.Writer, ": keep-alive\n\n")
			}
			flusher.Flush()
		case chunk, open := <-chunks:
			if !open {
				return
			}
			writeChunk(c, dialect, chunk)
			flusher.Flush()
			ticker.Reset(keepAliveInterval)
		}
	}
}

func writeChunk(c *gin.Context, dialect adaptor.Dialect, chunk adaptor.OutboundChunk) {
	if dialect == adaptor.DialectAnthropic {
		payload, err := json.Marshal(chunk.Payload)
		if err != nil {
			logrus.Errorf("dropping unmarshalable event: %v", err)
			return
		}
		fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", chunk.Event, payload)
		return
	}

	if chunk.Payload == nil && chunk.Terminal {
		fmt.Fprint(c.Writer, "data: [DONE]\n\n")
		return
	}
	payload, err := json.Marshal(chunk.Payload)
	if err != nil {
		logrus.Errorf("dropping unmarshalable chunk: %v", err)
		return
	}
	fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
}

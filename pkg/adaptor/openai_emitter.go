package adaptor

import (
	"time"

	"github.com/zbridge-dev/zbridge/internal/apierr"
	"github.com/zbridge-dev/zbridge/internal/upstream"
)

// emitter renders the engine's semantic events into dialect chunks.
type emitter interface {
	MessageStart() []OutboundChunk
	ThinkingStart() []OutboundChunk
	ThinkingDelta(text string) []OutboundChunk
	ThinkingStop(signatureMillis int64) []OutboundChunk
	TextStart() []OutboundChunk
	TextDelta(text string) []OutboundChunk
	ToolOpen(index int, id, name string) []OutboundChunk
	ToolArgsDelta(index int, fragment string) []OutboundChunk
	ToolError(index int, id, kind string) []OutboundChunk
	Finish(finishReason string, usage upstream.Usage) []OutboundChunk
	Error(apiErr *apierr.Error) []OutboundChunk
}

// openaiEmitter frames chunks in the Chat Completions streaming dialect.
type openaiEmitter struct {
	id      string
	model   string
	created int64
}

func newOpenAIEmitter(id, model string) *openaiEmitter {
	return &openaiEmitter{id: id, model: model, created: time.Now().Unix()}
}

func (e *openaiEmitter) chunk(delta map[string]interface{}, finishReason interface{}) OutboundChunk {
	return OutboundChunk{
		Payload: map[string]interface{}{
			"id":      e.id,
			"object":  "chat.completion.chunk",
			"created": e.created,
			"model":   e.model,
			"choices": []interface{}{
				map[string]interface{}{
					"index":         0,
					"delta":         delta,
					"finish_reason": finishReason,
				},
			},
		},
	}
}

func (e *openaiEmitter) MessageStart() []OutboundChunk {
	return []OutboundChunk{e.chunk(map[string]interface{}{"role": "assistant", "content": ""}, nil)}
}

func (e *openaiEmitter) ThinkingStart() []OutboundChunk { return nil }

func (e *openaiEmitter) ThinkingDelta(text string) []OutboundChunk {
	return []OutboundChunk{e.chunk(map[string]interface{}{"reasoning_content": text}, nil)}
}

func (e *openaiEmitter) ThinkingStop(int64) []OutboundChunk { return nil }

func (e *openaiEmitter) TextStart() []OutboundChunk { return nil }

func (e *openaiEmitter) TextDelta(text string) []OutboundChunk {
	return []OutboundChunk{e.chunk(map[string]interface{}{"content": text}, nil)}
}

func (e *openaiEmitter) ToolOpen(index int, id, name string) []OutboundChunk {
	return []OutboundChunk{e.chunk(map[string]interface{}{
		"tool_calls": []interface{}{
			map[string]interface{}{
				"index": index,
				"id":    id,
				"type":  "function",
				"function": map[string]interface{}{
					"name":      name,
					"arguments": "",
				},
			},
		},
	}, nil)}
}

func (e *openaiEmitter) ToolArgsDelta(index int, fragment string) []OutboundChunk {
	return []OutboundChunk{e.chunk(map[string]interface{}{
		"tool_calls": []interface{}{
			map[string]interface{}{
				"index": index,
				"function": map[string]interface{}{
					"arguments": fragment,
				},
			},
		},
	}, nil)}
}

func (e *openaiEmitter) ToolError(index int, id, kind string) []OutboundChunk {
	return []OutboundChunk{{
		Payload: map[string]interface{}{
			"error": map[string]interface{}{
				"message": "tool call " + id + " failed: " + kind,
				"type":    string(apierr.KindToolCallError),
				"code":    kind,
				"param":   nil,
			},
		},
	}}
}

func (e *openaiEmitter) Finish(finishReason string, usage upstream.Usage) []OutboundChunk {
	final := e.chunk(map[string]interface{}{}, finishReason)
	final.Payload["usage"] = map[string]interface{}{
		"prompt_tokens":     usage.InputTokens,
		"completion_tokens": usage.OutputTokens,
		"total_tokens":      usage.InputTokens + usage.OutputTokens,
	}
	return []OutboundChunk{final, {Terminal: true}}
}

func (e *openaiEmitter) Error(apiErr *apierr.Error) []OutboundChunk {
	return []OutboundChunk{
		{
			Payload: map[string]interface{}{
				"error": map[string]interface{}{
					"message": apiErr.Message,
					"type":    string(apiErr.Kind),
					"code":    apiErr.Code,
					"param":   nil,
				},
			},
		},
		{Terminal: true},
	}
}

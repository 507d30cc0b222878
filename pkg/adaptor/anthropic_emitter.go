package adaptor

import (
	"sort"
	"strconv"

	"github.com/zbridge-dev/zbridge/internal/apierr"
	"github.com/zbridge-dev/zbridge/internal/upstream"
)

// anthropicEmitter frames events in the Messages streaming dialect. It owns
// the content block index space: thinking, text and each tool call get their
// own block, opened on first use and stopped together before message_delta.
type anthropicEmitter struct {
	id    string
	model string

	nextBlockIndex     int
	thinkingBlockIndex int
	textBlockIndex     int
	toolBlockIndex     map[int]int // tool ordinal -> block index
	stoppedBlocks      map[int]bool
}

func newAnthropicEmitter(id, model string) *anthropicEmitter {
	return &anthropicEmitter{
		id:                 id,
		model:              model,
		thinkingBlockIndex: -1,
		textBlockIndex:     -1,
		toolBlockIndex:     make(map[int]int),
		stoppedBlocks:      make(map[int]bool),
	}
}

func event(eventType string, body map[string]interface{}) OutboundChunk {
	body["type"] = eventType
	return OutboundChunk{Event: eventType, Payload: body}
}

func (e *anthropicEmitter) MessageStart() []OutboundChunk {
	return []OutboundChunk{event(eventTypeMessageStart, map[string]interface{}{
		"message": map[string]interface{}{
			"id":            e.id,
			"type":          "message",
			"role":          "assistant",
			"content":       []interface{}{},
			"model":         e.model,
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage": map[string]interface{}{
				"input_tokens":  0,
				"output_tokens": 0,
			},
		},
	})}
}

func (e *anthropicEmitter) blockStart(index int, blockType string, fields map[string]interface{}) OutboundChunk {
	block := map[string]interface{}{"type": blockType}
	for k, v := range fields {
		block[k] = v
	}
	return event(eventTypeContentBlockStart, map[string]interface{}{
		"index":         index,
		"content_block": block,
	})
}

func (e *anthropicEmitter) blockDelta(index int, delta map[string]interface{}) OutboundChunk {
	return event(eventTypeContentBlockDelta, map[string]interface{}{
		"index": index,
		"delta": delta,
	})
}

func (e *anthropicEmitter) blockStop(index int) OutboundChunk {
	e.stoppedBlocks[index] = true
	return event(eventTypeContentBlockStop, map[string]interface{}{
		"index": index,
	})
}

func (e *anthropicEmitter) ThinkingStart() []OutboundChunk {
	if e.thinkingBlockIndex != -1 {
		return nil
	}
	e.thinkingBlockIndex = e.nextBlockIndex
	e.nextBlockIndex++
	return []OutboundChunk{e.blockStart(e.thinkingBlockIndex, blockTypeThinking, map[string]interface{}{
		"thinking": "",
	})}
}

func (e *anthropicEmitter) ThinkingDelta(text string) []OutboundChunk {
	return []OutboundChunk{e.blockDelta(e.thinkingBlockIndex, map[string]interface{}{
		"type":     deltaTypeThinkingDelta,
		"thinking": text,
	})}
}

func (e *anthropicEmitter) ThinkingStop(signatureMillis int64) []OutboundChunk {
	if e.thinkingBlockIndex == -1 || e.stoppedBlocks[e.thinkingBlockIndex] {
		return nil
	}
	return []OutboundChunk{
		e.blockDelta(e.thinkingBlockIndex, map[string]interface{}{
			"type":      deltaTypeSignatureDelta,
			"signature": strconv.FormatInt(signatureMillis, 10),
		}),
		e.blockStop(e.thinkingBlockIndex),
	}
}

func (e *anthropicEmitter) TextStart() []OutboundChunk {
	if e.textBlockIndex != -1 {
		return nil
	}
	e.textBlockIndex = e.nextBlockIndex
	e.nextBlockIndex++
	return []OutboundChunk{e.blockStart(e.textBlockIndex, blockTypeText, map[string]interface{}{
		"text": "",
	})}
}

func (e *anthropicEmitter) TextDelta(text string) []OutboundChunk {
	return []OutboundChunk{e.blockDelta(e.textBlockIndex, map[string]interface{}{
		"type": deltaTypeTextDelta,
		"text": text,
	})}
}

func (e *anthropicEmitter) ToolOpen(index int, id, name string) []OutboundChunk {
	blockIndex := e.nextBlockIndex
	e.nextBlockIndex++
	e.toolBlockIndex[index] = blockIndex
	return []OutboundChunk{e.blockStart(blockIndex, blockTypeToolUse, map[string]interface{}{
		"id":    id,
		"name":  name,
		"input": map[string]interface{}{},
	})}
}

func (e *anthropicEmitter) ToolArgsDelta(index int, fragment string) []OutboundChunk {
	return []OutboundChunk{e.blockDelta(e.toolBlockIndex[index], map[string]interface{}{
		"type":         deltaTypeInputJSONDelta,
		"partial_json": fragment,
	})}
}

func (e *anthropicEmitter) ToolError(index int, id, kind string) []OutboundChunk {
	return []OutboundChunk{event(eventTypeError, map[string]interface{}{
		"error": map[string]interface{}{
			"message": "tool call " + id + " failed: " + kind,
			"type":    string(apierr.KindToolCallError),
			"code":    kind,
		},
	})}
}

// Finish stops every still-open block in index order, then emits
// message_delta with the stop reason and usage, then message_stop.
func (e *anthropicEmitter) Finish(finishReason string, usage upstream.Usage) []OutboundChunk {
	var open []int
	if e.thinkingBlockIndex != -1 && !e.stoppedBlocks[e.thinkingBlockIndex] {
		open = append(open, e.thinkingBlockIndex)
	}
	if e.textBlockIndex != -1 && !e.stoppedBlocks[e.textBlockIndex] {
		open = append(open, e.textBlockIndex)
	}
	for _, idx := range e.toolBlockIndex {
		if !e.stoppedBlocks[idx] {
			open = append(open, idx)
		}
	}
	sort.Ints(open)

	var out []OutboundChunk
	for _, idx := range open {
		out = append(out, e.blockStop(idx))
	}
	out = append(out, event(eventTypeMessageDelta, map[string]interface{}{
		"delta": map[string]interface{}{
			"stop_reason":   mapFinishReasonToStopReason(finishReason),
			"stop_sequence": nil,
		},
		"usage": map[string]interface{}{
			"input_tokens":  usage.InputTokens,
			"output_tokens": usage.OutputTokens,
		},
	}))
	stop := event(eventTypeMessageStop, map[string]interface{}{})
	stop.Terminal = true
	return append(out, stop)
}

func (e *anthropicEmitter) Error(apiErr *apierr.Error) []OutboundChunk {
	errEvent := event(eventTypeError, map[string]interface{}{
		"error": map[string]interface{}{
			"message": apiErr.Message,
			"type":    string(apiErr.Kind),
			"code":    apiErr.Code,
		},
	})
	errEvent.Terminal = true
	return []OutboundChunk{errEvent}
}

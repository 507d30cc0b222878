package adaptor

import (
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"

	"github.com/zbridge-dev/zbridge/internal/apierr"
	"github.com/zbridge-dev/zbridge/internal/cache"
	"github.com/zbridge-dev/zbridge/internal/config"
)

// FinalizeOpenAI drains the chunk channel and folds it into one non-stream
// chat.completion body. A terminal error chunk aborts with that error.
func (e *Engine) FinalizeOpenAI(chunks <-chan OutboundChunk) (map[string]interface{}, error) {
	var (
		content      string
		reasoning    string
		finishReason = finishReasonStop
		toolCalls    []map[string]interface{}
		toolByIndex  = map[int64]map[string]interface{}{}
		usage        map[string]interface{}
		streamErr    *apierr.Error
	)

	for c := range chunks {
		if c.Payload == nil {
			continue
		}
		doc, err := json.Marshal(c.Payload)
		if err != nil {
			continue
		}
		if errNode := gjson.GetBytes(doc, "error"); errNode.Exists() {
			kind := apierr.Kind(errNode.Get("type").String())
			if kind == apierr.KindToolCallError {
				// Per-call failure; the rest of the response stands.
				continue
			}
			streamErr = apierr.New(kind, errNode.Get("message").String())
			continue
		}

		delta := gjson.GetBytes(doc, "choices.0.delta")
		content += delta.Get("content").String()
		reasoning += delta.Get("reasoning_content").String()

		delta.Get("tool_calls").ForEach(func(_, tc gjson.Result) bool {
			idx := tc.Get("index").Int()
			call, ok := toolByIndex[idx]
			if !ok {
				call = map[string]interface{}{
					"id":   tc.Get("id").String(),
					"type": "function",
					"function": map[string]interface{}{
						"name":      tc.Get("function.name").String(),
						"arguments": "",
					},
				}
				toolByIndex[idx] = call
				toolCalls = append(toolCalls, call)
			}
			fn := call["function"].(map[string]interface{})
			fn["arguments"] = fn["arguments"].(string) + tc.Get("function.arguments").String()
			return true
		})

		if fr := gjson.GetBytes(doc, "choices.0.finish_reason"); fr.Type == gjson.String {
			finishReason = fr.String()
		}
		if u := gjson.GetBytes(doc, "usage"); u.Exists() {
			usage = map[string]interface{}{
				"prompt_tokens":     u.Get("prompt_tokens").Int(),
				"completion_tokens": u.Get("completion_tokens").Int(),
				"total_tokens":      u.Get("total_tokens").Int(),
			}
		}
	}

	if streamErr != nil {
		return nil, streamErr
	}

	if reasoning != "" {
		rendered := e.renderFinal(reasoning)
		if content != "" {
			content = rendered + "\n\n" + content
		} else {
			content = rendered
		}
	}

	message := map[string]interface{}{
		"role":    "assistant",
		"content": content,
	}
	if len(toolCalls) > 0 {
		message["tool_calls"] = toolCalls
	}

	return map[string]interface{}{
		"id":      e.opts.ResponseID,
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   e.opts.Model,
		"choices": []interface{}{
			map[string]interface{}{
				"index":         0,
				"message":       message,
				"finish_reason": finishReason,
			},
		},
		"usage": usage,
	}, nil
}

// renderFinal renders the aggregated reasoning text, memoizing deterministic
// modes in the shared content cache. Raw mode embeds the elapsed time and is
// never cached.
func (e *Engine) renderFinal(text string) string {
	mode := e.opts.ReasoningMode
	if e.opts.ContentCache == nil || mode == config.ReasoningModeRaw {
		return RenderReasoning(text, mode, e.reasoning.Elapsed())
	}
	key := cache.Fingerprint("reasoning", text, string(mode))
	if v, ok := e.opts.ContentCache.Get(key); ok {
		return v.(string)
	}
	rendered := RenderReasoning(text, mode, e.reasoning.Elapsed())
	e.opts.ContentCache.Set(key, rendered, e.opts.ContentTTL)
	return rendered
}

// FinalizeAnthropic drains the chunk channel and folds it into one
// non-stream Messages body, rebuilding the content block list in order.
func (e *Engine) FinalizeAnthropic(chunks <-chan OutboundChunk) (map[string]interface{}, error) {
	type block struct {
		kind      string
		id        string
		name      string
		text      string
		signature string
		inputJSON string
	}

	var (
		order      []int
		blocks     = map[int]*block{}
		stopReason = stopReasonEndTurn
		usage      = map[string]interface{}{"input_tokens": int64(0), "output_tokens": int64(0)}
		streamErr  *apierr.Error
	)

	for c := range chunks {
		doc, err := json.Marshal(c.Payload)
		if err != nil {
			continue
		}
		switch c.Event {
		case eventTypeContentBlockStart:
			idx := int(gjson.GetBytes(doc, "index").Int())
			cb := gjson.GetBytes(doc, "content_block")
			blocks[idx] = &block{
				kind: cb.Get("type").String(),
				id:   cb.Get("id").String(),
				name: cb.Get("name").String(),
			}
			order = append(order, idx)
		case eventTypeContentBlockDelta:
			idx := int(gjson.GetBytes(doc, "index").Int())
			b, ok := blocks[idx]
			if !ok {
				continue
			}
			delta := gjson.GetBytes(doc, "delta")
			switch delta.Get("type").String() {
			case deltaTypeTextDelta:
				b.text += delta.Get("text").String()
			case deltaTypeThinkingDelta:
				b.text += delta.Get("thinking").String()
			case deltaTypeSignatureDelta:
				b.signature = delta.Get("signature").String()
			case deltaTypeInputJSONDelta:
				b.inputJSON += delta.Get("partial_json").String()
			}
		case eventTypeMessageDelta:
			if sr := gjson.GetBytes(doc, "delta.stop_reason"); sr.Type == gjson.String {
				stopReason = sr.String()
			}
			if u := gjson.GetBytes(doc, "usage"); u.Exists() {
				usage["input_tokens"] = u.Get("input_tokens").Int()
				usage["output_tokens"] = u.Get("output_tokens").Int()
			}
		case eventTypeError:
			errNode := gjson.GetBytes(doc, "error")
			kind := apierr.Kind(errNode.Get("type").String())
			if kind == apierr.KindToolCallError {
				continue
			}
			streamErr = apierr.New(kind, errNode.Get("message").String())
		}
	}

	if streamErr != nil {
		return nil, streamErr
	}

	var content []interface{}
	for _, idx := range order {
		b := blocks[idx]
		switch b.kind {
		case blockTypeThinking:
			content = append(content, map[string]interface{}{
				"type":      blockTypeThinking,
				"thinking":  b.text,
				"signature": b.signature,
			})
		case blockTypeToolUse:
			var input interface{}
			if err := json.Unmarshal([]byte(b.inputJSON), &input); err != nil {
				input = map[string]interface{}{}
			}
			content = append(content, map[string]interface{}{
				"type":  blockTypeToolUse,
				"id":    b.id,
				"name":  b.name,
				"input": input,
			})
		default:
			content = append(content, map[string]interface{}{
				"type": blockTypeText,
				"text": b.text,
			})
		}
	}

	return map[string]interface{}{
		"id":            e.opts.ResponseID,
		"type":          "message",
		"role":          "assistant",
		"model":         e.opts.Model,
		"content":       content,
		"stop_reason":   stopReason,
		"stop_sequence": nil,
		"usage":         usage,
	}, nil
}

package adaptor

import (
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/tidwall/gjson"

	"github.com/zbridge-dev/zbridge/internal/apierr"
	"github.com/zbridge-dev/zbridge/internal/config"
	"github.com/zbridge-dev/zbridge/internal/upstream"
)

// AnthropicMessageRequest is the inbound Messages request with the stream
// flag the SDK param struct does not carry.
type AnthropicMessageRequest struct {
	anthropic.MessageNewParams
	Stream bool `json:"stream"`
}

func (r *AnthropicMessageRequest) UnmarshalJSON(data []byte) error {
	var inner anthropic.MessageNewParams
	aux := &struct {
		Stream bool `json:"stream"`
	}{}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	if err := json.Unmarshal(data, &inner); err != nil {
		return err
	}
	r.Stream = aux.Stream
	r.MessageNewParams = inner
	return nil
}

// Validate checks the minimal inbound contract.
func (r *AnthropicMessageRequest) Validate() error {
	if r.Model == "" {
		return apierr.New(apierr.KindInvalidRequest, "model is required")
	}
	if r.MaxTokens <= 0 {
		return apierr.New(apierr.KindInvalidRequest, "max_tokens must be positive")
	}
	if len(r.Messages) == 0 {
		return apierr.New(apierr.KindInvalidRequest, "messages must not be empty")
	}
	return nil
}

// ToUpstream converts the inbound Messages request into the common upstream
// form. System blocks are folded in as a system message so the shared
// coercion applies; tools are translated to the OpenAI function shape the
// upstream consumes.
func (r *AnthropicMessageRequest) ToUpstream(cfg *config.AppConfig, raw []byte) (*upstream.Request, error) {
	var msgs []upstream.Message
	if system := flattenContent(gjson.GetBytes(raw, "system")); system != "" {
		msgs = append(msgs, upstream.Message{Role: "system", Content: system})
	}
	msgs = append(msgs, flattenAnthropicMessages(gjson.GetBytes(raw, "messages"))...)

	tools := convertAnthropicTools(gjson.GetBytes(raw, "tools"))

	ureq := buildUpstreamRequest(cfg, DialectAnthropic, string(r.Model), msgs, tools)

	if r.Temperature.Valid() {
		v := r.Temperature.Value
		ureq.Temperature = &v
	}
	if r.TopP.Valid() {
		v := r.TopP.Value
		ureq.TopP = &v
	}
	if r.MaxTokens > 0 {
		v := r.MaxTokens
		ureq.MaxTokens = &v
	}

	return ureq, nil
}

// flattenAnthropicMessages reduces content block lists to plain text.
// tool_result blocks become user text; tool_use blocks carry no caller text.
func flattenAnthropicMessages(messages gjson.Result) []upstream.Message {
	var out []upstream.Message
	messages.ForEach(func(_, msg gjson.Result) bool {
		role := msg.Get("role").String()
		content := msg.Get("content")

		if content.Type == gjson.String {
			out = append(out, upstream.Message{Role: role, Content: content.String()})
			return true
		}

		var text string
		content.ForEach(func(_, block gjson.Result) bool {
			switch block.Get("type").String() {
			case "text":
				text += block.Get("text").String()
			case "tool_result":
				text += "[TOOL RESULT " + block.Get("tool_use_id").String() + "] " +
					flattenContent(block.Get("content"))
			}
			return true
		})
		if text != "" {
			out = append(out, upstream.Message{Role: role, Content: text})
		}
		return true
	})
	return out
}

// convertAnthropicTools maps Anthropic tool declarations to the OpenAI
// function-tool shape. input_schema and function.parameters are the same
// JSON Schema object, so the schema is lifted from the raw body verbatim;
// rebuilding it from the typed struct would drop keys like
// additionalProperties or $defs. Entries without an input_schema (server
// tools) are skipped.
func convertAnthropicTools(tools gjson.Result) []interface{} {
	var out []interface{}
	tools.ForEach(func(_, t gjson.Result) bool {
		name := t.Get("name").String()
		schema := t.Get("input_schema")
		if name == "" || !schema.Exists() {
			return true
		}
		fn := map[string]interface{}{
			"name":       name,
			"parameters": schema.Value(),
		}
		if d := t.Get("description"); d.Exists() {
			fn["description"] = d.String()
		}
		out = append(out, map[string]interface{}{
			"type":     "function",
			"function": fn,
		})
		return true
	})
	return out
}

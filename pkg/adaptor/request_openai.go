package adaptor

import (
	"encoding/json"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/tidwall/gjson"

	"github.com/zbridge-dev/zbridge/internal/apierr"
	"github.com/zbridge-dev/zbridge/internal/config"
	"github.com/zbridge-dev/zbridge/internal/upstream"
)

// OpenAIChatRequest is the inbound Chat Completions request; the SDK param
// struct drops "stream" on decode, so it is captured separately.
type OpenAIChatRequest struct {
	openai.ChatCompletionNewParams
	Stream bool `json:"stream"`
}

func (r *OpenAIChatRequest) UnmarshalJSON(data []byte) error {
	var inner openai.ChatCompletionNewParams
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
	r.ChatCompletionNewParams = inner
	return nil
}

// Validate checks the minimal inbound contract.
func (r *OpenAIChatRequest) Validate() error {
	if r.Model == "" {
		return apierr.New(apierr.KindInvalidRequest, "model is required")
	}
	if len(r.Messages) == 0 {
		return apierr.New(apierr.KindInvalidRequest, "messages must not be empty")
	}
	return nil
}

// knownOpenAIFields are inbound top-level fields with dedicated handling;
// everything else passes through to the upstream params untouched.
var knownOpenAIFields = map[string]bool{
	"model": true, "messages": true, "stream": true, "stream_options": true,
	"temperature": true, "top_p": true, "max_tokens": true,
	"max_completion_tokens": true, "tools": true, "tool_choice": true,
	"n": true, "user": true,
}

// ToUpstream converts the inbound request into the common upstream form.
// raw is the original request body, used for content flattening and
// unknown-field pass-through.
func (r *OpenAIChatRequest) ToUpstream(cfg *config.AppConfig, raw []byte) (*upstream.Request, error) {
	msgs := flattenOpenAIMessages(gjson.GetBytes(raw, "messages"))

	var tools []interface{}
	if len(r.Tools) > 0 {
		if b, err := json.Marshal(r.Tools); err == nil {
			_ = json.Unmarshal(b, &tools)
		}
	}

	ureq := buildUpstreamRequest(cfg, DialectOpenAI, string(r.Model), msgs, tools)

	if r.Temperature.Valid() {
		v := r.Temperature.Value
		ureq.Temperature = &v
	}
	if r.TopP.Valid() {
		v := r.TopP.Value
		ureq.TopP = &v
	}
	if r.MaxTokens.Valid() {
		v := r.MaxTokens.Value
		ureq.MaxTokens = &v
	} else if r.MaxCompletionTokens.Valid() {
		v := r.MaxCompletionTokens.Value
		ureq.MaxTokens = &v
	}

	gjson.ParseBytes(raw).ForEach(func(key, value gjson.Result) bool {
		if !knownOpenAIFields[key.String()] {
			ureq.Params[key.String()] = value.Value()
		}
		return true
	})

	return ureq, nil
}

// flattenOpenAIMessages reduces inbound messages to role/content pairs.
// Structured content parts are joined by their text; tool results become
// user messages so the single-upstream dialect can carry them.
func flattenOpenAIMessages(messages gjson.Result) []upstream.Message {
	var out []upstream.Message
	messages.ForEach(func(_, msg gjson.Result) bool {
		role := msg.Get("role").String()
		content := flattenContent(msg.Get("content"))

		switch role {
		case "tool":
			out = append(out, upstream.Message{
				Role:    "user",
				Content: "[TOOL RESULT " + msg.Get("tool_call_id").String() + "] " + content,
			})
		case "assistant":
			if tc := msg.Get("tool_calls"); tc.Exists() && content == "" {
				// A pure tool-call turn has no text to forward.
				return true
			}
			out = append(out, upstream.Message{Role: role, Content: content})
		default:
			out = append(out, upstream.Message{Role: role, Content: content})
		}
		return true
	})
	return out
}

// flattenContent joins a string or structured content value into plain text.
func flattenContent(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	if !content.IsArray() {
		return content.String()
	}
	var parts []string
	content.ForEach(func(_, part gjson.Result) bool {
		if t := part.Get("text"); t.Exists() {
			parts = append(parts, t.String())
		}
		return true
	})
	return strings.Join(parts, "\n")
}

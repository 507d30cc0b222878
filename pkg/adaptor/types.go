package adaptor

import (
	"github.com/anthropics/anthropic-sdk-go"
)

// Dialect selects the wire format the caller speaks.
type Dialect string

const (
	DialectOpenAI    Dialect = "openai"
	DialectAnthropic Dialect = "anthropic"
)

const (
	// OpenAI finish reasons
	finishReasonStop      = "stop"
	finishReasonLength    = "length"
	finishReasonToolCalls = "tool_calls"

	// Anthropic stop reasons
	stopReasonEndTurn   = string(anthropic.StopReasonEndTurn)
	stopReasonMaxTokens = string(anthropic.StopReasonMaxTokens)
	stopReasonToolUse   = string(anthropic.StopReasonToolUse)

	// Anthropic event types
	eventTypeMessageStart      = "message_start"
	eventTypeContentBlockStart = "content_block_start"
	eventTypeContentBlockDelta = "content_block_delta"
	eventTypeContentBlockStop  = "content_block_stop"
	eventTypeMessageDelta      = "message_delta"
	eventTypeMessageStop       = "message_stop"
	eventTypePing              = "ping"
	eventTypeError             = "error"

	// Anthropic block types
	blockTypeText     = "text"
	blockTypeThinking = "thinking"
	blockTypeToolUse  = "tool_use"

	// Anthropic delta types
	deltaTypeTextDelta      = "text_delta"
	deltaTypeThinkingDelta  = "thinking_delta"
	deltaTypeSignatureDelta = "signature_delta"
	deltaTypeInputJSONDelta = "input_json_delta"
)

// OutboundChunk is one dialect-tagged event produced by the translation
// engine. For OpenAI, Event is empty and Payload is one chat.completion.chunk
// object; a nil Payload with Terminal set is the data: [DONE] marker. For
// Anthropic, Event names the SSE event type and Payload is its body.
type OutboundChunk struct {
	Seq      int
	Event    string
	Payload  map[string]interface{}
	Terminal bool
}

// mapFinishReasonToStopReason converts an OpenAI finish_reason to the
// Anthropic stop_reason vocabulary.
func mapFinishReasonToStopReason(finishReason string) string {
	switch finishReason {
	case finishReasonLength:
		return stopReasonMaxTokens
	case finishReasonToolCalls:
		return stopReasonToolUse
	default:
		return stopReasonEndTurn
	}
}

package adaptor

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/zbridge-dev/zbridge/internal/upstream"
)

// finalize runs the engine over scripted frames and folds the chunk stream
// with the dialect finalizer.
func finalize(t *testing.T, opts Options, frames ...upstream.Frame) (map[string]interface{}, error) {
	t.Helper()
	in := make(chan upstream.FrameResult, len(frames))
	for _, f := range frames {
		in <- upstream.FrameResult{Frame: f}
	}
	close(in)

	eng := NewEngine(opts)
	chunks := eng.Run(context.Background(), in)
	if opts.Dialect == DialectAnthropic {
		return eng.FinalizeAnthropic(chunks)
	}
	return eng.FinalizeOpenAI(chunks)
}

func resultJSON(t *testing.T, result map[string]interface{}) gjson.Result {
	t.Helper()
	b, err := json.Marshal(result)
	require.NoError(t, err)
	return gjson.ParseBytes(b)
}

func TestFinalizeOpenAISimpleEcho(t *testing.T) {
	result, err := finalize(t, testOptions(DialectOpenAI),
		answerFrame("He"), answerFrame("llo"), answerFrame("!"),
		upstream.Frame{Phase: upstream.PhaseAnswer, Done: true},
	)
	require.NoError(t, err)

	doc := resultJSON(t, result)
	assert.Equal(t, "chat.completion", doc.Get("object").String())
	assert.Equal(t, "Hello!", doc.Get("choices.0.message.content").String())
	assert.Equal(t, "stop", doc.Get("choices.0.finish_reason").String())
	assert.Equal(t, int64(2), doc.Get("usage.completion_tokens").Int())
}

func TestFinalizeOpenAIThinkModeMergesReasoning(t *testing.T) {
	result, err := finalize(t, testOptions(DialectOpenAI),
		upstream.Frame{Phase: upstream.PhaseThinking, DeltaContent: "Let me "},
		upstream.Frame{Phase: upstream.PhaseThinking, DeltaContent: "ponder"},
		upstream.Frame{Phase: upstream.PhaseAnswer, EditContent: "</details>\n"},
		answerFrame("42"),
		upstream.Frame{Phase: upstream.PhaseAnswer, Done: true},
	)
	require.NoError(t, err)

	doc := resultJSON(t, result)
	assert.Equal(t, "🤔\n\nLet me ponder\n\n42", doc.Get("choices.0.message.content").String())
}

func TestFinalizeOpenAIToolCalls(t *testing.T) {
	result, err := finalize(t, testOptions(DialectOpenAI),
		upstream.Frame{Phase: upstream.PhaseToolCall, EditContent: wrapBlock(weatherBlock)},
		upstream.Frame{Phase: upstream.PhaseOther, EditContent: "null,{}"},
	)
	require.NoError(t, err)

	doc := resultJSON(t, result)
	assert.Equal(t, "tool_calls", doc.Get("choices.0.finish_reason").String())
	tc := doc.Get("choices.0.message.tool_calls.0")
	assert.Equal(t, "call_1", tc.Get("id").String())
	assert.Equal(t, "get_weather", tc.Get("function.name").String())
	assert.Equal(t, `{"city":"Beijing"}`, tc.Get("function.arguments").String())
}

func TestFinalizeOpenAIStreamErrorSurfaces(t *testing.T) {
	in := make(chan upstream.FrameResult, 1)
	in <- upstream.FrameResult{Err: assert.AnError}
	close(in)

	eng := NewEngine(testOptions(DialectOpenAI))
	chunks := eng.Run(context.Background(), in)
	_, err := eng.FinalizeOpenAI(chunks)
	require.Error(t, err)
}

func TestFinalizeAnthropicBlocks(t *testing.T) {
	result, err := finalize(t, testOptions(DialectAnthropic),
		upstream.Frame{Phase: upstream.PhaseThinking, DeltaContent: "hmm"},
		upstream.Frame{Phase: upstream.PhaseAnswer, EditContent: "</details>\n"},
		answerFrame("sure"),
		upstream.Frame{Phase: upstream.PhaseAnswer, Done: true},
	)
	require.NoError(t, err)

	doc := resultJSON(t, result)
	assert.Equal(t, "message", doc.Get("type").String())
	assert.Equal(t, "end_turn", doc.Get("stop_reason").String())

	blocks := doc.Get("content").Array()
	require.Len(t, blocks, 2)
	assert.Equal(t, "thinking", blocks[0].Get("type").String())
	assert.Equal(t, "hmm", blocks[0].Get("thinking").String())
	assert.NotEmpty(t, blocks[0].Get("signature").String())
	assert.Equal(t, "text", blocks[1].Get("type").String())
	assert.Equal(t, "sure", blocks[1].Get("text").String())
}

func TestFinalizeAnthropicToolUseInput(t *testing.T) {
	result, err := finalize(t, testOptions(DialectAnthropic),
		upstream.Frame{Phase: upstream.PhaseToolCall, EditContent: wrapBlock(weatherBlock)},
		upstream.Frame{Phase: upstream.PhaseOther, EditContent: "null,{}"},
	)
	require.NoError(t, err)

	doc := resultJSON(t, result)
	assert.Equal(t, "tool_use", doc.Get("stop_reason").String())
	block := doc.Get("content.0")
	assert.Equal(t, "tool_use", block.Get("type").String())
	assert.Equal(t, "Beijing", block.Get("input.city").String())
}

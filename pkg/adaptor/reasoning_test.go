package adaptor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/zbridge-dev/zbridge/internal/config"
)

func TestRenderThinkStripsWrappersAndQuotes(t *testing.T) {
	in := "<details type=\"reasoning\" open><summary>Thinking</summary>> Let me\n> ponder</details>"
	out := RenderReasoning(in, config.ReasoningModeThink, time.Second)
	assert.Equal(t, "🤔\n\nLet me\nponder", out)
}

func TestRenderThinkIdempotent(t *testing.T) {
	once := RenderReasoning("Let me ponder", config.ReasoningModeThink, time.Second)
	twice := RenderReasoning(once, config.ReasoningModeThink, time.Second)
	assert.Equal(t, once, twice)
}

func TestRenderPureQuotesLines(t *testing.T) {
	out := RenderReasoning("first\n\nsecond", config.ReasoningModePure, time.Second)
	assert.Equal(t, "> first\n\n> second", out)
}

func TestRenderPureIdempotent(t *testing.T) {
	once := RenderReasoning("first\nsecond", config.ReasoningModePure, time.Second)
	twice := RenderReasoning(once, config.ReasoningModePure, time.Second)
	assert.Equal(t, once, twice)
}

func TestRenderRawReversible(t *testing.T) {
	out := RenderReasoning("deep thought", config.ReasoningModeRaw, 3*time.Second)
	assert.Contains(t, out, "Thought for 3 seconds")
	assert.Equal(t, "deep thought", StripRawWrapper(out))
}

func TestRenderRawIdempotent(t *testing.T) {
	once := RenderReasoning("deep thought", config.ReasoningModeRaw, 3*time.Second)
	twice := RenderReasoning(once, config.ReasoningModeRaw, 9*time.Second)
	assert.Equal(t, once, twice)
}

func TestReasoningBufferFreeze(t *testing.T) {
	b := NewReasoningBuffer()
	b.Append("part one ")
	b.Append("part two")

	sig := b.Freeze()
	assert.True(t, b.Frozen())
	assert.NotZero(t, sig)

	// Appends after freeze are dropped and the signature is stable.
	b.Append("late")
	assert.Equal(t, "part one part two", b.Text())
	assert.Equal(t, sig, b.Freeze())
}

func TestScrubThinkingDelta(t *testing.T) {
	assert.Equal(t, "Let me", scrubThinkingDelta("> Let me"))
	assert.Equal(t, "a\nb", scrubThinkingDelta("a\n> b"))
	assert.Equal(t, "text", scrubThinkingDelta("<details open>text</details>"))
}

func TestThinkScrubberHandlesSplitQuoteMarker(t *testing.T) {
	cases := []struct {
		name   string
		deltas []string
	}{
		{"split after newline", []string{"a\n", "> b"}},
		{"split inside marker", []string{"a\n>", " b"}},
		{"whole marker in one delta", []string{"a", "\n> b"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var ts thinkScrubber
			var out string
			for _, d := range tc.deltas {
				out += ts.Scrub(d)
			}
			out += ts.Flush()
			assert.Equal(t, "a\nb", out)
		})
	}
}

func TestThinkScrubberFlushKeepsIncompleteMarker(t *testing.T) {
	// A ">" the marker never completed is real text and must not be lost.
	var ts thinkScrubber
	out := ts.Scrub("a\n>")
	out += ts.Flush()
	assert.Equal(t, "a\n>", out)
}

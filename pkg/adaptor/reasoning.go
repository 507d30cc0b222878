package adaptor

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/zbridge-dev/zbridge/internal/config"
)

const thinkPrefix = "🤔\n\n"

// reasoningTerminator marks the end of the upstream thinking section inside
// an answer frame's edit_content.
const reasoningTerminator = "</details>\n"

var (
	detailsOpenRe = regexp.MustCompile(`<details[^>]*>`)
	summaryRe     = regexp.MustCompile(`(?s)<summary>.*?</summary>`)
	rawWrapperRe  = regexp.MustCompile(`(?s)^<details type="reasoning" open><div>\n\n(.*)\n\n</div><summary>Thought for \d+ seconds</summary></details>$`)
)

// ReasoningBuffer accumulates upstream thinking text for one response. It is
// frozen at the first answer frame carrying the reasoning terminator; the
// freeze timestamp doubles as the block signature.
type ReasoningBuffer struct {
	buf       strings.Builder
	startedAt time.Time
	frozen    bool
	signature int64
}

func NewReasoningBuffer() *ReasoningBuffer {
	return &ReasoningBuffer{startedAt: time.Now()}
}

// Append adds thinking text. Appends after freeze are dropped.
func (b *ReasoningBuffer) Append(delta string) {
	if b.frozen {
		return
	}
	b.buf.WriteString(delta)
}

// Freeze seals the buffer and returns the millisecond signature. Freezing
// twice keeps the first signature.
func (b *ReasoningBuffer) Freeze() int64 {
	if !b.frozen {
		b.frozen = true
		b.signature = time.Now().UnixMilli()
	}
	return b.signature
}

func (b *ReasoningBuffer) Frozen() bool          { return b.frozen }
func (b *ReasoningBuffer) Signature() int64      { return b.signature }
func (b *ReasoningBuffer) Text() string          { return b.buf.String() }
func (b *ReasoningBuffer) Len() int              { return b.buf.Len() }
func (b *ReasoningBuffer) Elapsed() time.Duration { return time.Since(b.startedAt) }

// stripReasoningMarkup removes the upstream's details/summary wrappers, then
// leading "> " quote markers. Wrapper removal runs first so quoted lines
// inside a details block are fully unwrapped.
func stripReasoningMarkup(text string) string {
	text = detailsOpenRe.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "</details>", "")
	text = summaryRe.ReplaceAllString(text, "")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimPrefix(line, "> ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// RenderReasoning rewrites accumulated thinking text into the configured
// output style. Rendering an already rendered text returns it unchanged.
func RenderReasoning(text string, mode config.ReasoningMode, elapsed time.Duration) string {
	switch mode {
	case config.ReasoningModePure:
		return renderPure(text)
	case config.ReasoningModeRaw:
		return renderRaw(text, elapsed)
	default:
		return renderThink(text)
	}
}

func renderThink(text string) string {
	stripped := stripReasoningMarkup(text)
	if strings.HasPrefix(stripped, thinkPrefix) {
		return stripped
	}
	return thinkPrefix + stripped
}

func renderPure(text string) string {
	stripped := stripReasoningMarkupKeepQuotes(text)
	lines := strings.Split(stripped, "\n")
	for i, line := range lines {
		if line == "" || strings.HasPrefix(line, "> ") {
			continue
		}
		lines[i] = "> " + line
	}
	return strings.Join(lines, "\n")
}

// stripReasoningMarkupKeepQuotes removes wrappers only; quote markers stay so
// the pure renderer is idempotent over its own output.
func stripReasoningMarkupKeepQuotes(text string) string {
	text = detailsOpenRe.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "</details>", "")
	text = summaryRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

func renderRaw(text string, elapsed time.Duration) string {
	if rawWrapperRe.MatchString(text) {
		return text
	}
	seconds := int(elapsed.Seconds())
	return fmt.Sprintf("<details type=\"reasoning\" open><div>\n\n%s\n\n</div><summary>Thought for %d seconds</summary></details>", text, seconds)
}

// StripRawWrapper undoes renderRaw, returning the inner buffer text. Text
// without the wrapper is returned unchanged.
func StripRawWrapper(text string) string {
	if m := rawWrapperRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return text
}

// scrubThinkingDelta cleans one streamed thinking fragment: wrapper tags and
// quote markers are removed as they appear, text is otherwise untouched.
// Full-buffer rendering happens once at finalization.
func scrubThinkingDelta(delta string) string {
	delta = detailsOpenRe.ReplaceAllString(delta, "")
	delta = strings.ReplaceAll(delta, "</details>", "")
	delta = summaryRe.ReplaceAllString(delta, "")
	delta = strings.ReplaceAll(delta, "\n> ", "\n")
	return strings.TrimPrefix(delta, "> ")
}

// thinkScrubber scrubs a sequence of thinking fragments. A quote marker can
// straddle a fragment boundary, so a tail that could still become "\n> " is
// carried into the next fragment instead of being emitted.
type thinkScrubber struct {
	carry string
}

func (ts *thinkScrubber) Scrub(delta string) string {
	delta = ts.carry + delta
	ts.carry = ""
	if strings.HasSuffix(delta, "\n>") {
		ts.carry = "\n>"
	} else if strings.HasSuffix(delta, "\n") {
		ts.carry = "\n"
	}
	delta = delta[:len(delta)-len(ts.carry)]
	return scrubThinkingDelta(delta)
}

// Flush returns whatever tail is still held back, scrubbed.
func (ts *thinkScrubber) Flush() string {
	tail := ts.carry
	ts.carry = ""
	return scrubThinkingDelta(tail)
}

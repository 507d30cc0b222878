package adaptor

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wrapBlock(inner string) string {
	return glmBlockOpen + inner + glmBlockClose
}

const weatherBlock = `{"type":"tool_call","data":{"metadata":{"id":"call_1","name":"get_weather","arguments":{"city":"Beijing"}}}}`

func TestIngestSingleBlock(t *testing.T) {
	s := NewToolSession(time.Minute)
	events := s.Ingest(wrapBlock(weatherBlock))

	require.Len(t, events, 2)
	assert.Equal(t, toolEventOpen, events[0].kind)
	assert.Equal(t, "call_1", events[0].call.ID)
	assert.Equal(t, "get_weather", events[0].call.Name)
	assert.Equal(t, 0, events[0].call.Index)

	assert.Equal(t, toolEventArgsDelta, events[1].kind)
	assert.Equal(t, `{"city":"Beijing"}`, events[1].fragment)
	assert.True(t, s.AnyActive())
}

func TestIngestBlockSplitAcrossFrames(t *testing.T) {
	s := NewToolSession(time.Minute)
	full := wrapBlock(weatherBlock)
	cut := len(full) / 2

	events := s.Ingest(full[:cut])
	assert.Empty(t, events, "unclosed block must wait for its closer")

	events = s.Ingest(full[cut:])
	require.Len(t, events, 2)
	assert.Equal(t, toolEventOpen, events[0].kind)
}

func TestIngestTwoParallelBlocks(t *testing.T) {
	second := `{"type":"tool_call","data":{"metadata":{"id":"call_2","name":"get_time","arguments":{"tz":"UTC"}}}}`
	s := NewToolSession(time.Minute)
	events := s.Ingest(wrapBlock(weatherBlock) + wrapBlock(second))

	var opens []*ToolCall
	for _, ev := range events {
		if ev.kind == toolEventOpen {
			opens = append(opens, ev.call)
		}
	}
	require.Len(t, opens, 2)
	assert.Equal(t, 0, opens[0].Index)
	assert.Equal(t, 1, opens[1].Index)
	assert.Equal(t, "get_weather", opens[0].Name)
	assert.Equal(t, "get_time", opens[1].Name)

	closeEvents := s.CloseAll()
	assert.Empty(t, closeEvents, "valid argument buffers close cleanly")
	assert.False(t, s.AnyActive())
}

func TestIngestChunksLongArguments(t *testing.T) {
	long := strings.Repeat("x", 250)
	block := `{"type":"tool_call","data":{"metadata":{"id":"call_1","name":"echo","arguments":{"text":"` + long + `"}}}}`
	s := NewToolSession(time.Minute)
	events := s.Ingest(wrapBlock(block))

	var assembled string
	var fragments int
	for _, ev := range events {
		if ev.kind == toolEventArgsDelta {
			fragments++
			assert.LessOrEqual(t, len(ev.fragment), toolArgsChunkSize)
			assembled += ev.fragment
		}
	}
	assert.Greater(t, fragments, 1)
	assert.Equal(t, `{"text":"`+long+`"}`, assembled)
}

func TestIngestScaffoldingOutsideBlocksDropped(t *testing.T) {
	s := NewToolSession(time.Minute)
	events := s.Ingest("I will call a tool now " + wrapBlock(weatherBlock) + " please wait")
	require.Len(t, events, 2)
	assert.Equal(t, "", s.pending)
}

func TestIngestResentBlockEmitsSuffixOnly(t *testing.T) {
	s := NewToolSession(time.Minute)
	first := `{"type":"tool_call","data":{"metadata":{"id":"call_1","name":"echo","arguments":{"a":1}}}}`
	s.Ingest(wrapBlock(first))

	resent := `{"type":"tool_call","data":{"metadata":{"id":"call_1","name":"echo","arguments":{"a":1}}}}`
	events := s.Ingest(wrapBlock(resent))
	assert.Empty(t, events, "identical re-send emits nothing")
	require.Len(t, s.Calls(), 1)
}

func TestIngestResentBlocksWithoutIDsMatchByPosition(t *testing.T) {
	// Two open calls to the same tool, neither carrying an id. A later frame
	// re-sends both blocks with the second one extended; the suffix must land
	// on the second call, not the first prefix-matching one.
	blockFor := func(args string) string {
		return wrapBlock(`{"type":"tool_call","data":{"metadata":{"name":"echo","arguments":"` + args + `"}}}`)
	}
	s := NewToolSession(time.Minute)
	s.Ingest(blockFor(`{\"x\":`) + blockFor(`{\"x\":`))
	require.Len(t, s.Calls(), 2)

	events := s.Ingest(blockFor(`{\"x\":`) + blockFor(`{\"x\":2}`))
	require.Len(t, events, 1)
	assert.Equal(t, toolEventArgsDelta, events[0].kind)
	assert.Equal(t, 1, events[0].call.Index)
	assert.Equal(t, `2}`, events[0].fragment)
	assert.Equal(t, `{"x":`, s.Calls()[0].Args)
	assert.Equal(t, `{"x":2}`, s.Calls()[1].Args)
}

func TestIngestResentBlockMatchesByID(t *testing.T) {
	first := `{"type":"tool_call","data":{"metadata":{"id":"call_1","name":"echo","arguments":"{\"a\":"}}}`
	second := `{"type":"tool_call","data":{"metadata":{"id":"call_2","name":"echo","arguments":"{\"b\":"}}}`
	s := NewToolSession(time.Minute)
	s.Ingest(wrapBlock(first) + wrapBlock(second))
	require.Len(t, s.Calls(), 2)

	// The extension arrives alone; its id routes it to the right call even
	// though it sits at block position 0.
	resent := `{"type":"tool_call","data":{"metadata":{"id":"call_2","name":"echo","arguments":"{\"b\":1}"}}}`
	events := s.Ingest(wrapBlock(resent))
	require.Len(t, events, 1)
	assert.Equal(t, "call_2", events[0].call.ID)
	assert.Equal(t, `1}`, events[0].fragment)
}

func TestCloseAllStringArguments(t *testing.T) {
	// Arguments already serialized as a JSON string pass through verbatim.
	block := `{"type":"tool_call","data":{"metadata":{"id":"call_1","name":"echo","arguments":"{\"a\":1}"}}}`
	s := NewToolSession(time.Minute)
	events := s.Ingest(wrapBlock(block))
	require.Len(t, events, 2)
	assert.Equal(t, `{"a":1}`, events[1].fragment)
	assert.Empty(t, s.CloseAll())
}

func TestCloseAllRepairsAlmostValidJSON(t *testing.T) {
	// Trailing comma is repairable; the call closes without an error event.
	block := `{"type":"tool_call","data":{"metadata":{"id":"call_1","name":"echo","arguments":"{\"a\":1,}"}}}`
	s := NewToolSession(time.Minute)
	s.Ingest(wrapBlock(block))

	events := s.CloseAll()
	assert.Empty(t, events)
	assert.False(t, s.Calls()[0].Failed)
}

func TestCloseAllInvalidJSONYieldsError(t *testing.T) {
	block := `{"type":"tool_call","data":{"metadata":{"id":"call_1","name":"echo","arguments":"not json at all %%%"}}}`
	s := NewToolSession(time.Minute)
	s.Ingest(wrapBlock(block))

	events := s.CloseAll()
	require.Len(t, events, 1)
	assert.Equal(t, toolEventError, events[0].kind)
	assert.Equal(t, toolErrorKindInvalidJSON, events[0].errKind)
	assert.True(t, s.Calls()[0].Failed)
	assert.False(t, s.AnyActive())
}

func TestExpiredForceClosesWithTimeout(t *testing.T) {
	s := NewToolSession(10 * time.Millisecond)
	s.Ingest(wrapBlock(weatherBlock))

	events := s.Expired(time.Now().Add(time.Second))
	require.Len(t, events, 1)
	assert.Equal(t, toolEventError, events[0].kind)
	assert.Equal(t, toolErrorKindTimeout, events[0].errKind)
	assert.False(t, s.AnyActive())
}

func TestKeepPartialMarker(t *testing.T) {
	assert.Equal(t, "<glm_b", keepPartialMarker("some text <glm_b", glmBlockOpen))
	assert.Equal(t, "", keepPartialMarker("plain text", glmBlockOpen))
}

package adaptor

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"
	"github.com/sirupsen/logrus"
)

const (
	glmBlockOpen  = "<glm_block >"
	glmBlockClose = "</glm_block>"

	// toolArgsChunkSize bounds one arguments delta fragment.
	toolArgsChunkSize = 100
)

// ToolCallState tracks a single call's lifecycle.
type ToolCallState int

const (
	ToolCallOpen ToolCallState = iota
	ToolCallClosed
)

// ToolCall is one function invocation assembled from glm_block payloads,
// keyed by its ordinal within the response.
type ToolCall struct {
	Index    int
	ID       string
	Name     string
	Args     string // canonical JSON emitted so far
	State    ToolCallState
	Failed   bool
	OpenedAt time.Time
}

type toolEventKind int

const (
	toolEventOpen toolEventKind = iota
	toolEventArgsDelta
	toolEventError
)

const (
	toolErrorKindInvalidJSON = "invalid_json"
	toolErrorKindTimeout     = "timeout"
)

// toolEvent is one semantic event the assembler hands to the engine.
type toolEvent struct {
	kind     toolEventKind
	call     *ToolCall
	fragment string // args delta payload
	errKind  string
}

// glmBlockPayload is the JSON carried inside one glm_block pair.
type glmBlockPayload struct {
	Type string `json:"type"`
	Data struct {
		Metadata struct {
			ID        string          `json:"id"`
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		} `json:"metadata"`
	} `json:"data"`
}

// ToolSession owns the tool calls of one response. Blocks split across
// frames are buffered until their closer arrives.
type ToolSession struct {
	calls   []*ToolCall
	pending string
	timeout time.Duration
}

func NewToolSession(timeout time.Duration) *ToolSession {
	return &ToolSession{timeout: timeout}
}

// AnyActive reports whether any call is still open.
func (s *ToolSession) AnyActive() bool {
	for _, c := range s.calls {
		if c.State == ToolCallOpen {
			return true
		}
	}
	return false
}

// Calls returns the session's calls in ordinal order.
func (s *ToolSession) Calls() []*ToolCall { return s.calls }

// Ingest consumes one tool_call frame's edit_content and returns the
// resulting open/args events. Only blocks closed within the accumulated
// buffer are processed; a trailing unclosed block waits for the next frame.
func (s *ToolSession) Ingest(editContent string) []toolEvent {
	s.pending += editContent

	var events []toolEvent
	ordinal := 0
	for {
		start := strings.Index(s.pending, glmBlockOpen)
		if start < 0 {
			// Nothing block-shaped buffered; drop scaffolding text but keep
			// a possible partial opener at the tail.
			s.pending = keepPartialMarker(s.pending, glmBlockOpen)
			return events
		}
		end := strings.Index(s.pending[start:], glmBlockClose)
		if end < 0 {
			s.pending = s.pending[start:]
			return events
		}
		inner := s.pending[start+len(glmBlockOpen) : start+end]
		s.pending = s.pending[start+end+len(glmBlockClose):]
		events = append(events, s.ingestBlock(inner, ordinal)...)
		ordinal++
	}
}

// ingestBlock processes one closed block. ordinal is the block's position
// within the current frame, used to attribute id-less re-sends.
func (s *ToolSession) ingestBlock(inner string, ordinal int) []toolEvent {
	var payload glmBlockPayload
	if err := json.Unmarshal([]byte(inner), &payload); err != nil {
		logrus.Warnf("discarding undecodable tool block: %v", err)
		return nil
	}
	if payload.Type != "tool_call" {
		return nil
	}

	meta := payload.Data.Metadata
	index := len(s.calls)
	args := canonicalArguments(meta.Arguments)

	// The upstream may re-send a block for an already open call with a
	// longer arguments serialization; only the unseen suffix is emitted.
	// A block carrying an id is matched by that id alone. Without an id the
	// block's ordinal decides; name matching alone would mis-attribute the
	// extension when two open calls share a tool.
	if meta.ID != "" {
		for _, c := range s.calls {
			if c.State == ToolCallOpen && c.ID == meta.ID {
				if events, matched := extendCall(c, args); matched {
					return events
				}
			}
		}
	} else if ordinal < len(s.calls) {
		c := s.calls[ordinal]
		if c.State == ToolCallOpen && c.Name == meta.Name {
			if events, matched := extendCall(c, args); matched {
				return events
			}
		}
	}

	id := meta.ID
	if id == "" {
		id = "call_" + uuid.NewString()[:8]
	}
	call := &ToolCall{
		Index:    index,
		ID:       id,
		Name:     meta.Name,
		State:    ToolCallOpen,
		OpenedAt: time.Now(),
	}
	s.calls = append(s.calls, call)

	events := []toolEvent{{kind: toolEventOpen, call: call}}
	call.Args = args
	events = append(events, chunkArgsEvents(call, args)...)
	return events
}

// extendCall applies a re-sent serialization to an open call. It reports a
// match when the new args extend or equal the emitted prefix; only the
// unseen suffix is emitted so the fragment concatenation stays valid JSON.
func extendCall(c *ToolCall, args string) ([]toolEvent, bool) {
	if strings.HasPrefix(args, c.Args) && len(args) > len(c.Args) {
		suffix := args[len(c.Args):]
		c.Args = args
		return chunkArgsEvents(c, suffix), true
	}
	if args == c.Args {
		return nil, true
	}
	return nil, false
}

// CloseAll transitions every open call to CLOSED, validating its assembled
// arguments. Invalid JSON is first run through jsonrepair; an unrepairable
// buffer yields a tool error event for that call only.
func (s *ToolSession) CloseAll() []toolEvent {
	var events []toolEvent
	for _, c := range s.calls {
		if c.State != ToolCallOpen {
			continue
		}
		c.State = ToolCallClosed
		if json.Valid([]byte(c.Args)) {
			continue
		}
		// A repair only counts if it still yields structured arguments;
		// quoting arbitrary text into a JSON string is not a repair.
		if repaired, err := jsonrepair.JSONRepair(c.Args); err == nil && json.Valid([]byte(repaired)) &&
			(strings.HasPrefix(repaired, "{") || strings.HasPrefix(repaired, "[")) {
			logrus.Warnf("tool call %s arguments repaired on close", c.ID)
			continue
		}
		c.Failed = true
		events = append(events, toolEvent{kind: toolEventError, call: c, errKind: toolErrorKindInvalidJSON})
	}
	return events
}

// Expired force-closes calls whose open-to-close window exceeded the
// session timeout.
func (s *ToolSession) Expired(now time.Time) []toolEvent {
	if s.timeout <= 0 {
		return nil
	}
	var events []toolEvent
	for _, c := range s.calls {
		if c.State == ToolCallOpen && now.Sub(c.OpenedAt) > s.timeout {
			c.State = ToolCallClosed
			c.Failed = true
			events = append(events, toolEvent{kind: toolEventError, call: c, errKind: toolErrorKindTimeout})
		}
	}
	return events
}

// canonicalArguments renders the metadata arguments value as the canonical
// JSON string streamed to the caller. A JSON string value is unwrapped and
// used verbatim; anything else is compacted.
func canonicalArguments(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	var buf strings.Builder
	if err := compactJSON(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func compactJSON(dst *strings.Builder, raw json.RawMessage) error {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	dst.Write(b)
	return nil
}

// chunkArgsEvents splits an arguments fragment into bounded delta events.
func chunkArgsEvents(call *ToolCall, args string) []toolEvent {
	var events []toolEvent
	for len(args) > 0 {
		n := toolArgsChunkSize
		if n > len(args) {
			n = len(args)
		}
		events = append(events, toolEvent{kind: toolEventArgsDelta, call: call, fragment: args[:n]})
		args = args[n:]
	}
	return events
}

// keepPartialMarker trims text that cannot be part of a future marker,
// keeping only a tail that is a proper prefix of the marker.
func keepPartialMarker(text, marker string) string {
	max := len(marker) - 1
	if max > len(text) {
		max = len(text)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(text, marker[:n]) {
			return text[len(text)-n:]
		}
	}
	return ""
}

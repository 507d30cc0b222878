package adaptor

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zbridge-dev/zbridge/internal/apierr"
	"github.com/zbridge-dev/zbridge/internal/cache"
	"github.com/zbridge-dev/zbridge/internal/config"
	"github.com/zbridge-dev/zbridge/internal/obs"
	"github.com/zbridge-dev/zbridge/internal/upstream"
)

// ChunkBuffer is the capacity of the engine output channel.
const ChunkBuffer = 64

// toolTerminatorPrefix opens the "other" frame that closes a tool session.
const toolTerminatorPrefix = "null,"

// State is the engine's position in the response lifecycle.
type State int

const (
	StateInit State = iota
	StateStreamingAnswer
	StateStreamingThink
	StateToolCall
	StatePostThinkBridge
	StateDone
	StateError
)

// Options configures one translation engine run.
type Options struct {
	Dialect         Dialect
	Model           string
	ResponseID      string
	ReasoningMode   config.ReasoningMode
	PromptChars     int
	ToolCallTimeout time.Duration
	Monitor         *obs.Monitor

	// Optional memo store for deterministic reasoning renders.
	ContentCache *cache.Cache
	ContentTTL   time.Duration
}

// Engine drives the phase state machine for one response: it consumes
// upstream frames and produces dialect chunks. All fields are mutated by the
// Run goroutine only; accessors are safe once the output channel closes.
type Engine struct {
	opts Options
	em   emitter

	started      bool
	state        State
	reasoning    *ReasoningBuffer
	scrubber     thinkScrubber
	tools        *ToolSession
	usage        *upstream.Usage
	outputChars  int
	finishReason string
	seq          int

	answerText strings.Builder

	out chan OutboundChunk
	ctx context.Context
}

// NewEngine builds an engine for one request.
func NewEngine(opts Options) *Engine {
	var em emitter
	if opts.Dialect == DialectAnthropic {
		em = newAnthropicEmitter(opts.ResponseID, opts.Model)
	} else {
		em = newOpenAIEmitter(opts.ResponseID, opts.Model)
	}
	return &Engine{
		opts:         opts,
		em:           em,
		reasoning:    NewReasoningBuffer(),
		tools:        NewToolSession(opts.ToolCallTimeout),
		finishReason: finishReasonStop,
		out:          make(chan OutboundChunk, ChunkBuffer),
	}
}

// Run starts the translation goroutine. The returned channel is closed when
// the response is complete, errored, or the context is canceled.
func (e *Engine) Run(ctx context.Context, frames <-chan upstream.FrameResult) <-chan OutboundChunk {
	e.ctx = ctx
	go func() {
		defer close(e.out)

		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if e.state == StateToolCall {
					e.emitToolEvents(e.tools.Expired(time.Now()))
				}
			case fr, ok := <-frames:
				if !ok {
					e.finish()
					return
				}
				if fr.Err != nil {
					e.fail(fr.Err)
					return
				}
				if done := e.handleFrame(fr.Frame); done {
					return
				}
			}
		}
	}()
	return e.out
}

// handleFrame applies one upstream frame; it returns true once the response
// reached a terminal state.
func (e *Engine) handleFrame(frame upstream.Frame) bool {
	if e.state == StateDone || e.state == StateError {
		return true
	}
	if frame.Usage != nil {
		e.usage = frame.Usage
	}
	if frame.Error != nil {
		e.fail(apierr.New(apierr.KindUpstreamUnavailable, frame.Error.Detail))
		return true
	}

	e.ensureStarted()

	switch frame.Phase {
	case upstream.PhaseThinking:
		e.onThinking(frame)
	case upstream.PhaseAnswer:
		e.onAnswer(frame)
	case upstream.PhaseToolCall:
		e.onToolCall(frame)
	case upstream.PhaseOther:
		e.onOther(frame)
	}

	if frame.Done && e.state != StateDone && e.state != StateError {
		e.finish()
	}
	return e.state == StateDone || e.state == StateError
}

func (e *Engine) onThinking(frame upstream.Frame) {
	if frame.DeltaContent == "" || e.reasoning.Frozen() {
		return
	}
	if e.state != StateStreamingThink {
		e.send(e.em.ThinkingStart())
		e.state = StateStreamingThink
	}
	e.reasoning.Append(frame.DeltaContent)
	if scrubbed := e.scrubber.Scrub(frame.DeltaContent); scrubbed != "" {
		e.outputChars += len(scrubbed)
		e.send(e.em.ThinkingDelta(scrubbed))
	}
}

func (e *Engine) onAnswer(frame upstream.Frame) {
	text := frame.DeltaContent

	// The first answer frame may carry the frozen thinking block plus the
	// answer head in edit_content; only the first terminator freezes.
	if e.state == StateStreamingThink && !e.reasoning.Frozen() {
		if idx := strings.Index(frame.EditContent, reasoningTerminator); idx >= 0 {
			sig := e.reasoning.Freeze()
			if tail := e.scrubber.Flush(); tail != "" {
				e.outputChars += len(tail)
				e.send(e.em.ThinkingDelta(tail))
			}
			e.send(e.em.ThinkingStop(sig))
			e.state = StatePostThinkBridge
			if tail := frame.EditContent[idx+len(reasoningTerminator):]; tail != "" && text == "" {
				text = tail
			}
		}
	}

	if text == "" {
		return
	}
	if e.tools.AnyActive() {
		// Scaffolding text around tool calls never reaches the caller.
		logrus.Debugf("suppressing %d answer bytes during active tool calls", len(text))
		return
	}
	if e.state != StateStreamingAnswer {
		e.send(e.em.TextStart())
		e.state = StateStreamingAnswer
	}
	e.answerText.WriteString(text)
	e.outputChars += len(text)
	e.send(e.em.TextDelta(text))
}

func (e *Engine) onToolCall(frame upstream.Frame) {
	content := frame.EditContent
	if content == "" {
		content = frame.DeltaContent
	}
	e.state = StateToolCall
	e.emitToolEvents(e.tools.Ingest(content))
}

func (e *Engine) onOther(frame upstream.Frame) {
	if !strings.HasPrefix(frame.EditContent, toolTerminatorPrefix) {
		return
	}
	if !e.tools.AnyActive() {
		// A terminator with no open call carries no meaning; count it.
		if e.opts.Monitor != nil {
			e.opts.Monitor.OrphanToolTerminator()
		}
		logrus.Debug("ignoring tool terminator without active tool calls")
		return
	}
	e.emitToolEvents(e.tools.CloseAll())
	e.finishReason = finishReasonToolCalls
	e.finish()
}

func (e *Engine) emitToolEvents(events []toolEvent) {
	for _, ev := range events {
		switch ev.kind {
		case toolEventOpen:
			if e.opts.Monitor != nil {
				e.opts.Monitor.ToolCall(false)
			}
			e.send(e.em.ToolOpen(ev.call.Index, ev.call.ID, ev.call.Name))
		case toolEventArgsDelta:
			e.outputChars += len(ev.fragment)
			e.send(e.em.ToolArgsDelta(ev.call.Index, ev.fragment))
		case toolEventError:
			if e.opts.Monitor != nil {
				e.opts.Monitor.ToolCall(true)
			}
			logrus.Warnf("tool call %s errored: %s", ev.call.ID, ev.errKind)
			e.send(e.em.ToolError(ev.call.Index, ev.call.ID, ev.errKind))
		}
	}
}

func (e *Engine) ensureStarted() {
	if !e.started {
		e.started = true
		e.send(e.em.MessageStart())
	}
}

// finish emits the single terminator sequence for this response.
func (e *Engine) finish() {
	if e.state == StateDone || e.state == StateError {
		return
	}
	e.ensureStarted()
	e.send(e.em.Finish(e.finishReason, e.finalUsage()))
	e.state = StateDone
}

func (e *Engine) fail(err error) {
	if e.state == StateDone || e.state == StateError {
		return
	}
	apiErr := apierr.From(err)
	logrus.Errorf("stream terminated: %v", apiErr)
	e.send(e.em.Error(apiErr))
	e.state = StateError
}

// finalUsage prefers upstream-reported usage; otherwise both sides are
// estimated as ceil(chars/4).
func (e *Engine) finalUsage() upstream.Usage {
	if e.usage != nil && (e.usage.InputTokens > 0 || e.usage.OutputTokens > 0) {
		return *e.usage
	}
	return upstream.Usage{
		InputTokens:  estimateTokens(e.opts.PromptChars),
		OutputTokens: estimateTokens(e.outputChars),
	}
}

func estimateTokens(chars int) int64 {
	return int64((chars + 3) / 4)
}

func (e *Engine) send(chunks []OutboundChunk) {
	for _, c := range chunks {
		c.Seq = e.seq
		e.seq++
		select {
		case e.out <- c:
		case <-e.ctx.Done():
			return
		}
	}
}

// State reports the engine state; read it only after the output channel has
// closed.
func (e *Engine) State() State { return e.state }

// FinishReason reports the OpenAI-form finish reason chosen for the run.
func (e *Engine) FinishReason() string { return e.finishReason }

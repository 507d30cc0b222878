package upstream

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zbridge-dev/zbridge/internal/apierr"
)

const (
	// FrameBuffer is the capacity of the parser output channel; a slow
	// consumer backpressures the upstream read through it.
	FrameBuffer = 64

	maxLineSize = 1 << 20
)

// ParseStream reads the upstream SSE body and delivers FrameResults on the
// returned channel. The channel is closed after the terminating frame, a
// terminal error result, or context cancellation. Malformed data lines are
// skipped; onParseError is invoked once per skipped line.
func ParseStream(ctx context.Context, body io.ReadCloser, idleTimeout time.Duration, onParseError func()) <-chan FrameResult {
	out := make(chan FrameResult, FrameBuffer)

	go func() {
		defer close(out)
		defer body.Close()

		scanner := bufio.NewScanner(&idleReader{r: body, timeout: idleTimeout})
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")
			if payload == "[DONE]" {
				return
			}

			var env envelope
			if err := json.Unmarshal([]byte(payload), &env); err != nil {
				logrus.Warnf("skipping malformed upstream frame: %v", err)
				if onParseError != nil {
					onParseError()
				}
				continue
			}

			select {
			case out <- FrameResult{Frame: env.Data}:
			case <-ctx.Done():
				return
			}
			if env.Data.Done {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			result := FrameResult{Err: apierr.Wrap(apierr.KindUpstreamUnavailable, "upstream read failed", err)}
			if err == errIdleTimeout {
				result.Err = apierr.Wrap(apierr.KindUpstreamTimeout, "upstream stream idle timeout", err)
			}
			select {
			case out <- result:
			case <-ctx.Done():
			}
		}
	}()

	return out
}

var errIdleTimeout = &idleTimeoutError{}

type idleTimeoutError struct{}

func (*idleTimeoutError) Error() string   { return "stream idle timeout exceeded" }
func (*idleTimeoutError) Timeout() bool   { return true }
func (*idleTimeoutError) Temporary() bool { return false }

// idleReader applies a per-Read deadline so a stalled upstream cannot hold
// the parser goroutine forever.
type idleReader struct {
	r       io.Reader
	timeout time.Duration
}

type readResult struct {
	n   int
	err error
}

func (ir *idleReader) Read(p []byte) (int, error) {
	if ir.timeout <= 0 {
		return ir.r.Read(p)
	}
	// The inner read targets a private buffer, never p: after a timeout the
	// caller has moved on, and a late completion must not scribble into the
	// scanner's buffer. The buffered channel lets the goroutine finish and
	// exit once closing the body unblocks it; late bytes are dropped with
	// the stream.
	buf := make([]byte, len(p))
	done := make(chan readResult, 1)
	go func() {
		n, err := ir.r.Read(buf)
		done <- readResult{n, err}
	}()

	timer := time.NewTimer(ir.timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		copy(p, buf[:res.n])
		return res.n, res.err
	case <-timer.C:
		return 0, errIdleTimeout
	}
}

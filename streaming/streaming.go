// Package streaming implements the message-stream abstraction that
// sits between an Assistant Provider producer and a Stream Handler
// consumer: a finite, single-pass sequence of typed messages
// terminated by exactly one "result" message, plus the closed set of
// handler variants from spec.md §4.6. Consume pulls messages one at a
// time from the source on the caller's goroutine; there is no
// intermediate channel or buffer between producer and handler.
//
// Grounded on the teacher's utils/processor/stream_log.go (streaming
// log of agentic-loop events, including size-based rotation) and
// debug_watcher.go (raw message dumping for debugging).
package streaming

import (
	"context"
	"fmt"
	"time"

	"github.com/marlowe-ops/flowcraft/providers"
)

// MessageType is the closed set of message kinds a provider stream emits.
type MessageType string

const (
	MessageSystem     MessageType = "system"
	MessageAssistant  MessageType = "assistant"
	MessageToolUse    MessageType = "tool_use"
	MessageToolResult MessageType = "tool_result"
	MessageResult     MessageType = "result"
)

// Message is one element of the stream.
type Message struct {
	Type       MessageType
	Text       string                 // assistant message text
	ToolName   string                 // tool_use / tool_result
	ToolInput  map[string]interface{} // tool_use
	ToolOutput string                 // tool_result
	Cost       float64                // set on the terminal result message
	Metadata   map[string]interface{}
	At         time.Time
}

// Metrics tracks per-stream statistics, per spec.md §4.6.
type Metrics struct {
	MessageCount    int
	StreamStartedAt time.Time
	FirstTokenAt    time.Time
	CompletedAt     time.Time
	InterruptedAt   time.Time
	Cost            float64
}

// Interrupted reports whether the stream ended via cancellation/error
// rather than a clean terminal result message.
func (m Metrics) Interrupted() bool { return !m.InterruptedAt.IsZero() }

// ErrStreamInterrupted is returned when the producer or a handler
// terminates the stream before a terminal result message arrives.
var ErrStreamInterrupted = fmt.Errorf("stream_interrupted")

// Handler is the closed set of consumers a stream can be attached to.
type Handler interface {
	Handle(msg Message) error
}

// Consume drains src, feeding every message to h in delivery order and
// tracking Metrics, until a terminal "result" message arrives, the
// source is exhausted, ctx is cancelled, or h returns an error.
// Cancellation and handler errors both mark the stream interrupted and
// close the source so the producer is released promptly.
func Consume(ctx context.Context, src providers.StreamSource, h Handler) (Metrics, error) {
	metrics := Metrics{StreamStartedAt: now()}
	defer src.Close()

	for {
		select {
		case <-ctx.Done():
			metrics.InterruptedAt = now()
			return metrics, fmt.Errorf("%w: %v", ErrStreamInterrupted, ctx.Err())
		default:
		}

		raw, ok, err := src.Next(ctx)
		if err != nil {
			metrics.InterruptedAt = now()
			return metrics, fmt.Errorf("%w: %v", ErrStreamInterrupted, err)
		}
		if !ok {
			// Producer closed without a terminal result message: also
			// an interruption, per the "finite, single-pass, one
			// result message" contract.
			if metrics.CompletedAt.IsZero() {
				metrics.InterruptedAt = now()
				return metrics, ErrStreamInterrupted
			}
			return metrics, nil
		}

		msg, ok := raw.(Message)
		if !ok {
			metrics.InterruptedAt = now()
			return metrics, fmt.Errorf("%w: unexpected message type %T", ErrStreamInterrupted, raw)
		}

		metrics.MessageCount++
		if metrics.FirstTokenAt.IsZero() && msg.Type == MessageAssistant {
			metrics.FirstTokenAt = now()
		}

		if err := h.Handle(msg); err != nil {
			metrics.InterruptedAt = now()
			return metrics, fmt.Errorf("%w: handler error: %v", ErrStreamInterrupted, err)
		}

		if msg.Type == MessageResult {
			metrics.CompletedAt = now()
			metrics.Cost = msg.Cost
			return metrics, nil
		}
	}
}

// CollectingHandler concatenates assistant-message text and captures
// the terminal result message, implementing collect_stream=true.
type CollectingHandler struct {
	Text   string
	Result Message
	Inner  Handler // optional: also forward to another handler
}

// Handle implements Handler.
func (c *CollectingHandler) Handle(msg Message) error {
	if msg.Type == MessageAssistant {
		c.Text += msg.Text
	}
	if msg.Type == MessageResult {
		c.Result = msg
	}
	if c.Inner != nil {
		return c.Inner.Handle(msg)
	}
	return nil
}

// Response converts the accumulated state into a synchronous
// providers.Response, implementing collect_stream=true's contract.
func (c *CollectingHandler) Response(interrupted bool) providers.Response {
	return providers.Response{
		Success:     !interrupted,
		Text:        c.Text,
		Cost:        c.Result.Cost,
		Metadata:    c.Result.Metadata,
		Interrupted: interrupted,
	}
}

// now is indirected so it can be swapped in tests if needed; it must
// never be called during Workflow script evaluation (only inside the
// running binary), so time.Now is safe here.
func now() time.Time { return time.Now() }

package streaming

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// ConsoleHandler formats messages with a header/body/footer and a
// trailing statistics summary, mirroring the teacher's
// utils/processor/progress_display.go console output style.
type ConsoleHandler struct {
	Out     io.Writer
	count   int
	started time.Time
}

// NewConsoleHandler returns a ConsoleHandler writing to w.
func NewConsoleHandler(w io.Writer) *ConsoleHandler {
	return &ConsoleHandler{Out: w, started: time.Now()}
}

// Handle implements Handler.
func (c *ConsoleHandler) Handle(msg Message) error {
	if c.count == 0 {
		fmt.Fprintln(c.Out, "=== stream start ===")
	}
	c.count++
	switch msg.Type {
	case MessageAssistant:
		fmt.Fprintf(c.Out, "%s", msg.Text)
	case MessageToolUse:
		fmt.Fprintf(c.Out, "\n[tool_use] %s\n", msg.ToolName)
	case MessageToolResult:
		fmt.Fprintf(c.Out, "[tool_result] %s\n", msg.ToolOutput)
	case MessageResult:
		elapsed := time.Since(c.started)
		avg := time.Duration(0)
		if c.count > 0 {
			avg = elapsed / time.Duration(c.count)
		}
		fmt.Fprintf(c.Out, "\n=== statistics: %d messages, %s duration, %s avg/msg ===\n", c.count, elapsed, avg)
	}
	return nil
}

// SimpleHandler writes one line per message, with optional timestamps.
type SimpleHandler struct {
	Out        io.Writer
	Timestamps bool
}

// Handle implements Handler.
func (s *SimpleHandler) Handle(msg Message) error {
	prefix := ""
	if s.Timestamps {
		prefix = msg.At.Format(time.RFC3339) + " "
	}
	_, err := fmt.Fprintf(s.Out, "%s[%s] %s\n", prefix, msg.Type, summaryOf(msg))
	return err
}

func summaryOf(msg Message) string {
	switch msg.Type {
	case MessageAssistant:
		return msg.Text
	case MessageToolUse:
		return msg.ToolName
	case MessageToolResult:
		return msg.ToolOutput
	default:
		return ""
	}
}

// DebugHandler dumps every message and its metadata verbatim.
type DebugHandler struct {
	Out io.Writer
}

// Handle implements Handler.
func (d *DebugHandler) Handle(msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(d.Out, string(b))
	return err
}

// FileHandler appends each message as one JSON object per line,
// rotating to a numbered suffix file once the active file exceeds
// MaxSizeMB. Grounded on utils/processor/stream_log.go's rotation.
type FileHandler struct {
	Path       string
	MaxSizeMB  int
	MaxFiles   int
	mu         sync.Mutex
	file       *os.File
	sizeBytes  int64
}

// NewFileHandler opens (creating/appending) the handler's target file.
func NewFileHandler(path string, maxSizeMB, maxFiles int) (*FileHandler, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &FileHandler{Path: path, MaxSizeMB: maxSizeMB, MaxFiles: maxFiles, file: f, sizeBytes: info.Size()}, nil
}

// Handle implements Handler.
func (fh *FileHandler) Handle(msg Message) error {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	line, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	if fh.MaxSizeMB > 0 && fh.sizeBytes+int64(len(line)) > int64(fh.MaxSizeMB)*1024*1024 {
		if err := fh.rotate(); err != nil {
			return err
		}
	}

	n, err := fh.file.Write(line)
	fh.sizeBytes += int64(n)
	return err
}

// rotate renames the active file to a numbered suffix, trims segments
// beyond MaxFiles, and starts a fresh active file.
func (fh *FileHandler) rotate() error {
	if err := fh.file.Close(); err != nil {
		return err
	}
	for i := fh.MaxFiles - 1; i >= 1; i-- {
		src := fmt.Sprintf("%s.%d", fh.Path, i)
		dst := fmt.Sprintf("%s.%d", fh.Path, i+1)
		if i+1 > fh.MaxFiles {
			os.Remove(src)
			continue
		}
		if _, err := os.Stat(src); err == nil {
			os.Rename(src, dst)
		}
	}
	if _, err := os.Stat(fh.Path); err == nil {
		os.Rename(fh.Path, fmt.Sprintf("%s.1", fh.Path))
	}
	f, err := os.OpenFile(fh.Path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	fh.file = f
	fh.sizeBytes = 0
	return nil
}

// Close closes the active file.
func (fh *FileHandler) Close() error {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	return fh.file.Close()
}

// BufferHandler accumulates messages in memory, optionally as a
// fixed-size ring buffer that drops the oldest entry instead of
// blocking, optionally deduplicating consecutive identical messages.
type BufferHandler struct {
	MaxSize     int
	Ring        bool
	Dedup       bool
	mu          sync.Mutex
	messages    []Message
	lastKey     string
}

// Handle implements Handler.
func (b *BufferHandler) Handle(msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.Dedup {
		key := string(msg.Type) + "|" + msg.Text + "|" + msg.ToolOutput
		if key == b.lastKey {
			return nil
		}
		b.lastKey = key
	}

	if b.MaxSize > 0 && len(b.messages) >= b.MaxSize {
		if b.Ring {
			b.messages = append(b.messages[1:], msg)
			return nil
		}
		return fmt.Errorf("buffer handler: capacity %d exceeded", b.MaxSize)
	}
	b.messages = append(b.messages, msg)
	return nil
}

// Messages returns a snapshot of the buffered messages.
func (b *BufferHandler) Messages() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, len(b.messages))
	copy(out, b.messages)
	return out
}

// ErrorStrategy controls CallbackHandler behavior when the callback
// returns an error.
type ErrorStrategy string

const (
	ErrorStop     ErrorStrategy = "stop"
	ErrorContinue ErrorStrategy = "continue"
)

// CallbackHandler delivers messages to a caller-supplied function,
// with an optional message-type filter and a rate limit.
type CallbackHandler struct {
	Callback      func(Message) error
	Filter        map[MessageType]bool // nil/empty means no filtering
	RateLimitPerS float64
	OnError       ErrorStrategy

	mu          sync.Mutex
	windowStart time.Time
	windowCount int
}

// Handle implements Handler.
func (c *CallbackHandler) Handle(msg Message) error {
	if len(c.Filter) > 0 && !c.Filter[msg.Type] {
		return nil
	}
	if c.RateLimitPerS > 0 {
		c.mu.Lock()
		now := time.Now()
		if now.Sub(c.windowStart) >= time.Second {
			c.windowStart = now
			c.windowCount = 0
		}
		c.windowCount++
		over := float64(c.windowCount) > c.RateLimitPerS
		c.mu.Unlock()
		if over {
			time.Sleep(time.Second / time.Duration(c.RateLimitPerS))
		}
	}

	if err := c.Callback(msg); err != nil {
		if c.OnError == ErrorContinue {
			return nil
		}
		return err
	}
	return nil
}

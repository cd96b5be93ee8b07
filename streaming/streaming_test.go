package streaming

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource is a simple in-memory providers.StreamSource used by tests.
type fakeSource struct {
	msgs   []Message
	idx    int
	closed bool
}

func (f *fakeSource) Next(ctx context.Context) (interface{}, bool, error) {
	if f.idx >= len(f.msgs) {
		return nil, false, nil
	}
	m := f.msgs[f.idx]
	f.idx++
	return m, true, nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

func TestConsumeCollectsUntilResult(t *testing.T) {
	src := &fakeSource{msgs: []Message{
		{Type: MessageAssistant, Text: "hello "},
		{Type: MessageAssistant, Text: "world"},
		{Type: MessageResult, Cost: 0.01},
	}}
	collector := &CollectingHandler{}
	metrics, err := Consume(context.Background(), src, collector)
	require.NoError(t, err)
	assert.Equal(t, "hello world", collector.Text)
	assert.Equal(t, 3, metrics.MessageCount)
	assert.False(t, metrics.Interrupted())
	assert.True(t, src.closed)
}

func TestConsumeWithoutTerminalResultIsInterrupted(t *testing.T) {
	src := &fakeSource{msgs: []Message{{Type: MessageAssistant, Text: "partial"}}}
	collector := &CollectingHandler{}
	_, err := Consume(context.Background(), src, collector)
	assert.ErrorIs(t, err, ErrStreamInterrupted)
}

func TestConsumeRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &fakeSource{msgs: []Message{{Type: MessageAssistant, Text: "x"}}}
	_, err := Consume(ctx, src, &CollectingHandler{})
	assert.ErrorIs(t, err, ErrStreamInterrupted)
}

func TestBufferHandlerRingDropsOldest(t *testing.T) {
	b := &BufferHandler{MaxSize: 2, Ring: true}
	require.NoError(t, b.Handle(Message{Type: MessageAssistant, Text: "a"}))
	require.NoError(t, b.Handle(Message{Type: MessageAssistant, Text: "b"}))
	require.NoError(t, b.Handle(Message{Type: MessageAssistant, Text: "c"}))
	msgs := b.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "b", msgs[0].Text)
	assert.Equal(t, "c", msgs[1].Text)
}

func TestBufferHandlerNonRingErrorsOnOverflow(t *testing.T) {
	b := &BufferHandler{MaxSize: 1}
	require.NoError(t, b.Handle(Message{Type: MessageAssistant, Text: "a"}))
	err := b.Handle(Message{Type: MessageAssistant, Text: "b"})
	assert.Error(t, err)
}

func TestBufferHandlerDedup(t *testing.T) {
	b := &BufferHandler{MaxSize: 10, Dedup: true}
	require.NoError(t, b.Handle(Message{Type: MessageAssistant, Text: "a"}))
	require.NoError(t, b.Handle(Message{Type: MessageAssistant, Text: "a"}))
	assert.Len(t, b.Messages(), 1)
}

func TestCallbackHandlerFilterAndErrorStrategy(t *testing.T) {
	var got []Message
	cb := &CallbackHandler{
		Callback: func(m Message) error { got = append(got, m); return nil },
		Filter:   map[MessageType]bool{MessageAssistant: true},
		OnError:  ErrorContinue,
	}
	require.NoError(t, cb.Handle(Message{Type: MessageToolUse}))
	require.NoError(t, cb.Handle(Message{Type: MessageAssistant, Text: "hi"}))
	assert.Len(t, got, 1)
}

func TestConsoleHandlerWritesStatisticsFooter(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleHandler(&buf)
	require.NoError(t, c.Handle(Message{Type: MessageAssistant, Text: "hi"}))
	require.NoError(t, c.Handle(Message{Type: MessageResult, At: time.Now()}))
	assert.Contains(t, buf.String(), "statistics")
}

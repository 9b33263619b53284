package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dagbolade/munin-core/internal/agent"
	"github.com/dagbolade/munin-core/internal/policy"
	"github.com/dagbolade/munin-core/internal/protocol"
	"github.com/dagbolade/munin-core/internal/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events map[string][]protocol.Event
}

func newRecordingSink() *recordingSink {
	return &recordingSink{events: make(map[string][]protocol.Event)}
}

func (s *recordingSink) Emit(sessionID string, e protocol.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[sessionID] = append(s.events[sessionID], e)
}

func (s *recordingSink) session(id string) []protocol.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Event(nil), s.events[id]...)
}

func newTestAgent() *agent.Runtime {
	reg := tool.NewDefaultRegistry()
	return agent.New(policy.NewEngine(reg), tool.NewRouter(reg))
}

func TestMemoryQueuePublishConsume(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan protocol.SpeechTurn, 2)
	go q.Consume(ctx, 2, func(_ context.Context, turn protocol.SpeechTurn) error {
		got <- turn
		return nil
	})

	require.NoError(t, q.Publish(ctx, protocol.SpeechTurn{SessionID: "a", Transcript: "status"}))
	require.NoError(t, q.Publish(ctx, protocol.SpeechTurn{SessionID: "b", Transcript: "hello"}))

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case turn := <-got:
			seen[turn.SessionID] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for turn")
		}
	}
	assert.True(t, seen["a"] && seen["b"])
}

func TestMemoryQueueClose(t *testing.T) {
	q := NewMemoryQueue(1)
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	err := q.Publish(context.Background(), protocol.SpeechTurn{Transcript: "x"})
	assert.ErrorIs(t, err, ErrQueueClosed)

	err = q.Consume(context.Background(), 1, func(context.Context, protocol.SpeechTurn) error { return nil })
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestMemoryQueuePublishRespectsContext(t *testing.T) {
	q := NewMemoryQueue(1)
	require.NoError(t, q.Publish(context.Background(), protocol.SpeechTurn{Transcript: "fills the buffer"}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := q.Publish(ctx, protocol.SpeechTurn{Transcript: "blocked"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryQueueHandlerErrorKeepsConsuming(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	calls := 0
	done := make(chan struct{})
	go q.Consume(ctx, 1, func(context.Context, protocol.SpeechTurn) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 2 {
			close(done)
		}
		return errors.New("boom")
	})

	require.NoError(t, q.Publish(ctx, protocol.SpeechTurn{Transcript: "one"}))
	require.NoError(t, q.Publish(ctx, protocol.SpeechTurn{Transcript: "two"}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer stopped after a handler error")
	}
}

func TestDispatcherEmitsTranscriptThenEvents(t *testing.T) {
	sink := newRecordingSink()
	d := NewDispatcher(newTestAgent(), sink, false)

	turn := protocol.SpeechTurn{SessionID: "s-1", Transcript: "status", Locale: "en-US"}
	require.NoError(t, d.Handle(context.Background(), turn))

	events := sink.session("s-1")
	require.Len(t, events, 4)
	assert.Equal(t, protocol.EventTranscript, events[0].Type)
	assert.Equal(t, turn, *events[0].Transcript)
	assert.Equal(t, "Heard: status", events[1].Text)
	assert.Equal(t, protocol.EventToolCall, events[2].Type)
	assert.Equal(t, protocol.EventToolResult, events[3].Type)
}

func TestDispatcherWithholdsConfirmation(t *testing.T) {
	sink := newRecordingSink()
	d := NewDispatcher(newTestAgent(), sink, false)

	require.NoError(t, d.Handle(context.Background(), protocol.SpeechTurn{SessionID: "s", Transcript: "exec uptime"}))

	events := sink.session("s")
	require.Len(t, events, 4)
	assert.Equal(t, protocol.EventResponseText, events[3].Type)
	assert.Contains(t, events[3].Text, "requires confirmation")
}

func TestDispatcherRunOverMemoryQueue(t *testing.T) {
	sink := newRecordingSink()
	d := NewDispatcher(newTestAgent(), sink, false)
	q := NewMemoryQueue(8)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx, q, 2) }()

	require.NoError(t, q.Publish(ctx, protocol.SpeechTurn{SessionID: "x", Transcript: "hello"}))

	deadline := time.Now().Add(2 * time.Second)
	for len(sink.session("x")) < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Len(t, sink.session("x"), 3)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestMultiSink(t *testing.T) {
	a, b := newRecordingSink(), newRecordingSink()
	MultiSink{a, b, LogSink{}}.Emit("s", protocol.NewResponseText("hi"))

	assert.Len(t, a.session("s"), 1)
	assert.Len(t, b.session("s"), 1)
}

func TestTurnCodec(t *testing.T) {
	turn := protocol.SpeechTurn{SessionID: "s", Transcript: "read /tmp/x", Locale: "nb-NO"}
	data, err := encodeTurn(turn)
	require.NoError(t, err)

	decoded, err := decodeTurn(data)
	require.NoError(t, err)
	assert.Equal(t, turn, decoded)

	_, err = decodeTurn([]byte(`{"session_id":"s"}`))
	assert.Error(t, err)
	_, err = decodeTurn([]byte(`not json`))
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	q, err := Open(ctx, Config{Driver: "none"})
	require.NoError(t, err)
	assert.Nil(t, q)

	q, err = Open(ctx, Config{Driver: "MEMORY"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryQueue{}, q)

	_, err = Open(ctx, Config{Driver: "kafka"})
	assert.Error(t, err)

	_, err = Open(ctx, Config{Driver: DriverRedis})
	assert.ErrorContains(t, err, "redis address is required")

	_, err = Open(ctx, Config{Driver: DriverRabbitMQ})
	assert.ErrorContains(t, err, "rabbitmq url is required")
}

func TestRedisOptions(t *testing.T) {
	opts, err := redisOptions(RedisQueueConfig{URL: "redis://:secret@cache:6380/2"})
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)

	_, err = redisOptions(RedisQueueConfig{URL: "http://nope"})
	assert.Error(t, err)
}

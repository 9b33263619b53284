package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/dagbolade/munin-core/internal/audit"
	"github.com/dagbolade/munin-core/internal/policy"
	"github.com/dagbolade/munin-core/internal/protocol"
	"github.com/dagbolade/munin-core/internal/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type spyRouter struct {
	next  Dispatcher
	mu    sync.Mutex
	calls []string
}

func (s *spyRouter) Execute(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	s.mu.Lock()
	s.calls = append(s.calls, name)
	s.mu.Unlock()
	return s.next.Execute(ctx, name, args)
}

func (s *spyRouter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type dispatchFunc func(ctx context.Context, name string, args map[string]any) (map[string]any, error)

func (f dispatchFunc) Execute(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	return f(ctx, name, args)
}

type evaluatorFunc func(req policy.Request) policy.Decision

func (f evaluatorFunc) Evaluate(req policy.Request) policy.Decision {
	return f(req)
}

type memoryJournal struct {
	mu      sync.Mutex
	records []audit.Record
	err     error
}

func (j *memoryJournal) Log(_ context.Context, rec audit.Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.records = append(j.records, rec)
	return nil
}

func newTestRuntime(opts ...Option) (*Runtime, *spyRouter) {
	reg := tool.NewDefaultRegistry()
	spy := &spyRouter{next: tool.NewRouter(reg)}
	return New(policy.NewEngine(reg), spy, opts...), spy
}

func types(events []protocol.Event) []protocol.EventType {
	out := make([]protocol.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func TestHandleEchoesInputFirst(t *testing.T) {
	rt, _ := newTestRuntime()

	for _, input := range []string{"", "hello there", "status", "exec ls", "read /nope", "write a::b"} {
		events, err := rt.Handle(context.Background(), input, false)
		require.NoError(t, err)
		require.NotEmpty(t, events, "input %q", input)
		assert.Equal(t, protocol.EventResponseText, events[0].Type)
		assert.Equal(t, "Heard: "+input, events[0].Text)
	}
}

func TestHandleNoIntent(t *testing.T) {
	rt, spy := newTestRuntime()

	events, err := rt.Handle(context.Background(), "hello there", true)
	require.NoError(t, err)

	assert.Equal(t, []protocol.EventType{protocol.EventResponseText, protocol.EventResponseText}, types(events))
	assert.Equal(t, "No tool selected. I can run: system status, read/write file, shell exec, network get.", events[1].Text)
	assert.Zero(t, spy.count())
}

func TestHandleStatus(t *testing.T) {
	rt, _ := newTestRuntime()

	events, err := rt.Handle(context.Background(), "status", false)
	require.NoError(t, err)
	require.Equal(t, []protocol.EventType{protocol.EventResponseText, protocol.EventToolCall, protocol.EventToolResult}, types(events))

	call := events[1].ToolCall
	assert.Equal(t, "system.status", call.Tool)
	assert.False(t, call.RequiresConfirmation)
	assert.NotEmpty(t, call.ID)

	result := events[2].ToolResult
	assert.Equal(t, call.ID, result.ID)
	assert.True(t, result.OK)
	output, ok := result.Output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, runtime.GOOS, output["os"])
	assert.Equal(t, runtime.GOARCH, output["arch"])
}

func TestHandleReadNeedsNoConfirmation(t *testing.T) {
	rt, _ := newTestRuntime()
	path := filepath.Join(t.TempDir(), "hostname")
	require.NoError(t, os.WriteFile(path, []byte("munin-box\n"), 0644))

	events, err := rt.Handle(context.Background(), "read "+path, false)
	require.NoError(t, err)
	require.Equal(t, []protocol.EventType{protocol.EventResponseText, protocol.EventToolCall, protocol.EventToolResult}, types(events))

	assert.Equal(t, "file.read", events[1].ToolCall.Tool)
	assert.False(t, events[1].ToolCall.RequiresConfirmation)
	assert.True(t, events[2].ToolResult.OK)
}

func TestHandleConfirmationWithheld(t *testing.T) {
	journal := &memoryJournal{}
	rt, spy := newTestRuntime(WithJournal(journal))
	path := filepath.Join(t.TempDir(), "never.txt")

	tests := []struct {
		input string
		tool  string
	}{
		{"exec uptime", "shell.exec"},
		{"write " + path + " :: data", "file.write"},
	}

	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			events, err := rt.Handle(context.Background(), tt.input, false)
			require.NoError(t, err)
			require.Equal(t, []protocol.EventType{protocol.EventResponseText, protocol.EventToolCall, protocol.EventResponseText}, types(events))

			assert.True(t, events[1].ToolCall.RequiresConfirmation)
			assert.Contains(t, events[2].Text, "requires confirmation")
			assert.True(t, strings.HasPrefix(events[2].Text, "Tool "+tt.tool+" requires confirmation: "))
		})
	}

	assert.Zero(t, spy.count(), "router must not run without approval")
	assert.NoFileExists(t, path)

	require.Len(t, journal.records, 2)
	for _, rec := range journal.records {
		assert.Equal(t, audit.DecisionPending, rec.Decision)
		assert.NotEmpty(t, rec.CallID)
	}
}

func TestHandleShellAutoApproved(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses POSIX shell syntax")
	}
	rt, _ := newTestRuntime()

	events, err := rt.Handle(context.Background(), "exec echo hi", true)
	require.NoError(t, err)
	require.Len(t, events, 3)

	result := events[2].ToolResult
	require.True(t, result.OK)
	output := result.Output.(map[string]any)
	assert.Equal(t, 0, output["status"])
	assert.Equal(t, "hi\n", output["stdout"])
	assert.Contains(t, output, "stderr")
}

func TestHandleWriteReadRoundTrip(t *testing.T) {
	rt, _ := newTestRuntime()
	path := filepath.Join(t.TempDir(), "sub", "Notes.txt")

	events, err := rt.Handle(context.Background(), "write "+path+" :: remember the milk", true)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.True(t, events[2].ToolResult.OK)

	events, err = rt.Handle(context.Background(), "read "+path, false)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.True(t, events[2].ToolResult.OK)
	assert.Equal(t, "remember the milk", events[2].ToolResult.Output.(map[string]any)["content"])
}

func TestHandleRouterFailureIsAResult(t *testing.T) {
	rt, _ := newTestRuntime()
	missing := filepath.Join(t.TempDir(), "missing.txt")

	events, err := rt.Handle(context.Background(), "read "+missing, false)
	require.NoError(t, err)
	require.Len(t, events, 3)

	result := events[2].ToolResult
	assert.False(t, result.OK)
	output := result.Output.(map[string]any)
	assert.Contains(t, output["error"], "failed reading")
}

func TestHandlePolicyDenial(t *testing.T) {
	journal := &memoryJournal{}
	deny := evaluatorFunc(func(req policy.Request) policy.Decision {
		return policy.Decision{Allowed: false, Reason: "not today: " + req.ToolName}
	})
	called := false
	router := dispatchFunc(func(context.Context, string, map[string]any) (map[string]any, error) {
		called = true
		return nil, nil
	})
	rt := New(deny, router, WithJournal(journal))

	events, err := rt.Handle(context.Background(), "status", true)
	require.NoError(t, err)
	require.Equal(t, []protocol.EventType{protocol.EventResponseText, protocol.EventError}, types(events))
	assert.Equal(t, "not today: system.status", events[1].Text)
	assert.False(t, called)

	require.Len(t, journal.records, 1)
	assert.Equal(t, audit.DecisionDeny, journal.records[0].Decision)
	assert.Empty(t, journal.records[0].CallID)
}

func TestHandleJournalsAllowedCalls(t *testing.T) {
	journal := &memoryJournal{}
	rt, _ := newTestRuntime(WithJournal(journal))

	events, err := rt.Handle(context.Background(), "system status please", false)
	require.NoError(t, err)
	require.Len(t, events, 3)

	require.Len(t, journal.records, 1)
	rec := journal.records[0]
	assert.Equal(t, audit.DecisionAllow, rec.Decision)
	assert.Equal(t, events[1].ToolCall.ID, rec.CallID)
	assert.Equal(t, "Read-only action", rec.Reason)
}

func TestHandleJournalFailureIsIgnored(t *testing.T) {
	rt, _ := newTestRuntime(WithJournal(&memoryJournal{err: errors.New("disk full")}))

	events, err := rt.Handle(context.Background(), "status", false)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestHandleIDFailureAbortsCall(t *testing.T) {
	rt, spy := newTestRuntime(WithIDGenerator(func() (string, error) {
		return "", errors.New("entropy exhausted")
	}))

	events, err := rt.Handle(context.Background(), "status", true)
	require.ErrorIs(t, err, ErrCallID)
	assert.Equal(t, []protocol.EventType{protocol.EventResponseText}, types(events))
	assert.Zero(t, spy.count())

	// The runtime keeps serving after an aborted call.
	events, err = rt.Handle(context.Background(), "hello", false)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestHandleCancellationSkipsResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})

	router := dispatchFunc(func(ctx context.Context, _ string, _ map[string]any) (map[string]any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	rt := New(policy.NewEngine(tool.NewDefaultRegistry()), router)

	go func() {
		<-started
		cancel()
	}()

	events, err := rt.Handle(ctx, "status", false)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []protocol.EventType{protocol.EventResponseText, protocol.EventToolCall}, types(events))
}

func TestStreamStopsOnEmitError(t *testing.T) {
	rt, spy := newTestRuntime()
	stop := errors.New("client gone")

	var got []protocol.Event
	err := rt.Stream(context.Background(), "status", true, func(e protocol.Event) error {
		got = append(got, e)
		if e.Type == protocol.EventToolCall {
			return stop
		}
		return nil
	})

	require.ErrorIs(t, err, stop)
	assert.Len(t, got, 2)
	assert.Zero(t, spy.count())
}

func TestHandleConcurrentCalls(t *testing.T) {
	rt, _ := newTestRuntime()

	const n = 16
	var wg sync.WaitGroup
	ids := make([]string, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			events, err := rt.Handle(context.Background(), "status", false)
			if err != nil {
				errs[i] = err
				return
			}
			if len(events) != 3 {
				errs[i] = fmt.Errorf("call %d: expected 3 events, got %d", i, len(events))
				return
			}
			ids[i] = events[1].ToolCall.ID
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.False(t, seen[ids[i]], "duplicate call id %s", ids[i])
		seen[ids[i]] = true
	}
}

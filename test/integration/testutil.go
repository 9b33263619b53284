package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dagbolade/munin-core/internal/agent"
	"github.com/dagbolade/munin-core/internal/audit"
	"github.com/dagbolade/munin-core/internal/auth"
	"github.com/dagbolade/munin-core/internal/bus"
	"github.com/dagbolade/munin-core/internal/policy"
	"github.com/dagbolade/munin-core/internal/protocol"
	"github.com/dagbolade/munin-core/internal/server"
	"github.com/dagbolade/munin-core/internal/tool"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// TestEnvironment is the whole stack wired the way the api command wires it,
// served over a real listener.
type TestEnvironment struct {
	Registry    *tool.Registry
	Engine      *policy.Engine
	AuditStore  *audit.SQLiteStore
	Runtime     *agent.Runtime
	AuthManager *auth.Manager
	Server      *server.Server
	HTTPServer  *httptest.Server
	Queue       *bus.MemoryQueue
	PolicyFile  string
	WorkDir     string
	t           *testing.T
}

type envOptions struct {
	autoApprove bool
	requireAuth bool
}

type EnvOption func(*envOptions)

func WithAutoApprove() EnvOption {
	return func(o *envOptions) { o.autoApprove = true }
}

func WithAuth() EnvOption {
	return func(o *envOptions) { o.requireAuth = true }
}

// SetupTestEnvironment starts the server, the audit journal, a watched
// policy overlay and an in-process bus dispatcher.
func SetupTestEnvironment(t *testing.T, opts ...EnvOption) *TestEnvironment {
	t.Helper()

	var o envOptions
	for _, opt := range opts {
		opt(&o)
	}

	tmpDir := t.TempDir()
	workDir := filepath.Join(tmpDir, "work")
	require.NoError(t, os.MkdirAll(workDir, 0755))

	registry := tool.NewDefaultRegistry()
	engine := policy.NewEngine(registry)
	policyFile := filepath.Join(tmpDir, "policy.yaml")
	require.NoError(t, engine.WatchOverlay(policyFile))

	store, err := audit.NewSQLiteStore(filepath.Join(tmpDir, "audit.db"))
	require.NoError(t, err)

	runtime := agent.New(engine, tool.NewRouter(registry), agent.WithJournal(store))

	authManager := auth.NewManager(auth.Config{
		RequireAuth:     o.requireAuth,
		JWTSecret:       "test-secret",
		TokenExpiration: time.Hour,
	})

	srv := server.New(server.Config{
		Listen:          "127.0.0.1:0",
		ReadTimeout:     30,
		WriteTimeout:    30,
		ShutdownTimeout: 5,
		AutoApprove:     o.autoApprove,
		RequireAuth:     o.requireAuth,
	}, server.Deps{
		Agent:   runtime,
		Catalog: registry,
		Audit:   store,
		Auth:    authManager,
	})

	queue := bus.NewMemoryQueue(16)
	dispatcher := bus.NewDispatcher(runtime, srv.Hub(), o.autoApprove)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = dispatcher.Run(ctx, queue, 2)
	}()

	env := &TestEnvironment{
		Registry:    registry,
		Engine:      engine,
		AuditStore:  store,
		Runtime:     runtime,
		AuthManager: authManager,
		Server:      srv,
		HTTPServer:  httptest.NewServer(srv.Handler()),
		Queue:       queue,
		PolicyFile:  policyFile,
		WorkDir:     workDir,
		t:           t,
	}

	t.Cleanup(func() {
		cancel()
		<-done
		queue.Close()
		env.HTTPServer.Close()
		srv.Hub().Shutdown()
		engine.Close()
		store.Close()
	})

	return env
}

// BaseURL returns the base URL of the test HTTP server
func (e *TestEnvironment) BaseURL() string {
	return e.HTTPServer.URL
}

// Submit posts a transcript and decodes the response when the call succeeded.
func (e *TestEnvironment) Submit(sessionID, transcript, token string) (int, server.TranscriptResponse) {
	e.t.Helper()

	body, err := json.Marshal(server.TranscriptRequest{SessionID: sessionID, Transcript: transcript})
	require.NoError(e.t, err)

	req, err := http.NewRequest(http.MethodPost, e.BaseURL()+"/v1/transcript", bytes.NewReader(body))
	require.NoError(e.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.HTTPClient().Do(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()

	var out server.TranscriptResponse
	if resp.StatusCode == http.StatusOK {
		require.NoError(e.t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

// WritePolicy replaces the overlay file the engine is watching.
func (e *TestEnvironment) WritePolicy(content string) {
	e.t.Helper()
	require.NoError(e.t, os.WriteFile(e.PolicyFile, []byte(content), 0644))
}

// HTTPClient returns a configured HTTP client for testing
func (e *TestEnvironment) HTTPClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
	}
}

// DialEvents opens the event stream and waits until the hub has registered it.
func (e *TestEnvironment) DialEvents(token string) *websocket.Conn {
	e.t.Helper()

	url := "ws" + strings.TrimPrefix(e.BaseURL(), "http") + "/v1/events"
	if token != "" {
		url += "?token=" + token
	}

	before := e.Server.Hub().ClientCount()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(e.t, err)
	e.t.Cleanup(func() { conn.Close() })

	require.Eventually(e.t, func() bool {
		return e.Server.Hub().ClientCount() > before
	}, 2*time.Second, 10*time.Millisecond)

	return conn
}

// ReadEvents reads n broadcast messages from conn.
func ReadEvents(t *testing.T, conn *websocket.Conn, n int) []server.WSMessage {
	t.Helper()

	msgs := make([]server.WSMessage, 0, n)
	for i := 0; i < n; i++ {
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		var msg server.WSMessage
		require.NoError(t, conn.ReadJSON(&msg), "message %d", i)
		msgs = append(msgs, msg)
	}
	return msgs
}

// WaitForAuditEntries waits for audit entries to be written
func (e *TestEnvironment) WaitForAuditEntries(minCount int, timeout time.Duration) ([]audit.Entry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		entries, err := e.AuditStore.List(context.Background(), 0)
		if err != nil {
			return nil, err
		}
		if len(entries) >= minCount {
			return entries, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timeout waiting for audit entries: have %d, want %d", len(entries), minCount)
		case <-ticker.C:
		}
	}
}

// AssertAuditEntry checks that an audit entry was created with expected values
func AssertAuditEntry(t *testing.T, entries []audit.Entry, expectedDecision audit.Decision, expectedToolName string) {
	t.Helper()

	found := false
	for _, entry := range entries {
		var toolInput map[string]interface{}
		if err := json.Unmarshal(entry.ToolInput, &toolInput); err != nil {
			continue
		}

		if toolName, ok := toolInput["tool"].(string); ok && toolName == expectedToolName {
			if entry.Decision == expectedDecision {
				found = true
				break
			}
		}
	}

	require.True(t, found, "Expected audit entry not found: tool=%s, decision=%s", expectedToolName, expectedDecision)
}

// EventTypes projects a sequence onto its type tags.
func EventTypes(events []protocol.Event) []protocol.EventType {
	types := make([]protocol.EventType, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

// testContext stands in for t.Context (Go 1.24+): the context is canceled
// when the test's cleanup runs.
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

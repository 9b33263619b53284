package integration

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dagbolade/munin-core/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConcurrentRequests tests the system under concurrent load
func TestConcurrentRequests(t *testing.T) {
	env := SetupTestEnvironment(t)

	numRequests := 40
	var wg sync.WaitGroup
	var successCount int32
	ids := make(chan string, numRequests)

	start := time.Now()

	for i := 0; i < numRequests; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			status, resp := env.Submit(fmt.Sprintf("load-%d", id), "status", "")
			if status != http.StatusOK || len(resp.Events) != 3 {
				return
			}
			call, result := resp.Events[1], resp.Events[2]
			if call.Type != protocol.EventToolCall || result.Type != protocol.EventToolResult {
				return
			}
			if call.ToolCall.ID != result.ToolResult.ID {
				return
			}
			ids <- call.ToolCall.ID
			atomic.AddInt32(&successCount, 1)
		}(i)
	}

	wg.Wait()
	close(ids)
	t.Logf("%d concurrent calls in %v", numRequests, time.Since(start))

	assert.Equal(t, int32(numRequests), successCount)

	seen := make(map[string]bool)
	for id := range ids {
		assert.False(t, seen[id], "call id %s issued twice", id)
		seen[id] = true
	}

	entries, err := env.WaitForAuditEntries(numRequests, 5*time.Second)
	require.NoError(t, err)
	assert.Len(t, entries, numRequests)
}

// TestConcurrentBusAndHTTP drives both entry points at once and checks that
// every bus turn produced its full broadcast.
func TestConcurrentBusAndHTTP(t *testing.T) {
	env := SetupTestEnvironment(t)
	conn := env.DialEvents("")

	const turns = 10
	var wg sync.WaitGroup

	for i := 0; i < turns; i++ {
		wg.Add(2)
		go func(id int) {
			defer wg.Done()
			err := env.Queue.Publish(testContext(t), protocol.SpeechTurn{
				SessionID:  fmt.Sprintf("bus-%d", id),
				Transcript: "hello",
				Locale:     "en-US",
			})
			assert.NoError(t, err)
		}(i)
		go func(id int) {
			defer wg.Done()
			status, _ := env.Submit(fmt.Sprintf("http-%d", id), "hello", "")
			assert.Equal(t, http.StatusOK, status)
		}(i)
	}
	wg.Wait()

	// Each conversational turn broadcasts a transcript plus two texts.
	msgs := ReadEvents(t, conn, turns*2*3)

	perSession := make(map[string][]protocol.EventType)
	for _, msg := range msgs {
		perSession[msg.SessionID] = append(perSession[msg.SessionID], msg.Event.Type)
	}

	require.Len(t, perSession, turns*2)
	for session, types := range perSession {
		assert.Equal(t, []protocol.EventType{
			protocol.EventTranscript,
			protocol.EventResponseText,
			protocol.EventResponseText,
		}, types, "session %s out of order", session)
	}
}

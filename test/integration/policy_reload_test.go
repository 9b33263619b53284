package integration

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dagbolade/munin-core/internal/audit"
	"github.com/dagbolade/munin-core/internal/policy"
	"github.com/dagbolade/munin-core/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPolicyHotReload tests that the overlay can be changed without
// restarting the server
func TestPolicyHotReload(t *testing.T) {
	env := SetupTestEnvironment(t, WithAutoApprove())
	target := filepath.Join(env.WorkDir, "hostname")
	require.NoError(t, os.WriteFile(target, []byte("munin"), 0644))

	read := policy.Request{ToolName: "file.read", Args: map[string]any{"path": target}}

	t.Run("built_in_table_without_overlay", func(t *testing.T) {
		d := env.Engine.Evaluate(read)
		assert.True(t, d.Allowed)
		assert.False(t, d.RequiresConfirmation)
	})

	t.Run("deny_added_at_runtime", func(t *testing.T) {
		env.WritePolicy("deny:\n  - file.read\n")

		require.Eventually(t, func() bool {
			return !env.Engine.Evaluate(read).Allowed
		}, 5*time.Second, 50*time.Millisecond)

		status, resp := env.Submit("reload-deny", "read "+target, "")
		require.Equal(t, http.StatusOK, status)
		require.Len(t, resp.Events, 2)
		assert.Equal(t, protocol.EventError, resp.Events[1].Type)

		entries, err := env.WaitForAuditEntries(1, time.Second)
		require.NoError(t, err)
		AssertAuditEntry(t, entries, audit.DecisionDeny, "file.read")
	})

	t.Run("broken_overlay_keeps_previous", func(t *testing.T) {
		env.WritePolicy("deny: [unterminated\n")

		// Give the debounced reload time to run and fail.
		time.Sleep(time.Second)
		assert.False(t, env.Engine.Evaluate(read).Allowed)
	})

	t.Run("confirm_instead_of_deny", func(t *testing.T) {
		env.WritePolicy("confirm:\n  - file.read\n")

		require.Eventually(t, func() bool {
			d := env.Engine.Evaluate(read)
			return d.Allowed && d.RequiresConfirmation
		}, 5*time.Second, 50*time.Millisecond)

		// The server approves, so the read still runs.
		status, resp := env.Submit("reload-confirm", "read "+target, "")
		require.Equal(t, http.StatusOK, status)
		require.Len(t, resp.Events, 3)
		assert.True(t, resp.Events[1].ToolCall.RequiresConfirmation)
		assert.True(t, resp.Events[2].ToolResult.OK)
	})

	t.Run("removing_file_restores_table", func(t *testing.T) {
		require.NoError(t, os.Remove(env.PolicyFile))

		require.Eventually(t, func() bool {
			d := env.Engine.Evaluate(read)
			return d.Allowed && !d.RequiresConfirmation
		}, 5*time.Second, 50*time.Millisecond)
	})
}

// TestOverlayCannotLoosen checks the overlay only tightens the table.
func TestOverlayCannotLoosen(t *testing.T) {
	env := SetupTestEnvironment(t)
	env.WritePolicy("confirm:\n  - system.status\n")

	status := policy.Request{ToolName: "system.status", Args: map[string]any{}}
	require.Eventually(t, func() bool {
		return env.Engine.Evaluate(status).RequiresConfirmation
	}, 5*time.Second, 50*time.Millisecond)

	exec := env.Engine.Evaluate(policy.Request{ToolName: "shell.exec", Args: map[string]any{"command": "true"}})
	assert.True(t, exec.Allowed)
	assert.True(t, exec.RequiresConfirmation)

	unknown := env.Engine.Evaluate(policy.Request{ToolName: "disk.format", Args: map[string]any{}})
	assert.False(t, unknown.Allowed)
}

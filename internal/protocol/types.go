// Package protocol holds the vocabulary shared between the agent runtime and
// its callers: tool calls, tool results, speech turns and the event union
// that carries them.
package protocol

// SpeechTurn is the input envelope used when the core is driven over the
// network or the bus.
type SpeechTurn struct {
	SessionID  string `json:"session_id"`
	Transcript string `json:"transcript"`
	Locale     string `json:"locale"`
}

// ToolCall is created once policy evaluation completes and is never mutated.
type ToolCall struct {
	ID                   string         `json:"id"`
	Tool                 string         `json:"tool"`
	Args                 map[string]any `json:"args"`
	RequiresConfirmation bool           `json:"requires_confirmation"`
}

// ToolResult refers back to the ToolCall that produced it. Output holds the
// tool's document on success and {"error": "..."} on failure.
type ToolResult struct {
	ID     string `json:"id"`
	OK     bool   `json:"ok"`
	Output any    `json:"output"`
}

// ErrorOutput is the output document of a failed tool call.
func ErrorOutput(err error) map[string]any {
	return map[string]any{"error": err.Error()}
}

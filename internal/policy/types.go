package policy

// Request is a tool invocation to be evaluated.
type Request struct {
	ToolName string         `json:"tool_name"`
	Args     map[string]any `json:"args"`
}

// Decision is the policy outcome for a Request. It is recomputed per call
// and never stored.
type Decision struct {
	Allowed              bool   `json:"allowed"`
	RequiresConfirmation bool   `json:"requires_confirmation"`
	Reason               string `json:"reason"`
}

// Package audit keeps an append-only journal of policy outcomes, one row
// per call that reached policy evaluation.
package audit

import (
	"context"
	"encoding/json"
	"time"
)

type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
	// DecisionPending marks an allowed call stopped at the confirmation gate.
	DecisionPending Decision = "pending"
)

// Record is what the runtime reports for one policy evaluation. CallID is
// empty for denials, which never produce a ToolCall.
type Record struct {
	CallID   string
	Tool     string
	Args     map[string]any
	Decision Decision
	Reason   string
}

type Entry struct {
	ID        int64           `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	ToolInput json.RawMessage `json:"tool_input"`
	Decision  Decision        `json:"decision"`
	Reason    string          `json:"reason"`
}

type Store interface {
	Log(ctx context.Context, rec Record) error
	// List returns the newest entries first. A limit <= 0 returns all rows.
	List(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// toolInput is the JSON document stored in the tool_input column.
type toolInput struct {
	CallID string         `json:"call_id"`
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args"`
}

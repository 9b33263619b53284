// Package agent orchestrates one call: classify, evaluate policy, gate on
// confirmation, dispatch, and report every step as an ordered event.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dagbolade/munin-core/internal/audit"
	"github.com/dagbolade/munin-core/internal/intent"
	"github.com/dagbolade/munin-core/internal/policy"
	"github.com/dagbolade/munin-core/internal/protocol"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrCallID aborts a single call when no ToolCall id can be generated.
var ErrCallID = errors.New("generate tool call id")

// Evaluator is the policy side of the runtime.
type Evaluator interface {
	Evaluate(req policy.Request) policy.Decision
}

// Dispatcher runs a tool that policy already allowed.
type Dispatcher interface {
	Execute(ctx context.Context, name string, args map[string]any) (map[string]any, error)
}

// Journal receives one record per call that reaches policy evaluation.
type Journal interface {
	Log(ctx context.Context, rec audit.Record) error
}

// Runtime holds no per-call state; concurrent calls need no coordination.
type Runtime struct {
	policy  Evaluator
	router  Dispatcher
	journal Journal
	newID   func() (string, error)
}

type Option func(*Runtime)

// WithJournal records policy outcomes. Journal failures are logged and do
// not affect the event sequence.
func WithJournal(j Journal) Option {
	return func(r *Runtime) {
		r.journal = j
	}
}

// WithIDGenerator replaces the ToolCall id source.
func WithIDGenerator(fn func() (string, error)) Option {
	return func(r *Runtime) {
		if fn != nil {
			r.newID = fn
		}
	}
}

func New(evaluator Evaluator, router Dispatcher, opts ...Option) *Runtime {
	r := &Runtime{
		policy: evaluator,
		router: router,
		newID:  newUUID,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle runs one call and returns its full event sequence. The error is
// non-nil only when the call was aborted (id generation or cancellation);
// the events emitted before the abort are still returned.
func (r *Runtime) Handle(ctx context.Context, input string, autoApprove bool) ([]protocol.Event, error) {
	var events []protocol.Event
	err := r.Stream(ctx, input, autoApprove, func(e protocol.Event) error {
		events = append(events, e)
		return nil
	})
	return events, err
}

// Stream runs one call and delivers each event to emit as soon as it is
// produced. An emit error stops the call and is returned.
func (r *Runtime) Stream(ctx context.Context, input string, autoApprove bool, emit func(protocol.Event) error) error {
	if err := emit(protocol.NewResponseText("Heard: " + input)); err != nil {
		return err
	}

	in, ok := intent.Classify(input)
	if !ok {
		return emit(protocol.NewResponseText("No tool selected. I can run: " + intent.Categories + "."))
	}

	decision := r.policy.Evaluate(policy.Request{ToolName: in.Tool, Args: in.Args})
	if !decision.Allowed {
		r.record(ctx, audit.Record{Tool: in.Tool, Args: in.Args, Decision: audit.DecisionDeny, Reason: decision.Reason})
		return emit(protocol.NewError(decision.Reason))
	}

	id, err := r.newID()
	if err != nil {
		log.Error().Err(err).Str("tool", in.Tool).Msg("unexpected: tool call id generation failed")
		return fmt.Errorf("%w: %v", ErrCallID, err)
	}

	call := protocol.ToolCall{
		ID:                   id,
		Tool:                 in.Tool,
		Args:                 in.Args,
		RequiresConfirmation: decision.RequiresConfirmation,
	}
	if err := emit(protocol.NewToolCall(call)); err != nil {
		return err
	}

	if call.RequiresConfirmation && !autoApprove {
		r.record(ctx, audit.Record{CallID: call.ID, Tool: call.Tool, Args: call.Args, Decision: audit.DecisionPending, Reason: decision.Reason})
		return emit(protocol.NewResponseText(fmt.Sprintf("Tool %s requires confirmation: %s", call.Tool, decision.Reason)))
	}

	r.record(ctx, audit.Record{CallID: call.ID, Tool: call.Tool, Args: call.Args, Decision: audit.DecisionAllow, Reason: decision.Reason})

	start := time.Now()
	output, err := r.router.Execute(ctx, call.Tool, call.Args)

	// An abandoned call gets no ToolResult.
	if ctxErr := ctx.Err(); ctxErr != nil {
		log.Info().
			Str("call_id", call.ID).
			Str("tool", call.Tool).
			Dur("latency", time.Since(start)).
			Msg("call abandoned by caller")
		return ctxErr
	}

	result := protocol.ToolResult{ID: call.ID, OK: err == nil, Output: output}
	if err != nil {
		result.Output = protocol.ErrorOutput(err)
	}
	return emit(protocol.NewToolResult(result))
}

func (r *Runtime) record(ctx context.Context, rec audit.Record) {
	if r.journal == nil {
		return
	}
	if err := r.journal.Log(ctx, rec); err != nil {
		log.Warn().Err(err).Str("tool", rec.Tool).Str("call_id", rec.CallID).Msg("failed to journal policy decision")
	}
}

func newUUID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

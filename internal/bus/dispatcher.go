package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/dagbolade/munin-core/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Agent is the runtime entry point the dispatcher drives.
type Agent interface {
	Stream(ctx context.Context, input string, autoApprove bool, emit func(protocol.Event) error) error
}

// Sink receives each turn's events in order.
type Sink interface {
	Emit(sessionID string, event protocol.Event)
}

// LogSink writes every event to the global logger.
type LogSink struct{}

func (LogSink) Emit(sessionID string, event protocol.Event) {
	log.Info().
		Str("session_id", sessionID).
		Str("event", string(event.Type)).
		Interface("data", event).
		Msg("agent event")
}

// MultiSink fans events out to several sinks.
type MultiSink []Sink

func (m MultiSink) Emit(sessionID string, event protocol.Event) {
	for _, s := range m {
		s.Emit(sessionID, event)
	}
}

type Dispatcher struct {
	agent       Agent
	sink        Sink
	autoApprove bool
}

func NewDispatcher(agent Agent, sink Sink, autoApprove bool) *Dispatcher {
	if sink == nil {
		sink = LogSink{}
	}
	return &Dispatcher{agent: agent, sink: sink, autoApprove: autoApprove}
}

// Handle runs one turn: a Transcript event, then the runtime's events.
func (d *Dispatcher) Handle(ctx context.Context, turn protocol.SpeechTurn) error {
	start := time.Now()
	d.sink.Emit(turn.SessionID, protocol.NewTranscript(turn))

	err := d.agent.Stream(ctx, turn.Transcript, d.autoApprove, func(e protocol.Event) error {
		d.sink.Emit(turn.SessionID, e)
		return nil
	})
	if err != nil {
		return fmt.Errorf("session %s: %w", turn.SessionID, err)
	}

	log.Debug().Str("session_id", turn.SessionID).Dur("latency", time.Since(start)).Msg("turn handled")
	return nil
}

// Run consumes turns from q until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, q Consumer, workers int) error {
	log.Info().Int("workers", workers).Msg("bus dispatcher started")
	err := q.Consume(ctx, workers, d.Handle)
	log.Info().Err(err).Msg("bus dispatcher stopped")
	return err
}

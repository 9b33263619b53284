// Package bus feeds transcripts captured elsewhere (speech front ends,
// other processes) into the agent runtime through a message queue.
// Delivery is at-most-once: a turn is never redelivered after it was taken
// off the queue.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dagbolade/munin-core/internal/protocol"
)

var ErrQueueClosed = errors.New("queue closed")

// Handler processes one turn taken off the queue.
type Handler func(ctx context.Context, turn protocol.SpeechTurn) error

type Producer interface {
	Publish(ctx context.Context, turn protocol.SpeechTurn) error
	Close() error
}

type Consumer interface {
	// Consume blocks until ctx is done or the queue fails.
	Consume(ctx context.Context, workers int, handler Handler) error
	Close() error
}

type Queue interface {
	Producer
	Consumer
}

func encodeTurn(turn protocol.SpeechTurn) ([]byte, error) {
	data, err := json.Marshal(turn)
	if err != nil {
		return nil, fmt.Errorf("encode turn: %w", err)
	}
	return data, nil
}

func decodeTurn(data []byte) (protocol.SpeechTurn, error) {
	var turn protocol.SpeechTurn
	if err := json.Unmarshal(data, &turn); err != nil {
		return protocol.SpeechTurn{}, fmt.Errorf("decode turn: %w", err)
	}
	if turn.Transcript == "" {
		return protocol.SpeechTurn{}, errors.New("decode turn: empty transcript")
	}
	return turn, nil
}

package bus

import (
	"context"
	"sync"

	"github.com/dagbolade/munin-core/internal/protocol"
	"github.com/rs/zerolog/log"
)

// MemoryQueue is an in-process queue backed by a channel. It serves
// single-process deployments and tests.
type MemoryQueue struct {
	ch     chan protocol.SpeechTurn
	mu     sync.RWMutex
	closed bool
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan protocol.SpeechTurn, size)}
}

func (q *MemoryQueue) Publish(ctx context.Context, turn protocol.SpeechTurn) error {
	// The read lock keeps Close from closing the channel mid-send.
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- turn:
		return nil
	}
}

func (q *MemoryQueue) Consume(ctx context.Context, workers int, handler Handler) error {
	if workers <= 0 {
		workers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case turn, ok := <-q.ch:
					if !ok {
						return
					}
					if err := handler(ctx, turn); err != nil {
						log.Warn().Err(err).Str("session_id", turn.SessionID).Msg("turn handling failed")
					}
				}
			}
		}()
	}

	wg.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrQueueClosed
}

// Close stops accepting turns. Consumers drain what is already queued.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		close(q.ch)
		q.closed = true
	}
	return nil
}

package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dagbolade/munin-core/internal/protocol"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const defaultRedisQueue = "munin:transcripts"

type RedisQueueConfig struct {
	// URL is a redis:// URL; Address is used when URL is empty.
	URL       string
	Address   string
	Password  string
	DB        int
	Queue     string
	BlockWait time.Duration
}

// RedisQueue is a list-backed queue: LPUSH to publish, BRPOP to consume.
type RedisQueue struct {
	client *redis.Client
	queue  string
	wait   time.Duration
}

func NewRedisQueue(ctx context.Context, cfg RedisQueueConfig) (*RedisQueue, error) {
	opts, err := redisOptions(cfg)
	if err != nil {
		return nil, err
	}

	queue := cfg.Queue
	if queue == "" {
		queue = defaultRedisQueue
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	log.Info().Str("addr", opts.Addr).Str("queue", queue).Msg("redis queue connected")
	return &RedisQueue{client: client, queue: queue, wait: wait}, nil
}

func redisOptions(cfg RedisQueueConfig) (*redis.Options, error) {
	if cfg.URL != "" {
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return opts, nil
	}
	if cfg.Address == "" {
		return nil, errors.New("redis address is required")
	}
	return &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	}, nil
}

func (q *RedisQueue) Publish(ctx context.Context, turn protocol.SpeechTurn) error {
	data, err := encodeTurn(turn)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.queue, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (q *RedisQueue) Consume(ctx context.Context, workers int, handler Handler) error {
	if workers <= 0 {
		workers = 1
	}

	errCh := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			errCh <- q.work(ctx, handler)
		}()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (q *RedisQueue) work(ctx context.Context, handler Handler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		values, err := q.client.BRPop(ctx, q.wait, q.queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
				return err
			}
			return fmt.Errorf("redis consume: %w", err)
		}
		if len(values) != 2 {
			continue
		}

		turn, err := decodeTurn([]byte(values[1]))
		if err != nil {
			log.Warn().Err(err).Str("queue", q.queue).Msg("dropping malformed turn")
			continue
		}

		// At-most-once: a failed turn is not pushed back.
		if err := handler(ctx, turn); err != nil {
			log.Warn().Err(err).Str("session_id", turn.SessionID).Msg("turn handling failed")
		}
	}
}

func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}

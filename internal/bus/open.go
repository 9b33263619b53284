package bus

import (
	"context"
	"fmt"
	"strings"
)

const (
	DriverNone     = "none"
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverRabbitMQ = "rabbitmq"
)

type Config struct {
	Driver string
	URL    string
	Queue  string
}

// Open connects the queue named by cfg.Driver. It returns nil, nil for the
// "none" driver.
func Open(ctx context.Context, cfg Config) (Queue, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", DriverNone:
		return nil, nil
	case DriverMemory:
		return NewMemoryQueue(0), nil
	case DriverRedis:
		return NewRedisQueue(ctx, RedisQueueConfig{URL: cfg.URL, Queue: cfg.Queue})
	case DriverRabbitMQ:
		return NewRabbitMQQueue(RabbitMQConfig{URL: cfg.URL, Queue: cfg.Queue, Prefetch: 8})
	default:
		return nil, fmt.Errorf("unknown bus driver %q", cfg.Driver)
	}
}

package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig holds connection settings for the Redis-backed bus
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., redis://localhost:6379)
	URL string

	PoolSize     int
	MinIdleConns int
}

// DefaultRedisConfig returns sensible defaults for the Redis bus
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		URL:          "redis://localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// Redis is a Bus backed by Redis pub/sub, for when the broadcast channel is
// provided by a hosted service rather than process memory.
type Redis struct {
	client *redis.Client

	l *zap.SugaredLogger
}

// NewRedis connects to Redis and verifies the connection
func NewRedis(cfg RedisConfig, l *zap.SugaredLogger) (*Redis, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("error parsing redis url: %s", err)
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("error pinging redis: %s", err)
	}

	return &Redis{
		client: client,
		l:      l,
	}, nil
}

// NewRedisWithClient creates a Redis bus with an existing client (for testing)
func NewRedisWithClient(client *redis.Client, l *zap.SugaredLogger) *Redis {
	return &Redis{
		client: client,
		l:      l,
	}
}

var _ Bus = (*Redis)(nil)

func (r *Redis) Publish(ctx context.Context, channel, event string) error {
	if err := r.client.Publish(ctx, channel, event).Err(); err != nil {
		return fmt.Errorf("error publishing to %s: %s", channel, err)
	}

	return nil
}

func (r *Redis) Subscribe(ctx context.Context, channel string) (<-chan string, func(), error) {
	sub := r.client.Subscribe(ctx, channel)

	// Force the subscription to be established before we return, so a
	// publish right after subscribing isn't missed
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("error subscribing to %s: %s", channel, err)
	}

	out := make(chan string, sendBufferSize)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			select {
			case out <- msg.Payload:
			default:
				r.l.Warnw("dropped event for slow subscriber", "channel", channel)
			}
		}
	}()

	cancel := func() {
		if err := sub.Close(); err != nil {
			r.l.Warnw("error closing subscription", "channel", channel, "err", err)
		}
	}

	return out, cancel, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

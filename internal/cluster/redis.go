package cluster

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
)

// RedisBus carries reload timestamps over redis pub/sub, so every gateway
// node sees catalog writes made on any node.
type RedisBus struct {
	client *redis.Client
	logger *slog.Logger
}

// RedisConfig holds the redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisBus connects to redis and verifies the connection.
func NewRedisBus(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &RedisBus{client: client, logger: logger}, nil
}

// Publish sends ts on the topic channel.
func (b *RedisBus) Publish(ctx context.Context, topic string, ts int64) error {
	return b.client.Publish(ctx, topic, strconv.FormatInt(ts, 10)).Err()
}

// Subscribe consumes the topic channel until cancelled. The subscription
// is re-established with exponential backoff if the connection drops;
// messages lost in between are recovered by the next publish, which the
// sync protocol is built to tolerate.
func (b *RedisBus) Subscribe(topic string) (<-chan int64, func()) {
	out := make(chan int64, 16)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		defer close(out)
		policy := backoff.NewExponentialBackOff()
		policy.MaxElapsedTime = 0
		for {
			if err := b.consume(ctx, topic, out); err != nil {
				if ctx.Err() != nil {
					return
				}
				wait := policy.NextBackOff()
				b.logger.Warn("redis subscription lost, retrying",
					slog.String("topic", topic),
					slog.Duration("backoff", wait),
					slog.String("error", err.Error()))
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return
				}
				continue
			}
			policy.Reset()
		}
	}()
	return out, cancel
}

func (b *RedisBus) consume(ctx context.Context, topic string, out chan<- int64) error {
	sub := b.client.Subscribe(ctx, topic)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return ctx.Err()
			}
			ts, err := strconv.ParseInt(msg.Payload, 10, 64)
			if err != nil {
				b.logger.Warn("ignoring malformed bus message",
					slog.String("payload", msg.Payload))
				continue
			}
			select {
			case out <- ts:
			default:
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close shuts down the redis client.
func (b *RedisBus) Close() error {
	return b.client.Close()
}

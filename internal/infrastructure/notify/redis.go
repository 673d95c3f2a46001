package notify

import (
	"context"
	"fmt"

	"github.com/ahz777/nxtmarket/internal/domain/notification"
	"github.com/redis/go-redis/v9"
)

// RedisTransport publishes to Channel(room); a socket gateway subscribed to
// orders:* relays to browsers.
type RedisTransport struct {
	client redis.UniversalClient
}

func NewRedisTransport(client redis.UniversalClient) *RedisTransport {
	return &RedisTransport{client: client}
}

// DialRedis parses url and verifies the server answers.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("notify: redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("notify: redis ping: %w", err)
	}
	return client, nil
}

func (t *RedisTransport) Name() string { return "redis" }

func (t *RedisTransport) Deliver(ctx context.Context, m notification.Message) error {
	body, err := encode(m)
	if err != nil {
		return fmt.Errorf("notify: encode: %w", err)
	}
	if err := t.client.Publish(ctx, Channel(m.Room), body).Err(); err != nil {
		return fmt.Errorf("notify: redis publish: %w", err)
	}
	return nil
}

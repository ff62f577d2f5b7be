package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"fluent-auth/internal/repository"
)

const keyPrefix = "seq:"

// SequenceGenerator keeps named counters in Redis. INCR is atomic on the
// server and creates a missing key at zero before incrementing.
type SequenceGenerator struct {
	client goredis.UniversalClient
}

var _ repository.SequenceGenerator = (*SequenceGenerator)(nil)

func NewSequenceGenerator(client goredis.UniversalClient) *SequenceGenerator {
	return &SequenceGenerator{client: client}
}

// Dial parses a redis:// URL, connects and pings the server.
func Dial(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (g *SequenceGenerator) IncrementAndGet(ctx context.Context, key string) (int64, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return 0, fmt.Errorf("sequence key is required")
	}

	value, err := g.client.Incr(ctx, keyPrefix+key).Result()
	if err != nil {
		return 0, fmt.Errorf("increment %s: %w: %w", key, repository.ErrUnavailable, err)
	}
	return value, nil
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/loyalty_layer/internal/domain/loyalty"
)

// DefaultSettingsKey is the Redis key holding the settings snapshot.
const DefaultSettingsKey = "loyalty:settings"

// Redis shares the settings snapshot between instances so an update on one
// instance invalidates every other.
type Redis struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

var _ SettingsCache = (*Redis)(nil)

// RedisOptions configures the Redis cache.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Key      string
	TTL      time.Duration
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return NewRedisWithClient(client, opts.Key, opts.TTL), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client redis.UniversalClient, key string, ttl time.Duration) *Redis {
	if key == "" {
		key = DefaultSettingsKey
	}
	return &Redis{client: client, key: key, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context) (loyalty.Settings, bool, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return loyalty.Settings{}, false, nil
	}
	if err != nil {
		return loyalty.Settings{}, false, fmt.Errorf("redis get %s: %w", r.key, err)
	}
	var s loyalty.Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return loyalty.Settings{}, false, fmt.Errorf("redis decode %s: %w", r.key, err)
	}
	return s, true, nil
}

func (r *Redis) Set(ctx context.Context, settings loyalty.Settings) error {
	if r.ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("redis encode %s: %w", r.key, err)
	}
	if err := r.client.Set(ctx, r.key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", r.key, err)
	}
	return nil
}

func (r *Redis) Invalidate(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", r.key, err)
	}
	return nil
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	Device    string // distinguishes several clients sharing one redis
}

// RedisStore keeps credentials in redis under <prefix><device>.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "ordersync:credentials:"
	}
	device := cfg.Device
	if device == "" {
		device = "default"
	}

	return &RedisStore{client: client, key: prefix + device}, nil
}

// Load reads the credentials key.
func (s *RedisStore) Load(ctx context.Context) (Credentials, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Credentials{}, ErrNoCredentials
		}
		return Credentials{}, fmt.Errorf("get credentials: %w", err)
	}

	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return Credentials{}, fmt.Errorf("parse credentials: %w", err)
	}
	if c.Token == "" {
		return Credentials{}, ErrNoCredentials
	}
	return c, nil
}

// Save writes the credentials key without expiry.
func (s *RedisStore) Save(ctx context.Context, c Credentials) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	return s.client.Set(ctx, s.key, data, 0).Err()
}

// Clear deletes the credentials key.
func (s *RedisStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}

// Close releases the redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

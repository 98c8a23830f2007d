package main

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/rickgao/ordersync/internal/auth"
	"github.com/rickgao/ordersync/internal/config"
	"github.com/rickgao/ordersync/internal/connection"
)

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.Level))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// openStore returns the configured credential store and its close function.
func openStore(ctx context.Context, cfg *config.Config) (auth.CredentialStore, func(), error) {
	switch cfg.Credentials.Backend {
	case config.BackendRedis:
		r := cfg.Credentials.Redis
		store, err := auth.NewRedisStore(ctx, auth.RedisConfig{
			Addr:      r.Addr,
			Password:  r.Password,
			DB:        r.DB,
			KeyPrefix: r.KeyPrefix,
			Device:    r.Device,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	case config.BackendMemory:
		return auth.NewMemoryStore(nil), func() {}, nil
	default:
		return auth.NewFileStore(cfg.Credentials.Path), func() {}, nil
	}
}

func managerConfig(cfg *config.Config) connection.ManagerConfig {
	r := cfg.Realtime
	return connection.ManagerConfig{
		WSURL:                cfg.API.WSURL,
		Role:                 r.Role,
		ReconnectBaseWait:    r.ReconnectBaseDelay,
		ReconnectMaxWait:     r.ReconnectMaxDelay,
		MaxReconnectAttempts: r.MaxReconnectAttempts,
		ConnectTimeout:       r.ConnectTimeout,
		Client: connection.ClientConfig{
			HandshakeTimeout: r.HandshakeTimeout,
			PingInterval:     r.PingInterval,
			PingTimeout:      r.PingTimeout,
			WriteTimeout:     r.WriteTimeout,
			BufferSize:       r.BufferSize,
		},
	}
}

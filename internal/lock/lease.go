/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package lock provides a Redis lease that keeps a file id single-flight
// across pipeline instances.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	defaultKeyPrefix = "inkpress:lock:file:"
	defaultTTL       = 30 * time.Second
)

// Only the holder of the token may extend or release the lease.
var (
	releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

	renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)
)

// Config configures the lease.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// KeyPrefix is prepended to the file id.
	KeyPrefix string
	// TTL is how long a lease survives without renewal. Held leases are
	// renewed every TTL/3.
	TTL time.Duration
	// InstanceID is recorded in lease tokens for debugging.
	InstanceID string
}

// RedisLocker implements worker.Locker and worker.LockInspector.
type RedisLocker struct {
	client *redis.Client
	cfg    Config
	logger zerolog.Logger
}

// NewRedisLocker connects to Redis.
func NewRedisLocker(cfg Config, logger zerolog.Logger) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	l := NewWithClient(client, cfg, logger)
	l.logger.Info().
		Str("redis_addr", cfg.RedisAddr).
		Dur("ttl", l.cfg.TTL).
		Msg("connected to Redis for file locks")
	return l, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, cfg Config, logger zerolog.Logger) *RedisLocker {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	return &RedisLocker{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("component", "file_lock").Logger(),
	}
}

// Key returns the Redis key guarding a file id.
func (l *RedisLocker) Key(fileID string) string {
	return l.cfg.KeyPrefix + fileID
}

// TryLock acquires the lease for key without waiting. While held, the lease
// is renewed in the background; unlock stops renewal and releases it.
func (l *RedisLocker) TryLock(ctx context.Context, key string) (func(), bool, error) {
	redisKey := l.Key(key)
	token := l.cfg.InstanceID + ":" + uuid.NewString()

	ok, err := l.client.SetNX(ctx, redisKey, token, l.cfg.TTL).Result()
	if err != nil {
		return nil, false, fmt.Errorf("set lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	renewCtx, stopRenew := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.renewLoop(renewCtx, redisKey, token)
	}()

	unlock := func() {
		stopRenew()
		<-done
		relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(relCtx, l.client, []string{redisKey}, token).Err(); err != nil {
			l.logger.Warn().Err(err).Str("key", redisKey).Msg("release lock failed")
		}
	}
	return unlock, true, nil
}

func (l *RedisLocker) renewLoop(ctx context.Context, key, token string) {
	ticker := time.NewTicker(l.cfg.TTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := renewScript.Run(ctx, l.client, []string{key}, token, l.cfg.TTL.Milliseconds()).Int64()
			if err != nil {
				if ctx.Err() == nil {
					l.logger.Warn().Err(err).Str("key", key).Msg("renew lock failed")
				}
				continue
			}
			if n == 0 {
				l.logger.Warn().Str("key", key).Msg("lock lost before release")
				return
			}
		}
	}
}

// Holder returns the token currently holding key, or "" when free.
func (l *RedisLocker) Holder(ctx context.Context, key string) (string, error) {
	v, err := l.client.Get(ctx, l.Key(key)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get lock: %w", err)
	}
	return v, nil
}

// Close closes the Redis client.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

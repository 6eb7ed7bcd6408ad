package behavior

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig configures the redis-backed profile store.
type RedisConfig struct {
	// Redis address.
	Addr string `yaml:"addr" json:"addr"`
	// Password, empty for none.
	Password string `yaml:"password" json:"password"`
	// Database number.
	DB int `yaml:"db" json:"db"`
	// KeyPrefix namespaces profile keys.
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
	// ProfileTTL expires idle profiles. Zero keeps them forever.
	ProfileTTL time.Duration `yaml:"profile_ttl" json:"profile_ttl"`
	// MaxRetries for redis commands.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
	// PoolSize of the redis connection pool.
	PoolSize int `yaml:"pool_size" json:"pool_size"`
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:       "localhost:6379",
		KeyPrefix:  "batchflow:behavior:",
		ProfileTTL: 24 * time.Hour,
		MaxRetries: 3,
		PoolSize:   10,
	}
}

// RedisStore persists profiles in redis so multiple workers observing the
// same users share one behavior view.
type RedisStore struct {
	client *redis.Client
	config RedisConfig
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

// NewRedisStore connects to redis and returns a profile store.
func NewRedisStore(config RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:       config.Addr,
		Password:   config.Password,
		DB:         config.DB,
		MaxRetries: config.MaxRetries,
		PoolSize:   config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s := &RedisStore{
		client: client,
		config: config,
		logger: logger.With(zap.String("component", "behavior")),
	}

	logger.Info("behavior store initialized",
		zap.String("addr", config.Addr),
		zap.Duration("profile_ttl", config.ProfileTTL),
	)

	return s, nil
}

func (s *RedisStore) key(userID string) string {
	return s.config.KeyPrefix + userID
}

// Get returns the profile for a user, or ErrProfileNotFound.
func (s *RedisStore) Get(ctx context.Context, userID string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errors.New("behavior store is closed")
	}
	return s.fetch(ctx, userID)
}

// fetch reads a profile without taking the store lock; callers hold it.
func (s *RedisStore) fetch(ctx context.Context, userID string) (*Profile, error) {
	val, err := s.client.Get(ctx, s.key(userID)).Result()
	if err == redis.Nil {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		s.logger.Error("profile get failed", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("profile get failed: %w", err)
	}

	var p Profile
	if err := json.Unmarshal([]byte(val), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}
	return &p, nil
}

// RecordInteraction folds one interaction into the stored profile.
func (s *RedisStore) RecordInteraction(ctx context.Context, userID string, responseTime time.Duration, engaged bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return errors.New("behavior store is closed")
	}

	p, err := s.fetch(ctx, userID)
	if errors.Is(err, ErrProfileNotFound) {
		p = &Profile{UserID: userID}
	} else if err != nil {
		return err
	}

	p.update(responseTime, engaged)

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	if err := s.client.Set(ctx, s.key(userID), data, s.config.ProfileTTL).Err(); err != nil {
		s.logger.Error("profile set failed", zap.String("user_id", userID), zap.Error(err))
		return fmt.Errorf("profile set failed: %w", err)
	}
	return nil
}

// Close closes the underlying redis client.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info("closing behavior store")
	return s.client.Close()
}

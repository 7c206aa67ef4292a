// Package cache provides the redis-backed embedding vector cache. Keys are
// content hashes, so cached vectors never go stale for their content.
package cache

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

// ErrCacheMiss is returned when a key is not present.
var ErrCacheMiss = errors.New("cache miss")

// Config configures the vector cache.
type Config struct {
	// Redis address
	Addr string `yaml:"addr"`
	// Password
	Password string `yaml:"password"`
	// Database number
	DB int `yaml:"db"`
	// Cached vector TTL; zero means no expiry
	TTL time.Duration `yaml:"ttl"`
	// Max retries per command
	MaxRetries int `yaml:"max_retries"`
	// Connection pool size
	PoolSize int `yaml:"pool_size"`
	// Health check interval; zero disables the loop
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
}

// DefaultConfig returns the stock cache settings.
func DefaultConfig() Config {
	return Config{
		Addr:                "localhost:6379",
		TTL:                 24 * time.Hour,
		MaxRetries:          3,
		PoolSize:            10,
		HealthCheckInterval: 30 * time.Second,
	}
}

// VectorCache stores embedding vectors in redis as JSON arrays. It satisfies
// memory.VectorCache.
type VectorCache struct {
	redis  *redis.Client
	config Config
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

// NewVectorCache connects to redis and verifies the connection.
func NewVectorCache(config Config, logger *zap.Logger) (*VectorCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

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

	c := &VectorCache{
		redis:  client,
		config: config,
		logger: logger.With(zap.String("component", "vector_cache")),
	}

	if config.HealthCheckInterval > 0 {
		go c.healthCheckLoop()
	}

	c.logger.Info("vector cache initialized",
		zap.String("addr", config.Addr),
		zap.Duration("ttl", config.TTL),
	)

	return c, nil
}

// GetVector returns the cached vector for a content hash, or ErrCacheMiss.
func (c *VectorCache) GetVector(ctx context.Context, key string) ([]float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, fmt.Errorf("vector cache is closed")
	}

	raw, err := c.redis.Get(ctx, c.key(key)).Result()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache get failed: %w", err)
	}

	var vec []float64
	if err := json.Unmarshal([]byte(raw), &vec); err != nil {
		c.logger.Warn("corrupt cached vector, dropping it", zap.String("key", key), zap.Error(err))
		return nil, ErrCacheMiss
	}
	return vec, nil
}

// SetVector stores a vector under a content hash with the configured TTL.
func (c *VectorCache) SetVector(ctx context.Context, key string, vector []float64) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return fmt.Errorf("vector cache is closed")
	}

	raw, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("failed to marshal vector: %w", err)
	}

	if err := c.redis.Set(ctx, c.key(key), raw, c.config.TTL).Err(); err != nil {
		return fmt.Errorf("cache set failed: %w", err)
	}
	return nil
}

// Delete removes a cached vector.
func (c *VectorCache) Delete(ctx context.Context, key string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return fmt.Errorf("vector cache is closed")
	}

	return c.redis.Del(ctx, c.key(key)).Err()
}

// Ping verifies the connection.
func (c *VectorCache) Ping(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return fmt.Errorf("vector cache is closed")
	}

	return c.redis.Ping(ctx).Err()
}

// Close shuts the cache down. Safe to call more than once.
func (c *VectorCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.logger.Info("closing vector cache")

	return c.redis.Close()
}

func (c *VectorCache) key(hash string) string {
	return "clawmem:vec:" + hash
}

func (c *VectorCache) healthCheckLoop() {
	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.RLock()
		if c.closed {
			c.mu.RUnlock()
			return
		}
		c.mu.RUnlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.Ping(ctx); err != nil {
			c.logger.Error("redis health check failed", zap.Error(err))
		}
		cancel()
	}
}

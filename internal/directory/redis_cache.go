package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"alumnet/internal/models"
)

var ErrCacheMiss = errors.New("cache miss")

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

type RedisUserCache struct {
	client *redis.Client
	prefix string
}

// NewRedisUserCache connects to Redis and verifies the connection.
func NewRedisUserCache(cfg RedisConfig, prefix string) (*RedisUserCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisUserCache{client: client, prefix: prefix}, nil
}

func (c *RedisUserCache) BuildKeyByID(id int64) string {
	return fmt.Sprintf("%s:id:%d", c.prefix, id)
}

func (c *RedisUserCache) BuildKeyByEmail(email string) string {
	return fmt.Sprintf("%s:email:%s", c.prefix, email)
}

func (c *RedisUserCache) Get(ctx context.Context, key string) (*models.User, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var user models.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache data: %w", err)
	}
	return &user, nil
}

// Set stores the public user fields; the password hash is never cached.
func (c *RedisUserCache) Set(ctx context.Context, key string, user *models.User, ttl time.Duration) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	return nil
}

func (c *RedisUserCache) Close() error {
	return c.client.Close()
}

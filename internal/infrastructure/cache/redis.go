package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"drinkshop-backend/internal/domain"

	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

const defaultCartTTL = 7 * 24 * time.Hour

// RedisCartStore keeps one JSON document per customer. Carts expire with the
// session they belong to.
type RedisCartStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCartStore(client *redis.Client, ttl time.Duration) *RedisCartStore {
	if ttl <= 0 {
		ttl = defaultCartTTL
	}
	return &RedisCartStore{client: client, ttl: ttl}
}

func cartKey(customerID string) string {
	return "cart:" + customerID
}

func (s *RedisCartStore) Get(ctx context.Context, customerID string) (*domain.Cart, error) {
	raw, err := s.client.Get(ctx, cartKey(customerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return &domain.Cart{CustomerID: customerID}, nil
	}
	if err != nil {
		return nil, err
	}
	var c domain.Cart
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode cart %s: %w", customerID, err)
	}
	c.CustomerID = customerID
	return &c, nil
}

func (s *RedisCartStore) Save(ctx context.Context, c *domain.Cart) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, cartKey(c.CustomerID), raw, s.ttl).Err()
}

func (s *RedisCartStore) Delete(ctx context.Context, customerID string) error {
	return s.client.Del(ctx, cartKey(customerID)).Err()
}

// RedisIdempotency guards checkout with SETNX keys that live for the
// checkout window.
type RedisIdempotency struct {
	client *redis.Client
}

func NewRedisIdempotency(client *redis.Client) *RedisIdempotency {
	return &RedisIdempotency{client: client}
}

func idemKey(key string) string {
	return "idem:" + key
}

func (s *RedisIdempotency) Reserve(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	ok, err := s.client.SetNX(ctx, idemKey(key), "", ttl).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return "", true, nil
	}
	existing, err := s.client.Get(ctx, idemKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		// expired between the two calls
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return existing, false, nil
}

func (s *RedisIdempotency) Complete(ctx context.Context, key, orderID string, ttl time.Duration) error {
	return s.client.SetXX(ctx, idemKey(key), orderID, ttl).Err()
}

func (s *RedisIdempotency) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, idemKey(key)).Err()
}

package database

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyStore caches the API's public key after the first fetch.
type KeyStore interface {
	// Get returns the cached key, or "" when nothing is cached.
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, key string) error
	// Invalidate drops the cached key so the next login fetches it again.
	Invalidate(ctx context.Context) error
}

// MemoryKeyStore keeps the key for the lifetime of the process.
type MemoryKeyStore struct {
	mu  sync.RWMutex
	key string
}

func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{}
}

func (s *MemoryKeyStore) Get(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key, nil
}

func (s *MemoryKeyStore) Set(_ context.Context, key string) error {
	s.mu.Lock()
	s.key = key
	s.mu.Unlock()
	return nil
}

func (s *MemoryKeyStore) Invalidate(ctx context.Context) error {
	return s.Set(ctx, "")
}

// RedisKeyStore shares the key between storefront processes talking to the
// same API.
type RedisKeyStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewRedisKeyStore(client *redis.Client, apiURL string, ttl time.Duration) *RedisKeyStore {
	host := apiURL
	if u, err := url.Parse(apiURL); err == nil && u.Host != "" {
		host = u.Host
	}
	return &RedisKeyStore{
		client: client,
		key:    "storefront:public-key:" + host,
		ttl:    ttl,
	}
}

func (s *RedisKeyStore) Get(ctx context.Context) (string, error) {
	val, err := s.client.Get(ctx, s.key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (s *RedisKeyStore) Set(ctx context.Context, key string) error {
	return s.client.Set(ctx, s.key, key, s.ttl).Err()
}

func (s *RedisKeyStore) Invalidate(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}

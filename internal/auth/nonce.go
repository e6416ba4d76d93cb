package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrChallengeNotFound is returned when no live challenge exists for an address.
var ErrChallengeNotFound = errors.New("challenge expired or not found")

const noncePrefix = "auth:nonce:v1:"

// NonceStore keeps one outstanding sign-in nonce per address.
type NonceStore interface {
	Put(ctx context.Context, address, nonce string, ttl time.Duration) error
	// Take returns and deletes the nonce so it cannot be replayed.
	Take(ctx context.Context, address string) (string, error)
}

// RedisNonceStore keeps nonces in Redis with a TTL.
type RedisNonceStore struct {
	cache *redis.Client
}

// NewRedisNonceStore builds a Redis-backed nonce store.
func NewRedisNonceStore(cache *redis.Client) *RedisNonceStore {
	return &RedisNonceStore{cache: cache}
}

func (s *RedisNonceStore) Put(ctx context.Context, address, nonce string, ttl time.Duration) error {
	return s.cache.Set(ctx, noncePrefix+strings.ToLower(address), nonce, ttl).Err()
}

func (s *RedisNonceStore) Take(ctx context.Context, address string) (string, error) {
	nonce, err := s.cache.GetDel(ctx, noncePrefix+strings.ToLower(address)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrChallengeNotFound
	}
	return nonce, err
}

type memoryNonce struct {
	value     string
	expiresAt time.Time
}

// MemoryNonceStore is the development fallback when Redis is not configured.
type MemoryNonceStore struct {
	mu     sync.Mutex
	nonces map[string]memoryNonce
	now    func() time.Time
}

// NewMemoryNonceStore builds an in-process nonce store.
func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{nonces: make(map[string]memoryNonce), now: time.Now}
}

func (s *MemoryNonceStore) Put(_ context.Context, address, nonce string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonces[strings.ToLower(address)] = memoryNonce{value: nonce, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryNonceStore) Take(_ context.Context, address string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(address)
	n, ok := s.nonces[key]
	delete(s.nonces, key)
	if !ok || !s.now().Before(n.expiresAt) {
		return "", ErrChallengeNotFound
	}
	return n.value, nil
}

package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// ChatCooldown is the minimum gap between two chat messages of a player.
const ChatCooldown = time.Second

// MemoryLimiter allows one event per key per window within one process.
type MemoryLimiter struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	last   map[string]time.Time
}

func NewMemoryLimiter(window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{window: window, now: time.Now, last: map[string]time.Time{}}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if t, ok := l.last[key]; ok && now.Sub(t) < l.window {
		return false, nil
	}
	l.last[key] = now

	// prune stale keys so the map does not grow with every player ever seen
	if len(l.last) > 1024 {
		for k, t := range l.last {
			if now.Sub(t) >= l.window {
				delete(l.last, k)
			}
		}
	}
	return true, nil
}

// RedisLimiter shares the cooldown across server instances. The first
// SET NX in a window wins; the key expires with the window.
type RedisLimiter struct {
	client *redis.Client
	window time.Duration
	prefix string
}

func NewRedisLimiter(client *redis.Client, window time.Duration) *RedisLimiter {
	if client == nil {
		panic("redis client cannot be nil for RedisLimiter")
	}
	return &RedisLimiter{client: client, window: window, prefix: "ratelimit:"}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.prefix+key, 1, l.window).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// NewRedisClient connects to addr and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		PoolSize:     20,
		MinIdleConns: 5,
		MaxConnAge:   30 * time.Minute,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

package authstate

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayGuard records consumed tokens until they would have expired anyway.
// Consume reports false when the token was already consumed.
type ReplayGuard interface {
	Consume(ctx context.Context, st State) (bool, error)
}

type MemoryReplayGuard struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

func NewMemoryReplayGuard(now func() time.Time) *MemoryReplayGuard {
	if now == nil {
		now = time.Now
	}
	return &MemoryReplayGuard{
		seen: make(map[string]time.Time),
		now:  now,
	}
}

func (g *MemoryReplayGuard) Consume(_ context.Context, st State) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for id, expiresAt := range g.seen {
		if !expiresAt.After(now) {
			delete(g.seen, id)
		}
	}

	if _, ok := g.seen[st.ID]; ok {
		return false, nil
	}
	g.seen[st.ID] = st.ExpiresAt
	return true, nil
}

// Len returns the number of tracked tokens.
func (g *MemoryReplayGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

const redisKeyPrefix = "open-gamma:auth-state:consumed:"

// RedisReplayGuard shares consumed markers between replicas.
type RedisReplayGuard struct {
	client redis.Cmdable
	now    func() time.Time
}

func NewRedisReplayGuard(client redis.Cmdable) *RedisReplayGuard {
	return &RedisReplayGuard{client: client, now: time.Now}
}

func (g *RedisReplayGuard) Consume(ctx context.Context, st State) (bool, error) {
	ttl := st.ExpiresAt.Sub(g.now())
	if ttl <= 0 {
		return false, nil
	}
	return g.client.SetNX(ctx, redisKeyPrefix+st.ID, 1, ttl).Result()
}

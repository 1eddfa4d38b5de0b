package anchoring

import (
	"context"
	"sync"
	"time"

	"github.com/JaimeStill/herbtrace/pkg/cache"
)

// Guard hands out at most one anchoring claim per business event id.
type Guard interface {
	Claim(ctx context.Context, eventID string) (bool, error)
}

// MemoryGuard tracks claims for the life of the process.
type MemoryGuard struct {
	claimed sync.Map
}

// NewMemoryGuard returns an empty in-process guard.
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{}
}

func (g *MemoryGuard) Claim(_ context.Context, eventID string) (bool, error) {
	_, loaded := g.claimed.LoadOrStore(eventID, struct{}{})
	return !loaded, nil
}

// RedisGuard shares claims across service replicas with SET NX.
type RedisGuard struct {
	cache cache.System
	ttl   time.Duration
}

// NewRedisGuard claims keys under the cache prefix for ttl.
func NewRedisGuard(c cache.System, ttl time.Duration) *RedisGuard {
	return &RedisGuard{cache: c, ttl: ttl}
}

func (g *RedisGuard) Claim(ctx context.Context, eventID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cache.Timeout())
	defer cancel()

	return g.cache.Client().SetNX(ctx, g.cache.Key("anchor", eventID), time.Now().UTC().Format(time.RFC3339), g.ttl).Result()
}

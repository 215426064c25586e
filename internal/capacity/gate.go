package capacity

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"roomno4/internal/logger"
)

const (
	cacheKey = "capacity:count"
	cacheTTL = 5 * time.Second
)

// CountFunc reports how many rows of one inventory-consuming kind exist.
type CountFunc func(ctx context.Context) (int, error)

// Gate enforces the fixed inventory ceiling. The count it checks is the sum
// of signups and issued tickets. The check is a plain read, not atomic with
// issuance; concurrent last-slot purchases can slightly oversell, which is
// an accepted approximation of this system.
type Gate struct {
	limit    int
	counters []CountFunc
	cache    *redis.Client // nil disables caching
	logger   *logger.Logger
}

func NewGate(limit int, cache *redis.Client, log *logger.Logger, counters ...CountFunc) *Gate {
	return &Gate{
		limit:    limit,
		counters: counters,
		cache:    cache,
		logger:   log,
	}
}

// Limit returns the configured ceiling without touching the counters.
func (g *Gate) Limit() int {
	return g.limit
}

// Status re-reads the committed inventory count and compares it against the
// limit.
func (g *Gate) Status(ctx context.Context) (count, limit int, soldOut bool, err error) {
	count, err = g.count(ctx)
	if err != nil {
		return 0, g.limit, false, err
	}
	return count, g.limit, count >= g.limit, nil
}

func (g *Gate) count(ctx context.Context) (int, error) {
	if g.cache != nil {
		if cached, err := g.cache.Get(ctx, cacheKey).Result(); err == nil {
			if n, err := strconv.Atoi(cached); err == nil {
				return n, nil
			}
		}
	}

	total := 0
	for _, c := range g.counters {
		n, err := c(ctx)
		if err != nil {
			return 0, err
		}
		total += n
	}

	if g.cache != nil {
		if err := g.cache.Set(ctx, cacheKey, strconv.Itoa(total), cacheTTL).Err(); err != nil {
			g.logger.Warn("CAPACITY", fmt.Sprintf("Failed to cache count: %v", err))
		}
	}
	return total, nil
}

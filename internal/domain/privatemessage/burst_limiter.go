package privatemessage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const burstKeyPrefix = "ratelimit:pm:"

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// BurstLimiter caps how many messages a user may send per window regardless of replies.
// Counters live in Redis so every instance shares them; without Redis, or when Redis fails,
// a per-user token bucket in this process is used instead.
type BurstLimiter struct {
	redis  *redis.Client
	limit  int
	window time.Duration

	mu       sync.Mutex
	visitors map[uuid.UUID]*visitor
	ttl      time.Duration

	onDenied func(userID uuid.UUID)
}

// BurstOption configures a BurstLimiter
type BurstOption func(*BurstLimiter)

// WithOnDenied sets a callback invoked for every denied send
func WithOnDenied(fn func(userID uuid.UUID)) BurstOption {
	return func(l *BurstLimiter) {
		l.onDenied = fn
	}
}

// NewBurstLimiter creates a limiter allowing limit sends per window.
// The eviction goroutine stops when ctx is cancelled.
func NewBurstLimiter(ctx context.Context, redisClient *redis.Client, limit int, window time.Duration, opts ...BurstOption) *BurstLimiter {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	l := &BurstLimiter{
		redis:    redisClient,
		limit:    limit,
		window:   window,
		visitors: make(map[uuid.UUID]*visitor),
		ttl:      window * 3,
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.cleanup(ctx)
	return l
}

// Allow records one send attempt for userID and reports whether it fits in the window
func (l *BurstLimiter) Allow(ctx context.Context, userID uuid.UUID) bool {
	var allowed bool
	if l.redis == nil {
		allowed = l.allowLocal(userID)
	} else {
		var err error
		allowed, err = l.allowRedis(ctx, userID)
		if err != nil {
			log.Warn().Err(err).Str("user_id", userID.String()).Msg("Burst limiter falling back to local counters")
			allowed = l.allowLocal(userID)
		}
	}
	if !allowed && l.onDenied != nil {
		l.onDenied(userID)
	}
	return allowed
}

func (l *BurstLimiter) allowRedis(ctx context.Context, userID uuid.UUID) (bool, error) {
	key := burstKeyPrefix + userID.String()

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		ttl = pipe.TTL(ctx, key)
		return nil
	})
	if err != nil {
		return false, err
	}

	// re-arm the window whenever the key has no expiry
	if ttl.Val() < 0 {
		if err := l.redis.Expire(ctx, key, l.window).Err(); err != nil {
			return false, err
		}
	}
	return incr.Val() <= int64(l.limit), nil
}

func (l *BurstLimiter) allowLocal(userID uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.visitors[userID]
	if !ok {
		every := l.window / time.Duration(l.limit)
		v = &visitor{limiter: rate.NewLimiter(rate.Every(every), l.limit)}
		l.visitors[userID] = v
	}
	v.lastSeen = time.Now()
	return v.limiter.Allow()
}

func (l *BurstLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.evictIdle(time.Now())
		}
	}
}

func (l *BurstLimiter) evictIdle(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.ttl {
			delete(l.visitors, id)
		}
	}
}

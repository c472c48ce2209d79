package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// PrecheckConfig controls the Redis fast-path's TTL.
type PrecheckConfig struct {
	// TTL default:"5s" bounds how long a pre-check hint survives without a
	// matching Release; it exists purely to skip an obviously-busy loader
	// before paying for a Postgres round trip, so it can be short and lossy.
	TTL time.Duration `env:"LOCK_PRECHECK_TTL" default:"5s"`
}

// Precheck is a best-effort, non-authoritative mutual-exclusion hint backed
// by Redis SETNX. The Distributed Lock Manager's Postgres row remains the
// only source of truth; a false negative here just costs an extra
// TryAcquire call that returns ErrBusy, never a correctness violation.
type Precheck struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewPrecheck builds a Precheck. redisClient may be nil, in which case
// every call reports the loader as free and the scheduler falls straight
// through to the authoritative lock.
func NewPrecheck(redisClient *redis.Client, cfg PrecheckConfig, logger *slog.Logger) *Precheck {
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Precheck{redis: redisClient, ttl: ttl, logger: logger}
}

// TryMark attempts to claim the fast-path hint for loaderCode, returning the
// token to present to Clear on release. ok is false only when the hint is
// already held (skip this loader this tick); ok is true with an empty token
// when no Redis client is configured or Redis returns an error (proceed to
// the authoritative lock).
func (p *Precheck) TryMark(ctx context.Context, loaderCode string) (token string, ok bool, err error) {
	if p.redis == nil {
		return "", true, nil
	}

	token = generateToken()
	key := precheckKey(loaderCode)

	set, err := p.redis.SetNX(ctx, key, token, p.ttl).Result()
	if err != nil {
		p.logger.Warn("lock precheck unavailable, proceeding to authoritative lock", "loaderCode", loaderCode, "error", err)
		return "", true, nil
	}
	return token, set, nil
}

// Clear releases the fast-path hint, verifying ownership via the token so
// an expired-then-reacquired hint belonging to another replica isn't
// clobbered.
func (p *Precheck) Clear(ctx context.Context, loaderCode, token string) {
	if p.redis == nil || token == "" {
		return
	}

	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`
	if _, err := p.redis.Eval(ctx, script, []string{precheckKey(loaderCode)}, token).Result(); err != nil {
		p.logger.Warn("lock precheck clear failed", "loaderCode", loaderCode, "error", err)
	}
}

func precheckKey(loaderCode string) string {
	return "lock:precheck:" + loaderCode
}

func generateToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("precheck_%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

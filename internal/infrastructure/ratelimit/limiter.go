package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// INCR 与首次 PEXPIRE 在同一脚本内执行，避免 key 没有过期时间
var incrScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {n, redis.call("PTTL", KEYS[1])}
`)

type Result struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetIn   time.Duration
}

// Limiter Redis 固定窗口计数器，max <= 0 表示不限流
type Limiter struct {
	client *redis.Client
	prefix string
	max    int64
	window time.Duration
}

func NewLimiter(client *redis.Client, prefix string, max int64, window time.Duration) *Limiter {
	return &Limiter{
		client: client,
		prefix: prefix,
		max:    max,
		window: window,
	}
}

func (l *Limiter) Allow(ctx context.Context, key string) (*Result, error) {
	if l.max <= 0 {
		return &Result{Allowed: true}, nil
	}

	vals, err := incrScript.Run(ctx, l.client, []string{l.key(key)}, l.window.Milliseconds()).Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit counter: %w", err)
	}
	if len(vals) != 2 {
		return nil, fmt.Errorf("rate limit counter: unexpected reply %v", vals)
	}

	count, _ := vals[0].(int64)
	ttl, _ := vals[1].(int64)
	remaining := l.max - count
	if remaining < 0 {
		remaining = 0
	}
	return &Result{
		Allowed:   count <= l.max,
		Limit:     l.max,
		Remaining: remaining,
		ResetIn:   time.Duration(ttl) * time.Millisecond,
	}, nil
}

func (l *Limiter) key(key string) string {
	return fmt.Sprintf("%s:%s", l.prefix, key)
}

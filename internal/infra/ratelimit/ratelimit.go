// Package ratelimit implements the reconnect-attempt rate limiter
// (50/hour per session key) and the "sent by API" egress dedup set,
// both as Redis counters, generalized from
// mt21625457-aicodex2api/backend/internal/repository/rpm_cache.go's
// per-minute INCR+EXPIRE bucket shape to a 60-bucket rolling hour.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Limiter struct {
	rdb    *redis.Client
	prefix string
}

func New(rdb *redis.Client, prefix string) *Limiter {
	return &Limiter{rdb: rdb, prefix: prefix}
}

// AllowReconnect increments the rolling-hour reconnect counter for
// sessionKey and reports whether it is still under limit.
func (l *Limiter) AllowReconnect(ctx context.Context, sessionKey string, limit int) (bool, error) {
	now, err := l.rdb.Time(ctx).Result()
	if err != nil {
		now = time.Now()
	}
	bucket := now.Unix() / 60
	key := fmt.Sprintf("%s:reconnect:%s:%d", l.prefix, sessionKey, bucket)

	pipe := l.rdb.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("increment reconnect bucket: %w", err)
	}

	total, err := l.sumLastHour(ctx, sessionKey, now)
	if err != nil {
		return false, err
	}
	return total <= int64(limit), nil
}

func (l *Limiter) sumLastHour(ctx context.Context, sessionKey string, now time.Time) (int64, error) {
	currentBucket := now.Unix() / 60
	pipe := l.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, 0, 60)
	for i := int64(0); i < 60; i++ {
		key := fmt.Sprintf("%s:reconnect:%s:%d", l.prefix, sessionKey, currentBucket-i)
		cmds = append(cmds, pipe.Get(ctx, key))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, fmt.Errorf("read reconnect buckets: %w", err)
	}

	var total int64
	for _, cmd := range cmds {
		v, err := cmd.Int64()
		if err == nil {
			total += v
		}
	}
	return total, nil
}

// MarkSentByAPI records that an outbound message with id was sent via
// this runtime, so the egress dedup window (5 min) can suppress a
// duplicate echo arriving back over the protocol socket.
func (l *Limiter) MarkSentByAPI(ctx context.Context, messageID string) error {
	key := fmt.Sprintf("%s:sent:%s", l.prefix, messageID)
	return l.rdb.Set(ctx, key, 1, 5*time.Minute).Err()
}

func (l *Limiter) WasSentByAPI(ctx context.Context, messageID string) (bool, error) {
	key := fmt.Sprintf("%s:sent:%s", l.prefix, messageID)
	n, err := l.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("check sent-by-api dedup: %w", err)
	}
	return n > 0, nil
}

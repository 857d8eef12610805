package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deduper guards side effects that must happen at most once per
// (scope, user, message) within a TTL.
type Deduper struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

func NewDeduper(rdb redis.Cmdable, ttl time.Duration) *Deduper {
	return NewDeduperWithLogger(rdb, ttl, zap.NewNop())
}

func NewDeduperWithLogger(rdb redis.Cmdable, ttl time.Duration, logger *zap.Logger) *Deduper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduper{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

func dedupKey(scope, userID, messageID string) string {
	return fmt.Sprintf("dedup:%s:%s:%s", scope, userID, messageID)
}

// AcquireOnce returns true the first time a key is seen and false for
// duplicates. When Redis is unavailable the work is allowed through.
func (d *Deduper) AcquireOnce(ctx context.Context, scope, userID, messageID string) bool {
	key := dedupKey(scope, userID, messageID)

	ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		d.logger.Warn("Redis dedup check failed, allowing processing",
			zap.String("scope", scope),
			zap.String("message_id", messageID),
			zap.Error(err),
		)
		return true
	}

	if !ok {
		d.logger.Info("Skipped duplicated side effect",
			zap.String("scope", scope),
			zap.String("message_id", messageID),
			zap.String("dedup_key", key),
		)
	}

	return ok
}

// Release drops a key so a failed attempt can be retried later.
func (d *Deduper) Release(ctx context.Context, scope, userID, messageID string) {
	if err := d.rdb.Del(ctx, dedupKey(scope, userID, messageID)).Err(); err != nil {
		d.logger.Warn("Redis dedup release failed",
			zap.String("scope", scope),
			zap.String("message_id", messageID),
			zap.Error(err),
		)
	}
}

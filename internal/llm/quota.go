package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const quotaKeyPrefix = "cvsync:llm:quota:"

type redisCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// Quota 用 Redis 计数器限制每日 LLM 调用次数。
type Quota struct {
	client redisCounter
	limit  int64
	now    func() time.Time
	logger *slog.Logger
}

// NewQuota 创建配额；limit <= 0 时返回 nil，表示不限制。
func NewQuota(client redisCounter, limit int64, logger *slog.Logger) *Quota {
	if client == nil || limit <= 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Quota{client: client, limit: limit, now: time.Now, logger: logger}
}

// Allow 消耗一次配额；Redis 不可用时放行。
func (q *Quota) Allow(ctx context.Context) bool {
	if q == nil {
		return true
	}
	day := q.now().UTC().Format("20060102")
	count, err := incrWithTTL(ctx, q.client, quotaKeyPrefix+day, 25*time.Hour)
	if err != nil {
		q.logger.Warn("llm quota check failed", slog.Any("error", err))
		return true
	}
	return count <= q.limit
}

func incrWithTTL(ctx context.Context, client redisCounter, key string, ttl time.Duration) (int64, error) {
	count, err := client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	if count == 1 {
		_ = client.Expire(ctx, key, ttl).Err()
	}
	return count, nil
}

package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DedupeCache 是摄取管线前置的"最近见过"缓存。
//
// 记录存储才是去重的权威来源；缓存只用来在重投递风暴下省掉一次
// 数据库点查，未命中或 Redis 故障时一律回落到记录存储。
type DedupeCache struct {
	client *Client
	ttl    time.Duration
}

// NewDedupeCache 创建去重缓存。ttl 通常与记录保留期一致。
func NewDedupeCache(client *Client, ttl time.Duration) *DedupeCache {
	return &DedupeCache{client: client, ttl: ttl}
}

func dedupeKey(messageID string) string {
	return "mailecho:seen:" + messageID
}

// Seen 查询 messageID 是否已被摄取过。
func (c *DedupeCache) Seen(ctx context.Context, messageID string) (bool, error) {
	n, err := c.client.rdb.Exists(ctx, dedupeKey(messageID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkSeen 记录 messageID 已摄取。
func (c *DedupeCache) MarkSeen(ctx context.Context, messageID string) error {
	return c.client.rdb.Set(ctx, dedupeKey(messageID), 1, c.ttl).Err()
}

// RateLimiter 基于 Redis 的固定窗口限流，用于 Telegram webhook 的
// 单聊天维度限流。
type RateLimiter struct {
	client *Client
}

// NewRateLimiter 创建限流器。
func NewRateLimiter(client *Client) *RateLimiter {
	return &RateLimiter{client: client}
}

// Increment 递增 key 在当前窗口内的计数并返回计数值。
// 第一次递增时设置窗口过期时间。
func (r *RateLimiter) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	redisKey := fmt.Sprintf("mailecho:rate:%s", key)

	pipe := r.client.rdb.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, window)
	if _, err := pipe.Exec(ctx); err != nil && err != goredis.Nil {
		return 0, err
	}
	return incr.Val(), nil
}

package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"Melodex/logger"
	"Melodex/model"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
)

const (
	versionKey = "recommend:version"
	opTimeout  = 2 * time.Second
	defaultTTL = 10 * time.Minute
)

// RecommendCache 推荐结果的 Redis 缓存
// key 为 recommend:v<语料版本>:<songId>，歌曲增删改时 INCR 版本号，不需要逐个删除旧 key
type RecommendCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRecommendCache 创建推荐缓存
func NewRecommendCache(client *redis.Client, ttl time.Duration) *RecommendCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RecommendCache{client: client, ttl: ttl}
}

// ResultKey 推荐结果的缓存 key
func ResultKey(version int64, songID string) string {
	return fmt.Sprintf("recommend:v%d:%s", version, songID)
}

// Version 当前语料版本，从未失效过时为 0
func (c *RecommendCache) Version(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	v, err := c.client.Get(ctx, versionKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get corpus version: %w", err)
	}
	return v, nil
}

// Get 读取缓存，未命中返回 false
func (c *RecommendCache) Get(ctx context.Context, version int64, songID string) ([]model.Scored, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	key := ResultKey(version, songID)
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}

	var results []model.Scored
	if err := json.Unmarshal(data, &results); err != nil {
		// 格式不对的缓存当作未命中
		logger.Warn("推荐缓存内容无法解析", logger.String("key", key), logger.ErrorField(err))
		return nil, false, nil
	}
	return results, true, nil
}

// Set 写入缓存
func (c *RecommendCache) Set(ctx context.Context, version int64, songID string, results []model.Scored) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if results == nil {
		results = []model.Scored{}
	}
	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal recommendations: %w", err)
	}
	key := ResultKey(version, songID)
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	logger.Debug("推荐缓存已写入",
		logger.String("key", key),
		logger.Int("results", len(results)),
		logger.Duration("ttl", c.ttl))
	return nil
}

// Invalidate 递增语料版本，使所有已缓存的推荐失效
func (c *RecommendCache) Invalidate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	v, err := c.client.Incr(ctx, versionKey).Result()
	if err != nil {
		return fmt.Errorf("bump corpus version: %w", err)
	}
	logger.Debug("推荐缓存版本递增", logger.Int64("version", v))
	return nil
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"stakedao/internal/config"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

var RedisClient *redis.Client

func InitRedis(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}

	RedisClient = client
	zap.L().Info("Redis 连接成功", zap.String("addr", client.Options().Addr))
	return client, nil
}

const platformStatsKey = "staking:stats:platform"

// StatsCache 缓存全平台质押汇总（总人数、总质押、总奖励）
//
// 汇总是对所有账户的聚合查询，读多写少，短 TTL 缓存即可；
// 账本每次变动后主动删除缓存
type StatsCache interface {
	Get(ctx context.Context, dest interface{}) (bool, error)
	Set(ctx context.Context, value interface{}) error
	Invalidate(ctx context.Context) error
}

type RedisStatsCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStatsCache(client *redis.Client, ttl time.Duration) *RedisStatsCache {
	return &RedisStatsCache{client: client, ttl: ttl}
}

func (c *RedisStatsCache) Get(ctx context.Context, dest interface{}) (bool, error) {
	raw, err := c.client.Get(ctx, platformStatsKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisStatsCache) Set(ctx context.Context, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, platformStatsKey, raw, c.ttl).Err()
}

func (c *RedisStatsCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, platformStatsKey).Err()
}

package database

import (
	"context"
	"fmt"
	"pii-audit-go/internal/config"
	"pii-audit-go/pkg/log"
	"time"

	"github.com/go-redis/redis/v8"
)

// RDB 是全局 Redis 客户端。未启用或连接失败时为 nil，所有调用方都按无 Redis 降级处理。
var RDB *redis.Client

// redisPingTimeout 限制启动时连通性检查的耗时。
const redisPingTimeout = 3 * time.Second

// InitRedis 按配置初始化 Redis 客户端。未启用时返回 (nil, nil)；
// 连接失败时关闭客户端并返回错误，RDB 保持为 nil。
func InitRedis(cfg config.RedisConfig) (*redis.Client, error) {
	RDB = nil
	if !cfg.Enabled {
		log.Info("Redis 未启用，保留配置缓存、扫描重试计数与审计分布式锁均已关闭")
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: redisPingTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis %s 失败: %w", cfg.Addr, err)
	}

	RDB = client
	log.Infof("Redis 连接成功, addr: %s, db: %d", cfg.Addr, cfg.DB)
	return client, nil
}

package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"pii-audit-go/internal/model"
	"pii-audit-go/pkg/log"
	"time"

	"github.com/go-redis/redis/v8"
)

const retentionCacheTTL = 10 * time.Minute

// cachedRetentionRepository 在 Redis 中缓存租户保留配置，其余操作直接透传。
// 写入配置时删除缓存键，Redis 故障只降级为直接读库。
type cachedRetentionRepository struct {
	RetentionRepository
	redisClient *redis.Client
}

// NewCachedRetentionRepository 为 RetentionRepository 包装一层 Redis 读缓存。redisClient 为 nil 时原样返回 next。
func NewCachedRetentionRepository(next RetentionRepository, redisClient *redis.Client) RetentionRepository {
	if redisClient == nil {
		return next
	}
	return &cachedRetentionRepository{RetentionRepository: next, redisClient: redisClient}
}

func retentionCacheKey(tenantID string) string {
	return fmt.Sprintf("retention:tenant:%s", tenantID)
}

// GetSetting 先查 Redis，未命中再查库并回填。未配置的租户不缓存。
func (r *cachedRetentionRepository) GetSetting(ctx context.Context, tenantID string) (*model.TenantRetention, error) {
	key := retentionCacheKey(tenantID)
	data, err := r.redisClient.Get(ctx, key).Bytes()
	if err == nil {
		var setting model.TenantRetention
		if jsonErr := json.Unmarshal(data, &setting); jsonErr == nil {
			return &setting, nil
		}
	} else if err != redis.Nil {
		log.Warnw("[RetentionCache] 读取缓存失败，直接查询数据库", "tenantId", tenantID, "error", err)
	}

	setting, err := r.RetentionRepository.GetSetting(ctx, tenantID)
	if err != nil || setting == nil {
		return setting, err
	}
	if payload, jsonErr := json.Marshal(setting); jsonErr == nil {
		if setErr := r.redisClient.Set(ctx, key, payload, retentionCacheTTL).Err(); setErr != nil {
			log.Warnw("[RetentionCache] 写入缓存失败", "tenantId", tenantID, "error", setErr)
		}
	}
	return setting, nil
}

// UpsertSetting 写库成功后使缓存失效。
func (r *cachedRetentionRepository) UpsertSetting(ctx context.Context, setting *model.TenantRetention) error {
	if err := r.RetentionRepository.UpsertSetting(ctx, setting); err != nil {
		return err
	}
	if err := r.redisClient.Del(ctx, retentionCacheKey(setting.TenantID)).Err(); err != nil {
		log.Warnw("[RetentionCache] 删除缓存失败", "tenantId", setting.TenantID, "error", err)
	}
	return nil
}

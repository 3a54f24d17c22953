package service

import (
	"context"
	"pii-audit-go/pkg/log"
	"time"

	"github.com/go-redis/redis/v8"
)

const retentionLockKey = "retention:audit:lock"

// RetentionScheduler 按固定间隔运行保留审计，可通过 ctx 取消。
type RetentionScheduler struct {
	service     RetentionService
	interval    time.Duration
	runOnStart  bool
	redisClient *redis.Client
	now         func() time.Time
}

// NewRetentionScheduler 创建调度器。redisClient 非 nil 时多实例部署下每个周期只有一个实例执行。
func NewRetentionScheduler(svc RetentionService, interval time.Duration, runOnStart bool, redisClient *redis.Client) *RetentionScheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &RetentionScheduler{
		service:     svc,
		interval:    interval,
		runOnStart:  runOnStart,
		redisClient: redisClient,
		now:         time.Now,
	}
}

// Run 阻塞运行直到 ctx 被取消。
func (s *RetentionScheduler) Run(ctx context.Context) {
	log.Infof("[RetentionScheduler] 保留审计调度已启动, 间隔: %s", s.interval)
	if s.runOnStart {
		s.tick(ctx)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("[RetentionScheduler] 保留审计调度已停止")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *RetentionScheduler) tick(ctx context.Context) {
	if !s.acquire(ctx) {
		log.Infof("[RetentionScheduler] 其他实例正在执行本周期审计, 跳过")
		return
	}
	audits, err := s.service.AuditRetention(ctx, s.now())
	if err != nil {
		log.Error("[RetentionScheduler] 保留审计执行失败", err)
		return
	}
	log.Infof("[RetentionScheduler] 保留审计完成, 租户数: %d", len(audits))
}

// acquire 使用 SETNX 获取本周期的执行权，锁在一个间隔的一半后过期。Redis 故障时仍然执行。
func (s *RetentionScheduler) acquire(ctx context.Context) bool {
	if s.redisClient == nil {
		return true
	}
	ok, err := s.redisClient.SetNX(ctx, retentionLockKey, s.now().UTC().Format(time.RFC3339), s.interval/2).Result()
	if err != nil {
		log.Warnw("[RetentionScheduler] 获取分布式锁失败, 本实例继续执行", "error", err)
		return true
	}
	return ok
}

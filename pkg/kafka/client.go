// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"pii-audit-go/internal/config"
	"pii-audit-go/pkg/log"
	"pii-audit-go/pkg/tasks"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
)

// maxAttempts 是同一条扫描任务失败后允许重试的次数，超过后提交 offset 放弃。
const maxAttempts = 3

// TaskProcessor defines the interface for any service that can process a scan task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.PIIScanTask) error
}

var producer *kafka.Writer

// InitProducer 初始化 Kafka 生产者。
func InitProducer(cfg config.KafkaConfig) {
	producer = &kafka.Writer{
		Addr:     kafka.TCP(brokers(cfg)...),
		Topic:    cfg.Topic,
		Balancer: &kafka.Hash{},
	}
	log.Info("Kafka 生产者初始化成功")
}

// CloseProducer 关闭生产者并刷新缓冲中的消息。
func CloseProducer() error {
	if producer == nil {
		return nil
	}
	return producer.Close()
}

func brokers(cfg config.KafkaConfig) []string {
	var out []string
	for _, b := range strings.Split(cfg.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// ProduceScanTask 发送一个 PII 扫描任务到 Kafka。以租户 ID 作为消息 key，保证同一租户内有序。
func ProduceScanTask(ctx context.Context, task tasks.PIIScanTask) error {
	if producer == nil {
		return errors.New("kafka producer is not initialized")
	}
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return producer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.TenantID),
		Value: taskBytes,
	})
}

// Publisher 将扫描任务发布到 Kafka，供服务层以接口形式注入。
type Publisher struct{}

// PublishScanTask 实现服务层的任务发布接口。
func (Publisher) PublishScanTask(ctx context.Context, task tasks.PIIScanTask) error {
	return ProduceScanTask(ctx, task)
}

// StartConsumer 启动一个 Kafka 消费者来处理扫描任务，ctx 取消时退出。
// 失败的任务在当前循环内退避重试，最多 maxAttempts 次后提交 offset 放弃（扫描是尽力而为的）。
// rdb 非 nil 时失败次数同时记录在 Redis 中，进程重启后重新投递的任务会累计此前的次数。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, processor TaskProcessor, rdb *redis.Client) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("Kafka 消费者收到停止信号，退出")
				return
			}
			log.Error("从 Kafka 读取消息失败", err)
			return
		}

		var task tasks.PIIScanTask
		if err := json.Unmarshal(m.Value, &task); err != nil || task.AuditLogID == "" {
			log.Errorf("无法解析 Kafka 消息: %v, offset: %d", err, m.Offset)
			// 消息格式错误，直接提交，避免阻塞队列
			commit(ctx, r, m)
			continue
		}

		if !processWithRetry(ctx, processor, rdb, task, retryBackoff) {
			// 停机中断，不提交 offset，重启后重新投递
			return
		}
		commit(ctx, r, m)
	}
}

// retryBackoff 是第一次重试前的等待时间，之后每次翻倍。
const retryBackoff = 500 * time.Millisecond

// processWithRetry 处理一个任务，失败时退避重试。返回 false 表示 ctx 已取消、任务未完成，
// 调用方不应提交 offset；返回 true 表示任务成功或已达到重试上限。
func processWithRetry(ctx context.Context, processor TaskProcessor, rdb *redis.Client, task tasks.PIIScanTask, backoff time.Duration) bool {
	for attempt := 1; ; attempt++ {
		err := processor.Process(ctx, task)
		if err == nil {
			if rdb != nil {
				_ = rdb.Del(ctx, attemptsKey(task.AuditLogID)).Err()
			}
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		log.Errorw("处理扫描任务失败", "auditLogId", task.AuditLogID, "tenantId", task.TenantID, "attempt", attempt, "error", err)
		if shouldGiveUp(ctx, rdb, task.AuditLogID) || attempt >= maxAttempts {
			log.Errorf("扫描任务多次失败(>=%d)，提交 offset 终止重试: auditLogId=%s", maxAttempts, task.AuditLogID)
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func attemptsKey(auditLogID string) string {
	return fmt.Sprintf("kafka:attempts:%s", auditLogID)
}

// shouldGiveUp 使用 Redis 跨重启计数失败次数，达到阈值后返回 true。Redis 不可用时只依赖本地计数。
func shouldGiveUp(ctx context.Context, rdb *redis.Client, auditLogID string) bool {
	if rdb == nil {
		return false
	}
	key := attemptsKey(auditLogID)
	attempts, err := rdb.Incr(ctx, key).Result()
	if err != nil {
		return false
	}
	_ = rdb.Expire(ctx, key, 24*time.Hour).Err()
	return attempts >= maxAttempts
}

func commit(ctx context.Context, r *kafka.Reader, m kafka.Message) {
	if err := r.CommitMessages(ctx, m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}
